package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roomdoor/fan-out-call/internal/model"
)

var snapshotHeaders = []string{"NO", "TRANSACTION_ID", "MODE", "STATUS", "SUCCESS", "FAILURE", "ELAPSED", "WITHIN_SLA", "STARTED"}

var resultHeaders = []string{"PROVIDER", "SUCCESS", "HTTP", "CODE", "MESSAGE", "LIMIT", "LATENCY"}

// NewSubmitCmd creates the submit command.
func NewSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		mode   string
		q      model.LoanQuery
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a loan-limit query to every provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			snap, err := client.Submit(cmd.Context(), mode, q)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run submitted: %d (%s)", snap.TransactionNo, snap.TransactionID))
			out.Print(snapshotHeaders, [][]string{snapshotRow(snap)}, snap)

			if follow {
				return watch(cmd, client, out, snap.TransactionNo)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "bounded", "Fan-out strategy (see 'strategies')")
	cmd.Flags().StringVar(&q.BorrowerID, "borrower", "", "Borrower id")
	cmd.Flags().Int64Var(&q.AnnualIncome, "income", 0, "Annual income")
	cmd.Flags().Int64Var(&q.RequestedAmount, "amount", 0, "Requested loan amount")
	cmd.Flags().BoolVar(&follow, "watch", false, "Stream results until the run finishes")
	cmd.MarkFlagRequired("borrower")

	return cmd
}

// NewGetCmd creates the get command.
func NewGetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var borrowerID string

	cmd := &cobra.Command{
		Use:   "get TRANSACTION",
		Short: "Show a run by transaction number or transaction id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			snap, err := client.GetRun(cmd.Context(), args[0], borrowerID)
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(snap)
				return nil
			}
			out.Table(snapshotHeaders, [][]string{snapshotRow(snap)})
			if snap.FailureReason != "" {
				out.Success("Failure reason: " + snap.FailureReason)
			}
			if len(snap.Results) > 0 {
				fmt.Fprintln(out.w)
				rows := make([][]string, len(snap.Results))
				for i, r := range snap.Results {
					rows[i] = resultRow(r)
				}
				out.Table(resultHeaders, rows)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&borrowerID, "borrower", "", "Borrower id sent as "+headerBorrowerID)
	cmd.MarkFlagRequired("borrower")

	return cmd
}

// NewWatchCmd creates the watch command.
func NewWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch TRANSACTION_NO",
		Short: "Stream provider results of a run as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			no, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid transaction number %q", args[0])
			}
			return watch(cmd, clientFn(), outputFn(), no)
		},
	}
}

func watch(cmd *cobra.Command, client *Client, out *Output, no int64) error {
	return client.Watch(cmd.Context(), no, func(ev Event) error {
		switch ev.Name {
		case "result":
			var r model.ResultView
			if err := json.Unmarshal([]byte(ev.Data), &r); err != nil {
				return fmt.Errorf("decode result event: %w", err)
			}
			if out.JSONMode() {
				out.JSON(r)
				return nil
			}
			out.Table(resultHeaders, [][]string{resultRow(r)})
		case "finalized":
			var snap model.RunSnapshot
			if err := json.Unmarshal([]byte(ev.Data), &snap); err != nil {
				return fmt.Errorf("decode finalized event: %w", err)
			}
			out.Success(fmt.Sprintf("Run %d finished: %s", snap.TransactionNo, snap.Status))
			out.Print(snapshotHeaders, [][]string{snapshotRow(&snap)}, &snap)
		}
		return nil
	})
}

func snapshotRow(s *model.RunSnapshot) []string {
	return []string{
		strconv.FormatInt(s.TransactionNo, 10),
		s.TransactionID,
		s.Mode,
		string(s.Status),
		strconv.Itoa(s.SuccessCount),
		strconv.Itoa(s.FailureCount),
		(time.Duration(s.ElapsedMs) * time.Millisecond).String(),
		strconv.FormatBool(s.CompletedWithinSLA),
		humanize.Time(s.StartedAt),
	}
}

func resultRow(r model.ResultView) []string {
	httpStatus, limit := "-", "-"
	if r.HTTPStatus != nil {
		httpStatus = strconv.Itoa(*r.HTTPStatus)
	}
	if r.ApprovedLimit != nil {
		limit = humanize.Comma(*r.ApprovedLimit)
	}
	return []string{
		r.ProviderCode,
		strconv.FormatBool(r.Success),
		httpStatus,
		r.ResponseCode,
		r.ResponseMessage,
		limit,
		fmt.Sprintf("%dms", r.LatencyMs),
	}
}
