package cli

import (
	"maps"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewStrategiesCmd creates the strategies command.
func NewStrategiesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List fan-out strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			strategies, err := clientFn().ListStrategies(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, len(strategies))
			for i, s := range strategies {
				rows[i] = []string{s.Mode, s.Description}
			}
			outputFn().Print([]string{"MODE", "DESCRIPTION"}, rows, strategies)
			return nil
		},
	}
}

// NewStatsCmd creates the stats command.
func NewStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate run statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().Stats(cmd.Context())
			if err != nil {
				return err
			}

			rows := [][]string{
				{"runs", humanize.Comma(int64(stats.Total))},
				{"avg elapsed (ms)", humanize.CommafWithDigits(stats.AvgElapsedMS, 1)},
				{"provider calls", humanize.Comma(int64(stats.ProviderCalls))},
				{"provider success", humanize.FtoaWithDigits(stats.ProviderSuccessRatio*100, 1) + "%"},
			}
			for _, status := range slices.Sorted(maps.Keys(stats.ByStatus)) {
				rows = append(rows, []string{"status " + status, strconv.Itoa(stats.ByStatus[status])})
			}
			for _, mode := range slices.Sorted(maps.Keys(stats.ByMode)) {
				rows = append(rows, []string{"mode " + mode, strconv.Itoa(stats.ByMode[mode])})
			}

			outputFn().Print([]string{"METRIC", "VALUE"}, rows, stats)
			return nil
		},
	}
}
