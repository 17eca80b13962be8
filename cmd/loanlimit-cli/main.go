// loanlimit-cli submits loan-limit queries to the gateway and inspects runs
// over its HTTP API.
//
// Usage:
//
//	loanlimit-cli [--api-url URL] [--json] <command> [flags]
//
// Commands:
//
//	submit      Submit a query and optionally watch it finish
//	get         Show a run
//	watch       Stream a run's provider results
//	strategies  List fan-out strategies
//	stats       Show aggregate statistics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roomdoor/fan-out-call/internal/cli"
)

// version is set through ldflags at build time.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "loanlimit-cli",
		Short:         "Loan-limit gateway CLI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewSubmitCmd(clientFn, outputFn),
		cli.NewGetCmd(clientFn, outputFn),
		cli.NewWatchCmd(clientFn, outputFn),
		cli.NewStrategiesCmd(clientFn, outputFn),
		cli.NewStatsCmd(clientFn, outputFn),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
