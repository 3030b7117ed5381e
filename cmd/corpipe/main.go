package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/corpipe/am"
	"github.com/teranos/corpipe/cmd/corpipe/commands"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/observability"
)

var shutdownTracing observability.ShutdownFunc

var rootCmd = &cobra.Command{
	Use:   "corpipe",
	Short: "corpipe - staged annotation pipelines with per-stage memoization",
	Long: `corpipe - staged annotation pipelines with per-stage memoization.

corpipe runs chains of annotation stages over documents and stores the
result of every chain prefix it computes, so repeated and extended chains
only compute what is missing.

Available commands:
  run     - Run a stage chain over one document or ad-hoc text
  batch   - Run a stage chain over a collection
  results - List stored results
  docs    - Manage source documents
  jobs    - Inspect pipeline jobs
  pulse   - Manage the Pulse worker pool
  stages  - List available stages
  am      - Manage corpipe configuration

Examples:
  corpipe docs add 42 --input-file article.txt
  corpipe run --id 42 tokenize lowercase
  corpipe batch tokenize frequency:top=10
  corpipe pulse start`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logJSON, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(logJSON, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}

		shutdownTracing = nil
		cfg, err := am.Load()
		if err != nil {
			// Reported by the command that needs the configuration
			return nil
		}
		shutdownTracing, err = observability.InitTracing(cmd.Context(), cfg.Tracing, os.Stderr, logger.Logger)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Output results as JSON")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.BatchCmd)
	rootCmd.AddCommand(commands.ResultsCmd)
	rootCmd.AddCommand(commands.DocsCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.StagesCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	// Flush spans and logs whether or not the command succeeded
	if shutdownTracing != nil {
		if serr := shutdownTracing(context.Background()); serr != nil {
			fmt.Fprintln(os.Stderr, "tracing shutdown:", serr)
		}
	}
	logger.Cleanup()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
