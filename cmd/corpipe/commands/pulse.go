package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/corpipe/sym"
)

// PulseCmd represents the pulse command
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Manage the Pulse worker pool",
	Long: sym.Pulse + ` Pulse executes queued pipeline jobs.

Runs submitted with --wait=false, and runs from processes that exit before
their jobs finish, are picked up by a Pulse worker pool sharing the same
database. Jobs interrupted by a crash are requeued when a pool starts.

Example:
  corpipe pulse start              # Start workers in foreground
  corpipe pulse start --workers 3  # Start with 3 concurrent workers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts a foreground worker pool
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a worker pool",
	Long: `Start a worker pool in foreground mode.

The pool requeues orphaned jobs, then executes queued jobs until
interrupted (Ctrl+C), letting running jobs finish on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		workers := rt.cfg.Pulse.Workers
		if cmd.Flags().Changed("workers") {
			workers, _ = cmd.Flags().GetInt("workers")
		}
		if workers < 1 {
			workers = 1
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Starting Pulse with %d worker(s)...\n", sym.Pulse, workers)

		pool := rt.newWorkerPool(ctx, workers, true)
		pool.Start()

		poolCfg := rt.cfg.Pulse
		fmt.Fprintf(out, "%s Pulse started\n", sym.Pulse)
		fmt.Fprintf(out, "  Workers: %d\n", pool.Workers())
		fmt.Fprintf(out, "  Poll interval: %dms\n", poolCfg.PollIntervalMS)
		if poolCfg.MaxJobsPerMinute > 0 {
			fmt.Fprintf(out, "  Rate limit: %d jobs/minute\n", poolCfg.MaxJobsPerMinute)
		}
		fmt.Fprintf(out, "  Stages: %d registered\n", len(rt.registry.Names()))
		metrics := pool.GetSystemMetrics()
		if metrics.MemoryTotalGB > 0 {
			fmt.Fprintf(out, "  Memory: %.1f/%.1fGB (%.0f%%)\n", metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent)
		}
		fmt.Fprintf(out, "  Queued jobs: %d\n", metrics.JobsQueued)
		fmt.Fprintf(out, "\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

		<-ctx.Done()

		fmt.Fprintf(out, "\n%s Shutting down...\n", sym.Pulse)
		pool.Stop()
		fmt.Fprintf(out, "%s Pulse stopped after %d job(s)\n", sym.Pulse, pool.JobsProcessed())
		return nil
	},
}

func init() {
	PulseStartCmd.Flags().Int("workers", 1, "Number of concurrent workers (default pulse.workers)")
	PulseCmd.AddCommand(PulseStartCmd)
}
