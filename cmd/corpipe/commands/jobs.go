package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/corpipe/display"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
	"github.com/teranos/corpipe/pulse/async"
	"github.com/teranos/corpipe/sym"
)

// JobsCmd inspects queued pipeline jobs
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " Inspect pipeline jobs",
	Long: sym.Pulse + ` Inspect the jobs submitted by non-blocking runs.

Examples:
  corpipe jobs ls --status queued
  corpipe jobs status JB7xK2
  corpipe jobs wait JB7xK2 --timeout 5m
  corpipe jobs cancel JB7xK2
  corpipe jobs cleanup --older-than 168h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	RunE:  runJobsLs,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job and its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsWaitCmd = &cobra.Command{
	Use:   "wait <job-id>",
	Short: "Wait for a job to finish and print its result",
	Long:  "Wait for a job to finish. The job is executed by a running 'corpipe pulse start'.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsWait,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that has not finished",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count jobs by status",
	RunE:  runJobsStats,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs older than --older-than",
	RunE:  runJobsCleanup,
}

var (
	jobsStatus       string
	jobsLimit        int
	jobsRunID        string
	jobsTimeout      time.Duration
	jobsCancelReason string
	jobsOlderThan    time.Duration
)

func init() {
	jobsLsCmd.Flags().StringVar(&jobsStatus, "status", "", "Only jobs in this status (queued, running, completed, failed, cancelled)")
	jobsLsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "Maximum number of jobs")
	jobsLsCmd.Flags().StringVar(&jobsRunID, "run", "", "Only jobs submitted by this run")
	jobsWaitCmd.Flags().DurationVar(&jobsTimeout, "timeout", 0, "Give up after this long (0 = no limit)")
	jobsCancelCmd.Flags().StringVar(&jobsCancelReason, "reason", "cancelled from the command line", "Reason recorded on the job")
	jobsCleanupCmd.Flags().DurationVar(&jobsOlderThan, "older-than", 7*24*time.Hour, "Age of the finished jobs to delete")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsWaitCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsStatsCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	jobs, err := listJobs(rt.queue, jobsStatus, jobsRunID, jobsLimit)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), jobs)
	}
	table, err := display.JobsTable(jobs)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), table)
	return nil
}

func listJobs(queue *async.Queue, status, runID string, limit int) ([]*async.Job, error) {
	if runID != "" {
		return queue.ListJobsByRun(runID)
	}
	if status == "" {
		return queue.ListJobs(nil, limit)
	}
	if !async.IsValidStatus(status) {
		return nil, errors.NewConfigurationError("unknown job status %q", status)
	}
	s := async.JobStatus(status)
	return queue.ListJobs(&s, limit)
}

// jobView is a job with its decoded pipeline result
type jobView struct {
	Job    *async.Job           `json:"job"`
	Result *pipeline.StepResult `json:"result,omitempty"`
}

func viewJob(job *async.Job) jobView {
	v := jobView{Job: job}
	if result, done := pipeline.ResultFromJob(job); done {
		v.Result = &result
	}
	return v
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	job, err := rt.queue.GetJob(args[0])
	if err != nil {
		return err
	}
	return display.WriteJSON(cmd.OutOrStdout(), viewJob(job))
}

func runJobsWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if jobsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, jobsTimeout)
		defer cancel()
	}

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.queue.GetJob(args[0]); err != nil {
		return err
	}
	executor := pipeline.NewQueueExecutor(rt.queue, rt.cfg.Pipeline.PollInterval(), rt.logger)
	result, err := executor.Handle(args[0]).Wait(ctx)
	if err != nil {
		return errors.Wrapf(err, "waiting for job %s", args[0])
	}

	if err := display.WriteJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.OK() {
		return errors.Newf("job %s failed: %s", args[0], result.Failure.Error())
	}
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.queue.CancelJob(args[0], jobsCancelReason); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s cancelled\n", args[0])
	return nil
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.queue.GetStats()
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(cmd.OutOrStdout(), stats)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d  running %d  completed %d  failed %d  cancelled %d  total %d\n",
		stats.Queued, stats.Running, stats.Completed, stats.Failed, stats.Cancelled, stats.Total)
	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	if jobsOlderThan < 0 {
		return errors.NewConfigurationError("--older-than must not be negative")
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	removed, err := rt.queue.Cleanup(jobsOlderThan)
	if err != nil {
		return err
	}
	rt.logger.Infow(sym.Pulse+" Removed finished jobs", "count", removed, "older_than", jobsOlderThan)
	fmt.Fprintf(cmd.OutOrStdout(), "%d jobs removed\n", removed)
	return nil
}
