package pipeline

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/pulse/async"
)

// ChainHandlerName is the job handler that runs plans
const ChainHandlerName = "pipeline.chain"

// ChainPayload is the job payload of a submitted plan
type ChainPayload struct {
	Plan Plan `json:"plan"`
}

// ChainHandler runs plans on a worker pool. The job completes with the
// StepResult as its result, so stage failures are not retried. Fetches
// from an unavailable source are retried up to async.MaxRetries times,
// and shutdown interrupts hand the job back to the queue.
type ChainHandler struct {
	registry *Registry
	runner   *Runner
	queue    *async.Queue
	logger   *zap.SugaredLogger
}

// NewChainHandler creates the handler. Stages are re-bound by name from
// registry, which must match the submitter's.
func NewChainHandler(registry *Registry, runner *Runner, queue *async.Queue, log *zap.SugaredLogger) *ChainHandler {
	if log == nil {
		log = logger.Logger
	}
	return &ChainHandler{
		registry: registry,
		runner:   runner,
		queue:    queue,
		logger:   log.Named("chain-handler"),
	}
}

// Name implements async.JobHandler
func (h *ChainHandler) Name() string {
	return ChainHandlerName
}

// Execute implements async.JobHandler
func (h *ChainHandler) Execute(ctx context.Context, job *async.Job) error {
	ctx = logger.WithJobID(ctx, job.ID)
	if job.RunID != "" {
		ctx = logger.WithRunID(ctx, job.RunID)
	}

	var payload ChainPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Wrapf(err, "failed to decode plan of job %s", job.ID)
	}

	plan := payload.Plan
	var result StepResult
	if err := plan.Bind(h.registry); err != nil {
		result = failed(FailureConfiguration, "", -1, err)
	} else {
		emitter := async.NewJobProgressEmitter(job, h.queue, h.logger)
		result = h.runner.RunWithProgress(ctx, plan, emitter)
	}

	if ctx.Err() != nil {
		// Interrupted by shutdown; the worker re-queues the job
		return ctx.Err()
	}

	if result.Failure != nil && result.Failure.Kind == FailureFetch &&
		errors.IsUnavailable(result.Failure) && job.RetryCount < async.MaxRetries {
		return async.Retryable(result.Failure)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrapf(err, "failed to encode result of job %s", job.ID)
	}
	job.SetResult(data)
	return nil
}
