package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/pulse/async"
)

// DefaultPollInterval is how often a queue handle re-reads its job when
// no local update arrives
const DefaultPollInterval = 250 * time.Millisecond

// QueueExecutor submits each plan as a durable job. Any worker pool
// sharing the queue's database may run it, including pools in other
// processes (`corpipe pulse start`).
type QueueExecutor struct {
	queue        *async.Queue
	pollInterval time.Duration
	logger       *zap.SugaredLogger
}

// NewQueueExecutor creates an executor on queue
func NewQueueExecutor(queue *async.Queue, pollInterval time.Duration, log *zap.SugaredLogger) *QueueExecutor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logger.Logger
	}
	return &QueueExecutor{
		queue:        queue,
		pollInterval: pollInterval,
		logger:       log.Named("queue-executor"),
	}
}

// Submit enqueues plan as a pipeline.chain job
func (e *QueueExecutor) Submit(ctx context.Context, plan Plan) (WorkHandle, error) {
	payload, err := json.Marshal(ChainPayload{Plan: plan})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode plan for %s", plan.Key)
	}

	job, err := async.NewJobWithPayload(ChainHandlerName, plan.Key, payload, len(plan.StageNames()), "pipeline")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create job for %s", plan.Key)
	}
	job.RunID = logger.RunIDFromContext(ctx)

	if err := e.queue.Enqueue(job); err != nil {
		return nil, err
	}

	logger.FromContext(ctx, e.logger).Debugw("Plan submitted",
		logger.FieldDocument, plan.Key,
		logger.FieldJobID, job.ID)
	return e.Handle(job.ID), nil
}

// Handle returns a handle for an existing job, e.g. one submitted by an
// earlier non-blocking run
func (e *QueueExecutor) Handle(jobID string) WorkHandle {
	return &queueHandle{queue: e.queue, id: jobID, pollInterval: e.pollInterval}
}

// ResultFromJob converts a finished job into a StepResult. The boolean is
// false while the job is still queued or running.
func ResultFromJob(job *async.Job) (StepResult, bool) {
	switch job.Status {
	case async.JobStatusCompleted:
		var result StepResult
		if err := async.DecodeResult(job, &result); err != nil {
			return failed(FailureSubstrate, "", -1, err), true
		}
		return result, true
	case async.JobStatusFailed:
		return StepResult{Failure: &Failure{Kind: FailureSubstrate, Step: -1, Message: job.Error}}, true
	case async.JobStatusCancelled:
		return StepResult{Failure: &Failure{Kind: FailureCancelled, Step: -1, Message: job.Error}}, true
	}
	return StepResult{}, false
}

type queueHandle struct {
	queue        *async.Queue
	id           string
	pollInterval time.Duration
}

func (h *queueHandle) ID() string { return h.id }

func (h *queueHandle) Poll(ctx context.Context) (StepResult, bool, error) {
	job, err := h.queue.GetJob(h.id)
	if err != nil {
		return StepResult{}, false, err
	}
	result, done := ResultFromJob(job)
	return result, done, nil
}

// Wait listens for local queue updates and polls as a fallback, since
// workers in other processes do not notify this queue's subscribers.
func (h *queueHandle) Wait(ctx context.Context) (StepResult, error) {
	updates := h.queue.Subscribe()
	defer h.queue.Unsubscribe(updates)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		result, done, err := h.Poll(ctx)
		if err != nil {
			return StepResult{}, err
		}
		if done {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return StepResult{}, ctx.Err()
		case job := <-updates:
			if job.ID != h.id || !job.Status.IsTerminal() {
				continue
			}
		case <-ticker.C:
		}
	}
}
