package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/corpipe/logger"
)

// Coordinator submits plans to an executor and gathers their outcomes.
// It keeps no state between calls.
type Coordinator struct {
	executor Executor
	logger   *zap.SugaredLogger
}

// NewCoordinator creates a coordinator on executor
func NewCoordinator(executor Executor, log *zap.SugaredLogger) *Coordinator {
	if log == nil {
		log = logger.Logger
	}
	return &Coordinator{executor: executor, logger: log.Named("coordinator")}
}

// Execute submits every plan as its own unit of work, keyed by Plan.Key.
// Blocking waits for each unit and reports SUCCEEDED or FAILED; if ctx
// ends first the remaining units are reported PENDING. Non-blocking
// returns PENDING outcomes with their handles at once.
func (c *Coordinator) Execute(ctx context.Context, plans []Plan, blocking bool) Results {
	log := logger.FromContext(ctx, c.logger)
	outcomes := make(Results, len(plans))

	type submitted struct {
		plan Plan
		work WorkHandle
	}
	waiting := make([]submitted, 0, len(plans))

	for _, plan := range plans {
		work, err := c.executor.Submit(ctx, plan)
		if err != nil {
			log.Warnw("Failed to submit plan",
				logger.FieldDocument, plan.Key,
				logger.FieldError, err)
			outcomes[plan.Key] = outcomeFromResult(plan.Document, failed(FailureSubmit, "", -1, err))
			continue
		}
		if !blocking {
			outcomes[plan.Key] = pending(plan.Document, work)
			continue
		}
		waiting = append(waiting, submitted{plan: plan, work: work})
	}

	for _, s := range waiting {
		result, err := s.work.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				outcomes[s.plan.Key] = pending(s.plan.Document, s.work)
				continue
			}
			result = failed(FailureSubstrate, "", -1, err)
		}
		outcomes[s.plan.Key] = outcomeFromResult(s.plan.Document, result)
	}

	return outcomes
}

func pending(doc Document, work WorkHandle) Outcome {
	return Outcome{Document: doc, State: StatePending, JobID: work.ID(), Work: work}
}
