package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// LocalExecutor runs plans on goroutines of this process, at most
// workers at a time.
type LocalExecutor struct {
	runner *Runner
	group  errgroup.Group
	// pending counts plans not yet finished, including those still
	// waiting for a slot in group
	pending sync.WaitGroup
	seq     atomic.Int64
}

// NewLocalExecutor creates an in-process executor. workers <= 0 means
// unbounded.
func NewLocalExecutor(runner *Runner, workers int) *LocalExecutor {
	e := &LocalExecutor{runner: runner}
	if workers > 0 {
		e.group.SetLimit(workers)
	}
	return e
}

// Submit starts plan in the background. Submission never blocks on a full
// pool, and the work outlives ctx cancellation.
func (e *LocalExecutor) Submit(ctx context.Context, plan Plan) (WorkHandle, error) {
	h := &localHandle{
		id:   fmt.Sprintf("local-%d", e.seq.Add(1)),
		done: make(chan struct{}),
	}
	runCtx := context.WithoutCancel(ctx)

	e.pending.Add(1)
	go e.group.Go(func() error {
		defer e.pending.Done()
		h.result = e.runner.Run(runCtx, plan)
		close(h.done)
		// Never report an error: the group must not cancel siblings
		return nil
	})
	return h, nil
}

// Wait blocks until every submitted plan finished
func (e *LocalExecutor) Wait() {
	e.pending.Wait()
}

type localHandle struct {
	id     string
	done   chan struct{}
	result StepResult
}

func (h *localHandle) ID() string { return h.id }

func (h *localHandle) Poll(ctx context.Context) (StepResult, bool, error) {
	select {
	case <-h.done:
		return h.result, true, nil
	default:
		return StepResult{}, false, nil
	}
}

func (h *localHandle) Wait(ctx context.Context) (StepResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return StepResult{}, ctx.Err()
	}
}
