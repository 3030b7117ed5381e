package pipeline

import (
	"context"
)

// WorkHandle refers to a submitted plan
type WorkHandle interface {
	// ID identifies the unit of work on its substrate
	ID() string
	// Poll returns the result if the work finished, without blocking
	Poll(ctx context.Context) (StepResult, bool, error)
	// Wait blocks until the work finishes or ctx is done
	Wait(ctx context.Context) (StepResult, error)
}

// Executor runs plans as independent units of work. Implementations must
// not let one plan's failure affect another.
type Executor interface {
	Submit(ctx context.Context, plan Plan) (WorkHandle, error)
}
