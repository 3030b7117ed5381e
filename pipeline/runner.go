package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/pulse"
)

const tracerName = "github.com/teranos/corpipe/pipeline"

// FailureKind classifies why a plan stopped
type FailureKind string

const (
	FailureFetch         FailureKind = "fetch"
	FailureStage         FailureKind = "stage"
	FailureConfiguration FailureKind = "configuration"
	FailureSubmit        FailureKind = "submit"
	FailureCancelled     FailureKind = "cancelled"
	FailureSubstrate     FailureKind = "substrate"
)

// Failure describes the first step of a plan that did not succeed.
// Step is the index into Plan.Steps, -1 for the fetch of source text.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Stage   string      `json:"stage,omitempty"`
	Step    int         `json:"step"`
	Message string      `json:"message"`

	cause error
}

func (f *Failure) Error() string {
	if f.Stage != "" {
		return fmt.Sprintf("%s failure in stage %s: %s", f.Kind, f.Stage, f.Message)
	}
	return fmt.Sprintf("%s failure: %s", f.Kind, f.Message)
}

// StepResult is the outcome of running a plan: a value or a failure,
// never both.
type StepResult struct {
	Value   json.RawMessage `json:"value,omitempty"`
	Failure *Failure        `json:"failure,omitempty"`
}

// OK reports whether the plan produced a value
func (r StepResult) OK() bool {
	return r.Failure == nil
}

// Unwrap returns the error the failure was built from. It is not encoded,
// so failures decoded from a job result have none.
func (f *Failure) Unwrap() error {
	return f.cause
}

func failed(kind FailureKind, stage string, step int, err error) StepResult {
	return StepResult{Failure: &Failure{Kind: kind, Stage: stage, Step: step, Message: err.Error(), cause: err}}
}

// Fetcher loads the source text of a document
type Fetcher interface {
	Fetch(ctx context.Context, doc Document) (string, error)
}

// Runner executes plans step by step. It is shared by the in-process
// executor and the queue handler, so a plan behaves the same wherever it
// runs.
type Runner struct {
	store   ResultStore
	fetcher Fetcher
	logger  *zap.SugaredLogger
	tracer  trace.Tracer
}

// NewRunner creates a runner. A nil store disables persist steps.
func NewRunner(store ResultStore, fetcher Fetcher, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = logger.Logger
	}
	return &Runner{
		store:   store,
		fetcher: fetcher,
		logger:  log.Named("runner"),
		tracer:  otel.Tracer(tracerName),
	}
}

// Run executes plan without progress reporting
func (r *Runner) Run(ctx context.Context, plan Plan) StepResult {
	return r.RunWithProgress(ctx, plan, pulse.NopEmitter{})
}

// RunWithProgress executes plan, stopping at the first failed step.
// Store write failures are logged and do not fail the plan.
func (r *Runner) RunWithProgress(ctx context.Context, plan Plan, emitter pulse.ProgressEmitter) StepResult {
	ctx, span := r.tracer.Start(ctx, "pipeline.plan", trace.WithAttributes(
		attribute.String("doc", plan.Key),
		attribute.Int("resume_index", plan.ResumeIndex),
		attribute.StringSlice("stages", plan.StageNames()),
	))
	defer span.End()

	log := logger.FromContext(ctx, r.logger).With(logger.FieldDocument, plan.Key)
	start := time.Now()

	value := plan.Resume
	if plan.Fetch {
		text, err := r.fetch(ctx, plan.Document)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			emitter.EmitError("fetch", err)
			log.Infow("Document fetch failed", logger.FieldError, err)
			return failed(FailureFetch, "", -1, err)
		}
		encoded, err := json.Marshal(text)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			emitter.EmitError("fetch", err)
			return failed(FailureFetch, "", -1, errors.Wrap(err, "failed to encode source text"))
		}
		value = encoded
	}

	for i, step := range plan.Steps {
		switch step.Kind {
		case StepStage:
			emitter.EmitStage(step.Stage.Name, "Running stage "+step.Stage.Name)
			out, err := r.runStage(ctx, step.Stage, value)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				emitter.EmitError(step.Stage.Name, err)
				log.Infow("Stage failed",
					logger.FieldStage, step.Stage.Name,
					logger.FieldStep, i,
					logger.FieldError, err)
				return failed(FailureStage, step.Stage.Name, i, err)
			}
			value = out
			emitter.EmitProgress(1, map[string]interface{}{"stage": step.Stage.Name})

		case StepPersist:
			r.persist(ctx, log, plan.Document, step, value)

		default:
			err := errors.Newf("unknown step kind %q", step.Kind)
			return failed(FailureConfiguration, "", i, err)
		}
	}

	log.Debugw("Plan finished",
		logger.FieldCount, len(plan.Steps),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return StepResult{Value: value}
}

func (r *Runner) fetch(ctx context.Context, doc Document) (string, error) {
	if r.fetcher == nil {
		return "", errors.Mark(errors.New("no document source configured"), errors.ErrDocumentFetch)
	}
	return r.fetcher.Fetch(ctx, doc)
}

// runStage invokes one stage, turning panics into errors
func (r *Runner) runStage(ctx context.Context, desc *StageDescriptor, input json.RawMessage) (out json.RawMessage, err error) {
	ctx, span := r.tracer.Start(ctx, "stage "+desc.Name, trace.WithAttributes(
		attribute.String("stage", desc.Name),
		attribute.String("args", desc.Args.Canonical()),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("stage %s panicked: %v", desc.Name, p)
		}
		if err != nil {
			err = errors.Mark(err, errors.ErrStageExecution)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if desc.Stage == nil {
		return nil, errors.Newf("stage %s is not bound to a callable", desc.Name)
	}

	out, err = desc.Stage.Execute(ctx, input, desc.Args)
	if err != nil {
		return nil, err
	}
	if !json.Valid(out) {
		return nil, errors.Newf("stage %s returned invalid JSON", desc.Name)
	}
	return out, nil
}

func (r *Runner) persist(ctx context.Context, log *zap.SugaredLogger, doc Document, step Step, value json.RawMessage) {
	if r.store == nil || doc.Handle == nil {
		return
	}
	h := *doc.Handle

	if declarer, ok := r.store.(OutputDeclarer); ok {
		if err := declarer.DeclareOutput(ctx, h.Index, h.Type, step.Fingerprint, step.Output); err != nil {
			log.Warnw("Failed to register result group",
				logger.FieldFingerprint, step.Fingerprint,
				logger.FieldError, err)
		}
	}

	if err := r.store.Put(ctx, h, step.Fingerprint, value); err != nil {
		err = errors.Mark(err, errors.ErrStoreWrite)
		log.Warnw("Failed to store result, continuing",
			logger.FieldFingerprint, step.Fingerprint,
			logger.FieldErrorKind, "store_write",
			logger.FieldError, err)
		return
	}
	log.Debugw("Stored result", logger.FieldFingerprint, step.Fingerprint)
}
