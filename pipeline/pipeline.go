// Package pipeline runs documents through chains of annotation stages,
// reusing every stage output already stored for a document.
//
// A run normalizes the stage list into a Chain, resolves each document's
// longest stored prefix, builds a Plan for the remaining stages and hands
// the plans to an Executor through the Coordinator:
//
//	p, _ := pipeline.New(pipeline.Config{Registry: reg, Store: st, Executor: ex})
//	results, err := p.Run(ctx, docs, pipeline.Refs("tokenize", "ngrams"), pipeline.DefaultOptions())
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/sym"
)

// ErrPending is returned by RunOne when the document was only submitted
var ErrPending = errors.New("document still pending")

// StageExecutionError is a failed document's outcome as an error
type StageExecutionError struct {
	Document string
	Failure  Failure
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("document %s: %s", e.Document, e.Failure.Error())
}

// Stage names the stage that failed, "" if the document failed before
// any stage ran
func (e *StageExecutionError) Stage() string {
	return e.Failure.Stage
}

// Is matches errors.ErrStageExecution, and errors.ErrDocumentFetch for
// fetch failures
func (e *StageExecutionError) Is(target error) bool {
	if target == errors.ErrStageExecution {
		return true
	}
	return target == errors.ErrDocumentFetch && e.Failure.Kind == FailureFetch
}

func (e *StageExecutionError) Unwrap() error {
	return &e.Failure
}

// Options control a run
type Options struct {
	StoreFinal        bool
	StoreIntermediate bool
	Blocking          bool
}

// DefaultOptions stores final results and waits for completion
func DefaultOptions() Options {
	return Options{StoreFinal: true, Blocking: true}
}

// Config wires a Pipeline. Store may be nil to disable caching.
type Config struct {
	Registry   *Registry
	Store      ResultStore
	Executor   Executor
	ReadPolicy ReadPolicy
	Logger     *zap.SugaredLogger
}

// Pipeline is the entry point for running stage chains
type Pipeline struct {
	registry    *Registry
	store       ResultStore
	coordinator *Coordinator
	policy      ReadPolicy
	logger      *zap.SugaredLogger
}

// New creates a pipeline
func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, errors.NewConfigurationError("pipeline needs a stage registry")
	}
	if cfg.Executor == nil {
		return nil, errors.NewConfigurationError("pipeline needs an executor")
	}
	policy, err := ParseReadPolicy(string(cfg.ReadPolicy))
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Logger
	}
	log = log.Named("pipeline")

	return &Pipeline{
		registry:    cfg.Registry,
		store:       cfg.Store,
		coordinator: NewCoordinator(cfg.Executor, log),
		policy:      policy,
		logger:      log,
	}, nil
}

// Registry returns the stage registry
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Run executes refs over docs. The returned map has an entry for every
// document, keyed by Handle.Key() or adhoc/<position>; a handle listed
// twice is run once. Configuration errors abort the run before any work.
func (p *Pipeline) Run(ctx context.Context, docs []Document, refs []StageRef, opts Options) (Results, error) {
	ctx = logger.WithRunID(ctx, uuid.NewString())
	log := logger.FromContext(ctx, p.logger)
	start := time.Now()

	chain, err := Normalize(p.registry, refs)
	if err != nil {
		return nil, err
	}
	fullFingerprint := Fingerprint(chain, len(chain))

	buildOpts := BuildOptions{
		StoreFinal:        opts.StoreFinal && p.store != nil,
		StoreIntermediate: opts.StoreIntermediate && p.store != nil,
	}

	results := make(Results, len(docs))
	var plans []Plan
	var handles []Handle
	byKey := make(map[string]Document)

	for pos, doc := range docs {
		key := doc.Key(pos)
		if doc.IsAdHoc() {
			resume, err := json.Marshal(doc.Text)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to encode %s", key)
			}
			plan := Build(resume, 0, chain, doc, buildOpts)
			plan.Key = key
			plans = append(plans, plan)
			continue
		}
		if _, seen := byKey[key]; seen {
			continue
		}
		byKey[key] = doc
		handles = append(handles, *doc.Handle)
	}

	if len(handles) > 0 {
		partition := Partition{Uncached: handles}
		if p.store != nil {
			partition, err = Resolve(ctx, p.store, handles, chain, p.policy)
			if err != nil {
				return nil, err
			}
		}

		for _, c := range partition.Cached {
			results[c.Handle.Key()] = Outcome{Document: byKey[c.Handle.Key()], State: StateCached, Value: c.Value}
		}
		for _, r := range partition.Resumable {
			key := r.Handle.Key()
			plan := Build(r.Value, r.ResumeIndex, chain, byKey[key], buildOpts)
			plan.Key = key
			plans = append(plans, plan)
		}
		for _, h := range partition.Uncached {
			key := h.Key()
			plan := Build(nil, 0, chain, byKey[key], buildOpts)
			plan.Key = key
			plans = append(plans, plan)
		}
	}

	log.Infow(sym.Chain+" Pipeline run",
		logger.FieldChain, fullFingerprint,
		logger.FieldCount, len(docs),
		"cached", len(results),
		"planned", len(plans),
		"blocking", opts.Blocking)

	for key, outcome := range p.coordinator.Execute(ctx, plans, opts.Blocking) {
		results[key] = outcome
	}

	log.Infow(sym.Chain+" Pipeline run finished",
		logger.FieldChain, fullFingerprint,
		"summary", summarize(results),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return results, nil
}

// RunOne runs a single document and returns its value. A failed document
// becomes a *StageExecutionError; a non-blocking run returns ErrPending.
func (p *Pipeline) RunOne(ctx context.Context, doc Document, refs []StageRef, opts Options) (json.RawMessage, error) {
	results, err := p.Run(ctx, []Document{doc}, refs, opts)
	if err != nil {
		return nil, err
	}

	key := doc.Key(0)
	outcome, ok := results[key]
	if !ok {
		return nil, errors.AssertionFailedf("no outcome for %s", key)
	}

	switch outcome.State {
	case StateFailed:
		return nil, &StageExecutionError{Document: key, Failure: *outcome.Failure}
	case StatePending:
		return nil, errors.Wrapf(ErrPending, "job %s", outcome.JobID)
	}
	return outcome.Value, nil
}

func summarize(results Results) string {
	var parts []string
	for _, state := range []State{StateCached, StateSucceeded, StateFailed, StatePending} {
		if n := results.Count(state); n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(string(state)), n))
		}
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, " ")
}
