package pipeline

import (
	"encoding/json"

	"github.com/teranos/corpipe/errors"
)

// StepKind distinguishes stage invocations from persistence
type StepKind string

const (
	StepStage   StepKind = "stage"
	StepPersist StepKind = "persist"
)

// Step is one unit of a plan. A stage step runs Stage on the previous
// value; a persist step stores the previous value under Fingerprint.
type Step struct {
	Kind        StepKind         `json:"kind"`
	Stage       *StageDescriptor `json:"stage,omitempty"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Output      []string         `json:"output,omitempty"`
}

// BuildOptions select which results a plan persists
type BuildOptions struct {
	StoreFinal        bool
	StoreIntermediate bool
}

// Plan is the remaining work for one document. Key identifies the
// document in the run's results; Fetch asks the runner to load the source
// text as the resume value.
type Plan struct {
	Key         string          `json:"key"`
	Document    Document        `json:"document"`
	ResumeIndex int             `json:"resume_index"`
	Resume      json.RawMessage `json:"resume,omitempty"`
	Fetch       bool            `json:"fetch,omitempty"`
	Steps       []Step          `json:"steps"`
}

// StageNames lists the stages the plan runs, in order
func (p Plan) StageNames() []string {
	var names []string
	for _, step := range p.Steps {
		if step.Kind == StepStage {
			names = append(names, step.Stage.Name)
		}
	}
	return names
}

// Fingerprints lists the fingerprints the plan persists, in order
func (p Plan) Fingerprints() []string {
	var fps []string
	for _, step := range p.Steps {
		if step.Kind == StepPersist {
			fps = append(fps, step.Fingerprint)
		}
	}
	return fps
}

// Build lays out the steps from chain[resumeIndex] to the end. Persist
// steps are only added for handles: one after each non-final stage with
// StoreIntermediate, and one for the full chain, always last, with
// StoreFinal. A handle with no resume value is fetched by the runner.
func Build(resume json.RawMessage, resumeIndex int, chain Chain, doc Document, opts BuildOptions) Plan {
	plan := Plan{
		Document:    doc,
		ResumeIndex: resumeIndex,
		Resume:      resume,
		Fetch:       doc.Handle != nil && resume == nil,
	}
	if resumeIndex < 0 || resumeIndex >= len(chain) {
		return plan
	}

	persist := !doc.IsAdHoc()
	last := len(chain) - 1
	for k := resumeIndex; k <= last; k++ {
		stage := chain[k]
		plan.Steps = append(plan.Steps, Step{Kind: StepStage, Stage: &stage})

		if persist && opts.StoreIntermediate && k < last {
			plan.Steps = append(plan.Steps, Step{
				Kind:        StepPersist,
				Fingerprint: Fingerprint(chain, k+1),
				Output:      stage.Output,
			})
		}
	}

	if persist && opts.StoreFinal {
		plan.Steps = append(plan.Steps, Step{
			Kind:        StepPersist,
			Fingerprint: Fingerprint(chain, len(chain)),
			Output:      chain[last].Output,
		})
	}
	return plan
}

// Bind re-attaches stage callables after a plan was decoded from JSON
func (p *Plan) Bind(registry *Registry) error {
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Kind != StepStage {
			continue
		}
		if step.Stage == nil {
			return errors.NewConfigurationError("step %d of %s has no stage", i, p.Key)
		}
		if err := step.Stage.bind(registry); err != nil {
			return errors.Wrapf(err, "step %d of %s", i, p.Key)
		}
	}
	return nil
}
