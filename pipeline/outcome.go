package pipeline

import (
	"encoding/json"
	"sort"
)

// State is where a document ended up in a run
type State string

const (
	StateCached    State = "CACHED"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StatePending   State = "PENDING"
)

// IsTerminal reports whether the state can no longer change
func (s State) IsTerminal() bool {
	return s != StatePending
}

// Outcome is the per-document result of a run. Pending outcomes carry the
// Work handle to poll; it is not serialized, JobID is.
type Outcome struct {
	Document Document        `json:"document"`
	State    State           `json:"state"`
	Value    json.RawMessage `json:"value,omitempty"`
	Failure  *Failure        `json:"failure,omitempty"`
	JobID    string          `json:"job_id,omitempty"`
	Work     WorkHandle      `json:"-"`
}

func outcomeFromResult(doc Document, result StepResult) Outcome {
	if result.Failure != nil {
		return Outcome{Document: doc, State: StateFailed, Failure: result.Failure}
	}
	return Outcome{Document: doc, State: StateSucceeded, Value: result.Value}
}

// Results maps document keys to outcomes. Every input document of a run
// has an entry.
type Results map[string]Outcome

// Keys returns the document keys in sorted order
func (r Results) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count returns how many outcomes are in state
func (r Results) Count(state State) int {
	n := 0
	for _, o := range r {
		if o.State == state {
			n++
		}
	}
	return n
}

// Failed returns the keys of failed documents, sorted
func (r Results) Failed() []string {
	var keys []string
	for _, k := range r.Keys() {
		if r[k].State == StateFailed {
			keys = append(keys, k)
		}
	}
	return keys
}
