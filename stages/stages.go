// Package stages provides corpipe's built-in annotation stages.
//
// Every stage is deterministic so its results can be cached. Text stages
// accept either a string or a list of strings; list inputs are processed
// element by element.
package stages

import (
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
)

// Builtins returns the specs of the built-in stages
func Builtins() []pipeline.StageSpec {
	return []pipeline.StageSpec{
		{
			Name:        "tokenize",
			Description: "Split text into word tokens",
			Stage:       pipeline.Typed(tokenize),
			Output:      []string{"tokens"},
			Params: []pipeline.Param{
				{Name: "punctuation", Default: false, Description: "keep punctuation marks as tokens"},
			},
		},
		{
			Name:        "lowercase",
			Description: "Lowercase a text or every string in a list",
			Stage:       pipeline.StageFunc(lowercase),
			Output:      []string{"text"},
		},
		{
			Name:        "sentences",
			Description: "Split text into sentences",
			Stage:       pipeline.Typed(sentences),
			Output:      []string{"sentences"},
		},
		{
			Name:        "ngrams",
			Description: "Join consecutive tokens into n-grams",
			Stage:       pipeline.Typed(ngrams),
			Output:      []string{"ngrams"},
			Params: []pipeline.Param{
				{Name: "n", Default: 2, Description: "tokens per n-gram"},
				{Name: "sep", Default: " ", Description: "separator between tokens"},
			},
		},
		{
			Name:        "frequency",
			Description: "Count terms, most frequent first",
			Stage:       pipeline.Typed(frequency),
			Output:      []string{"term", "count"},
			Params: []pipeline.Param{
				{Name: "top", Default: 0, Description: "keep only the top N terms (0 = all)"},
			},
		},
	}
}

// RegisterBuiltins adds the built-in stages to r
func RegisterBuiltins(r *pipeline.Registry) error {
	for _, spec := range Builtins() {
		if err := r.Register(spec); err != nil {
			return errors.Wrapf(err, "failed to register built-in stage %s", spec.Name)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in stages
func NewRegistry() *pipeline.Registry {
	r := pipeline.NewRegistry()
	for _, spec := range Builtins() {
		r.MustRegister(spec)
	}
	return r
}
