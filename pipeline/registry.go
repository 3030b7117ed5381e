package pipeline

import (
	"sort"
	"strings"
	"sync"

	"github.com/teranos/corpipe/errors"
)

// Param declares one stage argument
type Param struct {
	Name        string      `json:"name"`
	Default     interface{} `json:"default,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Description string      `json:"description,omitempty"`
}

// StageSpec is a registered stage: its callable, the output fields it
// contributes and its parameter table.
type StageSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Stage       Stage    `json:"-"`
	Output      []string `json:"output"`
	Params      []Param  `json:"params,omitempty"`
}

func (s StageSpec) param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Registry maps stage names to stages. Populated at process start.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]StageSpec
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]StageSpec)}
}

// Register adds a stage. Names must be unique.
func (r *Registry) Register(spec StageSpec) error {
	if spec.Name == "" {
		return errors.NewConfigurationError("stage name cannot be empty")
	}
	// Fingerprints join names with the separator, so a name holding it
	// would share cache entries with a different chain
	if strings.Contains(spec.Name, FingerprintSeparator) {
		return errors.NewConfigurationError("stage name %q contains %q", spec.Name, FingerprintSeparator)
	}
	if strings.ContainsAny(spec.Name, ":.") || strings.TrimSpace(spec.Name) != spec.Name {
		return errors.NewConfigurationError("stage name %q cannot contain ':', '.' or surrounding spaces", spec.Name)
	}
	if spec.Stage == nil {
		return errors.NewConfigurationError("stage %q has no callable", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stages[spec.Name]; exists {
		return errors.NewConfigurationError("stage %q already registered", spec.Name)
	}
	r.stages[spec.Name] = spec
	return nil
}

// MustRegister registers a stage and panics on error
func (r *Registry) MustRegister(spec StageSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Lookup returns the stage registered under name
func (r *Registry) Lookup(name string) (StageSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.stages[name]
	return spec, ok
}

// Names returns registered stage names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns all registered stages sorted by name
func (r *Registry) Specs() []StageSpec {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]StageSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, r.stages[name])
	}
	return specs
}
