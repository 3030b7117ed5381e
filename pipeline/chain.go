package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/teranos/corpipe/errors"
)

// FingerprintSeparator joins stage names in a fingerprint
const FingerprintSeparator = "__"

// StageRef is a user-supplied reference to a stage: a bare name, or a name
// (or dotted module path) with arguments.
type StageRef struct {
	Name      string                 `json:"name,omitempty" yaml:"name,omitempty" toml:"name"`
	Module    string                 `json:"module,omitempty" yaml:"module,omitempty" toml:"module"`
	Arguments map[string]interface{} `json:"arguments,omitempty" yaml:"arguments,omitempty" toml:"arguments"`
}

// Refs builds bare references from stage names
func Refs(names ...string) []StageRef {
	refs := make([]StageRef, len(names))
	for i, name := range names {
		refs[i] = StageRef{Name: name}
	}
	return refs
}

// StageName returns Name, or the last dotted segment of Module
func (r StageRef) StageName() string {
	if r.Name != "" {
		return r.Name
	}
	name := r.Module
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// StageDescriptor is a resolved stage invocation. The callable is not
// serialized; descriptors read back from JSON are re-bound by name.
type StageDescriptor struct {
	Name   string   `json:"name"`
	Stage  Stage    `json:"-"`
	Args   Args     `json:"args,omitempty"`
	Output []string `json:"output,omitempty"`
}

func (d *StageDescriptor) bind(registry *Registry) error {
	spec, ok := registry.Lookup(d.Name)
	if !ok {
		return errors.NewConfigurationError("unknown stage %q", d.Name)
	}
	d.Stage = spec.Stage
	return nil
}

// Chain is an ordered list of resolved stages
type Chain []StageDescriptor

// Names returns the stage names in order
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, d := range c {
		names[i] = d.Name
	}
	return names
}

// Fingerprint names the prefix chain[:length]: its stage names joined by
// FingerprintSeparator. Arguments do not take part, so chains that share
// leading stage names share cached prefixes. length is clamped to
// [0, len(chain)].
func Fingerprint(chain Chain, length int) string {
	length = max(0, min(length, len(chain)))
	return strings.Join(chain[:length].Names(), FingerprintSeparator)
}

// Normalize resolves refs against the registry into a canonical chain.
// Unknown stages, unknown arguments and missing required arguments are
// configuration errors.
func Normalize(registry *Registry, refs []StageRef) (Chain, error) {
	if len(refs) == 0 {
		return nil, errors.NewConfigurationError("stage list is empty")
	}

	chain := make(Chain, 0, len(refs))
	for i, ref := range refs {
		desc, err := resolveRef(registry, ref)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %d", i+1)
		}
		chain = append(chain, desc)
	}
	return chain, nil
}

func resolveRef(registry *Registry, ref StageRef) (StageDescriptor, error) {
	name := ref.StageName()
	if name == "" {
		return StageDescriptor{}, errors.NewConfigurationError("stage reference has no name")
	}

	spec, ok := registry.Lookup(name)
	if !ok {
		err := errors.NewConfigurationError("unknown stage %q", name)
		return StageDescriptor{}, errors.WithHintf(err, "Registered stages: %s", strings.Join(registry.Names(), ", "))
	}

	args, err := canonicalArgs(spec, ref.Arguments)
	if err != nil {
		return StageDescriptor{}, err
	}

	return StageDescriptor{
		Name:   spec.Name,
		Stage:  spec.Stage,
		Args:   args,
		Output: spec.Output,
	}, nil
}

// canonicalArgs merges defaults into the given arguments and round-trips
// them through JSON so equal values compare equal (2 and 2.0).
func canonicalArgs(spec StageSpec, given map[string]interface{}) (Args, error) {
	merged := make(map[string]interface{}, len(spec.Params))
	for key, value := range given {
		if _, ok := spec.param(key); !ok {
			return nil, errors.NewConfigurationError("stage %q has no argument %q", spec.Name, key)
		}
		merged[key] = value
	}

	for _, p := range spec.Params {
		if _, ok := merged[p.Name]; ok {
			continue
		}
		if p.Required {
			return nil, errors.NewConfigurationError("stage %q requires argument %q", spec.Name, p.Name)
		}
		if p.Default != nil {
			merged[p.Name] = p.Default
		}
	}

	if len(merged) == 0 {
		return Args{}, nil
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "stage "+spec.Name+" arguments")
	}
	var args Args
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, errors.WrapConfiguration(err, "stage "+spec.Name+" arguments")
	}
	return args, nil
}
