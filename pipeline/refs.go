package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/teranos/corpipe/errors"
)

// refFile is the on-disk pipeline layout: `stages:` in YAML/JSON,
// `[[stage]]` tables in TOML.
type refFile struct {
	Stages []StageRef `yaml:"stages" toml:"stage"`
}

// UnmarshalYAML accepts a bare stage name or a {name|module, arguments} record
func (r *StageRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*r = namedRef(node.Value)
		return nil
	}
	type plain StageRef
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = StageRef(p)
	return nil
}

// ParseStageRefs parses a stage list given on the command line or in
// configuration. Either a JSON/YAML list of names and records:
//
//	[tokenize, {name: ngrams, arguments: {n: 3}}]
//
// or shell-quoted words with an optional name:key=value,... shorthand:
//
//	tokenize lowercase ngrams:n=3
func ParseStageRefs(text string) ([]StageRef, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.NewConfigurationError("stage list is empty")
	}

	switch trimmed[0] {
	case '[', '{', '-':
		return decodeRefList([]byte(trimmed))
	}

	words, err := shellquote.Split(trimmed)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "failed to split stage list")
	}
	return ParseStageWords(words)
}

// ParseStageWords parses one stage per word (name or name:key=value,...).
// A single word holding a JSON or YAML list is decoded as a stage list.
func ParseStageWords(words []string) ([]StageRef, error) {
	if len(words) == 1 {
		if trimmed := strings.TrimSpace(words[0]); trimmed != "" && (trimmed[0] == '[' || trimmed[0] == '{') {
			return decodeRefList([]byte(trimmed))
		}
	}

	refs := make([]StageRef, 0, len(words))
	for _, word := range words {
		ref, err := parseShorthand(word)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseShorthand(word string) (StageRef, error) {
	name, rest, hasArgs := strings.Cut(word, ":")
	if name == "" {
		return StageRef{}, errors.NewConfigurationError("malformed stage %q", word)
	}
	ref := namedRef(name)
	if !hasArgs {
		return ref, nil
	}

	ref.Arguments = make(map[string]interface{})
	for _, pair := range strings.Split(rest, ",") {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return StageRef{}, errors.NewConfigurationError("malformed argument %q in stage %q", pair, word)
		}
		// YAML scalar rules give 3 -> int, true -> bool, x -> string
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return StageRef{}, errors.WrapConfiguration(err, "argument "+key+" of stage "+name)
		}
		if value == nil {
			value = raw
		}
		ref.Arguments[key] = value
	}
	return ref, nil
}

// namedRef keeps a dotted module path in Module so StageName resolves
// its last segment
func namedRef(word string) StageRef {
	if strings.Contains(word, ".") {
		return StageRef{Module: word}
	}
	return StageRef{Name: word}
}

// decodeRefList decodes a YAML (or JSON) list, or a mapping with a
// `stages` list.
func decodeRefList(data []byte) ([]StageRef, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.WrapConfiguration(err, "failed to parse stage list")
	}
	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	var refs []StageRef
	switch node.Kind {
	case yaml.MappingNode:
		var file refFile
		if err := node.Decode(&file); err != nil {
			return nil, errors.WrapConfiguration(err, "failed to decode stages")
		}
		refs = file.Stages
	case yaml.SequenceNode:
		if err := node.Decode(&refs); err != nil {
			return nil, errors.WrapConfiguration(err, "failed to decode stages")
		}
	default:
		return nil, errors.NewConfigurationError("stage list must be a list or a mapping with stages")
	}

	if len(refs) == 0 {
		return nil, errors.NewConfigurationError("stage list is empty")
	}
	return refs, nil
}

// LoadStageRefsFile reads a pipeline file: .yaml, .yml or .json (a list or
// a `stages:` mapping), .toml (`[[stage]]` tables), or anything else as a
// plain stage list.
func LoadStageRefsFile(path string) ([]StageRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "failed to read pipeline file "+path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var file refFile
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, errors.WrapConfiguration(err, "failed to parse "+path)
		}
		if len(file.Stages) == 0 {
			return nil, errors.NewConfigurationError("no [[stage]] tables in %s", path)
		}
		return file.Stages, nil
	case ".yaml", ".yml", ".json":
		refs, err := decodeRefList(data)
		if err != nil {
			return nil, errors.Wrapf(err, "pipeline file %s", path)
		}
		return refs, nil
	default:
		return ParseStageRefs(string(data))
	}
}
