package stages

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
)

var (
	wordPattern        = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
	wordOrMarkPattern  = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*|[^\s\p{L}\p{N}]`)
	sentenceEndPattern = regexp.MustCompile(`[.!?]+["'”’)\]]*\s+`)
)

// textInput decodes a string or a list of strings
type textInput struct {
	items  []string
	isList bool
}

func (t *textInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.items = []string{s}
		return nil
	}
	if err := json.Unmarshal(data, &t.items); err != nil {
		return errors.New("expected a string or a list of strings")
	}
	t.isList = true
	return nil
}

func (t textInput) text() string {
	return strings.Join(t.items, "\n")
}

func tokenize(ctx context.Context, in textInput, args pipeline.Args) ([]string, error) {
	pattern := wordPattern
	if args.Bool("punctuation") {
		pattern = wordOrMarkPattern
	}

	tokens := []string{}
	for _, item := range in.items {
		tokens = append(tokens, pattern.FindAllString(item, -1)...)
	}
	return tokens, nil
}

func lowercase(ctx context.Context, raw json.RawMessage, args pipeline.Args) (json.RawMessage, error) {
	var in textInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}

	out := make([]string, len(in.items))
	for i, item := range in.items {
		out[i] = strings.ToLower(item)
	}
	if in.isList {
		return json.Marshal(out)
	}
	return json.Marshal(out[0])
}

func sentences(ctx context.Context, in textInput, args pipeline.Args) ([]string, error) {
	out := []string{}
	for _, line := range strings.Split(in.text(), "\n") {
		start := 0
		for _, loc := range sentenceEndPattern.FindAllStringIndex(line, -1) {
			if s := strings.TrimSpace(line[start:loc[1]]); s != "" {
				out = append(out, s)
			}
			start = loc[1]
		}
		if s := strings.TrimSpace(line[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
