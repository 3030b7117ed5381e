package pipeline

import (
	"context"
	"encoding/json"

	"github.com/teranos/corpipe/errors"
)

// Stage is one annotation step. Execute must be a pure function of input
// and args; cached results are reused on that assumption.
type Stage interface {
	Execute(ctx context.Context, input json.RawMessage, args Args) (json.RawMessage, error)
}

// StageFunc adapts an ordinary function to Stage
type StageFunc func(ctx context.Context, input json.RawMessage, args Args) (json.RawMessage, error)

// Execute calls f
func (f StageFunc) Execute(ctx context.Context, input json.RawMessage, args Args) (json.RawMessage, error) {
	return f(ctx, input, args)
}

// Typed adapts a function over decoded values. The input is unmarshalled
// into In and the returned Out marshalled back to JSON.
func Typed[In, Out any](fn func(ctx context.Context, input In, args Args) (Out, error)) Stage {
	return StageFunc(func(ctx context.Context, raw json.RawMessage, args Args) (json.RawMessage, error) {
		var input In
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, errors.Wrapf(err, "decode input as %T", input)
		}
		out, err := fn(ctx, input, args)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, errors.Wrapf(err, "encode output %T", out)
		}
		return data, nil
	})
}

// Args holds canonical stage arguments. After normalization numbers are
// float64, matching encoding/json.
type Args map[string]interface{}

// String returns the string argument key, or "" if absent
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns the numeric argument key truncated to int
func (a Args) Int(key string) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// Float returns the numeric argument key
func (a Args) Float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Bool returns the boolean argument key
func (a Args) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

// Canonical returns the sorted-key JSON encoding of the arguments
func (a Args) Canonical() string {
	if len(a) == 0 {
		return "{}"
	}
	// encoding/json sorts map keys
	data, err := json.Marshal(map[string]interface{}(a))
	if err != nil {
		return "{}"
	}
	return string(data)
}
