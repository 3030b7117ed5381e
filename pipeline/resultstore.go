package pipeline

import (
	"context"
	"encoding/json"

	"github.com/teranos/corpipe/errors"
)

// ErrMixedCollections is returned when one batch spans several indexes
var ErrMixedCollections = errors.Mark(
	errors.New("documents span more than one collection"),
	errors.ErrConfiguration,
)

// Lookup is the result of reading one document at one fingerprint
type Lookup struct {
	Handle Handle
	Value  json.RawMessage
	Found  bool
}

// ResultStore persists stage outputs keyed by (document, fingerprint).
// Put is an idempotent upsert; the latest write wins.
type ResultStore interface {
	// GetMany returns one Lookup per handle, in order. All handles must
	// share one index.
	GetMany(ctx context.Context, docs []Handle, fingerprint string) ([]Lookup, error)
	Put(ctx context.Context, doc Handle, fingerprint string, value json.RawMessage) error
}

// OutputDeclarer is implemented by stores that record the declared output
// fields of a fingerprint's result group.
type OutputDeclarer interface {
	DeclareOutput(ctx context.Context, index, docType, fingerprint string, fields []string) error
}

// CollectionOf returns the single index shared by docs
func CollectionOf(docs []Handle) (string, error) {
	if len(docs) == 0 {
		return "", nil
	}
	index := docs[0].Index
	for _, h := range docs[1:] {
		if h.Index != index {
			return "", errors.Wrapf(ErrMixedCollections, "%q and %q", index, h.Index)
		}
	}
	return index, nil
}
