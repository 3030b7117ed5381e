package docstore

import (
	"context"
	"crypto/sha256"

	"github.com/mr-tron/base58"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
)

// ContentID derives a document ID from its text: base58 of the SHA-256
func ContentID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return base58.Encode(sum[:])
}

// Register stores ad-hoc text as a document so its results can be cached.
// The ID is the content hash, so identical text always maps to the same
// handle and registering it again is a no-op.
func Register(ctx context.Context, w Writer, index, docType, field, text string) (pipeline.Handle, error) {
	if index == "" || docType == "" {
		return pipeline.Handle{}, errors.NewConfigurationError("register needs an index and a document type")
	}
	if field == "" {
		field = pipeline.DefaultField
	}

	h := pipeline.NewHandle(index, docType, ContentID(text), field)
	if err := w.AddDocument(ctx, h, map[string]string{field: text}); err != nil && !errors.Is(err, ErrDocumentExists) {
		return pipeline.Handle{}, errors.Wrap(err, "failed to register ad-hoc document")
	}
	return h, nil
}
