// Package docstore loads the source text of documents.
//
// A Source returns the raw fields of a stored document; Fetcher turns them
// into pipeline input. SQLSource reads the documents table, ObjectSource
// reads JSON objects from a MinIO bucket per collection.
package docstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
)

// ErrDocumentExists is returned by AddDocument for an existing document
var ErrDocumentExists = errors.New("document already exists")

// Source returns the stored fields of a document
type Source interface {
	Fields(ctx context.Context, h pipeline.Handle) (map[string]string, error)
}

// Writer stores new documents
type Writer interface {
	AddDocument(ctx context.Context, h pipeline.Handle, fields map[string]string) error
}

// Lister enumerates the documents of one type in a collection
type Lister interface {
	Handles(ctx context.Context, index, docType, field string, limit int) ([]pipeline.Handle, error)
}

// FetchError reports text that could not be loaded. It matches
// errors.ErrDocumentFetch.
type FetchError struct {
	Document string
	Field    string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("fetch %s field %q: %v", e.Document, e.Field, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Document, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches errors.ErrDocumentFetch
func (e *FetchError) Is(target error) bool {
	return target == errors.ErrDocumentFetch
}

// Fetcher implements pipeline.Fetcher on a Source
type Fetcher struct {
	source Source
}

// NewFetcher creates a fetcher reading from source
func NewFetcher(source Source) *Fetcher {
	return &Fetcher{source: source}
}

// Fetch returns ad-hoc text unchanged. For a handle it joins the named
// fields with blank lines and normalizes the result.
func (f *Fetcher) Fetch(ctx context.Context, doc pipeline.Document) (string, error) {
	if doc.Handle == nil {
		return doc.Text, nil
	}
	h := *doc.Handle

	fields, err := f.source.Fields(ctx, h)
	if err != nil {
		return "", &FetchError{Document: h.Key(), Err: err}
	}

	parts := make([]string, 0, len(h.FieldNames()))
	for _, name := range h.FieldNames() {
		text, ok := fields[name]
		if !ok {
			return "", &FetchError{Document: h.Key(), Field: name, Err: errors.NewNotFoundError("no such field")}
		}
		parts = append(parts, text)
	}
	return Normalize(strings.Join(parts, "\n\n")), nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize splits text into paragraphs at blank lines, collapses the
// whitespace inside each paragraph to single spaces and joins the
// paragraphs with one newline.
func Normalize(text string) string {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(whitespace.ReplaceAllString(p, " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
