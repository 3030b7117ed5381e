package pipeline

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultField is the field fetched when a handle names none
const DefaultField = "text"

// Handle identifies a stored document. Its identity for caching is
// (Index, Type, ID); Fields only select which text to fetch.
type Handle struct {
	Index  string   `json:"index"`
	Type   string   `json:"type"`
	ID     string   `json:"id"`
	Fields []string `json:"fields,omitempty"`
}

// NewHandle creates a handle, defaulting fields to DefaultField
func NewHandle(index, docType, id string, fields ...string) Handle {
	return Handle{Index: index, Type: docType, ID: id, Fields: fields}
}

// Key renders the cache identity as index/type/id
func (h Handle) Key() string {
	return h.Index + "/" + h.Type + "/" + h.ID
}

// FieldNames returns the fields to fetch
func (h Handle) FieldNames() []string {
	if len(h.Fields) == 0 {
		return []string{DefaultField}
	}
	return h.Fields
}

// Equal reports structural equality
func (h Handle) Equal(other Handle) bool {
	return h.Key() == other.Key() && slices.Equal(h.FieldNames(), other.FieldNames())
}

func (h Handle) String() string {
	return h.Key() + "[" + strings.Join(h.FieldNames(), ",") + "]"
}

// Document is either ad-hoc text or a handle to a stored document.
type Document struct {
	Text   string  `json:"text,omitempty"`
	Handle *Handle `json:"handle,omitempty"`
}

// Text wraps raw text as an ad-hoc document
func Text(text string) Document {
	return Document{Text: text}
}

// Ref wraps a handle as a document
func Ref(h Handle) Document {
	return Document{Handle: &h}
}

// IsAdHoc reports whether the document has no stored identity
func (d Document) IsAdHoc() bool {
	return d.Handle == nil
}

// Key returns the result-map key: the handle key, or adhoc/<position>
func (d Document) Key(position int) string {
	if d.Handle != nil {
		return d.Handle.Key()
	}
	return fmt.Sprintf("adhoc/%d", position)
}

func (d Document) String() string {
	if d.Handle != nil {
		return d.Handle.String()
	}
	text := d.Text
	if len(text) > 32 {
		text = text[:32] + "..."
	}
	return fmt.Sprintf("%q", text)
}
