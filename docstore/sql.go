package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/corpipe/db"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/pipeline"
)

// Document is a stored source document
type Document struct {
	Index     string            `json:"index"`
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
}

// Handle returns a handle to the document reading the given fields
func (d Document) Handle(fields ...string) pipeline.Handle {
	return pipeline.NewHandle(d.Index, d.Type, d.ID, fields...)
}

// SQLSource reads and writes the documents table
type SQLSource struct {
	conn    *sql.DB
	dialect db.Dialect
	logger  *zap.SugaredLogger
}

// NewSQLSource creates a source on a migrated database
func NewSQLSource(conn *sql.DB, dialect db.Dialect, log *zap.SugaredLogger) *SQLSource {
	if log == nil {
		log = logger.Logger
	}
	return &SQLSource{conn: conn, dialect: dialect, logger: log.Named("docstore")}
}

// Fields implements Source
func (s *SQLSource) Fields(ctx context.Context, h pipeline.Handle) (map[string]string, error) {
	doc, err := s.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	return doc.Fields, nil
}

// Get returns one document
func (s *SQLSource) Get(ctx context.Context, h pipeline.Handle) (*Document, error) {
	query := s.dialect.Rebind(`
		SELECT fields, created_at FROM documents
		WHERE collection = ? AND doc_type = ? AND id = ?`)

	var fields string
	doc := &Document{Index: h.Index, Type: h.Type, ID: h.ID}
	err := s.conn.QueryRowContext(ctx, query, h.Index, h.Type, h.ID).Scan(&fields, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no document %s", h.Key())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read document %s", h.Key())
	}
	if err := json.Unmarshal([]byte(fields), &doc.Fields); err != nil {
		return nil, errors.Wrapf(err, "bad fields for document %s", h.Key())
	}
	return doc, nil
}

// AddDocument implements Writer. It returns ErrDocumentExists when the
// document is already stored.
func (s *SQLSource) AddDocument(ctx context.Context, h pipeline.Handle, fields map[string]string) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "failed to encode document fields")
	}

	query := s.dialect.Rebind(`
		INSERT INTO documents (collection, doc_type, id, fields, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err = s.conn.ExecContext(ctx, query, h.Index, h.Type, h.ID, string(encoded), time.Now().UTC())
	if db.IsUniqueViolation(err) {
		return errors.Mark(errors.Newf("document %s already exists", h.Key()), ErrDocumentExists)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to add document %s", h.Key())
	}

	s.logger.Debugw("Added document", "document", h.Key(), "fields", len(fields))
	return nil
}

// List returns the documents of one type in a collection, ordered by ID.
// A limit of zero lists all of them.
func (s *SQLSource) List(ctx context.Context, index, docType string, limit int) ([]Document, error) {
	query := `
		SELECT id, fields, created_at FROM documents
		WHERE collection = ? AND doc_type = ?
		ORDER BY id`
	args := []interface{}{index, docType}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list documents of %s/%s", index, docType)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d := Document{Index: index, Type: docType}
		var fields string
		if err := rows.Scan(&d.ID, &fields, &d.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan document")
		}
		if err := json.Unmarshal([]byte(fields), &d.Fields); err != nil {
			return nil, errors.Wrapf(err, "bad fields for document %s", d.Handle().Key())
		}
		docs = append(docs, d)
	}
	return docs, errors.Wrap(rows.Err(), "failed to iterate documents")
}

// Handles lists the documents of one type as handles reading field
func (s *SQLSource) Handles(ctx context.Context, index, docType, field string, limit int) ([]pipeline.Handle, error) {
	docs, err := s.List(ctx, index, docType, limit)
	if err != nil {
		return nil, err
	}
	handles := make([]pipeline.Handle, len(docs))
	for i, d := range docs {
		if field == "" {
			handles[i] = d.Handle()
		} else {
			handles[i] = d.Handle(field)
		}
	}
	return handles, nil
}
