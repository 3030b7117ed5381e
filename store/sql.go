package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/corpipe/db"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/pipeline"
)

// maxIDsPerQuery bounds the IN list of one batched read
const maxIDsPerQuery = 500

// SQLStore is a pipeline.ResultStore over the stage_results table
type SQLStore struct {
	conn    *sql.DB
	dialect db.Dialect
	groups  *GroupChecker
	logger  *zap.SugaredLogger
}

// NewSQLStore creates a store on a migrated database
func NewSQLStore(conn *sql.DB, dialect db.Dialect, log *zap.SugaredLogger) *SQLStore {
	if log == nil {
		log = logger.Logger
	}
	return &SQLStore{
		conn:    conn,
		dialect: dialect,
		groups:  NewGroupChecker(),
		logger:  log.Named("store"),
	}
}

// GetMany implements pipeline.ResultStore. Handles are grouped by type
// and read in batches of maxIDsPerQuery.
func (s *SQLStore) GetMany(ctx context.Context, docs []pipeline.Handle, fingerprint string) ([]pipeline.Lookup, error) {
	index, err := pipeline.CollectionOf(docs)
	if err != nil {
		return nil, err
	}

	idsByType := make(map[string][]string)
	for _, h := range docs {
		idsByType[h.Type] = append(idsByType[h.Type], h.ID)
	}

	found := make(map[string]json.RawMessage)
	for docType, ids := range idsByType {
		for start := 0; start < len(ids); start += maxIDsPerQuery {
			chunk := ids[start:min(start+maxIDsPerQuery, len(ids))]
			if err := s.readChunk(ctx, index, docType, fingerprint, chunk, found); err != nil {
				return nil, err
			}
		}
	}

	lookups := make([]pipeline.Lookup, len(docs))
	for i, h := range docs {
		value, ok := found[h.Key()]
		lookups[i] = pipeline.Lookup{Handle: h, Value: value, Found: ok}
	}
	return lookups, nil
}

func (s *SQLStore) readChunk(ctx context.Context, index, docType, fingerprint string, ids []string, found map[string]json.RawMessage) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := s.dialect.Rebind(`
		SELECT doc_id, data
		FROM stage_results
		WHERE collection = ? AND doc_type = ? AND fingerprint = ?
		  AND doc_id IN (` + placeholders + `)`)

	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, index, docType, fingerprint)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		err = errors.Wrapf(err, "failed to read results at %q", fingerprint)
		return errors.WithDetailf(err, "Collection: %s, type: %s, documents: %d", index, docType, len(ids))
	}
	defer rows.Close()

	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return errors.Wrap(err, "failed to scan result")
		}
		found[pipeline.NewHandle(index, docType, id).Key()] = json.RawMessage(data)
	}
	return errors.Wrap(rows.Err(), "failed to iterate results")
}

// Put implements pipeline.ResultStore as an upsert
func (s *SQLStore) Put(ctx context.Context, doc pipeline.Handle, fingerprint string, value json.RawMessage) error {
	if !json.Valid(value) {
		return errors.Newf("refusing to store invalid JSON for %s at %q", doc.Key(), fingerprint)
	}

	query := s.dialect.Rebind(`
		INSERT INTO stage_results (collection, doc_type, doc_id, fingerprint, data, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, doc_type, doc_id, fingerprint)
		DO UPDATE SET data = excluded.data, stored_at = excluded.stored_at`)

	if _, err := s.conn.ExecContext(ctx, query,
		doc.Index, doc.Type, doc.ID, fingerprint, string(value), time.Now().UTC()); err != nil {
		err = errors.Wrapf(err, "failed to store result for %s", doc.Key())
		return errors.WithDetailf(err, "Fingerprint: %s", fingerprint)
	}
	return nil
}

// DeclareOutput implements pipeline.OutputDeclarer. Each group is
// inserted at most once per store instance.
func (s *SQLStore) DeclareOutput(ctx context.Context, index, docType, fingerprint string, fields []string) error {
	return s.groups.Ensure(groupKey(index, docType, fingerprint), func() error {
		if fields == nil {
			fields = []string{}
		}
		encoded, err := json.Marshal(fields)
		if err != nil {
			return errors.Wrap(err, "failed to encode output fields")
		}

		query := s.dialect.Rebind(`
			INSERT INTO result_groups (collection, doc_type, fingerprint, output_fields, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (collection, doc_type, fingerprint) DO NOTHING`)
		if _, err := s.conn.ExecContext(ctx, query, index, docType, fingerprint, string(encoded), time.Now().UTC()); err != nil {
			return errors.Wrapf(err, "failed to register result group %q", fingerprint)
		}

		s.logger.Debugw("Registered result group",
			"collection", index,
			"doc_type", docType,
			logger.FieldFingerprint, fingerprint)
		return nil
	})
}

// Get returns one stored result
func (s *SQLStore) Get(ctx context.Context, doc pipeline.Handle, fingerprint string) (*StoredResult, error) {
	query := s.dialect.Rebind(`
		SELECT data, stored_at FROM stage_results
		WHERE collection = ? AND doc_type = ? AND doc_id = ? AND fingerprint = ?`)

	var data string
	result := &StoredResult{Index: doc.Index, Type: doc.Type, ID: doc.ID, Fingerprint: fingerprint}
	err := s.conn.QueryRowContext(ctx, query, doc.Index, doc.Type, doc.ID, fingerprint).Scan(&data, &result.StoredAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no result for %s at %q", doc.Key(), fingerprint)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read result for %s", doc.Key())
	}
	result.Data = json.RawMessage(data)
	return result, nil
}

// List returns every result stored for a document, by fingerprint
func (s *SQLStore) List(ctx context.Context, doc pipeline.Handle) ([]StoredResult, error) {
	query := s.dialect.Rebind(`
		SELECT fingerprint, data, stored_at FROM stage_results
		WHERE collection = ? AND doc_type = ? AND doc_id = ?
		ORDER BY fingerprint`)

	rows, err := s.conn.QueryContext(ctx, query, doc.Index, doc.Type, doc.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list results for %s", doc.Key())
	}
	defer rows.Close()

	var results []StoredResult
	for rows.Next() {
		r := StoredResult{Index: doc.Index, Type: doc.Type, ID: doc.ID}
		var data string
		if err := rows.Scan(&r.Fingerprint, &data, &r.StoredAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan result")
		}
		r.Data = json.RawMessage(data)
		results = append(results, r)
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate results")
}

// Groups returns the result groups of a collection with their result
// counts
func (s *SQLStore) Groups(ctx context.Context, index string) ([]Group, error) {
	query := s.dialect.Rebind(`
		SELECT g.collection, g.doc_type, g.fingerprint, g.output_fields, g.created_at,
		       (SELECT COUNT(*) FROM stage_results r
		        WHERE r.collection = g.collection AND r.doc_type = g.doc_type
		          AND r.fingerprint = g.fingerprint)
		FROM result_groups g
		WHERE g.collection = ?
		ORDER BY g.doc_type, g.fingerprint`)

	rows, err := s.conn.QueryContext(ctx, query, index)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list result groups of %s", index)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		var fields string
		if err := rows.Scan(&g.Index, &g.Type, &g.Fingerprint, &fields, &g.CreatedAt, &g.Results); err != nil {
			return nil, errors.Wrap(err, "failed to scan result group")
		}
		if err := json.Unmarshal([]byte(fields), &g.OutputFields); err != nil {
			return nil, errors.Wrapf(err, "bad output fields for %q", g.Fingerprint)
		}
		groups = append(groups, g)
	}
	return groups, errors.Wrap(rows.Err(), "failed to iterate result groups")
}

// Count returns how many results are stored in a collection
func (s *SQLStore) Count(ctx context.Context, index string) (int, error) {
	var n int
	query := s.dialect.Rebind(`SELECT COUNT(*) FROM stage_results WHERE collection = ?`)
	if err := s.conn.QueryRowContext(ctx, query, index).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "failed to count results of %s", index)
	}
	return n, nil
}

// Delete removes one stored result. Deleting a missing result is not an
// error.
func (s *SQLStore) Delete(ctx context.Context, doc pipeline.Handle, fingerprint string) error {
	query := s.dialect.Rebind(`
		DELETE FROM stage_results
		WHERE collection = ? AND doc_type = ? AND doc_id = ? AND fingerprint = ?`)
	if _, err := s.conn.ExecContext(ctx, query, doc.Index, doc.Type, doc.ID, fingerprint); err != nil {
		return errors.Wrapf(err, "failed to delete result for %s", doc.Key())
	}
	return nil
}
