package store

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/corpipe/db"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
)

type textFetcher map[string]string

func (f textFetcher) Fetch(ctx context.Context, doc pipeline.Document) (string, error) {
	if doc.Handle == nil {
		return doc.Text, nil
	}
	text, ok := f[doc.Handle.Key()]
	if !ok {
		return "", errors.Mark(errors.Newf("missing %s", doc.Handle.Key()), errors.ErrDocumentFetch)
	}
	return text, nil
}

func wordsRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	registry := pipeline.NewRegistry()
	require.NoError(t, registry.Register(pipeline.StageSpec{
		Name:   "tokenize",
		Output: []string{"tokens"},
		Stage: pipeline.Typed(func(ctx context.Context, text string, args pipeline.Args) ([]string, error) {
			return strings.Fields(text), nil
		}),
	}))
	require.NoError(t, registry.Register(pipeline.StageSpec{
		Name:   "upper",
		Output: []string{"tokens"},
		Stage: pipeline.Typed(func(ctx context.Context, tokens []string, args pipeline.Args) ([]string, error) {
			out := make([]string, len(tokens))
			for i, tok := range tokens {
				out[i] = strings.ToUpper(tok)
			}
			return out, nil
		}),
	}))
	return registry
}

func newStorePipeline(t *testing.T, s pipeline.ResultStore, fetcher pipeline.Fetcher, policy pipeline.ReadPolicy) *pipeline.Pipeline {
	t.Helper()
	log := zap.NewNop().Sugar()
	p, err := pipeline.New(pipeline.Config{
		Registry:   wordsRegistry(t),
		Store:      s,
		Executor:   pipeline.NewLocalExecutor(pipeline.NewRunner(s, fetcher, log), 2),
		ReadPolicy: policy,
		Logger:     log,
	})
	require.NoError(t, err)
	return p
}

func TestPipelineOnSQLStore(t *testing.T) {
	s := newTestStore(t)
	h := pipeline.NewHandle("corpus", "article", "1")
	p := newStorePipeline(t, s, textFetcher{h.Key(): "hello   stored\n\nworld"}, pipeline.FailOpen)
	ctx := context.Background()
	opts := pipeline.Options{StoreFinal: true, StoreIntermediate: true, Blocking: true}

	first, err := p.Run(ctx, []pipeline.Document{pipeline.Ref(h)}, pipeline.Refs("tokenize", "upper"), opts)
	require.NoError(t, err)
	require.Equal(t, pipeline.StateSucceeded, first[h.Key()].State)
	assert.JSONEq(t, `["HELLO","STORED","WORLD"]`, string(first[h.Key()].Value))

	results, err := s.List(ctx, h)
	require.NoError(t, err)
	require.Len(t, results, 2)

	second, err := p.Run(ctx, []pipeline.Document{pipeline.Ref(h)}, pipeline.Refs("tokenize", "upper"), opts)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCached, second[h.Key()].State)

	groups, err := s.Groups(ctx, "corpus")
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestReadPolicyOnBrokenStore(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	s := NewSQLStore(conn, db.DialectSQLite, zap.NewNop().Sugar())
	h := pipeline.NewHandle("corpus", "article", "1")
	refs := pipeline.Refs("tokenize", "upper")

	t.Run("fail open recomputes", func(t *testing.T) {
		mock.ExpectQuery("SELECT doc_id, data").WillReturnError(errors.New("connection reset"))
		mock.ExpectQuery("SELECT doc_id, data").WillReturnError(errors.New("connection reset"))
		mock.ExpectExec("INSERT INTO result_groups").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO stage_results").
			WithArgs("corpus", "article", "1", "tokenize__upper", `["A","B"]`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		p := newStorePipeline(t, s, textFetcher{h.Key(): "a b"}, pipeline.FailOpen)
		value, err := p.RunOne(context.Background(), pipeline.Ref(h), refs, pipeline.DefaultOptions())
		require.NoError(t, err)
		assert.JSONEq(t, `["A","B"]`, string(value))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fail closed stops the run", func(t *testing.T) {
		mock.ExpectQuery("SELECT doc_id, data").WillReturnError(errors.New("connection reset"))

		p := newStorePipeline(t, s, textFetcher{h.Key(): "a b"}, pipeline.FailClosed)
		_, err := p.RunOne(context.Background(), pipeline.Ref(h), refs, pipeline.DefaultOptions())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreWriteFailureKeepsValue(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	s := NewSQLStore(conn, db.DialectSQLite, zap.NewNop().Sugar())
	h := pipeline.NewHandle("corpus", "article", "1")

	mock.ExpectQuery("SELECT doc_id, data").WillReturnRows(sqlmock.NewRows([]string{"doc_id", "data"}))
	mock.ExpectExec("INSERT INTO result_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO stage_results").WillReturnError(errors.New("disk I/O error"))

	p := newStorePipeline(t, s, textFetcher{h.Key(): "kept anyway"}, pipeline.FailOpen)
	value, err := p.RunOne(context.Background(), pipeline.Ref(h), pipeline.Refs("tokenize"), pipeline.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`["kept","anyway"]`), value)
	assert.NoError(t, mock.ExpectationsWereMet())
}
