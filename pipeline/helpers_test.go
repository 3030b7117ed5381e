package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/corpipe/errors"
)

// memStore is an in-memory ResultStore with failure injection
type memStore struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	asked  []string
	puts    int
	failGet map[string]error
	failPut error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]json.RawMessage), failGet: make(map[string]error)}
}

func storeKey(h Handle, fingerprint string) string {
	return h.Key() + "#" + fingerprint
}

func (s *memStore) GetMany(ctx context.Context, docs []Handle, fingerprint string) ([]Lookup, error) {
	if _, err := CollectionOf(docs); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.asked = append(s.asked, fingerprint)
	if err := s.failGet[fingerprint]; err != nil {
		return nil, err
	}
	lookups := make([]Lookup, len(docs))
	for i, h := range docs {
		value, ok := s.data[storeKey(h, fingerprint)]
		lookups[i] = Lookup{Handle: h, Value: value, Found: ok}
	}
	return lookups, nil
}

func (s *memStore) Put(ctx context.Context, doc Handle, fingerprint string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPut != nil {
		return s.failPut
	}
	s.puts++
	s.data[storeKey(doc, fingerprint)] = value
	return nil
}

func (s *memStore) seed(h Handle, fingerprint string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[storeKey(h, fingerprint)] = json.RawMessage(value)
}

func (s *memStore) get(h Handle, fingerprint string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[storeKey(h, fingerprint)]
	return value, ok
}

func (s *memStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// mapFetcher serves handle text from a map keyed by Handle.Key()
type mapFetcher map[string]string

func (f mapFetcher) Fetch(ctx context.Context, doc Document) (string, error) {
	if doc.Handle == nil {
		return doc.Text, nil
	}
	text, ok := f[doc.Handle.Key()]
	if !ok {
		return "", errors.Mark(errors.Newf("document %s not found", doc.Handle.Key()), errors.ErrDocumentFetch)
	}
	return text, nil
}

// calls counts stage invocations by name
type calls struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *calls) wrap(name string, stage Stage) Stage {
	return StageFunc(func(ctx context.Context, input json.RawMessage, args Args) (json.RawMessage, error) {
		c.mu.Lock()
		c.counts[name]++
		c.mu.Unlock()
		return stage.Execute(ctx, input, args)
	})
}

func (c *calls) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// newTestRegistry registers tokenize, pos_tag, lemmatize, ngrams, fragile
// and explode.
func newTestRegistry(t *testing.T) (*Registry, *calls) {
	t.Helper()
	c := &calls{counts: make(map[string]int)}
	registry := NewRegistry()

	register := func(spec StageSpec) {
		spec.Stage = c.wrap(spec.Name, spec.Stage)
		require.NoError(t, registry.Register(spec))
	}

	register(StageSpec{
		Name:   "tokenize",
		Output: []string{"tokens"},
		Stage: Typed(func(ctx context.Context, text string, args Args) ([]string, error) {
			return strings.Fields(text), nil
		}),
	})
	register(StageSpec{
		Name:   "pos_tag",
		Output: []string{"tagged"},
		Stage: Typed(func(ctx context.Context, tokens []string, args Args) ([][2]string, error) {
			tagged := make([][2]string, len(tokens))
			for i, tok := range tokens {
				tag := "NN"
				if strings.HasSuffix(tok, "s") {
					tag = "VBZ"
				}
				tagged[i] = [2]string{tok, tag}
			}
			return tagged, nil
		}),
	})
	register(StageSpec{
		Name:   "lemmatize",
		Output: []string{"lemmas"},
		Stage: Typed(func(ctx context.Context, tagged [][2]string, args Args) ([]string, error) {
			lemmas := make([]string, len(tagged))
			for i, pair := range tagged {
				lemmas[i] = strings.ToLower(strings.TrimSuffix(pair[0], "s"))
			}
			return lemmas, nil
		}),
	})
	register(StageSpec{
		Name:   "ngrams",
		Output: []string{"ngrams"},
		Params: []Param{
			{Name: "n", Default: 2},
			{Name: "sep", Default: " "},
		},
		Stage: Typed(func(ctx context.Context, tokens []string, args Args) ([]string, error) {
			n := args.Int("n")
			var grams []string
			for i := 0; i+n <= len(tokens); i++ {
				grams = append(grams, strings.Join(tokens[i:i+n], args.String("sep")))
			}
			return grams, nil
		}),
	})
	register(StageSpec{
		Name:   "fragile",
		Output: []string{"tokens"},
		Params: []Param{{Name: "mode", Required: true}},
		Stage: Typed(func(ctx context.Context, tokens []string, args Args) ([]string, error) {
			for _, tok := range tokens {
				if tok == "bad" {
					return nil, errors.New("cannot handle bad token")
				}
			}
			return tokens, nil
		}),
	})
	register(StageSpec{
		Name:   "explode",
		Output: []string{"nothing"},
		Stage: StageFunc(func(ctx context.Context, input json.RawMessage, args Args) (json.RawMessage, error) {
			panic("boom")
		}),
	})

	return registry, c
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// newTestPipeline wires a pipeline on the local executor
func newTestPipeline(t *testing.T, store ResultStore, fetcher Fetcher) (*Pipeline, *calls) {
	t.Helper()
	registry, c := newTestRegistry(t)
	runner := NewRunner(store, fetcher, testLogger())
	p, err := New(Config{
		Registry: registry,
		Store:    store,
		Executor: NewLocalExecutor(runner, 4),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return p, c
}

func mustNormalize(t *testing.T, registry *Registry, names ...string) Chain {
	t.Helper()
	chain, err := Normalize(registry, Refs(names...))
	require.NoError(t, err)
	return chain
}
