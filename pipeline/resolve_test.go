package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/corpipe/errors"
)

func TestResolvePartitions(t *testing.T) {
	registry, _ := newTestRegistry(t)
	chain := mustNormalize(t, registry, "tokenize", "pos_tag", "lemmatize")

	full := NewHandle("corpus", "article", "full")
	half := NewHandle("corpus", "article", "half")
	fresh := NewHandle("corpus", "article", "fresh")

	store := newMemStore()
	store.seed(full, "tokenize__pos_tag__lemmatize", `["done"]`)
	store.seed(full, "tokenize", `["stale"]`)
	store.seed(half, "tokenize__pos_tag", `[["a","NN"]]`)
	store.seed(half, "tokenize", `["a"]`)

	partition, err := Resolve(context.Background(), store, []Handle{fresh, half, full}, chain, FailOpen)
	require.NoError(t, err)

	require.Len(t, partition.Cached, 1)
	assert.Equal(t, full, partition.Cached[0].Handle)
	assert.JSONEq(t, `["done"]`, string(partition.Cached[0].Value))

	require.Len(t, partition.Resumable, 1)
	assert.Equal(t, half, partition.Resumable[0].Handle)
	assert.Equal(t, 2, partition.Resumable[0].ResumeIndex, "longest prefix wins")
	assert.JSONEq(t, `[["a","NN"]]`, string(partition.Resumable[0].Value))

	assert.Equal(t, []Handle{fresh}, partition.Uncached)

	// Longest first; full is not looked up again after its hit
	assert.Equal(t, []string{"tokenize__pos_tag__lemmatize", "tokenize__pos_tag", "tokenize"}, store.asked)
}

func TestResolveStopsProbingWhenAllClassified(t *testing.T) {
	registry, _ := newTestRegistry(t)
	chain := mustNormalize(t, registry, "tokenize", "pos_tag")
	doc := NewHandle("corpus", "article", "1")

	store := newMemStore()
	store.seed(doc, "tokenize__pos_tag", `[]`)

	_, err := Resolve(context.Background(), store, []Handle{doc}, chain, FailOpen)
	require.NoError(t, err)
	assert.Equal(t, []string{"tokenize__pos_tag"}, store.asked)
}

func TestResolveReadPolicy(t *testing.T) {
	registry, _ := newTestRegistry(t)
	chain := mustNormalize(t, registry, "tokenize", "pos_tag")
	doc := NewHandle("corpus", "article", "1")

	store := newMemStore()
	store.seed(doc, "tokenize", `["x"]`)
	store.failGet["tokenize__pos_tag"] = errors.New("connection refused")

	t.Run("fail open skips the failed lookup", func(t *testing.T) {
		partition, err := Resolve(context.Background(), store, []Handle{doc}, chain, FailOpen)
		require.NoError(t, err)
		require.Len(t, partition.Resumable, 1)
		assert.Equal(t, 1, partition.Resumable[0].ResumeIndex)
	})

	t.Run("fail closed aborts", func(t *testing.T) {
		_, err := Resolve(context.Background(), store, []Handle{doc}, chain, FailClosed)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestResolveMixedCollections(t *testing.T) {
	registry, _ := newTestRegistry(t)
	chain := mustNormalize(t, registry, "tokenize")

	docs := []Handle{NewHandle("news", "article", "1"), NewHandle("blogs", "post", "1")}
	store := newMemStore()

	_, err := Resolve(context.Background(), store, docs, chain, FailOpen)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMixedCollections))
	assert.True(t, errors.IsConfigurationError(err))
	assert.Empty(t, store.asked, "rejected before any lookup")
}

func TestParseReadPolicy(t *testing.T) {
	policy, err := ParseReadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, policy)

	policy, err = ParseReadPolicy("fail_closed")
	require.NoError(t, err)
	assert.Equal(t, FailClosed, policy)

	_, err = ParseReadPolicy("sometimes")
	assert.True(t, errors.IsConfigurationError(err))
}
