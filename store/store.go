// Package store persists stage outputs for the pipeline.
//
// SQLStore keeps results in the stage_results table (sqlite or postgres)
// and registers each fingerprint once in result_groups. RedisCache wraps
// any pipeline.ResultStore with a read-through cache.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/teranos/corpipe/pipeline"
)

// StoredResult is one row of stage_results
type StoredResult struct {
	Index       string          `json:"index"`
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint"`
	Data        json.RawMessage `json:"data"`
	StoredAt    time.Time       `json:"stored_at"`
}

// Group is one row of result_groups: a fingerprint written for a
// collection and document type, with the fields its stage declares.
type Group struct {
	Index        string    `json:"index"`
	Type         string    `json:"type"`
	Fingerprint  string    `json:"fingerprint"`
	OutputFields []string  `json:"output_fields"`
	Results      int       `json:"results"`
	CreatedAt    time.Time `json:"created_at"`
}

// Deleter removes stored results. Implemented by SQLStore and by
// RedisCache, which also drops its cached copy.
type Deleter interface {
	Delete(ctx context.Context, doc pipeline.Handle, fingerprint string) error
}

// GroupChecker remembers which result groups are known to exist, so each
// is registered at most once per store instance.
type GroupChecker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewGroupChecker creates an empty checker
func NewGroupChecker() *GroupChecker {
	return &GroupChecker{seen: make(map[string]struct{})}
}

// Ensure calls create unless key was already ensured successfully.
// Concurrent callers for one key may both call create; create must be
// idempotent.
func (g *GroupChecker) Ensure(key string, create func() error) error {
	g.mu.Lock()
	_, ok := g.seen[key]
	g.mu.Unlock()
	if ok {
		return nil
	}

	if err := create(); err != nil {
		return err
	}

	g.mu.Lock()
	g.seen[key] = struct{}{}
	g.mu.Unlock()
	return nil
}

// Known reports whether key was ensured
func (g *GroupChecker) Known(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[key]
	return ok
}

func groupKey(index, docType, fingerprint string) string {
	return index + "/" + docType + "#" + fingerprint
}
