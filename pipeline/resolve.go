package pipeline

import (
	"context"
	"encoding/json"

	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
)

// ReadPolicy decides what a result-store read error means during resolution
type ReadPolicy string

const (
	// FailOpen treats a failed lookup as "no cached prefix"
	FailOpen ReadPolicy = "fail_open"
	// FailClosed aborts resolution on the first failed lookup
	FailClosed ReadPolicy = "fail_closed"
)

// ParseReadPolicy parses a configured policy; "" means FailOpen
func ParseReadPolicy(s string) (ReadPolicy, error) {
	switch ReadPolicy(s) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	}
	return "", errors.NewConfigurationError("unknown read policy %q (want %s or %s)", s, FailOpen, FailClosed)
}

// CachedDoc is a document whose whole chain is stored
type CachedDoc struct {
	Handle Handle
	Value  json.RawMessage
}

// ResumableDoc is a document with a stored prefix. Stage ResumeIndex is
// the first one still to run and Value is its input.
type ResumableDoc struct {
	Handle      Handle
	ResumeIndex int
	Value       json.RawMessage
}

// Partition splits documents by how much of the chain is already stored
type Partition struct {
	Cached    []CachedDoc
	Resumable []ResumableDoc
	Uncached  []Handle
}

// Resolve finds each document's longest stored prefix of chain. Prefixes
// are looked up longest first, so a document is classified by its first hit
// and never revisited.
func Resolve(ctx context.Context, store ResultStore, docs []Handle, chain Chain, policy ReadPolicy) (Partition, error) {
	var partition Partition
	if len(chain) == 0 {
		return partition, errors.NewConfigurationError("cannot resolve an empty chain")
	}
	if _, err := CollectionOf(docs); err != nil {
		return partition, err
	}

	log := logger.FromContext(ctx, logger.Logger).Named("resolve")

	pending := docs
	for i := len(chain); i >= 1 && len(pending) > 0; i-- {
		fingerprint := Fingerprint(chain, i)

		lookups, err := store.GetMany(ctx, pending, fingerprint)
		if err != nil {
			if policy == FailClosed || errors.Is(err, ErrMixedCollections) {
				return Partition{}, errors.Wrapf(err, "failed to read cached prefix %q", fingerprint)
			}
			log.Warnw("Result store read failed, treating prefix as not cached",
				logger.FieldFingerprint, fingerprint,
				logger.FieldCount, len(pending),
				logger.FieldError, err)
			continue
		}

		hits := make(map[string]json.RawMessage, len(lookups))
		for _, l := range lookups {
			if l.Found {
				hits[l.Handle.Key()] = l.Value
			}
		}

		next := make([]Handle, 0, len(pending))
		for _, h := range pending {
			value, ok := hits[h.Key()]
			switch {
			case !ok:
				next = append(next, h)
			case i == len(chain):
				partition.Cached = append(partition.Cached, CachedDoc{Handle: h, Value: value})
			default:
				partition.Resumable = append(partition.Resumable, ResumableDoc{Handle: h, ResumeIndex: i, Value: value})
			}
		}

		if hitCount := len(pending) - len(next); hitCount > 0 {
			log.Debugw("Cached prefix found",
				logger.FieldFingerprint, fingerprint,
				logger.FieldCount, hitCount)
		}
		pending = next
	}

	partition.Uncached = pending
	return partition, nil
}
