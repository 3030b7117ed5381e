package store

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/corpipe/am"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/pipeline"
)

// RedisKeyPrefix starts every cached result key
const RedisKeyPrefix = "corpipe:result:"

// RedisCache is a read-through cache in front of another ResultStore.
// Redis failures are logged and fall through to the backing store; the
// backing store stays the source of truth.
type RedisCache struct {
	client  redis.UniversalClient
	backing pipeline.ResultStore
	ttl     time.Duration
	logger  *zap.SugaredLogger
}

// NewRedisClient connects to Redis and pings it
func NewRedisClient(ctx context.Context, cfg am.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", cfg.Addr)
	}
	return client, nil
}

// NewRedisCache wraps backing. ttl <= 0 keeps entries until evicted.
func NewRedisCache(client redis.UniversalClient, backing pipeline.ResultStore, ttl time.Duration, log *zap.SugaredLogger) *RedisCache {
	if log == nil {
		log = logger.Logger
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisCache{
		client:  client,
		backing: backing,
		ttl:     ttl,
		logger:  log.Named("redis-cache"),
	}
}

// RedisKey returns the cache key of a result. Parts are query-escaped so
// a ':' inside an ID cannot shift the key into another document's.
func RedisKey(doc pipeline.Handle, fingerprint string) string {
	return RedisKeyPrefix + url.QueryEscape(doc.Index) + ":" + url.QueryEscape(doc.Type) + ":" +
		url.QueryEscape(doc.ID) + ":" + url.QueryEscape(fingerprint)
}

// GetMany serves hits from Redis and reads the misses from the backing
// store, caching what it finds.
func (c *RedisCache) GetMany(ctx context.Context, docs []pipeline.Handle, fingerprint string) ([]pipeline.Lookup, error) {
	if _, err := pipeline.CollectionOf(docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(docs))
	for i, h := range docs {
		keys[i] = RedisKey(h, fingerprint)
	}

	lookups := make([]pipeline.Lookup, len(docs))
	var misses []pipeline.Handle
	var missAt []int

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warnw("Redis read failed, using backing store",
			logger.FieldFingerprint, fingerprint,
			logger.FieldError, err)
		values = make([]interface{}, len(docs))
	}

	for i, h := range docs {
		if s, ok := values[i].(string); ok {
			lookups[i] = pipeline.Lookup{Handle: h, Value: json.RawMessage(s), Found: true}
			continue
		}
		misses = append(misses, h)
		missAt = append(missAt, i)
	}

	if len(misses) == 0 {
		return lookups, nil
	}

	backed, err := c.backing.GetMany(ctx, misses, fingerprint)
	if err != nil {
		return nil, err
	}

	var fill []pipeline.Lookup
	for j, l := range backed {
		lookups[missAt[j]] = l
		if l.Found {
			fill = append(fill, l)
		}
	}
	c.fill(ctx, fill, fingerprint)
	return lookups, nil
}

func (c *RedisCache) fill(ctx context.Context, found []pipeline.Lookup, fingerprint string) {
	if len(found) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for _, l := range found {
		pipe.Set(ctx, RedisKey(l.Handle, fingerprint), string(l.Value), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debugw("Failed to fill redis cache",
			logger.FieldFingerprint, fingerprint,
			logger.FieldCount, len(found),
			logger.FieldError, err)
	}
}

// Put writes through to the backing store, then to Redis
func (c *RedisCache) Put(ctx context.Context, doc pipeline.Handle, fingerprint string, value json.RawMessage) error {
	if err := c.backing.Put(ctx, doc, fingerprint, value); err != nil {
		return err
	}
	if err := c.client.Set(ctx, RedisKey(doc, fingerprint), string(value), c.ttl).Err(); err != nil {
		c.logger.Warnw("Failed to cache result in redis",
			logger.FieldDocument, doc.Key(),
			logger.FieldFingerprint, fingerprint,
			logger.FieldError, err)
	}
	return nil
}

// Delete removes the result from the backing store, then from Redis. A
// Redis failure is returned: the stale copy would keep answering reads.
func (c *RedisCache) Delete(ctx context.Context, doc pipeline.Handle, fingerprint string) error {
	if deleter, ok := c.backing.(Deleter); ok {
		if err := deleter.Delete(ctx, doc, fingerprint); err != nil {
			return err
		}
	}
	if err := c.client.Del(ctx, RedisKey(doc, fingerprint)).Err(); err != nil {
		return errors.Wrapf(err, "failed to drop cached result for %s", doc.Key())
	}
	return nil
}

// DeclareOutput forwards to the backing store when it records groups
func (c *RedisCache) DeclareOutput(ctx context.Context, index, docType, fingerprint string, fields []string) error {
	if declarer, ok := c.backing.(pipeline.OutputDeclarer); ok {
		return declarer.DeclareOutput(ctx, index, docType, fingerprint, fields)
	}
	return nil
}
