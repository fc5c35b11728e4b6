// Package cache memoizes content analysis so repeated topics skip the model.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache stores JSON-encodable values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, v any) error
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

// RedisCache stores values as JSON strings in Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps a go-redis client. Keys are namespaced with prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "choreo:cache"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string, v any) error {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string, v any) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(e.data, v)
}

// Set implements Cache. A ttl of zero never expires.
func (c *MemoryCache) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	e := memoryEntry{data: raw}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Analyzer caches a saga.ContentAnalyzer. Cache failures are logged and
// fall through to the wrapped analyzer.
type Analyzer struct {
	next   saga.ContentAnalyzer
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewAnalyzer wraps next with cache.
func NewAnalyzer(next saga.ContentAnalyzer, cache Cache, ttl time.Duration, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{next: next, cache: cache, ttl: ttl, logger: logger}
}

// Analyze implements saga.ContentAnalyzer.
func (a *Analyzer) Analyze(ctx context.Context, req saga.AnalysisRequest) (saga.Analysis, error) {
	key := AnalysisKey(req)

	var cached saga.Analysis
	err := a.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		a.logger.Debug("analysis cache hit", "key", key)
		return cached, nil
	case !errors.Is(err, ErrMiss):
		a.logger.Warn("analysis cache read failed", "key", key, "error", err)
	}

	out, err := a.next.Analyze(ctx, req)
	if err != nil {
		return saga.Analysis{}, err
	}
	if err := a.cache.Set(ctx, key, out, a.ttl); err != nil {
		a.logger.Warn("analysis cache write failed", "key", key, "error", err)
	}
	return out, nil
}

// AnalysisKey is the cache key for req. Topics differing only in case or
// surrounding space share a key.
func AnalysisKey(req saga.AnalysisRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d",
		strings.ToLower(strings.TrimSpace(req.Topic)),
		strings.ToLower(req.Language),
		strings.ToLower(req.Style),
		req.MaxPoints,
	)
	return "analysis:" + hex.EncodeToString(h.Sum(nil))[:32]
}
