package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/resilience"
)

// KeyPrefix starts every cache key.
const KeyPrefix = "icd:"

// opTimeout bounds a single backend call; a slow cache is treated as a
// failed one.
const opTimeout = 250 * time.Millisecond

// ErrMiss is returned by a Backend when a key is absent.
var ErrMiss = errors.New("cache miss")

// Backend stores encoded results.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

type redisBackend struct {
	client *pkgredis.Client
}

// NewRedisBackend adapts a Redis client, translating its nil reply to ErrMiss.
func NewRedisBackend(client *pkgredis.Client) Backend {
	return redisBackend{client: client}
}

func (b redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key)
	if pkgredis.IsNilError(err) {
		return nil, ErrMiss
	}
	return data, err
}

func (b redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl)
}

func (b redisBackend) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	return b.client.DeletePrefix(ctx, prefix)
}

// QueryCache memoizes search results per (normalized query, options,
// vocabulary version). Backend failures never fail a search: the cache is
// bypassed and, after repeated failures, the breaker stops calling it.
type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

// New builds a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// Key derives the cache key. The vocabulary version is part of the key so
// results computed against an older snapshot are never served after a swap.
func Key(plan *parser.QueryPlan, opts executor.Options, version uint64) string {
	h := xxhash.New()
	h.WriteString(plan.Canonical())
	h.WriteString("\x00")
	h.WriteString(strconv.Itoa(opts.TopK))
	h.WriteString("\x00")
	h.WriteString(strconv.FormatUint(math.Float64bits(opts.MinScore), 16))
	if opts.Explain {
		h.WriteString("\x00explain")
	}
	return fmt.Sprintf("%sv%d:%016x", KeyPrefix, version, h.Sum64())
}

// GetOrCompute returns the cached result for key or runs compute, storing
// its result. Concurrent misses on one key share a single compute, and each
// of those callers gets its own copy of the result. The boolean reports a
// cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.get(ctx, key); ok {
		return result, true, nil
	}
	val, err, shared := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	result := val.(*executor.SearchResult)
	if shared {
		own := *result
		result = &own
	}
	return result, false, nil
}

func (c *QueryCache) get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	got := make(chan []byte, 1)
	err := c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, opTimeout, "cache-get", func(ctx context.Context) error {
			data, err := c.backend.Get(ctx, key)
			if errors.Is(err, ErrMiss) {
				return nil
			}
			if err == nil {
				got <- data
			}
			return err
		})
	})
	if err != nil {
		c.recordError("get", key, err)
		c.recordMiss()
		return nil, false
	}
	var data []byte
	select {
	case data = <-got:
	default:
	}
	if data == nil {
		c.recordMiss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result *executor.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, opTimeout, "cache-set", func(ctx context.Context) error {
			return c.backend.Set(ctx, key, data, c.ttl)
		})
	})
	if err != nil {
		c.recordError("set", key, err)
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) recordError(op, key string, err error) {
	c.errors.Add(1)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Debug("cache bypassed", "op", op, "error", err)
		return
	}
	c.logger.Warn("cache operation failed", "op", op, "key", key, "error", err)
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.DeletePrefix(ctx, KeyPrefix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Errors       int64   `json:"errors"`
	HitRate      float64 `json:"hit_rate"`
	BreakerState string  `json:"breaker_state"`
}

func (c *QueryCache) Stats() Stats {
	s := Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Errors:       c.errors.Load(),
		BreakerState: c.breaker.State().String(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = math.Round(float64(s.Hits)/float64(total)*10000) / 10000
	}
	return s
}
