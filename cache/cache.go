package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/jpalmerr/stormguard/internal/metrics"
)

// DefaultTTL is the freshness window used when a call passes a non-positive TTL.
const DefaultTTL = 5 * time.Second

// Loader produces the value for a key. It is invoked at most once per
// outstanding load, with a context that carries the values of the caller
// that triggered it but not its cancellation.
type Loader[V any] func(ctx context.Context) (V, error)

// Entry is a point-in-time view of a cached key.
type Entry[V any] struct {
	Key       string
	Data      V
	HasData   bool
	FetchedAt time.Time
	InFlight  bool
	// Waiters counts the callers registered on the outstanding load,
	// including the one that started it. Zero when nothing is in flight.
	Waiters int
}

type entry[V any] struct {
	data      V
	hasData   bool
	fetchedAt time.Time
	inFlight  bool
	waiters   int
}

type config struct {
	defaultTTL time.Duration
	clock      clock.PassiveClock
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a [Cache] during construction.
type Option func(*config) error

// WithDefaultTTL sets the TTL applied when Fetch is called with ttl <= 0.
// Returns an error if d is not positive.
func WithDefaultTTL(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("default TTL must be positive")
		}
		cfg.defaultTTL = d
		return nil
	}
}

// WithClock sets the time source used for freshness checks.
func WithClock(c clock.PassiveClock) Option {
	return func(cfg *config) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMetrics records hits, misses, coalesced reads and loader outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) error {
		cfg.metrics = m
		return nil
	}
}

// Cache is a keyed cache with in-flight coalescing.
//
// All methods are safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	group   singleflight.Group

	defaultTTL time.Duration
	clock      clock.PassiveClock
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates an empty [Cache].
func New[V any](opts ...Option) (*Cache[V], error) {
	cfg := &config{
		defaultTTL: DefaultTTL,
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Cache[V]{
		entries:    make(map[string]*entry[V]),
		defaultTTL: cfg.defaultTTL,
		clock:      cfg.clock,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
	}, nil
}

// DefaultTTL returns the TTL applied to calls that do not specify one.
func (c *Cache[V]) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Get is Fetch with the default TTL.
func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, error) {
	return c.Fetch(ctx, key, loader, 0)
}

// Fetch returns the value for key.
//
// A value loaded less than ttl ago is returned without calling loader. If a
// load for key is already outstanding, the caller waits for it instead of
// starting another one. Otherwise loader runs once and its outcome is
// delivered to every caller that registered while it ran.
//
// If ctx ends first, Fetch returns ctx.Err(); the load itself is not
// cancelled and still settles the entry for later callers.
func (c *Cache[V]) Fetch(ctx context.Context, key string, loader Loader[V], ttl time.Duration) (V, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}

	if !e.inFlight && e.hasData && c.clock.Since(e.fetchedAt) < ttl {
		data := e.data
		c.mu.Unlock()
		c.metrics.RecordCacheRequest(metrics.CacheHit)
		return data, nil
	}

	if e.inFlight {
		c.metrics.RecordCacheRequest(metrics.CacheCoalesced)
	} else {
		e.inFlight = true
		c.metrics.RecordCacheRequest(metrics.CacheMiss)
	}
	e.waiters++

	// registering under c.mu keeps singleflight's delivery order equal to
	// arrival order, and keeps new callers off a call that already settled
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.load(loadCtx, key, loader)
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, res.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// load runs loader and settles the entry for key.
func (c *Cache[V]) load(ctx context.Context, key string, loader Loader[V]) (V, error) {
	issuedAt := c.clock.Now()
	v, err := c.safeLoad(ctx, key, loader)
	c.metrics.RecordCacheLoad(err, c.clock.Since(issuedAt))

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[key]
	if err == nil {
		e.data = v
		e.hasData = true
		e.fetchedAt = issuedAt
	} else {
		c.logger.Debug("cache load failed", "key", key, "error", err.Error())
	}
	e.inFlight = false
	e.waiters = 0

	// callers arriving from now on must start a fresh load
	c.group.Forget(key)
	return v, err
}

// safeLoad calls loader with panic recovery. A panic is logged with its
// stack under a correlation ID and returned as an error.
func (c *Cache[V]) safeLoad(ctx context.Context, key string, loader Loader[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			c.logger.Error("cache loader panic",
				"correlation_id", correlationID,
				"key", key,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			var zero V
			v = zero
			err = fmt.Errorf("loader panic (correlation_id: %s)", correlationID)
		}
	}()
	return loader(ctx)
}

// Peek returns the current state of key without loading it.
func (c *Cache[V]) Peek(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry[V]{}, false
	}
	return Entry[V]{
		Key:       key,
		Data:      e.data,
		HasData:   e.hasData,
		FetchedAt: e.fetchedAt,
		InFlight:  e.inFlight,
		Waiters:   e.waiters,
	}, true
}

// Invalidate drops the cached value for key so the next Fetch loads it.
// An outstanding load is unaffected and will repopulate the entry.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		var zero V
		e.data = zero
		e.hasData = false
		e.fetchedAt = time.Time{}
	}
}

// Len returns the number of keys the cache has seen.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
