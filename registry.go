package stormguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/jpalmerr/stormguard/cache"
	"github.com/jpalmerr/stormguard/internal/metrics"
)

// Transport fetches and decodes the payload at a URL.
type Transport interface {
	Get(ctx context.Context, url string) (any, error)
}

// RegistryConfig configures a [Registry]. Zero values select the defaults.
type RegistryConfig struct {
	// Transport performs the requests. Required.
	Transport Transport

	// Cache deduplicates requests across sources. Keys are endpoint URLs.
	// If nil, a cache is created with CacheTTL as its default.
	Cache *cache.Cache[any]

	// CacheTTL is the freshness window sources use when reading the cache.
	// Defaults to [cache.DefaultTTL].
	CacheTTL time.Duration

	// DefaultInterval applies to Start calls with a non-positive interval.
	// Defaults to [DefaultPollInterval].
	DefaultInterval time.Duration

	// HistoryCapacity bounds each source's history. Defaults to
	// [DefaultHistoryCapacity].
	HistoryCapacity int

	// HistorySeed is the number of zero samples a new source starts with.
	// Defaults to [DefaultHistorySeed]; set to a negative value for none.
	HistorySeed int

	Clock   clock.WithTicker
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Registry hands out exactly one [Source] per (endpoint, path) pair, so
// every consumer of the same value shares one poller, and every source of
// the same endpoint shares one cache entry.
//
// Sources live as long as the registry.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*Source

	transport Transport
	cache     *cache.Cache[any]
	ttl       time.Duration
	srcCfg    sourceConfig
	logger    *slog.Logger
	cancel    context.CancelFunc
}

// NewRegistry creates an empty [Registry].
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.CacheTTL < 0 {
		return nil, errors.New("cache TTL cannot be negative")
	}
	if cfg.DefaultInterval < 0 {
		return nil, errors.New("default interval cannot be negative")
	}
	if cfg.HistoryCapacity < 0 {
		return nil, errors.New("history capacity cannot be negative")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.DefaultInterval == 0 {
		cfg.DefaultInterval = DefaultPollInterval
	}
	if cfg.HistoryCapacity == 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	switch {
	case cfg.HistorySeed == 0:
		cfg.HistorySeed = DefaultHistorySeed
	case cfg.HistorySeed < 0:
		cfg.HistorySeed = 0
	}
	if cfg.HistorySeed > cfg.HistoryCapacity {
		return nil, fmt.Errorf("history seed %d exceeds capacity %d", cfg.HistorySeed, cfg.HistoryCapacity)
	}

	c := cfg.Cache
	if c == nil {
		var err error
		c, err = cache.New[any](
			cache.WithDefaultTTL(cfg.CacheTTL),
			cache.WithClock(cfg.Clock),
			cache.WithLogger(cfg.Logger),
			cache.WithMetrics(cfg.Metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("create cache: %w", err)
		}
	}

	// cycles outlive Stop, so they hang off the registry rather than a caller
	baseCtx, cancel := context.WithCancel(context.Background())

	return &Registry{
		sources:   make(map[string]*Source),
		transport: cfg.Transport,
		cache:     c,
		ttl:       cfg.CacheTTL,
		srcCfg: sourceConfig{
			capacity:        cfg.HistoryCapacity,
			seed:            cfg.HistorySeed,
			defaultInterval: cfg.DefaultInterval,
			baseCtx:         baseCtx,
			clock:           cfg.Clock,
			logger:          cfg.Logger,
			metrics:         cfg.Metrics,
		},
		logger: cfg.Logger,
		cancel: cancel,
	}, nil
}

func sourceKey(endpoint, path string) string {
	return endpoint + "\x00" + path
}

// Get returns the source for (endpoint, path), creating it if needed.
// Get never starts polling.
func (r *Registry) Get(endpoint, path string) *Source {
	key := sourceKey(endpoint, path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sources[key]; ok {
		return s
	}

	s := newSource(endpoint, path, r.fetcher(endpoint), r.srcCfg)
	r.sources[key] = s
	r.logger.Debug("source registered", "endpoint", endpoint, "path", path)
	return s
}

// Lookup returns the source for (endpoint, path) if one was created.
func (r *Registry) Lookup(endpoint, path string) (*Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[sourceKey(endpoint, path)]
	return s, ok
}

// Sources returns every registered source ordered by endpoint, then path.
func (r *Registry) Sources() []*Source {
	r.mu.Lock()
	out := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].endpoint != out[j].endpoint {
			return out[i].endpoint < out[j].endpoint
		}
		return out[i].path < out[j].path
	})
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Cache returns the cache shared by the registry's sources.
func (r *Registry) Cache() *cache.Cache[any] {
	return r.cache
}

// StopAll stops every source. Sources stay registered and can be restarted.
func (r *Registry) StopAll() {
	for _, s := range r.Sources() {
		s.Stop()
	}
}

// Close stops every source and waits for outstanding cycles to finish.
func (r *Registry) Close() {
	sources := r.Sources()
	for _, s := range sources {
		s.Stop()
	}
	for _, s := range sources {
		s.wait()
	}
	r.cancel()
}

// fetcher reads endpoint through the shared cache.
func (r *Registry) fetcher(endpoint string) fetchFunc {
	load := func(ctx context.Context) (any, error) {
		return r.transport.Get(ctx, endpoint)
	}
	return func(ctx context.Context) (any, error) {
		return r.cache.Fetch(ctx, endpoint, load, r.ttl)
	}
}
