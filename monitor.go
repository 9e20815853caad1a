package stormguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/jpalmerr/stormguard/cache"
	"github.com/jpalmerr/stormguard/dashboard"
	"github.com/jpalmerr/stormguard/guard"
	"github.com/jpalmerr/stormguard/internal/metrics"
	"github.com/jpalmerr/stormguard/internal/poller"
	"github.com/jpalmerr/stormguard/internal/server"
	"github.com/jpalmerr/stormguard/internal/store"
)

const defaultPort = 8080

// Monitor polls a set of watches through a shared [Registry] and serves
// their live values on a dashboard.
//
// The typical lifecycle is:
//
//	m, err := stormguard.New(stormguard.WithWatches(watches...))
//	if err != nil {
//	    slog.Error("failed to create monitor", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	m.Start(ctx) // blocks until ctx is cancelled
//
// Requests carry the session's bearer token. A 401 clears the token and
// sends the dashboard's navigator to the login route through the navigation
// guard.
type Monitor struct {
	cfg    monitorConfig
	logger *slog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New creates a [Monitor] with the given options.
//
// At least one watch is required and watch names must be unique.
// Defaults: polling interval 3s, port 8080, cache TTL 5s, history 100
// samples seeded with 50.
func New(opts ...Option) (*Monitor, error) {
	cfg := monitorConfig{
		pollingInterval: DefaultPollInterval,
		port:            defaultPort,
		cacheTTL:        cache.DefaultTTL,
		historyCapacity: DefaultHistoryCapacity,
		historySeed:     DefaultHistorySeed,
		requestTimeout:  poller.DefaultRequestTimeout,
		clock:           clock.RealClock{},
	}

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.watches) == 0 {
		return nil, errors.New("at least one watch is required")
	}

	// names key the store and the callbacks
	seen := make(map[string]bool, len(cfg.watches))
	for _, w := range cfg.watches {
		if seen[w.name] {
			return nil, fmt.Errorf("duplicate watch name: %q", w.name)
		}
		seen[w.name] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{cfg: cfg, logger: logger}, nil
}

// Watches returns a copy of the configured watches.
func (m *Monitor) Watches() []Watch {
	cp := make([]Watch, len(m.cfg.watches))
	copy(cp, m.cfg.watches)
	return cp
}

// Port returns the configured HTTP port.
func (m *Monitor) Port() int {
	return m.cfg.port
}

// PollingInterval returns the interval used by watches without their own.
func (m *Monitor) PollingInterval() time.Duration {
	return m.cfg.pollingInterval
}

// Addr returns the dashboard's listen address once [Monitor.Start] has
// bound it, nil otherwise.
func (m *Monitor) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Start polls every watch and serves the dashboard until ctx is cancelled.
//
// Every watch polls once immediately and then at its interval. Watches of
// the same endpoint share one cached request per TTL window; watches of the
// same (endpoint, path) share one [Source].
//
// Returns nil on graceful shutdown and an error if the server cannot start.
func (m *Monitor) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)

	tokens := guard.NewMemoryTokenStore(m.cfg.token)
	guardOpts := append([]guard.Option{
		guard.WithClock(m.cfg.clock),
		guard.WithLogger(m.logger),
		guard.WithMetrics(met),
	}, m.cfg.guardOpts...)
	g, err := guard.New(guard.TokenAuthenticator(tokens), guardOpts...)
	if err != nil {
		return fmt.Errorf("create guard: %w", err)
	}
	router, err := guard.NewRouter(g, guard.NewMemoryNavigator("/"), tokens)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	client := poller.NewClient(
		poller.WithTokenSource(tokens),
		poller.WithRequestTimeout(m.cfg.requestTimeout),
		poller.WithUnauthorizedHandler(func() { router.HandleUnauthorized() }),
	)
	defer client.Close()

	registry, err := NewRegistry(RegistryConfig{
		Transport:       client,
		CacheTTL:        m.cfg.cacheTTL,
		DefaultInterval: m.cfg.pollingInterval,
		HistoryCapacity: m.cfg.historyCapacity,
		HistorySeed:     seedOption(m.cfg.historySeed),
		Clock:           m.cfg.clock,
		Logger:          m.logger,
		Metrics:         met,
	})
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}

	st := store.NewMemoryStore()

	srv, err := server.NewServer(server.Config{
		Store:   st,
		Port:    m.cfg.port,
		Assets:  dashboard.Assets,
		Title:   m.cfg.title,
		Router:  router,
		Tokens:  tokens,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:  m.logger,
	})
	if err != nil {
		registry.Close()
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		registry.Close()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	m.mu.Lock()
	m.addr = srv.Addr()
	m.mu.Unlock()

	m.logger.Info("stormguard starting",
		"watch_count", len(m.cfg.watches),
		"interval", m.cfg.pollingInterval.String(),
		"addr", srv.Addr().String(),
	)

	var consumers errgroup.Group
	unsubs := make([]func(), 0, len(m.cfg.watches))
	sources := make([]*Source, len(m.cfg.watches))

	for i, w := range m.cfg.watches {
		w := w
		src := registry.Get(w.endpoint, w.path)
		sources[i] = src

		ch, unsub := src.Subscribe()
		unsubs = append(unsubs, unsub)
		st.Update(toRecord(w, src.Snapshot()))

		consumers.Go(func() error {
			for snap := range ch {
				st.Update(toRecord(w, snap))
				m.notify(w, snap)
			}
			return nil
		})
	}

	for i, w := range m.cfg.watches {
		sources[i].Start(w.interval)
	}

	<-ctx.Done()

	registry.Close()
	for _, unsub := range unsubs {
		unsub()
	}
	_ = consumers.Wait()

	m.mu.Lock()
	m.addr = nil
	m.mu.Unlock()

	m.logger.Info("stormguard stopped")
	return nil
}

// notify runs the snapshot callbacks for one watch.
func (m *Monitor) notify(w Watch, snap Snapshot) {
	if len(m.cfg.snapshotCallbacks) == 0 {
		return
	}
	for _, cb := range m.cfg.snapshotCallbacks {
		m.invokeCallbackSafe(cb, SourceResult{
			Name:     w.name,
			Labels:   copyMap(w.labels),
			Snapshot: cloneSnapshot(snap),
		})
	}
}

// invokeCallbackSafe calls a snapshot callback with panic recovery.
func (m *Monitor) invokeCallbackSafe(cb func(SourceResult), result SourceResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("snapshot callback panicked",
				"correlation_id", uuid.NewString(),
				"watch", result.Name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(result)
}

// seedOption maps the monitor's seed (0 means none) onto the registry's
// convention (0 means default, negative means none).
func seedOption(seed int) int {
	if seed == 0 {
		return -1
	}
	return seed
}

// cloneSnapshot detaches History so each callback owns its copy.
func cloneSnapshot(s Snapshot) Snapshot {
	s.History = append([]Sample(nil), s.History...)
	return s
}

func toRecord(w Watch, snap Snapshot) store.SourceRecord {
	var errStr *string
	if snap.Err != nil {
		msg := snap.Err.Error()
		errStr = &msg
	}

	history := make([]store.Point, len(snap.History))
	for i, s := range snap.History {
		history[i] = store.Point{Timestamp: s.Timestamp, Value: s.Value}
	}

	return store.SourceRecord{
		Name:      w.name,
		Endpoint:  snap.Endpoint,
		Path:      snap.Path,
		Status:    snap.Status().String(),
		Labels:    copyMap(w.labels),
		Value:     snap.Value,
		History:   history,
		Connected: snap.Connected,
		HasError:  snap.HasError,
		Error:     errStr,
		UpdatedAt: snap.UpdatedAt,
	}
}
