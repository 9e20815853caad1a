package stormguard

import (
	"errors"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/jpalmerr/stormguard/guard"
)

// monitorConfig holds mutable state during Monitor construction.
type monitorConfig struct {
	title             string
	watches           []Watch
	pollingInterval   time.Duration
	port              int
	logger            *slog.Logger
	snapshotCallbacks []func(SourceResult)
	cacheTTL          time.Duration
	historyCapacity   int
	historySeed       int
	requestTimeout    time.Duration
	token             string
	guardOpts         []guard.Option
	clock             clock.WithTicker
}

// Option configures a [Monitor] during construction.
//
// Options return an error if validation fails.
type Option func(*monitorConfig) error

// WithWatch adds a single [Watch]. At least one watch must be configured for
// [New] to succeed.
func WithWatch(w Watch) Option {
	return func(cfg *monitorConfig) error {
		cfg.watches = append(cfg.watches, w)
		return nil
	}
}

// WithWatches adds several watches at once, typically the result of
// [NewWatchGrid].
//
// Example:
//
//	m, err := stormguard.New(
//	    stormguard.WithWatches(mqtt, plugin),
//	)
func WithWatches(watches ...Watch) Option {
	return func(cfg *monitorConfig) error {
		cfg.watches = append(cfg.watches, watches...)
		return nil
	}
}

// WithPollingInterval sets the interval for watches without their own.
// Defaults to 3 seconds.
//
// Returns an error if the duration is zero or negative.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server. Port 0 lets the
// system pick a free port; see [Monitor.Addr]. Defaults to 8080.
//
// Returns an error if the port is outside the range 0-65535.
func WithPort(port int) Option {
	return func(cfg *monitorConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *monitorConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithSnapshotCallback registers a function called after every applied
// polling cycle of every watch.
//
// Callbacks run on the watch's consumer goroutine in registration order and
// must not block. Panics are recovered and logged. Nil callbacks are ignored.
//
// Example:
//
//	stormguard.WithSnapshotCallback(func(r stormguard.SourceResult) {
//	    if r.Status() == stormguard.StatusDisconnected {
//	        log.Printf("ALERT: %s unreachable", r.Name)
//	    }
//	})
func WithSnapshotCallback(cb func(SourceResult)) Option {
	return func(cfg *monitorConfig) error {
		if cb == nil {
			return nil
		}
		cfg.snapshotCallbacks = append(cfg.snapshotCallbacks, cb)
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "StormGuard".
func WithTitle(title string) Option {
	return func(cfg *monitorConfig) error {
		cfg.title = title
		return nil
	}
}

// WithCacheTTL sets how long a fetched payload is reused by every source
// reading the same endpoint. Defaults to 5 seconds.
func WithCacheTTL(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("cache TTL must be positive")
		}
		cfg.cacheTTL = d
		return nil
	}
}

// WithHistory sets each source's history capacity and the number of zero
// samples it starts with. A seed of 0 starts empty.
func WithHistory(capacity, seed int) Option {
	return func(cfg *monitorConfig) error {
		if capacity <= 0 {
			return errors.New("history capacity must be positive")
		}
		if seed < 0 || seed > capacity {
			return errors.New("history seed must be between 0 and capacity")
		}
		cfg.historyCapacity = capacity
		cfg.historySeed = seed
		return nil
	}
}

// WithRequestTimeout bounds each HTTP request. Defaults to 10 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithToken sets the initial bearer token sent with every request.
func WithToken(token string) Option {
	return func(cfg *monitorConfig) error {
		cfg.token = token
		return nil
	}
}

// WithGuardOptions passes options to the navigation guard, such as
// [guard.WithRoutes] or [guard.WithRedirectWindow].
func WithGuardOptions(opts ...guard.Option) Option {
	return func(cfg *monitorConfig) error {
		cfg.guardOpts = append(cfg.guardOpts, opts...)
		return nil
	}
}

// WithClock replaces the time source of the cache, sources and guard.
func WithClock(c clock.WithTicker) Option {
	return func(cfg *monitorConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}
