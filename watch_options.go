package stormguard

import (
	"errors"
	"time"
)

// watchConfig holds mutable state during watch construction.
type watchConfig struct {
	labels   map[string]string
	interval time.Duration
}

// WatchOption configures a [Watch] during construction.
// Options return an error if validation fails.
type WatchOption func(*watchConfig) error

// WithLabels adds metadata labels used for grouping on the dashboard.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	stormguard.WithLabels("protocol", "mqtt", "site", "plant-a")
func WithLabels(keyValues ...string) WatchOption {
	return func(cfg *watchConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.labels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithInterval sets a polling interval for this watch instead of the
// monitor's. When several watches share a source, the last one started wins.
//
// The interval must be at least 100 milliseconds and at most 1 hour.
func WithInterval(d time.Duration) WatchOption {
	return func(cfg *watchConfig) error {
		if d < 100*time.Millisecond {
			return errors.New("interval must be at least 100ms")
		}
		if d > time.Hour {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}
