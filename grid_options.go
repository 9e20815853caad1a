package stormguard

import (
	"errors"
	"fmt"
	"time"
)

// gridConfig holds configuration during watch grid construction.
type gridConfig struct {
	urlTemplate  string
	pathTemplate string
	dimensions   map[string][]string
	staticLabels map[string]string
	interval     time.Duration
}

// GridOption configures [NewWatchGrid].
type GridOption func(*gridConfig) error

// WithURLTemplate sets the endpoint URL template.
//
//	WithURLTemplate("http://gateway:8080/{{.site}}/api/rates")
func WithURLTemplate(tmpl string) GridOption {
	return func(cfg *gridConfig) error {
		if tmpl == "" {
			return errors.New("URL template required")
		}
		cfg.urlTemplate = tmpl
		return nil
	}
}

// WithPathTemplate sets the extraction path template. A path without
// template actions is used for every combination.
//
//	WithPathTemplate("total_{{.kind}}_communication.rate")
func WithPathTemplate(tmpl string) GridOption {
	return func(cfg *gridConfig) error {
		if tmpl == "" {
			return errors.New("path template required")
		}
		cfg.pathTemplate = tmpl
		return nil
	}
}

// WithDimensions sets the values expanded by cartesian product.
//
// Returns an error if the map is empty, any dimension has no values,
// or any value is an empty string.
func WithDimensions(dims map[string][]string) GridOption {
	return func(cfg *gridConfig) error {
		if len(dims) == 0 {
			return errors.New("at least one dimension required")
		}
		for _, k := range sortedKeys(dims) {
			vals := dims[k]
			if len(vals) == 0 {
				return fmt.Errorf("dimension '%s' has no values", k)
			}
			for i, v := range vals {
				if v == "" {
					return fmt.Errorf("dimension '%s' contains empty value at index %d", k, i)
				}
			}
		}
		cfg.dimensions = dims
		return nil
	}
}

// WithGridLabels adds static labels to every generated watch.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
func WithGridLabels(keyValues ...string) GridOption {
	return func(cfg *gridConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithGridLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.staticLabels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithGridInterval sets the polling interval of every generated watch.
// Zero keeps the monitor's interval.
func WithGridInterval(d time.Duration) GridOption {
	return func(cfg *gridConfig) error {
		if d < 0 {
			return errors.New("interval cannot be negative")
		}
		if d != 0 && d < 100*time.Millisecond {
			return errors.New("interval must be at least 100ms")
		}
		if d > time.Hour {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}
