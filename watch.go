package stormguard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Watch names a value a [Monitor] should poll: the numeric field at Path of
// the JSON served by Endpoint.
//
// Watch is immutable after creation via [NewWatch]. Watches sharing an
// (endpoint, path) pair share one [Source].
type Watch struct {
	name     string
	endpoint string
	path     string
	labels   map[string]string
	interval time.Duration
}

// Name returns the watch's display name.
func (w Watch) Name() string {
	return w.name
}

// Endpoint returns the URL to poll.
func (w Watch) Endpoint() string {
	return w.endpoint
}

// Path returns the extraction path.
func (w Watch) Path() string {
	return w.path
}

// Labels returns a copy of the watch's labels. Returns nil if none are set.
func (w Watch) Labels() map[string]string {
	return copyMap(w.labels)
}

// Interval returns the watch's polling interval, or 0 to use the monitor's.
func (w Watch) Interval() time.Duration {
	return w.interval
}

// NewWatch creates a [Watch].
//
// rawURL must be an absolute http or https URL and path a non-empty
// dot-separated key path without empty segments.
//
// Example:
//
//	w, err := stormguard.NewWatch("MQTT rate", "http://gateway/api/rates",
//	    "total_mqtt_communication.rate",
//	    stormguard.WithLabels("protocol", "mqtt"),
//	)
func NewWatch(name, rawURL, path string, opts ...WatchOption) (Watch, error) {
	if strings.TrimSpace(name) == "" {
		return Watch{}, errors.New("watch name cannot be empty")
	}
	if err := validateEndpoint(rawURL); err != nil {
		return Watch{}, err
	}
	if err := ValidatePath(path); err != nil {
		return Watch{}, err
	}

	cfg := &watchConfig{
		labels: make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Watch{}, err
		}
	}

	return Watch{
		name:     name,
		endpoint: rawURL,
		path:     path,
		labels:   cfg.labels,
		interval: cfg.interval,
	}, nil
}

func validateEndpoint(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("URL must have a scheme (http:// or https://)")
	}
	if parsed.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}

// ValidatePath reports whether path is a usable extraction path.
func ValidatePath(path string) error {
	if path == "" {
		return errors.New("extraction path cannot be empty")
	}
	for i, part := range splitPath(path) {
		if part == "" {
			return fmt.Errorf("extraction path %q has an empty segment at index %d", path, i)
		}
	}
	return nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
