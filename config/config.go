// Package config provides YAML configuration parsing for StormGuard.
//
// This package enables running StormGuard as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	poll_interval: 3s
//	token: ${GATEWAY_TOKEN:-}
//
//	sources:
//	  - name: MQTT
//	    url: http://gateway.local:8080/api/rates
//	    path: total_mqtt_communication.rate
//
//	grids:
//	  - name: Communication rate
//	    url_template: "http://gateway.local:8080/{{.site}}/api/rates"
//	    path_template: "total_{{.kind}}_communication.rate"
//	    dimensions:
//	      site: [plant-a, plant-b]
//	      kind: [mqtt, plugin]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/stormguard"
)

// minPollInterval is the minimum allowed polling interval for config files.
// This prevents accidental DoS of a gateway with overly aggressive polling.
const minPollInterval = 1 * time.Second

const defaultPort = 8080

// Config is the root configuration structure for StormGuard.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "StormGuard" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// PollInterval is the time between polling cycles. Defaults to 3s.
	PollInterval Duration `yaml:"poll_interval"`

	// CacheTTL is how long a fetched payload is shared between sources of
	// the same endpoint. Defaults to 5s.
	CacheTTL Duration `yaml:"cache_ttl"`

	// RequestTimeout bounds each request. Defaults to 10s.
	RequestTimeout Duration `yaml:"request_timeout"`

	History HistoryConfig `yaml:"history"`

	// Token is sent as a bearer token. Supports ${VAR} substitution.
	Token string `yaml:"token"`

	Guard GuardConfig `yaml:"guard"`

	// Sources defines individual watched values.
	Sources []SourceConfig `yaml:"sources"`

	// Grids defines source grids that expand via cartesian product.
	Grids []GridConfig `yaml:"grids"`
}

// HistoryConfig bounds the per-source history.
type HistoryConfig struct {
	// Capacity is the maximum number of retained samples. Defaults to 100.
	Capacity int `yaml:"capacity"`

	// Seed is the number of zero samples a new source starts with.
	// Defaults to 50; 0 disables seeding.
	Seed *int `yaml:"seed"`
}

// GuardConfig configures the navigation guard.
type GuardConfig struct {
	LoginPath      string        `yaml:"login_path"`
	HomePath       string        `yaml:"home_path"`
	ReentryCeiling int           `yaml:"reentry_ceiling"`
	RedirectWindow Duration      `yaml:"redirect_window"`
	Routes         []RouteConfig `yaml:"routes"`
}

// RouteConfig is one entry of the guard's route table.
type RouteConfig struct {
	Path          string `yaml:"path"`
	RequiresAuth  bool   `yaml:"requires_auth"`
	GuestOnly     bool   `yaml:"guest_only"`
	IndexRedirect bool   `yaml:"index_redirect"`
}

// SourceConfig defines a single watched value.
type SourceConfig struct {
	// Name is the display name shown in the dashboard.
	Name string `yaml:"name"`

	// URL is the JSON endpoint.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Path is the dot-separated location of the value, e.g.
	// "total_mqtt_communication.rate".
	Path string `yaml:"path"`

	// Labels are metadata key-value pairs for grouping/filtering.
	Labels map[string]string `yaml:"labels"`

	// Interval overrides poll_interval for this source.
	// Must be between 1s and 1h.
	Interval Duration `yaml:"interval"`
}

// GridConfig defines a source grid that expands via cartesian product.
//
// For example, with dimensions {site: [a, b], kind: [mqtt, plugin]},
// the grid expands to 4 sources.
type GridConfig struct {
	// Name is the base name for generated sources.
	Name string `yaml:"name"`

	// URLTemplate is a Go template for generating endpoint URLs.
	// Dimension keys are available as template variables: {{.site}}
	// Supports environment variable substitution in the template.
	URLTemplate string `yaml:"url_template"`

	// PathTemplate is a Go template for the value path.
	PathTemplate string `yaml:"path_template"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions"`

	// Labels are additional labels applied to all generated sources.
	Labels map[string]string `yaml:"labels"`

	// Interval overrides poll_interval for all generated sources.
	Interval Duration `yaml:"interval"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		varName := sub[1]
		hasDefault := sub[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return sub[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in url, url_template and token.
// Defaults are applied for port, poll_interval, cache_ttl, request_timeout
// and history.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(stormguard.DefaultPollInterval)
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = Duration(5 * time.Second)
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(10 * time.Second)
	}
	if c.History.Capacity == 0 {
		c.History.Capacity = stormguard.DefaultHistoryCapacity
	}
	if c.History.Seed == nil {
		seed := min(stormguard.DefaultHistorySeed, c.History.Capacity)
		c.History.Seed = &seed
	}
}

// HistorySeed returns the configured seed, 0 if unset.
func (c *Config) HistorySeed() int {
	if c.History.Seed == nil {
		return 0
	}
	return *c.History.Seed
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.CacheTTL.Duration() < 0 {
		return fmt.Errorf("cache_ttl cannot be negative, got %s", c.CacheTTL.Duration())
	}
	if c.RequestTimeout.Duration() < time.Second {
		return fmt.Errorf("request_timeout must be at least 1s, got %s", c.RequestTimeout.Duration())
	}
	if c.History.Capacity < 1 {
		return fmt.Errorf("history.capacity must be positive, got %d", c.History.Capacity)
	}
	if seed := c.HistorySeed(); seed < 0 || seed > c.History.Capacity {
		return fmt.Errorf("history.seed must be between 0 and %d, got %d", c.History.Capacity, seed)
	}

	token, err := expandEnvVars(c.Token)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	c.Token = token

	if err := c.Guard.validate(); err != nil {
		return err
	}

	seen := make(map[string]string)
	for i := range c.Sources {
		src := &c.Sources[i]
		ctx := fmt.Sprintf("sources[%d] (%s)", i, src.Name)

		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if prev, ok := seen[src.Name]; ok {
			return fmt.Errorf("%s: duplicate name, first defined in %s", ctx, prev)
		}
		seen[src.Name] = fmt.Sprintf("sources[%d]", i)

		if src.URL == "" {
			return fmt.Errorf("%s: url is required", ctx)
		}
		expanded, err := expandEnvVars(src.URL)
		if err != nil {
			return fmt.Errorf("%s: url: %w", ctx, err)
		}
		src.URL = expanded
		if err := validateURL(src.URL); err != nil {
			return fmt.Errorf("%s: %w", ctx, err)
		}

		if src.Path == "" {
			return fmt.Errorf("%s: path is required", ctx)
		}
		if err := stormguard.ValidatePath(src.Path); err != nil {
			return fmt.Errorf("%s: path: %w", ctx, err)
		}

		if err := validateInterval(src.Interval); err != nil {
			return fmt.Errorf("%s: %w", ctx, err)
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]
		ctx := fmt.Sprintf("grids[%d] (%s)", i, g.Name)

		if g.Name == "" {
			return fmt.Errorf("grids[%d]: name is required", i)
		}

		if g.URLTemplate == "" {
			return fmt.Errorf("%s: url_template is required", ctx)
		}
		expanded, err := expandEnvVars(g.URLTemplate)
		if err != nil {
			return fmt.Errorf("%s: url_template: %w", ctx, err)
		}
		g.URLTemplate = expanded

		// fail fast before the SDK tries to use an invalid template
		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("%s: invalid url_template: %w", ctx, err)
		}

		if g.PathTemplate == "" {
			return fmt.Errorf("%s: path_template is required", ctx)
		}
		if _, err := template.New("").Parse(g.PathTemplate); err != nil {
			return fmt.Errorf("%s: invalid path_template: %w", ctx, err)
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("%s: at least one dimension is required", ctx)
		}
		for dimName, dimValues := range g.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("%s: dimension %q has no values", ctx, dimName)
			}
			dims := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := dims[v]; exists {
					return fmt.Errorf("%s: dimension %q has duplicate value %q", ctx, dimName, v)
				}
				dims[v] = struct{}{}
			}
		}

		if err := validateInterval(g.Interval); err != nil {
			return fmt.Errorf("%s: %w", ctx, err)
		}
	}

	if len(c.Sources) == 0 && len(c.Grids) == 0 {
		return errors.New("at least one source or grid must be defined")
	}

	return nil
}

func (g *GuardConfig) validate() error {
	for name, p := range map[string]string{"login_path": g.LoginPath, "home_path": g.HomePath} {
		if p != "" && !strings.HasPrefix(p, "/") {
			return fmt.Errorf("guard.%s must start with /, got %q", name, p)
		}
	}
	if g.ReentryCeiling < 0 {
		return fmt.Errorf("guard.reentry_ceiling cannot be negative, got %d", g.ReentryCeiling)
	}
	if g.RedirectWindow.Duration() < 0 {
		return fmt.Errorf("guard.redirect_window cannot be negative, got %s", g.RedirectWindow.Duration())
	}
	for i, r := range g.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("guard.routes[%d]: path must start with /, got %q", i, r.Path)
		}
		if r.RequiresAuth && r.GuestOnly {
			return fmt.Errorf("guard.routes[%d] (%s): requires_auth and guest_only are exclusive", i, r.Path)
		}
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}

func validateInterval(d Duration) error {
	if d == 0 {
		return nil
	}
	if d.Duration() < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", d.Duration())
	}
	if d.Duration() > time.Hour {
		return fmt.Errorf("interval must not exceed 1h, got %s", d.Duration())
	}
	return nil
}
