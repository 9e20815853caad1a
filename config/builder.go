package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/stormguard"
	"github.com/jpalmerr/stormguard/guard"
)

// BuildWatches converts parsed configuration into SDK Watch objects.
//
// It processes both direct sources and grids, returning a combined slice.
// Grid dimensions are expanded via cartesian product.
func BuildWatches(cfg *Config) ([]stormguard.Watch, error) {
	var watches []stormguard.Watch

	for _, sc := range cfg.Sources {
		w, err := buildWatch(sc)
		if err != nil {
			return nil, err
		}
		watches = append(watches, w)
	}

	for _, gc := range cfg.Grids {
		gridWatches, err := buildGridWatches(gc)
		if err != nil {
			return nil, err
		}
		watches = append(watches, gridWatches...)
	}

	return watches, nil
}

// buildWatch converts a single SourceConfig to an SDK Watch.
func buildWatch(sc SourceConfig) (stormguard.Watch, error) {
	var opts []stormguard.WatchOption

	if len(sc.Labels) > 0 {
		opts = append(opts, stormguard.WithLabels(mapToKeyValuePairs(sc.Labels)...))
	}

	if sc.Interval != 0 {
		opts = append(opts, stormguard.WithInterval(sc.Interval.Duration()))
	}

	w, err := stormguard.NewWatch(sc.Name, sc.URL, sc.Path, opts...)
	if err != nil {
		return stormguard.Watch{}, fmt.Errorf("source (%s): %w", sc.Name, err)
	}
	return w, nil
}

// buildGridWatches expands a GridConfig into multiple watches.
func buildGridWatches(gc GridConfig) ([]stormguard.Watch, error) {
	opts := []stormguard.GridOption{
		stormguard.WithURLTemplate(gc.URLTemplate),
		stormguard.WithPathTemplate(gc.PathTemplate),
		stormguard.WithDimensions(gc.Dimensions),
	}
	if len(gc.Labels) > 0 {
		opts = append(opts, stormguard.WithGridLabels(mapToKeyValuePairs(gc.Labels)...))
	}
	if gc.Interval != 0 {
		opts = append(opts, stormguard.WithGridInterval(gc.Interval.Duration()))
	}

	watches, err := stormguard.NewWatchGrid(gc.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("grid (%s): %w", gc.Name, err)
	}
	return watches, nil
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// BuildGuardOptions converts the guard section into guard options. Unset
// fields keep the guard's defaults.
func BuildGuardOptions(gc GuardConfig) []guard.Option {
	var opts []guard.Option

	if gc.LoginPath != "" {
		opts = append(opts, guard.WithLoginPath(gc.LoginPath))
	}
	if gc.HomePath != "" {
		opts = append(opts, guard.WithHomePath(gc.HomePath))
	}
	if gc.ReentryCeiling > 0 {
		opts = append(opts, guard.WithReentryCeiling(gc.ReentryCeiling))
	}
	if gc.RedirectWindow > 0 {
		opts = append(opts, guard.WithRedirectWindow(gc.RedirectWindow.Duration()))
	}
	if len(gc.Routes) > 0 {
		routes := make([]guard.Route, len(gc.Routes))
		for i, r := range gc.Routes {
			routes[i] = guard.Route{
				Path:          r.Path,
				RequiresAuth:  r.RequiresAuth,
				GuestOnly:     r.GuestOnly,
				IndexRedirect: r.IndexRedirect,
			}
		}
		opts = append(opts, guard.WithRoutes(routes...))
	}

	return opts
}

// BuildOptions converts the whole configuration into monitor options.
func BuildOptions(cfg *Config) ([]stormguard.Option, error) {
	watches, err := BuildWatches(cfg)
	if err != nil {
		return nil, err
	}

	opts := []stormguard.Option{
		stormguard.WithWatches(watches...),
		stormguard.WithPort(cfg.Port),
		stormguard.WithPollingInterval(cfg.PollInterval.Duration()),
		stormguard.WithCacheTTL(cfg.CacheTTL.Duration()),
		stormguard.WithRequestTimeout(cfg.RequestTimeout.Duration()),
		stormguard.WithHistory(cfg.History.Capacity, cfg.HistorySeed()),
	}
	if cfg.Title != "" {
		opts = append(opts, stormguard.WithTitle(cfg.Title))
	}
	if cfg.Token != "" {
		opts = append(opts, stormguard.WithToken(cfg.Token))
	}
	if guardOpts := BuildGuardOptions(cfg.Guard); len(guardOpts) > 0 {
		opts = append(opts, stormguard.WithGuardOptions(guardOpts...))
	}

	return opts, nil
}
