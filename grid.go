package stormguard

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/template"
)

// NewWatchGrid creates one [Watch] per combination of dimension values.
//
// Both the URL template and the path template use text/template syntax with
// the dimension keys as variables. Values are URL-encoded before they are
// placed in the URL and used verbatim in the path. Missing template keys
// are an error.
//
// Each watch name has the form "Base Name (val1/val2)" with values ordered
// by key. Dimension values become labels; static labels from
// [WithGridLabels] win on collision.
//
// Example:
//
//	watches, err := stormguard.NewWatchGrid("Communication rate",
//	    stormguard.WithURLTemplate("http://gateway:8080/{{.site}}/api/rates"),
//	    stormguard.WithPathTemplate("total_{{.kind}}_communication.rate"),
//	    stormguard.WithDimensions(map[string][]string{
//	        "site": {"plant-a", "plant-b"},
//	        "kind": {"mqtt", "plugin"},
//	    }),
//	)
//	// 4 watches, usable with WithWatches(watches...)
func NewWatchGrid(baseName string, opts ...GridOption) ([]Watch, error) {
	if strings.TrimSpace(baseName) == "" {
		return nil, errors.New("base name cannot be empty")
	}

	cfg := &gridConfig{
		staticLabels: make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.urlTemplate == "" {
		return nil, errors.New("URL template required")
	}
	if cfg.pathTemplate == "" {
		return nil, errors.New("path template required")
	}
	if len(cfg.dimensions) == 0 {
		return nil, errors.New("at least one dimension required")
	}

	urlTmpl, err := template.New("url").Option("missingkey=error").Parse(cfg.urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}
	pathTmpl, err := template.New("path").Option("missingkey=error").Parse(cfg.pathTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid path template: %w", err)
	}

	combinations := cartesianProduct(cfg.dimensions)
	watches := make([]Watch, 0, len(combinations))
	for _, combo := range combinations {
		rawURL, err := executeTemplate(urlTmpl, urlEncodeMap(combo))
		if err != nil {
			return nil, fmt.Errorf("URL template execution failed: %w", err)
		}
		path, err := executeTemplate(pathTmpl, combo)
		if err != nil {
			return nil, fmt.Errorf("path template execution failed: %w", err)
		}

		name := formatWatchName(baseName, combo)
		labels := mergeMaps(combo, cfg.staticLabels)

		wOpts := []WatchOption{WithLabels(flattenMap(labels)...)}
		if cfg.interval > 0 {
			wOpts = append(wOpts, WithInterval(cfg.interval))
		}

		w, err := NewWatch(name, rawURL, path, wOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create watch '%s': %w", name, err)
		}
		watches = append(watches, w)
	}

	return watches, nil
}

// cartesianProduct generates all combinations of dimension values, iterating
// keys in sorted order with the last key varying fastest.
//
//	{"x": ["a","b"], "y": ["1","2"]} → [{a,1} {a,2} {b,1} {b,2}]
func cartesianProduct(dims map[string][]string) []map[string]string {
	keys := sortedKeys(dims)
	if len(keys) == 0 {
		return nil
	}

	total := 1
	for _, k := range keys {
		if len(dims[k]) == 0 {
			return nil
		}
		total *= len(dims[k])
	}

	result := make([]map[string]string, 0, total)
	for n := 0; n < total; n++ {
		combo := make(map[string]string, len(keys))
		rem := n
		for i := len(keys) - 1; i >= 0; i-- {
			vals := dims[keys[i]]
			combo[keys[i]] = vals[rem%len(vals)]
			rem /= len(vals)
		}
		result = append(result, combo)
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// urlEncodeMap returns a new map with all values URL-encoded.
func urlEncodeMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = url.QueryEscape(v)
	}
	return result
}

func executeTemplate(tmpl *template.Template, data map[string]string) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatWatchName creates a name in the format "Base (v1/v2)".
func formatWatchName(baseName string, combo map[string]string) string {
	keys := sortedKeys(combo)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = combo[k]
	}
	return fmt.Sprintf("%s (%s)", baseName, strings.Join(parts, "/"))
}

// mergeMaps merges maps, later maps taking precedence.
func mergeMaps(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// flattenMap converts a map to sorted key-value pairs for variadic options.
func flattenMap(m map[string]string) []string {
	result := make([]string, 0, len(m)*2)
	for _, k := range sortedKeys(m) {
		result = append(result, k, m[k])
	}
	return result
}
