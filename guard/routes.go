package guard

import (
	"errors"
	"strings"
)

// Route describes the access rules of one path.
type Route struct {
	Path string
	// RequiresAuth redirects unauthenticated users to the login path.
	RequiresAuth bool
	// GuestOnly redirects authenticated users to the home path.
	GuestOnly bool
	// IndexRedirect always redirects: home when authenticated, login otherwise.
	IndexRedirect bool
}

func (r Route) validate() error {
	if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
		return errors.New("path must start with /")
	}
	if r.RequiresAuth && r.GuestOnly {
		return errors.New("route cannot be both requires_auth and guest_only")
	}
	return nil
}

// DefaultRoutes returns the dashboard's route table.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/", IndexRedirect: true},
		{Path: DefaultHomePath, RequiresAuth: true},
		{Path: DefaultLoginPath, GuestOnly: true},
		{Path: "/plugins", RequiresAuth: true},
		{Path: "/hardware", RequiresAuth: true},
		{Path: "/settings", RequiresAuth: true},
		{Path: "/mqtt", RequiresAuth: true},
		{Path: "/device-mappings", RequiresAuth: true},
	}
}

type routeTable struct {
	byPath map[string]Route
}

func newRouteTable(routes []Route) *routeTable {
	t := &routeTable{byPath: make(map[string]Route, len(routes))}
	for _, r := range routes {
		t.byPath[normalizePath(r.Path)] = r
	}
	return t
}

func (t *routeTable) match(path string) (Route, bool) {
	r, ok := t.byPath[normalizePath(path)]
	return r, ok
}

// normalizePath drops the query, fragment and trailing slash and lowercases
// the path.
func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return strings.ToLower(path)
}

func samePath(a, b string) bool {
	return normalizePath(a) == normalizePath(b)
}
