package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoNavigator is returned when a [Router] is built without a [Navigator].
var ErrNoNavigator = errors.New("guard: navigator is required")

// Navigator moves the application between paths.
type Navigator interface {
	NavigateTo(path string)
	CurrentPath() string
}

// Router runs every navigation through a [Guard] and applies the verdict.
type Router struct {
	guard  *Guard
	nav    Navigator
	tokens TokenStore
	logger *slog.Logger
}

// NewRouter binds a guard to a navigator. tokens may be nil, in which case
// HandleUnauthorized only redirects.
func NewRouter(g *Guard, nav Navigator, tokens TokenStore) (*Router, error) {
	if g == nil {
		return nil, errors.New("guard: guard is required")
	}
	if nav == nil {
		return nil, ErrNoNavigator
	}
	return &Router{guard: g, nav: nav, tokens: tokens, logger: g.logger}, nil
}

// Guard returns the guard the router consults.
func (r *Router) Guard() *Guard {
	return r.guard
}

// CurrentPath returns the navigator's current path.
func (r *Router) CurrentPath() string {
	return r.nav.CurrentPath()
}

// Navigate asks the guard about a move to path and performs it. A redirect
// is itself a navigation and passes through the guard once more before the
// navigator moves. The returned decision is the one for the requested path.
func (r *Router) Navigate(ctx context.Context, to string) Decision {
	from := r.nav.CurrentPath()
	d := r.guard.Decide(ctx, to, from)

	dest := d.Target
	if d.Action == ActionRedirect {
		if hop := r.guard.Decide(ctx, dest, from); hop.Action == ActionRedirect {
			dest = hop.Target
		}
	}

	if !samePath(dest, from) {
		r.nav.NavigateTo(dest)
	}
	return d
}

// HandleUnauthorized reacts to an unauthorized API response: the token is
// cleared and the navigator is sent to the login path, unless it is already
// there or a redirect was issued within the guard's window. It reports
// whether the navigator was moved.
func (r *Router) HandleUnauthorized() bool {
	if r.tokens != nil {
		r.tokens.Clear()
	}

	current := r.nav.CurrentPath()
	if samePath(current, r.guard.LoginPath()) {
		return false
	}
	if !r.guard.TryRedirect() {
		r.logger.Info("unauthorized response, redirect throttled", "path", current)
		return false
	}

	r.logger.Warn("unauthorized response, redirecting to login", "path", current)
	r.nav.NavigateTo(r.guard.LoginPath())
	return true
}

// MemoryNavigator is a [Navigator] that records paths in memory.
type MemoryNavigator struct {
	mu      sync.RWMutex
	current string
	visits  []string
}

// NewMemoryNavigator creates a navigator positioned at start.
func NewMemoryNavigator(start string) *MemoryNavigator {
	return &MemoryNavigator{current: start}
}

// NavigateTo moves to path.
func (n *MemoryNavigator) NavigateTo(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = path
	n.visits = append(n.visits, path)
}

// CurrentPath returns the last path navigated to.
func (n *MemoryNavigator) CurrentPath() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

// Visits returns every path navigated to, oldest first.
func (n *MemoryNavigator) Visits() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.visits))
	copy(out, n.visits)
	return out
}
