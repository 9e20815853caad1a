package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/jpalmerr/stormguard/internal/metrics"
)

// Defaults for a new [Guard].
const (
	DefaultLoginPath      = "/login"
	DefaultHomePath       = "/dashboard"
	DefaultReentryCeiling = 3
	DefaultRedirectWindow = 2 * time.Second
)

// Action is the outcome of a navigation attempt.
type Action int

const (
	// ActionAllow lets the navigation reach its target.
	ActionAllow Action = iota
	// ActionRedirect sends the navigation to Decision.Target instead.
	ActionRedirect
	// ActionAllowWithWarning lets the navigation through because a loop
	// safety valve tripped.
	ActionAllowWithWarning
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionRedirect:
		return "redirect"
	case ActionAllowWithWarning:
		return "allow_with_warning"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Reasons attached to a [Decision].
const (
	ReasonPass           = "pass"
	ReasonUnknownRoute   = "unknown_route"
	ReasonRequiresAuth   = "requires_auth"
	ReasonGuestOnly      = "guest_only"
	ReasonIndex          = "index"
	ReasonAlreadyThere   = "already_there"
	ReasonPredicateError = "predicate_error"
	ReasonReentry        = "reentry"
	ReasonReentryCeiling = "reentry_ceiling"
	ReasonThrottled      = "throttled"
)

// Decision is the verdict for one navigation attempt.
type Decision struct {
	Action Action
	// Target is where the navigation should end up: the requested path for
	// the allow actions, the redirect destination for ActionRedirect.
	Target string
	Reason string
}

// State is the guard's position in its decision cycle.
type State int

const (
	// StateIdle means no decision is running.
	StateIdle State = iota
	// StateDeciding means a decision owns the guard.
	StateDeciding
	// StateForcedPassthrough means a decision owns the guard and at least
	// one re-entrant attempt was let through while it ran.
	StateForcedPassthrough
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeciding:
		return "deciding"
	case StateForcedPassthrough:
		return "forced_passthrough"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time view of a [Guard].
type Status struct {
	State          State     `json:"-"`
	StateName      string    `json:"state"`
	Busy           bool      `json:"busy"`
	Reentries      int       `json:"reentries"`
	LastRedirectAt time.Time `json:"lastRedirectAt,omitempty"`
}

// Authenticator reports whether the current session is authenticated.
// An error is treated as unauthenticated.
type Authenticator func(ctx context.Context) (bool, error)

type config struct {
	routes    []Route
	loginPath string
	homePath  string
	ceiling   int
	window    time.Duration
	clock     clock.PassiveClock
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a [Guard] during construction.
type Option func(*config) error

// WithRoutes sets the route table. Defaults to [DefaultRoutes].
func WithRoutes(routes ...Route) Option {
	return func(cfg *config) error {
		for i, r := range routes {
			if err := r.validate(); err != nil {
				return fmt.Errorf("routes[%d]: %w", i, err)
			}
		}
		cfg.routes = routes
		return nil
	}
}

// WithLoginPath sets where unauthenticated navigation is redirected.
func WithLoginPath(path string) Option {
	return func(cfg *config) error {
		if path == "" {
			return errors.New("login path cannot be empty")
		}
		cfg.loginPath = path
		return nil
	}
}

// WithHomePath sets where authenticated users are sent from guest-only routes.
func WithHomePath(path string) Option {
	return func(cfg *config) error {
		if path == "" {
			return errors.New("home path cannot be empty")
		}
		cfg.homePath = path
		return nil
	}
}

// WithReentryCeiling sets how many re-entrant attempts force-complete a
// running decision.
func WithReentryCeiling(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("reentry ceiling must be at least 1")
		}
		cfg.ceiling = n
		return nil
	}
}

// WithRedirectWindow sets the minimum spacing between forced redirects.
func WithRedirectWindow(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("redirect window must be positive")
		}
		cfg.window = d
		return nil
	}
}

// WithClock sets the time source for the redirect throttle.
func WithClock(c clock.PassiveClock) Option {
	return func(cfg *config) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMetrics counts decisions by action and reason.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) error {
		cfg.metrics = m
		return nil
	}
}

// Guard is the navigation loop-prevention state machine.
//
// One Guard is shared by everything that can force a navigation. All
// methods are safe for concurrent use, and the authentication predicate runs
// without any lock held so it may itself trigger navigation.
type Guard struct {
	mu             sync.Mutex
	state          State
	busy           bool
	reentries      int
	epoch          uint64
	lastRedirectAt time.Time

	auth      Authenticator
	routes    *routeTable
	loginPath string
	homePath  string
	ceiling   int
	window    time.Duration
	clock     clock.PassiveClock
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a [Guard] that consults auth for every owned decision.
func New(auth Authenticator, opts ...Option) (*Guard, error) {
	if auth == nil {
		return nil, errors.New("authenticator cannot be nil")
	}

	cfg := &config{
		routes:    DefaultRoutes(),
		loginPath: DefaultLoginPath,
		homePath:  DefaultHomePath,
		ceiling:   DefaultReentryCeiling,
		window:    DefaultRedirectWindow,
		clock:     clock.RealClock{},
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Guard{
		auth:      auth,
		routes:    newRouteTable(cfg.routes),
		loginPath: cfg.loginPath,
		homePath:  cfg.homePath,
		ceiling:   cfg.ceiling,
		window:    cfg.window,
		clock:     cfg.clock,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
	}, nil
}

// LoginPath returns the login destination.
func (g *Guard) LoginPath() string {
	return g.loginPath
}

// HomePath returns the destination for authenticated users.
func (g *Guard) HomePath() string {
	return g.homePath
}

// Decide evaluates a navigation from one path to another.
//
// Checks run in order: the redirect throttle, re-entrancy, then the route
// rules against the authentication predicate. Decide never blocks on another
// decision; it only blocks on the predicate when it owns the guard.
func (g *Guard) Decide(ctx context.Context, to, from string) Decision {
	g.mu.Lock()
	now := g.clock.Now()

	if g.throttledLocked(now) && to != from {
		since := now.Sub(g.lastRedirectAt)
		g.mu.Unlock()
		g.logger.Warn("redirects too frequent, allowing navigation",
			"to", to, "from", from, "since_last_redirect", since)
		return g.record(Decision{Action: ActionAllowWithWarning, Target: to, Reason: ReasonThrottled})
	}

	if g.busy {
		g.reentries++
		n := g.reentries
		if n >= g.ceiling {
			g.resetLocked()
			g.mu.Unlock()
			g.logger.Warn("navigation guard reentry ceiling reached, forcing completion",
				"to", to, "from", from, "reentries", n)
			return g.record(Decision{Action: ActionAllowWithWarning, Target: to, Reason: ReasonReentryCeiling})
		}
		g.state = StateForcedPassthrough
		g.mu.Unlock()
		g.logger.Debug("reentrant navigation passed through", "to", to, "from", from, "reentries", n)
		return g.record(Decision{Action: ActionAllow, Target: to, Reason: ReasonReentry})
	}

	g.busy = true
	g.state = StateDeciding
	g.epoch++
	epoch := g.epoch
	g.mu.Unlock()

	authed, err := g.authenticate(ctx)
	d := g.evaluate(to, authed, err)
	g.finish(epoch, d)

	g.logger.Debug("navigation decided",
		"to", to, "from", from, "authenticated", authed,
		"action", d.Action.String(), "target", d.Target, "reason", d.Reason)
	return g.record(d)
}

// evaluate applies the route rules.
func (g *Guard) evaluate(to string, authed bool, authErr error) Decision {
	if authErr != nil {
		g.logger.Warn("authentication check failed, treating as unauthenticated",
			"to", to, "error", authErr.Error())
		if samePath(to, g.loginPath) {
			return Decision{Action: ActionAllow, Target: to, Reason: ReasonPredicateError}
		}
		return Decision{Action: ActionRedirect, Target: g.loginPath, Reason: ReasonPredicateError}
	}

	route, ok := g.routes.match(to)
	if !ok {
		return Decision{Action: ActionAllow, Target: to, Reason: ReasonUnknownRoute}
	}

	var target, reason string
	switch {
	case route.IndexRedirect:
		target, reason = g.loginPath, ReasonIndex
		if authed {
			target = g.homePath
		}
	case route.RequiresAuth && !authed:
		target, reason = g.loginPath, ReasonRequiresAuth
	case route.GuestOnly && authed:
		target, reason = g.homePath, ReasonGuestOnly
	default:
		return Decision{Action: ActionAllow, Target: to, Reason: ReasonPass}
	}

	if samePath(target, to) {
		return Decision{Action: ActionAllow, Target: to, Reason: ReasonAlreadyThere}
	}
	return Decision{Action: ActionRedirect, Target: target, Reason: reason}
}

// finish releases the guard after an owned decision. A decision whose epoch
// is stale was force-completed and must not reset its successor.
func (g *Guard) finish(epoch uint64, d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d.Action == ActionRedirect {
		g.lastRedirectAt = g.clock.Now()
	}
	if g.epoch == epoch {
		g.resetLocked()
	}
}

func (g *Guard) resetLocked() {
	g.busy = false
	g.reentries = 0
	g.state = StateIdle
}

func (g *Guard) throttledLocked(now time.Time) bool {
	return !g.lastRedirectAt.IsZero() && now.Sub(g.lastRedirectAt) < g.window
}

// authenticate calls the predicate with panic recovery.
func (g *Guard) authenticate(ctx context.Context) (authed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			g.logger.Error("authentication predicate panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			authed = false
			err = fmt.Errorf("authentication predicate panic (correlation_id: %s)", correlationID)
		}
	}()
	return g.auth(ctx)
}

// TryRedirect claims the redirect throttle for a forced redirect issued
// outside Decide, such as an unauthorized API response. It reports false,
// and leaves the throttle untouched, if a redirect was issued within the
// window.
func (g *Guard) TryRedirect() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if g.throttledLocked(now) {
		return false
	}
	g.lastRedirectAt = now
	return true
}

// Status returns the current state of the guard.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Status{
		State:          g.state,
		StateName:      g.state.String(),
		Busy:           g.busy,
		Reentries:      g.reentries,
		LastRedirectAt: g.lastRedirectAt,
	}
}

func (g *Guard) record(d Decision) Decision {
	g.metrics.RecordGuardDecision(d.Action.String(), d.Reason)
	return d
}
