package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Cycle is one unit of polling work. ctx is cancelled when the scheduler
// that started the cycle is stopped or restarted.
type Cycle func(ctx context.Context)

// Scheduler runs a [Cycle] immediately on start and then on every tick,
// never running two cycles of the same scheduler at once.
//
// A tick that fires while the previous cycle is still outstanding is
// skipped, not queued, which bounds outstanding work to one cycle however
// slow it is. The busy state survives restarts, so restarting during a slow
// cycle does not start a second one.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	name   string
	cycle  Cycle
	onSkip func()
	clock  clock.WithTicker
	logger *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration

	busy   atomic.Bool
	cycles sync.WaitGroup
}

// NewScheduler creates a stopped [Scheduler].
//
// Parameters:
//   - name: identifies the scheduler in logs
//   - cycle: the work to run on every tick
//   - onSkip: called when a tick is skipped because a cycle is outstanding; may be nil
//   - clk: time source for the ticker
//   - logger: logger for scheduler events (panic recovery, etc.)
func NewScheduler(name string, cycle Cycle, onSkip func(), clk clock.WithTicker, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		name:   name,
		cycle:  cycle,
		onSkip: onSkip,
		clock:  clk,
		logger: logger,
	}
}

// Start begins polling every interval, stopping any loop already running.
//
// Start is non-blocking: the immediate cycle and the ticker run in a
// background goroutine until [Scheduler.Stop] is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.interval = interval

	// the ticker is registered before the first cycle so a clock step after
	// Start always reaches it
	ticker := s.clock.NewTicker(interval)
	go s.run(runCtx, ticker, done)
}

// Stop cancels the ticker and waits for the loop goroutine to exit. An
// outstanding cycle is not waited for; see [Scheduler.Wait].
//
// Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Busy reports whether a cycle is outstanding.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Interval returns the interval of the last Start.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Wait blocks until no cycle is outstanding.
func (s *Scheduler) Wait() {
	s.cycles.Wait()
}

func (s *Scheduler) run(ctx context.Context, ticker clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

// tick starts a cycle unless one is outstanding.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Debug("previous cycle outstanding, skipping tick", "scheduler", s.name)
		if s.onSkip != nil {
			s.onSkip()
		}
		return
	}

	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.busy.Store(false)
		s.safeCycle(ctx)
	}()
}

// safeCycle calls the cycle with panic recovery.
// If the cycle panics, it logs the full stack trace with a correlation ID.
func (s *Scheduler) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			s.logger.Error("poll cycle panic",
				"correlation_id", correlationID,
				"scheduler", s.name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)
		}
	}()
	s.cycle(ctx)
}
