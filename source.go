package stormguard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/jpalmerr/stormguard/internal/metrics"
	"github.com/jpalmerr/stormguard/internal/poller"
)

// Defaults for sources created by a [Registry].
const (
	DefaultPollInterval    = 3 * time.Second
	DefaultHistoryCapacity = 100
	DefaultHistorySeed     = 50
)

// fetchFunc retrieves the decoded payload of a source's endpoint.
type fetchFunc func(ctx context.Context) (any, error)

// Source polls one (endpoint, path) pair and keeps a bounded history of the
// values it extracts.
//
// Sources are obtained from [Registry.Get] and shared by every consumer of
// the same pair. Creating a source does not poll; call [Source.Start].
// At most one request per source is outstanding at any time: ticks that
// fire while a cycle is still running are skipped.
//
// Observers receive a [Snapshot] after every applied cycle through
// [Source.Subscribe]. All methods are safe for concurrent use.
type Source struct {
	endpoint string
	path     string
	label    string
	parts    []string
	fetch    fetchFunc

	capacity        int
	defaultInterval time.Duration
	baseCtx         context.Context
	clock           clock.WithTicker
	logger          *slog.Logger
	metrics         *metrics.Metrics
	scheduler       *poller.Scheduler

	// serialises Start and Stop
	lifecycle sync.Mutex

	mu        sync.RWMutex
	history   []Sample
	current   float64
	connected bool
	hasError  bool
	lastErr   error
	updatedAt time.Time
	running   bool
	subs      map[int]chan Snapshot
	nextSub   int
}

type sourceConfig struct {
	capacity        int
	seed            int
	defaultInterval time.Duration
	baseCtx         context.Context
	clock           clock.WithTicker
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

func newSource(endpoint, path string, fetch fetchFunc, cfg sourceConfig) *Source {
	s := &Source{
		endpoint:        endpoint,
		path:            path,
		label:           endpoint + "#" + path,
		parts:           splitPath(path),
		fetch:           fetch,
		capacity:        cfg.capacity,
		defaultInterval: cfg.defaultInterval,
		baseCtx:         cfg.baseCtx,
		clock:           cfg.clock,
		logger:          cfg.logger.With("endpoint", endpoint, "path", path),
		metrics:         cfg.metrics,
		history:         make([]Sample, 0, cfg.capacity),
		connected:       true,
		subs:            make(map[int]chan Snapshot),
	}

	// seed so charts never render empty
	now := cfg.clock.Now()
	for i := 0; i < cfg.seed; i++ {
		s.appendLocked(Sample{Timestamp: now.Add(-time.Duration(cfg.seed-i) * time.Second)})
	}

	s.scheduler = poller.NewScheduler(s.label, s.poll, s.skipped, cfg.clock, cfg.logger)
	return s
}

// Endpoint returns the polled URL.
func (s *Source) Endpoint() string {
	return s.endpoint
}

// Path returns the extraction path.
func (s *Source) Path() string {
	return s.path
}

// Key returns the registry key of the source.
func (s *Source) Key() string {
	return sourceKey(s.endpoint, s.path)
}

// Start polls once immediately and then every interval until [Source.Stop].
// A non-positive interval uses the registry default. Starting a running
// source replaces its timer.
func (s *Source) Start(interval time.Duration) {
	if interval <= 0 {
		interval = s.defaultInterval
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.scheduler.Start(s.baseCtx, interval)
	s.logger.Debug("source started", "interval", interval.String())
}

// Stop cancels future polls. A request already in flight is not aborted,
// but its result is discarded. Stop is safe to call on a stopped source.
func (s *Source) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.scheduler.Stop()
	if wasRunning {
		s.logger.Debug("source stopped")
	}
}

// Running reports whether the source is polling.
func (s *Source) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Interval returns the interval of the last Start.
func (s *Source) Interval() time.Duration {
	return s.scheduler.Interval()
}

// Snapshot returns a copy of the source's current state.
func (s *Source) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers an observer. The channel always holds the latest
// snapshot not yet received: a slow observer skips intermediate snapshots
// rather than blocking polling. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (s *Source) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// poll runs one fetch-and-sample cycle.
func (s *Source) poll(ctx context.Context) {
	// a stop must not abort the request; the result is gated below instead
	payload, err := s.fetch(context.WithoutCancel(ctx))
	now := s.clock.Now()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.metrics.RecordPoll(s.label, metrics.PollDiscarded)
		s.logger.Debug("source stopped, discarding result")
		return
	}

	outcome := s.applyLocked(now, payload, err)
	snap := s.snapshotLocked()
	s.publishLocked(snap)
	s.mu.Unlock()

	s.metrics.RecordPoll(s.label, outcome)
	s.metrics.SetSourceValue(s.label, snap.Value)

	switch outcome {
	case metrics.PollTransportError:
		s.logger.Warn("poll failed", "error", snap.Err.Error())
	case metrics.PollExtractionError:
		s.logger.Warn("value extraction failed", "error", snap.Err.Error())
	default:
		s.logger.Debug("poll completed", "value", snap.Value)
	}
}

// applyLocked folds one cycle's result into the state and returns its
// outcome label.
//
// A transport failure appends a zero sample so charts show a drop rather
// than a gap. An extraction failure from a reachable endpoint only flags
// the error and keeps the previous value.
func (s *Source) applyLocked(now time.Time, payload any, err error) string {
	s.updatedAt = now

	if err != nil {
		s.connected = false
		s.hasError = true
		s.lastErr = err
		s.current = 0
		s.appendLocked(Sample{Timestamp: now})
		return metrics.PollTransportError
	}

	v, err := extractParts(payload, s.parts)
	if err != nil {
		s.connected = true
		s.hasError = true
		s.lastErr = err
		return metrics.PollExtractionError
	}

	s.connected = true
	s.hasError = false
	s.lastErr = nil
	s.current = v
	s.appendLocked(Sample{Timestamp: now, Value: v})
	return metrics.PollOK
}

// appendLocked adds a sample, evicting the oldest when at capacity.
func (s *Source) appendLocked(sample Sample) {
	if len(s.history) < s.capacity {
		s.history = append(s.history, sample)
		return
	}
	copy(s.history, s.history[1:])
	s.history[len(s.history)-1] = sample
}

func (s *Source) snapshotLocked() Snapshot {
	history := make([]Sample, len(s.history))
	copy(history, s.history)
	return Snapshot{
		Endpoint:  s.endpoint,
		Path:      s.path,
		Value:     s.current,
		History:   history,
		Connected: s.connected,
		HasError:  s.hasError,
		Err:       s.lastErr,
		Running:   s.running,
		UpdatedAt: s.updatedAt,
	}
}

// publishLocked hands snap to every subscriber, replacing any snapshot the
// subscriber has not received yet.
func (s *Source) publishLocked(snap Snapshot) {
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Source) skipped() {
	s.metrics.RecordPoll(s.label, metrics.PollSkipped)
}

// wait blocks until no cycle is outstanding.
func (s *Source) wait() {
	s.scheduler.Wait()
}

// IsTransportError reports whether err came from the transport rather than
// from value extraction.
func IsTransportError(err error) bool {
	return err != nil && !errors.Is(err, ErrExtraction)
}
