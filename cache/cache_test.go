package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/jpalmerr/stormguard/internal/metrics"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache[V any](t *testing.T, opts ...Option) (*Cache[V], *testclock.FakeClock) {
	t.Helper()
	clk := testclock.NewFakeClock(time.Now())
	opts = append([]Option{WithClock(clk), WithLogger(testLogger())}, opts...)
	c, err := New[V](opts...)
	require.NoError(t, err)
	return c, clk
}

// waitForWaiters blocks until n callers are registered on the load for key.
func waitForWaiters[V any](t *testing.T, c *Cache[V], key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		e, ok := c.Peek(key)
		return ok && e.Waiters == n
	}, 2*time.Second, time.Millisecond)
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero ttl", WithDefaultTTL(0)},
		{"negative ttl", WithDefaultTTL(-time.Second)},
		{"nil clock", WithClock(nil)},
		{"nil logger", WithLogger(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[int](tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New[string]()
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, c.DefaultTTL())
	assert.Equal(t, 0, c.Len())
}

// TestFetch_CoalescesConcurrentCallers verifies that N callers arriving while
// a load is outstanding share one loader invocation and one outcome.
func TestFetch_CoalescesConcurrentCallers(t *testing.T) {
	c, _ := newTestCache[int](t)

	const callers = 8
	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	results := make([]int, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fetch(context.Background(), "k", loader, time.Second)
		}(i)
	}

	waitForWaiters(t, c, "k", callers)
	e, _ := c.Peek("k")
	assert.True(t, e.InFlight)

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, 7, results[i])
	}

	e, _ = c.Peek("k")
	assert.False(t, e.InFlight)
	assert.Zero(t, e.Waiters)
	assert.True(t, e.HasData)
}

// TestFetch_TTLBoundary verifies that a value is fresh strictly before the
// TTL elapses and reloaded once it has.
func TestFetch_TTLBoundary(t *testing.T) {
	c, clk := newTestCache[string](t)
	const ttl = 10 * time.Second

	var calls int
	loader := func(ctx context.Context) (string, error) {
		calls++
		return "v" + string(rune('0'+calls)), nil
	}

	v, err := c.Fetch(context.Background(), "k", loader, ttl)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	clk.Step(ttl - time.Millisecond)
	v, err = c.Fetch(context.Background(), "k", loader, ttl)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, 1, calls)

	clk.Step(2 * time.Millisecond)
	v, err = c.Fetch(context.Background(), "k", loader, ttl)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 2, calls)
}

// TestFetch_PerCallTTL verifies that freshness is judged by each caller's
// own TTL rather than one fixed at insertion.
func TestFetch_PerCallTTL(t *testing.T) {
	c, clk := newTestCache[int](t)

	var calls int
	loader := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	_, err := c.Fetch(context.Background(), "k", loader, time.Minute)
	require.NoError(t, err)

	clk.Step(6 * time.Second)

	v, err := c.Fetch(context.Background(), "k", loader, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "10s TTL should still see the 6s old value")

	v, err = c.Fetch(context.Background(), "k", loader, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "5s TTL should reload the 6s old value")
}

func TestGet_UsesDefaultTTL(t *testing.T) {
	c, clk := newTestCache[int](t, WithDefaultTTL(2*time.Second))

	var calls int
	loader := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	_, _ = c.Get(context.Background(), "k", loader)
	clk.Step(time.Second)
	_, _ = c.Get(context.Background(), "k", loader)
	assert.Equal(t, 1, calls)

	clk.Step(time.Second)
	_, _ = c.Fetch(context.Background(), "k", loader, -1)
	assert.Equal(t, 2, calls)
}

// TestFetch_FailureReachesAllWaitersAndIsNotCached verifies that a failed
// load rejects every coalesced caller and the next call retries.
func TestFetch_FailureReachesAllWaitersAndIsNotCached(t *testing.T) {
	c, _ := newTestCache[int](t)
	errBoom := errors.New("boom")

	release := make(chan struct{})
	var calls atomic.Int32
	failing := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 0, errBoom
	}

	const callers = 3
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := c.Fetch(context.Background(), "k", failing, time.Minute)
			errs <- err
		}()
	}
	waitForWaiters(t, c, "k", callers)
	close(release)

	for i := 0; i < callers; i++ {
		assert.ErrorIs(t, <-errs, errBoom)
	}
	assert.Equal(t, int32(1), calls.Load())

	e, _ := c.Peek("k")
	assert.False(t, e.HasData)
	assert.False(t, e.InFlight)

	v, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 3, nil
	}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

// TestFetch_FailureKeepsPreviousValue verifies that a failed reload leaves
// the last good value in place.
func TestFetch_FailureKeepsPreviousValue(t *testing.T) {
	c, clk := newTestCache[int](t)

	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 1, nil
	}, time.Second)
	require.NoError(t, err)
	first, _ := c.Peek("k")

	clk.Step(2 * time.Second)
	_, err = c.Fetch(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 0, errors.New("down")
	}, time.Second)
	require.Error(t, err)

	e, _ := c.Peek("k")
	assert.True(t, e.HasData)
	assert.Equal(t, 1, e.Data)
	assert.Equal(t, first.FetchedAt, e.FetchedAt)
}

// TestFetch_JoinerSharesPayload models two readers of the same endpoint: the
// second arrives while the first load is still outstanding and both get the
// same payload from a single request.
func TestFetch_JoinerSharesPayload(t *testing.T) {
	c, _ := newTestCache[any](t)
	const url = "http://host/api/rates"

	release := make(chan struct{})
	var requests atomic.Int32
	loader := func(ctx context.Context) (any, error) {
		requests.Add(1)
		<-release
		return map[string]any{"rate": 10.0}, nil
	}

	first := make(chan any, 1)
	go func() {
		v, _ := c.Fetch(context.Background(), url, loader, 5*time.Second)
		first <- v
	}()
	waitForWaiters(t, c, url, 1)

	second := make(chan any, 1)
	go func() {
		v, _ := c.Fetch(context.Background(), url, loader, 5*time.Second)
		second <- v
	}()
	waitForWaiters(t, c, url, 2)

	close(release)

	want := map[string]any{"rate": 10.0}
	assert.Equal(t, want, <-first)
	assert.Equal(t, want, <-second)
	assert.Equal(t, int32(1), requests.Load())
}

// TestFetch_LoaderPanic verifies that a panicking loader is reported as an
// error carrying a correlation ID and does not wedge the key.
func TestFetch_LoaderPanic(t *testing.T) {
	c, _ := newTestCache[int](t)

	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (int, error) {
		panic("kaboom")
	}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation_id")

	e, _ := c.Peek("k")
	assert.False(t, e.InFlight)

	v, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 5, nil
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

// TestFetch_CallerCancellation verifies that a caller whose context ends
// stops waiting while the load still completes and populates the entry.
func TestFetch_CallerCancellation(t *testing.T) {
	c, _ := newTestCache[int](t)

	release := make(chan struct{})
	loaderCtxErr := make(chan error, 1)
	loader := func(ctx context.Context) (int, error) {
		<-release
		loaderCtxErr <- ctx.Err()
		return 9, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "k", loader, time.Minute)
		done <- err
	}()
	waitForWaiters(t, c, "k", 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.NoError(t, <-loaderCtxErr)

	require.Eventually(t, func() bool {
		e, _ := c.Peek("k")
		return e.HasData && !e.InFlight
	}, 2*time.Second, time.Millisecond)

	v, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (int, error) {
		t.Error("loader should not run for a fresh value")
		return 0, nil
	}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache[int](t)

	var calls int
	loader := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	_, _ = c.Fetch(context.Background(), "k", loader, time.Minute)
	c.Invalidate("k")
	c.Invalidate("missing")

	v, err := c.Fetch(context.Background(), "k", loader, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestPeek_UnknownKey(t *testing.T) {
	c, _ := newTestCache[int](t)
	_, ok := c.Peek("nope")
	assert.False(t, ok)
}

func TestFetch_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _ := newTestCache[int](t, WithMetrics(metrics.New(reg)))

	loader := func(ctx context.Context) (int, error) { return 1, nil }
	_, _ = c.Fetch(context.Background(), "k", loader, time.Minute)
	_, _ = c.Fetch(context.Background(), "k", loader, time.Minute)

	count, err := testutil.GatherAndCount(reg, "stormguard_cache_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "expected hit and miss series")
}
