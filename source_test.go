package stormguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

const (
	testEndpoint = "http://gateway.local:8080/api/rates"
	mqttPath     = "total_mqtt_communication.rate"
	pluginPath   = "total_plugin_communication.rate"
	waitFor      = 2 * time.Second
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ratesPayload(mqtt, plugin float64) map[string]any {
	return map[string]any{
		"total_mqtt_communication":   map[string]any{"rate": mqtt},
		"total_plugin_communication": map[string]any{"rate": plugin},
	}
}

// scriptedFetch returns queued results in order and repeats the last one.
type scriptedFetch struct {
	mu      sync.Mutex
	results []fetchResult
	calls   atomic.Int32
	gate    chan struct{}
}

type fetchResult struct {
	payload any
	err     error
}

func (f *scriptedFetch) push(payload any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, fetchResult{payload, err})
}

func (f *scriptedFetch) fetch(ctx context.Context) (any, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return nil, errors.New("no scripted result")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.payload, r.err
}

func newTestSource(t *testing.T, f *scriptedFetch, capacity, seed int) (*Source, *testclock.FakeClock) {
	t.Helper()
	clk := testclock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s := newSource(testEndpoint, mqttPath, f.fetch, sourceConfig{
		capacity:        capacity,
		seed:            seed,
		defaultInterval: DefaultPollInterval,
		baseCtx:         context.Background(),
		clock:           clk,
		logger:          testLogger(),
	})
	t.Cleanup(func() {
		s.Stop()
		if f.gate != nil {
			select {
			case <-f.gate:
			default:
				close(f.gate)
			}
		}
		s.wait()
	})
	return s, clk
}

// pollOnce runs one cycle synchronously, as a tick of a running source would.
func pollOnce(s *Source) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.poll(context.Background())
}

func values(history []Sample) []float64 {
	out := make([]float64, len(history))
	for i, h := range history {
		out[i] = h.Value
	}
	return out
}

func TestSource_SeededHistory(t *testing.T) {
	s, clk := newTestSource(t, &scriptedFetch{}, DefaultHistoryCapacity, DefaultHistorySeed)

	snap := s.Snapshot()
	require.Len(t, snap.History, DefaultHistorySeed)
	assert.Equal(t, StatusIdle, snap.Status())
	assert.True(t, snap.Connected)
	assert.False(t, snap.Running)

	for i, h := range snap.History {
		assert.Zero(t, h.Value)
		if i > 0 {
			assert.True(t, h.Timestamp.After(snap.History[i-1].Timestamp), "timestamps must increase")
		}
	}
	assert.Equal(t, clk.Now().Add(-time.Second), snap.History[len(snap.History)-1].Timestamp)
}

func TestSource_ExtractsValue(t *testing.T) {
	f := &scriptedFetch{}
	f.push(ratesPayload(42, 7), nil)
	s, _ := newTestSource(t, f, DefaultHistoryCapacity, DefaultHistorySeed)

	s.Start(time.Second)
	require.Eventually(t, func() bool { return !s.Snapshot().UpdatedAt.IsZero() }, waitFor, time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, 42.0, snap.Value)
	assert.Equal(t, StatusOK, snap.Status())
	assert.NoError(t, snap.Err)
	require.Len(t, snap.History, DefaultHistorySeed+1)
	assert.Equal(t, 42.0, snap.History[len(snap.History)-1].Value)
	assert.True(t, s.Running())
	assert.Equal(t, time.Second, s.Interval())
}

// Appending past capacity keeps exactly the most recent samples in order.
func TestSource_HistoryBound(t *testing.T) {
	f := &scriptedFetch{}
	for i := 1; i <= DefaultHistoryCapacity+1; i++ {
		f.push(ratesPayload(float64(i), 0), nil)
	}
	s, _ := newTestSource(t, f, DefaultHistoryCapacity, 0)

	for i := 0; i <= DefaultHistoryCapacity; i++ {
		pollOnce(s)
	}

	want := make([]float64, DefaultHistoryCapacity)
	for i := range want {
		want[i] = float64(i + 2)
	}
	if diff := cmp.Diff(want, values(s.Snapshot().History)); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

// A reachable endpoint without the path flags the error and keeps the
// previous value and history.
func TestSource_MissingPath(t *testing.T) {
	f := &scriptedFetch{}
	f.push(ratesPayload(7, 1), nil)
	f.push(map[string]any{"total_plugin_communication": map[string]any{"rate": 3.0}}, nil)
	s, _ := newTestSource(t, f, 10, 0)

	pollOnce(s)
	before := s.Snapshot()
	pollOnce(s)
	snap := s.Snapshot()

	assert.True(t, snap.HasError)
	assert.True(t, snap.Connected)
	assert.Equal(t, 7.0, snap.Value)
	assert.Equal(t, StatusDegraded, snap.Status())
	assert.ErrorIs(t, snap.Err, ErrExtraction)
	assert.False(t, IsTransportError(snap.Err))
	assert.Equal(t, values(before.History), values(snap.History))
}

func TestSource_TransportFailureRecordsZero(t *testing.T) {
	f := &scriptedFetch{}
	f.push(ratesPayload(5, 0), nil)
	f.push(nil, errors.New("connection refused"))
	f.push(ratesPayload(6, 0), nil)
	s, _ := newTestSource(t, f, 10, 0)

	pollOnce(s)
	pollOnce(s)
	snap := s.Snapshot()
	assert.False(t, snap.Connected)
	assert.True(t, snap.HasError)
	assert.Zero(t, snap.Value)
	assert.Equal(t, StatusDisconnected, snap.Status())
	assert.True(t, IsTransportError(snap.Err))
	assert.Equal(t, []float64{5, 0}, values(snap.History))

	pollOnce(s)
	snap = s.Snapshot()
	assert.True(t, snap.Connected)
	assert.False(t, snap.HasError)
	assert.NoError(t, snap.Err)
	assert.Equal(t, []float64{5, 0, 6}, values(snap.History))
}

// Ticks that fire while a request is outstanding are skipped.
func TestSource_CyclesNeverOverlap(t *testing.T) {
	f := &scriptedFetch{gate: make(chan struct{})}
	f.push(ratesPayload(1, 0), nil)
	s, clk := newTestSource(t, f, 10, 0)

	s.Start(time.Second)
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, waitFor, time.Millisecond)

	for i := 0; i < 5; i++ {
		clk.Step(time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(1), f.calls.Load())

	close(f.gate)
	s.wait()
	clk.Step(time.Second)
	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, waitFor, time.Millisecond)
}

// Stop lets an in-flight request finish but drops its result.
func TestSource_StopDiscardsInFlightResult(t *testing.T) {
	f := &scriptedFetch{gate: make(chan struct{})}
	f.push(ratesPayload(9, 0), nil)
	s, _ := newTestSource(t, f, 10, 0)

	s.Start(time.Second)
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, waitFor, time.Millisecond)

	s.Stop()
	close(f.gate)
	s.wait()

	snap := s.Snapshot()
	assert.False(t, snap.Running)
	assert.True(t, snap.UpdatedAt.IsZero(), "result applied after Stop")
	assert.Empty(t, snap.History)
}

func TestSource_StartDefaultsAndRestart(t *testing.T) {
	f := &scriptedFetch{}
	f.push(ratesPayload(1, 0), nil)
	s, _ := newTestSource(t, f, 10, 0)

	s.Start(0)
	assert.Equal(t, DefaultPollInterval, s.Interval())

	s.Start(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, s.Interval())
	assert.True(t, s.Running())

	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestSource_Subscribe(t *testing.T) {
	f := &scriptedFetch{}
	f.push(ratesPayload(3, 0), nil)
	f.push(ratesPayload(4, 0), nil)
	s, _ := newTestSource(t, f, 10, 0)

	ch, unsubscribe := s.Subscribe()

	pollOnce(s)
	pollOnce(s)

	// the channel holds only the latest snapshot
	select {
	case snap := <-ch:
		assert.Equal(t, 4.0, snap.Value)
	case <-time.After(waitFor):
		t.Fatal("no snapshot delivered")
	}

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")

	// publishing with no subscribers must not block
	pollOnce(s)
}

func TestSource_SnapshotIsDetached(t *testing.T) {
	f := &scriptedFetch{}
	f.push(ratesPayload(3, 0), nil)
	s, _ := newTestSource(t, f, 10, 0)
	pollOnce(s)

	snap := s.Snapshot()
	snap.History[0].Value = 99
	assert.Equal(t, 3.0, s.Snapshot().History[0].Value)
}

func TestSource_Accessors(t *testing.T) {
	s, _ := newTestSource(t, &scriptedFetch{}, 10, 0)
	assert.Equal(t, testEndpoint, s.Endpoint())
	assert.Equal(t, mqttPath, s.Path())
	assert.Equal(t, sourceKey(testEndpoint, mqttPath), s.Key())
}
