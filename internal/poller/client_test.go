package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

// TestClient_ConnectionReuse verifies that the HTTP client reuses connections
// when making sequential requests to the same host. This validates that the
// Transport is configured with keep-alives enabled and connection pooling active.
func TestClient_ConnectionReuse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient()

	var reusedCount int
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				reusedCount++
			}
		},
	}

	const numRequests = 5

	for i := 0; i < numRequests; i++ {
		ctx := httptrace.WithClientTrace(context.Background(), trace)
		resp := client.Fetch(ctx, server.URL)
		require.NoError(t, resp.Error, "request %d", i)
	}

	// all requests after the first should reuse the connection
	expectedMinReuse := numRequests - 2 // allow some tolerance
	assert.GreaterOrEqual(t, reusedCount, expectedMinReuse)
}

// TestClient_Close verifies that Close() is safe to call and idempotent.
func TestClient_Close(t *testing.T) {
	client := NewClient()

	client.Close()
	client.Close()
	client.Close()

	var nilClient *Client
	nilClient.Close()
}

// TestClient_Close_ActuallyClosesConnections verifies that Close closes idle
// connections, but the client remains usable for new requests.
func TestClient_Close_ActuallyClosesConnections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient()
	for i := 0; i < 5; i++ {
		_, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
	}

	client.Close()

	payload, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, payload)
}

func TestClient_GetSendsBearerToken(t *testing.T) {
	var gotAuth, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"total_mqtt_communication":{"rate":42}}`))
	}))
	defer server.Close()

	client := NewClient(WithTokenSource(staticToken("abc123")))
	payload, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, "Bearer abc123", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]any{
		"total_mqtt_communication": map[string]any{"rate": 42.0},
	}, payload)
}

func TestClient_GetOmitsEmptyToken(t *testing.T) {
	var hadAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(`1`))
	}))
	defer server.Close()

	_, err := NewClient(WithTokenSource(staticToken(""))).Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.False(t, hadAuth)
}

func TestClient_GetStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var unauthorized atomic.Int32
	client := NewClient(WithUnauthorizedHandler(func() { unauthorized.Add(1) }))

	_, err := client.Get(context.Background(), server.URL)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Body, "overloaded")
	assert.False(t, IsUnauthorized(err))
	assert.Zero(t, unauthorized.Load())
}

func TestClient_GetUnauthorizedInvokesHandler(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var unauthorized atomic.Int32
	client := NewClient(WithUnauthorizedHandler(func() { unauthorized.Add(1) }))

	_, err := client.Get(context.Background(), server.URL)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, int32(1), unauthorized.Load())
}

func TestClient_GetDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	_, err := NewClient().Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestClient_GetTruncatesLargeBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"` + strings.Repeat("a", maxResponseBodySize) + `"`))
	}))
	defer server.Close()

	resp := NewClient().Fetch(context.Background(), server.URL)
	require.NoError(t, resp.Error)
	assert.Len(t, resp.Body, maxResponseBodySize)

	_, err := NewClient().Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestClient_GetTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewClient(WithRequestTimeout(20*time.Millisecond)).Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_GetConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient().Get(context.Background(), url)
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}
