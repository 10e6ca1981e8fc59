package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/metrics"
	"NewsIndexer/internal/retry"
)

func newTestFetcher(client *http.Client, cfg Config, m *metrics.Metrics) *HTTPFetcher {
	f := New(client, cfg, m, nil)
	f.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return f
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	f := newTestFetcher(server.Client(), Config{UserAgent: "test-agent"}, nil)
	body, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer server.Close()

	m := metrics.New()
	f := newTestFetcher(server.Client(), Config{Retry: retry.Policy{MaxRetries: 3, Delay: time.Millisecond}}, m)
	body, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("success")))
}

func TestFetchRetries429(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := newTestFetcher(server.Client(), Config{Retry: retry.Policy{MaxRetries: 2}}, nil)
	_, err := f.Fetch(context.Background(), server.URL)

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, domain.FetchHTTPError, fe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(server.Client(), Config{Retry: retry.Policy{MaxRetries: 5}}, nil)
	_, err := f.Fetch(context.Background(), server.URL)

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := newTestFetcher(server.Client(), Config{Timeout: 20 * time.Millisecond, Retry: retry.Policy{MaxRetries: 1}}, nil)
	_, err := f.Fetch(context.Background(), server.URL)

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, domain.FetchTimeout, fe.Kind)
	assert.Equal(t, 2, fe.Attempts)
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	f := newTestFetcher(nil, Config{Retry: retry.Policy{MaxRetries: 1}}, nil)
	_, err := f.Fetch(context.Background(), target)

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, domain.FetchNetworkError, fe.Kind)
	assert.Equal(t, 2, fe.Attempts)
}

func TestFetchRejectsMalformedTarget(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(nil, Config{}, nil)
	_, err := f.Fetch(context.Background(), "not a url")
	assert.True(t, domain.IsFetchError(err))
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("x", 65)))
	}))
	defer server.Close()

	f := newTestFetcher(server.Client(), Config{MaxBodyBytes: 64, Retry: retry.Policy{MaxRetries: 3}}, nil)
	_, err := f.Fetch(context.Background(), server.URL)

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, domain.FetchHTTPError, fe.Kind)
	assert.ErrorContains(t, fe.Err, "exceeds 64 bytes")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchAcceptsBodyAtLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	f := newTestFetcher(server.Client(), Config{MaxBodyBytes: 64}, nil)
	body, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, body, 64)
}
