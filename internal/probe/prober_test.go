package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProber(policy RetryPolicy) *HTTPProber {
	return NewHTTPProber(policy, 0, zap.NewNop())
}

func TestHTTPProber_Probe(t *testing.T) {
	t.Run("healthy manifest", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			assert.Equal(t, "Autopilot-HealthProbe/1.0", r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"weather","version":"1.2.0"}`))
		}))
		defer server.Close()

		result := testProber(DefaultRetryPolicy()).Probe(context.Background(), server.URL)
		assert.True(t, result.Healthy)
		assert.Empty(t, result.Error)
		assert.Greater(t, result.Latency, time.Duration(0))
	})

	t.Run("non-2xx is unhealthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		result := testProber(DefaultRetryPolicy()).Probe(context.Background(), server.URL)
		assert.False(t, result.Healthy)
		assert.Contains(t, result.Error, "unexpected status 500")
	})

	t.Run("malformed manifest is unhealthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		}))
		defer server.Close()

		result := testProber(DefaultRetryPolicy()).Probe(context.Background(), server.URL)
		assert.False(t, result.Healthy)
		assert.Contains(t, result.Error, "malformed manifest")
	})

	t.Run("slow endpoint times out", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}))
		defer server.Close()

		policy := RetryPolicy{Timeout: 50 * time.Millisecond, MaxAttempts: 1}
		result := testProber(policy).Probe(context.Background(), server.URL)
		assert.False(t, result.Healthy)
		assert.NotEmpty(t, result.Error)
	})

	t.Run("unreachable endpoint is unhealthy", func(t *testing.T) {
		result := testProber(DefaultRetryPolicy()).Probe(context.Background(), "http://127.0.0.1:0/health")
		assert.False(t, result.Healthy)
		assert.NotEmpty(t, result.Error)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := testProber(DefaultRetryPolicy()).Probe(ctx, "http://127.0.0.1:0/health")
		assert.False(t, result.Healthy)
	})
}

func TestRetryPolicy_Do(t *testing.T) {
	t.Run("retries up to max attempts", func(t *testing.T) {
		var calls atomic.Int32
		policy := RetryPolicy{Timeout: time.Second, MaxAttempts: 3, Backoff: time.Millisecond}

		err := policy.Do(context.Background(), func(ctx context.Context) error {
			calls.Add(1)
			return errors.New("transient")
		})
		require.Error(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("stops on first success", func(t *testing.T) {
		var calls atomic.Int32
		policy := RetryPolicy{Timeout: time.Second, MaxAttempts: 3, Backoff: time.Millisecond}

		err := policy.Do(context.Background(), func(ctx context.Context) error {
			if calls.Add(1) < 2 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("context cancellation stops the backoff wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		policy := RetryPolicy{Timeout: time.Second, MaxAttempts: 5, Backoff: time.Hour}

		err := policy.Do(ctx, func(ctx context.Context) error {
			cancel()
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	assert.Equal(t, 8*time.Second, p.Timeout)
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, time.Second, p.Backoff)
}
