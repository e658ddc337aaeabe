package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusResponse {
	t.Helper()
	var out statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("healthy by default", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("noop", time.Second, func(context.Context) error { return nil })

		rec := httptest.NewRecorder()
		h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decodeStatus(t, rec).Status)
	})

	t.Run("reports failed check", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("broken", time.Second, func(context.Context) error {
			return errors.New("too many goroutines")
		})

		// Drive the check directly past the failure threshold.
		c := h.liveness[0]
		for i := 0; i < failureThreshold; i++ {
			c.run(context.Background())
		}

		rec := httptest.NewRecorder()
		h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		out := decodeStatus(t, rec)
		assert.Equal(t, "unhealthy", out.Status)
		assert.Equal(t, "too many goroutines", out.Checks["broken"])
	})
}

func TestFailureThreshold(t *testing.T) {
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		return errors.New("transient")
	})
	c := h.liveness[0]

	// Below the threshold the check stays healthy.
	for i := 0; i < failureThreshold-1; i++ {
		c.run(context.Background())
		assert.True(t, c.healthy.Load())
	}

	c.run(context.Background())
	assert.False(t, c.healthy.Load())
}

func TestCheckRecovers(t *testing.T) {
	h := New()
	fail := true
	h.AddLivenessCheck("recovering", time.Second, func(context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})
	c := h.liveness[0]

	for i := 0; i < failureThreshold; i++ {
		c.run(context.Background())
	}
	require.False(t, c.healthy.Load())

	fail = false
	c.run(context.Background())
	assert.True(t, c.healthy.Load())
}

func TestReadyEndpoint(t *testing.T) {
	h := New()

	t.Run("not ready before SetReady", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.False(t, h.IsReady())
	})

	t.Run("ready after SetReady", func(t *testing.T) {
		h.SetReady(true)

		rec := httptest.NewRecorder()
		h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, h.IsReady())
	})

	t.Run("draining flips back", func(t *testing.T) {
		h.SetReady(false)
		assert.False(t, h.IsReady())
	})
}

func TestStartAndStop(t *testing.T) {
	h := New()
	ran := make(chan struct{}, 1)
	h.AddReadinessCheck("store", time.Second, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("check never ran")
	}

	h.Stop()
	h.Stop() // repeated Stop is safe
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(1)(context.Background()))
}
