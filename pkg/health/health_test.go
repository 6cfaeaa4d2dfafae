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

func passing() CheckFunc {
	return func(_ context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, endpoint http.HandlerFunc) (int, probeResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body probeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, passing())

	code, body := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestLiveEndpoint_FailuresBelowThresholdStayHealthy(t *testing.T) {
	h := New()
	h.AddLivenessCheck("flaky", time.Second, failing("temporary"))

	ctx := context.Background()
	h.checks[0].eval(ctx)
	h.checks[0].eval(ctx)

	code, _ := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestLiveEndpoint_ConsecutiveFailuresFlipUnhealthy(t *testing.T) {
	h := New()
	h.AddLivenessCheck("db", time.Second, failing("connection refused"))

	ctx := context.Background()
	for range defaultFailThreshold {
		h.checks[0].eval(ctx)
	}

	code, body := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["db"])
}

func TestCheck_SingleSuccessRecovers(t *testing.T) {
	h := New()
	healthy := false
	h.AddLivenessCheck("dep", time.Second, func(_ context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	ctx := context.Background()
	for range defaultFailThreshold {
		h.checks[0].eval(ctx)
	}
	code, _ := probe(t, h.LiveEndpoint)
	require.Equal(t, http.StatusServiceUnavailable, code)

	healthy = true
	h.checks[0].eval(ctx)
	code, _ = probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestReadyEndpoint_GateClosedByDefault(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing())

	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")
	assert.False(t, h.IsReady())
}

func TestReadyEndpoint_ReadyWithPassingChecks(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing())
	h.SetReady(true)

	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint_DrainOnShutdown(t *testing.T) {
	h := New()
	h.SetReady(true)
	require.True(t, h.IsReady())

	h.SetReady(false)
	code, _ := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadinessChecksDoNotAffectLiveness(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, failing("down"))
	h.SetReady(true)

	ctx := context.Background()
	for range defaultFailThreshold {
		h.checks[0].eval(ctx)
	}

	code, _ := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, h.IsReady())
}

func TestStartAndStop(t *testing.T) {
	h := New()
	evaluated := make(chan struct{}, 1)
	h.AddReadinessCheck("dep", time.Second, func(_ context.Context) error {
		select {
		case evaluated <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	select {
	case <-evaluated:
	case <-time.After(time.Second):
		t.Fatal("check was never evaluated")
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(_ context.Context) error { return f.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck(fakePinger{})(context.Background()))
	assert.Error(t, PingCheck(fakePinger{err: errors.New("refused")})(context.Background()))
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
