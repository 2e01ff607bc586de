package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/e7canasta/orion-scan/internal/session"
)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.SessionStarted()
	for i := 0; i < 5; i++ {
		m.FrameSampled()
	}
	m.FrameDropped()
	m.RequestDispatched()
	m.ResultApplied(true, 40*time.Millisecond)
	m.ResultApplied(false, 0)
	m.ResultStale()
	m.DecodeTimeout()
	m.WorkerRestarted()

	if got := testutil.ToFloat64(m.framesSampled); got != 5 {
		t.Errorf("frames sampled = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.results.WithLabelValues("match")); got != 1 {
		t.Errorf("match results = %v", got)
	}
	if got := testutil.ToFloat64(m.results.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss results = %v", got)
	}
	if got := testutil.ToFloat64(m.results.WithLabelValues("stale")); got != 1 {
		t.Errorf("stale results = %v", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}

	m.SessionEnded(session.Accepted, session.ReasonAccepted)
	if got := testutil.ToFloat64(m.sessionsEnded.WithLabelValues("accepted", "accepted")); got != 1 {
		t.Errorf("sessions ended = %v", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 0 {
		t.Errorf("active sessions after end = %v", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.RequestDispatched()

	h := RequestMiddleware(m)(m.Handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "orion_scan_decode_requests_total 1") {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("2xx")); got != 1 {
		t.Errorf("http 2xx = %v", got)
	}
}
