package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/emitter"
	"github.com/e7canasta/orion-scan/internal/session"
	"github.com/e7canasta/orion-scan/internal/types"
	"github.com/e7canasta/orion-scan/internal/worker"
)

const validVIN = "1HGCM82633A004352"

// scriptedDecoder reports the same symbol on every frame, or misses when
// text is empty.
type scriptedDecoder struct {
	text string
}

func (d scriptedDecoder) Decode(f types.Frame) types.DecodeResult {
	if d.text == "" {
		return types.Miss(f.Seq)
	}
	return types.DecodeResult{
		Seq: f.Seq,
		Match: &types.Match{
			Text:      d.text,
			Points:    []types.Point{{X: 10, Y: 10}, {X: 90, Y: 10}},
			Symbology: "code39",
		},
	}
}

type recordingEmitter struct {
	mu       sync.Mutex
	changes  []emitter.ChangeMessage
	overlays []emitter.OverlayMessage
}

func (e *recordingEmitter) PublishChange(m emitter.ChangeMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = append(e.changes, m)
	return nil
}

func (e *recordingEmitter) PublishOverlay(m emitter.OverlayMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overlays = append(e.overlays, m)
	return nil
}

func (e *recordingEmitter) snapshot() ([]emitter.ChangeMessage, []emitter.OverlayMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitter.ChangeMessage(nil), e.changes...), append([]emitter.OverlayMessage(nil), e.overlays...)
}

type testService struct {
	svc     *Service
	emitter *recordingEmitter
	handler http.Handler
}

func newTestService(t *testing.T, text string, mock camera.MockConfig) *testService {
	t.Helper()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Camera.IdealWidth, cfg.Camera.IdealHeight = 64, 48

	if mock.FPS == 0 {
		mock.FPS = 100
	}
	if mock.SamplePeriod == 0 {
		mock.SamplePeriod = 20 * time.Millisecond
	}

	em := &recordingEmitter{}
	svc, err := NewService(cfg, Deps{
		Sources: func() (camera.Source, error) { return camera.NewMockSource(mock), nil },
		Workers: func() (worker.Worker, error) {
			w, err := worker.NewInProcess("test-decoder", scriptedDecoder{text: text})
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		Emitter: em,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	return &testService{svc: svc, emitter: em, handler: svc.Router()}
}

func (ts *testService) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: bad JSON %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, decoded
}

func (ts *testService) waitState(t *testing.T, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		code, body := ts.do(t, http.MethodGet, "/scan", "")
		if code == http.StatusOK && body["state"] == want {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never reached %q, last = %d %v", want, code, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScanAcceptFlow(t *testing.T) {
	ts := newTestService(t, validVIN, camera.MockConfig{})

	code, body := ts.do(t, http.MethodPost, "/scan", "")
	if code != http.StatusCreated {
		t.Fatalf("POST /scan = %d %v", code, body)
	}
	if (body["state"] != "streaming" && body["state"] != "detected") || body["stream_held"] != true {
		t.Errorf("start snapshot = %v", body)
	}

	detected := ts.waitState(t, "detected")
	ov, ok := detected["overlay"].(map[string]interface{})
	if !ok || ov["shape"] != "rectangle" {
		t.Fatalf("overlay = %v", detected["overlay"])
	}
	pts := ov["points"].([]interface{})
	first := pts[0].(map[string]interface{})
	third := pts[2].(map[string]interface{})
	if first["x"] != 0.0 || first["y"] != 0.0 || third["x"] != 100.0 || third["y"] != 20.0 {
		t.Errorf("overlay points = %v", pts)
	}
	t.Logf("detected after %v dispatched requests", detected["last_dispatched_seq"])

	code, body = ts.do(t, http.MethodPost, "/scan/accept", "")
	if code != http.StatusOK {
		t.Fatalf("accept = %d %v", code, body)
	}
	if body["name"] != "vin" || body["value"] != validVIN {
		t.Errorf("change event = %v", body)
	}

	code, body = ts.do(t, http.MethodGet, "/scan", "")
	if code != http.StatusOK || body["state"] != "accepted" || body["stream_held"] != false {
		t.Errorf("after accept = %d %v", code, body)
	}

	code, _ = ts.do(t, http.MethodPost, "/scan/accept", "")
	if code != http.StatusConflict {
		t.Errorf("second accept = %d, want 409", code)
	}

	changes, overlays := ts.emitter.snapshot()
	if len(changes) != 1 || changes[0].Value != validVIN || changes[0].Name != "vin" || changes[0].SessionID != detected["id"] {
		t.Errorf("changes = %+v", changes)
	}
	sawDetected := false
	for _, m := range overlays {
		if m.State == "detected" && len(m.Points) == 4 {
			sawDetected = true
		}
	}
	if !sawDetected {
		t.Errorf("no detected overlay published among %d messages", len(overlays))
	}
}

func TestScanInProgress(t *testing.T) {
	ts := newTestService(t, "", camera.MockConfig{})

	if code, _ := ts.do(t, http.MethodPost, "/scan", ""); code != http.StatusCreated {
		t.Fatalf("first start = %d", code)
	}
	code, body := ts.do(t, http.MethodPost, "/scan", "")
	if code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", code)
	}
	if _, ok := body["session"]; !ok {
		t.Errorf("conflict body lacks current session: %v", body)
	}
}

func TestScanCameraFailure(t *testing.T) {
	ts := newTestService(t, validVIN, camera.MockConfig{
		StartError: camera.NewError(camera.PermissionDenied, errors.New("user said no")),
	})

	code, body := ts.do(t, http.MethodPost, "/scan", `{"facing_mode":"user"}`)
	if code != http.StatusFailedDependency {
		t.Fatalf("start = %d %v, want 424", code, body)
	}
	if body["reason"] != "permission_denied" {
		t.Errorf("reason = %v", body["reason"])
	}
	sess := body["session"].(map[string]interface{})
	failure := sess["failure"].(map[string]interface{})
	if sess["state"] != "failed" || failure["kind"] != "camera" || failure["camera_kind"] != "permission_denied" {
		t.Errorf("session = %v", sess)
	}

	// A failed session does not block the next attempt.
	code, _ = ts.do(t, http.MethodPost, "/scan", "")
	if code != http.StatusFailedDependency {
		t.Errorf("retry = %d, want 424", code)
	}
}

func TestScanSourceFactoryFailure(t *testing.T) {
	ts := newTestService(t, validVIN, camera.MockConfig{})
	ts.svc.deps.Sources = func() (camera.Source, error) {
		return nil, errors.New("GStreamer not available")
	}

	code, body := ts.do(t, http.MethodPost, "/scan", "")
	if code != http.StatusFailedDependency {
		t.Fatalf("start = %d %v, want 424", code, body)
	}
	if body["reason"] != "device_unavailable" {
		t.Errorf("reason = %v", body["reason"])
	}
	sess, ok := body["session"].(map[string]interface{})
	if !ok {
		t.Fatalf("no session in body: %v", body)
	}
	failure := sess["failure"].(map[string]interface{})
	if sess["state"] != "failed" || failure["camera_kind"] != "device_unavailable" {
		t.Errorf("session = %v", sess)
	}

	code, status := ts.do(t, http.MethodGet, "/scan", "")
	if code != http.StatusOK || status["state"] != "failed" {
		t.Errorf("status = %d %v, want failed session", code, status)
	}
}

func TestAcceptWithoutDetection(t *testing.T) {
	ts := newTestService(t, "", camera.MockConfig{})

	ts.do(t, http.MethodPost, "/scan", "")
	code, body := ts.do(t, http.MethodPost, "/scan/accept", "")
	if code != http.StatusConflict {
		t.Fatalf("accept while streaming = %d %v, want 409", code, body)
	}
}

func TestAcceptValidationFailure(t *testing.T) {
	ts := newTestService(t, "NOT-A-VIN", camera.MockConfig{})

	ts.do(t, http.MethodPost, "/scan", "")
	ts.waitState(t, "detected")

	code, body := ts.do(t, http.MethodPost, "/scan/accept", "")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("accept = %d %v, want 422", code, body)
	}
	if body["reason"] == nil {
		t.Errorf("missing reason: %v", body)
	}

	_, snap := ts.do(t, http.MethodGet, "/scan", "")
	if snap["state"] != "detected" || snap["validation_error"] == nil {
		t.Errorf("after rejected accept = %v", snap)
	}
	if changes, _ := ts.emitter.snapshot(); len(changes) != 0 {
		t.Errorf("change emitted for rejected value: %+v", changes)
	}
}

func TestCancelScan(t *testing.T) {
	ts := newTestService(t, "", camera.MockConfig{})

	ts.do(t, http.MethodPost, "/scan", "")
	code, body := ts.do(t, http.MethodDelete, "/scan", "")
	if code != http.StatusOK || body["state"] != "cancelled" || body["end_reason"] != "cancelled" {
		t.Fatalf("cancel = %d %v", code, body)
	}

	if code, _ := ts.do(t, http.MethodDelete, "/scan", ""); code != http.StatusConflict {
		t.Errorf("second cancel = %d, want 409", code)
	}
	if code, _ := ts.do(t, http.MethodPost, "/scan", ""); code != http.StatusCreated {
		t.Errorf("start after cancel = %d, want 201", code)
	}
}

func TestNoSession(t *testing.T) {
	ts := newTestService(t, "", camera.MockConfig{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/scan"},
		{http.MethodPost, "/scan/accept"},
		{http.MethodDelete, "/scan"},
	} {
		if code, _ := ts.do(t, tc.method, tc.path, ""); code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, code)
		}
	}
}

func TestStartScanBadBody(t *testing.T) {
	ts := newTestService(t, "", camera.MockConfig{})

	if code, _ := ts.do(t, http.MethodPost, "/scan", "{"); code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", code)
	}
	if code, _ := ts.do(t, http.MethodPost, "/scan", `{"facing_mode":"sideways"}`); code != http.StatusBadRequest {
		t.Errorf("bad facing mode = %d, want 400", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestService(t, validVIN, camera.MockConfig{})

	if code, body := ts.do(t, http.MethodGet, "/health", ""); code != http.StatusOK || body["status"] != "alive" {
		t.Errorf("health = %d %v", code, body)
	}
	if code, body := ts.do(t, http.MethodGet, "/readiness", ""); code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("readiness = %d %v", code, body)
	}

	ts.do(t, http.MethodPost, "/scan", "")
	ts.waitState(t, "detected")

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	for _, name := range []string{
		"orion_scan_sessions_started_total 1",
		"orion_scan_frames_sampled_total",
		`orion_scan_decode_results_total{outcome="match"}`,
		"orion_scan_decode_latency_seconds_bucket",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("metrics missing %s", name)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts.svc.Shutdown(ctx)

	if code, body := ts.do(t, http.MethodGet, "/readiness", ""); code != http.StatusServiceUnavailable {
		t.Errorf("readiness after shutdown = %d %v", code, body)
	}
}

func TestShutdownEndsSession(t *testing.T) {
	ts := newTestService(t, "", camera.MockConfig{})

	if _, err := ts.svc.StartScan(nil); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	snap, err := ts.svc.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.State != session.Cancelled || snap.EndReason != session.ReasonShutdown || snap.StreamHeld {
		t.Errorf("after shutdown = %s/%s held=%v", snap.State, snap.EndReason, snap.StreamHeld)
	}

	if _, err := ts.svc.StartScan(nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("StartScan after shutdown = %v, want ErrNotRunning", err)
	}
}

func TestConstraintOverride(t *testing.T) {
	ts := newTestService(t, "", camera.MockConfig{})

	got := ts.svc.constraints(&types.Constraints{FacingMode: types.FacingUser, IdealWidth: 320})
	want := types.Constraints{FacingMode: types.FacingUser, IdealWidth: 320, IdealHeight: 48}
	if got != want {
		t.Errorf("constraints = %+v, want %+v", got, want)
	}
	if got := ts.svc.constraints(nil); got.FacingMode != types.FacingEnvironment {
		t.Errorf("default facing mode = %s", got.FacingMode)
	}
}
