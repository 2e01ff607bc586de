package core

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/gate"
	"github.com/e7canasta/orion-scan/internal/logging"
	"github.com/e7canasta/orion-scan/internal/metrics"
	"github.com/e7canasta/orion-scan/internal/session"
	"github.com/e7canasta/orion-scan/internal/types"
)

// errorBody is the JSON body of every non-2xx scan response.
type errorBody struct {
	Error   string            `json:"error"`
	Reason  string            `json:"reason,omitempty"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// Router returns the HTTP API: health probes, metrics and scan control.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(slog.Default()))
	r.Use(metrics.RequestMiddleware(s.metrics))

	r.Get("/health", s.LivenessHandler)
	r.Get("/readiness", s.ReadinessHandler)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/scan", s.handleStartScan)
	r.Get("/scan", s.handleGetScan)
	r.Delete("/scan", s.handleCancelScan)
	r.Post("/scan/accept", s.handleAccept)

	return r
}

// handleStartScan handles POST /scan. Body (optional):
// {"facing_mode": "user", "ideal_width": 1280, "ideal_height": 720}.
func (s *Service) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var override *types.Constraints
	var c types.Constraints
	switch err := json.NewDecoder(r.Body).Decode(&c); {
	case err == nil:
		if c.FacingMode != "" && c.FacingMode != types.FacingEnvironment && c.FacingMode != types.FacingUser {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "facing_mode must be environment or user"})
			return
		}
		override = &c
	case errors.Is(err, io.EOF):
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}

	snap, err := s.StartScan(override)
	if err == nil {
		writeJSON(w, http.StatusCreated, snap)
		return
	}

	body := errorBody{Error: err.Error()}
	if snap.ID != "" {
		body.Session = &snap
	}

	var camErr *camera.CameraError
	switch {
	case errors.Is(err, ErrNotRunning):
		writeJSON(w, http.StatusServiceUnavailable, body)
	case errors.Is(err, ErrScanInProgress), errors.Is(err, session.ErrTerminal):
		writeJSON(w, http.StatusConflict, body)
	case errors.As(err, &camErr):
		body.Reason = camErr.Kind.String()
		writeJSON(w, http.StatusFailedDependency, body)
	default:
		slog.Error("start scan failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// handleGetScan handles GET /scan.
func (s *Service) handleGetScan(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Status()
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleAccept handles POST /scan/accept.
func (s *Service) handleAccept(w http.ResponseWriter, r *http.Request) {
	ev, err := s.Accept()
	if err == nil {
		writeJSON(w, http.StatusOK, ev)
		return
	}

	var verr *gate.ValidationError
	switch {
	case errors.Is(err, ErrNoSession):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Reason: verr.Reason})
	case errors.Is(err, session.ErrNotDetected), errors.Is(err, session.ErrTerminal):
		snap, _ := s.Status()
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Session: &snap})
	default:
		slog.Error("accept failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// handleCancelScan handles DELETE /scan.
func (s *Service) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Cancel()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, ErrNoSession):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrTerminal):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Session: &snap})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}
