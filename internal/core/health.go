package core

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the scan service
type HealthStatus struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	MQTTEnabled   bool   `json:"mqtt_enabled"`
	MQTTConnected bool   `json:"mqtt_connected"`
	SessionID     string `json:"session_id,omitempty"`
	SessionState  string `json:"session_state,omitempty"`
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	sess := s.current
	s.mu.RUnlock()

	status := HealthStatus{
		Status:      "healthy",
		MQTTEnabled: s.cfg.MQTT.Enabled,
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if s.mqtt != nil && s.mqtt.Client != nil && s.mqtt.Client.IsConnected() {
		status.MQTTConnected = true
	}
	if sess != nil {
		snap := sess.Snapshot()
		status.SessionID = snap.ID
		status.SessionState = snap.State.String()
	}

	if !running {
		status.Status = "unhealthy"
	} else if status.MQTTEnabled && !status.MQTTConnected {
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
	})
}

// ReadinessHandler handles /readiness endpoint. Degraded is still ready.
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
