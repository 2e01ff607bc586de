package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/e7canasta/orion-scan/internal/session"
	"github.com/e7canasta/orion-scan/internal/types"
)

// startScanCommand handles start_scan. Params may carry facing_mode,
// ideal_width and ideal_height.
func (s *Service) startScanCommand(params map[string]interface{}) (map[string]interface{}, error) {
	c, err := constraintsFromParams(params)
	if err != nil {
		return nil, err
	}
	snap, err := s.StartScan(c)
	if snap.ID == "" {
		return nil, err
	}
	return snapshotData(snap), err
}

func (s *Service) acceptCommand() (map[string]interface{}, error) {
	ev, err := s.Accept()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"name": ev.Name, "value": ev.Value}, nil
}

func (s *Service) cancelCommand() (map[string]interface{}, error) {
	snap, err := s.Cancel()
	if snap.ID == "" {
		return nil, err
	}
	return snapshotData(snap), err
}

// getStatus returns the current service status
func (s *Service) getStatus() map[string]interface{} {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	sess := s.current
	s.mu.RUnlock()

	status := map[string]interface{}{
		"instance_id": s.cfg.InstanceID,
		"running":     running,
		"uptime_s":    time.Since(started).Seconds(),
		"camera": map[string]interface{}{
			"backend":     s.cfg.Camera.Backend,
			"facing_mode": s.cfg.Camera.FacingMode,
		},
		"decoder": map[string]interface{}{
			"mode":        s.cfg.Decoder.Mode,
			"symbologies": s.cfg.Decoder.Symbologies,
		},
	}
	if sess != nil {
		status["session"] = snapshotData(sess.Snapshot())
	}
	if s.mqtt != nil {
		status["mqtt"] = s.mqtt.Stats()
	}
	return status
}

func constraintsFromParams(params map[string]interface{}) (*types.Constraints, error) {
	if len(params) == 0 {
		return nil, nil
	}
	var c types.Constraints

	if v, ok := params["facing_mode"]; ok {
		mode, ok := v.(string)
		if !ok || (mode != string(types.FacingEnvironment) && mode != string(types.FacingUser)) {
			return nil, fmt.Errorf("invalid 'facing_mode' parameter (expected environment or user)")
		}
		c.FacingMode = types.FacingMode(mode)
	}
	for key, dst := range map[string]*int{"ideal_width": &c.IdealWidth, "ideal_height": &c.IdealHeight} {
		v, ok := params[key]
		if !ok {
			continue
		}
		n, ok := v.(float64)
		if !ok || n <= 0 {
			return nil, fmt.Errorf("invalid '%s' parameter (expected positive number)", key)
		}
		*dst = int(n)
	}
	return &c, nil
}

// snapshotData renders a snapshot as a generic JSON object.
func snapshotData(snap session.Snapshot) map[string]interface{} {
	b, err := json.Marshal(snap)
	if err != nil {
		return map[string]interface{}{"id": snap.ID, "state": snap.State.String()}
	}
	var data map[string]interface{}
	json.Unmarshal(b, &data)
	return data
}
