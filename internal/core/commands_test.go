package core

import (
	"testing"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/types"
)

func TestConstraintsFromParams(t *testing.T) {
	c, err := constraintsFromParams(map[string]interface{}{
		"facing_mode":  "user",
		"ideal_width":  float64(1920),
		"ideal_height": float64(1080),
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if *c != (types.Constraints{FacingMode: types.FacingUser, IdealWidth: 1920, IdealHeight: 1080}) {
		t.Errorf("c = %+v", *c)
	}

	if c, err := constraintsFromParams(nil); c != nil || err != nil {
		t.Errorf("nil params = %v, %v", c, err)
	}

	bad := []map[string]interface{}{
		{"facing_mode": "left"},
		{"facing_mode": 3.0},
		{"ideal_width": "wide"},
		{"ideal_height": -1.0},
	}
	for _, p := range bad {
		if _, err := constraintsFromParams(p); err == nil {
			t.Errorf("params %v accepted", p)
		}
	}
}

func TestControlCallbacks(t *testing.T) {
	ts := newTestService(t, validVIN, camera.MockConfig{})

	data, err := ts.svc.startScanCommand(map[string]interface{}{"facing_mode": "environment"})
	if err != nil {
		t.Fatalf("start_scan: %v", err)
	}
	if data["state"] != "streaming" {
		t.Errorf("start_scan data = %v", data)
	}

	ts.waitState(t, "detected")

	status := ts.svc.getStatus()
	if status["running"] != true || status["instance_id"] != "scanner" {
		t.Errorf("status = %v", status)
	}
	sess := status["session"].(map[string]interface{})
	if sess["state"] != "detected" {
		t.Errorf("status session = %v", sess)
	}

	data, err = ts.svc.acceptCommand()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if data["value"] != validVIN {
		t.Errorf("accept data = %v", data)
	}

	if _, err := ts.svc.cancelCommand(); err == nil {
		t.Error("cancel after accept should fail")
	}
}

func TestControlCallbacksWithoutSession(t *testing.T) {
	ts := newTestService(t, "", camera.MockConfig{})

	if data, err := ts.svc.cancelCommand(); err == nil || data != nil {
		t.Errorf("cancel = %v, %v", data, err)
	}
	if _, err := ts.svc.acceptCommand(); err == nil {
		t.Error("accept without session succeeded")
	}
}
