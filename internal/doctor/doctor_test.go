package doctor_test

import (
	"context"
	"testing"

	"github.com/basket/slipterm/internal/config"
	"github.com/basket/slipterm/internal/doctor"
)

func TestRunFlagsMissingTransportPath(t *testing.T) {
	cfg := config.Default()
	d := doctor.Run(context.Background(), cfg, "test")

	var found bool
	for _, r := range d.Results {
		if r.Name == "Transport path" {
			found = true
			if r.Status != "FAIL" {
				t.Fatalf("expected FAIL for missing transport path, got %s", r.Status)
			}
		}
	}
	if !found {
		t.Fatal("expected a Transport path check result")
	}
}

func TestRunPassesOnWellFormedConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TransportPath = "/dev/null"
	d := doctor.Run(context.Background(), cfg, "test")
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			t.Fatalf("unexpected FAIL: %+v", r)
		}
	}
}

func TestRunProbesTunDeviceNodeWhenTunnelConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.TransportPath = "/dev/null"
	cfg.TunnelInterface = "slip0"
	d := doctor.Run(context.Background(), cfg, "test")

	var found bool
	for _, r := range d.Results {
		if r.Name != "Tunnel interface" {
			continue
		}
		found = true
		// /dev/net/tun may or may not exist in the test sandbox; either
		// way the result must reflect an actual probe, not a bare
		// presence-of-config-string check.
		if r.Status != "PASS" && r.Status != "WARN" {
			t.Fatalf("expected PASS or WARN once the device node is probed, got %s", r.Status)
		}
	}
	if !found {
		t.Fatal("expected a Tunnel interface check result")
	}
}
