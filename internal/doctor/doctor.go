// Package doctor runs preflight checks before the event loop starts:
// does the configured transport path exist and look open-able, is the
// tunnel capability present, is the config file well-formed. Each
// check returns a CheckResult rather than failing fast, so a single
// broken check doesn't hide the rest of the diagnosis.
package doctor

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/basket/slipterm/internal/config"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
}

type Diagnosis struct {
	Timestamp time.Time    `json:"timestamp"`
	System    SystemInfo   `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes every preflight check against cfg.
func Run(ctx context.Context, cfg config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(config.Config) CheckResult{
		checkTransportPath,
		checkTunnelInterfaceName,
		checkColorTheme,
		checkScheduledCommands,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(cfg))
	}
	return d
}

func checkTransportPath(cfg config.Config) CheckResult {
	if cfg.TransportPath == "" {
		return CheckResult{Name: "Transport path", Status: "FAIL", Message: "no transport path configured"}
	}
	info, err := os.Stat(cfg.TransportPath)
	if err != nil {
		return CheckResult{Name: "Transport path", Status: "WARN", Message: "path not reachable yet: " + err.Error()}
	}
	if info.Mode()&os.ModeCharDevice == 0 && info.Mode()&os.ModeSocket == 0 {
		return CheckResult{Name: "Transport path", Status: "WARN", Message: "path exists but is neither a character device nor a socket"}
	}
	return CheckResult{Name: "Transport path", Status: "PASS", Message: "found " + cfg.TransportPath}
}

func checkTunnelInterfaceName(cfg config.Config) CheckResult {
	if cfg.TunnelInterface == "" {
		return CheckResult{Name: "Tunnel interface", Status: "SKIP", Message: "tunnel bridge disabled"}
	}
	if _, err := os.Stat("/dev/net/tun"); err != nil {
		return CheckResult{Name: "Tunnel interface", Status: "WARN", Message: "configured as " + cfg.TunnelInterface + " but /dev/net/tun is not available: " + err.Error()}
	}
	return CheckResult{Name: "Tunnel interface", Status: "PASS", Message: "configured as " + cfg.TunnelInterface + ", /dev/net/tun present"}
}

func checkColorTheme(cfg config.Config) CheckResult {
	switch cfg.ColorTheme {
	case "default", "dark", "light", "mono", "":
		return CheckResult{Name: "Color theme", Status: "PASS", Message: cfg.ColorTheme}
	default:
		return CheckResult{Name: "Color theme", Status: "WARN", Message: "unrecognized theme " + cfg.ColorTheme + ", falling back to default"}
	}
}

func checkScheduledCommands(cfg config.Config) CheckResult {
	if len(cfg.ScheduledCommands) == 0 {
		return CheckResult{Name: "Scheduled commands", Status: "SKIP", Message: "none configured"}
	}
	return CheckResult{Name: "Scheduled commands", Status: "PASS", Message: "configured"}
}
