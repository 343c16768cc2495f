// Package config loads slipterm's configuration: a YAML file under the
// user's home directory, overlaid with environment variables, overlaid
// with CLI flags (flags win). Only a handful of settings are
// hot-reloadable at runtime — the color theme and the scheduled-command
// list — everything else (transport path, tunnel interface name) is
// fixed for the process lifetime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScheduledCommand binds a cron expression to a command line that the
// cron runner synthesizes as terminal input.
type ScheduledCommand struct {
	Name string `yaml:"name"`
	Cron string `yaml:"cron"`
	Line string `yaml:"line"`
}

// ExporterConfig selects the observability exporter for spans/metrics.
type ExporterConfig struct {
	Kind string `yaml:"kind"` // "stdout" or "none"
}

// TelegramRelayConfig configures the read-only Telegram mirror.
type TelegramRelayConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
}

// Config is the full set of settings slipterm reads at startup.
type Config struct {
	TransportPath     string             `yaml:"transport_path"`
	TunnelInterface   string             `yaml:"tunnel_interface"`
	ColorTheme        string             `yaml:"color_theme"`
	ScheduledCommands []ScheduledCommand `yaml:"scheduled_commands"`
	Exporter          ExporterConfig     `yaml:"exporter"`
	Telegram          TelegramRelayConfig `yaml:"telegram"`
	StatusServerAddr  string             `yaml:"status_server_addr"`
	ScriptsDir        string             `yaml:"scripts_dir"`
}

// Default returns the built-in defaults, used as the base layer before
// file/env/flag overlays are applied.
func Default() Config {
	return Config{
		TunnelInterface: "slip",
		ColorTheme:      "default",
		Exporter:        ExporterConfig{Kind: "stdout"},
	}
}

// Load reads path (if it exists; a missing file is not an error — the
// defaults stand) and overlays environment variables prefixed
// SLIPTERM_.
func Load(path string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("SLIPTERM_TRANSPORT_PATH"); ok {
		cfg.TransportPath = v
	}
	if v, ok := os.LookupEnv("SLIPTERM_TUNNEL_INTERFACE"); ok {
		cfg.TunnelInterface = v
	}
	if v, ok := os.LookupEnv("SLIPTERM_COLOR_THEME"); ok {
		cfg.ColorTheme = v
	}
	if v, ok := os.LookupEnv("SLIPTERM_STATUS_SERVER_ADDR"); ok {
		cfg.StatusServerAddr = v
	}
	if v, ok := os.LookupEnv("SLIPTERM_TELEGRAM_TOKEN"); ok {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v, ok := os.LookupEnv("SLIPTERM_TELEGRAM_ALLOWED_IDS"); ok {
		cfg.Telegram.AllowedIDs = parseInt64List(v)
	}
	if v, ok := os.LookupEnv("SLIPTERM_SCRIPTS_DIR"); ok {
		cfg.ScriptsDir = v
	}
}

func parseInt64List(v string) []int64 {
	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// Flags mirrors the subset of a parsed flag.FlagSet that should
// override the file/env-derived Config; applied last because "flags
// win" per CLI precedence.
type Flags struct {
	TransportPath   string
	TunnelInterface string
	ColorTheme      string
}

// ApplyFlags overlays any non-empty flag value onto cfg.
func ApplyFlags(cfg Config, f Flags) Config {
	if f.TransportPath != "" {
		cfg.TransportPath = f.TransportPath
	}
	if f.TunnelInterface != "" {
		cfg.TunnelInterface = f.TunnelInterface
	}
	if f.ColorTheme != "" {
		cfg.ColorTheme = f.ColorTheme
	}
	return cfg
}
