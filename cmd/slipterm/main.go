// Command slipterm is the interactive terminal workbench for a Slipmux
// device: it multiplexes diagnostic text, CoAP configuration exchanges,
// and tunneled IP packets over a single serial-like transport. Run with
// a terminal attached for the bubbletea console, or redirect stdout to
// fall back to headless mode, where a status server and/or command
// scripting take the place of the REPL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/slipterm/internal/app"
	"github.com/basket/slipterm/internal/bus"
	"github.com/basket/slipterm/internal/config"
	"github.com/basket/slipterm/internal/cron"
	"github.com/basket/slipterm/internal/doctor"
	"github.com/basket/slipterm/internal/otel"
	"github.com/basket/slipterm/internal/payloadindex"
	"github.com/basket/slipterm/internal/relay"
	"github.com/basket/slipterm/internal/scripted"
	"github.com/basket/slipterm/internal/statusserver"
	"github.com/basket/slipterm/internal/transport"
	"github.com/basket/slipterm/internal/tui"
	"github.com/basket/slipterm/internal/tunnel"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s [flags]                 Connect and open the interactive console
  %s -doctor [-json]         Run preflight checks and exit
  %s -version                Print the version and exit

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  SLIPTERM_TRANSPORT_PATH        Device socket/serial path
  SLIPTERM_TUNNEL_INTERFACE      TUN interface name ("" disables the bridge)
  SLIPTERM_COLOR_THEME           default, dark, light, or mono
  SLIPTERM_STATUS_SERVER_ADDR    Headless-mode status server bind address
  SLIPTERM_TELEGRAM_TOKEN        Telegram bot token, enables the relay
  SLIPTERM_TELEGRAM_ALLOWED_IDS  Comma-separated chat IDs to mirror to
  SLIPTERM_SCRIPTS_DIR           Directory of .wasm scripted commands
`)
}

func main() {
	var (
		configPath  = flag.String("config", defaultConfigPath(), "path to config.yaml")
		transportF  = flag.String("transport", "", "override the device transport path")
		tunnelF     = flag.String("tunnel", "", "override the tunnel interface name (\"-\" disables it)")
		themeF      = flag.String("theme", "", "override the color theme")
		runDoctor   = flag.Bool("doctor", false, "run preflight checks and exit")
		jsonDoctor  = flag.Bool("json", false, "with -doctor, print the report as JSON")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	cfg = config.ApplyFlags(cfg, config.Flags{
		TransportPath:   *transportF,
		TunnelInterface: *tunnelF,
		ColorTheme:      *themeF,
	})
	if *tunnelF == "-" {
		cfg.TunnelInterface = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *runDoctor {
		os.Exit(runDoctorCommand(ctx, cfg, *jsonDoctor))
	}

	logger := newLogger()

	provider, err := otel.Init(ctx, otel.Config{Exporter: cfg.Exporter.Kind})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer provider.Shutdown(context.Background())

	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	interactive := isatty.IsTerminal(os.Stdout.Fd())

	b := bus.New(logger)
	xport := transport.New(dialerFor(cfg.TransportPath), b, logger)
	go xport.Run(ctx)

	a := app.New(b, logger, xport.Send)
	a.AttachMetrics(metrics)

	if cfg.TunnelInterface != "" {
		br, err := tunnel.Open(openTunDevice, cfg.TunnelInterface, b, logger)
		if err != nil {
			logger.Warn("tunnel bridge unavailable, continuing without it", "error", err)
		} else {
			a.AttachTunnel(br)
			go br.Run(ctx)
			defer br.Close()
		}
	}

	if idx, err := payloadindex.Open(defaultPayloadIndexPath()); err != nil {
		logger.Warn("payload index unavailable, exports won't be recorded", "error", err)
	} else {
		a.AttachPayloadIndex(idx)
		defer idx.Close()
	}

	if cfg.ScriptsDir != "" {
		host, err := scripted.NewHost(ctx, scripted.Config{})
		if err != nil {
			logger.Warn("script host unavailable, scripted commands disabled", "error", err)
		} else {
			a.AttachScriptHost(host)
			defer host.Close(context.Background())
			if err := a.LoadScriptsDir(ctx, cfg.ScriptsDir); err != nil {
				logger.Warn("loading scripted commands failed", "error", err)
			}
		}
	}

	if len(cfg.ScheduledCommands) > 0 {
		runner := cron.New(cfg.ScheduledCommands, b, logger)
		a.AttachCronRunner(runner)
		runner.Start(ctx)
		defer runner.Stop()
	}

	if cfg.Telegram.Enabled {
		lines := make(chan relay.LineEvent, 64)
		jobs := make(chan relay.JobSummaryEvent, 64)
		rl, err := relay.New(cfg.Telegram.Token, cfg.Telegram.AllowedIDs, lines, jobs, logger)
		if err != nil {
			logger.Warn("telegram relay unavailable, continuing without it", "error", err)
		} else {
			a.AttachRelay(lines, jobs)
			go func() {
				if err := rl.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("telegram relay stopped", "error", err)
				}
			}()
		}
	}

	watcher := config.NewWatcher(*configPath, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config hot-reload unavailable", "error", err)
	} else {
		go watchConfigReloads(ctx, watcher, *configPath, logger)
	}

	var serverErr chan error
	if !interactive {
		addr := cfg.StatusServerAddr
		if addr == "" {
			addr = "127.0.0.1:8787"
		}
		status := statusserver.New(logger)
		a.AttachStatusServer(status)
		srv := &http.Server{Addr: addr, Handler: status.Handler()}
		serverErr = make(chan error, 1)
		go func() {
			logger.Info("status server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
		defer shutdownServer(srv)
	} else {
		program, done := tui.Run(ctx, b, cfg.ColorTheme)
		a.AttachRenderer(program)
		serverErr = make(chan error, 1)
		go func() {
			if err := <-done; err != nil {
				serverErr <- err
			} else {
				stop()
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("fatal component error", "error", err)
		stop()
		<-runErr
		os.Exit(1)
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			logger.Error("event loop exited with error", "error", err)
			os.Exit(1)
		}
		return
	}
	<-runErr
}

func watchConfigReloads(ctx context.Context, w *config.Watcher, path string, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if _, err := config.Load(path); err != nil {
				logger.Warn("config reload failed, keeping previous settings", "path", ev.Path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", ev.Path)
		}
	}
}

func runDoctorCommand(ctx context.Context, cfg config.Config, jsonOutput bool) int {
	diag := doctor.Run(ctx, cfg, Version)

	if jsonOutput {
		return printDoctorJSON(diag)
	}

	fmt.Printf("slipterm doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("system: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")

	failCount := 0
	for _, res := range diag.Results {
		icon := "PASS"
		if res.Status == "FAIL" {
			icon = "FAIL"
			failCount++
		} else if res.Status == "WARN" {
			icon = "WARN"
		} else if res.Status == "SKIP" {
			icon = "SKIP"
		}
		fmt.Printf("[%s] %-20s %s\n", icon, res.Name, res.Message)
	}
	if failCount > 0 {
		return 1
	}
	return 0
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".slipterm", "config.yaml")
}

func defaultPayloadIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "exports.db"
	}
	return filepath.Join(home, ".slipterm", "exports.db")
}

// dialerFor returns a transport.Dialer for path: a UNIX domain socket if
// path resolves as one, otherwise a character device opened directly —
// covering both a simulator socket and a real serial device.
func dialerFor(path string) transport.Dialer {
	return func(ctx context.Context) (transport.Conn, error) {
		if path == "" {
			return nil, fmt.Errorf("slipterm: no transport path configured")
		}
		var d net.Dialer
		if conn, err := d.DialContext(ctx, "unix", path); err == nil {
			return conn, nil
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("slipterm: open transport %q: %w", path, err)
		}
		return f, nil
	}
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure [%s]: %s\n", reasonCode, message)
	}
	os.Exit(1)
}

// newLogger builds the structured JSON logger every slipterm package
// falls back to via slog.Default when none is wired explicitly.
func newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	return logger
}

func printDoctorJSON(diag doctor.Diagnosis) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(diag); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding json: %v\n", err)
		return 1
	}
	for _, res := range diag.Results {
		if res.Status == "FAIL" {
			return 1
		}
	}
	return 0
}
