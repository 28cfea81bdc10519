// Command earshot is the microphone transcription MCP server.
//
// It speaks MCP over stdio, so all human-facing output (logs, the startup
// summary) goes to stderr; stdout belongs to the protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mkarren/earshot/internal/app"
	"github.com/mkarren/earshot/internal/config"
	"github.com/mkarren/earshot/internal/observe"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override logging.level (debug, info, warn, error)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}
	if *logLevel != "" {
		override := config.LogLevel(*logLevel)
		if !override.IsValid() {
			fmt.Fprintf(os.Stderr, "earshot: invalid --log-level %q\n", *logLevel)
			return 1
		}
		cfg.Logging.Level = override
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	lv := new(slog.LevelVar)
	logger, closeLog, err := newLogger(cfg.Logging, lv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		return 1
	}
	if closeLog != nil {
		defer closeLog()
	}
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Logging.Level,
	)

	// ── Telemetry providers ───────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, *configPath, version, app.WithLogLevel(lv))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — speaking MCP on stdio")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║         earshot — startup summary     ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printRow("Driver", driverLabel(cfg))
	printRow("VAD mode", cfg.VAD.Mode)
	printRow("Engines", strings.Join(cfg.EnginePriority(), ", "))
	printRow("Default engine", cfg.STT.DefaultEngine)
	printRow("Correction", enabledLabel(cfg.Correction.Enabled))
	printRow("Archive", enabledLabel(cfg.Archive.PostgresDSN != ""))
	printRow("NATS sink", enabledLabel(cfg.Sink.NATSURL != ""))
	if cfg.Telemetry.Addr != "" {
		printRow("Telemetry", cfg.Telemetry.Addr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-14s  : %-19s ║\n", label, value)
}

func driverLabel(cfg *config.Config) string {
	switch cfg.Audio.Driver {
	case "wsmic":
		return "wsmic " + cfg.Audio.ListenAddr
	default:
		return "pcmexec"
	}
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. Logs always go to stderr; when
// logging.file is set they are duplicated to that file. The returned close
// function (possibly nil) closes the log file.
func newLogger(cfg config.LoggingConfig, lv *slog.LevelVar) (*slog.Logger, func() error, error) {
	lv.Set(slogLevel(cfg.Level))

	var (
		w       io.Writer = os.Stderr
		closeFn func() error
	)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = f.Close
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), closeFn, nil
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
