package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/presenced/internal/config"
	"git.home.luguber.info/inful/presenced/internal/daemon"
	"git.home.luguber.info/inful/presenced/internal/events"
	"git.home.luguber.info/inful/presenced/internal/state"
	"git.home.luguber.info/inful/presenced/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct{} `cmd:"" help:"Run the attendance daemon"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Checkin struct{} `cmd:"" help:"Run one check-in attempt and exit"`

	Checkout struct{} `cmd:"" help:"Run one check-out attempt and exit"`

	Status struct{} `cmd:"" help:"Show the running daemon's status"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	switch ctx.Command() {
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", CLI.Config)
	case "version":
		fmt.Printf("presenced %s (%s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	case "run":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		if err := runDaemon(cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "checkin":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		runOnce(cfg, state.TriggerLogin)
	case "checkout":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		runOnce(cfg, state.TriggerBackground)
	case "status":
		cfg := mustLoadConfig()
		runStatus(cfg)
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch config.NormalizeLogLevel(cfg.Logging.Level) {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.NormalizeLogFormat(cfg.Logging.Format) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runDaemon(cfg *config.Config) error {
	d, err := daemon.New(cfg, CLI.Config, daemon.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	stop()
	slog.Info("Shutdown signal received")

	// A terminating signal is a shutdown as far as attendance is concerned:
	// give the coordinator its chance before tearing down.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	d.HandlePowerSignal(shutdownCtx, events.PowerShutdown)

	return d.Stop(shutdownCtx)
}

func runOnce(cfg *config.Config, trigger state.Trigger) {
	d, err := daemon.New(cfg, "", daemon.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	result := d.TriggerAttempt(ctx, trigger)

	switch {
	case result.Success:
		fmt.Printf("Done (attendance %s)\n", result.AttendanceID)
	case result.ErrorType != "":
		fmt.Fprintf(os.Stderr, "Failed: %s\n", result.Reason)
		os.Exit(1)
	default:
		fmt.Printf("Skipped: %s\n", result.Reason)
	}
}

func runStatus(cfg *config.Config) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/status", cfg.Admin.Port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon is not reachable on port %d: %v\n", cfg.Admin.Port, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read status: %v\n", err)
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
}
