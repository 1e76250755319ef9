package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oicur0t/intelmon/internal/config"
	"github.com/oicur0t/intelmon/internal/locate"
	"github.com/oicur0t/intelmon/internal/tailer"
	"github.com/oicur0t/intelmon/pkg/mtls"
	"github.com/oicur0t/intelmon/pkg/retry"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownGrace = 15 * time.Second

const usage = `intelmon watches game intel channel logs and forwards intel reports.

Usage:
  intelmon [command] [--config path]

Commands:
  start    run the monitor (default)
  test     check connectivity to the collector
  config   print the effective configuration
  help     show this help

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("intelmon", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.StringP("config", "c", "", "path to configuration file (default: ./intelmon.yaml or the user config directory)")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	command := "start"
	if flags.NArg() > 0 {
		command = flags.Arg(0)
	}

	switch command {
	case "start":
		return start(*configPath, stderr)
	case "test":
		return probe(*configPath, stdout, stderr)
	case "config":
		return printConfig(*configPath, stdout, stderr)
	case "help":
		flags.SetOutput(stdout)
		fmt.Fprint(stdout, usage)
		flags.PrintDefaults()
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n", command)
		flags.Usage()
		return 2
	}
}

// setup loads the configuration and builds the logger and collector client
func setup(configPath string) (*config.MonitorConfig, *zap.Logger, *tailer.Client, error) {
	cfg, err := config.LoadMonitorConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return nil, nil, nil, err
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled() {
		tlsConfig, err = mtls.LoadClientTLSConfig(cfg.TLS.CACert, cfg.TLS.ClientCert, cfg.TLS.ClientKey, cfg.TLS.ServerName)
		if err != nil {
			logger.Sync()
			return nil, nil, nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxRetries = cfg.Server.MaxRetries
	retryConfig.InitialWait = cfg.Server.RetryBackoff

	client := tailer.NewClient(cfg.Server.URL, cfg.Server.APIKey, tlsConfig, cfg.Server.Timeout, retryConfig, logger)
	return cfg, logger, client, nil
}

func start(configPath string, stderr io.Writer) int {
	cfg, logger, client, err := setup(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("Starting intelmon",
		zap.String("version", version),
		zap.String("server", cfg.Server.URL),
		zap.String("pilot", cfg.PilotName),
		zap.String("client_id", client.ClientID()),
		zap.String("config_file", cfg.File))

	encoding, err := tailer.LookupEncoding(cfg.Encoding)
	if err != nil {
		logger.Error("Invalid encoding", zap.Error(err))
		return 1
	}

	resolver, err := locate.NewResolver(logger)
	if err != nil {
		logger.Error("Failed to set up directory resolution", zap.Error(err))
		return 1
	}
	dir, err := resolver.Resolve(cfg.LogsPath)
	if err != nil {
		logger.Error("Failed to find chat logs", zap.Error(err))
		return 1
	}

	var watcher tailer.Watcher
	if cfg.Watch.Poll {
		tailer.SetFilePollInterval(cfg.Watch.PollInterval)
		watcher = tailer.NewPollWatcher(dir, cfg.Watch.PollInterval, logger)
	} else {
		watcher = tailer.NewNotifyWatcher(dir, logger)
	}

	monitor := tailer.NewMonitor(dir, tailer.Options{
		ClientID:          client.ClientID(),
		PilotName:         cfg.PilotName,
		Version:           version,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LookbackWindow:    cfg.LookbackWindow,
		Encoding:          encoding,
		DedupTTL:          cfg.Dedup.TTL,
	}, watcher, client, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	select {
	case err := <-done:
		logger.Error("Monitor stopped", zap.Error(err))
		return 1

	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Error("Forced shutdown after timeout")
		return 1
	}

	stats := monitor.Counters().Snapshot(time.Now(), 0)
	logger.Info("Monitor stopped",
		zap.Int64("uptime_seconds", stats.Uptime),
		zap.Uint64("messages_processed", stats.MessagesProcessed),
		zap.Uint64("intel_sent", stats.IntelSent),
		zap.Uint64("errors", stats.ErrorsEncountered))
	return 0
}

func probe(configPath string, stdout, stderr io.Writer) int {
	cfg, logger, client, err := setup(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := client.Probe(ctx); err != nil {
		fmt.Fprintf(stderr, "Collector at %s is not reachable: %v\n", cfg.Server.URL, err)
		return 1
	}
	fmt.Fprintf(stdout, "Collector at %s is reachable\n", cfg.Server.URL)
	return 0
}

func printConfig(configPath string, stdout, stderr io.Writer) int {
	cfg, err := config.LoadMonitorConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	out, err := cfg.YAML()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to render config: %v\n", err)
		return 1
	}

	source := cfg.File
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintf(stdout, "# source: %s\n", source)
	stdout.Write(out)
	return 0
}

// initLogger creates a configured zap logger
func initLogger(level string, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var loggerConfig zap.Config
	if format == "json" {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
	}

	loggerConfig.Level = zap.NewAtomicLevelAt(zapLevel)

	return loggerConfig.Build()
}
