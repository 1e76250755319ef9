package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oicur0t/intelmon/internal/collector"
	"github.com/oicur0t/intelmon/internal/config"
	"github.com/oicur0t/intelmon/pkg/mtls"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := pflag.StringP("config", "c", "/etc/intelmon/collector.yaml", "Path to configuration file")
	pflag.Parse()

	// Load configuration
	cfg, err := config.LoadCollectorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting intelmon-collector",
		zap.String("listen", cfg.Server.ListenAddress),
		zap.String("database", cfg.MongoDB.Database),
		zap.Int("api_keys", len(cfg.APIKeys)))

	store, err := collector.NewMongoStore(cfg.MongoDB, logger)
	if err != nil {
		logger.Fatal("Failed to create storage", zap.Error(err))
	}

	var limiter *collector.RateLimiter
	if cfg.RateLimiting.Enabled {
		limiter = collector.NewRateLimiter(cfg.RateLimiting.RequestsPerMinute, cfg.RateLimiting.Burst)
	}

	handler := collector.NewHandler(store, cfg.Server.MaxBodyBytes, logger)
	router := collector.NewRouter(handler, collector.RouterOptions{
		APIKeys:           cfg.APIKeys,
		RequireClientCert: cfg.MTLS.Enabled && cfg.MTLS.ClientAuth == mtls.ClientAuthRequire,
		RateLimiter:       limiter,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.MTLS.Enabled {
		tlsConfig, err := mtls.LoadServerTLSConfig(
			cfg.MTLS.CACert,
			cfg.MTLS.ServerCert,
			cfg.MTLS.ServerKey,
			cfg.MTLS.ClientAuth,
		)
		if err != nil {
			logger.Fatal("Failed to load TLS config", zap.Error(err))
		}
		httpServer.TLSConfig = tlsConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if limiter != nil {
		go pruneLimiter(ctx, limiter, logger)
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.ListenAddress), zap.Bool("tls", cfg.MTLS.Enabled))

		if cfg.MTLS.Enabled {
			serverErrors <- httpServer.ListenAndServeTLS("", "") // Certs loaded via TLSConfig
		} else {
			serverErrors <- httpServer.ListenAndServe()
		}
	}()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", zap.Error(err))
		}

	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
		httpServer.Close()
	}

	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close MongoDB connection", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// pruneLimiter drops idle client limiters every minute
func pruneLimiter(ctx context.Context, limiter *collector.RateLimiter, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(); n > 0 {
				logger.Debug("Pruned idle rate limiters", zap.Int("count", n))
			}
		}
	}
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
