package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loanchain/config"
	"loanchain/core/node"
	"loanchain/gateway/middleware"
	"loanchain/gateway/routes"
	nativecommon "loanchain/native/common"
	"loanchain/observability/logging"
	telemetry "loanchain/observability/otel"
	"loanchain/storage"
)

const serviceName = "loand"

func main() {
	var cfgPath string
	var genesisPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration")
	flag.StringVar(&genesisPath, "genesis", "", "override the genesis file named in the configuration")
	flag.Parse()

	if err := run(cfgPath, genesisPath); err != nil {
		fmt.Fprintf(os.Stderr, "loand: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, genesisPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("LOAN_ENV")); override != "" {
		env = override
	}

	logger, logCloser := logging.New(logging.Options{
		Service:    serviceName,
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	if endpoint := strings.TrimSpace(cfg.Telemetry.Endpoint); endpoint != "" {
		name := cfg.Telemetry.ServiceName
		if name == "" {
			name = serviceName
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: name,
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("initialise telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	if genesisPath == "" {
		genesisPath = cfg.GenesisFile
	}
	var spec *config.Genesis
	if strings.TrimSpace(genesisPath) != "" {
		spec, err = config.LoadGenesis(genesisPath)
		if err != nil {
			db.Close()
			return fmt.Errorf("load genesis: %w", err)
		}
	}

	pauses := nativecommon.NewPauseSet(cfg.PausedModules...)
	n, err := node.New(node.Options{
		DB:      db,
		Genesis: spec,
		Pauses:  pauses,
		Logger:  logger,
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("start node: %w", err)
	}
	defer n.Close()
	if modules := pauses.Modules(); len(modules) > 0 {
		logger.Warn("modules paused by configuration", "modules", modules)
	}

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:             cfg.Auth.HMACSecret != "",
		HMACSecret:          cfg.Auth.HMACSecret,
		Issuer:              cfg.Auth.Issuer,
		Audience:            cfg.Auth.Audience,
		AllowAnonymousReads: cfg.Auth.AllowAnonymousReads,
	}, logger)
	if cfg.Auth.HMACSecret == "" {
		logger.Warn("token auth disabled; callers are taken from the request header",
			"header", middleware.CallerHeader)
	}

	handler := routes.New(routes.Config{
		Service:       n,
		Authenticator: auth,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{LogRequests: true}, logger),
		CORS: middleware.CORSConfig{
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", middleware.CallerHeader},
		},
		Logger:      logger,
		ServiceName: serviceName,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go n.Run(ctx, cfg.Heartbeat())

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", listener.Addr().String(), "heartbeat", cfg.Heartbeat().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("shutting down", slog.Uint64("height", n.Height()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}
