package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"yieldprotocol/config"
	"yieldprotocol/core"
	"yieldprotocol/core/genesis"
	"yieldprotocol/gateway/middleware"
	"yieldprotocol/gateway/routes"
	"yieldprotocol/indexer"
	"yieldprotocol/native/params"
	"yieldprotocol/observability/logging"
	telemetry "yieldprotocol/observability/otel"
	"yieldprotocol/storage"
)

var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./yieldd.toml", "path to node configuration")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "yieldd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("yieldd", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "yieldd",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	node, err := newNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer node.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           node.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("yieldd listening", slog.String("address", cfg.ListenAddress), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// node owns the ledger, the optional indexer and the HTTP handler built over
// them.
type node struct {
	ledger  *core.Ledger
	indexer *indexer.Indexer
	handler http.Handler
	logger  *slog.Logger
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	if cfg.StorageBackend != storage.BackendMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := storage.Open(cfg.StorageBackend, cfg.StoragePath())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	ledger, err := core.NewLedger(db, core.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}
	n := &node{ledger: ledger, logger: logger}

	var idempotencyDB *gorm.DB
	if driver := strings.TrimSpace(cfg.Indexer.Driver); driver != "" {
		gdb, err := indexer.Open(driver, cfg.Indexer.DSN)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.indexer = indexer.New(gdb, logger)
		ledger.Subscribe(n.indexer.Subscriber())
		idempotencyDB = gdb
	}

	if err := n.ensureGenesis(ctx, cfg.GenesisFile); err != nil {
		n.Close()
		return nil, err
	}

	var auth *middleware.Authenticator
	if secret, err := cfg.JWTSecret(); err != nil {
		logger.Warn("operator routes disabled", slog.String("reason", err.Error()))
	} else {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{
			Secret:   secret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		}, logger)
	}

	router := routes.New(routes.Config{
		Ledger:        ledger,
		Indexer:       n.indexer,
		IdempotencyDB: idempotencyDB,
		Authenticator: auth,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}),
		Observability: middleware.NewObservability(logger),
		Logger:        logger,
	})
	n.handler = router
	if cfg.Telemetry.Traces {
		n.handler = otelhttp.NewHandler(router, "yieldd")
	}
	return n, nil
}

// ensureGenesis applies the genesis document when the ledger has no
// parameter set yet.
func (n *node) ensureGenesis(ctx context.Context, path string) error {
	if _, err := n.ledger.Params(); err == nil {
		return nil
	} else if !errors.Is(err, params.ErrNotInitialised) {
		return fmt.Errorf("read params: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("ledger is empty and no GenesisFile is configured")
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	if err := n.ledger.InitGenesis(ctx, spec); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	n.logger.Info("genesis applied", slog.String("file", path))
	return nil
}

func (n *node) Close() {
	if n.indexer != nil {
		if sqlDB, err := n.indexer.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	n.ledger.Close()
}
