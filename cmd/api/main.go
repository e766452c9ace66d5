package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"treasury/internal/config"
	handler "treasury/internal/handler/http"
	"treasury/internal/ledger"
	"treasury/internal/logger"
	"treasury/internal/metrics"
	"treasury/internal/port"
	"treasury/internal/repository/memory"
	"treasury/internal/repository/migration"
	"treasury/internal/repository/postgresql"
	"treasury/internal/service"
	"treasury/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	zlog, _, err := logger.New(logger.Config{
		Environment: logger.Environment(cfg.Logger.Environment),
		Level:       cfg.Logger.Level,
	})
	if err != nil {
		log.Fatal("failed to build logger: ", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("treasury stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Info("configuration loaded",
		zap.String("file", cfg.File),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("ledger", cfg.Ledger.Driver),
	)

	shutdownTracing, err := telemetry.Setup(telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	associationRepo, requestRepo, closeStore, err := openStorage(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer closeStore()

	ledgerService := openLedger(cfg, zlog)

	registryService := service.NewRegistryService(associationRepo, zlog, m)
	workflowService := service.NewWorkflowService(associationRepo, requestRepo, ledgerService,
		service.WithLogger(zlog),
		service.WithMetrics(m),
	)
	queryService := service.NewQueryService(associationRepo, requestRepo)

	h := handler.NewTreasuryHandler(registryService, workflowService, queryService, cfg.Token.AuthToken, zlog)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.Routes(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStorage(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (port.AssociationRepository, port.RequestRepository, func(), error) {
	if cfg.Storage.Driver == config.StorageMemory {
		store := memory.NewStore()
		return memory.NewAssociationRepository(store), memory.NewRequestRepository(store), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DB.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConnection)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConnection)
	db.SetConnMaxLifetime(cfg.DB.ConnectionLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	if err := migration.RunMigrations(ctx, db, zlog); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			zlog.Warn("closing database", zap.Error(err))
		}
	}
	return postgresql.NewAssociationRepository(db), postgresql.NewRequestRepository(db), closeDB, nil
}

func openLedger(cfg *config.Config, zlog *zap.Logger) port.LedgerService {
	if cfg.Ledger.Driver == config.LedgerMemory {
		zlog.Warn("using in-memory ledger; balances are lost on restart")
		return ledger.NewMemoryLedger(ledger.WithOpenIssuance())
	}

	return ledger.NewHTTPLedger(ledger.HTTPConfig{
		URL:     cfg.Ledger.URL,
		Timeout: cfg.Ledger.Timeout,
		Breaker: ledger.BreakerConfig{
			MaxRequests:         cfg.Ledger.Breaker.MaxRequests,
			Interval:            cfg.Ledger.Breaker.Interval,
			Timeout:             cfg.Ledger.Breaker.Timeout,
			ConsecutiveFailures: cfg.Ledger.Breaker.ConsecutiveFailures,
		},
	}, zlog)
}
