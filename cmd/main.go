package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/prefstudy/internal/adapters/http/api"
	"github.com/okian/prefstudy/internal/adapters/http/site"
	"github.com/okian/prefstudy/internal/adapters/http/swagger"
	"github.com/okian/prefstudy/internal/adapters/repository"
	app "github.com/okian/prefstudy/internal/app"
	"github.com/okian/prefstudy/internal/config"
	"github.com/okian/prefstudy/pkg/logger"
	"github.com/okian/prefstudy/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	// Bootstrap logging; the configured format and level apply once config loads
	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "prefstudy exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat}); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}
	log := logger.Get()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := seedCatalog(ctx, cfg, store, log); err != nil {
		_ = store.Close()
		return err
	}

	svc, err := newService(cfg, store, log)
	if err != nil {
		_ = store.Close()
		return err
	}
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	mux, err := newMux(ctx, cfg, svc)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// openStore opens the configured rating store.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return repository.NewMemoryStore(), nil
	case "postgres":
		s, err := repository.NewPostgresStore(ctx, cfg.StoreDSN, log.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := repository.NewSQLiteStore(ctx, cfg.StoreDSN, log.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: store_driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
}

// seedCatalog ensures the configured catalog items exist in the store.
func seedCatalog(ctx context.Context, cfg *config.Config, store repository.Store, log logger.Logger) error {
	if cfg.CatalogFile == "" {
		log.Warn(ctx, "no catalog_file configured; using the items already in the store")
		return nil
	}
	items, err := config.LoadCatalog(ctx, cfg.CatalogFile)
	if err != nil {
		return err
	}
	added, err := store.EnsureItems(ctx, items)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	log.Info(ctx, "catalog loaded",
		logger.String("file", cfg.CatalogFile),
		logger.Int("items", len(items)),
		logger.Int("added", added))
	return nil
}

func newService(cfg *config.Config, store repository.Store, log logger.Logger) (*app.Service, error) {
	mode, err := app.ParseSyncMode(cfg.SyncMode)
	if err != nil {
		return nil, err
	}
	return app.New(
		app.WithStore(store),
		app.WithLogger(log.Named("service")),
		app.WithBatchSize(cfg.BatchSize),
		app.WithRoundLimit(cfg.RoundLimit),
		app.WithKFactor(cfg.KFactor),
		app.WithSyncMode(mode),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithSessionTTL(cfg.SessionTTL()),
		app.WithCatalogTTL(cfg.CatalogTTL()),
		app.WithDrainTimeout(cfg.DrainTimeout()),
		app.WithRetry(repository.RetryConfig{
			MaxAttempts:   cfg.RetryMaxAttempts,
			BaseDelay:     cfg.RetryBaseDelay(),
			MaxDelay:      cfg.RetryMaxDelay(),
			JitterPercent: repository.DefaultJitterPercent,
		}),
	), nil
}

// newMux registers every route: the API, its docs and, when configured,
// the image files.
func newMux(ctx context.Context, cfg *config.Config, svc *app.Service) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, cfg.MaxLeaderboardLimit).Register(ctx, mux)
	if cfg.ImagesDir != "" {
		if err := site.Register(ctx, mux, cfg.ImagesDir); err != nil {
			return nil, fmt.Errorf("images_dir %q: %w", cfg.ImagesDir, err)
		}
	}
	return mux, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// updateServiceMetrics refreshes gauges derived from service stats.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if active, ok := stats["activeSessions"].(int); ok {
		metrics.UpdateActiveSessions(active)
	}
	if workerCount, ok := stats["workerCount"].(int); ok && stats["syncMode"] == string(app.SyncImmediate) {
		metrics.UpdateWorkerCount(workerCount)
	}
}
