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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/addrscore/internal/config"
	"github.com/kailas-cloud/addrscore/internal/db"
	"github.com/kailas-cloud/addrscore/internal/db/memory"
	dbRedis "github.com/kailas-cloud/addrscore/internal/db/redis"
	logpkg "github.com/kailas-cloud/addrscore/internal/logger"
	"github.com/kailas-cloud/addrscore/internal/metrics"
	"github.com/kailas-cloud/addrscore/internal/model"
	"github.com/kailas-cloud/addrscore/internal/repository/verdictcache"
	chiTransport "github.com/kailas-cloud/addrscore/internal/transport/chi"
	healthuc "github.com/kailas-cloud/addrscore/internal/usecase/health"
	predictuc "github.com/kailas-cloud/addrscore/internal/usecase/predict"
	"github.com/kailas-cloud/addrscore/internal/version"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP prediction service",
		Long: `Runs the HTTP service. The config file is config/<ENV>.yaml (ENV defaults
to "local") unless --config is given. Changes to the file's logging level
apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := config.GetEnv()
			if configPath == "" {
				configPath = config.Path(env)
			}
			return runServe(cmd.Context(), env, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default config/<ENV>.yaml)")
	return cmd
}

func runServe(ctx context.Context, env, configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, level, err := logpkg.New(env, logpkg.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting addrscore API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("config", configPath),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.Strings("cache_addrs", cfg.Cache.Addrs),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := buildHandler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		err := config.Watch(gctx, configPath,
			func(next config.Config) { applyLogLevel(logger, level, env, next.Logging.Level) },
			func(err error) { logger.Warn("Config reload rejected", zap.Error(err)) },
		)
		if err != nil {
			// The service runs fine without reloads.
			logger.Warn("Config watcher unavailable", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// buildHandler is the composition root. cleanup releases the cache store.
func buildHandler(ctx context.Context, cfg config.Config, logger *zap.Logger) (http.Handler, func(), error) {
	// Register prediction metrics explicitly (no init())
	metrics.RegisterPredictionMetrics()
	metrics.RegisterHTTPMetrics()

	rt := model.New(model.WithPrepareObserver(func(d time.Duration, err error) {
		metrics.ModelPrepareDuration.Observe(d.Seconds())
		if err != nil {
			logger.Error("Model preparation failed", zap.Duration("took", d), zap.Error(err))
			return
		}
		logger.Info("Model prepared", zap.Duration("took", d))
	}))
	// A broken model is served as Failure results and an unhealthy /health.
	_, _ = rt.Prepare()

	store, err := buildStore(ctx, cfg.Cache)
	if err != nil {
		return nil, nil, err
	}

	// Pass nil interfaces (not typed nil pointers!) when caching is off.
	var (
		cache  predictuc.Cache
		pinger healthuc.CachePinger
	)
	cleanup := func() {}
	if store != nil {
		cache = verdictcache.New(store, metrics.VerdictCacheTotal, logger)
		pinger = store
		cleanup = store.Close
		logger.Info("Verdict cache ready", zap.String("driver", cfg.Cache.Driver))
	}

	predictSvc := predictuc.New(rt, cache, logger)
	healthSvc := healthuc.New(rt, pinger)

	server := chiTransport.NewServer(predictSvc, rt, healthSvc, logger).
		WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes)
	return chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger), cleanup, nil
}

// buildStore returns nil for the "none" driver.
func buildStore(ctx context.Context, cfg config.CacheConfig) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cfg.Driver {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		store = memory.NewStore(memory.Config{Size: cfg.Size, TTL: cfg.TTL()})
	case config.CacheRedis, config.CacheValkey:
		// Valkey speaks RESP; one client serves both.
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
			TTL:      cfg.TTL(),
		})
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("cache not ready: %w", err)
	}
	return store, nil
}

// applyLogLevel switches to the reloaded level, or back to the
// environment default when the setting was removed.
func applyLogLevel(logger *zap.Logger, level zap.AtomicLevel, env, next string) {
	if next == "" {
		next = "info"
		if env != "prod" {
			next = "debug"
		}
	}
	if next == level.String() {
		return
	}
	if err := logpkg.SetLevel(level, next); err != nil {
		logger.Warn("Ignoring log level", zap.String("level", next), zap.Error(err))
		return
	}
	logger.Info("Log level changed", zap.String("level", next))
}
