package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vjranagit/perfmon/internal/metrics"
	"github.com/vjranagit/perfmon/pkg/api"
	"github.com/vjranagit/perfmon/pkg/provider"
	"github.com/vjranagit/perfmon/pkg/query"
	"github.com/vjranagit/perfmon/pkg/registry"
	"github.com/vjranagit/perfmon/pkg/storage"
)

// drainTimeout is the maximum time for graceful shutdown.
const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long: "Open the row store, replay the write-ahead log and serve the\n" +
		"series, ingest and discovery endpoints until interrupted.",
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("perfmon serve: %w", err)
	}
	logger := setupLogger(cfg.LogLevel)
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("perfmon serve: %w", err)
	}

	logger.Info("starting perfmon",
		"version", rootCmd.Version,
		"listen_addr", cfg.Server.ListenAddr,
		"storage_path", cfg.Storage.Path,
		"retention_days", cfg.Storage.RetentionDays,
		"wal", cfg.Storage.EnableWAL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := storage.NewStorage(cfg.ToStorageConfig(), logger)
	if err != nil {
		return fmt.Errorf("perfmon serve: open storage: %w", err)
	}
	defer store.Close()

	var wal *storage.WAL
	if cfg.Storage.EnableWAL {
		replayed, err := storage.ReplayInto(ctx, cfg.Storage.Path, store, logger)
		if err != nil {
			return fmt.Errorf("perfmon serve: replay WAL: %w", err)
		}
		if replayed > 0 {
			logger.Info("replayed WAL", "batches", replayed)
		}

		wal, err = storage.NewWAL(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("perfmon serve: open WAL: %w", err)
		}
		defer wal.Close()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	cache := storage.NewQueryCache(cfg.Query.CacheCapacity, cfg.Query.CacheTTL)
	metrics.RegisterCacheSize(promReg, cache.Size)

	writer := storage.NewBatchWriter(store, wal, cfg.Ingest.BufferSize,
		storage.WithFlushInterval(cfg.Ingest.FlushInterval),
		storage.WithOnFlush(cache.Clear),
		storage.WithBatchLogger(logger),
		storage.WithBatchMetrics(m),
	)

	reg, err := registry.New(registry.Builtin()...)
	if err != nil {
		return fmt.Errorf("perfmon serve: registry: %w", err)
	}
	engine := query.NewEngine(
		query.NewResolver(reg, provider.NewStore(store, logger)),
		query.WithCache(cache),
		query.WithLogger(logger),
		query.WithMetrics(m),
		query.WithLocation(loc),
	)

	server := api.NewServer(api.Config{
		Addr:     cfg.Server.ListenAddr,
		Timeout:  cfg.Server.Timeout,
		Engine:   engine,
		Registry: reg,
		Ingest:   writer,
		Systems:  store,
		Gatherer: promReg,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", cfg.Server.ListenAddr)
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			writer.Close()
			return fmt.Errorf("perfmon serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("final flush failed", "error", err)
	}

	stats := cache.Stats()
	logger.Info("perfmon stopped", "cache_hits", stats.Hits, "cache_misses", stats.Misses)
	return nil
}
