package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/joliver3/gfs-winter-weather/internal/adapter/http"
	kafkaadapter "github.com/joliver3/gfs-winter-weather/internal/adapter/kafka"
	"github.com/joliver3/gfs-winter-weather/internal/adapter/mapbox"
	"github.com/joliver3/gfs-winter-weather/internal/adapter/nomads"
	"github.com/joliver3/gfs-winter-weather/internal/adapter/redisgrid"
	"github.com/joliver3/gfs-winter-weather/internal/config"
	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/forecast"
	"github.com/joliver3/gfs-winter-weather/internal/gridcache"
	"github.com/joliver3/gfs-winter-weather/internal/observability"
	"github.com/joliver3/gfs-winter-weather/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	var ready observability.ReadinessGroup

	nomadsClient := nomads.NewClient(cfg.NomadsBaseURL, cfg.NomadsTimeout, cfg.NomadsRateLimit, cfg.NomadsBurst, logger.With("component", "nomads"))

	// The in-memory cache sits in front of Redis when both are configured.
	var fetcher domain.GridFetcher = nomadsClient
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		kv := redisgrid.NewRedisKV(rdb)
		fetcher = redisgrid.NewStore(nomadsClient, kv, cfg.RedisGridTTL, metrics, logger.With("component", "redisgrid"))
		ready = append(ready, kv)
		logger.Info("redis grid store enabled", "addr", cfg.RedisAddr, "ttl", cfg.RedisGridTTL)
	}
	grids := gridcache.New(fetcher, cfg.CacheTTL, cfg.FetchWorkers, metrics, gridcache.WithLogger(logger.With("component", "gridcache")))

	opts := []forecast.Option{forecast.WithProber(nomadsClient)}
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger.With("component", "mapbox"))
		opts = append(opts, forecast.WithGeocoder(mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}
	assembler := forecast.NewAssembler(grids, forecast.SettingsFromConfig(cfg), metrics, logger.With("component", "forecast"), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled && len(cfg.WatchPoints) > 0 {
		writer = kafkaadapter.NewWriter(cfg, logger.With("component", "kafka"))
		w := watch.New(assembler, writer, cfg.WatchPoints, cfg.WatchInterval, clockwork.NewRealClock(), logger.With("component", "watch"), metrics)
		ready = append(ready, w)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("watcher error", "error", err)
			}
		}()
	} else {
		logger.Info("alert watcher disabled", "kafka_enabled", cfg.KafkaEnabled, "watch_points", len(cfg.WatchPoints))
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, cfg.HTTPWriteTimeout, assembler, ready, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
