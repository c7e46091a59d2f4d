// Package app wires configuration into a ready tracker service. It is shared
// by the server and the command-line tools.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"bot-scorer/internal/cache"
	"bot-scorer/internal/cfg"
	"bot-scorer/internal/common"
	"bot-scorer/internal/metrics"
	"bot-scorer/internal/ml"
	"bot-scorer/internal/storage"
	"bot-scorer/internal/storage/postgres"
	"bot-scorer/internal/tracker"
	"bot-scorer/internal/twitter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// App holds the long-lived components.
type App struct {
	Settings cfg.Settings
	Pipeline *ml.Pipeline
	Repo     tracker.Repository
	Cache    *cache.RedisCache
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Fetcher  tracker.Fetcher
	Service  *tracker.Service
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(c cfg.LogConfig) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// New loads the classifier, opens the repository and connects the optional
// cache. Call NewService to build the tracker service.
func New(ctx context.Context, c cfg.Settings) (*App, error) {
	pipe, err := ml.LoadClassifier(c.ML.ModelPath)
	if err != nil {
		return nil, err
	}
	info := pipe.Info()
	log.Info().Str("path", info.Path).Str("version", info.Version).Msg("Classifier loaded")

	repo, err := OpenRepository(ctx, c.Storage)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(registry)

	a := &App{
		Settings: c,
		Pipeline: pipe,
		Repo:     repo,
		Metrics:  m,
		Registry: registry,
	}

	if c.Redis.Addr != "" {
		rc, err := cache.Dial(ctx, c.Redis.Addr, c.Redis.Password, c.Redis.DB, c.Redis.LookupTTL)
		if err != nil {
			log.Warn().Err(err).Str("addr", c.Redis.Addr).Msg("Redis unavailable, continuing without lookup cache")
		} else {
			a.Cache = rc
		}
	}

	a.Fetcher = twitter.New(twitter.Config{
		BaseURL:     c.Twitter.BaseURL,
		BearerToken: c.Twitter.BearerToken,
		Timeout:     c.Twitter.Timeout,
		RetryCount:  c.Twitter.Retries,
		RetryWait:   time.Second,
	})
	return a, nil
}

// NewService builds the tracker service with metrics and the cache wired in.
// opts are applied last.
func (a *App) NewService(opts ...tracker.Option) *tracker.Service {
	serviceOpts := []tracker.Option{tracker.WithMetrics(metrics.NewWrapper(a.Metrics))}
	if a.Cache != nil {
		serviceOpts = append(serviceOpts, tracker.WithCache(a.Cache))
	}
	serviceOpts = append(serviceOpts, opts...)

	a.Service = tracker.NewService(a.Repo, a.Fetcher, a.Pipeline, serviceOpts...)
	return a.Service
}

// OpenRepository opens the configured storage backend.
func OpenRepository(ctx context.Context, c cfg.StorageConfig) (tracker.Repository, error) {
	switch c.Driver {
	case common.StoragePostgres:
		store, err := postgres.Open(ctx, c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("Using postgres storage")
		return store, nil
	case common.StorageBolt, "":
		if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data path: %w", err)
		}
		store, err := storage.New(c.DataPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		log.Info().Str("path", c.DataPath).Msg("Using bolt storage")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Driver)
	}
}

// Close releases the repository and the cache.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if err := a.Repo.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close repository")
	}
}
