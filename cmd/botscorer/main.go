package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bot-scorer/internal/api"
	"bot-scorer/internal/app"
	"bot-scorer/internal/cfg"
	"bot-scorer/internal/collector"
	"bot-scorer/internal/dashboard"
	"bot-scorer/internal/metrics"
	"bot-scorer/internal/tracker"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	app.SetupLogging(c.Log)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, c)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}
	defer a.Close()

	feed := dashboard.NewFeed(metrics.NewWrapper(a.Metrics).FeedClients())
	if err := feed.Start(); err != nil {
		log.Fatal().Err(err).Msg("feed start failed")
	}
	defer feed.Stop()

	svc := a.NewService(tracker.WithPublisher(feed))

	server := api.NewServer(fmt.Sprintf(":%d", c.Server.Port), svc, a.Pipeline.Info(),
		api.WithFeed(feed),
		api.WithMetrics(a.Metrics, a.Registry),
	)

	var wg sync.WaitGroup
	startAPIServer(&wg, server, cancel)
	startCollector(ctx, &wg, collector.New(svc, c.Collector.Interval, c.Collector.RunOnStart))

	waitForShutdown(ctx, cancel, &wg, server, c.Server.ShutdownTimeout)
}

func startAPIServer(wg *sync.WaitGroup, server *api.Server, cancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()
}

func startCollector(ctx context.Context, wg *sync.WaitGroup, col *collector.Collector) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		col.Run(ctx)
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, server *api.Server, timeout time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel() // Cancel context to stop all goroutines

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown API server")
	}

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
