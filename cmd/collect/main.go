// Command collect takes one snapshot of every tracked account and exits.
// It is meant for cron-style scheduling as an alternative to the collector
// built into the server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bot-scorer/internal/app"
	"bot-scorer/internal/cfg"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	timeout := flag.Duration("timeout", time.Hour, "Maximum duration of the collection run")
	flag.Parse()

	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	app.SetupLogging(c.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a, err := app.New(ctx, c)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}

	report, err := a.NewService().CollectAll(ctx)
	a.Close()
	if err != nil {
		log.Error().Err(err).Int("stored", report.Stored).Msg("Collection aborted")
		os.Exit(1)
	}

	if report.Failed > 0 {
		os.Exit(2)
	}
}
