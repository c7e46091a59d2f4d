// Command export dumps stored snapshots as newline-delimited JSON for
// classifier retraining.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"os"
	"time"

	"bot-scorer/internal/app"
	"bot-scorer/internal/cfg"
	"bot-scorer/internal/tracker"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		outputPath = flag.String("output", "-", "Output file path (- for stdout)")
		days       = flag.Int("days", 30, "Number of days to export (0 for all)")
		accountID  = flag.Uint64("account", 0, "Account id to export (0 for all)")
	)
	flag.Parse()

	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	app.SetupLogging(c.Log)

	ctx := context.Background()
	repo, err := app.OpenRepository(ctx, c.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("open repository failed")
	}
	defer repo.Close()

	filter := tracker.ExportFilter{AccountID: *accountID}
	if *days > 0 {
		filter.Since = time.Now().UTC().AddDate(0, 0, -*days)
	}

	var out io.Writer = os.Stdout
	if *outputPath != "-" {
		file, err := os.Create(*outputPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *outputPath).Msg("create output failed")
		}
		defer file.Close()
		out = file
	}

	w := bufio.NewWriter(out)
	stats, err := tracker.ExportSnapshots(ctx, repo, filter, w)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		repo.Close()
		log.Fatal().Err(err).Msg("Export failed")
	}

	log.Info().
		Int("accounts", stats.Accounts).
		Int("written", stats.Written).
		Int("suspended", stats.Suspended).
		Str("output", *outputPath).
		Msg("Export complete")
}
