// Command score prints the bot score and feature ranking of one account.
//
// With -features it scores a JSON object of the eight features read from a
// file (or stdin with "-") and needs only the classifier. With -screen-name
// it looks the account up upstream using the regular configuration.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"bot-scorer/internal/app"
	"bot-scorer/internal/cfg"
	"bot-scorer/internal/features"
	"bot-scorer/internal/ml"
	"bot-scorer/internal/snapshot"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		featuresPath = flag.String("features", "", "Path to a JSON object of features, or - for stdin")
		screenName   = flag.String("screen-name", "", "Look the account up upstream instead")
		modelPath    = flag.String("model", "models/pipeline.json", "Path to the classifier artifact (with -features)")
		lastPost     = flag.String("last-post", "", "Last post time, RFC 3339 (with -features)")
		logLevel     = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var res snapshot.Result
	switch {
	case *screenName != "":
		res, err = lookup(*screenName)
	case *featuresPath != "":
		res, err = scoreFile(*featuresPath, *modelPath, *lastPost)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("scoring failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatal().Err(err).Msg("failed to write result")
	}
}

func lookup(screenName string) (snapshot.Result, error) {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		return snapshot.Result{}, fmt.Errorf("config load failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.Twitter.Timeout)
	defer cancel()

	a, err := app.New(ctx, c)
	if err != nil {
		return snapshot.Result{}, err
	}
	defer a.Close()

	return a.NewService().Lookup(ctx, screenName)
}

func scoreFile(path, modelPath, lastPost string) (snapshot.Result, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return snapshot.Result{}, err
		}
		defer f.Close()
		r = f
	}

	var values map[string]any
	if err := json.NewDecoder(r).Decode(&values); err != nil {
		return snapshot.Result{}, fmt.Errorf("decode features: %w", err)
	}
	m, err := features.ValuesFromJSON(values)
	if err != nil {
		return snapshot.Result{}, err
	}
	f, err := features.FromMap(m)
	if err != nil {
		return snapshot.Result{}, err
	}

	raw := snapshot.RawMetrics{Features: f}
	if lastPost != "" {
		t, err := time.Parse(time.RFC3339, lastPost)
		if err != nil {
			return snapshot.Result{}, fmt.Errorf("parse -last-post: %w", err)
		}
		raw.LastPostAt = &t
	}

	pipe, err := ml.LoadClassifier(modelPath)
	if err != nil {
		return snapshot.Result{}, err
	}
	return snapshot.Evaluate(pipe, raw, time.Now()), nil
}
