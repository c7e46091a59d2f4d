package tracker

import (
	"context"
	"fmt"
	"time"

	"bot-scorer/internal/snapshot"

	"github.com/rs/zerolog/log"
)

// CollectReport summarizes one collection run.
type CollectReport struct {
	Accounts int           `json:"accounts"`
	Stored   int           `json:"stored"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// CollectAll snapshots every tracked account sequentially. Per-account
// failures are logged and counted; only listing the accounts or a cancelled
// context ends the run early.
func (s *Service) CollectAll(ctx context.Context) (CollectReport, error) {
	start := time.Now()

	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return CollectReport{}, fmt.Errorf("list accounts: %w", err)
	}

	report := CollectReport{Accounts: len(accounts)}
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			s.metrics.CollectionObserve(report.Duration, report.Failed)
			return report, err
		}

		if _, err := s.CollectAccount(ctx, acc); err != nil {
			report.Failed++
			log.Error().Err(err).Uint64("account_id", acc.ID).Str("screen_name", acc.ScreenName).Msg("Snapshot collection failed")
			continue
		}
		report.Stored++
	}

	report.Duration = time.Since(start)
	s.metrics.CollectionObserve(report.Duration, report.Failed)
	log.Info().
		Int("accounts", report.Accounts).
		Int("stored", report.Stored).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Collection run finished")
	return report, nil
}

// CollectAccount fetches, scores and stores a new snapshot of acc. The
// account's handle is refreshed when the upstream reports a new one and the
// account is reachable.
func (s *Service) CollectAccount(ctx context.Context, acc snapshot.Account) (snapshot.Snapshot, error) {
	raw, err := s.fetcher.FetchByID(ctx, acc.TwitterID)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("fetch %d: %w", acc.TwitterID, err)
	}
	s.metrics.LookupsInc(SourceUpstream)
	if raw.ScreenName == "" {
		raw.ScreenName = acc.ScreenName
	}

	res := s.evaluate(raw)
	stored, err := s.repo.SaveSnapshot(ctx, res.Snapshot(acc.ID, s.now()))
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	s.metrics.SnapshotsStoredInc()

	if res.SuspendedInfo == "" && res.ScreenName != acc.ScreenName {
		if err := s.repo.UpdateScreenName(ctx, acc.ID, res.ScreenName); err != nil {
			log.Warn().Err(err).Uint64("account_id", acc.ID).Msg("Failed to refresh screen name")
		} else {
			log.Info().Uint64("account_id", acc.ID).Str("old", acc.ScreenName).Str("new", res.ScreenName).Msg("Screen name refreshed")
			acc.ScreenName = res.ScreenName
		}
	}

	if s.publisher != nil {
		s.publish(ctx, acc, stored)
	}
	return stored, nil
}

func (s *Service) publish(ctx context.Context, acc snapshot.Account, stored snapshot.Snapshot) {
	var change snapshot.Change
	history, err := s.repo.ListSnapshots(ctx, acc.ID)
	if err == nil {
		change, err = snapshot.ComputeChange(history, stored.ID)
	}
	if err != nil {
		log.Warn().Err(err).Uint64("snapshot_id", stored.ID).Msg("Change unavailable for live feed")
	}
	s.publisher.PublishSnapshot(acc, stored, change)
}
