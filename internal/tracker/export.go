package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"bot-scorer/internal/features"
)

// ExportRecord is one snapshot flattened for classifier retraining.
type ExportRecord struct {
	TakenAt    time.Time `json:"taken_at"`
	AccountID  uint64    `json:"account_id"`
	TwitterID  int64     `json:"twitter_id"`
	ScreenName string    `json:"screen_name"`

	features.Features

	BotScore float64 `json:"bot_score"`
	IsActive bool    `json:"is_active"`
}

// ExportFilter narrows an export. Zero values select everything.
type ExportFilter struct {
	Since     time.Time
	AccountID uint64
}

// ExportStats summarizes an export run.
type ExportStats struct {
	Accounts  int
	Written   int
	Suspended int
}

// ExportSnapshots writes matching snapshots as newline-delimited JSON in
// account order, then capture order. Snapshots captured from failed lookups
// carry no features and are skipped.
func ExportSnapshots(ctx context.Context, repo Repository, filter ExportFilter, w io.Writer) (ExportStats, error) {
	accounts, err := repo.ListAccounts(ctx)
	if err != nil {
		return ExportStats{}, fmt.Errorf("list accounts: %w", err)
	}

	var stats ExportStats
	enc := json.NewEncoder(w)
	for _, acc := range accounts {
		if filter.AccountID != 0 && acc.ID != filter.AccountID {
			continue
		}
		stats.Accounts++

		history, err := repo.ListSnapshots(ctx, acc.ID)
		if err != nil {
			return stats, fmt.Errorf("list snapshots of account %d: %w", acc.ID, err)
		}

		for _, s := range history {
			if !filter.Since.IsZero() && s.TakenAt.Before(filter.Since) {
				continue
			}
			if s.Suspended() {
				stats.Suspended++
				continue
			}

			record := ExportRecord{
				TakenAt:    s.TakenAt,
				AccountID:  acc.ID,
				TwitterID:  acc.TwitterID,
				ScreenName: acc.ScreenName,
				Features:   s.Features,
				BotScore:   s.BotScore,
				IsActive:   s.IsActive,
			}
			if err := enc.Encode(record); err != nil {
				return stats, fmt.Errorf("write record: %w", err)
			}
			stats.Written++
		}
	}
	return stats, nil
}
