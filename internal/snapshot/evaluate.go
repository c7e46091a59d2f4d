package snapshot

import (
	"time"
	"unicode/utf8"

	"bot-scorer/internal/features"
)

// Scorer is the part of the classification pipeline Evaluate needs.
type Scorer interface {
	Score(f features.Features) float64
	RankImportance(f features.Features) features.Ranked
}

// Result is the merged per-account output used both for persisted snapshots
// and for unsaved on-demand lookups.
type Result struct {
	TwitterID   int64     `json:"twitter_id"`
	ScreenName  string    `json:"screen_name"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`

	features.Features

	BotScore       float64         `json:"bot_score"`
	IsActive       bool            `json:"is_active"`
	SuspendedInfo  string          `json:"suspended_info"`
	RankedFeatures features.Ranked `json:"ranked_features"`
}

// Evaluate scores a fetched metrics record and explains the score.
//
// A record carrying an upstream error degrades to zero features, a zero score
// and an inactive account with the reason in SuspendedInfo. The ranking is
// still computed over the zeroed features.
func Evaluate(s Scorer, raw RawMetrics, now time.Time) Result {
	if raw.UpstreamError != "" {
		return degraded(s, raw)
	}

	return Result{
		TwitterID:      raw.TwitterID,
		ScreenName:     raw.ScreenName,
		Name:           raw.Name,
		Location:       raw.Location,
		URL:            raw.URL,
		Description:    raw.Description,
		CreatedAt:      raw.CreatedAt,
		Features:       raw.Features,
		BotScore:       s.Score(raw.Features),
		IsActive:       IsActive(raw.LastPostAt, now),
		RankedFeatures: s.RankImportance(raw.Features),
	}
}

func degraded(s Scorer, raw RawMetrics) Result {
	reason := raw.UpstreamError
	return Result{
		TwitterID:      raw.TwitterID,
		ScreenName:     raw.ScreenName,
		Name:           raw.ScreenName,
		Location:       reason,
		URL:            reason,
		Description:    reason,
		SuspendedInfo:  truncate(reason, SuspendedInfoMaxLen),
		RankedFeatures: s.RankImportance(features.Features{}),
	}
}

// Snapshot converts the result into a record ready to persist. takenAt is
// stored in UTC at CaptureResolution.
func (r Result) Snapshot(accountID uint64, takenAt time.Time) Snapshot {
	return Snapshot{
		AccountID:     accountID,
		Name:          r.Name,
		Location:      r.Location,
		URL:           r.URL,
		Description:   r.Description,
		CreatedAt:     r.CreatedAt,
		Features:      r.Features,
		BotScore:      r.BotScore,
		IsActive:      r.IsActive,
		SuspendedInfo: r.SuspendedInfo,
		TakenAt:       takenAt.UTC().Truncate(CaptureResolution),
	}
}

// IsActive applies the freshness rule: the account is active when its last
// post falls within ActiveWindowDays calendar days of the collection date,
// both taken in UTC. An account that never posted is inactive.
func IsActive(lastPostAt *time.Time, collectedAt time.Time) bool {
	if lastPostAt == nil {
		return false
	}
	return daysBetween(*lastPostAt, collectedAt) <= ActiveWindowDays
}

// daysBetween returns the number of calendar days from a to b in UTC.
func daysBetween(a, b time.Time) int {
	return int(utcDate(b).Sub(utcDate(a)).Hours() / 24)
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
