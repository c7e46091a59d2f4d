// Package snapshot holds the tracked-account domain types and the pure
// operations over them: scoring a freshly fetched metrics record, the
// activity rule and the change between consecutive snapshots.
package snapshot

import (
	"errors"
	"time"

	"bot-scorer/internal/features"
)

// SuspendedInfoMaxLen bounds the stored upstream failure reason.
const SuspendedInfoMaxLen = 32

// ActiveWindowDays is the largest calendar-day gap between the last post and
// the collection date for which an account still counts as active.
const ActiveWindowDays = 90

// CaptureResolution is the precision capture timestamps are stored with,
// the finest PostgreSQL keeps.
const CaptureResolution = time.Microsecond

// ErrSnapshotNotFound is returned when a snapshot id does not resolve.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// RawMetrics is one account as returned by the upstream API.
type RawMetrics struct {
	TwitterID   int64     `json:"twitter_id"`
	ScreenName  string    `json:"screen_name"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`

	Features features.Features `json:"features"`

	// LastPostAt is nil when the account has never posted.
	LastPostAt *time.Time `json:"last_post_at,omitempty"`

	// UpstreamError carries the reason the account could not be resolved
	// (suspended, not found, rate limited). Empty on success.
	UpstreamError string `json:"upstream_error,omitempty"`
}

// Account is a tracked upstream account.
type Account struct {
	ID         uint64    `json:"id"`
	TwitterID  int64     `json:"twitter_id"`
	ScreenName string    `json:"screen_name"`
	Owners     []string  `json:"owners,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasOwner reports whether userID is among the account's owners.
func (a Account) HasOwner(userID string) bool {
	for _, o := range a.Owners {
		if o == userID {
			return true
		}
	}
	return false
}

// Snapshot is an immutable point-in-time record of one account.
type Snapshot struct {
	ID          uint64    `json:"id"`
	AccountID   uint64    `json:"account_id"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`

	features.Features

	BotScore      float64   `json:"bot_score"`
	IsActive      bool      `json:"is_active"`
	SuspendedInfo string    `json:"suspended_info"`
	TakenAt       time.Time `json:"taken_at"`
}

// Suspended reports whether the snapshot was captured from a failed lookup.
func (s Snapshot) Suspended() bool {
	return s.SuspendedInfo != ""
}
