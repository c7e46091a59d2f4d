// Package tracker is the application layer around the scoring core. It owns
// the account lifecycle (tracking, ownership, cascade deletion), on-demand
// lookups, snapshot collection and the per-user views over stored snapshots.
//
// Persistence, the upstream API, the lookup cache and the live feed are
// injected through the interfaces below.
package tracker

import (
	"context"
	"errors"
	"time"

	"bot-scorer/internal/snapshot"
)

var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the account.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidAccount is returned for malformed account input.
	ErrInvalidAccount = errors.New("invalid account")
	// ErrAccountExists is returned by Repository.CreateAccount when the
	// twitter id is already tracked.
	ErrAccountExists = errors.New("account already exists")
)

// Repository persists accounts and their snapshots.
//
// DetachOwner and RemoveOwnerEverywhere delete every account left without
// owners, together with its snapshots, in the same transaction.
type Repository interface {
	CreateAccount(ctx context.Context, twitterID int64, screenName, owner string) (snapshot.Account, error)
	AttachOwner(ctx context.Context, accountID uint64, owner string) (snapshot.Account, error)
	GetAccount(ctx context.Context, id uint64) (snapshot.Account, error)
	GetAccountByTwitterID(ctx context.Context, twitterID int64) (snapshot.Account, error)
	ListAccounts(ctx context.Context) ([]snapshot.Account, error)
	ListAccountsByOwner(ctx context.Context, owner string) ([]snapshot.Account, error)
	UpdateScreenName(ctx context.Context, id uint64, screenName string) error
	DetachOwner(ctx context.Context, accountID uint64, owner string) (deleted bool, err error)
	RemoveOwnerEverywhere(ctx context.Context, owner string) (deleted []uint64, err error)

	SaveSnapshot(ctx context.Context, s snapshot.Snapshot) (snapshot.Snapshot, error)
	GetSnapshot(ctx context.Context, id uint64) (snapshot.Snapshot, error)
	// ListSnapshots returns an account's snapshots ascending by capture time,
	// then by id.
	ListSnapshots(ctx context.Context, accountID uint64) ([]snapshot.Snapshot, error)

	Close() error
}

// Fetcher retrieves raw account metrics from the upstream API. A resolvable
// account failure (suspended, not found, rate limited) is reported through
// RawMetrics.UpstreamError with a nil error.
type Fetcher interface {
	FetchByID(ctx context.Context, twitterID int64) (snapshot.RawMetrics, error)
	FetchByScreenName(ctx context.Context, screenName string) (snapshot.RawMetrics, error)
}

// LookupCache stores unsaved lookup results. Implementations handle their own
// failures; a miss is indistinguishable from an error.
type LookupCache interface {
	Get(ctx context.Context, key string) (snapshot.Result, bool)
	Set(ctx context.Context, key string, r snapshot.Result)
}

// Publisher receives every snapshot stored by collection.
type Publisher interface {
	PublishSnapshot(acc snapshot.Account, s snapshot.Snapshot, change snapshot.Change)
}

// Metrics is the subset of service metrics the tracker records.
type Metrics interface {
	ScoreObserve(score float64, latency time.Duration)
	LookupsInc(source string)
	UpstreamErrorsInc()
	SnapshotsStoredInc()
	CollectionObserve(d time.Duration, failures int)
}

type noopMetrics struct{}

func (noopMetrics) ScoreObserve(float64, time.Duration) {}
func (noopMetrics) LookupsInc(string) {}
func (noopMetrics) UpstreamErrorsInc() {}
func (noopMetrics) SnapshotsStoredInc() {}
func (noopMetrics) CollectionObserve(time.Duration, int) {}
