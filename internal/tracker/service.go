package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bot-scorer/internal/features"
	"bot-scorer/internal/snapshot"

	"github.com/rs/zerolog/log"
)

// Lookup sources reported to metrics.
const (
	SourceUpstream = "upstream"
	SourceCache    = "cache"
)

// Service coordinates the repository, the upstream fetcher and the scorer.
type Service struct {
	repo      Repository
	fetcher   Fetcher
	scorer    snapshot.Scorer
	cache     LookupCache
	publisher Publisher
	metrics   Metrics
	now       func() time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

func WithCache(c LookupCache) Option { return func(s *Service) { s.cache = c } }
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a Service. The scorer is shared and must be safe for
// concurrent use.
func NewService(repo Repository, fetcher Fetcher, scorer snapshot.Scorer, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		fetcher: fetcher,
		scorer:  scorer,
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detail is a stored snapshot with its explanation and neighbours.
type Detail struct {
	snapshot.Snapshot
	ScreenName     string          `json:"screen_name"`
	RankedFeatures features.Ranked `json:"ranked_features"`
	Change         snapshot.Change `json:"change"`
	Previous       uint64          `json:"previous_id,omitempty"`
	Next           uint64          `json:"next_id,omitempty"`
}

// Lookup scores an account by handle without persisting anything.
func (s *Service) Lookup(ctx context.Context, screenName string) (snapshot.Result, error) {
	screenName = strings.TrimPrefix(strings.TrimSpace(screenName), "@")
	if screenName == "" {
		return snapshot.Result{}, fmt.Errorf("%w: empty screen name", ErrInvalidAccount)
	}

	key := strings.ToLower(screenName)
	if s.cache != nil {
		if res, ok := s.cache.Get(ctx, key); ok {
			s.metrics.LookupsInc(SourceCache)
			return res, nil
		}
	}

	raw, err := s.fetcher.FetchByScreenName(ctx, screenName)
	if err != nil {
		return snapshot.Result{}, fmt.Errorf("fetch %s: %w", screenName, err)
	}
	s.metrics.LookupsInc(SourceUpstream)

	res := s.evaluate(raw)
	if res.SuspendedInfo != "" {
		log.Info().Str("screen_name", screenName).Str("reason", raw.UpstreamError).Msg("Lookup resolved to unavailable account")
		return res, nil
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, res)
	}
	return res, nil
}

// ScoreFeatures scores a caller-supplied feature map. lastPostAt may be nil.
func (s *Service) ScoreFeatures(m map[string]float64, lastPostAt *time.Time) (snapshot.Result, error) {
	f, err := features.FromMap(m)
	if err != nil {
		return snapshot.Result{}, err
	}
	return s.evaluate(snapshot.RawMetrics{Features: f, LastPostAt: lastPostAt}), nil
}

func (s *Service) evaluate(raw snapshot.RawMetrics) snapshot.Result {
	start := time.Now()
	res := snapshot.Evaluate(s.scorer, raw, s.now())
	if raw.UpstreamError != "" {
		s.metrics.UpstreamErrorsInc()
		return res
	}
	s.metrics.ScoreObserve(res.BotScore, time.Since(start))
	return res
}

// Accounts lists the caller's tracked accounts.
func (s *Service) Accounts(ctx context.Context, user string) ([]snapshot.Account, error) {
	return s.repo.ListAccountsByOwner(ctx, user)
}

// Track adds an account to the caller's list. The account is created on
// first addition; otherwise the caller is attached to the existing one.
func (s *Service) Track(ctx context.Context, user string, twitterID int64, screenName string) (snapshot.Account, bool, error) {
	screenName = strings.TrimPrefix(strings.TrimSpace(screenName), "@")
	if twitterID <= 0 || screenName == "" {
		return snapshot.Account{}, false, fmt.Errorf("%w: twitter_id and screen_name are required", ErrInvalidAccount)
	}

	acc, err := s.repo.CreateAccount(ctx, twitterID, screenName, user)
	if err == nil {
		log.Info().Uint64("account_id", acc.ID).Int64("twitter_id", twitterID).Str("user", user).Msg("Account created")
		return acc, true, nil
	}
	if !errors.Is(err, ErrAccountExists) {
		return snapshot.Account{}, false, fmt.Errorf("create account: %w", err)
	}

	existing, err := s.repo.GetAccountByTwitterID(ctx, twitterID)
	if err != nil {
		return snapshot.Account{}, false, fmt.Errorf("get account: %w", err)
	}
	acc, err = s.repo.AttachOwner(ctx, existing.ID, user)
	if err != nil {
		return snapshot.Account{}, false, fmt.Errorf("attach owner: %w", err)
	}
	return acc, false, nil
}

// Untrack detaches the caller from an account and deletes the account with
// its snapshots when the caller was its last owner.
func (s *Service) Untrack(ctx context.Context, user string, accountID uint64) (bool, error) {
	if _, err := s.authorize(ctx, user, accountID); err != nil {
		return false, err
	}

	deleted, err := s.repo.DetachOwner(ctx, accountID, user)
	if err != nil {
		return false, fmt.Errorf("detach owner: %w", err)
	}
	if deleted {
		log.Info().Uint64("account_id", accountID).Str("user", user).Msg("Account deleted with its last owner")
	}
	return deleted, nil
}

// RemoveUser detaches the user from every account and deletes the accounts
// left without owners.
func (s *Service) RemoveUser(ctx context.Context, user string) ([]uint64, error) {
	deleted, err := s.repo.RemoveOwnerEverywhere(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("remove owner: %w", err)
	}
	log.Info().Str("user", user).Int("deleted_accounts", len(deleted)).Msg("User removed")
	return deleted, nil
}

// Snapshots lists an owned account's snapshots in capture order.
func (s *Service) Snapshots(ctx context.Context, user string, accountID uint64) ([]snapshot.Snapshot, error) {
	if _, err := s.authorize(ctx, user, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListSnapshots(ctx, accountID)
}

// Snapshot returns one owned snapshot with its ranking, change and neighbours.
func (s *Service) Snapshot(ctx context.Context, user string, id uint64) (Detail, error) {
	snap, acc, err := s.ownedSnapshot(ctx, user, id)
	if err != nil {
		return Detail{}, err
	}

	history, err := s.repo.ListSnapshots(ctx, snap.AccountID)
	if err != nil {
		return Detail{}, fmt.Errorf("list snapshots: %w", err)
	}
	change, err := snapshot.ComputeChange(history, id)
	if err != nil {
		return Detail{}, err
	}
	prev, next, err := snapshot.Neighbours(history, id)
	if err != nil {
		return Detail{}, err
	}

	return Detail{
		Snapshot:       snap,
		ScreenName:     acc.ScreenName,
		RankedFeatures: s.scorer.RankImportance(snap.Features),
		Change:         change,
		Previous:       prev,
		Next:           next,
	}, nil
}

// Change compares an owned snapshot with its predecessor. A nil Change with
// a nil error means the snapshot is the account's oldest.
func (s *Service) Change(ctx context.Context, user string, id uint64) (snapshot.Change, error) {
	snap, _, err := s.ownedSnapshot(ctx, user, id)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListSnapshots(ctx, snap.AccountID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshot.ComputeChange(history, id)
}

func (s *Service) ownedSnapshot(ctx context.Context, user string, id uint64) (snapshot.Snapshot, snapshot.Account, error) {
	snap, err := s.repo.GetSnapshot(ctx, id)
	if err != nil {
		return snapshot.Snapshot{}, snapshot.Account{}, err
	}
	acc, err := s.authorize(ctx, user, snap.AccountID)
	if err != nil {
		return snapshot.Snapshot{}, snapshot.Account{}, err
	}
	return snap, acc, nil
}

func (s *Service) authorize(ctx context.Context, user string, accountID uint64) (snapshot.Account, error) {
	acc, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return snapshot.Account{}, err
	}
	if !acc.HasOwner(user) {
		return snapshot.Account{}, ErrForbidden
	}
	return acc, nil
}
