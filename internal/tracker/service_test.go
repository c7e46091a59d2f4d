package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"bot-scorer/internal/features"
	"bot-scorer/internal/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo      *memRepo
	fetcher   *fakeFetcher
	cache     *memCache
	publisher *recordingPublisher
	metrics   *MockMetrics
	clock     time.Time
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMemRepo(),
		fetcher:   newFakeFetcher(),
		cache:     &memCache{},
		publisher: &recordingPublisher{},
		metrics:   &MockMetrics{},
		clock:     time.Date(2020, 6, 20, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.fetcher, linearScorer{},
		WithCache(f.cache),
		WithPublisher(f.publisher),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return f.clock }),
	)
	return f
}

func (f *fixture) tick() { f.clock = f.clock.Add(24 * time.Hour) }

func rawAccount(id int64, handle string, friends int64) snapshot.RawMetrics {
	last := time.Date(2020, 6, 19, 0, 0, 0, 0, time.UTC)
	return snapshot.RawMetrics{
		TwitterID:  id,
		ScreenName: handle,
		Name:       handle,
		Features:   features.Features{StatusesCount: 100, FollowersCount: 10, FriendsCount: friends},
		LastPostAt: &last,
	}
}

func TestLookup_ScoresAndCaches(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fetcher.set(rawAccount(1, "Alice", 45))

	res, err := f.svc.Lookup(ctx, "@Alice")
	require.NoError(t, err)
	assert.Equal(t, 0.45, res.BotScore)
	assert.True(t, res.IsActive)
	assert.Len(t, res.RankedFeatures, features.Count)

	again, err := f.svc.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, res, again)
	assert.Equal(t, 1, f.fetcher.calls)
	assert.Equal(t, 1, f.metrics.lookups[SourceUpstream])
	assert.Equal(t, 1, f.metrics.lookups[SourceCache])
}

func TestLookup_UpstreamFailureIsDegradedNotCached(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Lookup(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, features.Features{}, res.Features)
	assert.Equal(t, 0.0, res.BotScore)
	assert.False(t, res.IsActive)
	assert.Equal(t, "User not found.", res.SuspendedInfo)
	assert.Equal(t, "ghost", res.Name)

	_, err = f.svc.Lookup(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, 2, f.fetcher.calls)
	assert.Equal(t, 2, f.metrics.upstreamErrors)
}

func TestLookup_EmptyHandle(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Lookup(context.Background(), "  @ ")
	assert.True(t, errors.Is(err, ErrInvalidAccount))
}

func TestScoreFeatures(t *testing.T) {
	f := newFixture()

	m := features.Features{FriendsCount: 30}.Map()
	res, err := f.svc.ScoreFeatures(m, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.3, res.BotScore)
	assert.False(t, res.IsActive)

	delete(m, "protected")
	_, err = f.svc.ScoreFeatures(m, nil)
	assert.True(t, errors.Is(err, features.ErrMissingFeature))
}

func TestTrack_CreateThenAttach(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	acc, created, err := f.svc.Track(ctx, "alice", 42, "target")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.svc.Track(ctx, "bob", 42, "target")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, acc.ID, again.ID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, again.Owners)

	_, created, err = f.svc.Track(ctx, "bob", 42, "target")
	require.NoError(t, err)
	assert.False(t, created)
	stored, err := f.repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Owners, 2)
}

func TestTrack_Invalid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _, err := f.svc.Track(ctx, "alice", 0, "x")
	assert.True(t, errors.Is(err, ErrInvalidAccount))
	_, _, err = f.svc.Track(ctx, "alice", 5, "")
	assert.True(t, errors.Is(err, ErrInvalidAccount))
}

func TestUntrack_LastOwnerCascades(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fetcher.set(rawAccount(42, "target", 1))

	acc, _, err := f.svc.Track(ctx, "alice", 42, "target")
	require.NoError(t, err)
	_, _, err = f.svc.Track(ctx, "bob", 42, "target")
	require.NoError(t, err)
	s, err := f.svc.CollectAccount(ctx, acc)
	require.NoError(t, err)

	deleted, err := f.svc.Untrack(ctx, "alice", acc.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = f.repo.GetSnapshot(ctx, s.ID)
	require.NoError(t, err)

	_, err = f.svc.Untrack(ctx, "alice", acc.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	deleted, err = f.svc.Untrack(ctx, "bob", acc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = f.repo.GetAccount(ctx, acc.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = f.repo.GetSnapshot(ctx, s.ID)
	assert.True(t, errors.Is(err, snapshot.ErrSnapshotNotFound))

	_, err = f.svc.Untrack(ctx, "bob", acc.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRemoveUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	shared, _, err := f.svc.Track(ctx, "alice", 1, "shared")
	require.NoError(t, err)
	_, _, err = f.svc.Track(ctx, "bob", 1, "shared")
	require.NoError(t, err)
	own, _, err := f.svc.Track(ctx, "alice", 2, "own")
	require.NoError(t, err)

	deleted, err := f.svc.RemoveUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []uint64{own.ID}, deleted)

	acc, err := f.repo.GetAccount(ctx, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, acc.Owners)

	mine, err := f.svc.Accounts(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestSnapshotViews_OwnershipAndChange(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	acc, _, err := f.svc.Track(ctx, "alice", 7, "target")
	require.NoError(t, err)

	f.fetcher.set(rawAccount(7, "target", 45))
	first, err := f.svc.CollectAccount(ctx, acc)
	require.NoError(t, err)
	f.tick()
	f.fetcher.set(rawAccount(7, "target", 50))
	second, err := f.svc.CollectAccount(ctx, acc)
	require.NoError(t, err)

	list, err := f.svc.Snapshots(ctx, "alice", acc.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	change, err := f.svc.Change(ctx, "alice", first.ID)
	require.NoError(t, err)
	assert.Nil(t, change)

	change, err = f.svc.Change(ctx, "alice", second.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Up, change["friends_count"])
	assert.Equal(t, snapshot.Up, change[snapshot.FieldBotScore])
	assert.Equal(t, snapshot.Same, change["statuses_count"])

	detail, err := f.svc.Snapshot(ctx, "alice", second.ID)
	require.NoError(t, err)
	assert.Equal(t, "target", detail.ScreenName)
	assert.Equal(t, first.ID, detail.Previous)
	assert.Zero(t, detail.Next)
	assert.Equal(t, change, detail.Change)
	assert.Len(t, detail.RankedFeatures, features.Count)

	_, err = f.svc.Snapshots(ctx, "mallory", acc.ID)
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.svc.Change(ctx, "mallory", second.ID)
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.svc.Snapshot(ctx, "alice", 999)
	assert.True(t, errors.Is(err, snapshot.ErrSnapshotNotFound))
	_, err = f.svc.Snapshots(ctx, "alice", 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}
