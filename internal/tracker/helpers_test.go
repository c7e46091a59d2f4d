package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"bot-scorer/internal/features"
	"bot-scorer/internal/snapshot"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	mu        sync.Mutex
	nextAcc   uint64
	nextSnap  uint64
	accounts  map[uint64]*snapshot.Account
	snapshots map[uint64]snapshot.Snapshot
}

func newMemRepo() *memRepo {
	return &memRepo{
		accounts:  make(map[uint64]*snapshot.Account),
		snapshots: make(map[uint64]snapshot.Snapshot),
	}
}

func (r *memRepo) CreateAccount(_ context.Context, twitterID int64, screenName, owner string) (snapshot.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.TwitterID == twitterID {
			return snapshot.Account{}, ErrAccountExists
		}
	}
	r.nextAcc++
	a := &snapshot.Account{ID: r.nextAcc, TwitterID: twitterID, ScreenName: screenName, Owners: []string{owner}}
	r.accounts[a.ID] = a
	return *a, nil
}

func (r *memRepo) AttachOwner(_ context.Context, id uint64, owner string) (snapshot.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return snapshot.Account{}, ErrNotFound
	}
	if !a.HasOwner(owner) {
		a.Owners = append(a.Owners, owner)
	}
	return *a, nil
}

func (r *memRepo) GetAccount(_ context.Context, id uint64) (snapshot.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return snapshot.Account{}, ErrNotFound
	}
	return *a, nil
}

func (r *memRepo) GetAccountByTwitterID(_ context.Context, twitterID int64) (snapshot.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.TwitterID == twitterID {
			return *a, nil
		}
	}
	return snapshot.Account{}, ErrNotFound
}

func (r *memRepo) ListAccounts(context.Context) ([]snapshot.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedAccounts(func(*snapshot.Account) bool { return true }), nil
}

func (r *memRepo) ListAccountsByOwner(_ context.Context, owner string) ([]snapshot.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedAccounts(func(a *snapshot.Account) bool { return a.HasOwner(owner) }), nil
}

func (r *memRepo) sortedAccounts(keep func(*snapshot.Account) bool) []snapshot.Account {
	var out []snapshot.Account
	for _, a := range r.accounts {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) UpdateScreenName(_ context.Context, id uint64, screenName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.ScreenName = screenName
	return nil
}

func (r *memRepo) DetachOwner(_ context.Context, id uint64, owner string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return false, ErrNotFound
	}
	return r.detach(a, owner), nil
}

func (r *memRepo) RemoveOwnerEverywhere(_ context.Context, owner string) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted []uint64
	for _, a := range r.sortedAccounts(func(a *snapshot.Account) bool { return a.HasOwner(owner) }) {
		if r.detach(r.accounts[a.ID], owner) {
			deleted = append(deleted, a.ID)
		}
	}
	return deleted, nil
}

func (r *memRepo) detach(a *snapshot.Account, owner string) bool {
	owners := a.Owners[:0]
	for _, o := range a.Owners {
		if o != owner {
			owners = append(owners, o)
		}
	}
	a.Owners = owners
	if len(owners) > 0 {
		return false
	}
	delete(r.accounts, a.ID)
	for id, s := range r.snapshots {
		if s.AccountID == a.ID {
			delete(r.snapshots, id)
		}
	}
	return true
}

func (r *memRepo) SaveSnapshot(_ context.Context, s snapshot.Snapshot) (snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[s.AccountID]; !ok {
		return snapshot.Snapshot{}, ErrNotFound
	}
	r.nextSnap++
	s.ID = r.nextSnap
	r.snapshots[s.ID] = s
	return s, nil
}

func (r *memRepo) GetSnapshot(_ context.Context, id uint64) (snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[id]
	if !ok {
		return snapshot.Snapshot{}, snapshot.ErrSnapshotNotFound
	}
	return s, nil
}

func (r *memRepo) ListSnapshots(_ context.Context, accountID uint64) ([]snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []snapshot.Snapshot
	for _, s := range r.snapshots {
		if s.AccountID == accountID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TakenAt.Equal(out[j].TakenAt) {
			return out[i].TakenAt.Before(out[j].TakenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRepo) Close() error { return nil }

// fakeFetcher serves canned metrics keyed by twitter id and lowercase handle.
type fakeFetcher struct {
	mu       sync.Mutex
	byID     map[int64]snapshot.RawMetrics
	byHandle map[string]snapshot.RawMetrics
	errs     map[int64]error
	calls    int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		byID:     make(map[int64]snapshot.RawMetrics),
		byHandle: make(map[string]snapshot.RawMetrics),
		errs:     make(map[int64]error),
	}
}

func (f *fakeFetcher) set(raw snapshot.RawMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[raw.TwitterID] = raw
	f.byHandle[raw.ScreenName] = raw
}

func (f *fakeFetcher) FetchByID(_ context.Context, id int64) (snapshot.RawMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[id]; err != nil {
		return snapshot.RawMetrics{}, err
	}
	raw, ok := f.byID[id]
	if !ok {
		return snapshot.RawMetrics{TwitterID: id, UpstreamError: "User not found."}, nil
	}
	return raw, nil
}

func (f *fakeFetcher) FetchByScreenName(_ context.Context, name string) (snapshot.RawMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	raw, ok := f.byHandle[name]
	if !ok {
		return snapshot.RawMetrics{ScreenName: name, UpstreamError: "User not found."}, nil
	}
	return raw, nil
}

// linearScorer scores by friends count so tests can steer bot_score.
type linearScorer struct{}

func (linearScorer) Score(f features.Features) float64 {
	return float64(f.FriendsCount) / 100
}

func (linearScorer) RankImportance(f features.Features) features.Ranked {
	r := make(features.Ranked, 0, features.Count)
	for _, n := range features.Names {
		r = append(r, features.Entry{Name: n, Value: f.Value(n)})
	}
	return r
}

type memCache struct {
	mu   sync.Mutex
	data map[string]snapshot.Result
}

func (c *memCache) Get(_ context.Context, key string) (snapshot.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[key]
	return r, ok
}

func (c *memCache) Set(_ context.Context, key string, r snapshot.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]snapshot.Result)
	}
	c.data[key] = r
}

type published struct {
	account  snapshot.Account
	snapshot snapshot.Snapshot
	change   snapshot.Change
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishSnapshot(acc snapshot.Account, s snapshot.Snapshot, change snapshot.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{acc, s, change})
}

// MockMetrics implements Metrics for testing
type MockMetrics struct {
	mu             sync.Mutex
	scores         []float64
	lookups        map[string]int
	upstreamErrors int
	stored         int
	runs           int
	failures       int
}

func (m *MockMetrics) ScoreObserve(score float64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, score)
}

func (m *MockMetrics) LookupsInc(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookups == nil {
		m.lookups = make(map[string]int)
	}
	m.lookups[source]++
}

func (m *MockMetrics) UpstreamErrorsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstreamErrors++
}

func (m *MockMetrics) SnapshotsStoredInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored++
}

func (m *MockMetrics) CollectionObserve(_ time.Duration, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	m.failures += failures
}
