package postgres

import (
	"context"
	"fmt"
	"sort"

	"bot-scorer/internal/features"
	"bot-scorer/internal/snapshot"
	"bot-scorer/internal/tracker"

	"github.com/jackc/pgx/v5"
)

// Store implements tracker.Repository using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ tracker.Repository = (*Store)(nil)

// Open connects to dsn, applies the schema and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const accountColumns = `
	SELECT a.id, a.twitter_id, a.screen_name, a.created_at,
		COALESCE(array_agg(o.owner ORDER BY o.added_at, o.owner) FILTER (WHERE o.owner IS NOT NULL), '{}')
	FROM accounts a
	LEFT JOIN account_owners o ON o.account_id = a.id
`

const snapshotColumns = `
	SELECT id, account_id, name, location, url, description, created_at,
		statuses_count, followers_count, friends_count, favourites_count, listed_count,
		default_profile, verified, protected, bot_score, is_active, suspended_info, taken_at
	FROM snapshots
`

// CreateAccount inserts the account and its first owner atomically.
// Returns tracker.ErrAccountExists if twitter_id is already tracked.
func (s *Store) CreateAccount(ctx context.Context, twitterID int64, screenName, owner string) (snapshot.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return snapshot.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (twitter_id, screen_name) VALUES ($1, $2)
		RETURNING id
	`, twitterID, screenName).Scan(&id)
	if err != nil {
		if isDuplicateKeyError(err) {
			return snapshot.Account{}, tracker.ErrAccountExists
		}
		return snapshot.Account{}, fmt.Errorf("insert account: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO account_owners (account_id, owner) VALUES ($1, $2)`, id, owner); err != nil {
		return snapshot.Account{}, fmt.Errorf("insert owner: %w", err)
	}

	acc, err := getAccount(ctx, tx, uint64(id))
	if err != nil {
		return snapshot.Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return snapshot.Account{}, fmt.Errorf("commit tx: %w", err)
	}
	return acc, nil
}

// AttachOwner adds owner to the account. Attaching an existing owner is a no-op.
func (s *Store) AttachOwner(ctx context.Context, accountID uint64, owner string) (snapshot.Account, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_owners (account_id, owner) VALUES ($1, $2)
		ON CONFLICT (account_id, owner) DO NOTHING
	`, int64(accountID), owner)
	if err != nil {
		if isForeignKeyError(err) {
			return snapshot.Account{}, tracker.ErrNotFound
		}
		return snapshot.Account{}, fmt.Errorf("attach owner: %w", err)
	}
	return s.GetAccount(ctx, accountID)
}

// GetAccount returns tracker.ErrNotFound if the account does not exist.
func (s *Store) GetAccount(ctx context.Context, id uint64) (snapshot.Account, error) {
	return getAccount(ctx, s.pool, id)
}

func (s *Store) GetAccountByTwitterID(ctx context.Context, twitterID int64) (snapshot.Account, error) {
	row := s.pool.QueryRow(ctx, accountColumns+`WHERE a.twitter_id = $1 GROUP BY a.id`, twitterID)
	acc, err := scanAccount(row)
	if err != nil {
		if isNotFoundError(err) {
			return snapshot.Account{}, tracker.ErrNotFound
		}
		return snapshot.Account{}, fmt.Errorf("get account by twitter id: %w", err)
	}
	return acc, nil
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]snapshot.Account, error) {
	return s.queryAccounts(ctx, accountColumns+`GROUP BY a.id ORDER BY a.id`)
}

// ListAccountsByOwner returns the owner's accounts ordered by id.
func (s *Store) ListAccountsByOwner(ctx context.Context, owner string) ([]snapshot.Account, error) {
	return s.queryAccounts(ctx, accountColumns+`
		WHERE a.id IN (SELECT account_id FROM account_owners WHERE owner = $1)
		GROUP BY a.id ORDER BY a.id
	`, owner)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]snapshot.Account, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []snapshot.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) UpdateScreenName(ctx context.Context, id uint64, screenName string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET screen_name = $2 WHERE id = $1`, int64(id), screenName)
	if err != nil {
		return fmt.Errorf("update screen name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

// DetachOwner removes owner from the account and deletes the account, and
// through the cascade its snapshots, when no owner is left.
func (s *Store) DetachOwner(ctx context.Context, accountID uint64, owner string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, int64(accountID)).Scan(&id)
	if err != nil {
		if isNotFoundError(err) {
			return false, tracker.ErrNotFound
		}
		return false, fmt.Errorf("lock account: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM account_owners WHERE account_id = $1 AND owner = $2`, id, owner); err != nil {
		return false, fmt.Errorf("delete owner: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM accounts a
		WHERE a.id = $1 AND NOT EXISTS (SELECT 1 FROM account_owners o WHERE o.account_id = a.id)
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete orphaned account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveOwnerEverywhere detaches owner from every account and deletes the
// accounts left without owners. Returns the deleted account ids ascending.
func (s *Store) RemoveOwnerEverywhere(ctx context.Context, owner string) ([]uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `DELETE FROM account_owners WHERE owner = $1 RETURNING account_id`, owner)
	if err != nil {
		return nil, fmt.Errorf("delete owner: %w", err)
	}
	touched, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect owned accounts: %w", err)
	}

	var deleted []uint64
	if len(touched) > 0 {
		rows, err = tx.Query(ctx, `
			DELETE FROM accounts a
			WHERE a.id = ANY($1) AND NOT EXISTS (SELECT 1 FROM account_owners o WHERE o.account_id = a.id)
			RETURNING a.id
		`, touched)
		if err != nil {
			return nil, fmt.Errorf("delete orphaned accounts: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return nil, fmt.Errorf("collect deleted accounts: %w", err)
		}
		for _, id := range ids {
			deleted = append(deleted, uint64(id))
		}
		sort.Slice(deleted, func(i, j int) bool { return deleted[i] < deleted[j] })
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return deleted, nil
}

// SaveSnapshot inserts the snapshot and returns it with its assigned id.
// Returns tracker.ErrNotFound if the account does not exist.
func (s *Store) SaveSnapshot(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	query := `
		INSERT INTO snapshots (
			account_id, name, location, url, description, created_at,
			statuses_count, followers_count, friends_count, favourites_count, listed_count,
			default_profile, verified, protected, bot_score, is_active, suspended_info, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		int64(snap.AccountID),
		snap.Name,
		snap.Location,
		snap.URL,
		snap.Description,
		snap.CreatedAt,
		snap.StatusesCount,
		snap.FollowersCount,
		snap.FriendsCount,
		snap.FavouritesCount,
		snap.ListedCount,
		snap.DefaultProfile,
		snap.Verified,
		snap.Protected,
		snap.BotScore,
		snap.IsActive,
		snap.SuspendedInfo,
		snap.TakenAt,
	).Scan(&id)
	if err != nil {
		if isForeignKeyError(err) {
			return snapshot.Snapshot{}, fmt.Errorf("account %d: %w", snap.AccountID, tracker.ErrNotFound)
		}
		return snapshot.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}

	snap.ID = uint64(id)
	return snap, nil
}

// GetSnapshot returns snapshot.ErrSnapshotNotFound if the id does not exist.
func (s *Store) GetSnapshot(ctx context.Context, id uint64) (snapshot.Snapshot, error) {
	row := s.pool.QueryRow(ctx, snapshotColumns+`WHERE id = $1`, int64(id))
	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return snapshot.Snapshot{}, snapshot.ErrSnapshotNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns the account's snapshots ordered by taken_at, then id.
func (s *Store) ListSnapshots(ctx context.Context, accountID uint64) ([]snapshot.Snapshot, error) {
	rows, err := s.pool.Query(ctx, snapshotColumns+`WHERE account_id = $1 ORDER BY taken_at ASC, id ASC`, int64(accountID))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []snapshot.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAccount(ctx context.Context, q querier, id uint64) (snapshot.Account, error) {
	row := q.QueryRow(ctx, accountColumns+`WHERE a.id = $1 GROUP BY a.id`, int64(id))
	acc, err := scanAccount(row)
	if err != nil {
		if isNotFoundError(err) {
			return snapshot.Account{}, tracker.ErrNotFound
		}
		return snapshot.Account{}, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

func scanAccount(row pgx.Row) (snapshot.Account, error) {
	var (
		acc snapshot.Account
		id  int64
	)
	if err := row.Scan(&id, &acc.TwitterID, &acc.ScreenName, &acc.CreatedAt, &acc.Owners); err != nil {
		return snapshot.Account{}, err
	}
	acc.ID = uint64(id)
	acc.CreatedAt = acc.CreatedAt.UTC()
	return acc, nil
}

func scanSnapshot(row pgx.Row) (snapshot.Snapshot, error) {
	var (
		snap      snapshot.Snapshot
		f         features.Features
		id, accID int64
	)
	err := row.Scan(
		&id,
		&accID,
		&snap.Name,
		&snap.Location,
		&snap.URL,
		&snap.Description,
		&snap.CreatedAt,
		&f.StatusesCount,
		&f.FollowersCount,
		&f.FriendsCount,
		&f.FavouritesCount,
		&f.ListedCount,
		&f.DefaultProfile,
		&f.Verified,
		&f.Protected,
		&snap.BotScore,
		&snap.IsActive,
		&snap.SuspendedInfo,
		&snap.TakenAt,
	)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	snap.ID = uint64(id)
	snap.AccountID = uint64(accID)
	snap.Features = f
	snap.CreatedAt = snap.CreatedAt.UTC()
	snap.TakenAt = snap.TakenAt.UTC()
	return snap, nil
}
