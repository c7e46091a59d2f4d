// Package storage provides persistent storage for tracked accounts and their
// snapshots. It uses BoltDB as the underlying storage engine.
//
// Accounts and snapshots are stored as JSON under big-endian sequence ids.
// A secondary index keyed by account, capture time and snapshot id keeps an
// account's history in capture order, so listing it is a single prefix scan.
// Cascading deletes run inside one write transaction.
package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"bot-scorer/internal/snapshot"
	"bot-scorer/internal/tracker"

	"go.etcd.io/bbolt"
)

// FileName is the database file created inside the data directory.
const FileName = "bot-scorer.db"

const (
	accountsBucket         = "accounts"          // id -> Account
	twitterIDsBucket       = "twitter_ids"       // twitter id -> account id
	snapshotsBucket        = "snapshots"         // id -> Snapshot
	accountSnapshotsBucket = "account_snapshots" // account id, taken at, snapshot id -> empty
)

var buckets = []string{accountsBucket, twitterIDsBucket, snapshotsBucket, accountSnapshotsBucket}

// Store implements tracker.Repository on BoltDB.
type Store struct {
	db *bbolt.DB
}

var _ tracker.Repository = (*Store)(nil)

// New opens (or creates) the database inside dataPath and makes sure all
// buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, FileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// CreateAccount stores a new account owned by owner. It fails with
// tracker.ErrAccountExists when the twitter id is already tracked.
func (s *Store) CreateAccount(ctx context.Context, twitterID int64, screenName, owner string) (snapshot.Account, error) {
	var acc snapshot.Account
	err := s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket([]byte(twitterIDsBucket))
		if ids.Get(itob(uint64(twitterID))) != nil {
			return tracker.ErrAccountExists
		}

		b := tx.Bucket([]byte(accountsBucket))
		id, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next account id: %w", err)
		}

		acc = snapshot.Account{
			ID:         id,
			TwitterID:  twitterID,
			ScreenName: screenName,
			Owners:     []string{owner},
			CreatedAt:  time.Now().UTC(),
		}
		if err := putAccount(tx, acc); err != nil {
			return err
		}
		return ids.Put(itob(uint64(twitterID)), itob(id))
	})
	return acc, err
}

// AttachOwner adds owner to the account. Attaching an existing owner is a no-op.
func (s *Store) AttachOwner(ctx context.Context, accountID uint64, owner string) (snapshot.Account, error) {
	var acc snapshot.Account
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		acc, err = getAccount(tx, accountID)
		if err != nil {
			return err
		}
		if acc.HasOwner(owner) {
			return nil
		}
		acc.Owners = append(acc.Owners, owner)
		return putAccount(tx, acc)
	})
	return acc, err
}

// GetAccount returns tracker.ErrNotFound for unknown ids.
func (s *Store) GetAccount(ctx context.Context, id uint64) (snapshot.Account, error) {
	var acc snapshot.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		acc, err = getAccount(tx, id)
		return err
	})
	return acc, err
}

func (s *Store) GetAccountByTwitterID(ctx context.Context, twitterID int64) (snapshot.Account, error) {
	var acc snapshot.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(twitterIDsBucket)).Get(itob(uint64(twitterID)))
		if v == nil {
			return tracker.ErrNotFound
		}
		var err error
		acc, err = getAccount(tx, btoi(v))
		return err
	})
	return acc, err
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]snapshot.Account, error) {
	return s.listAccounts(func(snapshot.Account) bool { return true })
}

// ListAccountsByOwner returns the owner's accounts ordered by id.
func (s *Store) ListAccountsByOwner(ctx context.Context, owner string) ([]snapshot.Account, error) {
	return s.listAccounts(func(a snapshot.Account) bool { return a.HasOwner(owner) })
}

func (s *Store) listAccounts(keep func(snapshot.Account) bool) ([]snapshot.Account, error) {
	var accounts []snapshot.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(accountsBucket)).ForEach(func(k, v []byte) error {
			var acc snapshot.Account
			if err := json.Unmarshal(v, &acc); err != nil {
				return fmt.Errorf("unmarshal account %d: %w", btoi(k), err)
			}
			if keep(acc) {
				accounts = append(accounts, acc)
			}
			return nil
		})
	})
	return accounts, err
}

func (s *Store) UpdateScreenName(ctx context.Context, id uint64, screenName string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		acc, err := getAccount(tx, id)
		if err != nil {
			return err
		}
		acc.ScreenName = screenName
		return putAccount(tx, acc)
	})
}

// DetachOwner removes owner from the account and deletes the account with
// all of its snapshots when no owner is left.
func (s *Store) DetachOwner(ctx context.Context, accountID uint64, owner string) (bool, error) {
	var deleted bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		acc, err := getAccount(tx, accountID)
		if err != nil {
			return err
		}
		deleted, err = detach(tx, acc, owner)
		return err
	})
	return deleted, err
}

// RemoveOwnerEverywhere detaches owner from every account and returns the ids
// of the accounts deleted because they lost their last owner.
func (s *Store) RemoveOwnerEverywhere(ctx context.Context, owner string) ([]uint64, error) {
	var deleted []uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var owned []snapshot.Account
		err := tx.Bucket([]byte(accountsBucket)).ForEach(func(k, v []byte) error {
			var acc snapshot.Account
			if err := json.Unmarshal(v, &acc); err != nil {
				return fmt.Errorf("unmarshal account %d: %w", btoi(k), err)
			}
			if acc.HasOwner(owner) {
				owned = append(owned, acc)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, acc := range owned {
			gone, err := detach(tx, acc, owner)
			if err != nil {
				return err
			}
			if gone {
				deleted = append(deleted, acc.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// SaveSnapshot assigns the next snapshot id and stores s. The capture time is
// kept in UTC at snapshot.CaptureResolution.
func (s *Store) SaveSnapshot(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	snap.TakenAt = snap.TakenAt.UTC().Truncate(snapshot.CaptureResolution)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(accountsBucket)).Get(itob(snap.AccountID)) == nil {
			return fmt.Errorf("account %d: %w", snap.AccountID, tracker.ErrNotFound)
		}

		b := tx.Bucket([]byte(snapshotsBucket))
		id, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next snapshot id: %w", err)
		}
		snap.ID = id

		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		if err := b.Put(itob(id), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(accountSnapshotsBucket)).Put(historyKey(snap.AccountID, snap.TakenAt, id), []byte{})
	})
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

// GetSnapshot returns snapshot.ErrSnapshotNotFound for unknown ids.
func (s *Store) GetSnapshot(ctx context.Context, id uint64) (snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		snap, err = getSnapshot(tx, id)
		return err
	})
	return snap, err
}

// ListSnapshots returns the account's snapshots ascending by capture time,
// then by id.
func (s *Store) ListSnapshots(ctx context.Context, accountID uint64) ([]snapshot.Snapshot, error) {
	var snaps []snapshot.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(accountSnapshotsBucket)).Cursor()
		prefix := itob(accountID)

		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			snap, err := getSnapshot(tx, btoi(k[16:]))
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	return snaps, err
}

func getAccount(tx *bbolt.Tx, id uint64) (snapshot.Account, error) {
	var acc snapshot.Account
	v := tx.Bucket([]byte(accountsBucket)).Get(itob(id))
	if v == nil {
		return acc, tracker.ErrNotFound
	}
	if err := json.Unmarshal(v, &acc); err != nil {
		return acc, fmt.Errorf("unmarshal account %d: %w", id, err)
	}
	return acc, nil
}

func putAccount(tx *bbolt.Tx, acc snapshot.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	return tx.Bucket([]byte(accountsBucket)).Put(itob(acc.ID), data)
}

func getSnapshot(tx *bbolt.Tx, id uint64) (snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	v := tx.Bucket([]byte(snapshotsBucket)).Get(itob(id))
	if v == nil {
		return snap, snapshot.ErrSnapshotNotFound
	}
	if err := json.Unmarshal(v, &snap); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot %d: %w", id, err)
	}
	return snap, nil
}

func detach(tx *bbolt.Tx, acc snapshot.Account, owner string) (bool, error) {
	owners := make([]string, 0, len(acc.Owners))
	for _, o := range acc.Owners {
		if o != owner {
			owners = append(owners, o)
		}
	}
	if len(owners) > 0 {
		acc.Owners = owners
		return false, putAccount(tx, acc)
	}
	return true, deleteAccount(tx, acc)
}

// deleteAccount removes the account, its twitter id mapping and every
// snapshot in its history.
func deleteAccount(tx *bbolt.Tx, acc snapshot.Account) error {
	history := tx.Bucket([]byte(accountSnapshotsBucket))
	snaps := tx.Bucket([]byte(snapshotsBucket))

	var keys [][]byte
	prefix := itob(acc.ID)
	c := history.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := snaps.Delete(k[16:]); err != nil {
			return fmt.Errorf("delete snapshot %d: %w", btoi(k[16:]), err)
		}
		if err := history.Delete(k); err != nil {
			return err
		}
	}

	if err := tx.Bucket([]byte(twitterIDsBucket)).Delete(itob(uint64(acc.TwitterID))); err != nil {
		return err
	}
	return tx.Bucket([]byte(accountsBucket)).Delete(itob(acc.ID))
}

// historyKey orders an account's snapshots by capture time, then id. The
// timestamp is in microseconds with its sign bit flipped so earlier times,
// including those before 1970, sort first.
func historyKey(accountID uint64, takenAt time.Time, snapshotID uint64) []byte {
	key := make([]byte, 24)
	binary.BigEndian.PutUint64(key[0:8], accountID)
	binary.BigEndian.PutUint64(key[8:16], uint64(takenAt.UnixMicro())^(1<<63))
	binary.BigEndian.PutUint64(key[16:24], snapshotID)
	return key
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
