// Package catsync keeps a local catalog root in step with its remote
// counterpart in an object store. Syncs are pull-based and checksum
// gated: version tokens decide whether anything is fetched at all, and
// shard digests from the remote manifest decide which shards move.
package catsync

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	tokenBucket = "tokens"
	metaBucket  = "meta"

	lastSyncKey = "last_sync"
)

// StateDB persists sync bookkeeping for one catalog root: the version
// token observed for every remote object at the last successful sync,
// and when that sync finished. It lives outside the root so commits
// that replace the root directory do not touch it.
type StateDB struct {
	db *bolt.DB
}

// OpenStateDB opens or creates the state database at path.
func OpenStateDB(path string) (*StateDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sync state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(tokenBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &StateDB{db: db}, nil
}

func (s *StateDB) Close() error {
	return s.db.Close()
}

// Token returns the stored version token for an object key, or the
// empty string when none was recorded.
func (s *StateDB) Token(key string) (string, error) {
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(tokenBucket)).Get([]byte(key)); v != nil {
			token = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read token for %s: %w", key, err)
	}
	return token, nil
}

// SetTokens replaces the whole token set and records syncedAt as the
// last sync time, in one transaction.
func (s *StateDB) SetTokens(tokens map[string]string, syncedAt time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(tokenBucket)); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket([]byte(tokenBucket))
		if err != nil {
			return err
		}
		for key, token := range tokens {
			if err := bucket.Put([]byte(key), []byte(token)); err != nil {
				return err
			}
		}
		return putTime(tx, lastSyncKey, syncedAt)
	})
	if err != nil {
		return fmt.Errorf("failed to store sync tokens: %w", err)
	}
	return nil
}

// SetLastSync records when the last sync attempt finished without
// touching the token set, used after a probe confirms no change.
func (s *StateDB) SetLastSync(t time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putTime(tx, lastSyncKey, t)
	})
	if err != nil {
		return fmt.Errorf("failed to store last sync time: %w", err)
	}
	return nil
}

// LastSync returns when the last sync finished, or the zero time when
// the root has never synced.
func (s *StateDB) LastSync() (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(metaBucket)).Get([]byte(lastSyncKey))
		if len(v) == 8 {
			t = time.Unix(int64(binary.BigEndian.Uint64(v)), 0)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync time: %w", err)
	}
	return t, nil
}

// Clear drops all tokens and the last sync time, forcing the next sync
// to fetch everything it cannot verify locally.
func (s *StateDB) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(tokenBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(tokenBucket)); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Delete([]byte(lastSyncKey))
	})
	if err != nil {
		return fmt.Errorf("failed to clear sync state: %w", err)
	}
	return nil
}

func putTime(tx *bolt.Tx, key string, t time.Time) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(t.Unix()))
	return tx.Bucket([]byte(metaBucket)).Put([]byte(key), v)
}
