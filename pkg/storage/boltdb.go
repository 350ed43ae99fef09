package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/triage/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketAttempts    = []byte("attempts")
	bucketEscalations = []byte("escalations")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store at the given file path
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAttempts, bucketEscalations} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Backup writes a consistent copy of the database to path
func (s *BoltStore) Backup(path string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if err := tx.CopyFile(path, 0600); err != nil {
			return fmt.Errorf("failed to back up database to %s: %w", path, err)
		}
		return nil
	})
}

// attemptKey orders attempts chronologically: 8-byte big-endian unix nanos
// followed by the attempt ID.
func attemptKey(a *types.Attempt) []byte {
	key := make([]byte, 8, 8+len(a.ID))
	binary.BigEndian.PutUint64(key, uint64(a.Timestamp.UnixNano()))
	return append(key, a.ID...)
}

// Attempt operations
func (s *BoltStore) AppendAttempt(attempt *types.Attempt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		data, err := json.Marshal(attempt)
		if err != nil {
			return err
		}
		return b.Put(attemptKey(attempt), data)
	})
}

func (s *BoltStore) ListAttempts() ([]*types.Attempt, error) {
	var attempts []*types.Attempt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		return b.ForEach(func(k, v []byte) error {
			var attempt types.Attempt
			if err := json.Unmarshal(v, &attempt); err != nil {
				return err
			}
			attempts = append(attempts, &attempt)
			return nil
		})
	})
	return attempts, err
}

// DeleteAttemptsBefore removes attempts recorded strictly before cutoff
func (s *BoltStore) DeleteAttemptsBefore(cutoff time.Time) (int, error) {
	limit := make([]byte, 8)
	binary.BigEndian.PutUint64(limit, uint64(cutoff.UnixNano()))

	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)

		// Collect first: deleting under a live cursor skips keys
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], limit) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Escalation operations
func (s *BoltStore) PutEscalation(escalation *types.Escalation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEscalations)
		data, err := json.Marshal(escalation)
		if err != nil {
			return err
		}
		return b.Put([]byte(escalation.Key()), data)
	})
}

func (s *BoltStore) GetEscalation(key string) (*types.Escalation, error) {
	var escalation types.Escalation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEscalations)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("escalation %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, &escalation)
	})
	if err != nil {
		return nil, err
	}
	return &escalation, nil
}

func (s *BoltStore) ListEscalations() ([]*types.Escalation, error) {
	var escalations []*types.Escalation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEscalations)
		return b.ForEach(func(k, v []byte) error {
			var escalation types.Escalation
			if err := json.Unmarshal(v, &escalation); err != nil {
				return err
			}
			escalations = append(escalations, &escalation)
			return nil
		})
	})
	return escalations, err
}

func (s *BoltStore) DeleteEscalation(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEscalations)
		return b.Delete([]byte(key))
	})
}
