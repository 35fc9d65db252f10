package persist

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// bucketName is the BoltDB bucket holding serialized entries
const bucketName = "entries"

// BoltStore keeps all entries in a single BoltDB file. Useful when a cache
// directory full of small files is unwanted, for example on network mounts.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key CacheKey) ([]byte, bool, error) {
	var data []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		v := b.Get([]byte(key.Filename()))
		if v == nil {
			return nil
		}

		// Bolt memory is only valid inside the transaction.
		data = make([]byte, len(v))
		copy(data, v)

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if data == nil {
		return nil, false, nil
	}

	return data, true, nil
}

func (s *BoltStore) Put(key CacheKey, data []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put([]byte(key.Filename()), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

func (s *BoltStore) Delete(key CacheKey) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Delete([]byte(key.Filename()))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// ForEach calls fn for every stored entry. The data slice is only valid for
// the duration of the call.
func (s *BoltStore) ForEach(fn func(name string, data []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Len returns the number of stored entries.
func (s *BoltStore) Len() (int, error) {
	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}
