// Package state keeps the small amount of process-wide durable state the host
// needs across runs, in a bbolt database.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketGlobal = "global"

// KeyServerTag holds the tag of the server release that was last installed
// successfully.
const KeyServerTag = "server_tag"

// ErrNoValue is returned by Get when the key has never been set.
var ErrNoValue = errors.New("no such value")

// Store is a string key/value store.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketGlobal))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the value stored under key, or ErrNoValue.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketGlobal)).Get([]byte(key))
		if v == nil {
			return ErrNoValue
		}
		value = string(v)
		return nil
	})
	return value, err
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGlobal)).Put([]byte(key), []byte(value))
	})
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}
