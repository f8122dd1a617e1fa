package kvstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("kvstore: key not found")

// Op is one write inside an atomic batch.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// UpdateFunc receives the current value (nil when absent) and returns the new
// value plus any extra writes that must commit with it. Returning an error
// aborts the update without writing.
type UpdateFunc func(current []byte) (next []byte, extra []Op, err error)

// Store is the persistence surface used by the registry and the ledger.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Apply(ops []Op) error
	Update(key string, fn UpdateFunc) error
	Scan(prefix string, fn func(key string, value []byte) bool) error
	Close() error
}

// DB is a Store backed by a pebble database. Writes are synced.
type DB struct {
	DB       *pebble.DB
	DataFile string

	// mu serializes Update so that read-modify-write is a compare-and-set.
	mu sync.Mutex
}

// Open opens (or creates) a pebble database at dataFile.
func Open(dataFile string) (*DB, error) {
	db, err := pebble.Open(dataFile, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dataFile, err)
	}
	return &DB{DB: db, DataFile: dataFile}, nil
}

// OpenMem opens a pebble database on an in-memory filesystem.
func OpenMem() (*DB, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &DB{DB: db, DataFile: ":memory:"}, nil
}

// Get returns a copy of the value stored under key.
func (s *DB) Get(key string) ([]byte, error) {
	value, closer, err := s.DB.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores value under key.
func (s *DB) Set(key string, value []byte) error {
	return s.DB.Set([]byte(key), value, pebble.Sync)
}

// Delete removes the key from the DB.
func (s *DB) Delete(key string) error {
	return s.DB.Delete([]byte(key), pebble.Sync)
}

// Apply commits all ops atomically.
func (s *DB) Apply(ops []Op) error {
	b := s.DB.NewBatch()
	defer b.Close()
	for _, op := range ops {
		var err error
		if op.Delete {
			err = b.Delete([]byte(op.Key), nil)
		} else {
			err = b.Set([]byte(op.Key), op.Value, nil)
		}
		if err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// Update runs fn against the current value of key and commits its result
// atomically. Concurrent Updates on the same store are serialized.
func (s *DB) Update(key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	next, extra, err := fn(current)
	if err != nil {
		return err
	}
	ops := make([]Op, 0, len(extra)+1)
	if next != nil {
		ops = append(ops, Op{Key: key, Value: next})
	}
	ops = append(ops, extra...)
	if len(ops) == 0 {
		return nil
	}
	return s.Apply(ops)
}

// Scan calls fn for every key with the given prefix in key order until fn
// returns false. Values passed to fn are only valid during the call.
func (s *DB) Scan(prefix string, fn func(key string, value []byte) bool) error {
	iter, err := s.DB.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(string(iter.Key()), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// CheckHealth writes and reads back a probe key.
func (s *DB) CheckHealth() error {
	const probe = "health/probe"
	if err := s.DB.Set([]byte(probe), []byte("ok"), pebble.NoSync); err != nil {
		return fmt.Errorf("store %s not writable: %w", s.DataFile, err)
	}
	if _, err := s.Get(probe); err != nil {
		return fmt.Errorf("store %s not readable: %w", s.DataFile, err)
	}
	return nil
}

// Close closes the underlying DB.
func (s *DB) Close() error {
	return s.DB.Close()
}

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
