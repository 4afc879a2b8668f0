// Package store provides the transactional key-value store backing the
// allocation engine. Records are JSON-encoded under flat string keys; every
// engine operation runs inside exactly one Badger transaction, so a failing
// precondition leaves no partial state behind.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Store wraps a Badger database.
type Store struct {
	logger *zap.Logger
	db     *badger.DB
}

// Options configures Open.
type Options struct {
	Path     string
	InMemory bool
}

// Open opens (or creates) the store.
func Open(logger *zap.Logger, opts Options) (*Store, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("store: path is required")
	}

	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if opts.InMemory {
		bopts.Dir = ""
		bopts.ValueDir = ""
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	return &Store{
		logger: logger.Named("store"),
		db:     db,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(*Txn) error) error {
	return s.db.View(func(btxn *badger.Txn) error {
		return fn(&Txn{txn: btxn})
	})
}

// Update runs fn in a read-write transaction. The transaction commits only if
// fn returns nil; any error discards every staged write.
func (s *Store) Update(fn func(*Txn) error) error {
	return s.db.Update(func(btxn *badger.Txn) error {
		return fn(&Txn{txn: btxn})
	})
}

// Txn is a typed view over one Badger transaction.
type Txn struct {
	txn *badger.Txn
}

// Get decodes the record at key into out. It returns false with a nil error
// when the key does not exist.
func (t *Txn) Get(key string, out any) (bool, error) {
	item, err := t.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
	if err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// Has reports whether a key exists.
func (t *Txn) Has(key string) (bool, error) {
	_, err := t.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("store: has %s: %w", key, err)
	}
	return true, nil
}

// Put encodes v as JSON and stages it at key.
func (t *Txn) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := t.txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// GetUint64 reads a raw counter value; missing keys read as zero.
func (t *Txn) GetUint64(key string) (uint64, error) {
	item, err := t.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: get %s: %w", key, err)
	}

	var out uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("store: %s: expected 8 bytes, got %d", key, len(val))
		}
		out = binary.BigEndian.Uint64(val)
		return nil
	})
	return out, err
}

// PutUint64 stages a raw counter value at key.
func (t *Txn) PutUint64(key string, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	if err := t.txn.Set([]byte(key), buf); err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// NextID allocates the next identifier for one counter family. The increment
// is staged in the same transaction as the write that consumes the id, so ids
// are never burned by failed operations and never collide across commits.
func (t *Txn) NextID(family string) (uint64, error) {
	key := CounterKey(family)
	cur, err := t.GetUint64(key)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	if err := t.PutUint64(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// IteratePrefix visits every record whose key starts with prefix.
func (t *Txn) IteratePrefix(prefix string, fn func(key string, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
