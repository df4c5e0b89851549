package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const maxTxnRetries = 5

// BadgerStore implements Store on an embedded BadgerDB. Entries carry both a
// Badger TTL and their own expiry so reads never see a stale counter between
// compactions.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// BadgerOption configures a BadgerStore
type BadgerOption func(*BadgerStore)

// WithBadgerClock sets the time source used for expiry
func WithBadgerClock(now func() time.Time) BadgerOption {
	return func(s *BadgerStore) {
		s.now = now
	}
}

// WithBadgerPrefix namespaces every key
func WithBadgerPrefix(prefix string) BadgerOption {
	return func(s *BadgerStore) {
		s.prefix = []byte(prefix)
	}
}

// OpenBadgerStore opens a Badger database in dir. An empty dir opens an
// in-memory database.
func OpenBadgerStore(dir string, opts ...BadgerOption) (*BadgerStore, error) {
	options := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		options = options.WithInMemory(true)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return NewBadgerStore(db, opts...), nil
}

// NewBadgerStore wraps an open Badger database
func NewBadgerStore(db *badger.DB, opts ...BadgerOption) *BadgerStore {
	s := &BadgerStore{
		db:     db,
		prefix: []byte("kv:"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BadgerStore) makeKey(key string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(key))
	k = append(k, s.prefix...)
	return append(k, key...)
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// readEntry returns the live entry at key, or nil when absent or expired
func (s *BadgerStore) readEntry(txn *badger.Txn, key []byte) (*entry, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	}); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}

	if e.expiredAt(s.now()) {
		return nil, nil
	}
	return &e, nil
}

func (s *BadgerStore) writeEntry(txn *badger.Txn, key []byte, e *entry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return txn.SetEntry(badger.NewEntry(key, data).WithTTL(ttl))
}

// Get retrieves a counter
func (s *BadgerStore) Get(_ context.Context, key string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		e, err := s.readEntry(txn, s.makeKey(key))
		if err != nil || e == nil {
			return err
		}
		count = e.Count
		return nil
	})

	return count, err
}

// Incr increments a counter inside a transaction, retrying on conflicts
func (s *BadgerStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	k := s.makeKey(key)
	var count int64

	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			e, err := s.readEntry(txn, k)
			if err != nil {
				return err
			}
			if e == nil {
				e = &entry{}
			}
			e.Count++
			e.ExpiresAt = s.now().Add(ttl)
			count = e.Count
			return s.writeEntry(txn, k, e, ttl)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return count, err
	}

	return 0, fmt.Errorf("increment %q: %w", key, badger.ErrConflict)
}

// Set stores a marker
func (s *BadgerStore) Set(_ context.Context, key string, ttl time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return s.writeEntry(txn, s.makeKey(key), &entry{Count: 1, ExpiresAt: s.now().Add(ttl)}, ttl)
	})
}

// Exists checks for an unexpired entry
func (s *BadgerStore) Exists(_ context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		e, err := s.readEntry(txn, s.makeKey(key))
		found = e != nil
		return err
	})

	return found, err
}

// Ping reports whether the database is open
func (s *BadgerStore) Ping(_ context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	return nil
}

// RunValueLogGC reclaims space from expired entries
func (s *BadgerStore) RunValueLogGC(discardRatio float64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Close closes the database
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
