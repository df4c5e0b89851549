package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
)

// DefaultDatastoreKind is the entity kind holding counters and markers
const DefaultDatastoreKind = "PollerCounter"

type counterEntity struct {
	Count     int64     `datastore:"count,noindex"`
	ExpiresAt time.Time `datastore:"expires_at"`
}

// DatastoreStore implements Store on Google Cloud Datastore. Datastore has no
// native TTL, so expired entities are treated as absent and overwritten.
type DatastoreStore struct {
	client    *datastore.Client
	kind      string
	namespace string
	now       func() time.Time
}

// NewDatastoreStore wraps a Datastore client
func NewDatastoreStore(client *datastore.Client, kind, namespace string) *DatastoreStore {
	if kind == "" {
		kind = DefaultDatastoreKind
	}
	return &DatastoreStore{
		client:    client,
		kind:      kind,
		namespace: namespace,
		now:       time.Now,
	}
}

func (s *DatastoreStore) key(name string) *datastore.Key {
	k := datastore.NameKey(s.kind, name, nil)
	k.Namespace = s.namespace
	return k
}

func (s *DatastoreStore) load(get func(*datastore.Key, interface{}) error, name string) (*counterEntity, error) {
	var e counterEntity
	err := get(s.key(name), &e)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.now().Before(e.ExpiresAt) {
		return nil, nil
	}
	return &e, nil
}

// Get retrieves a counter
func (s *DatastoreStore) Get(ctx context.Context, key string) (int64, error) {
	e, err := s.load(func(k *datastore.Key, dst interface{}) error {
		return s.client.Get(ctx, k, dst)
	}, key)
	if err != nil || e == nil {
		return 0, err
	}
	return e.Count, nil
}

// Incr increments a counter in a transaction
func (s *DatastoreStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var count int64

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		e, err := s.load(tx.Get, key)
		if err != nil {
			return err
		}
		if e == nil {
			e = &counterEntity{}
		}
		e.Count++
		e.ExpiresAt = s.now().Add(ttl)
		count = e.Count

		_, err = tx.Put(s.key(key), e)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("increment %q: %w", key, err)
	}

	return count, nil
}

// Set stores a marker
func (s *DatastoreStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.client.Put(ctx, s.key(key), &counterEntity{Count: 1, ExpiresAt: s.now().Add(ttl)})
	return err
}

// Exists checks for an unexpired entity
func (s *DatastoreStore) Exists(ctx context.Context, key string) (bool, error) {
	e, err := s.load(func(k *datastore.Key, dst interface{}) error {
		return s.client.Get(ctx, k, dst)
	}, key)
	return e != nil, err
}

// Ping runs a keys-only query against the kind
func (s *DatastoreStore) Ping(ctx context.Context) error {
	q := datastore.NewQuery(s.kind).Namespace(s.namespace).KeysOnly().Limit(1)
	_, err := s.client.GetAll(ctx, q, nil)
	return err
}

// PurgeExpired deletes entities whose expiry has passed and returns how many
// were removed
func (s *DatastoreStore) PurgeExpired(ctx context.Context) (int, error) {
	q := datastore.NewQuery(s.kind).
		Namespace(s.namespace).
		FilterField("expires_at", "<", s.now()).
		KeysOnly().
		Limit(500)

	keys, err := s.client.GetAll(ctx, q, nil)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close closes the client
func (s *DatastoreStore) Close() error {
	return s.client.Close()
}
