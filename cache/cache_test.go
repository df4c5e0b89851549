package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storeContract exercises the behavior every Store must share
func storeContract(t *testing.T, store Store, clock *fakeClock) {
	ctx := context.Background()

	t.Run("missing counter reads zero", func(t *testing.T) {
		count, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("incr counts up", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			count, err := store.Incr(ctx, "counter", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, i, count)
		}

		count, err := store.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("incr refreshes ttl", func(t *testing.T) {
		_, err := store.Incr(ctx, "refresh", time.Hour)
		require.NoError(t, err)

		clock.Advance(50 * time.Minute)
		_, err = store.Incr(ctx, "refresh", time.Hour)
		require.NoError(t, err)

		clock.Advance(50 * time.Minute)
		count, err := store.Get(ctx, "refresh")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("counter expires", func(t *testing.T) {
		_, err := store.Incr(ctx, "expiring", time.Hour)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		count, err := store.Get(ctx, "expiring")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		count, err = store.Incr(ctx, "expiring", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "expired counter restarts")
	})

	t.Run("markers", func(t *testing.T) {
		found, err := store.Exists(ctx, "marker")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, store.Set(ctx, "marker", time.Minute))
		found, err = store.Exists(ctx, "marker")
		require.NoError(t, err)
		assert.True(t, found)

		clock.Advance(2 * time.Minute)
		found, err = store.Exists(ctx, "marker")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestInMemoryCache(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemoryCache(0, WithMemoryClock(clock.Now))
	defer store.Close()

	storeContract(t, store, clock)
}

func TestInMemoryCache_Cleanup(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemoryCache(0, WithMemoryClock(clock.Now))
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "short", time.Minute))
	require.NoError(t, store.Set(ctx, "long", time.Hour))

	clock.Advance(10 * time.Minute)
	store.cleanup()

	assert.Equal(t, 1, store.Len())
}

func TestInMemoryCache_Closed(t *testing.T) {
	store := NewInMemoryCache(time.Minute)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err := store.Incr(ctx, "k", time.Hour)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
}

func TestInMemoryCache_ConcurrentIncr(t *testing.T) {
	store := NewInMemoryCache(0)
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Incr(ctx, "shared", time.Hour)
		}()
	}
	wg.Wait()

	count, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(50), count)
}

func TestBadgerStore(t *testing.T) {
	clock := newFakeClock()
	store, err := OpenBadgerStore("", WithBadgerClock(clock.Now))
	require.NoError(t, err)
	defer store.Close()

	storeContract(t, store, clock)
}

func TestBadgerStore_ConcurrentIncr(t *testing.T) {
	store, err := OpenBadgerStore("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Incr(ctx, "shared", time.Hour)
		}()
	}
	wg.Wait()

	count, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	assert.LessOrEqual(t, count, int64(4))
	assert.GreaterOrEqual(t, count, int64(1))
}

func TestBadgerStore_Closed(t *testing.T) {
	store, err := OpenBadgerStore("")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Incr(context.Background(), "k", time.Hour)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}

func TestBadgerStore_PrefixIsolatesKeys(t *testing.T) {
	first, err := OpenBadgerStore("", WithBadgerPrefix("a:"))
	require.NoError(t, err)
	defer first.Close()
	second := NewBadgerStore(first.db, WithBadgerPrefix("b:"))

	ctx := context.Background()
	_, err = first.Incr(ctx, "feed-failure:x", time.Hour)
	require.NoError(t, err)

	count, err := second.Get(ctx, "feed-failure:x")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = first.Get(ctx, "feed-failure:x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDatastoreStore(t *testing.T) {
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}

	client, err := datastore.NewClient(context.Background(), "rss-feed-poller-test")
	require.NoError(t, err)

	clock := newFakeClock()
	store := NewDatastoreStore(client, "", "test-"+time.Now().Format("20060102150405.000000000"))
	store.now = clock.Now
	defer store.Close()

	storeContract(t, store, clock)
}

// failingStore returns errors from every operation
type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) (int64, error) { return 0, f.err }
func (f failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, f.err
}
func (f failingStore) Set(context.Context, string, time.Duration) error { return f.err }
func (f failingStore) Exists(context.Context, string) (bool, error)     { return false, f.err }
func (f failingStore) Ping(context.Context) error                       { return f.err }
func (f failingStore) Close() error                                     { return f.err }

func TestManager_LogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	boom := errors.New("boom")
	m := NewManager(failingStore{err: boom}, "failing", logger)

	_, err := m.Incr(context.Background(), "feed-failure:x", time.Hour)
	assert.ErrorIs(t, err, boom)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "incr", hook.LastEntry().Data["operation"])
	assert.Equal(t, "failing", m.Backend())
}

func TestManager_DelegatesToStore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewManager(NewInMemoryCache(0), "memory", logger)
	defer m.Close()

	ctx := context.Background()
	count, err := m.Incr(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, m.Set(ctx, "marker", time.Hour))
	found, err := m.Exists(ctx, "marker")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, m.Ping(ctx))
}
