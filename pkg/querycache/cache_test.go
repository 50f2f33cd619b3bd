package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache() (*Cache, *MemoryStore, *clock) {
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	return New(store, WithClock(clk.Now)), store, clk
}

func TestKey(t *testing.T) {
	assert.Equal(t, "daily-stats:c1:2026-03-01", Key(FamilyDailyStats, "c1", "2026-03-01"))
	assert.Equal(t, "votes", Key(FamilyVotes))
}

func TestFetchServesFreshEntries(t *testing.T) {
	c, _, clk := newTestCache()
	ctx := context.Background()
	var calls int
	fn := func(context.Context) (int, error) {
		calls++
		return calls * 10, nil
	}

	v, err := Fetch(ctx, c, "k", 30*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	clk.Advance(29 * time.Second)
	v, err = Fetch(ctx, c, "k", 30*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, calls)

	clk.Advance(time.Second)
	v, err = Fetch(ctx, c, "k", 30*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
	assert.Equal(t, 2, calls)
}

func TestFetchDoesNotCacheErrors(t *testing.T) {
	c, store, _ := newTestCache()
	boom := errors.New("boom")

	_, err := Fetch(context.Background(), c, "k", time.Minute, func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
}

func TestFetchDeduplicatesConcurrentCalls(t *testing.T) {
	c, _, _ := newTestCache()
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Fetch(context.Background(), c, "shared", time.Minute, func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 7, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestInvalidateFamilies(t *testing.T) {
	c, store, _ := newTestCache()
	ctx := context.Background()
	for _, k := range []string{
		Key(FamilyCashSession, "b1"),
		Key(FamilyCashSession, "b2"),
		Key(FamilyDailyStats, "c1", "2026-03-01"),
		Key(FamilyVotes),
		"cash-sessions-other",
	} {
		_, err := Fetch(ctx, c, k, time.Minute, func(context.Context) (int, error) { return 1, nil })
		require.NoError(t, err)
	}
	require.Equal(t, 5, store.Len())

	require.NoError(t, c.Invalidate(ctx, FamilyCashSession, FamilyVotes))
	assert.Equal(t, 2, store.Len())

	_, ok, _ := store.Get(ctx, "cash-sessions-other")
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, Key(FamilyDailyStats, "c1", "2026-03-01"))
	assert.True(t, ok)
}

func TestQuerySnapshot(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()
	fail := true
	q := NewQuery(c, "limits:c1", 5*time.Minute, []string{}, func(context.Context) ([]string, error) {
		if fail {
			return nil, errors.New("offline")
		}
		return []string{"a"}, nil
	})

	assert.Equal(t, []string{}, q.Snapshot().Data)
	assert.False(t, q.Snapshot().IsLoading)

	snap := q.Fetch(ctx)
	assert.EqualError(t, snap.Err, "offline")
	assert.Equal(t, []string{}, snap.Data)

	fail = false
	snap = q.Refetch(ctx)
	require.NoError(t, snap.Err)
	assert.Equal(t, []string{"a"}, snap.Data)
	assert.Equal(t, snap, q.Snapshot())
}

func TestRefetchBypassesFreshEntry(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()
	n := 0
	q := NewQuery(c, "votes", time.Minute, 0, func(context.Context) (int, error) {
		n++
		return n, nil
	})

	assert.Equal(t, 1, q.Fetch(ctx).Data)
	assert.Equal(t, 1, q.Fetch(ctx).Data)
	assert.Equal(t, 2, q.Refetch(ctx).Data)
}

func TestUnreachableRedisDegradesToDirectFetch(t *testing.T) {
	store, err := NewRedisStore("redis://127.0.0.1:1/0", time.Minute)
	require.NoError(t, err)
	defer store.Close()

	c := New(store)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls := 0
	for i := 0; i < 2; i++ {
		v, err := Fetch(ctx, c, "k", time.Minute, func(context.Context) (string, error) {
			calls++
			return "direct", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "direct", v)
	}
	assert.Equal(t, 2, calls)

	assert.Error(t, c.Invalidate(ctx, FamilyVotes))
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore("http://nope", time.Minute)
	assert.Error(t, err)
}
