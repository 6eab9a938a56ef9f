package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 9, 15, 2, 0, 0, 0, time.UTC)}
	return NewMemoryStore(WithClock(clock.Now)), clock
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store, _ := newTestStore()

	store.Set("sheets_form_updates", map[string]string{"S1": "2024/09/01"})

	v, ok := store.Get("sheets_form_updates")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"S1": "2024/09/01"}, v)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store, clock := newTestStore()

	store.Set("k", 1)
	clock.Advance(DefaultTTL - time.Second)
	_, ok := store.Get("k")
	assert.True(t, ok, "entry must survive until its TTL")

	clock.Advance(time.Second)
	_, ok = store.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Stats().Size)
	assert.Empty(t, store.Stats().Keys)
}

func TestMemoryStore_ExpiredEntryCountedUntilRead(t *testing.T) {
	store, clock := newTestStore()

	store.SetWithTTL("short", "v", time.Minute)
	store.Set("long", "v")
	clock.Advance(2 * time.Minute)

	// no sweeper: the stale entry is still stored
	assert.Equal(t, 2, store.Stats().Size)

	_, ok := store.Get("short")
	assert.False(t, ok)
	assert.Equal(t, Stats{Size: 1, Keys: []string{"long"}}, store.Stats())
}

func TestMemoryStore_SetOverwrites(t *testing.T) {
	store, clock := newTestStore()

	store.SetWithTTL("k", "old", time.Minute)
	clock.Advance(30 * time.Second)
	store.Set("k", "new")
	clock.Advance(time.Minute)

	v, ok := store.Get("k")
	require.True(t, ok, "overwrite must reset the expiry")
	assert.Equal(t, "new", v)
}

func TestMemoryStore_DeleteAndClear(t *testing.T) {
	store, _ := newTestStore()

	store.Set("a", 1)
	store.Set("b", 2)
	store.Set("c", 3)

	store.Delete("b")
	_, ok := store.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "c"}, store.Stats().Keys)

	store.Clear()
	for _, k := range []string{"a", "b", "c"} {
		_, ok := store.Get(k)
		assert.False(t, ok, k)
	}
	assert.Equal(t, 0, store.Stats().Size)
}

func TestMemoryStore_CustomDefaultTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore(WithClock(clock.Now), WithDefaultTTL(time.Minute))
	assert.Equal(t, time.Minute, store.DefaultTTL())

	store.Set("k", true)
	clock.Advance(time.Minute)
	_, ok := store.Get("k")
	assert.False(t, ok)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store, clock := newTestStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%10)
				store.Set(key, n)
				store.Get(key)
				if j%50 == 0 {
					store.Delete(key)
					clock.Advance(time.Millisecond)
				}
				if n == 0 && j == 100 {
					store.Clear()
				}
				store.Stats()
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Stats().Size, 10)
}

func TestGetTyped(t *testing.T) {
	store, _ := newTestStore()
	store.Set("forms", map[string]string{"S1": "x"})

	forms, ok := GetTyped[map[string]string](store, "forms")
	require.True(t, ok)
	assert.Equal(t, "x", forms["S1"])

	_, ok = GetTyped[int](store, "forms")
	assert.False(t, ok, "wrong type is a miss")

	_, ok = GetTyped[map[string]string](store, "missing")
	assert.False(t, ok)
}
