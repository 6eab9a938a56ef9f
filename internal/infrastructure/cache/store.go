// Package cache provides the key/value store that fronts the slow spreadsheet sources.
// The store knows nothing about students; it only keeps values until their TTL passes.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

// DefaultTTL absorbs bursts of UI requests while leaving the scheduled and
// manual refreshes as the main freshness mechanism.
const DefaultTTL = 30 * time.Minute

// Stats describes the store contents.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// Store is a key/value store with per-entry expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value and true if the key exists and has not expired.
	Get(key string) (any, bool)

	// Set stores value under key with the default TTL, replacing any previous value.
	Set(key string, value any)

	// SetWithTTL stores value under key with an explicit TTL.
	SetWithTTL(key string, value any, ttl time.Duration)

	// Delete removes key.
	Delete(key string)

	// Clear removes every entry.
	Clear()

	// Stats reports the current entries.
	Stats() Stats
}

// TypedStore is implemented by stores that serialize values and therefore
// need a destination to decode into.
type TypedStore interface {
	Store
	GetInto(key string, dst any) bool
}

// GetTyped reads key as T. Stores that hold live values are type-asserted;
// serializing stores decode through GetInto.
func GetTyped[T any](s Store, key string) (T, bool) {
	var zero T

	if ts, ok := s.(TypedStore); ok {
		var dst T
		if !ts.GetInto(key, &dst) {
			return zero, false
		}
		return dst, true
	}

	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-PROCESS STORE
// ══════════════════════════════════════════════════════════════════════════════

// Entry is a stored value with its expiry.
type Entry struct {
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// MemoryStore is an in-process Store guarded by a single mutex.
// Expired entries are removed lazily on Get; there is no background sweeper.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]Entry
	defaultTTL time.Duration
	now        timeutil.Clock
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithClock sets the clock used for expiry.
func WithClock(clock timeutil.Clock) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]Entry),
		defaultTTL: DefaultTTL,
		now:        timeutil.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTTL returns the TTL applied by Set.
func (s *MemoryStore) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Get returns the value for key. An expired entry is removed and reported missing.
func (s *MemoryStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e.Value, true
}

// Set stores value with the default TTL.
func (s *MemoryStore) Set(key string, value any) {
	s.SetWithTTL(key, value, s.defaultTTL)
}

// SetWithTTL stores value with ttl. A non-positive ttl falls back to the default.
func (s *MemoryStore) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[key] = Entry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear removes every entry.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
}

// Stats reports stored keys in sorted order. Expired entries that have not
// been read since expiring are still counted.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Stats{Size: len(keys), Keys: keys}
}
