package redis

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/coachlab/extension-tracker/internal/infrastructure/cache"
)

var _ cache.TypedStore = (*Store)(nil)

// Store adapts Cache to cache.Store. Keys are namespaced with a prefix,
// values are stored as JSON and expiry is handled by Redis itself.
// Redis failures are logged and reported as misses so callers fall back to the sources.
type Store struct {
	cache      *Cache
	prefix     string
	defaultTTL time.Duration
	opTimeout  time.Duration
	logger     *slog.Logger
}

// StoreConfig configures a Store.
type StoreConfig struct {
	KeyPrefix  string
	DefaultTTL time.Duration
	OpTimeout  time.Duration
	Logger     *slog.Logger
}

// NewStore wraps c as a cache.Store.
func NewStore(c *Cache, cfg StoreConfig) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = cache.DefaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		cache:      c,
		prefix:     cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
		opTimeout:  cfg.OpTimeout,
		logger:     cfg.Logger.With("component", "redis_store"),
	}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// Get decodes the value as a generic JSON object.
// Prefer cache.GetTyped, which decodes through GetInto.
func (s *Store) Get(key string) (any, bool) {
	var raw map[string]any
	if !s.GetInto(key, &raw) {
		return nil, false
	}
	return raw, true
}

// GetInto decodes the value stored under key into dst.
func (s *Store) GetInto(key string, dst any) bool {
	ctx, cancel := s.ctx()
	defer cancel()

	err := s.cache.Get(ctx, s.key(key), dst)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("redis get failed", "cache_key", key, "error", err)
	}
	return false
}

// Set stores value with the default TTL.
func (s *Store) Set(key string, value any) {
	s.SetWithTTL(key, value, s.defaultTTL)
}

// SetWithTTL stores value with ttl.
func (s *Store) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.cache.Set(ctx, s.key(key), value, ttl); err != nil {
		s.logger.Warn("redis set failed", "cache_key", key, "error", err)
	}
}

// Delete removes key.
func (s *Store) Delete(key string) {
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.cache.Delete(ctx, s.key(key)); err != nil {
		s.logger.Warn("redis delete failed", "cache_key", key, "error", err)
	}
}

// Clear removes every key under the service prefix.
func (s *Store) Clear() {
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.cache.DeleteByPattern(ctx, s.prefix+"*"); err != nil {
		s.logger.Warn("redis clear failed", "error", err)
	}
}

// Stats lists the keys under the service prefix, without the prefix.
func (s *Store) Stats() cache.Stats {
	ctx, cancel := s.ctx()
	defer cancel()

	keys, err := s.cache.Keys(ctx, s.prefix+"*")
	if err != nil {
		s.logger.Warn("redis stats failed", "error", err)
		return cache.Stats{Keys: []string{}}
	}

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	sort.Strings(out)
	return cache.Stats{Size: len(out), Keys: out}
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}
