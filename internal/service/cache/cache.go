// Package cache keeps recently read entities for the domain services.
package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/projecthub/internal/realtime"
	"github.com/jwalitptl/projecthub/pkg/logger"
	"github.com/jwalitptl/projecthub/pkg/metrics"
)

type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		TTL:             30 * time.Second,
		CleanupInterval: time.Minute,
	}
}

// Store caches the reads of one collection. Any write to the collection,
// local or observed on the change feed, flushes it.
//
// Every flush starts a new generation. A reader takes the generation before
// going to the repository and stores its result with SetIfCurrent, which
// refuses results read before the latest flush.
type Store struct {
	name    string
	items   *gocache.Cache
	metrics *metrics.Metrics

	mu  sync.Mutex
	gen uint64
}

func New(name string, cfg Config, m *metrics.Metrics) *Store {
	if cfg.TTL <= 0 {
		cfg = DefaultConfig()
	}
	return &Store{
		name:    name,
		items:   gocache.New(cfg.TTL, cfg.CleanupInterval),
		metrics: m,
	}
}

// Get returns the cached value under key when it holds a T.
func Get[T any](s *Store, key string) (T, bool) {
	var zero T
	raw, found := s.items.Get(key)
	if !found {
		s.metrics.CacheResult(s.name, false)
		return zero, false
	}
	v, ok := raw.(T)
	s.metrics.CacheResult(s.name, ok)
	return v, ok
}

func (s *Store) Set(key string, value interface{}) {
	s.items.Set(key, value, gocache.DefaultExpiration)
}

// Generation returns the current flush generation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// SetIfCurrent stores value only when no flush happened since gen was taken.
func (s *Store) SetIfCurrent(gen uint64, key string, value interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.items.Set(key, value, gocache.DefaultExpiration)
	return true
}

func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.items.Flush()
}

func (s *Store) Len() int {
	return s.items.ItemCount()
}

// Follow flushes the cache whenever feed reports a change to collection or
// asks for a resync.
// It returns once the feed subscription is in place and keeps following
// until ctx ends.
func (s *Store) Follow(ctx context.Context, feed realtime.Feed, collection string, log *logger.Logger) error {
	events, err := feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	if log == nil {
		log = logger.Nop()
	}
	go func() {
		for event := range events {
			if event.Resync() || event.Collection == collection {
				s.Flush()
			}
		}
		log.Debug("cache stopped following change feed", "cache", s.name)
	}()
	return nil
}
