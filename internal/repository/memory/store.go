// Package memory is an in-process document backend.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/projecthub/internal/document"
)

// Store keeps collections in maps guarded by one RWMutex. Documents are
// deep-copied on the way in and out.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]document.Document
	now         func() time.Time
	lastTime    time.Time
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]document.Document),
		now:         time.Now,
	}
}

// tick returns the current time at microsecond precision, strictly after
// the previous tick. Callers hold mu.
func (s *Store) tick() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = t
	return t
}

func (s *Store) Insert(ctx context.Context, collection, id string, fields document.Fields) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]document.Document)
		s.collections[collection] = docs
	}
	if _, exists := docs[id]; exists {
		return document.Document{}, fmt.Errorf("%w: %s/%s", document.ErrAlreadyExists, collection, id)
	}

	now := s.tick()
	doc := document.Document{
		ID:         id,
		Fields:     document.Fields{}.Merge(fields),
		CreateTime: now,
		UpdateTime: now,
	}
	docs[id] = doc
	return doc.Clone(), nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}
	out := doc.Clone()
	return &out, nil
}

func (s *Store) Patch(ctx context.Context, collection, id string, fields document.Fields) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return document.Document{}, fmt.Errorf("%w: %s/%s", document.ErrNoDocument, collection, id)
	}
	doc.Fields = doc.Fields.Merge(fields)
	doc.UpdateTime = s.tick()
	s.collections[collection][id] = doc
	return doc.Clone(), nil
}

func (s *Store) Remove(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections[collection], id)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q document.Query) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneAll(document.Apply(s.snapshot(collection), q)), nil
}

func (s *Store) Count(ctx context.Context, collection string, filters []document.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, doc := range s.collections[collection] {
		if document.MatchesAll(doc, filters) {
			n++
		}
	}
	return n, nil
}

// QueryWithCount reads page and total under one read lock. The total
// ignores limit, offset and cursor.
func (s *Store) QueryWithCount(ctx context.Context, collection string, q document.Query) ([]document.Document, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.snapshot(collection)
	var total int64
	for _, doc := range all {
		if q.Matches(doc) {
			total++
		}
	}
	return cloneAll(document.Apply(all, q)), total, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// snapshot lists the stored documents without copying. Callers hold mu.
func (s *Store) snapshot(collection string) []document.Document {
	docs := s.collections[collection]
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc)
	}
	return out
}

func cloneAll(docs []document.Document) []document.Document {
	out := make([]document.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}
