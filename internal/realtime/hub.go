package realtime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/pkg/logger"
	"github.com/jwalitptl/projecthub/pkg/metrics"
)

// Source answers the queries behind a subscription.
type Source interface {
	Get(ctx context.Context, collection, id string) (*document.Document, error)
	Query(ctx context.Context, collection string, q document.Query) ([]document.Document, error)
}

// Target describes what a subscription watches: a single document when
// DocumentID is set, otherwise the result of Query over Collection.
type Target struct {
	Collection string
	DocumentID string
	Query      document.Query
}

func (t Target) interested(event ChangeEvent) bool {
	if event.Resync() {
		return true
	}
	if event.Collection != t.Collection {
		return false
	}
	return t.DocumentID == "" || event.ID == t.DocumentID
}

// Hub runs live subscriptions. Every subscription re-queries its source when
// a change event concerns it and delivers the new snapshot if it differs
// from the last one delivered.
type Hub struct {
	source  Source
	feed    Feed
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	started bool
	stop    context.CancelFunc
}

func NewHub(source Source, feed Feed, log *logger.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		source:  source,
		feed:    feed,
		logger:  log,
		metrics: m,
		subs:    make(map[uint64]*Subscription),
	}
}

// Start begins consuming the change feed. It is safe to call more than once.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	events, err := h.feed.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	h.started = true
	h.stop = cancel

	go h.dispatch(events)
	return nil
}

func (h *Hub) dispatch(events <-chan ChangeEvent) {
	for event := range events {
		if h.metrics != nil {
			h.metrics.ChangeEvents.WithLabelValues(event.Collection, string(event.Kind)).Inc()
		}
		h.mu.Lock()
		for _, s := range h.subs {
			if s.target.interested(event) {
				s.markDirty()
			}
		}
		h.mu.Unlock()
	}
	h.logger.Debug("change feed closed")
}

// Watch registers a subscription and starts delivering snapshots to
// onSnapshot. The first snapshot is delivered even when empty. When onError
// is nil, errors are logged. The subscription ends when ctx is cancelled or
// Unsubscribe is called.
func (h *Hub) Watch(ctx context.Context, target Target, onSnapshot func([]document.Document), onError func(error)) (*Subscription, error) {
	if target.Collection == "" {
		return nil, fmt.Errorf("%w: empty collection", document.ErrInvalidArgument)
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("%w: nil snapshot callback", document.ErrInvalidArgument)
	}
	if target.DocumentID == "" {
		if err := target.Query.Validate(); err != nil {
			return nil, err
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		hub:        h,
		target:     target,
		onSnapshot: onSnapshot,
		onError:    onError,
		ctx:        sctx,
		cancel:     cancel,
		dirty:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveSubscriptions.Inc()
	}

	go s.run()
	return s, nil
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok && h.metrics != nil {
		h.metrics.ActiveSubscriptions.Dec()
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription and stops consuming the feed.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	if h.stop != nil {
		h.stop()
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Subscription is one live query. Callbacks run on the subscription's own
// goroutine, one at a time.
type Subscription struct {
	id         uint64
	hub        *Hub
	target     Target
	onSnapshot func([]document.Document)
	onError    func(error)

	ctx    context.Context
	cancel context.CancelFunc
	dirty  chan struct{}
	done   chan struct{}
	once   sync.Once

	// delivering is set while a callback may be running, so Unsubscribe
	// called from inside a callback does not wait on itself.
	delivering atomic.Bool

	fingerprint uint64
	delivered   bool
}

// Unsubscribe stops the subscription. It is idempotent, and once it returns
// no further callback starts. When no callback is running it also waits for
// the subscription goroutine to exit. While a callback is running it returns
// at once, since the caller may be that callback; wait on Done to know the
// running callback has finished.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	if !s.delivering.Load() {
		<-s.done
	}
}

// Done is closed when the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	defer s.hub.remove(s.id)

	s.refresh()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.dirty:
			s.refresh()
		}
	}
}

func (s *Subscription) refresh() {
	docs, err := s.load()
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.observe("error")
		s.fail(err)
		return
	}

	fp := fingerprint(docs)
	if s.delivered && fp == s.fingerprint {
		s.observe("unchanged")
		return
	}
	s.observe("delivered")
	s.fingerprint = fp
	s.delivered = true
	s.deliver(func() { s.onSnapshot(docs) })
}

func (s *Subscription) load() ([]document.Document, error) {
	if s.target.DocumentID != "" {
		doc, err := s.hub.source.Get(s.ctx, s.target.Collection, s.target.DocumentID)
		if err != nil || doc == nil {
			return nil, err
		}
		return []document.Document{*doc}, nil
	}
	return s.hub.source.Query(s.ctx, s.target.Collection, s.target.Query)
}

func (s *Subscription) fail(err error) {
	if s.onError == nil {
		if !errors.Is(err, context.Canceled) {
			s.hub.logger.Error(err, "subscription refresh failed",
				"collection", s.target.Collection, "document_id", s.target.DocumentID)
		}
		return
	}
	s.deliver(func() { s.onError(err) })
}

func (s *Subscription) deliver(callback func()) {
	s.delivering.Store(true)
	defer s.delivering.Store(false)
	if s.ctx.Err() != nil {
		return
	}
	callback()
}

func (s *Subscription) observe(status string) {
	if s.hub.metrics != nil {
		s.hub.metrics.SubscriptionRefreshes.WithLabelValues(status).Inc()
	}
}

// fingerprint hashes ids, update times and contents of a snapshot.
func fingerprint(docs []document.Document) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, d := range docs {
		h.Write([]byte(d.ID))
		binary.BigEndian.PutUint64(buf[:], uint64(d.UpdateTime.UnixMicro()))
		h.Write(buf[:])
		if data, err := document.EncodeFields(d.Fields); err == nil {
			h.Write(data)
		}
		h.Write([]byte{0})
	}
	binary.BigEndian.PutUint64(buf[:], uint64(len(docs)))
	h.Write(buf[:])
	return h.Sum64()
}
