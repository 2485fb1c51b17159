// Package realtime propagates document changes to live query subscriptions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jwalitptl/projecthub/pkg/logger"
	"github.com/jwalitptl/projecthub/pkg/messaging"
	"github.com/jwalitptl/projecthub/pkg/metrics"
)

// DefaultChannel is the broker channel change events travel on.
const DefaultChannel = "projecthub:changes"

var ErrFeedClosed = errors.New("change feed closed")

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	// ChangeResync tells a subscriber that it missed events and must treat
	// every collection as changed.
	ChangeResync ChangeKind = "resync"
)

// ChangeEvent announces that one document was written.
type ChangeEvent struct {
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
	Kind       ChangeKind `json:"kind"`
	At         time.Time  `json:"at"`
}

// Resync reports whether the event invalidates everything the receiver
// derived from earlier events.
func (e ChangeEvent) Resync() bool {
	return e.Kind == ChangeResync
}

// Feed carries change events from writers to watchers.
type Feed interface {
	Publish(ctx context.Context, event ChangeEvent) error
	// Subscribe returns a channel of events that is closed when ctx ends or
	// the feed is closed.
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
	Close() error
}

// LocalFeed fans events out to subscribers within one process. A subscriber
// whose buffer is full misses the event and later receives a ChangeResync
// event in its place.
type LocalFeed struct {
	mu      sync.RWMutex
	subs    map[int]*localSub
	nextID  int
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

type localSub struct {
	in     chan ChangeEvent
	out    chan ChangeEvent
	wake   chan struct{}
	lagged atomic.Bool
	cancel context.CancelFunc
}

func NewLocalFeed(buffer int, m *metrics.Metrics) *LocalFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalFeed{
		subs:    make(map[int]*localSub),
		buffer:  buffer,
		metrics: m,
	}
}

func (f *LocalFeed) Publish(ctx context.Context, event ChangeEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrFeedClosed
	}
	for _, sub := range f.subs {
		select {
		case sub.in <- event:
		default:
			sub.lagged.Store(true)
			select {
			case sub.wake <- struct{}{}:
			default:
			}
			if f.metrics != nil {
				f.metrics.ChangeEventsDropped.Inc()
			}
		}
	}
	return nil
}

func (f *LocalFeed) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrFeedClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	id := f.nextID
	f.nextID++
	sub := &localSub{
		in:     make(chan ChangeEvent, f.buffer),
		out:    make(chan ChangeEvent),
		wake:   make(chan struct{}, 1),
		cancel: cancel,
	}
	f.subs[id] = sub

	go sub.pump(ctx)
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}()

	return sub.out, nil
}

// pump hands buffered events to the subscriber. After a drop it sends one
// ChangeResync, which always follows the dropped event.
func (s *localSub) pump(ctx context.Context) {
	defer close(s.out)
	for {
		var event ChangeEvent
		select {
		case <-ctx.Done():
			return
		case event = <-s.in:
		case <-s.wake:
			if !s.lagged.Swap(false) {
				continue
			}
			event = ChangeEvent{Kind: ChangeResync, At: time.Now().UTC()}
		}
		select {
		case s.out <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (f *LocalFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		sub.cancel()
	}
	return nil
}

// BrokerFeed carries change events over a message broker so that every
// process sharing the broker sees every write.
type BrokerFeed struct {
	broker  messaging.Broker
	channel string
	logger  *logger.Logger
}

func NewBrokerFeed(broker messaging.Broker, channel string, log *logger.Logger) *BrokerFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &BrokerFeed{broker: broker, channel: channel, logger: log}
}

func (f *BrokerFeed) Publish(ctx context.Context, event ChangeEvent) error {
	return f.broker.Publish(ctx, f.channel, event)
}

func (f *BrokerFeed) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	raw, err := f.broker.Subscribe(ctx, f.channel)
	if err != nil {
		return nil, err
	}

	out := make(chan ChangeEvent, cap(raw))
	go func() {
		defer close(out)
		for payload := range raw {
			var event ChangeEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				f.logger.Error(err, "discarding malformed change event", "channel", f.channel)
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *BrokerFeed) Close() error {
	return f.broker.Close()
}
