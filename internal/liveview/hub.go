package liveview

import (
	"context"
	"sync"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultMaxPending is how many undelivered events a subscription may hold
// before it is dropped as too slow.
const DefaultMaxPending = 10000

var (
	ErrHubClosed    = errors.New("live view hub is closed")
	ErrSlowConsumer = errors.New("subscription dropped: consumer too slow")
)

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	UserID   string
	EntityID string
}

func (f Filter) Match(ev domain.ChangeEvent) bool {
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.EntityID != "" && ev.EntityID != f.EntityID {
		return false
	}
	return true
}

// Hub fans change events out to subscribers keyed by collection and filter.
// Publish never blocks: each subscription owns a queue drained by its own goroutine,
// so events for one entity reach a subscriber in the order they were published.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	closed     bool
	maxPending int
}

func NewHub() *Hub {
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		maxPending: DefaultMaxPending,
	}
}

// Publish delivers ev to every matching subscription
func (h *Hub) Publish(ev domain.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if s.collection == ev.Collection && s.filter.Match(ev) {
			s.enqueue(ev)
		}
	}
}

// Subscribe opens a stream of changes. The subscription ends when Close is called
// or ctx is done, whichever comes first.
func (h *Hub) Subscribe(ctx context.Context, collection domain.Collection, filter Filter) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	s := &Subscription{
		hub:        h,
		id:         h.nextID,
		collection: collection,
		filter:     filter,
		maxPending: h.maxPending,
		signal:     make(chan struct{}, 1),
		events:     make(chan domain.ChangeEvent),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	h.subs[s.id] = s
	go s.pump()
	s.stopAfter = context.AfterFunc(ctx, s.Close)

	log.WithFields(log.Fields{
		"collection": collection,
		"user_id":    filter.UserID,
		"entity_id":  filter.EntityID,
	}).Debug("live view subscription opened")

	return s, nil
}

// Subscribers reports the number of open subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

type Subscription struct {
	hub        *Hub
	id         uint64
	collection domain.Collection
	filter     Filter
	maxPending int

	mu      sync.Mutex
	pending []domain.ChangeEvent
	err     error

	signal    chan struct{}
	events    chan domain.ChangeEvent
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	stopAfter func() bool
}

// Events is closed once the subscription ends
func (s *Subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Err explains why the subscription ended, if it was not closed by its owner
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops delivery. Once it returns no further event can be received.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.remove(s.id)
		if s.stopAfter != nil {
			s.stopAfter()
		}
	})
	<-s.exited
}

func (s *Subscription) enqueue(ev domain.ChangeEvent) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	if len(s.pending) >= s.maxPending {
		s.err = ErrSlowConsumer
		s.mu.Unlock()
		// Close takes the hub lock, which the publisher is holding
		go s.Close()
		return
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.exited)
	defer close(s.events)

	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.signal:
		case <-s.done:
			return
		}
	}
}
