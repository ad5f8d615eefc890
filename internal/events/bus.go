package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/metrics"
	"go.uber.org/zap"
)

// DefaultSubscriberBuffer is used when Subscribe is called with a non-positive buffer
const DefaultSubscriberBuffer = 64

// Subscription receives the events of one subscriber on C until Close is called
type Subscription struct {
	C <-chan Event

	id     uint64
	tenant uuid.UUID
	ch     chan Event
	bus    *InMemoryBus
	once   sync.Once
}

// Close unsubscribes and closes C
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// InMemoryBus fans events out to in-process subscribers.
// A subscriber whose buffer is full misses the event.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewInMemoryBus creates a new in-memory event bus
func NewInMemoryBus(logger *zap.Logger, m *metrics.Metrics) *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[uint64]*Subscription),
		logger:      logger,
		metrics:     m,
	}
}

// Subscribe registers a subscriber. A nil tenant receives the events of every tenant.
func (b *InMemoryBus) Subscribe(tenantID uuid.UUID, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan Event, buffer)
	sub := &Subscription{
		C:      ch,
		id:     b.nextID,
		tenant: tenantID,
		ch:     ch,
		bus:    b,
	}
	b.subscribers[sub.id] = sub
	return sub
}

// Publish delivers the event to every matching subscriber without blocking
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	name := event.EventName()
	tenant := event.Tenant()
	for _, sub := range b.subscribers {
		if sub.tenant != uuid.Nil && sub.tenant != tenant {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.metrics.IncEventDropped(name)
			b.logger.Warn("event dropped, subscriber buffer full",
				zap.String("event", name),
				zap.Uint64("subscriber", sub.id),
			)
		}
	}
	b.metrics.IncEventPublished(name)
}

// SubscriberCount returns the number of active subscriptions
func (b *InMemoryBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscription
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

func (b *InMemoryBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
