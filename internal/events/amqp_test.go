package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// stalledChannel blocks every publish until release is closed, like a broker under flow control
type stalledChannel struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	keys   []string
	closed bool
}

func newStalledChannel() *stalledChannel {
	return &stalledChannel{started: make(chan struct{}), release: make(chan struct{})}
}

func (c *stalledChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.once.Do(func() { close(c.started) })
	<-c.release
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return nil
}

func (c *stalledChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestAMQPPublisher_StalledBrokerDoesNotBlockPublish(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ch := newStalledChannel()
	p := newAMQPPublisher(nil, ch, DefaultExchange, 2, zap.New(core))

	tenant := uuid.New()
	event := NewLeadCreated(domain.LeadDTO{ID: uuid.New(), TenantID: tenant})

	p.Publish(context.Background(), event)
	select {
	case <-ch.started:
	case <-time.After(time.Second):
		t.Fatal("publisher goroutine never reached the broker")
	}

	returned := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			p.Publish(context.Background(), NewLeadDeleted(tenant, uuid.New()))
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stalled broker")
	}

	assert.Equal(t, 1, logs.FilterMessage("broker queue full, event dropped").Len())

	close(ch.release)
	require.NoError(t, p.Close())

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, []string{LeadCreatedEvent, LeadDeletedEvent, LeadDeletedEvent}, ch.keys)
	assert.True(t, ch.closed)

	// Publishing after Close is dropped silently
	p.Publish(context.Background(), event)
	assert.NoError(t, p.Close())
}
