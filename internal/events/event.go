// Package events carries lead change notifications from the services to subscribers.
// Delivery is at-most-once and push-only; subscribers that connect late must fetch the full list first.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
)

// Event names
const (
	LeadCreatedEvent = "lead.created"
	LeadUpdatedEvent = "lead.updated"
	LeadDeletedEvent = "lead.deleted"
)

// Event is implemented by every lead event
type Event interface {
	// EventName returns a unique identifier for the event type.
	EventName() string
	// Tenant returns the tenant the event belongs to.
	Tenant() uuid.UUID
	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time
}

// Publisher delivers events. Publish never blocks on slow subscribers and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent creates a base event stamped with the current time
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// LeadCreated carries the full lead after a creation
type LeadCreated struct {
	BaseEvent
	Lead domain.LeadDTO `json:"lead"`
}

func (e LeadCreated) EventName() string { return LeadCreatedEvent }
func (e LeadCreated) Tenant() uuid.UUID { return e.Lead.TenantID }

// LeadUpdated carries the full lead after a status or field change, or a merge
type LeadUpdated struct {
	BaseEvent
	Lead domain.LeadDTO `json:"lead"`
}

func (e LeadUpdated) EventName() string { return LeadUpdatedEvent }
func (e LeadUpdated) Tenant() uuid.UUID { return e.Lead.TenantID }

// LeadDeleted carries only the id of the removed lead
type LeadDeleted struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
}

func (e LeadDeleted) EventName() string { return LeadDeletedEvent }
func (e LeadDeleted) Tenant() uuid.UUID { return e.TenantID }

// NewLeadCreated builds a LeadCreated event
func NewLeadCreated(lead domain.LeadDTO) LeadCreated {
	return LeadCreated{BaseEvent: NewBaseEvent(), Lead: lead}
}

// NewLeadUpdated builds a LeadUpdated event
func NewLeadUpdated(lead domain.LeadDTO) LeadUpdated {
	return LeadUpdated{BaseEvent: NewBaseEvent(), Lead: lead}
}

// NewLeadDeleted builds a LeadDeleted event
func NewLeadDeleted(tenantID, leadID uuid.UUID) LeadDeleted {
	return LeadDeleted{BaseEvent: NewBaseEvent(), LeadID: leadID, TenantID: tenantID}
}

// Envelope is the wire form of an event on AMQP and SSE
type Envelope struct {
	Name       string    `json:"name"`
	TenantID   uuid.UUID `json:"tenantId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    Event     `json:"payload"`
}

// Encode serializes an event into its envelope
func Encode(event Event) ([]byte, error) {
	return json.Marshal(Envelope{
		Name:       event.EventName(),
		TenantID:   event.Tenant(),
		OccurredAt: event.OccurredAt(),
		Payload:    event,
	})
}

// Decode parses an envelope back into its event
func Decode(body []byte) (Event, error) {
	var raw struct {
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	var (
		event Event
		err   error
	)
	switch raw.Name {
	case LeadCreatedEvent:
		var e LeadCreated
		err = json.Unmarshal(raw.Payload, &e)
		event = e
	case LeadUpdatedEvent:
		var e LeadUpdated
		err = json.Unmarshal(raw.Payload, &e)
		event = e
	case LeadDeletedEvent:
		var e LeadDeleted
		err = json.Unmarshal(raw.Payload, &e)
		event = e
	default:
		return nil, fmt.Errorf("unknown event %q", raw.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", raw.Name, err)
	}
	return event, nil
}
