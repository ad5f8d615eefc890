package events

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
)

// Projection is an idempotent subscriber-side mirror of a tenant's leads, fed from a bus
// subscription or from the broker by AMQPConsumer.
// Creates for known ids and deletes for absent ids are ignored.
type Projection struct {
	mu    sync.RWMutex
	leads map[uuid.UUID]domain.LeadDTO
}

// NewProjection seeds the mirror with an initial full fetch
func NewProjection(initial []domain.LeadDTO) *Projection {
	p := &Projection{leads: make(map[uuid.UUID]domain.LeadDTO, len(initial))}
	for _, lead := range initial {
		p.leads[lead.ID] = lead
	}
	return p
}

// Apply folds one event into the mirror
func (p *Projection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := event.(type) {
	case LeadCreated:
		if _, known := p.leads[e.Lead.ID]; !known {
			p.leads[e.Lead.ID] = e.Lead
		}
	case LeadUpdated:
		p.leads[e.Lead.ID] = e.Lead
	case LeadDeleted:
		delete(p.leads, e.LeadID)
	}
}

// ApplyEncoded decodes an envelope and applies it when it belongs to the tenant
func (p *Projection) ApplyEncoded(body []byte, tenantID uuid.UUID) (bool, error) {
	event, err := Decode(body)
	if err != nil {
		return false, err
	}
	if event.Tenant() != tenantID {
		return false, nil
	}
	p.Apply(event)
	return true, nil
}

// Len returns the number of mirrored leads
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.leads)
}

// Run applies events from the subscription until it is closed or ctx is done
func (p *Projection) Run(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			p.Apply(event)
		}
	}
}

// Drain applies the events already buffered on the subscription and returns
func (p *Projection) Drain(sub *Subscription) int {
	n := 0
	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return n
			}
			p.Apply(event)
			n++
		default:
			return n
		}
	}
}

// Get returns the mirrored lead
func (p *Projection) Get(id uuid.UUID) (domain.LeadDTO, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lead, ok := p.leads[id]
	return lead, ok
}

// Snapshot returns the mirrored leads ordered by id
func (p *Projection) Snapshot() []domain.LeadDTO {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.LeadDTO, 0, len(p.leads))
	for _, lead := range p.leads {
		out = append(out, lead)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
