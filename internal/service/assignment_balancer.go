package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Slot describes the workload a lead places on an agent: one unit while it is open and assigned
type Slot struct {
	AgentID *uuid.UUID
	Open    bool
}

// SlotOf returns the slot a lead currently occupies
func SlotOf(lead *domain.Lead) Slot {
	return Slot{AgentID: lead.AssignedAgentID, Open: lead.IsOpen()}
}

func (s Slot) held() bool {
	return s.Open && s.AgentID != nil
}

// SlotDeltas returns the counter changes needed to move a lead from one slot to another.
// Moving within the same agent nets to zero and yields no entry.
func SlotDeltas(before, after Slot) map[uuid.UUID]int {
	deltas := make(map[uuid.UUID]int, 2)
	if before.held() {
		deltas[*before.AgentID]--
	}
	if after.held() {
		deltas[*after.AgentID]++
	}
	for id, delta := range deltas {
		if delta == 0 {
			delete(deltas, id)
		}
	}
	return deltas
}

// AssignmentBalancer picks agents for new leads and keeps active_leads_count in step with open leads
type AssignmentBalancer struct {
	agentRepo *repository.AgentRepository
	logger    *zap.Logger
}

func NewAssignmentBalancer(agentRepo *repository.AgentRepository, logger *zap.Logger) *AssignmentBalancer {
	return &AssignmentBalancer{agentRepo: agentRepo, logger: logger}
}

// WithTx returns a balancer whose counter updates join the given transaction
func (b *AssignmentBalancer) WithTx(tx *gorm.DB) *AssignmentBalancer {
	return &AssignmentBalancer{agentRepo: b.agentRepo.WithTx(tx), logger: b.logger}
}

// Resolve returns the agent a lead should be assigned to.
// An explicit agent must belong to the tenant and be assignable and ACTIVE; its load is not checked.
// Without one the least loaded eligible agent is picked. No eligible agent returns nil without error.
func (b *AssignmentBalancer) Resolve(ctx context.Context, tenantID uuid.UUID, explicitAgentID *uuid.UUID) (*domain.Agent, error) {
	if explicitAgentID != nil {
		agent, err := b.agentRepo.GetByID(ctx, tenantID, *explicitAgentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrAgentNotFound)
			}
			return nil, fmt.Errorf("failed to get agent: %w", err)
		}
		if !agent.CanReceiveLeads() {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrAgentNotAssignable)
		}
		return agent, nil
	}

	agent, err := b.agentRepo.FindLeastLoaded(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to find least loaded agent: %w", err)
	}
	if agent == nil {
		b.logger.Debug("no eligible agent, lead stays unassigned", zap.String("tenant_id", tenantID.String()))
	}
	return agent, nil
}

// Rebalance moves a lead's workload unit from its old slot to its new one.
// Each change is a single atomic store update.
func (b *AssignmentBalancer) Rebalance(ctx context.Context, before, after Slot) error {
	for agentID, delta := range SlotDeltas(before, after) {
		if err := b.agentRepo.AdjustActiveLeads(ctx, agentID, delta); err != nil {
			return fmt.Errorf("failed to adjust agent %s workload: %w", agentID, err)
		}
	}
	return nil
}

// ApplyDeltas applies aggregated counter changes in one transaction
func (b *AssignmentBalancer) ApplyDeltas(ctx context.Context, deltas map[uuid.UUID]int) error {
	if err := b.agentRepo.ApplyDeltas(ctx, deltas); err != nil {
		return fmt.Errorf("failed to apply agent workload changes: %w", err)
	}
	return nil
}

// Snapshot captures the tenant's eligible agents and their loads for in-memory assignment
func (b *AssignmentBalancer) Snapshot(ctx context.Context, tenantID uuid.UUID) (*LoadSnapshot, error) {
	agents, err := b.agentRepo.FindAssignable(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignable agents: %w", err)
	}
	snap := &LoadSnapshot{agents: make([]agentLoad, 0, len(agents))}
	for _, a := range agents {
		snap.agents = append(snap.agents, agentLoad{id: a.ID, load: a.ActiveLeadsCount})
	}
	return snap, nil
}

type agentLoad struct {
	id   uuid.UUID
	load int
}

// LoadSnapshot simulates least-loaded assignment for a batch without touching the store.
// Agents keep the order they were loaded in, so ties go to the earliest one.
type LoadSnapshot struct {
	agents []agentLoad
}

// Pick returns the least loaded agent and counts the new lead against it, or nil if there are no agents
func (s *LoadSnapshot) Pick() *uuid.UUID {
	if len(s.agents) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(s.agents); i++ {
		if s.agents[i].load < s.agents[best].load {
			best = i
		}
	}
	s.agents[best].load++
	id := s.agents[best].id
	return &id
}

// Release undoes a pick whose lead was not written
func (s *LoadSnapshot) Release(id *uuid.UUID) {
	if id == nil {
		return
	}
	for i := range s.agents {
		if s.agents[i].id == *id && s.agents[i].load > 0 {
			s.agents[i].load--
			return
		}
	}
}
