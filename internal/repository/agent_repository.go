package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// clampedIncrement adds a delta to active_leads_count in one statement and never lets it drop below zero
const clampedIncrement = "CASE WHEN active_leads_count + ? < 0 THEN 0 ELSE active_leads_count + ? END"

type AgentRepository struct {
	db *gorm.DB
}

func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *AgentRepository) WithTx(tx *gorm.DB) *AgentRepository {
	return &AgentRepository{db: tx}
}

func (r *AgentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(agent).Error
}

func (r *AgentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Agent, error) {
	var agent domain.Agent
	query := ApplyTenantFilter(r.db.WithContext(ctx).Where("id = ?", id), tenantID)
	if err := query.First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

// FindAssignable returns the tenant's assignable ACTIVE agents, least loaded first.
// Ties are ordered by creation time and then id so repeated picks are stable.
func (r *AgentRepository) FindAssignable(ctx context.Context, tenantID uuid.UUID) ([]domain.Agent, error) {
	var agents []domain.Agent
	err := r.assignable(ctx, tenantID).Find(&agents).Error
	return agents, err
}

// FindLeastLoaded returns the assignable ACTIVE agent with the fewest open leads, or nil if none is eligible
func (r *AgentRepository) FindLeastLoaded(ctx context.Context, tenantID uuid.UUID) (*domain.Agent, error) {
	var agents []domain.Agent
	if err := r.assignable(ctx, tenantID).Limit(1).Find(&agents).Error; err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil
	}
	return &agents[0], nil
}

// AdjustActiveLeads atomically adds delta to the agent's counter, clamping at zero
func (r *AgentRepository) AdjustActiveLeads(ctx context.Context, id uuid.UUID, delta int) error {
	if delta == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.Agent{}).
		Where("id = ?", id).
		Update("active_leads_count", gorm.Expr(clampedIncrement, delta, delta)).Error
}

// ApplyDeltas applies several counter adjustments in one transaction
func (r *AgentRepository) ApplyDeltas(ctx context.Context, deltas map[uuid.UUID]int) error {
	if len(deltas) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := r.WithTx(tx)
		for id, delta := range deltas {
			if err := txRepo.AdjustActiveLeads(ctx, id, delta); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *AgentRepository) assignable(ctx context.Context, tenantID uuid.UUID) *gorm.DB {
	query := r.db.WithContext(ctx).
		Where("is_assignable = ? AND status = ?", true, domain.AgentStatusActive).
		Order("active_leads_count ASC").
		Order("created_at ASC").
		Order("id ASC")
	return ApplyTenantFilter(query, tenantID)
}
