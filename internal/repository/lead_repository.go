package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *LeadRepository) WithTx(tx *gorm.DB) *LeadRepository {
	return &LeadRepository{db: tx}
}

// Create inserts the lead row only; timeline entries are appended separately
func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(lead).Error
}

// Update saves all scalar columns of the lead
func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(lead).Error
}

// GetByID loads a lead with its assigned agent and ordered timeline
func (r *LeadRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Lead, error) {
	var lead domain.Lead
	query := r.withDetails(r.db.WithContext(ctx)).Where("id = ?", id)
	query = ApplyTenantFilter(query, tenantID)
	if err := query.First(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

// GetByIDs loads several leads of one tenant with details
func (r *LeadRepository) GetByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]domain.Lead, error) {
	var leads []domain.Lead
	if len(ids) == 0 {
		return leads, nil
	}
	query := r.withDetails(r.db.WithContext(ctx)).Where("id IN ?", ids)
	query = ApplyTenantFilter(query, tenantID)
	err := query.Order("created_at ASC").Find(&leads).Error
	return leads, err
}

// FindOpenByEmail returns the open lead with the given normalized email, or nil if none exists
func (r *LeadRepository) FindOpenByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.Lead, error) {
	var leads []domain.Lead
	query := r.withDetails(r.db.WithContext(ctx)).
		Where("email = ? AND status NOT IN ?", email, domain.TerminalLeadStatuses)
	query = ApplyTenantFilter(query, tenantID)
	if err := query.Order("created_at ASC").Limit(1).Find(&leads).Error; err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// FindOpenByEmails returns the open leads for the given emails keyed by email
func (r *LeadRepository) FindOpenByEmails(ctx context.Context, tenantID uuid.UUID, emails []string) (map[string]*domain.Lead, error) {
	result := make(map[string]*domain.Lead, len(emails))
	if len(emails) == 0 {
		return result, nil
	}

	var leads []domain.Lead
	query := r.db.WithContext(ctx).
		Where("email IN ? AND status NOT IN ?", emails, domain.TerminalLeadStatuses)
	query = ApplyTenantFilter(query, tenantID)
	if err := query.Order("created_at ASC").Find(&leads).Error; err != nil {
		return nil, err
	}

	for i := range leads {
		// Keep the oldest open row if the invariant was ever broken
		if _, ok := result[leads[i].Email]; !ok {
			result[leads[i].Email] = &leads[i]
		}
	}
	return result, nil
}

// FindByEmailAndStatus returns the lead with the given email and status, or nil if none exists
func (r *LeadRepository) FindByEmailAndStatus(ctx context.Context, tenantID uuid.UUID, email string, status domain.LeadStatus) (*domain.Lead, error) {
	var leads []domain.Lead
	query := r.withDetails(r.db.WithContext(ctx)).Where("email = ? AND status = ?", email, status)
	query = ApplyTenantFilter(query, tenantID)
	if err := query.Limit(1).Find(&leads).Error; err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// Delete removes a lead and its timeline. Returns gorm.ErrRecordNotFound if nothing was deleted.
func (r *LeadRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("lead_id = ?", id).Delete(&domain.TimelineEntry{}).Error; err != nil {
		return err
	}
	result := ApplyTenantFilter(db.Where("id = ?", id), tenantID).Delete(&domain.Lead{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// List returns a page of a tenant's leads, newest first
func (r *LeadRepository) List(ctx context.Context, tenantID uuid.UUID, page, pageSize int) ([]domain.Lead, int64, error) {
	query := ApplyTenantFilter(r.db.WithContext(ctx).Model(&domain.Lead{}), tenantID)
	return r.paginate(query, page, pageSize)
}

// ListByAgent returns a page of the leads assigned to one agent
func (r *LeadRepository) ListByAgent(ctx context.Context, tenantID, agentID uuid.UUID, page, pageSize int) ([]domain.Lead, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.Lead{}).Where("assigned_agent_id = ?", agentID)
	query = ApplyTenantFilter(query, tenantID)
	return r.paginate(query, page, pageSize)
}

// CountOpenByAgent counts the open leads referencing an agent
func (r *LeadRepository) CountOpenByAgent(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Lead{}).
		Where("assigned_agent_id = ? AND status NOT IN ?", agentID, domain.TerminalLeadStatuses).
		Count(&count).Error
	return count, err
}

// StaleCursor is the (created_at, id) position of the last lead of a FindStaleQualified page
type StaleCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// FindStaleQualified returns QUALIFIED leads created before the cutoff that carry no
// "reminder sent" timeline entry, for tenants with the email service enabled.
// Pages are ordered by (created_at, id) and start after the cursor when one is given.
func (r *LeadRepository) FindStaleQualified(ctx context.Context, createdBefore time.Time, after *StaleCursor, limit int) ([]domain.Lead, error) {
	var leads []domain.Lead
	query := r.db.WithContext(ctx).
		Where("leads.status = ? AND leads.created_at < ?", domain.LeadStatusQualified, createdBefore).
		Where("leads.tenant_id IN (SELECT o.id FROM organizations o WHERE o.email_service_enabled = ?)", true).
		Where("NOT EXISTS (SELECT 1 FROM lead_timeline_entries t WHERE t.lead_id = leads.id AND t.event = ?)",
			domain.TimelineReminderSent)
	if after != nil {
		query = query.Where("(leads.created_at > ? OR (leads.created_at = ? AND leads.id > ?))",
			after.CreatedAt, after.CreatedAt, after.ID)
	}
	query = query.Order("leads.created_at ASC").Order("leads.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&leads).Error
	return leads, err
}

func (r *LeadRepository) paginate(query *gorm.DB, page, pageSize int) ([]domain.Lead, int64, error) {
	var leads []domain.Lead
	var total int64

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize = NormalizePagination(page, pageSize)
	offset := (page - 1) * pageSize
	err := r.withDetails(query).
		Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Order("id ASC").
		Find(&leads).Error

	return leads, total, err
}

func (r *LeadRepository) withDetails(query *gorm.DB) *gorm.DB {
	return query.
		Preload("AssignedAgent").
		Preload("Timeline", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		})
}
