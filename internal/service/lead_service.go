package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/events"
	"github.com/straye-as/lead-engine/internal/mapper"
	"github.com/straye-as/lead-engine/internal/metrics"
	"github.com/straye-as/lead-engine/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TriageRules holds the budget thresholds of automatic triage
type TriageRules struct {
	// RejectBelow rejects budgets strictly below this value
	RejectBelow int64
	// QualifyAbove qualifies budgets strictly above this value
	QualifyAbove int64
}

// DefaultTriageRules returns the standard thresholds
func DefaultTriageRules() TriageRules {
	return TriageRules{RejectBelow: 3000, QualifyAbove: 50000}
}

// Classify returns the status a budget triages into
func (r TriageRules) Classify(budget int64) domain.LeadStatus {
	switch {
	case budget < r.RejectBelow:
		return domain.LeadStatusRejected
	case budget > r.QualifyAbove:
		return domain.LeadStatusQualified
	default:
		return domain.LeadStatusNew
	}
}

// LeadServiceConfig carries the tunables of the lead service
type LeadServiceConfig struct {
	Triage         TriageRules
	BookingBaseURL string
}

// LeadService owns the lead lifecycle: intake and triage, status transitions, bulk import and deletion.
// Every committed change is published on the event publisher.
type LeadService struct {
	leadRepo     *repository.LeadRepository
	timelineRepo *repository.TimelineRepository
	balancer     *AssignmentBalancer
	mailer       *MailDispatcher
	renderer     ProposalRenderer
	archive      ProposalArchive
	publisher    events.Publisher
	metrics      *metrics.Metrics
	cfg          LeadServiceConfig
	logger       *zap.Logger
	db           *gorm.DB
}

func NewLeadService(
	leadRepo *repository.LeadRepository,
	timelineRepo *repository.TimelineRepository,
	balancer *AssignmentBalancer,
	mailer *MailDispatcher,
	renderer ProposalRenderer,
	archive ProposalArchive,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg LeadServiceConfig,
	logger *zap.Logger,
	db *gorm.DB,
) *LeadService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &LeadService{
		leadRepo:     leadRepo,
		timelineRepo: timelineRepo,
		balancer:     balancer,
		mailer:       mailer,
		renderer:     renderer,
		archive:      archive,
		publisher:    publisher,
		metrics:      m,
		cfg:          cfg,
		logger:       logger,
		db:           db,
	}
}

// GetLead returns one lead of the tenant
func (s *LeadService) GetLead(ctx context.Context, id, tenantID uuid.UUID) (*domain.LeadDTO, error) {
	lead, err := s.leadRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, storeError(err, ErrLeadNotFound)
	}
	dto := mapper.ToLeadDTO(lead)
	return &dto, nil
}

// ListLeads returns a page of the tenant's leads with the total count
func (s *LeadService) ListLeads(ctx context.Context, tenantID uuid.UUID, page, pageSize int) (*domain.PaginatedResponse, error) {
	leads, total, err := s.leadRepo.List(ctx, tenantID, page, pageSize)
	if err != nil {
		return nil, mapper.FormatError("lead", "list", err)
	}
	return paginated(leads, total, page, pageSize), nil
}

// ListLeadsByAgent returns a page of the leads assigned to one agent
func (s *LeadService) ListLeadsByAgent(ctx context.Context, tenantID, agentID uuid.UUID, page, pageSize int) (*domain.PaginatedResponse, error) {
	leads, total, err := s.leadRepo.ListByAgent(ctx, tenantID, agentID, page, pageSize)
	if err != nil {
		return nil, mapper.FormatError("lead", "list by agent", err)
	}
	return paginated(leads, total, page, pageSize), nil
}

// DeleteLead hard-deletes a lead and releases its agent slot if it was open
func (s *LeadService) DeleteLead(ctx context.Context, id, tenantID uuid.UUID) (bool, error) {
	lead, err := s.leadRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return false, storeError(err, ErrLeadNotFound)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.leadRepo.WithTx(tx).Delete(ctx, tenantID, id); err != nil {
			return err
		}
		return s.balancer.WithTx(tx).Rebalance(ctx, SlotOf(lead), Slot{})
	})
	if err != nil {
		return false, storeError(err, ErrLeadNotFound)
	}

	s.logger.Info("lead deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("lead_id", id.String()),
	)
	s.publisher.Publish(ctx, events.NewLeadDeleted(tenantID, id))
	return true, nil
}

// Drain waits for pending asynchronous emails
func (s *LeadService) Drain(ctx context.Context) error {
	return s.mailer.Drain(ctx)
}

// reload fetches the committed lead, mapped for callers and events
func (s *LeadService) reload(ctx context.Context, tenantID, id uuid.UUID) (*domain.Lead, domain.LeadDTO, error) {
	lead, err := s.leadRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, domain.LeadDTO{}, fmt.Errorf("failed to reload lead: %w", err)
	}
	return lead, mapper.ToLeadDTO(lead), nil
}

func (s *LeadService) bookingURL(leadID uuid.UUID) string {
	return strings.TrimRight(s.cfg.BookingBaseURL, "/") + "/" + leadID.String()
}

func paginated(leads []domain.Lead, total int64, page, pageSize int) *domain.PaginatedResponse {
	page, pageSize = repository.NormalizePagination(page, pageSize)
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return &domain.PaginatedResponse{
		Data:       mapper.ToLeadDTOs(leads),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
