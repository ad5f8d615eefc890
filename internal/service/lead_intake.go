package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errDuplicateSubmission signals that a concurrent write took the lead's unique key first
var errDuplicateSubmission = errors.New("duplicate lead submission")

// CreateLead runs intake for a form or admin submission.
// A submission whose email matches an open lead of the tenant is merged into it. Otherwise a new lead is
// created and assigned. When the tenant's email service is usable the budget rule triages the lead and
// the matching email is sent in the background.
func (s *LeadService) CreateLead(ctx context.Context, req *domain.CreateLeadRequest, tenantID uuid.UUID, explicitAgentID *uuid.UUID) (*domain.LeadDTO, error) {
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	sub := submissionFromRequest(req)

	existing, err := s.leadRepo.FindOpenByEmail(ctx, tenantID, sub.email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open lead: %w", err)
	}

	account, gateOpen := s.mailer.Account(ctx, tenantID)

	if existing != nil {
		return s.mergeSubmission(ctx, existing, sub, explicitAgentID, account, gateOpen)
	}

	dto, err := s.createFromSubmission(ctx, tenantID, sub, explicitAgentID, account, gateOpen)
	if !errors.Is(err, errDuplicateSubmission) {
		return dto, err
	}

	// Lost the race against a concurrent submission for the same email: merge into its lead
	existing, err = s.leadRepo.FindOpenByEmail(ctx, tenantID, sub.email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open lead: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: lead with email %s already exists", ErrConflict, sub.email)
	}
	return s.mergeSubmission(ctx, existing, sub, explicitAgentID, account, gateOpen)
}

func (s *LeadService) createFromSubmission(
	ctx context.Context,
	tenantID uuid.UUID,
	sub submission,
	explicitAgentID *uuid.UUID,
	account domain.MailAccount,
	gateOpen bool,
) (*domain.LeadDTO, error) {
	agent, err := s.resolveAgent(ctx, tenantID, explicitAgentID)
	if err != nil {
		return nil, err
	}

	lead := sub.newLead(tenantID)
	if agent != nil {
		lead.AssignedAgentID = &agent.ID
	}

	timeline := []string{domain.TimelineLeadCreated}
	mailKind := ""
	if gateOpen {
		lead.Status = s.cfg.Triage.Classify(lead.Budget)
		timeline = append(timeline, triageEvent(lead.Status))
		mailKind = triageMail(lead.Status, true)
	}

	if lead.Status == domain.LeadStatusRejected {
		rejected, err := s.leadRepo.FindByEmailAndStatus(ctx, tenantID, lead.Email, domain.LeadStatusRejected)
		if err != nil {
			return nil, fmt.Errorf("failed to look up rejected lead: %w", err)
		}
		if rejected != nil {
			return s.foldIntoRejected(ctx, rejected, sub, account)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.leadRepo.WithTx(tx).Create(ctx, lead); err != nil {
			return err
		}
		if err := s.timelineRepo.WithTx(tx).Append(ctx, lead.ID, timeline...); err != nil {
			return err
		}
		return s.balancer.WithTx(tx).Rebalance(ctx, Slot{}, SlotOf(lead))
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errDuplicateSubmission
		}
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}

	saved, dto, err := s.reload(ctx, tenantID, lead.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.IncLeadCreated(saved.Source)
	if gateOpen {
		s.metrics.IncTriageOutcome(string(saved.Status))
	}
	s.sendTriageMail(mailKind, account, saved)

	s.logger.Info("lead created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("lead_id", saved.ID.String()),
		zap.String("status", string(saved.Status)),
		zap.Bool("email_gate_open", gateOpen),
	)
	s.publisher.Publish(ctx, events.NewLeadCreated(dto))
	return &dto, nil
}

// mergeSubmission folds a submission into the tenant's open lead with the same email.
// Triage only re-runs while the lead is still NEW, and never sends an acknowledgement.
func (s *LeadService) mergeSubmission(
	ctx context.Context,
	lead *domain.Lead,
	sub submission,
	explicitAgentID *uuid.UUID,
	account domain.MailAccount,
	gateOpen bool,
) (*domain.LeadDTO, error) {
	before := SlotOf(lead)
	sub.mergeInto(lead)
	timeline := []string{domain.TimelineBudgetUpdated}

	if lead.AssignedAgentID == nil {
		agent, err := s.resolveAgent(ctx, lead.TenantID, explicitAgentID)
		if err != nil {
			return nil, err
		}
		if agent != nil {
			lead.AssignedAgentID = &agent.ID
		}
	}

	mailKind := ""
	triaged := false
	if gateOpen && lead.Status == domain.LeadStatusNew {
		status := s.cfg.Triage.Classify(lead.Budget)
		if status == domain.LeadStatusRejected {
			rejected, err := s.leadRepo.FindByEmailAndStatus(ctx, lead.TenantID, lead.Email, domain.LeadStatusRejected)
			if err != nil {
				return nil, fmt.Errorf("failed to look up rejected lead: %w", err)
			}
			if rejected != nil {
				// (tenant, REJECTED, email) is already taken; leave the lead for manual review
				status = domain.LeadStatusNew
			}
		}
		lead.Status = status
		timeline = append(timeline, triageEvent(status))
		mailKind = triageMail(status, false)
		triaged = true
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.leadRepo.WithTx(tx).Update(ctx, lead); err != nil {
			return err
		}
		if err := s.timelineRepo.WithTx(tx).Append(ctx, lead.ID, timeline...); err != nil {
			return err
		}
		return s.balancer.WithTx(tx).Rebalance(ctx, before, SlotOf(lead))
	})
	if err != nil {
		return nil, storeError(err, ErrLeadNotFound)
	}

	saved, dto, err := s.reload(ctx, lead.TenantID, lead.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.IncLeadMerged()
	if triaged {
		s.metrics.IncTriageOutcome(string(saved.Status))
	}
	s.sendTriageMail(mailKind, account, saved)

	s.logger.Info("submission merged into open lead",
		zap.String("tenant_id", saved.TenantID.String()),
		zap.String("lead_id", saved.ID.String()),
		zap.String("status", string(saved.Status)),
	)
	s.publisher.Publish(ctx, events.NewLeadUpdated(dto))
	return &dto, nil
}

// foldIntoRejected reuses the tenant's rejected row for a new submission that is rejected again,
// since (tenant, status, email) admits only one REJECTED row per email
func (s *LeadService) foldIntoRejected(ctx context.Context, lead *domain.Lead, sub submission, account domain.MailAccount) (*domain.LeadDTO, error) {
	sub.mergeInto(lead)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.leadRepo.WithTx(tx).Update(ctx, lead); err != nil {
			return err
		}
		return s.timelineRepo.WithTx(tx).Append(ctx, lead.ID, domain.TimelineBudgetUpdated, domain.TimelineAutoRejected)
	})
	if err != nil {
		return nil, storeError(err, ErrLeadNotFound)
	}

	saved, dto, err := s.reload(ctx, lead.TenantID, lead.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.IncLeadMerged()
	s.metrics.IncTriageOutcome(string(domain.LeadStatusRejected))
	s.sendTriageMail(mailRejection, account, saved)

	s.publisher.Publish(ctx, events.NewLeadUpdated(dto))
	return &dto, nil
}

// resolveAgent asks the balancer for an agent. Explicit agent errors abort intake;
// automatic assignment is best effort and leaves the lead unassigned on failure.
func (s *LeadService) resolveAgent(ctx context.Context, tenantID uuid.UUID, explicitAgentID *uuid.UUID) (*domain.Agent, error) {
	agent, err := s.balancer.Resolve(ctx, tenantID, explicitAgentID)
	if err != nil {
		if explicitAgentID != nil {
			return nil, err
		}
		s.logger.Warn("automatic agent assignment failed, lead stays unassigned",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return nil, nil
	}
	return agent, nil
}

func (s *LeadService) sendTriageMail(kind string, account domain.MailAccount, lead *domain.Lead) {
	sender := s.mailer.sender
	switch kind {
	case mailRejection:
		s.mailer.Go(kind, lead, func(ctx context.Context) error {
			return sender.SendRejection(ctx, account, lead)
		})
	case mailQualification:
		bookingURL := s.bookingURL(lead.ID)
		s.mailer.Go(kind, lead, func(ctx context.Context) error {
			return sender.SendQualification(ctx, account, lead, bookingURL)
		})
	case mailAcknowledgement:
		s.mailer.Go(kind, lead, func(ctx context.Context) error {
			return sender.SendAcknowledgement(ctx, account, lead)
		})
	}
}

func triageEvent(status domain.LeadStatus) string {
	switch status {
	case domain.LeadStatusRejected:
		return domain.TimelineAutoRejected
	case domain.LeadStatusQualified:
		return domain.TimelineAutoQualified
	default:
		return domain.TimelineNeedsReview
	}
}

// triageMail returns the email kind for a triage outcome; acknowledgements go out on first creation only
func triageMail(status domain.LeadStatus, firstCreation bool) string {
	switch status {
	case domain.LeadStatusRejected:
		return mailRejection
	case domain.LeadStatusQualified:
		return mailQualification
	default:
		if firstCreation {
			return mailAcknowledgement
		}
		return ""
	}
}
