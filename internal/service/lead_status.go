package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UpdateLeadStatus applies a manual status change.
// Closing an open assigned lead releases its agent slot and reopening takes it again;
// the change is always recorded on the timeline, also when the status does not move.
func (s *LeadService) UpdateLeadStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus, tenantID uuid.UUID) (*domain.LeadDTO, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidInput, ErrInvalidStatus, status)
	}

	lead, err := s.leadRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, storeError(err, ErrLeadNotFound)
	}

	if !lead.IsOpen() && status.IsOpen() {
		if err := s.ensureNoOtherOpenLead(ctx, lead); err != nil {
			return nil, err
		}
	}

	dto, err := s.transition(ctx, lead, status)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.NewLeadUpdated(*dto))
	return dto, nil
}

// transition commits a status change with its timeline entry and counter adjustment
func (s *LeadService) transition(ctx context.Context, lead *domain.Lead, status domain.LeadStatus) (*domain.LeadDTO, error) {
	before := SlotOf(lead)
	from := lead.Status
	lead.Status = status

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.leadRepo.WithTx(tx).Update(ctx, lead); err != nil {
			return err
		}
		if err := s.timelineRepo.WithTx(tx).Append(ctx, lead.ID, statusChangedEvent(from, status)); err != nil {
			return err
		}
		return s.balancer.WithTx(tx).Rebalance(ctx, before, SlotOf(lead))
	})
	if err != nil {
		return nil, storeError(err, ErrLeadNotFound)
	}

	s.logger.Info("lead status changed",
		zap.String("tenant_id", lead.TenantID.String()),
		zap.String("lead_id", lead.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)

	_, dto, err := s.reload(ctx, lead.TenantID, lead.ID)
	if err != nil {
		return nil, err
	}
	return &dto, nil
}

// UpdateLeadFields applies a partial update. Counters are only rebalanced when the status or the
// assigned agent is among the changed fields. A nil agent id in the request keeps the current agent;
// the nil UUID unassigns the lead.
func (s *LeadService) UpdateLeadFields(ctx context.Context, id uuid.UUID, req *domain.UpdateLeadRequest, tenantID uuid.UUID) (*domain.LeadDTO, error) {
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.Status != nil && !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidInput, ErrInvalidStatus, *req.Status)
	}

	lead, err := s.leadRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, storeError(err, ErrLeadNotFound)
	}
	before := SlotOf(lead)
	var timeline []string

	if req.Name != nil {
		lead.Name = *req.Name
	}
	if req.Email != nil {
		lead.Email = NormalizeEmail(*req.Email)
	}
	if req.Phone != nil {
		lead.Phone = NormalizePhone(*req.Phone)
	}
	if req.Source != nil {
		lead.Source = *req.Source
	}
	if req.Budget != nil {
		lead.Budget = *req.Budget
	}
	if req.ServiceType != nil {
		lead.ServiceType = *req.ServiceType
	}

	statusChanged := req.Status != nil && *req.Status != lead.Status
	if statusChanged {
		timeline = append(timeline, statusChangedEvent(lead.Status, *req.Status))
		lead.Status = *req.Status
	}

	agentChanged, err := s.applyAgentChange(ctx, lead, req.AgentID)
	if err != nil {
		return nil, err
	}
	if agentChanged {
		timeline = append(timeline, domain.TimelineAgentReassigned)
	}

	if lead.IsOpen() && (req.Email != nil || statusChanged) {
		if err := s.ensureNoOtherOpenLead(ctx, lead); err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.leadRepo.WithTx(tx).Update(ctx, lead); err != nil {
			return err
		}
		if err := s.timelineRepo.WithTx(tx).Append(ctx, lead.ID, timeline...); err != nil {
			return err
		}
		if statusChanged || agentChanged {
			return s.balancer.WithTx(tx).Rebalance(ctx, before, SlotOf(lead))
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, ErrLeadNotFound)
	}

	_, dto, err := s.reload(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.NewLeadUpdated(dto))
	return &dto, nil
}

// applyAgentChange validates and sets a requested agent like an explicit assignment
func (s *LeadService) applyAgentChange(ctx context.Context, lead *domain.Lead, agentID *uuid.UUID) (bool, error) {
	if agentID == nil {
		return false, nil
	}

	if *agentID == uuid.Nil {
		if lead.AssignedAgentID == nil {
			return false, nil
		}
		lead.AssignedAgentID = nil
		lead.AssignedAgent = nil
		return true, nil
	}

	if lead.AssignedAgentID != nil && *lead.AssignedAgentID == *agentID {
		return false, nil
	}

	agent, err := s.balancer.Resolve(ctx, lead.TenantID, agentID)
	if err != nil {
		return false, err
	}
	lead.AssignedAgentID = &agent.ID
	lead.AssignedAgent = nil
	return true, nil
}

// ensureNoOtherOpenLead rejects writes that would leave two open leads with one email
func (s *LeadService) ensureNoOtherOpenLead(ctx context.Context, lead *domain.Lead) error {
	other, err := s.leadRepo.FindOpenByEmail(ctx, lead.TenantID, lead.Email)
	if err != nil {
		return fmt.Errorf("failed to look up open lead: %w", err)
	}
	if other != nil && other.ID != lead.ID {
		return fmt.Errorf("%w: another open lead uses %s", ErrConflict, lead.Email)
	}
	return nil
}

// SendProposal moves the lead to PROPOSAL_SENT, renders the proposal PDF and mails it to the lead.
// The status change is committed first and stays in place when rendering or sending fails;
// that failure is returned together with the updated lead. Once the email is out the call succeeds.
func (s *LeadService) SendProposal(ctx context.Context, id, tenantID uuid.UUID) (*domain.LeadDTO, error) {
	lead, err := s.leadRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, storeError(err, ErrLeadNotFound)
	}

	dto, err := s.transition(ctx, lead, domain.LeadStatusProposalSent)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.NewLeadUpdated(*dto))

	saved, err := s.leadRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return dto, storeError(err, ErrLeadNotFound)
	}

	account, ok := s.mailer.Account(ctx, tenantID)
	if !ok {
		return dto, fmt.Errorf("%w: email service is not available for this tenant", ErrExternalService)
	}

	pdf, err := s.renderer.RenderProposal(ctx, saved)
	if err != nil {
		s.logger.Error("failed to render proposal",
			zap.String("lead_id", id.String()),
			zap.Error(err),
		)
		return dto, fmt.Errorf("%w: render proposal: %v", ErrExternalService, err)
	}

	timeline := []string{domain.TimelineProposalSent}
	if s.archive != nil {
		key, err := s.archive.Store(ctx, tenantID, id, pdf)
		if err != nil {
			s.logger.Warn("failed to archive proposal", zap.String("lead_id", id.String()), zap.Error(err))
		} else {
			timeline = append(timeline, fmt.Sprintf(domain.TimelineProposalArchivedFmt, key))
		}
	}

	sender := s.mailer.sender
	err = s.mailer.Send(ctx, mailProposal, saved, func(ctx context.Context) error {
		return sender.SendProposal(ctx, account, saved, pdf)
	})
	if err != nil {
		return dto, err
	}

	// The proposal is delivered; bookkeeping failures from here on are logged, not returned
	if err := s.timelineRepo.Append(ctx, id, timeline...); err != nil {
		s.logger.Error("failed to record sent proposal",
			zap.String("lead_id", id.String()),
			zap.Error(err),
		)
	}

	_, final, err := s.reload(ctx, tenantID, id)
	if err != nil {
		s.logger.Warn("failed to reload lead after sending proposal",
			zap.String("lead_id", id.String()),
			zap.Error(err),
		)
		return dto, nil
	}
	s.publisher.Publish(ctx, events.NewLeadUpdated(final))
	return &final, nil
}

func statusChangedEvent(from, to domain.LeadStatus) string {
	return fmt.Sprintf(domain.TimelineStatusChangedFmt, from, to)
}
