package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/events"
	"github.com/straye-as/lead-engine/internal/mapper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Import row outcomes reported to metrics
const (
	importInserted  = "inserted"
	importMerged    = "merged"
	importFailed    = "failed"
	importDiscarded = "discarded"
)

// ImportLeads upserts a batch of rows for one tenant.
// Rows without an email are dropped and rows repeating an email within the batch collapse into one.
// A row matching an open lead is merged into it, any other row becomes a NEW lead spread over the
// least loaded agents. Triage and emails do not run for imports. Each row is written on its own, so one
// failing row does not undo the others; Count is the number of leads written and Success is false when
// any row failed.
func (s *LeadService) ImportLeads(ctx context.Context, rows []domain.ImportLeadRow, tenantID uuid.UUID) (*domain.ImportResultDTO, error) {
	subs, invalid, discarded := collectImportRows(rows)
	s.metrics.AddImportRows(importDiscarded, discarded)

	result := &domain.ImportResultDTO{}
	if len(subs) == 0 {
		s.metrics.AddImportRows(importFailed, invalid)
		result.Success = invalid == 0
		return result, nil
	}

	emails := make([]string, 0, len(subs))
	for _, sub := range subs {
		emails = append(emails, sub.email)
	}
	existing, err := s.leadRepo.FindOpenByEmails(ctx, tenantID, emails)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open leads: %w", err)
	}

	loads, err := s.balancer.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var inserted, merged []uuid.UUID
	failed := invalid
	deltas := make(map[uuid.UUID]int)

	for _, sub := range subs {
		if lead, ok := existing[sub.email]; ok {
			before := SlotOf(lead)
			sub.mergeInto(lead)
			var picked *uuid.UUID
			if lead.AssignedAgentID == nil && lead.IsOpen() {
				picked = loads.Pick()
				lead.AssignedAgentID = picked
			}
			if err := s.importWrite(ctx, lead, false); err != nil {
				loads.Release(picked)
				failed++
				s.logImportFailure(tenantID, sub.email, err)
				continue
			}
			addDeltas(deltas, SlotDeltas(before, SlotOf(lead)))
			merged = append(merged, lead.ID)
			continue
		}

		lead := sub.newLead(tenantID)
		lead.AssignedAgentID = loads.Pick()
		if err := s.importWrite(ctx, lead, true); err != nil {
			loads.Release(lead.AssignedAgentID)
			failed++
			s.logImportFailure(tenantID, sub.email, err)
			continue
		}
		addDeltas(deltas, SlotDeltas(Slot{}, SlotOf(lead)))
		inserted = append(inserted, lead.ID)
	}

	if err := s.balancer.ApplyDeltas(ctx, deltas); err != nil {
		return nil, err
	}

	s.metrics.AddImportRows(importInserted, len(inserted))
	s.metrics.AddImportRows(importMerged, len(merged))
	s.metrics.AddImportRows(importFailed, failed)

	result.Count = len(inserted) + len(merged)
	result.Success = failed == 0

	s.logger.Info("lead import finished",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("rows", len(rows)),
		zap.Int("inserted", len(inserted)),
		zap.Int("merged", len(merged)),
		zap.Int("failed", failed),
		zap.Int("discarded", discarded),
	)

	if err := s.publishImported(ctx, tenantID, inserted, merged); err != nil {
		s.logger.Error("failed to publish imported leads",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}
	return result, nil
}

// importWrite stores one import row with its timeline entry
func (s *LeadService) importWrite(ctx context.Context, lead *domain.Lead, create bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if create {
			if err := s.leadRepo.WithTx(tx).Create(ctx, lead); err != nil {
				return err
			}
			return s.timelineRepo.WithTx(tx).Append(ctx, lead.ID, domain.TimelineLeadImported)
		}
		if err := s.leadRepo.WithTx(tx).Update(ctx, lead); err != nil {
			return err
		}
		return s.timelineRepo.WithTx(tx).Append(ctx, lead.ID, domain.TimelineBudgetUpdated)
	})
}

// publishImported fetches the committed leads and emits one event per lead
func (s *LeadService) publishImported(ctx context.Context, tenantID uuid.UUID, inserted, merged []uuid.UUID) error {
	var created, updated []domain.Lead

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		created, err = s.leadRepo.GetByIDs(gctx, tenantID, inserted)
		return err
	})
	g.Go(func() error {
		var err error
		updated, err = s.leadRepo.GetByIDs(gctx, tenantID, merged)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range created {
		s.publisher.Publish(ctx, events.NewLeadCreated(mapper.ToLeadDTO(&created[i])))
		s.metrics.IncLeadCreated(created[i].Source)
	}
	for i := range updated {
		s.publisher.Publish(ctx, events.NewLeadUpdated(mapper.ToLeadDTO(&updated[i])))
		s.metrics.IncLeadMerged()
	}
	return nil
}

func (s *LeadService) logImportFailure(tenantID uuid.UUID, email string, err error) {
	s.logger.Warn("failed to import lead row",
		zap.String("tenant_id", tenantID.String()),
		zap.String("email", email),
		zap.Error(err),
	)
}

// collectImportRows normalizes a batch, dropping rows without email and collapsing repeated emails
func collectImportRows(rows []domain.ImportLeadRow) (subs []submission, invalid, discarded int) {
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		sub := submissionFromRow(row)
		if sub.email == "" {
			discarded++
			continue
		}
		if err := validate.Var(sub.email, "email"); err != nil || sub.budget < 0 {
			invalid++
			continue
		}
		if i, ok := index[sub.email]; ok {
			subs[i] = subs[i].mergeWith(sub)
			continue
		}
		index[sub.email] = len(subs)
		subs = append(subs, sub)
	}
	return subs, invalid, discarded
}

func addDeltas(into, from map[uuid.UUID]int) {
	for id, delta := range from {
		into[id] += delta
	}
}
