package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"gorm.io/gorm"
)

// TimelineRepository is the append-only event log of leads
type TimelineRepository struct {
	db *gorm.DB
}

func NewTimelineRepository(db *gorm.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *TimelineRepository) WithTx(tx *gorm.DB) *TimelineRepository {
	return &TimelineRepository{db: tx}
}

// Append adds the events to a lead's timeline in the given order
func (r *TimelineRepository) Append(ctx context.Context, leadID uuid.UUID, events ...string) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	entries := make([]domain.TimelineEntry, 0, len(events))
	for _, event := range events {
		entries = append(entries, domain.TimelineEntry{
			LeadID:    leadID,
			Event:     event,
			CreatedAt: now,
		})
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

// HasEvent reports whether the lead's timeline contains the event
func (r *TimelineRepository) HasEvent(ctx context.Context, leadID uuid.UUID, event string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.TimelineEntry{}).
		Where("lead_id = ? AND event = ?", leadID, event).
		Count(&count).Error
	return count > 0, err
}

// ListForLead returns the lead's timeline in insertion order
func (r *TimelineRepository) ListForLead(ctx context.Context, leadID uuid.UUID) ([]domain.TimelineEntry, error) {
	var entries []domain.TimelineEntry
	err := r.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("id ASC").Find(&entries).Error
	return entries, err
}
