package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/metrics"
	"github.com/straye-as/lead-engine/internal/repository"
	"go.uber.org/zap"
)

// DefaultStaleFor is how long a qualified lead may wait before it gets a reminder
const DefaultStaleFor = 24 * time.Hour

// DefaultFollowUpBatch caps the number of leads handled per run
const DefaultFollowUpBatch = 500

// FollowUpService reminds qualified leads that have not booked a meeting
type FollowUpService struct {
	leadRepo       *repository.LeadRepository
	timelineRepo   *repository.TimelineRepository
	mailer         *MailDispatcher
	metrics        *metrics.Metrics
	logger         *zap.Logger
	staleFor       time.Duration
	batch          int
	bookingBaseURL string
}

func NewFollowUpService(
	leadRepo *repository.LeadRepository,
	timelineRepo *repository.TimelineRepository,
	mailer *MailDispatcher,
	m *metrics.Metrics,
	logger *zap.Logger,
	staleFor time.Duration,
	bookingBaseURL string,
) *FollowUpService {
	if staleFor <= 0 {
		staleFor = DefaultStaleFor
	}
	return &FollowUpService{
		leadRepo:       leadRepo,
		timelineRepo:   timelineRepo,
		mailer:         mailer,
		metrics:        m,
		logger:         logger,
		staleFor:       staleFor,
		batch:          DefaultFollowUpBatch,
		bookingBaseURL: bookingBaseURL,
	}
}

type mailGate struct {
	account domain.MailAccount
	open    bool
}

// SetBatchSize sets the page size of one follow-up query. Non-positive values keep the default.
func (s *FollowUpService) SetBatchSize(n int) {
	if n > 0 {
		s.batch = n
	}
}

// RunOnce sends one reminder to each QUALIFIED lead created before now minus the stale window that has
// no "reminder sent" entry yet. Only tenants with the email service enabled are queried; a tenant whose
// credential cannot be used is skipped and picked up again on a later run. Leads are walked in
// (created_at, id) pages so skipped leads never hide later ones. The marker is appended after the send
// attempt, also when the send failed, so a lead is reminded at most once.
func (s *FollowUpService) RunOnce(ctx context.Context, now time.Time) (sent int, failed int, err error) {
	cutoff := now.Add(-s.staleFor)
	gates := make(map[uuid.UUID]mailGate)
	var cursor *repository.StaleCursor

	for {
		leads, err := s.leadRepo.FindStaleQualified(ctx, cutoff, cursor, s.batch)
		if err != nil {
			return sent, failed, fmt.Errorf("failed to find stale qualified leads: %w", err)
		}

		for i := range leads {
			if ctx.Err() != nil {
				return sent, failed, ctx.Err()
			}
			ok, err := s.remind(ctx, &leads[i], gates)
			if err != nil {
				failed++
				continue
			}
			if ok {
				sent++
			}
		}

		if len(leads) < s.batch {
			return sent, failed, nil
		}
		last := leads[len(leads)-1]
		cursor = &repository.StaleCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

// remind reports false without error when the tenant's mail gate is closed
func (s *FollowUpService) remind(ctx context.Context, lead *domain.Lead, gates map[uuid.UUID]mailGate) (bool, error) {
	gate, ok := gates[lead.TenantID]
	if !ok {
		gate.account, gate.open = s.mailer.Account(ctx, lead.TenantID)
		gates[lead.TenantID] = gate
	}
	if !gate.open {
		return false, nil
	}

	sender := s.mailer.sender
	bookingURL := strings.TrimRight(s.bookingBaseURL, "/") + "/" + lead.ID.String()
	sendErr := s.mailer.Send(ctx, mailReminder, lead, func(ctx context.Context) error {
		return sender.SendReminder(ctx, gate.account, lead, bookingURL)
	})

	if err := s.timelineRepo.Append(ctx, lead.ID, domain.TimelineReminderSent); err != nil {
		s.logger.Error("failed to record reminder",
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err),
		)
		return false, err
	}
	if sendErr != nil {
		return false, sendErr
	}
	s.metrics.IncReminderSent()
	return true, nil
}
