package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/logger"
	"github.com/straye-as/lead-engine/internal/metrics"
	"github.com/straye-as/lead-engine/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Mail kinds, used as metric labels and log fields
const (
	mailRejection       = "rejection"
	mailQualification   = "qualification"
	mailAcknowledgement = "acknowledgement"
	mailReminder        = "reminder"
	mailProposal        = "proposal"
)

// DefaultMailTimeout bounds one asynchronous send
const DefaultMailTimeout = 30 * time.Second

// MailDispatcher resolves a tenant's mail account and runs sends.
// Asynchronous sends are tracked so shutdown and tests can wait for them.
type MailDispatcher struct {
	orgRepo   *repository.OrganizationRepository
	decrypter CredentialDecrypter
	sender    EmailSender
	metrics   *metrics.Metrics
	logger    *zap.Logger
	timeout   time.Duration

	wg sync.WaitGroup
}

func NewMailDispatcher(
	orgRepo *repository.OrganizationRepository,
	decrypter CredentialDecrypter,
	sender EmailSender,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MailDispatcher {
	return &MailDispatcher{
		orgRepo:   orgRepo,
		decrypter: decrypter,
		sender:    sender,
		metrics:   m,
		logger:    logger,
		timeout:   DefaultMailTimeout,
	}
}

// Account returns the tenant's decrypted mail account. The second result is false when the
// email service is disabled, the organization is unknown, or the credential cannot be decrypted.
func (d *MailDispatcher) Account(ctx context.Context, tenantID uuid.UUID) (domain.MailAccount, bool) {
	org, err := d.orgRepo.GetByID(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			d.logger.Warn("failed to load organization for email gate",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
		return domain.MailAccount{}, false
	}
	if !org.EmailServiceEnabled {
		return domain.MailAccount{}, false
	}

	password, err := d.decrypter.Decrypt(org.MailCredential)
	if err != nil {
		d.logger.Warn("mail credential could not be decrypted, email automation skipped",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return domain.MailAccount{}, false
	}
	return domain.MailAccountFor(org, password), true
}

// Go runs send on a tracked goroutine. Failures are logged and counted, never returned.
func (d *MailDispatcher) Go(kind string, lead *domain.Lead, send func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		_ = d.Send(ctx, kind, lead, send)
	}()
}

// Send runs send synchronously and returns its error wrapped in ErrExternalService
func (d *MailDispatcher) Send(ctx context.Context, kind string, lead *domain.Lead, send func(ctx context.Context) error) error {
	if err := send(ctx); err != nil {
		d.metrics.IncEmailFailure(kind)
		logger.WithLead(d.logger, lead.TenantID.String(), lead.ID.String()).Error("failed to send lead email",
			zap.String("kind", kind),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s email: %v", ErrExternalService, kind, err)
	}
	d.metrics.IncEmailSent(kind)
	return nil
}

// Drain waits for pending asynchronous sends or until ctx is done
func (d *MailDispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
