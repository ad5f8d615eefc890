package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
)

// EmailSender delivers lead emails through a tenant's mail account
type EmailSender interface {
	SendRejection(ctx context.Context, account domain.MailAccount, lead *domain.Lead) error
	SendQualification(ctx context.Context, account domain.MailAccount, lead *domain.Lead, bookingURL string) error
	SendAcknowledgement(ctx context.Context, account domain.MailAccount, lead *domain.Lead) error
	SendReminder(ctx context.Context, account domain.MailAccount, lead *domain.Lead, bookingURL string) error
	SendProposal(ctx context.Context, account domain.MailAccount, lead *domain.Lead, pdf []byte) error
}

// ProposalRenderer produces the proposal PDF of a lead
type ProposalRenderer interface {
	RenderProposal(ctx context.Context, lead *domain.Lead) ([]byte, error)
}

// CredentialDecrypter opens an organization's encrypted mail credential
type CredentialDecrypter interface {
	Decrypt(encrypted string) (string, error)
}

// ProposalArchive stores a copy of each sent proposal and returns its storage key
type ProposalArchive interface {
	Store(ctx context.Context, tenantID, leadID uuid.UUID, pdf []byte) (string, error)
}
