// Package email delivers lead notifications through each tenant's own SMTP account.
package email

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/straye-as/lead-engine/internal/config"
	"github.com/straye-as/lead-engine/internal/domain"
	gomail "github.com/wneessen/go-mail"
)

// Attachment is a file attached to an outgoing message
type Attachment struct {
	Content  []byte
	FileName string
}

// deliverFunc sends a built message with the given account
type deliverFunc func(ctx context.Context, account domain.MailAccount, msg *gomail.Msg) error

// SMTPSender renders lead emails and sends them through the tenant's SMTP server
type SMTPSender struct {
	defaultHost string
	defaultPort int
	fromName    string
	timeout     time.Duration
	deliver     deliverFunc
}

// NewSMTPSender creates a sender. Host and port fall back to the configured defaults
// when an organization leaves them empty.
func NewSMTPSender(cfg *config.EmailConfig) *SMTPSender {
	s := &SMTPSender{
		defaultHost: cfg.DefaultHost,
		defaultPort: cfg.DefaultPort,
		fromName:    cfg.FromName,
		timeout:     cfg.TimeoutDuration(),
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	s.deliver = s.dialAndSend
	return s
}

func (s *SMTPSender) SendRejection(ctx context.Context, account domain.MailAccount, lead *domain.Lead) error {
	return s.sendTemplate(ctx, account, lead, subjectRejection, "rejection.html", emailData{
		Title:   subjectRejection,
		Heading: "Thank you for your interest",
	})
}

func (s *SMTPSender) SendQualification(ctx context.Context, account domain.MailAccount, lead *domain.Lead, bookingURL string) error {
	return s.sendTemplate(ctx, account, lead, subjectQualification, "qualification.html", emailData{
		Title:    subjectQualification,
		Heading:  "Your project qualifies",
		CTALabel: "Book a meeting",
		CTAURL:   bookingURL,
	})
}

func (s *SMTPSender) SendAcknowledgement(ctx context.Context, account domain.MailAccount, lead *domain.Lead) error {
	return s.sendTemplate(ctx, account, lead, subjectAcknowledgement, "acknowledgement.html", emailData{
		Title:   subjectAcknowledgement,
		Heading: "Thank you for your request",
	})
}

func (s *SMTPSender) SendReminder(ctx context.Context, account domain.MailAccount, lead *domain.Lead, bookingURL string) error {
	return s.sendTemplate(ctx, account, lead, subjectReminder, "reminder.html", emailData{
		Title:    subjectReminder,
		Heading:  "Still interested?",
		CTALabel: "Book a meeting",
		CTAURL:   bookingURL,
	})
}

func (s *SMTPSender) SendProposal(ctx context.Context, account domain.MailAccount, lead *domain.Lead, pdf []byte) error {
	return s.sendTemplate(ctx, account, lead, subjectProposal, "proposal.html", emailData{
		Title:   subjectProposal,
		Heading: "Your proposal is ready",
	}, Attachment{
		Content:  pdf,
		FileName: fmt.Sprintf("proposal-%s.pdf", lead.ID.String()[:8]),
	})
}

func (s *SMTPSender) sendTemplate(ctx context.Context, account domain.MailAccount, lead *domain.Lead, subject, name string, data emailData, attachments ...Attachment) error {
	data.LeadName = lead.Name
	data.ServiceType = lead.ServiceType
	data.SenderName = s.senderName(account)

	content, err := renderEmailTemplate(name, data)
	if err != nil {
		return err
	}

	msg, err := s.buildMessage(account, lead.Email, subject, content, attachments...)
	if err != nil {
		return err
	}
	return s.deliver(ctx, account, msg)
}

func (s *SMTPSender) buildMessage(account domain.MailAccount, toEmail, subject, htmlContent string, attachments ...Attachment) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.senderName(account), account.FromEmail); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return nil, fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	for _, att := range attachments {
		if err := msg.AttachReader(att.FileName, bytes.NewReader(att.Content)); err != nil {
			return nil, fmt.Errorf("smtp attach %s: %w", att.FileName, err)
		}
	}
	return msg, nil
}

func (s *SMTPSender) dialAndSend(ctx context.Context, account domain.MailAccount, msg *gomail.Msg) error {
	host := account.Host
	if host == "" {
		host = s.defaultHost
	}
	port := account.Port
	if port == 0 {
		port = s.defaultPort
	}

	client, err := gomail.NewClient(host,
		gomail.WithPort(port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(account.Username),
		gomail.WithPassword(account.Password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(s.timeout),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) senderName(account domain.MailAccount) string {
	if account.FromName != "" {
		return account.FromName
	}
	return s.fromName
}
