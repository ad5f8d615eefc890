package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	subjectRejection       = "About your request"
	subjectQualification   = "Let's book a meeting"
	subjectAcknowledgement = "We received your request"
	subjectReminder        = "Reminder: book your meeting"
	subjectProposal        = "Your proposal"
)

type emailData struct {
	Title       string
	Heading     string
	LeadName    string
	ServiceType string
	CTALabel    string
	CTAURL      string
	SenderName  string
}

func renderEmailTemplate(name string, data emailData) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
