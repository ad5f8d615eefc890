package service

import (
	"strings"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/straye-as/lead-engine/internal/domain"
)

const defaultPhoneRegion = "NO"

// NormalizeEmail lower-cases and trims an address so lookups by email are exact matches
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizePhone(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultPhoneRegion)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// submission is a normalized lead candidate from any intake path
type submission struct {
	name        string
	email       string
	phone       string
	source      string
	budget      int64
	serviceType string
}

func submissionFromRequest(req *domain.CreateLeadRequest) submission {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = domain.LeadSourceForm
	}
	return submission{
		name:        strings.TrimSpace(req.Name),
		email:       NormalizeEmail(req.Email),
		phone:       NormalizePhone(req.Phone),
		source:      source,
		budget:      req.Budget,
		serviceType: strings.TrimSpace(req.ServiceType),
	}
}

func submissionFromRow(row domain.ImportLeadRow) submission {
	source := strings.TrimSpace(row.Source)
	if source == "" {
		source = domain.LeadSourceImport
	}
	return submission{
		name:        strings.TrimSpace(row.Name),
		email:       NormalizeEmail(row.Email),
		phone:       NormalizePhone(row.Phone),
		source:      source,
		budget:      row.Budget,
		serviceType: strings.TrimSpace(row.ServiceType),
	}
}

// newLead builds an unsaved lead from a submission
func (sub submission) newLead(tenantID uuid.UUID) *domain.Lead {
	name := sub.name
	if name == "" {
		name = sub.email
	}
	return &domain.Lead{
		TenantID:    tenantID,
		Name:        name,
		Email:       sub.email,
		Phone:       sub.phone,
		Source:      sub.source,
		Budget:      sub.budget,
		ServiceType: sub.serviceType,
		Status:      domain.LeadStatusNew,
	}
}

// mergeInto copies the submission's budget and non-empty contact fields onto an existing lead
func (sub submission) mergeInto(lead *domain.Lead) {
	lead.Budget = sub.budget
	if sub.name != "" {
		lead.Name = sub.name
	}
	if sub.phone != "" {
		lead.Phone = sub.phone
	}
	if sub.serviceType != "" {
		lead.ServiceType = sub.serviceType
	}
}

// mergeWith folds a later duplicate row of the same batch into this one
func (sub submission) mergeWith(later submission) submission {
	sub.budget = later.budget
	if later.name != "" {
		sub.name = later.name
	}
	if later.phone != "" {
		sub.phone = later.phone
	}
	if later.serviceType != "" {
		sub.serviceType = later.serviceType
	}
	return sub
}
