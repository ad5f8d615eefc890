package mapper

import (
	"fmt"

	"github.com/straye-as/lead-engine/internal/domain"
)

const timestampFormat = "2006-01-02T15:04:05Z"

// ToLeadDTO converts Lead to LeadDTO
func ToLeadDTO(lead *domain.Lead) domain.LeadDTO {
	dto := domain.LeadDTO{
		ID:          lead.ID,
		TenantID:    lead.TenantID,
		Name:        lead.Name,
		Email:       lead.Email,
		Phone:       lead.Phone,
		Source:      lead.Source,
		Budget:      lead.Budget,
		ServiceType: lead.ServiceType,
		Status:      lead.Status,
		Timeline:    make([]domain.TimelineEntryDTO, 0, len(lead.Timeline)),
		CreatedAt:   lead.CreatedAt.UTC().Format(timestampFormat),
		UpdatedAt:   lead.UpdatedAt.UTC().Format(timestampFormat),
	}

	if lead.AssignedAgent != nil {
		agent := ToAgentSummaryDTO(lead.AssignedAgent)
		dto.AssignedAgent = &agent
	}

	for i := range lead.Timeline {
		dto.Timeline = append(dto.Timeline, ToTimelineEntryDTO(&lead.Timeline[i]))
	}

	return dto
}

// ToLeadDTOs converts a slice of leads
func ToLeadDTOs(leads []domain.Lead) []domain.LeadDTO {
	dtos := make([]domain.LeadDTO, 0, len(leads))
	for i := range leads {
		dtos = append(dtos, ToLeadDTO(&leads[i]))
	}
	return dtos
}

// ToAgentSummaryDTO converts Agent to AgentSummaryDTO
func ToAgentSummaryDTO(agent *domain.Agent) domain.AgentSummaryDTO {
	return domain.AgentSummaryDTO{
		ID:               agent.ID,
		Name:             agent.Name,
		Email:            agent.Email,
		ActiveLeadsCount: agent.ActiveLeadsCount,
	}
}

// ToTimelineEntryDTO converts TimelineEntry to TimelineEntryDTO
func ToTimelineEntryDTO(entry *domain.TimelineEntry) domain.TimelineEntryDTO {
	return domain.TimelineEntryDTO{
		Event:     entry.Event,
		Timestamp: entry.CreatedAt.UTC().Format(timestampFormat),
	}
}

// FormatError creates a formatted error message
func FormatError(entity, operation string, err error) error {
	return fmt.Errorf("%s %s failed: %w", entity, operation, err)
}
