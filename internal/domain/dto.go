package domain

import (
	"github.com/google/uuid"
)

// CreateLeadRequest is a lead submission from the public form or an admin
type CreateLeadRequest struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Email       string     `json:"email" validate:"required,email,max=255"`
	Phone       string     `json:"phone,omitempty" validate:"omitempty,max=50"`
	Source      string     `json:"source,omitempty" validate:"omitempty,max=50"`
	Budget      int64      `json:"budget" validate:"gte=0"`
	ServiceType string     `json:"serviceType,omitempty" validate:"omitempty,max=100"`
	AgentID     *uuid.UUID `json:"agentId,omitempty"`
}

// UpdateLeadRequest is a partial update; nil fields are left unchanged
type UpdateLeadRequest struct {
	Name        *string     `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Email       *string     `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Phone       *string     `json:"phone,omitempty" validate:"omitempty,max=50"`
	Source      *string     `json:"source,omitempty" validate:"omitempty,max=50"`
	Budget      *int64      `json:"budget,omitempty" validate:"omitempty,gte=0"`
	ServiceType *string     `json:"serviceType,omitempty" validate:"omitempty,max=100"`
	Status      *LeadStatus `json:"status,omitempty"`
	AgentID     *uuid.UUID  `json:"agentId,omitempty"`
}

// UpdateLeadStatusRequest is a manual status change
type UpdateLeadStatusRequest struct {
	Status LeadStatus `json:"status" validate:"required"`
}

// ImportLeadRow is one raw row of a bulk import. Rows without email are discarded.
type ImportLeadRow struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	Source      string `json:"source,omitempty"`
	Budget      int64  `json:"budget"`
	ServiceType string `json:"serviceType,omitempty"`
}

// ImportLeadsRequest wraps the rows of a bulk import
type ImportLeadsRequest struct {
	Rows []ImportLeadRow `json:"rows" validate:"required,max=5000"`
}

// ImportResultDTO reports a best-effort import outcome
type ImportResultDTO struct {
	Count   int  `json:"count"`
	Success bool `json:"success"`
}

// TimelineEntryDTO is one timeline event
type TimelineEntryDTO struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// AgentSummaryDTO is the assigned agent as embedded in a lead
type AgentSummaryDTO struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	ActiveLeadsCount int       `json:"activeLeadsCount"`
}

// LeadDTO is the lead as returned to clients and carried in events
type LeadDTO struct {
	ID            uuid.UUID          `json:"id"`
	TenantID      uuid.UUID          `json:"tenantId"`
	Name          string             `json:"name"`
	Email         string             `json:"email"`
	Phone         string             `json:"phone,omitempty"`
	Source        string             `json:"source,omitempty"`
	Budget        int64              `json:"budget"`
	ServiceType   string             `json:"serviceType,omitempty"`
	Status        LeadStatus         `json:"status"`
	AssignedAgent *AgentSummaryDTO   `json:"assignedAgent,omitempty"`
	Timeline      []TimelineEntryDTO `json:"timeline"`
	CreatedAt     string             `json:"createdAt"`
	UpdatedAt     string             `json:"updatedAt"`
}

// PaginatedResponse is a page of items plus the total count
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}
