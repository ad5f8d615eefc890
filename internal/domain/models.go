package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeadStatus represents the lifecycle status of a lead
type LeadStatus string

const (
	LeadStatusNew           LeadStatus = "NEW"
	LeadStatusQualified     LeadStatus = "QUALIFIED"
	LeadStatusRejected      LeadStatus = "REJECTED"
	LeadStatusMeetingBooked LeadStatus = "MEETING_BOOKED"
	LeadStatusProposalSent  LeadStatus = "PROPOSAL_SENT"
	LeadStatusWon           LeadStatus = "WON"
	LeadStatusLost          LeadStatus = "LOST"
)

// TerminalLeadStatuses are the statuses that release the assigned agent's workload slot
var TerminalLeadStatuses = []LeadStatus{LeadStatusWon, LeadStatusLost, LeadStatusRejected}

// IsValid checks if the LeadStatus is a valid enum value
func (s LeadStatus) IsValid() bool {
	switch s {
	case LeadStatusNew, LeadStatusQualified, LeadStatusRejected, LeadStatusMeetingBooked,
		LeadStatusProposalSent, LeadStatusWon, LeadStatusLost:
		return true
	}
	return false
}

// IsTerminal reports whether the status closes the lead
func (s LeadStatus) IsTerminal() bool {
	for _, t := range TerminalLeadStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// IsOpen reports whether a lead in this status occupies a workload slot
func (s LeadStatus) IsOpen() bool {
	return !s.IsTerminal()
}

// Lead source values used by intake paths
const (
	LeadSourceForm   = "form"
	LeadSourceAdmin  = "admin"
	LeadSourceImport = "import"
)

// Lead is an inbound sales lead scoped to a tenant.
// (tenant_id, status, email) is unique, so closed and open rows for one email coexist.
type Lead struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_leads_tenant_status_email,priority:1;index"`
	Name            string          `gorm:"type:varchar(200);not null"`
	Email           string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_leads_tenant_status_email,priority:3"`
	Phone           string          `gorm:"type:varchar(50)"`
	Source          string          `gorm:"type:varchar(50)"`
	Budget          int64           `gorm:"not null;default:0"`
	ServiceType     string          `gorm:"type:varchar(100);column:service_type"`
	Status          LeadStatus      `gorm:"type:varchar(32);not null;default:'NEW';uniqueIndex:idx_leads_tenant_status_email,priority:2;index"`
	AssignedAgentID *uuid.UUID      `gorm:"type:uuid;column:assigned_agent_id;index"`
	AssignedAgent   *Agent          `gorm:"foreignKey:AssignedAgentID"`
	Timeline        []TimelineEntry `gorm:"foreignKey:LeadID"`
	CreatedAt       time.Time       `gorm:"not null;index"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

// BeforeCreate assigns the primary key so inserts work on every dialect
func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// IsOpen reports whether the lead currently occupies a workload slot
func (l *Lead) IsOpen() bool {
	return l.Status.IsOpen()
}

// HasTimelineEvent reports whether the timeline contains the given event
func (l *Lead) HasTimelineEvent(event string) bool {
	for _, e := range l.Timeline {
		if e.Event == event {
			return true
		}
	}
	return false
}

// Timeline event texts
const (
	TimelineLeadCreated         = "Lead created"
	TimelineLeadImported        = "Lead imported"
	TimelineBudgetUpdated       = "budget updated"
	TimelineAutoRejected        = "auto-rejected: low budget"
	TimelineAutoQualified       = "auto-qualified: high budget"
	TimelineNeedsReview         = "needs manual review"
	TimelineReminderSent        = "reminder sent"
	TimelineProposalSent        = "proposal sent"
	TimelineProposalArchivedFmt = "proposal archived: %s"
	TimelineAgentReassigned     = "agent reassigned"
	TimelineStatusChangedFmt    = "status changed from %s to %s"
)

// TimelineEntry is one append-only audit event of a lead.
// The autoincrement ID gives a stable order for entries sharing a timestamp.
type TimelineEntry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	LeadID    uuid.UUID `gorm:"type:uuid;not null;index;column:lead_id"`
	Event     string    `gorm:"type:varchar(255);not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (TimelineEntry) TableName() string {
	return "lead_timeline_entries"
}

// AgentStatus represents the employment status of a sales agent
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "ACTIVE"
	AgentStatusPending  AgentStatus = "PENDING"
	AgentStatusInactive AgentStatus = "INACTIVE"
)

// Agent is a human sales user eligible for lead assignment.
// ActiveLeadsCount equals the number of open leads referencing the agent.
type Agent struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey"`
	TenantID         uuid.UUID   `gorm:"type:uuid;not null;index"`
	Name             string      `gorm:"type:varchar(200);not null"`
	Email            string      `gorm:"type:varchar(255);not null"`
	ActiveLeadsCount int         `gorm:"not null;default:0;column:active_leads_count"`
	IsAssignable     bool        `gorm:"not null;column:is_assignable"`
	Status           AgentStatus `gorm:"type:varchar(20);not null;default:'ACTIVE'"`
	CreatedAt        time.Time   `gorm:"not null"`
	UpdatedAt        time.Time   `gorm:"not null"`
}

// BeforeCreate assigns the primary key so inserts work on every dialect
func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// CanReceiveLeads reports whether the agent is eligible for assignment
func (a *Agent) CanReceiveLeads() bool {
	return a.IsAssignable && a.Status == AgentStatusActive
}

// Organization is the tenant record. It is owned by the organization service and read-only here.
type Organization struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name                string    `gorm:"type:varchar(200);not null"`
	EmailServiceEnabled bool      `gorm:"not null;default:false;column:email_service_enabled"`
	// MailCredential is the AES-GCM encrypted SMTP password of the tenant's mail account
	MailCredential string    `gorm:"type:text;column:mail_credential"`
	SMTPHost       string    `gorm:"type:varchar(255);column:smtp_host"`
	SMTPPort       int       `gorm:"column:smtp_port"`
	SMTPUsername   string    `gorm:"type:varchar(255);column:smtp_username"`
	FromEmail      string    `gorm:"type:varchar(255);column:from_email"`
	FromName       string    `gorm:"type:varchar(200);column:from_name"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// BeforeCreate assigns the primary key so inserts work on every dialect
func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
