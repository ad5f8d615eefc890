package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/database"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetupTestDB opens a private in-memory SQLite database with the schema migrated.
// A single connection keeps every query on the same in-memory database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	cfg := database.GormConfig()
	cfg.DisableForeignKeyConstraintWhenMigrating = true

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	require.NoError(t, err, "Failed to open sqlite test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// CreateTestOrganization creates an organization with the given email settings
func CreateTestOrganization(t *testing.T, db *gorm.DB, emailEnabled bool, credential string) *domain.Organization {
	t.Helper()
	org := &domain.Organization{
		Name:                "Test Org " + uuid.NewString()[:8],
		EmailServiceEnabled: emailEnabled,
		MailCredential:      credential,
		SMTPHost:            "smtp.example.com",
		SMTPPort:            587,
		SMTPUsername:        "mailer@example.com",
		FromEmail:           "sales@example.com",
		FromName:            "Sales",
	}
	require.NoError(t, db.Create(org).Error)
	return org
}

// CreateTestAgent creates an assignable ACTIVE agent with the given counter
func CreateTestAgent(t *testing.T, db *gorm.DB, tenantID uuid.UUID, name string, activeLeads int) *domain.Agent {
	t.Helper()
	agent := &domain.Agent{
		TenantID:         tenantID,
		Name:             name,
		Email:            strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		ActiveLeadsCount: activeLeads,
		IsAssignable:     true,
		Status:           domain.AgentStatusActive,
	}
	require.NoError(t, db.Omit(clause.Associations).Create(agent).Error)
	return agent
}

// CreateTestLead inserts a lead directly, bypassing intake rules.
// A zero createdAt means now.
func CreateTestLead(t *testing.T, db *gorm.DB, tenantID uuid.UUID, email string, status domain.LeadStatus, agentID *uuid.UUID, createdAt time.Time) *domain.Lead {
	t.Helper()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	lead := &domain.Lead{
		TenantID:        tenantID,
		Name:            "Lead " + email,
		Email:           email,
		Budget:          10000,
		Status:          status,
		AssignedAgentID: agentID,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	require.NoError(t, db.Omit(clause.Associations).Create(lead).Error)
	return lead
}

// ReloadAgent re-reads an agent's current counter from the store
func ReloadAgent(t *testing.T, db *gorm.DB, id uuid.UUID) *domain.Agent {
	t.Helper()
	var agent domain.Agent
	require.NoError(t, db.Where("id = ?", id).First(&agent).Error)
	return &agent
}
