package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/events"
	"github.com/straye-as/lead-engine/internal/service"
	"github.com/straye-as/lead-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestUpdateLeadStatus_ClosingReleasesAgentOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	agent := testutil.CreateTestAgent(t, f.db, f.org.ID, "Closer", 3)

	lead, err := f.svc.CreateLead(ctx, newLeadRequest("close@example.com", 10000), f.org.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 4, f.agentCount(t, agent.ID))

	won, err := f.svc.UpdateLeadStatus(ctx, lead.ID, domain.LeadStatusWon, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusWon, won.Status)
	assert.Equal(t, 3, f.agentCount(t, agent.ID))

	again, err := f.svc.UpdateLeadStatus(ctx, lead.ID, domain.LeadStatusWon, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, f.agentCount(t, agent.ID))

	timeline := timelineEvents(again)
	assert.Contains(t, timeline, "status changed from NEW to WON")
	assert.Contains(t, timeline, "status changed from WON to WON")
}

func TestUpdateLeadStatus_OpenToOpenKeepsCounter(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	agent := testutil.CreateTestAgent(t, f.db, f.org.ID, "Keeper", 0)

	lead, err := f.svc.CreateLead(ctx, newLeadRequest("keep@example.com", 10000), f.org.ID, nil)
	require.NoError(t, err)

	for _, status := range []domain.LeadStatus{domain.LeadStatusQualified, domain.LeadStatusMeetingBooked, domain.LeadStatusProposalSent} {
		_, err := f.svc.UpdateLeadStatus(ctx, lead.ID, status, f.org.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, f.agentCount(t, agent.ID), "after %s", status)
	}
}

func TestUpdateLeadStatus_ReopenTakesSlotAgain(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	agent := testutil.CreateTestAgent(t, f.db, f.org.ID, "Reopener", 0)
	lead := testutil.CreateTestLead(t, f.db, f.org.ID, "reopen@example.com", domain.LeadStatusLost, &agent.ID, time.Time{})

	reopened, err := f.svc.UpdateLeadStatus(ctx, lead.ID, domain.LeadStatusQualified, f.org.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.LeadStatusQualified, reopened.Status)
	assert.Equal(t, 1, f.agentCount(t, agent.ID))
}

func TestUpdateLeadStatus_ReopenConflictsWithOpenLead(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	closed := testutil.CreateTestLead(t, f.db, f.org.ID, "twice@example.com", domain.LeadStatusLost, nil, time.Time{})
	testutil.CreateTestLead(t, f.db, f.org.ID, "twice@example.com", domain.LeadStatusNew, nil, time.Time{})

	_, err := f.svc.UpdateLeadStatus(ctx, closed.ID, domain.LeadStatusQualified, f.org.ID)
	assert.ErrorIs(t, err, service.ErrConflict)

	stored, err := f.svc.GetLead(ctx, closed.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusLost, stored.Status)
}

func TestUpdateLeadStatus_Errors(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	lead := testutil.CreateTestLead(t, f.db, f.org.ID, "errors@example.com", domain.LeadStatusNew, nil, time.Time{})

	_, err := f.svc.UpdateLeadStatus(ctx, lead.ID, domain.LeadStatus("ARCHIVED"), f.org.ID)
	assert.ErrorIs(t, err, service.ErrInvalidStatus)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.svc.UpdateLeadStatus(ctx, uuid.New(), domain.LeadStatusWon, f.org.ID)
	assert.ErrorIs(t, err, service.ErrLeadNotFound)

	_, err = f.svc.UpdateLeadStatus(ctx, lead.ID, domain.LeadStatusWon, uuid.New())
	assert.ErrorIs(t, err, service.ErrLeadNotFound)

	assert.Empty(t, f.publisher.all())
}

func TestUpdateLeadFields(t *testing.T) {
	ctx := context.Background()

	t.Run("plain fields leave counters alone", func(t *testing.T) {
		f := newFixture(t, false)
		agent := testutil.CreateTestAgent(t, f.db, f.org.ID, "Steady", 0)
		lead, err := f.svc.CreateLead(ctx, newLeadRequest("fields@example.com", 10000), f.org.ID, nil)
		require.NoError(t, err)
		// Drift the counter so an unwanted rebalance would show
		require.NoError(t, f.db.Model(agent).Update("active_leads_count", 7).Error)

		name := "Renamed Lead"
		budget := int64(99000)
		updated, err := f.svc.UpdateLeadFields(ctx, lead.ID, &domain.UpdateLeadRequest{Name: &name, Budget: &budget}, f.org.ID)
		require.NoError(t, err)

		assert.Equal(t, name, updated.Name)
		assert.Equal(t, budget, updated.Budget)
		assert.Equal(t, domain.LeadStatusNew, updated.Status, "field updates never triage")
		assert.Equal(t, 7, f.agentCount(t, agent.ID))
	})

	t.Run("status among the fields applies the closing rule", func(t *testing.T) {
		f := newFixture(t, false)
		agent := testutil.CreateTestAgent(t, f.db, f.org.ID, "Closer", 0)
		lead, err := f.svc.CreateLead(ctx, newLeadRequest("fieldstatus@example.com", 10000), f.org.ID, nil)
		require.NoError(t, err)

		lost := domain.LeadStatusLost
		updated, err := f.svc.UpdateLeadFields(ctx, lead.ID, &domain.UpdateLeadRequest{Status: &lost}, f.org.ID)
		require.NoError(t, err)

		assert.Equal(t, domain.LeadStatusLost, updated.Status)
		assert.Equal(t, 0, f.agentCount(t, agent.ID))
		assert.Contains(t, timelineEvents(updated), "status changed from NEW to LOST")
	})

	t.Run("reassignment moves the slot", func(t *testing.T) {
		f := newFixture(t, false)
		from := testutil.CreateTestAgent(t, f.db, f.org.ID, "From Agent", 0)
		to := testutil.CreateTestAgent(t, f.db, f.org.ID, "To Agent", 5)
		lead, err := f.svc.CreateLead(ctx, newLeadRequest("move@example.com", 10000), f.org.ID, &from.ID)
		require.NoError(t, err)

		updated, err := f.svc.UpdateLeadFields(ctx, lead.ID, &domain.UpdateLeadRequest{AgentID: &to.ID}, f.org.ID)
		require.NoError(t, err)

		require.NotNil(t, updated.AssignedAgent)
		assert.Equal(t, to.ID, updated.AssignedAgent.ID)
		assert.Equal(t, 0, f.agentCount(t, from.ID))
		assert.Equal(t, 6, f.agentCount(t, to.ID))
		assert.Contains(t, timelineEvents(updated), domain.TimelineAgentReassigned)
	})

	t.Run("nil uuid unassigns", func(t *testing.T) {
		f := newFixture(t, false)
		agent := testutil.CreateTestAgent(t, f.db, f.org.ID, "Leaving", 0)
		lead, err := f.svc.CreateLead(ctx, newLeadRequest("unassign@example.com", 10000), f.org.ID, nil)
		require.NoError(t, err)

		none := uuid.Nil
		updated, err := f.svc.UpdateLeadFields(ctx, lead.ID, &domain.UpdateLeadRequest{AgentID: &none}, f.org.ID)
		require.NoError(t, err)

		assert.Nil(t, updated.AssignedAgent)
		assert.Equal(t, 0, f.agentCount(t, agent.ID))
	})

	t.Run("unassignable agent is rejected", func(t *testing.T) {
		f := newFixture(t, false)
		blocked := testutil.CreateTestAgent(t, f.db, f.org.ID, "Blocked", 0)
		require.NoError(t, f.db.Model(blocked).Update("is_assignable", false).Error)
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "blocked@example.com", domain.LeadStatusNew, nil, time.Time{})

		_, err := f.svc.UpdateLeadFields(ctx, lead.ID, &domain.UpdateLeadRequest{AgentID: &blocked.ID}, f.org.ID)
		assert.ErrorIs(t, err, service.ErrAgentNotAssignable)
	})

	t.Run("email change onto another open lead conflicts", func(t *testing.T) {
		f := newFixture(t, false)
		testutil.CreateTestLead(t, f.db, f.org.ID, "taken@example.com", domain.LeadStatusNew, nil, time.Time{})
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "mine@example.com", domain.LeadStatusQualified, nil, time.Time{})

		email := "Taken@Example.com"
		_, err := f.svc.UpdateLeadFields(ctx, lead.ID, &domain.UpdateLeadRequest{Email: &email}, f.org.ID)
		assert.ErrorIs(t, err, service.ErrConflict)
	})

	t.Run("invalid status", func(t *testing.T) {
		f := newFixture(t, false)
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "badstatus@example.com", domain.LeadStatusNew, nil, time.Time{})

		bogus := domain.LeadStatus("PAUSED")
		_, err := f.svc.UpdateLeadFields(ctx, lead.ID, &domain.UpdateLeadRequest{Status: &bogus}, f.org.ID)
		assert.ErrorIs(t, err, service.ErrInvalidStatus)
	})

	t.Run("publishes the updated lead", func(t *testing.T) {
		f := newFixture(t, false)
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "publish@example.com", domain.LeadStatusNew, nil, time.Time{})

		serviceType := "roofing"
		_, err := f.svc.UpdateLeadFields(ctx, lead.ID, &domain.UpdateLeadRequest{ServiceType: &serviceType}, f.org.ID)
		require.NoError(t, err)

		published := f.publisher.all()
		require.Len(t, published, 1)
		updated, ok := published[0].(events.LeadUpdated)
		require.True(t, ok)
		assert.Equal(t, "roofing", updated.Lead.ServiceType)
	})
}

func TestSendProposal(t *testing.T) {
	ctx := context.Background()

	t.Run("sends and archives the pdf", func(t *testing.T) {
		f := newFixture(t, true)
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "proposal@example.com", domain.LeadStatusMeetingBooked, nil, time.Time{})

		sent, err := f.svc.SendProposal(ctx, lead.ID, f.org.ID)
		require.NoError(t, err)

		assert.Equal(t, domain.LeadStatusProposalSent, sent.Status)
		assert.Equal(t, 1, f.sender.count("proposal"))

		timeline := timelineEvents(sent)
		assert.Contains(t, timeline, "status changed from MEETING_BOOKED to PROPOSAL_SENT")
		assert.Contains(t, timeline, domain.TimelineProposalSent)

		var archived string
		for _, event := range timeline {
			if strings.HasPrefix(event, "proposal archived: ") {
				archived = strings.TrimPrefix(event, "proposal archived: ")
			}
		}
		require.NotEmpty(t, archived)
		data, err := os.ReadFile(filepath.Join(f.storeDir, filepath.FromSlash(archived)))
		require.NoError(t, err)
		assert.Contains(t, string(data), "proposal@example.com")
	})

	t.Run("timeline failure after delivery still succeeds", func(t *testing.T) {
		f := newFixture(t, true)
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "delivered@example.com", domain.LeadStatusMeetingBooked, nil, time.Time{})

		var failTimeline atomic.Bool
		require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_timeline", func(tx *gorm.DB) {
			if failTimeline.Load() && tx.Statement.Table == "lead_timeline_entries" {
				_ = tx.AddError(errors.New("disk full"))
			}
		}))
		f.sender.afterSend = func(kind string) {
			if kind == "proposal" {
				failTimeline.Store(true)
			}
		}

		dto, err := f.svc.SendProposal(ctx, lead.ID, f.org.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LeadStatusProposalSent, dto.Status)
		assert.Equal(t, 1, f.sender.count("proposal"))
		assert.NotContains(t, timelineEvents(dto), domain.TimelineProposalSent)
	})

	t.Run("send failure keeps the status change", func(t *testing.T) {
		f := newFixture(t, true)
		f.sender.setFailure(errSMTPDown)
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "fail@example.com", domain.LeadStatusQualified, nil, time.Time{})

		dto, err := f.svc.SendProposal(ctx, lead.ID, f.org.ID)
		assert.ErrorIs(t, err, service.ErrExternalService)
		require.NotNil(t, dto)
		assert.Equal(t, domain.LeadStatusProposalSent, dto.Status)

		stored, err := f.svc.GetLead(ctx, lead.ID, f.org.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LeadStatusProposalSent, stored.Status)
		assert.NotContains(t, timelineEvents(stored), domain.TimelineProposalSent)
	})

	t.Run("render failure is reported", func(t *testing.T) {
		f := newFixture(t, true)
		f.renderer.failWith = errors.New("gotenberg: 503")
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "render@example.com", domain.LeadStatusQualified, nil, time.Time{})

		_, err := f.svc.SendProposal(ctx, lead.ID, f.org.ID)
		assert.ErrorIs(t, err, service.ErrExternalService)
		assert.Zero(t, f.sender.total())
	})

	t.Run("email service disabled", func(t *testing.T) {
		f := newFixture(t, false)
		lead := testutil.CreateTestLead(t, f.db, f.org.ID, "nomail@example.com", domain.LeadStatusQualified, nil, time.Time{})

		dto, err := f.svc.SendProposal(ctx, lead.ID, f.org.ID)
		assert.ErrorIs(t, err, service.ErrExternalService)
		require.NotNil(t, dto)
		assert.Equal(t, domain.LeadStatusProposalSent, dto.Status)
		assert.Zero(t, f.renderer.calls)
	})

	t.Run("unknown lead", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.svc.SendProposal(ctx, uuid.New(), f.org.ID)
		assert.ErrorIs(t, err, service.ErrLeadNotFound)
	})
}
