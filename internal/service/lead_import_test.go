package service_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/events"
	"github.com/straye-as/lead-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func importRows(n int, prefix string) []domain.ImportLeadRow {
	rows := make([]domain.ImportLeadRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, domain.ImportLeadRow{
			Name:   fmt.Sprintf("Imported %d", i),
			Email:  fmt.Sprintf("%s-%d@example.com", prefix, i),
			Budget: int64(1000 * (i + 1)),
		})
	}
	return rows
}

func TestImportLeads_SpreadsAcrossEquallyLoadedAgents(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct{ rows, agents int }{{10, 3}, {7, 7}, {25, 4}, {1, 2}} {
		t.Run(fmt.Sprintf("%d rows over %d agents", tc.rows, tc.agents), func(t *testing.T) {
			f := newFixture(t, true)
			agents := make([]*domain.Agent, 0, tc.agents)
			for i := 0; i < tc.agents; i++ {
				agents = append(agents, testutil.CreateTestAgent(t, f.db, f.org.ID, fmt.Sprintf("Import Agent %d", i), 2))
			}

			result, err := f.svc.ImportLeads(ctx, importRows(tc.rows, "spread"), f.org.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.rows, result.Count)
			assert.True(t, result.Success)

			assigned := make(map[uuid.UUID]int)
			var leads []domain.Lead
			require.NoError(t, f.db.Where("tenant_id = ?", f.org.ID).Find(&leads).Error)
			for _, lead := range leads {
				require.NotNil(t, lead.AssignedAgentID)
				assigned[*lead.AssignedAgentID]++
			}

			minLoad, maxLoad := tc.rows, 0
			for _, agent := range agents {
				n := assigned[agent.ID]
				minLoad = min(minLoad, n)
				maxLoad = max(maxLoad, n)
				assert.Equal(t, 2+n, f.agentCount(t, agent.ID), "counter matches assignments")
			}
			assert.LessOrEqual(t, maxLoad-minLoad, 1)

			f.drain(t)
			assert.Zero(t, f.sender.total(), "imports never send triage emails")
		})
	}
}

func TestImportLeads_BalancesAgainstExistingLoad(t *testing.T) {
	f := newFixture(t, false)
	busy := testutil.CreateTestAgent(t, f.db, f.org.ID, "Busy", 4)
	idle := testutil.CreateTestAgent(t, f.db, f.org.ID, "Idle", 0)

	_, err := f.svc.ImportLeads(context.Background(), importRows(6, "balance"), f.org.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, f.agentCount(t, busy.ID))
	assert.Equal(t, 5, f.agentCount(t, idle.ID))
}

func TestImportLeads_RowHandling(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	existing := testutil.CreateTestLead(t, f.db, f.org.ID, "known@example.com", domain.LeadStatusQualified, nil, time.Time{})

	rows := []domain.ImportLeadRow{
		{Name: "No Email", Budget: 5000},
		{Name: "Known Again", Email: "KNOWN@example.com", Budget: 12345},
		{Name: "Twin", Email: "twin@example.com", Budget: 100},
		{Name: "Twin Later", Email: "twin@example.com", Budget: 200, Phone: "912 34 567"},
		{Name: "Fresh", Email: "fresh@example.com", Budget: 300},
	}

	result, err := f.svc.ImportLeads(ctx, rows, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
	assert.True(t, result.Success)

	merged, err := f.svc.GetLead(ctx, existing.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), merged.Budget)
	assert.Equal(t, domain.LeadStatusQualified, merged.Status)
	assert.Equal(t, "Known Again", merged.Name)
	assert.Contains(t, timelineEvents(merged), domain.TimelineBudgetUpdated)

	assert.Equal(t, int64(1), f.countLeads(t, "twin@example.com"))
	var twin domain.Lead
	require.NoError(t, f.db.Where("email = ?", "twin@example.com").First(&twin).Error)
	assert.Equal(t, int64(200), twin.Budget)
	assert.Equal(t, "Twin Later", twin.Name)
	assert.Equal(t, "+4791234567", twin.Phone)
	assert.Equal(t, domain.LeadStatusNew, twin.Status)
	assert.Equal(t, domain.LeadSourceImport, twin.Source)

	var total int64
	require.NoError(t, f.db.Model(&domain.Lead{}).Where("tenant_id = ?", f.org.ID).Count(&total).Error)
	assert.Equal(t, int64(3), total)
}

func TestImportLeads_InvalidRowsAreReported(t *testing.T) {
	f := newFixture(t, false)

	rows := []domain.ImportLeadRow{
		{Name: "Broken", Email: "not-an-address", Budget: 1000},
		{Name: "Negative", Email: "neg@example.com", Budget: -1},
		{Name: "Fine", Email: "fine@example.com", Budget: 1000},
	}

	result, err := f.svc.ImportLeads(context.Background(), rows, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.False(t, result.Success)
}

func TestImportLeads_OnlyRowsWithoutEmail(t *testing.T) {
	f := newFixture(t, false)

	result, err := f.svc.ImportLeads(context.Background(), []domain.ImportLeadRow{{Name: "Nobody"}}, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.True(t, result.Success)
	assert.Empty(t, f.publisher.all())
}

func TestImportLeads_EventsConvergeWithFreshFetch(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	testutil.CreateTestAgent(t, f.db, f.org.ID, "Agent A", 0)
	testutil.CreateTestAgent(t, f.db, f.org.ID, "Agent B", 0)
	testutil.CreateTestLead(t, f.db, f.org.ID, "returning@example.com", domain.LeadStatusNew, nil, time.Time{})

	initial, err := f.svc.ListLeads(ctx, f.org.ID, 1, 200)
	require.NoError(t, err)
	projection := events.NewProjection(initial.Data.([]domain.LeadDTO))

	rows := append(importRows(5, "converge"), domain.ImportLeadRow{Name: "Returning", Email: "returning@example.com", Budget: 42000})
	_, err = f.svc.ImportLeads(ctx, rows, f.org.ID)
	require.NoError(t, err)

	published := f.publisher.all()
	require.Len(t, published, 6, "one event per imported row")

	created, updated := 0, 0
	seen := make(map[uuid.UUID]bool)
	for _, event := range published {
		switch e := event.(type) {
		case events.LeadCreated:
			created++
			seen[e.Lead.ID] = true
		case events.LeadUpdated:
			updated++
			seen[e.Lead.ID] = true
			assert.Equal(t, "returning@example.com", e.Lead.Email)
		default:
			t.Fatalf("unexpected event %s", event.EventName())
		}
		projection.Apply(event)
	}
	assert.Equal(t, 5, created)
	assert.Equal(t, 1, updated)
	assert.Len(t, seen, 6)

	fresh, err := f.svc.ListLeads(ctx, f.org.ID, 1, 200)
	require.NoError(t, err)
	want := fresh.Data.([]domain.LeadDTO)
	sort.Slice(want, func(i, j int) bool { return want[i].ID.String() < want[j].ID.String() })

	assert.Equal(t, want, projection.Snapshot())
}
