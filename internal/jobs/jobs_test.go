package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/straye-as/lead-engine/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeFollowUp struct {
	mu       sync.Mutex
	calls    []time.Time
	deadline bool
	err      error
}

func (f *fakeFollowUp) RunOnce(ctx context.Context, now time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	_, f.deadline = ctx.Deadline()
	return 2, 1, f.err
}

func (f *fakeFollowUp) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestScheduler_AddAndRemoveJobs(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())

	require.NoError(t, s.AddJob("b_job", "0 0 9 * * *", func() {}))
	require.NoError(t, s.AddJob("a_job", "@every 1h", func() {}))
	assert.Equal(t, []string{"a_job", "b_job"}, s.GetJobNames())

	err := s.AddJob("a_job", "@every 1h", func() {})
	assert.ErrorContains(t, err, "already exists")

	err = s.AddJob("broken", "not a cron", func() {})
	assert.ErrorContains(t, err, "failed to add job broken")

	require.NoError(t, s.RemoveJob("a_job"))
	assert.Equal(t, []string{"b_job"}, s.GetJobNames())
	assert.Error(t, s.RemoveJob("a_job"))
}

func TestScheduler_NextRun(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())
	require.NoError(t, s.AddJob("daily", "0 0 9 * * *", func() {}))

	_, ok := s.NextRun("missing")
	assert.False(t, ok)

	s.Start()
	defer s.Stop()

	next, ok := s.NextRun("daily")
	require.True(t, ok)
	assert.Equal(t, 9, next.Hour())
	assert.True(t, next.After(time.Now()))
}

func TestScheduler_RunsJobsAndRecoversPanics(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())

	var mu sync.Mutex
	runs := 0
	require.NoError(t, s.AddJob("tick", "@every 1s", func() {
		mu.Lock()
		runs++
		mu.Unlock()
	}))
	require.NoError(t, s.AddJob("panics", "@every 1s", func() {
		panic("boom")
	}))

	s.Start()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 1
	}, 3*time.Second, 50*time.Millisecond)

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestFollowUpJob_Run(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	service := &fakeFollowUp{}

	job := jobs.NewFollowUpJob(service, zap.New(core), time.Minute)
	before := time.Now().UTC()
	job.Run()

	require.Equal(t, 1, service.callCount())
	assert.True(t, service.deadline, "runs are bounded by the timeout")
	assert.False(t, service.calls[0].Before(before))
	assert.Equal(t, time.UTC, service.calls[0].Location())

	entries := logs.FilterMessage("lead follow-up run completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["reminders_sent"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["reminders_failed"])
}

func TestFollowUpJob_LogsFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	service := &fakeFollowUp{err: errors.New("database is gone")}

	jobs.NewFollowUpJob(service, zap.New(core), time.Minute).Run()

	assert.Equal(t, 1, logs.FilterMessage("lead follow-up run failed").Len())
	assert.Zero(t, logs.FilterMessage("lead follow-up run completed").Len())
}

func TestRegisterFollowUpJob(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())
	service := &fakeFollowUp{}

	require.NoError(t, jobs.RegisterFollowUpJob(s, service, zap.NewNop(), "0 0 8 * * *", time.Minute))
	assert.Equal(t, []string{jobs.FollowUpJobName}, s.GetJobNames())

	err := jobs.RegisterFollowUpJob(s, service, zap.NewNop(), "0 0 8 * * *", time.Minute)
	assert.Error(t, err)
}
