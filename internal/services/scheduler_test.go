package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"ticketflow/internal/automation"
	"ticketflow/internal/lock"
	"ticketflow/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type schedulerFixture struct {
	db      *gorm.DB
	tickets *TicketService
	tracker *fakeTracker
	clock   *testClock
	metrics *metrics.Metrics
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db := newServicesTestDB(t)
	return &schedulerFixture{
		db:      db,
		tickets: NewTicketService(db, quietLogger()),
		tracker: newFakeTracker(),
		clock:   newTestClock(),
		metrics: metrics.New(),
	}
}

func (f *schedulerFixture) scheduler(holder string, workers int) *Scheduler {
	svc := NewAutomationService(f.tickets, f.tracker, quietLogger(), AutomationOptions{Now: f.clock.now, Metrics: f.metrics})
	locker := lock.NewGormLocker(f.db, time.Minute, lock.WithHolderID(holder))
	return NewScheduler(svc, f.tickets, locker, SchedulerConfig{Workers: workers, MaxCandidates: 20}, f.metrics, quietLogger())
}

func TestScheduler_TickProcessesCandidates(t *testing.T) {
	f := newSchedulerFixture(t)
	rule := commentRule("doing", automation.StatusEquals{Status: "Doing"}, "{ticketKey} em andamento")
	seedTicket(t, f.tickets, "PRJ-1", rule)
	seedTicket(t, f.tickets, "PRJ-2", rule)
	seedTicket(t, f.tickets, "PRJ-3") // 无规则，不是候选
	for _, k := range []string{"PRJ-1", "PRJ-2", "PRJ-3"} {
		f.tracker.setIssue(k, automation.IssueState{Status: "Doing"})
	}

	report := f.scheduler("node-a", 2).Tick(context.Background())
	assert.False(t, report.Overlapped)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Executed)
	assert.Len(t, report.Tickets, 2)
	assert.Equal(t, []string{"PRJ-1 em andamento"}, f.tracker.commentsOf("PRJ-1"))
	assert.Empty(t, f.tracker.commentsOf("PRJ-3"))

	expected := `
# HELP ticketflow_automation_tickets_total Tickets visited by outcome.
# TYPE ticketflow_automation_tickets_total counter
ticketflow_automation_tickets_total{outcome="processed"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry, strings.NewReader(expected), "ticketflow_automation_tickets_total"))
}

func TestScheduler_SkipsTicketLeasedElsewhere(t *testing.T) {
	f := newSchedulerFixture(t)
	seedTicket(t, f.tickets, "PRJ-1", commentRule("doing", automation.StatusEquals{Status: "Doing"}, "x"))
	f.tracker.setIssue("PRJ-1", automation.IssueState{Status: "Doing"})

	other := lock.NewGormLocker(f.db, time.Hour, lock.WithHolderID("node-b"))
	ok, err := other.Acquire(context.Background(), lock.TicketKey("PRJ-1"))
	require.NoError(t, err)
	require.True(t, ok)

	report := f.scheduler("node-a", 1).Tick(context.Background())
	assert.Equal(t, 1, report.Locked)
	assert.Zero(t, report.Processed)
	assert.Zero(t, f.tracker.getCount())

	require.NoError(t, other.Release(context.Background(), lock.TicketKey("PRJ-1")))
	report = f.scheduler("node-a", 1).Tick(context.Background())
	assert.Equal(t, 1, report.Processed)
	assert.Len(t, f.tracker.commentsOf("PRJ-1"), 1)
}

func TestScheduler_TwoInstancesExecuteOnce(t *testing.T) {
	f := newSchedulerFixture(t)
	keys := []string{"PRJ-1", "PRJ-2", "PRJ-3", "PRJ-4", "PRJ-5"}
	for _, k := range keys {
		seedTicket(t, f.tickets, k, commentRule("doing", automation.StatusEquals{Status: "Doing"}, "x"))
		f.tracker.setIssue(k, automation.IssueState{Status: "Doing"})
	}

	a, b := f.scheduler("node-a", 3), f.scheduler("node-b", 3)
	var wg sync.WaitGroup
	for _, s := range []*Scheduler{a, b} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.Tick(context.Background())
		}(s)
	}
	wg.Wait()

	for _, k := range keys {
		assert.Len(t, f.tracker.commentsOf(k), 1, k)
		ticket, err := f.tickets.Get(context.Background(), k)
		require.NoError(t, err)
		assert.Equal(t, 1, ticket.Automation.Executions.Len(), k)
	}
}

func TestScheduler_OverlappingTickIsSkipped(t *testing.T) {
	f := newSchedulerFixture(t)
	s := f.scheduler("node-a", 1)

	s.running.Lock()
	report := s.Tick(context.Background())
	s.running.Unlock()

	assert.True(t, report.Overlapped)
	assert.Zero(t, report.Candidates)
	assert.Zero(t, f.tracker.getCount())
}

func TestScheduler_StartStop(t *testing.T) {
	f := newSchedulerFixture(t)
	s := f.scheduler("node-a", 1)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
