package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"ticketflow/internal/automation"
	"ticketflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newServicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// seedTicket 创建工单并写入规则
func seedTicket(t *testing.T, svc *TicketService, key string, rules ...automation.Rule) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Upsert(ctx, &TicketUpsertRequest{Key: key, Summary: "ticket " + key}); err != nil {
		t.Fatalf("upsert %s: %v", key, err)
	}
	if len(rules) == 0 {
		return
	}
	if _, err := svc.SetRules(ctx, key, true, rules); err != nil {
		t.Fatalf("set rules %s: %v", key, err)
	}
}

func commentRule(id string, trig automation.Trigger, tpl string) automation.Rule {
	return automation.Rule{
		ID:      id,
		Enabled: true,
		Trigger: trig,
		Actions: []automation.Action{automation.CommentAction{Template: tpl}},
	}
}

type fakeTracker struct {
	mu            sync.Mutex
	issues        map[string]automation.IssueState
	getErr        error
	commentErr    error
	transitionErr error
	panicOnGet    bool
	afterComment  func()
	gets          int
	comments      map[string][]string
	transitions   map[string][]string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:      map[string]automation.IssueState{},
		comments:    map[string][]string{},
		transitions: map[string][]string{},
	}
}

func (f *fakeTracker) setIssue(key string, issue automation.IssueState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue.Key = key
	f.issues[key] = issue
}

func (f *fakeTracker) setCommentErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commentErr = err
}

func (f *fakeTracker) commentsOf(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[key]...)
}

func (f *fakeTracker) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeTracker) GetIssue(_ context.Context, key string, _ []string) (automation.IssueState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.panicOnGet {
		panic("tracker exploded")
	}
	if f.getErr != nil {
		return automation.IssueState{}, f.getErr
	}
	return f.issues[key], nil
}

func (f *fakeTracker) AddComment(_ context.Context, key, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments[key] = append(f.comments[key], text)
	if f.afterComment != nil {
		f.afterComment()
	}
	return nil
}

func (f *fakeTracker) TransitionToStatusName(_ context.Context, key, status string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return "", f.transitionErr
	}
	f.transitions[key] = append(f.transitions[key], status)
	return status, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
