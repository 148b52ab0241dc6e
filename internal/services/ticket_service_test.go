package services

import (
	"context"
	"errors"
	"testing"

	"ticketflow/internal/automation"
	"ticketflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketService_ListCandidates(t *testing.T) {
	db := newServicesTestDB(t)
	svc := NewTicketService(db, quietLogger())
	ctx := context.Background()

	rule := commentRule("r1", automation.StatusChanged{}, "x")
	seedTicket(t, svc, "PRJ-1", rule)
	seedTicket(t, svc, "PRJ-2") // 无规则
	seedTicket(t, svc, "PRJ-3", rule)
	_, err := svc.SetRules(ctx, "PRJ-3", false, []automation.Rule{rule}) // 关闭
	require.NoError(t, err)
	seedTicket(t, svc, "PRJ-4", rule)

	got, err := svc.ListCandidates(ctx, 10)
	require.NoError(t, err)
	var keys []string
	for _, tk := range got {
		keys = append(keys, tk.Key)
	}
	assert.ElementsMatch(t, []string{"PRJ-1", "PRJ-4"}, keys)

	got, err = svc.ListCandidates(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTicketService_GetNotFound(t *testing.T) {
	svc := NewTicketService(newServicesTestDB(t), quietLogger())
	_, err := svc.Get(context.Background(), "NOPE-1")
	assert.True(t, errors.Is(err, ErrTicketNotFound))

	err = svc.SaveAutomation(context.Background(), "NOPE-1", automation.NewState(nil), nil)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketService_SaveAutomationReplacesWholeDocument(t *testing.T) {
	db := newServicesTestDB(t)
	svc := NewTicketService(db, quietLogger()).WithRingLimits(3, 2)
	ctx := context.Background()
	seedTicket(t, svc, "PRJ-1", commentRule("r1", automation.StatusChanged{}, "x"))

	ticket, err := svc.Get(ctx, "PRJ-1")
	require.NoError(t, err)
	state := ticket.Automation
	state.Snapshot.LastTicketStatus = "Doing"
	for i := 0; i < 5; i++ {
		state.Executions.Push(automation.ExecutionRecord{EventKey: "k", Status: automation.StatusSuccess})
	}
	state.Rules = nil
	runs := []models.AutomationRun{{TicketKey: "PRJ-1", RuleID: "r1", EventKey: "k", Status: "success"}}
	require.NoError(t, svc.SaveAutomation(ctx, "PRJ-1", state, runs))

	back, err := svc.Get(ctx, "PRJ-1")
	require.NoError(t, err)
	assert.Equal(t, "Doing", back.Automation.Snapshot.LastTicketStatus)
	assert.Equal(t, 3, back.Automation.Executions.Len())
	assert.Empty(t, back.Automation.Rules)
	assert.Equal(t, 0, back.AutomationRuleCount, "denormalized count follows the document")
	assert.True(t, back.AutomationEnabled)

	listed, err := svc.ListRuns(ctx, "PRJ-1", 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestTicketService_SetRulesValidates(t *testing.T) {
	svc := NewTicketService(newServicesTestDB(t), quietLogger())
	seedTicket(t, svc, "PRJ-1")

	_, err := svc.SetRules(context.Background(), "PRJ-1", true, []automation.Rule{{ID: "bad"}})
	assert.ErrorIs(t, err, automation.ErrInvalidRule)

	ticket, err := svc.SetRules(context.Background(), "PRJ-1", true, []automation.Rule{
		commentRule("ok", automation.ActivityStart{ActivityID: "A1"}, "começou"),
	})
	require.NoError(t, err)
	assert.True(t, ticket.AutomationEnabled)
	assert.Equal(t, 1, ticket.AutomationRuleCount)
	require.Len(t, ticket.Automation.Rules, 1)
	assert.Equal(t, automation.ActivityStart{ActivityID: "A1"}, ticket.Automation.Rules[0].Trigger)
}

func TestTicketService_UpsertKeepsAutomation(t *testing.T) {
	svc := NewTicketService(newServicesTestDB(t), quietLogger())
	ctx := context.Background()
	seedTicket(t, svc, "PRJ-1", commentRule("r1", automation.StatusChanged{}, "x"))

	_, err := svc.Upsert(ctx, &TicketUpsertRequest{
		Key:            "PRJ-1",
		Summary:        "novo título",
		KanbanSubtasks: []automation.KanbanSubtask{{Key: "PRJ-2", Title: "Deploy", DueDate: "20/01"}},
	})
	require.NoError(t, err)

	back, err := svc.Get(ctx, "PRJ-1")
	require.NoError(t, err)
	assert.Equal(t, "novo título", back.Summary)
	require.Len(t, back.KanbanSubtasks, 1)
	assert.Equal(t, "20/01", back.KanbanSubtasks[0].DueDate)
	assert.Len(t, back.Automation.Rules, 1)
}
