package automation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	mu             sync.Mutex
	issue          IssueState
	getErr         error
	commentErr     error
	transitionErr  error
	comments       []string
	transitionedTo []string
}

func (f *fakeTracker) GetIssue(_ context.Context, _ string, _ []string) (IssueState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issue, f.getErr
}

func (f *fakeTracker) AddComment(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments = append(f.comments, text)
	return nil
}

func (f *fakeTracker) TransitionToStatusName(_ context.Context, _ string, status string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return "", f.transitionErr
	}
	f.transitionedTo = append(f.transitionedTo, status)
	return status, nil
}

func TestExecutor_RunsActionsInOrder(t *testing.T) {
	tr := &fakeTracker{}
	ex := NewExecutor(tr, nil)
	ev := FiredEvent{
		RuleID:   "deploy",
		EventKey: "deploy|subtask.completed|OPS-7|To Do->Done",
		Vars:     map[string]string{"subtaskTitle": "Deploy", "ticketKey": "PRJ-1"},
	}
	actions := []Action{
		CommentAction{Template: "{subtaskTitle} concluída em {ticketKey}"},
		TransitionAction{Status: "Em Homologação"},
	}

	results, err := ex.Execute(context.Background(), "PRJ-1", ev, actions)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.Equal(t, ActionTransition, results[1].Type)
	assert.Equal(t, "Em Homologação", results[1].Detail)
	assert.Equal(t, []string{"Deploy concluída em PRJ-1"}, tr.comments)
	assert.Equal(t, []string{"Em Homologação"}, tr.transitionedTo)
}

func TestExecutor_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("jira down")
	tr := &fakeTracker{commentErr: boom}
	ex := NewExecutor(tr, nil)

	results, err := ex.Execute(context.Background(), "PRJ-1", FiredEvent{RuleID: "r"}, []Action{
		CommentAction{Template: "hi"},
		TransitionAction{Status: "Done"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Equal(t, "jira down", results[0].Error)
	assert.Empty(t, tr.transitionedTo, "rest of the rule's list is not run")
}

func TestExecutor_NilActionIsReportedNotFatal(t *testing.T) {
	tr := &fakeTracker{}
	ex := NewExecutor(tr, nil)

	results, err := ex.Execute(context.Background(), "PRJ-1", FiredEvent{RuleID: "r"}, []Action{
		nil,
		CommentAction{Template: "still runs"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].OK)
	assert.Equal(t, []string{"still runs"}, tr.comments)
}
