package services

import (
	"context"

	"ticketflow/internal/automation"
	"ticketflow/pkg/jira"
)

// JiraTracker adapts the Jira client to automation.Tracker.
type JiraTracker struct {
	client *jira.Client
}

func NewJiraTracker(client *jira.Client) *JiraTracker {
	return &JiraTracker{client: client}
}

func (t *JiraTracker) GetIssue(ctx context.Context, key string, fields []string) (automation.IssueState, error) {
	issue, err := t.client.GetIssue(ctx, key, fields)
	if err != nil {
		return automation.IssueState{}, err
	}
	state := automation.IssueState{
		Key:            issue.Key,
		Summary:        issue.Summary,
		Status:         issue.Status,
		StatusCategory: issue.StatusCategory,
		ScheduleField:  issue.Schedule,
	}
	for _, st := range issue.Subtasks {
		state.Subtasks = append(state.Subtasks, automation.Subtask{
			Key:            st.Key,
			Title:          st.Summary,
			Status:         st.Status,
			StatusCategory: st.StatusCategory,
		})
	}
	return state, nil
}

func (t *JiraTracker) AddComment(ctx context.Context, key, text string) error {
	return t.client.AddComment(ctx, key, text)
}

func (t *JiraTracker) TransitionToStatusName(ctx context.Context, key, status string) (string, error) {
	return t.client.TransitionToStatusName(ctx, key, status)
}
