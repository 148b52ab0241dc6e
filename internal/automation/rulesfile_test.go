package automation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRuleSet_YAML(t *testing.T) {
	src := `
enabled: true
rules:
  - id: overdue-deploy
    trigger:
      type: subtask.overdue
      params:
        subtaskKey: OPS-7
        dueDate: 2026-01-20
    actions:
      - type: issue.comment
        params:
          template: "{subtaskTitle} atrasada desde {dueDate}"
  - id: kickoff
    enabled: false
    trigger:
      type: activity.start
      params: {activityId: A1}
    actions: []
`
	set, err := ParseRuleSet([]byte(src), "yaml")
	require.NoError(t, err)
	require.NotNil(t, set.Enabled)
	assert.True(t, *set.Enabled)
	require.Len(t, set.Rules, 2)

	overdue, ok := set.Rules[0].Trigger.(SubtaskOverdue)
	require.True(t, ok)
	assert.Equal(t, "OPS-7", overdue.SubtaskKey)
	assert.NotEmpty(t, overdue.DueDate)
	assert.False(t, set.Rules[1].Enabled)
}

func TestParseRuleSet_JSONCList(t *testing.T) {
	src := `[
		// move to review when development starts
		{
			"id": "dev",
			"trigger": {"type": "ticket.status.changed", "params": {"to": "Em Desenvolvimento"}},
			"actions": [{"type": "issue.transition", "params": {"status": "Em Revisão"}}],
		},
	]`
	set, err := ParseRuleSet([]byte(src), "jsonc")
	require.NoError(t, err)
	assert.Nil(t, set.Enabled)
	require.Len(t, set.Rules, 1)
	assert.Equal(t, StatusChanged{To: "Em Desenvolvimento"}, set.Rules[0].Trigger)
}

func TestParseRuleSet_Invalid(t *testing.T) {
	_, err := ParseRuleSet([]byte(`[{"id":"x","trigger":{"type":"nope"}}]`), "json")
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = ParseRuleSet([]byte(`{"rules": [{"id": "", "trigger": {"type": "ticket.status.changed"}}]}`), "json")
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = ParseRuleSet([]byte(`rules: [`), "yaml")
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = ParseRuleSet([]byte(`{}`), "toml")
	assert.Error(t, err)
}

func TestLoadRuleSet_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rules":[{"id":"r","trigger":{"type":"ticket.status.changed"},"actions":[]}]}`), 0o644))

	set, err := LoadRuleSet(path)
	require.NoError(t, err)
	require.Len(t, set.Rules, 1)

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
