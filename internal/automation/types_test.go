package automation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_UnmarshalJSON(t *testing.T) {
	data := `{
		"id": "deploy-done",
		"trigger": {"type": "subtask.completed", "params": {"subtaskKey": "OPS-2"}},
		"actions": [
			{"type": "issue.comment", "params": {"template": "{subtaskTitle} concluída"}},
			{"type": "issue.transition", "params": {"status": "Em Homologação"}}
		]
	}`

	var r Rule
	require.NoError(t, json.Unmarshal([]byte(data), &r))
	assert.Equal(t, "deploy-done", r.ID)
	assert.True(t, r.Enabled, "missing enabled means enabled")
	assert.Equal(t, SubtaskCompleted{SubtaskKey: "OPS-2"}, r.Trigger)
	require.Len(t, r.Actions, 2)
	assert.Equal(t, CommentAction{Template: "{subtaskTitle} concluída"}, r.Actions[0])
	assert.Equal(t, TransitionAction{Status: "Em Homologação"}, r.Actions[1])
	assert.NoError(t, r.Validate())
}

func TestRule_JSONWireShape(t *testing.T) {
	r := Rule{
		ID:      "r1",
		Enabled: false,
		Trigger: StatusEquals{Status: "Bloqueado"},
		Actions: []Action{CommentAction{Template: "ainda bloqueado"}},
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "r1",
		"enabled": false,
		"trigger": {"type": "ticket.status.equals", "params": {"status": "Bloqueado"}},
		"actions": [{"type": "issue.comment", "params": {"template": "ainda bloqueado"}}]
	}`, string(b))

	var back Rule
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r, back)
}

func TestRule_UnknownTypesRejected(t *testing.T) {
	tests := map[string]string{
		"trigger": `{"id":"x","trigger":{"type":"ticket.created"},"actions":[]}`,
		"action":  `{"id":"x","trigger":{"type":"ticket.status.changed"},"actions":[{"type":"email.send"}]}`,
		"params":  `{"id":"x","trigger":{"type":"activity.start","params":"A1"},"actions":[]}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var r Rule
			err := json.Unmarshal([]byte(data), &r)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRule), "got %v", err)
		})
	}
}

func TestValidateRules(t *testing.T) {
	ok := Rule{ID: "a", Trigger: ActivityStart{ActivityID: "A1"}}

	assert.NoError(t, ValidateRules([]Rule{ok}))
	assert.ErrorIs(t, ValidateRules([]Rule{ok, ok}), ErrInvalidRule)
	assert.ErrorIs(t, ValidateRules([]Rule{{ID: "b"}}), ErrInvalidRule)
	assert.ErrorIs(t, ValidateRules([]Rule{{ID: "c", Trigger: ActivityOverdue{}}}), ErrInvalidRule)
	assert.ErrorIs(t, ValidateRules([]Rule{{
		ID:      "d",
		Trigger: StatusChanged{},
		Actions: []Action{TransitionAction{}},
	}}), ErrInvalidRule)
}
