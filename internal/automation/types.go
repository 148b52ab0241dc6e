// Package automation holds the per-ticket automation engine: rule types,
// the persisted automation state, the pure trigger evaluator and the action
// executor.
package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule is returned when a rule cannot be decoded or validated.
var ErrInvalidRule = errors.New("invalid automation rule")

// TriggerType is the wire tag of a trigger.
type TriggerType string

const (
	TriggerStatusChanged    TriggerType = "ticket.status.changed"
	TriggerStatusEquals     TriggerType = "ticket.status.equals"
	TriggerStatusNotEquals  TriggerType = "ticket.status.notEquals"
	TriggerSubtaskCompleted TriggerType = "subtask.completed"
	TriggerSubtaskOverdue   TriggerType = "subtask.overdue"
	TriggerActivityStart    TriggerType = "activity.start"
	TriggerActivityOverdue  TriggerType = "activity.overdue"
)

// ActionType is the wire tag of an action.
type ActionType string

const (
	ActionComment    ActionType = "issue.comment"
	ActionTransition ActionType = "issue.transition"
)

// Trigger is one of the concrete trigger structs below.
type Trigger interface {
	Type() TriggerType
	validate() error
}

// StatusChanged fires on a ticket status transition. From and To optionally
// narrow the transition.
type StatusChanged struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// StatusEquals fires at most once a day while the ticket is in Status.
type StatusEquals struct {
	Status string `json:"status"`
}

// StatusNotEquals fires at most once a day while the ticket is not in Status.
type StatusNotEquals struct {
	Status string `json:"status"`
}

// SubtaskCompleted fires when a subtask becomes done. An empty SubtaskKey
// watches every subtask of the ticket.
type SubtaskCompleted struct {
	SubtaskKey string `json:"subtaskKey,omitempty"`
}

// SubtaskOverdue fires while a subtask is past its due date and not done.
// Without DueDate the ticket's kanban due date for the subtask is used.
type SubtaskOverdue struct {
	SubtaskKey string `json:"subtaskKey,omitempty"`
	DueDate    string `json:"dueDate,omitempty"`
}

// ActivityStart fires once the schedule row's period has started.
type ActivityStart struct {
	ActivityID string `json:"activityId"`
}

// ActivityOverdue fires once the schedule row's period has ended.
type ActivityOverdue struct {
	ActivityID string `json:"activityId"`
}

func (StatusChanged) Type() TriggerType    { return TriggerStatusChanged }
func (StatusEquals) Type() TriggerType     { return TriggerStatusEquals }
func (StatusNotEquals) Type() TriggerType  { return TriggerStatusNotEquals }
func (SubtaskCompleted) Type() TriggerType { return TriggerSubtaskCompleted }
func (SubtaskOverdue) Type() TriggerType   { return TriggerSubtaskOverdue }
func (ActivityStart) Type() TriggerType    { return TriggerActivityStart }
func (ActivityOverdue) Type() TriggerType  { return TriggerActivityOverdue }

func (StatusChanged) validate() error    { return nil }
func (SubtaskCompleted) validate() error { return nil }
func (SubtaskOverdue) validate() error   { return nil }

func (t StatusEquals) validate() error    { return required("status", t.Status) }
func (t StatusNotEquals) validate() error { return required("status", t.Status) }
func (t ActivityStart) validate() error   { return required("activityId", t.ActivityID) }
func (t ActivityOverdue) validate() error { return required("activityId", t.ActivityID) }

// Action is one of the concrete action structs below.
type Action interface {
	Type() ActionType
	validate() error
}

// CommentAction posts Template, with {var} placeholders rendered, as a comment.
type CommentAction struct {
	Template string `json:"template"`
}

// TransitionAction moves the ticket to the named status.
type TransitionAction struct {
	Status string `json:"status"`
}

func (CommentAction) Type() ActionType    { return ActionComment }
func (TransitionAction) Type() ActionType { return ActionTransition }

func (a CommentAction) validate() error    { return required("template", a.Template) }
func (a TransitionAction) validate() error { return required("status", a.Status) }

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRule, field)
	}
	return nil
}

// Rule is a flat trigger → actions pair.
type Rule struct {
	ID      string
	Enabled bool
	Trigger Trigger
	Actions []Action
}

// Validate checks the rule is complete enough to be evaluated.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if r.Trigger == nil {
		return fmt.Errorf("%w: rule %s has no trigger", ErrInvalidRule, r.ID)
	}
	if err := r.Trigger.validate(); err != nil {
		return fmt.Errorf("rule %s trigger %s: %w", r.ID, r.Trigger.Type(), err)
	}
	for i, a := range r.Actions {
		if a == nil {
			return fmt.Errorf("%w: rule %s action %d is empty", ErrInvalidRule, r.ID, i)
		}
		if err := a.validate(); err != nil {
			return fmt.Errorf("rule %s action %d (%s): %w", r.ID, i, a.Type(), err)
		}
	}
	return nil
}

// ValidateRules validates every rule and rejects duplicate ids.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// tagged is the {type, params} wire shape shared by triggers and actions.
type tagged struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wireRule struct {
	ID      string   `json:"id"`
	Enabled *bool    `json:"enabled,omitempty"`
	Trigger tagged   `json:"trigger"`
	Actions []tagged `json:"actions"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	enabled := r.Enabled
	w := wireRule{ID: r.ID, Enabled: &enabled, Actions: make([]tagged, 0, len(r.Actions))}
	if r.Trigger != nil {
		params, err := json.Marshal(r.Trigger)
		if err != nil {
			return nil, err
		}
		w.Trigger = tagged{Type: string(r.Trigger.Type()), Params: params}
	}
	for _, a := range r.Actions {
		params, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		w.Actions = append(w.Actions, tagged{Type: string(a.Type()), Params: params})
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the {type, params} form. A missing "enabled" means
// enabled; unknown trigger or action types are rejected with ErrInvalidRule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	trigger, err := decodeTrigger(w.Trigger)
	if err != nil {
		return fmt.Errorf("rule %s: %w", w.ID, err)
	}
	var actions []Action
	for i, t := range w.Actions {
		a, err := decodeAction(t)
		if err != nil {
			return fmt.Errorf("rule %s action %d: %w", w.ID, i, err)
		}
		actions = append(actions, a)
	}
	*r = Rule{
		ID:      w.ID,
		Enabled: w.Enabled == nil || *w.Enabled,
		Trigger: trigger,
		Actions: actions,
	}
	return nil
}

func decodeTrigger(t tagged) (Trigger, error) {
	var trig Trigger
	switch TriggerType(t.Type) {
	case TriggerStatusChanged:
		trig = &StatusChanged{}
	case TriggerStatusEquals:
		trig = &StatusEquals{}
	case TriggerStatusNotEquals:
		trig = &StatusNotEquals{}
	case TriggerSubtaskCompleted:
		trig = &SubtaskCompleted{}
	case TriggerSubtaskOverdue:
		trig = &SubtaskOverdue{}
	case TriggerActivityStart:
		trig = &ActivityStart{}
	case TriggerActivityOverdue:
		trig = &ActivityOverdue{}
	default:
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRule, t.Type)
	}
	if err := decodeParams(t.Params, trig); err != nil {
		return nil, err
	}
	return deref(trig), nil
}

func decodeAction(t tagged) (Action, error) {
	switch ActionType(t.Type) {
	case ActionComment:
		var a CommentAction
		if err := decodeParams(t.Params, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ActionTransition:
		var a TransitionAction
		if err := decodeParams(t.Params, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, t.Type)
	}
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: params: %v", ErrInvalidRule, err)
	}
	return nil
}

// deref turns the decode target back into the value type used everywhere else.
func deref(t Trigger) Trigger {
	switch v := t.(type) {
	case *StatusChanged:
		return *v
	case *StatusEquals:
		return *v
	case *StatusNotEquals:
		return *v
	case *SubtaskCompleted:
		return *v
	case *SubtaskOverdue:
		return *v
	case *ActivityStart:
		return *v
	case *ActivityOverdue:
		return *v
	}
	return t
}
