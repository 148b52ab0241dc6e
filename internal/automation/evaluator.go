package automation

import (
	"strings"
	"time"

	"ticketflow/internal/schedule"
	"ticketflow/internal/textnorm"
)

const (
	keyDateLayout     = "2006-01-02"
	displayDateLayout = "02/01/2006"
)

// IssueState is the part of a tracker issue the evaluator looks at.
type IssueState struct {
	Key            string    `json:"key"`
	Summary        string    `json:"summary"`
	Status         string    `json:"status"`
	StatusCategory string    `json:"statusCategory"`
	Subtasks       []Subtask `json:"subtasks"`
	ScheduleField  string    `json:"scheduleField"`
}

type Subtask struct {
	Key            string `json:"key"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	StatusCategory string `json:"statusCategory"`
}

// KanbanSubtask is the locally kept plan of a subtask.
type KanbanSubtask struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	DueDate string `json:"dueDate,omitempty"`
}

// Input is everything one evaluation pass needs.
type Input struct {
	TicketKey      string
	Issue          IssueState
	KanbanSubtasks []KanbanSubtask
	ScheduleRows   []schedule.Row
	State          State
	Now            time.Time
}

// FiredEvent is one logical occurrence of a rule's trigger.
type FiredEvent struct {
	RuleID      string            `json:"ruleId"`
	TriggerType TriggerType       `json:"triggerType"`
	EventKey    string            `json:"eventKey"`
	Vars        map[string]string `json:"vars"`
	Actions     []Action          `json:"-"`
}

type Result struct {
	Snapshot Snapshot
	Fired    []FiredEvent
}

// Evaluate compares the current issue against the previous snapshot and
// returns the events the enabled rules fire, in rule order, together with
// the snapshot to store next. It does no I/O.
func Evaluate(in Input) Result {
	ev := evaluation{
		in:   in,
		prev: in.State.Snapshot,
		cur:  currentSnapshot(in.Issue, in.Now),
	}
	res := Result{Snapshot: ev.cur}
	if !in.State.Enabled {
		return res
	}
	for _, rule := range in.State.Rules {
		if !rule.Enabled || rule.Trigger == nil {
			continue
		}
		res.Fired = append(res.Fired, ev.fire(rule)...)
	}
	return res
}

func currentSnapshot(issue IssueState, now time.Time) Snapshot {
	subtasks := make(map[string]SubtaskSnapshot, len(issue.Subtasks))
	for _, st := range issue.Subtasks {
		subtasks[st.Key] = SubtaskSnapshot{StatusName: st.Status, StatusCategoryKey: st.StatusCategory}
	}
	return Snapshot{
		LastTicketStatus: issue.Status,
		SubtasksByKey:    subtasks,
		LastCheckedAt:    now,
	}
}

type evaluation struct {
	in   Input
	prev Snapshot
	cur  Snapshot
}

func (e evaluation) fire(rule Rule) []FiredEvent {
	switch t := rule.Trigger.(type) {
	case StatusChanged:
		return e.statusChanged(rule, t)
	case StatusEquals:
		return e.statusMatch(rule, t.Status, true)
	case StatusNotEquals:
		return e.statusMatch(rule, t.Status, false)
	case SubtaskCompleted:
		return e.subtaskCompleted(rule, t)
	case SubtaskOverdue:
		return e.subtaskOverdue(rule, t)
	case ActivityStart:
		return e.activity(rule, t.ActivityID, false)
	case ActivityOverdue:
		return e.activity(rule, t.ActivityID, true)
	}
	return nil
}

func (e evaluation) statusChanged(rule Rule, t StatusChanged) []FiredEvent {
	prev, cur := e.prev.LastTicketStatus, e.in.Issue.Status
	if prev == "" || cur == "" || prev == cur {
		return nil
	}
	if t.From != "" && !textnorm.Equal(t.From, prev) {
		return nil
	}
	if t.To != "" && !textnorm.Equal(t.To, cur) {
		return nil
	}
	vars := e.vars()
	vars["fromStatus"] = prev
	vars["toStatus"] = cur
	return []FiredEvent{e.event(rule, vars, prev+"->"+cur)}
}

func (e evaluation) statusMatch(rule Rule, target string, want bool) []FiredEvent {
	cur := e.in.Issue.Status
	if cur == "" || textnorm.Equal(cur, target) != want {
		return nil
	}
	vars := e.vars()
	vars["targetStatus"] = target
	return []FiredEvent{e.event(rule, vars, cur, e.in.Now.Format(keyDateLayout))}
}

func (e evaluation) subtaskCompleted(rule Rule, t SubtaskCompleted) []FiredEvent {
	var out []FiredEvent
	for _, st := range e.subtasks(t.SubtaskKey) {
		before, seen := e.prev.SubtasksByKey[st.Key]
		if !seen {
			continue
		}
		if IsDone(before.StatusName, before.StatusCategoryKey) || !IsDone(st.Status, st.StatusCategory) {
			continue
		}
		vars := e.subtaskVars(st)
		vars["fromStatus"] = before.StatusName
		vars["toStatus"] = st.Status
		out = append(out, e.event(rule, vars, st.Key, before.StatusName+"->"+st.Status))
	}
	return out
}

func (e evaluation) subtaskOverdue(rule Rule, t SubtaskOverdue) []FiredEvent {
	var out []FiredEvent
	for _, st := range e.subtasks(t.SubtaskKey) {
		if IsDone(st.Status, st.StatusCategory) {
			continue
		}
		raw := t.DueDate
		if raw == "" {
			raw = e.kanban(st.Key).DueDate
		}
		due, ok := schedule.ParseDay(raw, e.in.Now)
		if !ok || !e.in.Now.After(schedule.EndOfDay(due)) {
			continue
		}
		vars := e.subtaskVars(st)
		vars["dueDate"] = due.Format(displayDateLayout)
		out = append(out, e.event(rule, vars, st.Key, due.Format(keyDateLayout)))
	}
	return out
}

func (e evaluation) activity(rule Rule, activityID string, overdue bool) []FiredEvent {
	row, ok := schedule.FindRow(e.in.ScheduleRows, activityID)
	if !ok {
		return nil
	}
	period, ok := schedule.ParseRange(row.Period, e.in.Now)
	if !ok {
		return nil
	}
	boundary := period.Start
	if overdue {
		if !e.in.Now.After(period.End) {
			return nil
		}
		boundary = period.End
	} else if e.in.Now.Before(period.Start) {
		return nil
	}

	vars := e.vars()
	vars["activityId"] = activityID
	vars["activityName"] = row.Name
	vars["period"] = row.Period
	vars["start"] = period.Start.Format(displayDateLayout)
	vars["end"] = period.End.Format(displayDateLayout)
	return []FiredEvent{e.event(rule, vars, activityID, boundary.Format(keyDateLayout))}
}

// subtasks returns the issue's subtasks matching key, or all of them when
// key is empty.
func (e evaluation) subtasks(key string) []Subtask {
	if key == "" {
		return e.in.Issue.Subtasks
	}
	for _, st := range e.in.Issue.Subtasks {
		if strings.EqualFold(st.Key, key) {
			return []Subtask{st}
		}
	}
	return nil
}

func (e evaluation) kanban(key string) KanbanSubtask {
	for _, k := range e.in.KanbanSubtasks {
		if strings.EqualFold(k.Key, key) {
			return k
		}
	}
	return KanbanSubtask{}
}

func (e evaluation) vars() map[string]string {
	return map[string]string{
		"ticketKey": e.in.TicketKey,
		"summary":   e.in.Issue.Summary,
		"status":    e.in.Issue.Status,
		"date":      e.in.Now.Format(displayDateLayout),
	}
}

func (e evaluation) subtaskVars(st Subtask) map[string]string {
	vars := e.vars()
	title := st.Title
	if title == "" {
		title = e.kanban(st.Key).Title
	}
	vars["subtaskKey"] = st.Key
	vars["subtaskTitle"] = title
	vars["subtaskStatus"] = st.Status
	return vars
}

func (e evaluation) event(rule Rule, vars map[string]string, discriminators ...string) FiredEvent {
	typ := rule.Trigger.Type()
	vars["ruleId"] = rule.ID
	return FiredEvent{
		RuleID:      rule.ID,
		TriggerType: typ,
		EventKey:    EventKey(rule.ID, typ, discriminators...),
		Vars:        vars,
		Actions:     rule.Actions,
	}
}

// EventKey joins the rule id, trigger type and discriminating values into
// the identity of one logical event.
func EventKey(ruleID string, typ TriggerType, discriminators ...string) string {
	parts := append([]string{ruleID, string(typ)}, discriminators...)
	return strings.Join(parts, "|")
}
