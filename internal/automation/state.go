package automation

import (
	"encoding/json"
	"time"
)

// StateVersion is the current layout of State.
const StateVersion = 1

const (
	DefaultMaxExecutions = 200
	DefaultMaxErrors     = 50
)

// Execution status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// State is the automation sub-document of a ticket. It is always written
// back as a whole.
type State struct {
	Version    int                   `json:"version"`
	Enabled    bool                  `json:"enabled"`
	Rules      []Rule                `json:"rules"`
	Snapshot   Snapshot              `json:"snapshot"`
	Executions Ring[ExecutionRecord] `json:"executions"`
	Errors     Ring[ErrorRecord]     `json:"errors"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// Snapshot is what the evaluator saw on the previous pass.
type Snapshot struct {
	LastTicketStatus string                     `json:"lastTicketStatus"`
	SubtasksByKey    map[string]SubtaskSnapshot `json:"subtasksByKey"`
	LastCheckedAt    time.Time                  `json:"lastCheckedAt"`
}

type SubtaskSnapshot struct {
	StatusName        string `json:"statusName"`
	StatusCategoryKey string `json:"statusCategoryKey"`
}

// ExecutionRecord is one attempt at running a rule's actions for an event.
type ExecutionRecord struct {
	RuleID      string           `json:"ruleId"`
	EventKey    string           `json:"eventKey"`
	TriggerType TriggerType      `json:"triggerType"`
	Status      string           `json:"status"`
	ExecutedAt  time.Time        `json:"executedAt"`
	Payload     ExecutionPayload `json:"payload"`
	Error       string           `json:"error,omitempty"`
}

type ExecutionPayload struct {
	Vars    map[string]string `json:"vars,omitempty"`
	Results []ActionResult    `json:"results,omitempty"`
}

type ErrorRecord struct {
	At      time.Time `json:"at"`
	RuleID  string    `json:"ruleId,omitempty"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
}

// NewState returns an enabled, empty state with default ring sizes.
func NewState(rules []Rule) State {
	return State{
		Version:    StateVersion,
		Enabled:    true,
		Rules:      rules,
		Executions: NewRing[ExecutionRecord](DefaultMaxExecutions),
		Errors:     NewRing[ErrorRecord](DefaultMaxErrors),
	}
}

// Bound sets the ring capacities, dropping the oldest records if needed.
// Non-positive values keep the defaults.
func (s *State) Bound(maxExecutions, maxErrors int) {
	if maxExecutions <= 0 {
		maxExecutions = DefaultMaxExecutions
	}
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	s.Executions.SetCapacity(maxExecutions)
	s.Errors.SetCapacity(maxErrors)
	if s.Version == 0 {
		s.Version = StateVersion
	}
}

// HasExecuted reports whether eventKey already has a successful execution.
// Failed attempts do not count, so they are retried on the next pass.
func HasExecuted(s State, eventKey string) bool {
	for _, rec := range s.Executions.items {
		if rec.EventKey == eventKey && rec.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// Ring is a bounded FIFO: pushing past capacity drops the oldest entries.
// It encodes as a plain JSON array.
type Ring[T any] struct {
	items    []T
	capacity int
}

func NewRing[T any](capacity int) Ring[T] {
	return Ring[T]{capacity: capacity}
}

// Push appends v and drops from the front beyond capacity. A zero capacity
// means unbounded.
func (r *Ring[T]) Push(v T) {
	r.items = append(r.items, v)
	r.trim()
}

func (r *Ring[T]) SetCapacity(n int) {
	r.capacity = n
	r.trim()
}

func (r *Ring[T]) trim() {
	if r.capacity > 0 && len(r.items) > r.capacity {
		r.items = r.items[len(r.items)-r.capacity:]
	}
}

func (r Ring[T]) Len() int      { return len(r.items) }
func (r Ring[T]) Capacity() int { return r.capacity }

// Items returns the entries oldest first.
func (r Ring[T]) Items() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Last returns the newest entry.
func (r Ring[T]) Last() (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	return r.items[len(r.items)-1], true
}

func (r Ring[T]) MarshalJSON() ([]byte, error) {
	if r.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.items)
}

// UnmarshalJSON keeps the current capacity and trims to it.
func (r *Ring[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	r.items = items
	r.trim()
	return nil
}
