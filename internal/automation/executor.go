package automation

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracker is the issue tracker as seen by the engine.
type Tracker interface {
	GetIssue(ctx context.Context, key string, fields []string) (IssueState, error)
	AddComment(ctx context.Context, key, text string) error
	// TransitionToStatusName moves the issue and returns the status it
	// landed in.
	TransitionToStatusName(ctx context.Context, key, status string) (string, error)
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	Type   ActionType `json:"type"`
	OK     bool       `json:"ok"`
	Detail string     `json:"detail,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Executor performs a fired event's actions against the tracker.
type Executor struct {
	tracker Tracker
	logger  *logrus.Logger
	tracer  trace.Tracer
}

func NewExecutor(tracker Tracker, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{
		tracker: tracker,
		logger:  logger,
		tracer:  otel.Tracer("ticketflow.automation"),
	}
}

// Execute runs actions in order. The first failing action ends the run and
// its error is returned along with the results so far; callers record the
// whole rule attempt as failed.
func (e *Executor) Execute(ctx context.Context, ticketKey string, ev FiredEvent, actions []Action) ([]ActionResult, error) {
	ctx, span := e.tracer.Start(ctx, "automation.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("ticket.key", ticketKey),
		attribute.String("automation.rule_id", ev.RuleID),
		attribute.String("automation.event_key", ev.EventKey),
	)

	results := make([]ActionResult, 0, len(actions))
	for i, action := range actions {
		res, err := e.run(ctx, ticketKey, ev, action)
		results = append(results, res)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return results, fmt.Errorf("action %d (%s): %w", i, res.Type, err)
		}
	}
	return results, nil
}

func (e *Executor) run(ctx context.Context, ticketKey string, ev FiredEvent, action Action) (ActionResult, error) {
	log := e.logger.WithFields(logrus.Fields{
		"ticket":    ticketKey,
		"rule_id":   ev.RuleID,
		"event_key": ev.EventKey,
	})

	switch a := action.(type) {
	case CommentAction:
		res := ActionResult{Type: ActionComment}
		if err := e.tracker.AddComment(ctx, ticketKey, Render(a.Template, ev.Vars)); err != nil {
			res.Error = err.Error()
			return res, err
		}
		res.OK = true
		log.Debug("automation: comment added")
		return res, nil

	case TransitionAction:
		res := ActionResult{Type: ActionTransition}
		target := Render(a.Status, ev.Vars)
		to, err := e.tracker.TransitionToStatusName(ctx, ticketKey, target)
		if err != nil {
			res.Error = err.Error()
			return res, err
		}
		res.OK = true
		res.Detail = to
		log.WithField("to", to).Debug("automation: issue transitioned")
		return res, nil

	default:
		// 不应出现：未知类型在解码时已被拒绝
		log.Warnf("automation: unsupported action %T", action)
		return ActionResult{OK: false, Error: fmt.Sprintf("unsupported action %T", action)}, nil
	}
}
