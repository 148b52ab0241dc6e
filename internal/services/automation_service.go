package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"ticketflow/internal/automation"
	"ticketflow/internal/metrics"
	"ticketflow/internal/models"
	"ticketflow/internal/schedule"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Ticket outcomes of one processing pass.
// saveTimeout 写回自动化文档的上限，与调用方的取消无关
const saveTimeout = 10 * time.Second

const (
	OutcomeProcessed  = "processed"
	OutcomeLocked     = "locked"
	OutcomeLockError  = "lock_error"
	OutcomeFetchError = "fetch_error"
	OutcomeFailed     = "failed"
)

// AutomationOptions 自动化服务参数
type AutomationOptions struct {
	IssueFields  []string
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// AutomationService 对单个工单执行：拉取状态 → 评估 → 执行动作 → 整体写回
type AutomationService struct {
	tickets      *TicketService
	tracker      automation.Tracker
	executor     *automation.Executor
	logger       *logrus.Logger
	tracer       trace.Tracer
	metrics      *metrics.Metrics
	fields       []string
	fetchTimeout time.Duration
	now          func() time.Time
}

func NewAutomationService(tickets *TicketService, tracker automation.Tracker, logger *logrus.Logger, opts AutomationOptions) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if len(opts.IssueFields) == 0 {
		opts.IssueFields = []string{"status", "subtasks", "summary"}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &AutomationService{
		tickets:      tickets,
		tracker:      tracker,
		executor:     automation.NewExecutor(tracker, logger),
		logger:       logger,
		tracer:       otel.Tracer("ticketflow.automation"),
		metrics:      opts.Metrics,
		fields:       opts.IssueFields,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
	}
}

// ProcessResult 单个工单一次处理的结果
type ProcessResult struct {
	TicketKey       string `json:"ticket_key"`
	Outcome         string `json:"outcome"`
	Fired           int    `json:"fired"`
	Executed        int    `json:"executed"`
	Failed          int    `json:"failed"`
	AlreadyExecuted int    `json:"already_executed"`
}

// ProcessTicket 处理一个工单。调用方需持有该工单的租约。
// 拉取失败记入错误环并写回，不返回错误；只有读写存储失败才返回错误。
func (s *AutomationService) ProcessTicket(ctx context.Context, key string) (res ProcessResult, err error) {
	ctx, span := s.tracer.Start(ctx, "automation.process_ticket")
	defer span.End()
	span.SetAttributes(attribute.String("ticket.key", key))

	res = ProcessResult{TicketKey: key, Outcome: OutcomeFailed}
	ticket, err := s.tickets.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		return res, err
	}

	state := ticket.Automation
	var runs []models.AutomationRun
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.logger.WithField("ticket", key).Errorf("automation: panic: %v", r)
		state.Errors.Push(automation.ErrorRecord{
			At:      s.now(),
			Message: fmt.Sprintf("panic: %v", r),
			Stack:   string(debug.Stack()),
		})
		state.UpdatedAt = s.now()
		res.Outcome = OutcomeFailed
		err = fmt.Errorf("automation panic on %s: %v", key, r)
		if saveErr := s.save(ctx, key, state, runs); saveErr != nil {
			s.logger.WithField("ticket", key).Errorf("automation: save after panic: %v", saveErr)
		}
	}()

	res, runs = s.run(ctx, ticket, &state)
	if err := s.save(ctx, key, state, runs); err != nil {
		span.RecordError(err)
		return res, err
	}
	span.SetAttributes(
		attribute.String("automation.outcome", res.Outcome),
		attribute.Int("automation.executed", res.Executed),
		attribute.Int("automation.failed", res.Failed),
	)
	return res, nil
}

func (s *AutomationService) run(ctx context.Context, ticket *models.Ticket, state *automation.State) (ProcessResult, []models.AutomationRun) {
	key := ticket.Key
	log := s.logger.WithField("ticket", key)
	res := ProcessResult{TicketKey: key, Outcome: OutcomeProcessed}
	now := s.now()

	issue, err := s.fetch(ctx, key)
	if err != nil {
		log.Warnf("automation: fetch issue failed: %v", err)
		state.Errors.Push(automation.ErrorRecord{
			At:      now,
			Message: "fetch issue: " + err.Error(),
			Stack:   errorChain(err),
		})
		state.UpdatedAt = now
		res.Outcome = OutcomeFetchError
		return res, nil
	}

	result := automation.Evaluate(automation.Input{
		TicketKey:      key,
		Issue:          issue,
		KanbanSubtasks: ticket.KanbanSubtasks,
		ScheduleRows:   schedule.ParseRows(issue.ScheduleField),
		State:          *state,
		Now:            now,
	})
	res.Fired = len(result.Fired)

	var runs []models.AutomationRun
	for _, ev := range result.Fired {
		if automation.HasExecuted(*state, ev.EventKey) {
			res.AlreadyExecuted++
			continue
		}

		elog := log.WithFields(logrus.Fields{"rule_id": ev.RuleID, "event_key": ev.EventKey})
		results, execErr := s.executor.Execute(ctx, key, ev, ev.Actions)
		rec := automation.ExecutionRecord{
			RuleID:      ev.RuleID,
			EventKey:    ev.EventKey,
			TriggerType: ev.TriggerType,
			Status:      automation.StatusSuccess,
			ExecutedAt:  s.now(),
			Payload:     automation.ExecutionPayload{Vars: ev.Vars, Results: results},
		}
		if execErr != nil {
			rec.Status = automation.StatusError
			rec.Error = execErr.Error()
			state.Errors.Push(automation.ErrorRecord{
				At:      rec.ExecutedAt,
				RuleID:  ev.RuleID,
				Message: execErr.Error(),
				Stack:   errorChain(execErr),
			})
			res.Failed++
			elog.Warnf("automation: rule failed: %v", execErr)
		} else {
			res.Executed++
			elog.Info("automation: rule executed")
		}
		state.Executions.Push(rec)
		s.metrics.Execution(string(ev.TriggerType), rec.Status)
		runs = append(runs, models.AutomationRun{
			TicketKey:   key,
			RuleID:      ev.RuleID,
			EventKey:    ev.EventKey,
			TriggerType: string(ev.TriggerType),
			Status:      rec.Status,
			Error:       rec.Error,
			CreatedAt:   rec.ExecutedAt,
		})
	}

	state.Snapshot = result.Snapshot
	state.UpdatedAt = now
	return res, runs
}

// save 写回自动化文档。动作已经在 Jira 生效，调用方取消也必须落盘，
// 否则成功记录丢失，下一轮会重复执行。
func (s *AutomationService) save(ctx context.Context, key string, state automation.State, runs []models.AutomationRun) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	return s.tickets.SaveAutomation(sctx, key, state, runs)
}

func (s *AutomationService) fetch(ctx context.Context, key string) (automation.IssueState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	return s.tracker.GetIssue(ctx, key, s.fields)
}

// DryRunEvent 一个会触发的事件
type DryRunEvent struct {
	EventKey        string            `json:"event_key"`
	Vars            map[string]string `json:"vars"`
	AlreadyExecuted bool              `json:"already_executed"`
}

// DryRunRule 单条规则的试运行结果
type DryRunRule struct {
	RuleID      string                 `json:"rule_id"`
	TriggerType automation.TriggerType `json:"trigger_type"`
	Enabled     bool                   `json:"enabled"`
	WouldFire   bool                   `json:"would_fire"`
	Events      []DryRunEvent          `json:"events"`
}

// DryRunReport 试运行报告
type DryRunReport struct {
	TicketKey     string       `json:"ticket_key"`
	CurrentStatus string       `json:"current_status"`
	EvaluatedAt   time.Time    `json:"evaluated_at"`
	Rules         []DryRunRule `json:"rules"`
}

// DryRun 以当前外部状态评估 rules（为空时使用工单已保存的规则），
// 不执行动作也不写回。
func (s *AutomationService) DryRun(ctx context.Context, key string, rules []automation.Rule) (*DryRunReport, error) {
	ctx, span := s.tracer.Start(ctx, "automation.dry_run")
	defer span.End()
	span.SetAttributes(attribute.String("ticket.key", key))

	state := automation.NewState(nil)
	var kanban []automation.KanbanSubtask
	ticket, err := s.tickets.Get(ctx, key)
	switch {
	case err == nil:
		state = ticket.Automation
		kanban = ticket.KanbanSubtasks
	case errors.Is(err, ErrTicketNotFound):
		// 未登记的工单也可试运行，快照为空
	default:
		return nil, err
	}
	if rules == nil {
		rules = state.Rules
	}
	if err := automation.ValidateRules(rules); err != nil {
		return nil, err
	}
	state.Enabled = true
	state.Rules = rules

	issue, err := s.fetch(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetch issue %s: %w", key, err)
	}

	now := s.now()
	result := automation.Evaluate(automation.Input{
		TicketKey:      key,
		Issue:          issue,
		KanbanSubtasks: kanban,
		ScheduleRows:   schedule.ParseRows(issue.ScheduleField),
		State:          state,
		Now:            now,
	})

	report := &DryRunReport{TicketKey: key, CurrentStatus: issue.Status, EvaluatedAt: now}
	byRule := make(map[string]int, len(rules))
	for _, r := range rules {
		byRule[r.ID] = len(report.Rules)
		rr := DryRunRule{RuleID: r.ID, Enabled: r.Enabled, Events: []DryRunEvent{}}
		if r.Trigger != nil {
			rr.TriggerType = r.Trigger.Type()
		}
		report.Rules = append(report.Rules, rr)
	}
	for _, ev := range result.Fired {
		rr := &report.Rules[byRule[ev.RuleID]]
		rr.WouldFire = true
		rr.Events = append(rr.Events, DryRunEvent{
			EventKey:        ev.EventKey,
			Vars:            ev.Vars,
			AlreadyExecuted: automation.HasExecuted(state, ev.EventKey),
		})
	}
	return report, nil
}

// errorChain 展开错误链，作为错误记录的 stack 字段
func errorChain(err error) string {
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		parts = append(parts, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(parts, "\n")
}
