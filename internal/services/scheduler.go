package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ticketflow/internal/lock"
	"ticketflow/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SchedulerConfig 调度参数
type SchedulerConfig struct {
	Interval      time.Duration
	MaxCandidates int
	Workers       int
}

// Scheduler 周期性挑选工单、加租约并交给 AutomationService 处理
type Scheduler struct {
	automation *AutomationService
	tickets    *TicketService
	locker     lock.Locker
	logger     *logrus.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	cfg        SchedulerConfig

	// 进程内防重入：上一轮未结束时新一轮直接跳过
	running sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

func NewScheduler(automation *AutomationService, tickets *TicketService, locker lock.Locker, cfg SchedulerConfig, m *metrics.Metrics, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scheduler{
		automation: automation,
		tickets:    tickets,
		locker:     locker,
		logger:     logger,
		tracer:     otel.Tracer("ticketflow.scheduler"),
		metrics:    m,
		cfg:        cfg,
	}
}

// TickReport 一轮调度的汇总
type TickReport struct {
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Overlapped  bool            `json:"overlapped"`
	Candidates  int             `json:"candidates"`
	Processed   int             `json:"processed"`
	Locked      int             `json:"locked"`
	FetchErrors int             `json:"fetch_errors"`
	Failed      int             `json:"failed"`
	Executed    int             `json:"executed"`
	ExecErrors  int             `json:"exec_errors"`
	Tickets     []ProcessResult `json:"tickets,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func (r *TickReport) add(p ProcessResult) {
	switch p.Outcome {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeLocked:
		r.Locked++
	case OutcomeFetchError:
		r.FetchErrors++
	default:
		r.Failed++
	}
	r.Executed += p.Executed
	r.ExecErrors += p.Failed
	r.Tickets = append(r.Tickets, p)
}

// Start 注册周期任务，只能调用一次
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(s.logger)))
	expr := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(expr, func() { s.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("schedule automation tick %q: %w", expr, err)
	}
	c.Start()
	s.cron = c
	s.started = true
	s.logger.WithFields(logrus.Fields{
		"interval":       s.cfg.Interval.String(),
		"max_candidates": s.cfg.MaxCandidates,
		"workers":        s.cfg.Workers,
	}).Info("Starting automation scheduler")
	return nil
}

// Stop 停止调度并等待进行中的一轮结束
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.logger.Info("Automation scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick 执行一轮；若上一轮仍在运行则立即返回 Overlapped
func (s *Scheduler) Tick(ctx context.Context) (report TickReport) {
	if !s.running.TryLock() {
		s.logger.Debug("automation: previous tick still running, skipping")
		s.metrics.ObserveTick("overlapped", 0)
		return TickReport{StartedAt: time.Now().UTC(), Overlapped: true}
	}
	defer s.running.Unlock()

	ctx, span := s.tracer.Start(ctx, "automation.tick")
	defer span.End()

	report = TickReport{StartedAt: time.Now().UTC()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		s.metrics.ObserveTick("ran", report.Duration)
	}()

	candidates, err := s.tickets.ListCandidates(ctx, s.cfg.MaxCandidates)
	if err != nil {
		span.RecordError(err)
		s.logger.Errorf("automation: list candidates: %v", err)
		report.Error = err.Error()
		return report
	}
	report.Candidates = len(candidates)
	span.SetAttributes(attribute.Int("automation.candidates", len(candidates)))

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for _, t := range candidates {
		key := t.Key
		p.Go(func() {
			out := s.processOne(ctx, key)
			s.metrics.TicketOutcome(out.Outcome)
			mu.Lock()
			report.add(out)
			mu.Unlock()
		})
	}
	p.Wait()

	if report.Processed+report.FetchErrors+report.Failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"candidates":   report.Candidates,
			"processed":    report.Processed,
			"locked":       report.Locked,
			"fetch_errors": report.FetchErrors,
			"failed":       report.Failed,
			"executed":     report.Executed,
			"exec_errors":  report.ExecErrors,
		}).Info("automation tick finished")
	}
	return report
}

func (s *Scheduler) processOne(ctx context.Context, key string) ProcessResult {
	log := s.logger.WithField("ticket", key)
	lockKey := lock.TicketKey(key)

	ok, err := s.locker.Acquire(ctx, lockKey)
	if err != nil {
		s.metrics.LockAcquire("error")
		log.Warnf("automation: acquire lease: %v", err)
		return ProcessResult{TicketKey: key, Outcome: OutcomeLockError}
	}
	if !ok {
		s.metrics.LockAcquire("lost")
		log.Debug("automation: ticket leased by another instance, skipping")
		return ProcessResult{TicketKey: key, Outcome: OutcomeLocked}
	}
	s.metrics.LockAcquire("won")

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(rctx, lockKey); err != nil {
			log.Warnf("automation: release lease: %v", err)
		}
	}()

	res, err := s.automation.ProcessTicket(ctx, key)
	if err != nil {
		log.Errorf("automation: process ticket: %v", err)
		res.Outcome = OutcomeFailed
	}
	return res
}
