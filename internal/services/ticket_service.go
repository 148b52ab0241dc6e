package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketflow/internal/automation"
	"ticketflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrTicketNotFound 工单不存在
var ErrTicketNotFound = errors.New("ticket not found")

// TicketService 工单与 automation 子文档的存取
type TicketService struct {
	db            *gorm.DB
	logger        *logrus.Logger
	maxExecutions int
	maxErrors     int
}

// NewTicketService 创建工单服务
func NewTicketService(db *gorm.DB, logger *logrus.Logger) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketService{
		db:            db,
		logger:        logger,
		maxExecutions: automation.DefaultMaxExecutions,
		maxErrors:     automation.DefaultMaxErrors,
	}
}

// WithRingLimits 设置执行记录与错误记录的保留条数
func (s *TicketService) WithRingLimits(maxExecutions, maxErrors int) *TicketService {
	s.maxExecutions = maxExecutions
	s.maxErrors = maxErrors
	return s
}

// TicketUpsertRequest 导入或更新工单基础信息
type TicketUpsertRequest struct {
	Key            string                     `json:"key" binding:"required"`
	Summary        string                     `json:"summary"`
	KanbanSubtasks []automation.KanbanSubtask `json:"kanban_subtasks"`
}

// ListCandidates 返回开启自动化且至少有一条规则的工单，最久未处理的优先
func (s *TicketService) ListCandidates(ctx context.Context, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := s.db.WithContext(ctx).
		Select("id", "key", "updated_at").
		Where("automation_enabled = ? AND automation_rule_count > 0", true).
		Order("updated_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("list automation candidates: %w", err)
	}
	return tickets, nil
}

// Get 按 key 读取工单，automation 环形记录按配置截断
func (s *TicketService) Get(ctx context.Context, key string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", key, err)
	}
	ticket.Automation.Bound(s.maxExecutions, s.maxErrors)
	return &ticket, nil
}

// Upsert 创建或更新工单基础字段，不触碰 automation 子文档
func (s *TicketService) Upsert(ctx context.Context, req *TicketUpsertRequest) (*models.Ticket, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("ticket key is required")
	}
	ticket, err := s.Get(ctx, req.Key)
	switch {
	case errors.Is(err, ErrTicketNotFound):
		ticket = &models.Ticket{
			Key:            req.Key,
			Summary:        req.Summary,
			KanbanSubtasks: req.KanbanSubtasks,
			Automation:     automation.NewState(nil),
		}
		ticket.Automation.Enabled = false
		if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
			return nil, fmt.Errorf("create ticket %s: %w", req.Key, err)
		}
		s.logger.WithField("ticket", req.Key).Info("ticket created")
		return ticket, nil
	case err != nil:
		return nil, err
	}

	ticket.Summary = req.Summary
	ticket.KanbanSubtasks = req.KanbanSubtasks
	if err := s.db.WithContext(ctx).
		Model(ticket).
		Select("summary", "kanban_subtasks", "updated_at").
		Updates(ticket).Error; err != nil {
		return nil, fmt.Errorf("update ticket %s: %w", req.Key, err)
	}
	return ticket, nil
}

// SetRules 替换规则配置并保留快照与执行记录
func (s *TicketService) SetRules(ctx context.Context, key string, enabled bool, rules []automation.Rule) (*models.Ticket, error) {
	if err := automation.ValidateRules(rules); err != nil {
		return nil, err
	}
	ticket, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ticket.Automation.Enabled = enabled
	ticket.Automation.Rules = rules
	ticket.Automation.UpdatedAt = time.Now().UTC()
	if err := s.SaveAutomation(ctx, key, ticket.Automation, nil); err != nil {
		return nil, err
	}
	return s.Get(ctx, key)
}

// SaveAutomation 整体写回 automation 子文档（及冗余列），同时追加审计记录
func (s *TicketService) SaveAutomation(ctx context.Context, key string, state automation.State, runs []models.AutomationRun) error {
	state.Version = automation.StateVersion
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Ticket{}).
			Where("key = ?", key).
			Select("automation", "automation_enabled", "automation_rule_count", "updated_at").
			Updates(&models.Ticket{
				Automation:          state,
				AutomationEnabled:   state.Enabled,
				AutomationRuleCount: len(state.Rules),
				UpdatedAt:           time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("save automation of %s: %w", key, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrTicketNotFound, key)
		}
		if len(runs) > 0 {
			if err := tx.Create(&runs).Error; err != nil {
				return fmt.Errorf("record automation runs of %s: %w", key, err)
			}
		}
		return nil
	})
}

// ListRuns 最近的执行审计记录，key 为空时跨工单
func (s *TicketService) ListRuns(ctx context.Context, key string, limit int) ([]models.AutomationRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit)
	if key != "" {
		q = q.Where("ticket_key = ?", key)
	}
	var runs []models.AutomationRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list automation runs: %w", err)
	}
	return runs, nil
}
