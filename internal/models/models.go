package models

import (
	"time"

	"ticketflow/internal/automation"
)

// 工单：automation 子文档整体读写
type Ticket struct {
	ID             uint                       `gorm:"primaryKey" json:"id"`
	Key            string                     `gorm:"uniqueIndex;size:64;not null" json:"key"`
	Summary        string                     `json:"summary"`
	KanbanSubtasks []automation.KanbanSubtask `gorm:"type:text;serializer:json" json:"kanban_subtasks"`

	// denormalized from Automation for candidate selection
	AutomationEnabled   bool `gorm:"index;default:false" json:"automation_enabled"`
	AutomationRuleCount int  `gorm:"default:0" json:"automation_rule_count"`

	Automation automation.State `gorm:"type:text;serializer:json" json:"automation"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// AutomationLock 工单级租约锁
type AutomationLock struct {
	Key            string    `gorm:"primaryKey;size:128" json:"key"`
	HolderID       string    `gorm:"size:128;not null" json:"holder_id"`
	LeaseExpiresAt time.Time `gorm:"index;not null" json:"lease_expires_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AutomationRun 执行记录用于审计，跨工单查询
type AutomationRun struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TicketKey   string    `gorm:"index;size:64" json:"ticket_key"`
	RuleID      string    `gorm:"index;size:128" json:"rule_id"`
	EventKey    string    `gorm:"type:text" json:"event_key"`
	TriggerType string    `gorm:"size:64" json:"trigger_type"`
	Status      string    `gorm:"index;size:16" json:"status"` // success, error
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// All 供 AutoMigrate 使用
func All() []interface{} {
	return []interface{}{&Ticket{}, &AutomationLock{}, &AutomationRun{}}
}
