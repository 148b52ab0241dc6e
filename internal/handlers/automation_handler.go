package handlers

import (
	"errors"
	"net/http"

	"ticketflow/internal/automation"
	"ticketflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler 工单自动化配置、试运行与手动调度
type AutomationHandler struct {
	tickets    *services.TicketService
	automation *services.AutomationService
	scheduler  *services.Scheduler
	logger     *logrus.Logger
}

// NewAutomationHandler 创建自动化处理器
func NewAutomationHandler(tickets *services.TicketService, automationService *services.AutomationService, scheduler *services.Scheduler, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{
		tickets:    tickets,
		automation: automationService,
		scheduler:  scheduler,
		logger:     logger,
	}
}

// SetAutomationRequest 整体替换规则配置
type SetAutomationRequest struct {
	Enabled bool              `json:"enabled"`
	Rules   []automation.Rule `json:"rules"`
}

// DryRunRequest 为空时使用已保存的规则
type DryRunRequest struct {
	Rules []automation.Rule `json:"rules"`
}

// GetAutomation 获取工单的自动化配置、快照与执行记录
// @Router /api/v1/automations/{key} [get]
func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	ticket, err := h.tickets.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondError(c, "Failed to get automation", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// SetAutomation 写入规则；工单不存在时先登记
// @Router /api/v1/automations/{key} [put]
func (h *AutomationHandler) SetAutomation(c *gin.Context) {
	var req SetAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	if err := automation.ValidateRules(req.Rules); err != nil {
		h.respondError(c, "Invalid rules", err)
		return
	}

	ctx := c.Request.Context()
	key := c.Param("key")
	if _, err := h.tickets.Get(ctx, key); errors.Is(err, services.ErrTicketNotFound) {
		if _, err := h.tickets.Upsert(ctx, &services.TicketUpsertRequest{Key: key}); err != nil {
			h.respondError(c, "Failed to register ticket", err)
			return
		}
	}

	ticket, err := h.tickets.SetRules(ctx, key, req.Enabled, req.Rules)
	if err != nil {
		h.respondError(c, "Failed to set automation", err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"ticket":  key,
		"enabled": req.Enabled,
		"rules":   len(req.Rules),
	}).Info("automation rules updated")
	c.JSON(http.StatusOK, SuccessResponse{Message: "automation updated", Data: ticket})
}

// UpsertTicket 登记或更新工单基础信息（摘要、看板子任务）
// @Router /api/v1/tickets [post]
func (h *AutomationHandler) UpsertTicket(c *gin.Context) {
	var req services.TicketUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	ticket, err := h.tickets.Upsert(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, "Failed to upsert ticket", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// DryRun 以当前外部状态评估规则，不执行也不写回
// @Router /api/v1/automations/{key}/dry-run [post]
func (h *AutomationHandler) DryRun(c *gin.Context) {
	var req DryRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request body",
				Message: err.Error(),
			})
			return
		}
	}
	report, err := h.automation.DryRun(c.Request.Context(), c.Param("key"), req.Rules)
	if err != nil {
		h.respondError(c, "Dry run failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Tick 立即执行一轮调度
// @Router /api/v1/automations/tick [post]
func (h *AutomationHandler) Tick(c *gin.Context) {
	report := h.scheduler.Tick(c.Request.Context())
	status := http.StatusOK
	if report.Overlapped {
		status = http.StatusConflict
	}
	c.JSON(status, report)
}

// ListRuns 执行审计记录，可按 ticket 过滤
// @Router /api/v1/automations/runs [get]
func (h *AutomationHandler) ListRuns(c *gin.Context) {
	runs, err := h.tickets.ListRuns(c.Request.Context(), c.Query("ticket"), queryInt(c, "limit", 50))
	if err != nil {
		h.respondError(c, "Failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs, "total": len(runs)})
}

func (h *AutomationHandler) respondError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found", Message: err.Error()})
	case errors.Is(err, automation.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Message: err.Error()})
	default:
		h.logger.Errorf("%s: %v", msg, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg, Message: err.Error()})
	}
}

// RegisterAutomationRoutes 注册自动化路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	automations := r.Group("/automations")
	{
		automations.GET("/runs", handler.ListRuns)
		automations.POST("/tick", handler.Tick)
		automations.GET("/:key", handler.GetAutomation)
		automations.PUT("/:key", handler.SetAutomation)
		automations.POST("/:key/dry-run", handler.DryRun)
	}
	r.POST("/tickets", handler.UpsertTicket)
}
