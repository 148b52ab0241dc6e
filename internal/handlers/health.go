package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var startTime = time.Now()

// TrackerStats 追踪器客户端概要，如 *jira.Client
type TrackerStats interface {
	GetStats() map[string]interface{}
}

// HealthHandler 存活与就绪检查
type HealthHandler struct {
	db      *gorm.DB
	redis   redis.Cmdable
	tracker TrackerStats
	version string
}

// NewHealthHandler redis 为 nil 时不检查
func NewHealthHandler(db *gorm.DB, rdb redis.Cmdable, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, version: version}
}

// WithTracker 在 /health 中附带追踪器客户端概要
func (h *HealthHandler) WithTracker(t TrackerStats) *HealthHandler {
	h.tracker = t
	return h
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	GoVersion string                 `json:"go_version,omitempty"`
	Checks    map[string]string      `json:"checks,omitempty"`
	Tracker   map[string]interface{} `json:"tracker,omitempty"`
}

// Health 进程存活
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		GoVersion: runtime.Version(),
	}
	if h.tracker != nil {
		resp.Tracker = h.tracker.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}

// Ready 依赖可用时才就绪
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]string)

	if sqlDB, err := h.db.DB(); err != nil {
		ready = false
		checks["database"] = err.Error()
	} else if err := sqlDB.PingContext(ctx); err != nil {
		ready = false
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			ready = false
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	resp := HealthResponse{
		Status:    "ready",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
	status := http.StatusOK
	if !ready {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// RegisterHealthRoutes 注册健康检查路由
func RegisterHealthRoutes(r gin.IRoutes, handler *HealthHandler) {
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
}
