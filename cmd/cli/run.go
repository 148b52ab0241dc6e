package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketflow/internal/handlers"
	"ticketflow/internal/middleware"
	"ticketflow/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var autoMigrate bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the automation scheduler and HTTP API",
	RunE:  run,
}

func init() {
	runCmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "migrate the schema before starting")
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 加载配置并初始化日志
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logrus.Warnf("shutdown tracing: %v", err)
		}
	}()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if autoMigrate {
		if err := a.migrate(); err != nil {
			return err
		}
	}

	// 启动自动化调度
	if cfg.Automation.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return err
		}
	} else {
		logrus.Info("Automation scheduler disabled by config")
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           setupRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.scheduler.Stop(ctx); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
	return nil
}

func setupRouter(a *app) *gin.Engine {
	cfg := a.cfg
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORSMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	// 健康检查
	health := handlers.NewHealthHandler(a.db, nil, Version)
	if a.redis != nil {
		health = handlers.NewHealthHandler(a.db, a.redis, Version)
	}
	health.WithTracker(a.jira)
	handlers.RegisterHealthRoutes(router, health)

	if cfg.Monitoring.Enabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(a.metrics.Handler()))
	}

	// API 路由组
	api := router.Group("/api/v1")
	if rl := cfg.Security.RateLimiting; rl.Enabled && rl.RequestsPerMinute > 0 {
		limiter := middleware.NewRateLimiter(rl, a.metrics)
		go sweepLimiter(limiter)
		api.Use(limiter.Handler())
	}
	api.Use(middleware.AuthMiddleware(cfg))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(a.tickets, a.automation, a.scheduler, a.logger))

	return router
}

func sweepLimiter(l *middleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if n := l.Sweep(); n > 0 {
			logrus.Debugf("rate limiter: dropped %d idle clients", n)
		}
	}
}
