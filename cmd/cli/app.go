package cli

import (
	"context"
	"fmt"

	"ticketflow/internal/config"
	"ticketflow/internal/lock"
	"ticketflow/internal/metrics"
	"ticketflow/internal/models"
	"ticketflow/internal/observability"
	"ticketflow/internal/services"
	"ticketflow/pkg/jira"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// app 各子命令共用的依赖
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	db         *gorm.DB
	redis      *redis.Client
	jira       *jira.Client
	metrics    *metrics.Metrics
	tickets    *services.TicketService
	automation *services.AutomationService
	scheduler  *services.Scheduler
}

// loadConfig 加载配置并初始化日志
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	dc := cfg.Database
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		dc.Host, dc.User, dc.Password, dc.Name, dc.Port, dc.SSLMode,
	)
	level := logger.Warn
	if cfg.Log.Level == "debug" {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(dc.MaxOpenConns)
	sqlDB.SetMaxIdleConns(dc.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(dc.ConnMaxLifetime)

	if err := observability.InstrumentDB(db, cfg); err != nil {
		return nil, err
	}
	return db, nil
}

func newRedis(rc config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", rc.Host, rc.Port),
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
	})
}

func newJiraClient(jc config.JiraConfig, l *logrus.Logger) *jira.Client {
	return jira.NewClient(&jira.Config{
		BaseURL:        jc.BaseURL,
		Email:          jc.Email,
		APIToken:       jc.APIToken,
		ScheduleField:  jc.ScheduleField,
		Timeout:        jc.Timeout,
		MaxRetries:     jc.MaxRetries,
		RetryDelay:     jc.RetryDelay,
		RequestsPerSec: jc.RequestsPerSec,
		Burst:          jc.Burst,
	}, l)
}

// newApp 连接数据库与外部依赖并装配服务
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logrus.StandardLogger(),
		metrics: metrics.New(),
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db

	ac := cfg.Automation
	var locker lock.Locker
	switch ac.LockBackend {
	case "redis":
		a.redis = newRedis(cfg.Redis)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = lock.NewRedisLocker(a.redis, ac.LeaseTTL)
	case "", "db":
		locker = lock.NewGormLocker(db, ac.LeaseTTL)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown automation.lock_backend %q", ac.LockBackend)
	}

	a.jira = newJiraClient(cfg.Jira, a.logger)
	a.tickets = services.NewTicketService(db, a.logger).WithRingLimits(ac.MaxExecutions, ac.MaxErrors)
	a.automation = services.NewAutomationService(a.tickets, services.NewJiraTracker(a.jira), a.logger, services.AutomationOptions{
		IssueFields:  ac.IssueFields,
		FetchTimeout: ac.FetchTimeout,
		Metrics:      a.metrics,
	})
	a.scheduler = services.NewScheduler(a.automation, a.tickets, locker, services.SchedulerConfig{
		Interval:      ac.Interval,
		MaxCandidates: ac.MaxCandidates,
		Workers:       ac.Workers,
	}, a.metrics, a.logger)

	a.logger.WithFields(logrus.Fields{
		"lock_backend": ac.LockBackend,
		"holder":       locker.HolderID(),
		"jira":         cfg.Jira.BaseURL,
	}).Debug("application wired")
	return a, nil
}

func (a *app) migrate() error {
	if err := a.db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warnf("close redis: %v", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
