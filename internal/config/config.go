package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Jira       JiraConfig       `mapstructure:"jira" yaml:"jira"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	JWT        JWTConfig        `mapstructure:"jwt" yaml:"jwt"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security" yaml:"security"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Password     string `mapstructure:"password" yaml:"password"`
	DB           int    `mapstructure:"db" yaml:"db"`
	PoolSize     int    `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
}

// JiraConfig 外部工单系统（Jira Cloud REST v3）
type JiraConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Email          string        `mapstructure:"email" yaml:"email"`
	APIToken       string        `mapstructure:"api_token" yaml:"api_token"`
	ScheduleField  string        `mapstructure:"schedule_field" yaml:"schedule_field"` // e.g. customfield_10050
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
	Burst          int           `mapstructure:"burst" yaml:"burst"`
}

// AutomationConfig 自动化引擎调度参数
type AutomationConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
	MaxCandidates int           `mapstructure:"max_candidates" yaml:"max_candidates"`
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	LockBackend   string        `mapstructure:"lock_backend" yaml:"lock_backend"` // db, redis
	MaxExecutions int           `mapstructure:"max_executions" yaml:"max_executions"`
	MaxErrors     int           `mapstructure:"max_errors" yaml:"max_errors"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	IssueFields   []string      `mapstructure:"issue_fields" yaml:"issue_fields"`
}

type JWTConfig struct {
	Secret    string        `mapstructure:"secret" yaml:"secret"`
	ExpiresIn time.Duration `mapstructure:"expires_in" yaml:"expires_in"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`         // OTLP gRPC 端点
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors" yaml:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting" yaml:"rate_limiting"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
}

type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst"`
}

// Load 在默认配置之上叠加 viper 中读取到的配置（文件 + 环境变量）
func Load() *Config {
	cfg := GetDefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// BindEnv 让 viper 能通过 TICKETFLOW_JIRA_API_TOKEN 之类的环境变量覆盖嵌套键
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("ticketflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "ticketflow",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Jira: JiraConfig{
			BaseURL:        "https://example.atlassian.net",
			ScheduleField:  "customfield_10050",
			Timeout:        20 * time.Second,
			MaxRetries:     2,
			RetryDelay:     500 * time.Millisecond,
			RequestsPerSec: 5,
			Burst:          10,
		},
		Automation: AutomationConfig{
			Enabled:       true,
			Interval:      60 * time.Second,
			LeaseTTL:      5 * time.Minute,
			MaxCandidates: 50,
			Workers:       1,
			LockBackend:   "db",
			MaxExecutions: 200,
			MaxErrors:     50,
			FetchTimeout:  30 * time.Second,
			IssueFields:   []string{"status", "subtasks", "summary"},
		},
		JWT: JWTConfig{
			ExpiresIn: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/ticketflow.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "ticketflow",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
			RateLimiting: RateLimitingConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
	}
}
