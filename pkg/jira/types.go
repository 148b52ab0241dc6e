package jira

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTransitionNotFound 目标状态不在当前可用流转中
var ErrTransitionNotFound = errors.New("jira: no transition to target status")

// Config Jira 客户端配置
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	Email          string        `yaml:"email"`
	APIToken       string        `yaml:"api_token"`
	ScheduleField  string        `yaml:"schedule_field"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	Burst          int           `yaml:"burst"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://example.atlassian.net",
		Timeout:        20 * time.Second,
		MaxRetries:     2,
		RetryDelay:     500 * time.Millisecond,
		RequestsPerSec: 5,
		Burst:          10,
	}
}

// Issue 自动化需要的工单字段
type Issue struct {
	Key            string    `json:"key"`
	Summary        string    `json:"summary"`
	Status         string    `json:"status"`
	StatusCategory string    `json:"status_category"`
	Subtasks       []Subtask `json:"subtasks"`
	Schedule       string    `json:"schedule"`
}

type Subtask struct {
	Key            string `json:"key"`
	Summary        string `json:"summary"`
	Status         string `json:"status"`
	StatusCategory string `json:"status_category"`
}

// Transition 可用流转
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   string `json:"to"`
}

// APIError 非 2xx 响应
type APIError struct {
	StatusCode int
	Messages   []string
	Body       string
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("jira API error [%d]: %s", e.StatusCode, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("jira API error [%d]: %s", e.StatusCode, e.Body)
}

// Temporary 5xx 与 429 可重试
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// adf Atlassian Document Format 节点
type adf struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Text    string         `json:"text,omitempty"`
	Content []adf          `json:"content,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// textDocument 把纯文本按行转成 ADF 段落
func textDocument(text string) adf {
	doc := adf{Type: "doc", Version: 1}
	for _, para := range strings.Split(strings.TrimRight(text, "\n"), "\n\n") {
		p := adf{Type: "paragraph"}
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				p.Content = append(p.Content, adf{Type: "hardBreak"})
			}
			if line != "" {
				p.Content = append(p.Content, adf{Type: "text", Text: line})
			}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}
