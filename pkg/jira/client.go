package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticketflow/internal/textnorm"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Client Jira Cloud REST v3 客户端
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
	config     *Config
}

// NewClient 创建新的 Jira 客户端
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	limit := rate.Inf
	if config.RequestsPerSec > 0 {
		limit = rate.Limit(config.RequestsPerSec)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		email:    config.Email,
		apiToken: config.APIToken,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		config:  config,
	}
}

// 私有方法：创建 HTTP 请求
func (c *Client) createRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.email != "" || c.apiToken != "" {
		req.SetBasicAuth(c.email, c.apiToken)
	}
	req.Header.Set("User-Agent", "ticketflow-jira-client/1.0")

	return req, nil
}

// 私有方法：执行请求，返回原始响应体
func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("Jira API %s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		for _, m := range gjson.GetBytes(body, "errorMessages").Array() {
			apiErr.Messages = append(apiErr.Messages, m.String())
		}
		gjson.GetBytes(body, "errors").ForEach(func(k, v gjson.Result) bool {
			apiErr.Messages = append(apiErr.Messages, k.String()+": "+v.String())
			return true
		})
		return nil, apiErr
	}
	return body, nil
}

// 私有方法：带限流与重试的请求
func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("Jira API retry attempt %d/%d: %s %s", attempt, c.config.MaxRetries, method, endpoint)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := c.createRequest(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}

		respBody, err := c.doRequest(req)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !shouldRetry(ctx, err) {
			break
		}
	}

	return nil, lastErr
}

// 网络错误、5xx 与 429 重试；其余 4xx 直接返回
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

func issuePath(key string, suffix string) string {
	return "/rest/api/3/issue/" + url.PathEscape(key) + suffix
}

// GetIssue 读取工单状态、子任务与排期字段
func (c *Client) GetIssue(ctx context.Context, key string, fields []string) (*Issue, error) {
	if key == "" {
		return nil, fmt.Errorf("issue key is required")
	}

	want := append([]string{}, fields...)
	if c.config.ScheduleField != "" {
		want = append(want, c.config.ScheduleField)
	}
	endpoint := issuePath(key, "")
	if len(want) > 0 {
		endpoint += "?fields=" + url.QueryEscape(strings.Join(want, ","))
	}

	body, err := c.doRequestWithRetry(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	doc := gjson.ParseBytes(body)
	issue := &Issue{
		Key:            doc.Get("key").String(),
		Summary:        doc.Get("fields.summary").String(),
		Status:         doc.Get("fields.status.name").String(),
		StatusCategory: doc.Get("fields.status.statusCategory.key").String(),
	}
	for _, st := range doc.Get("fields.subtasks").Array() {
		issue.Subtasks = append(issue.Subtasks, Subtask{
			Key:            st.Get("key").String(),
			Summary:        st.Get("fields.summary").String(),
			Status:         st.Get("fields.status.name").String(),
			StatusCategory: st.Get("fields.status.statusCategory.key").String(),
		})
	}
	if c.config.ScheduleField != "" {
		issue.Schedule = fieldText(doc.Get("fields." + gjsonEscape(c.config.ScheduleField)))
	}
	return issue, nil
}

// AddComment 以 ADF 格式添加评论
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	if key == "" {
		return fmt.Errorf("issue key is required")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("comment text is required")
	}

	payload := map[string]interface{}{"body": textDocument(text)}
	if _, err := c.doRequestWithRetry(ctx, http.MethodPost, issuePath(key, "/comment"), payload); err != nil {
		return fmt.Errorf("add comment to %s: %w", key, err)
	}
	return nil
}

// GetTransitions 列出当前可用流转
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	body, err := c.doRequestWithRetry(ctx, http.MethodGet, issuePath(key, "/transitions"), nil)
	if err != nil {
		return nil, fmt.Errorf("get transitions of %s: %w", key, err)
	}

	var out []Transition
	for _, t := range gjson.GetBytes(body, "transitions").Array() {
		out = append(out, Transition{
			ID:   t.Get("id").String(),
			Name: t.Get("name").String(),
			To:   t.Get("to.name").String(),
		})
	}
	return out, nil
}

// TransitionToStatusName 按目标状态名（或流转名）执行流转，忽略大小写与重音
func (c *Client) TransitionToStatusName(ctx context.Context, key, status string) (string, error) {
	if strings.TrimSpace(status) == "" {
		return "", fmt.Errorf("target status is required")
	}

	transitions, err := c.GetTransitions(ctx, key)
	if err != nil {
		return "", err
	}
	match, ok := findTransition(transitions, status)
	if !ok {
		return "", fmt.Errorf("%w: %s -> %q", ErrTransitionNotFound, key, status)
	}

	payload := map[string]interface{}{"transition": map[string]string{"id": match.ID}}
	if _, err := c.doRequestWithRetry(ctx, http.MethodPost, issuePath(key, "/transitions"), payload); err != nil {
		return "", fmt.Errorf("transition %s to %q: %w", key, status, err)
	}

	to := match.To
	if to == "" {
		to = match.Name
	}
	return to, nil
}

func findTransition(transitions []Transition, status string) (Transition, bool) {
	for _, t := range transitions {
		if textnorm.Equal(t.To, status) {
			return t, true
		}
	}
	for _, t := range transitions {
		if textnorm.Equal(t.Name, status) {
			return t, true
		}
	}
	return Transition{}, false
}

// HealthCheck 校验凭据与连通性
func (c *Client) HealthCheck(ctx context.Context) error {
	body, err := c.doRequestWithRetry(ctx, http.MethodGet, "/rest/api/3/myself", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if gjson.GetBytes(body, "accountId").String() == "" {
		return fmt.Errorf("health check failed: unexpected response")
	}
	return nil
}

// GetStats 获取客户端配置概要，不含凭据
func (c *Client) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"base_url":       c.baseURL,
		"timeout":        c.config.Timeout.String(),
		"max_retries":    c.config.MaxRetries,
		"schedule_field": c.config.ScheduleField,
	}
}

func gjsonEscape(path string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(path)
}

// fieldText 读取自定义字段：字符串原样返回，ADF 文档转成文本，表格行以 | 分隔
func fieldText(v gjson.Result) string {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ""
	case v.Type == gjson.String:
		return v.String()
	case v.IsObject() && v.Get("type").String() == "doc":
		var b strings.Builder
		adfText(&b, v)
		return strings.TrimSpace(b.String())
	default:
		return v.Raw
	}
}

func adfText(b *strings.Builder, node gjson.Result) {
	switch node.Get("type").String() {
	case "text":
		b.WriteString(node.Get("text").String())
	case "hardBreak":
		b.WriteString("\n")
	case "tableRow":
		var cells []string
		for _, cell := range node.Get("content").Array() {
			var cb strings.Builder
			adfText(&cb, cell)
			cells = append(cells, strings.Join(strings.Fields(cb.String()), " "))
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	case "paragraph", "heading", "listItem":
		for _, child := range node.Get("content").Array() {
			adfText(b, child)
		}
		b.WriteString("\n")
	default:
		for _, child := range node.Get("content").Array() {
			adfText(b, child)
		}
	}
}
