package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketflow"

// Metrics holds the service's Prometheus collectors. All methods are safe on
// a nil receiver so callers can run without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	tickets        *prometheus.CounterVec
	executions     *prometheus.CounterVec
	lockAcquire    *prometheus.CounterVec
	rateLimitDrops *prometheus.CounterVec
}

// New 创建并注册全部指标（独立 Registry，便于测试）
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result (ran, overlapped).",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a scheduler tick.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		tickets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "tickets_total",
			Help:      "Tickets visited by outcome.",
		}, []string{"outcome"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "executions_total",
			Help:      "Rule executions by trigger type and status.",
		}, []string{"trigger", "status"}),
		lockAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "lock_acquire_total",
			Help:      "Ticket lease acquisition attempts by result.",
		}, []string{"result"}),
		rateLimitDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limit_drops_total",
			Help:      "Requests rejected with 429 by limiter prefix.",
		}, []string{"prefix"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.tickDuration, m.tickets, m.executions, m.lockAcquire, m.rateLimitDrops,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	if d > 0 {
		m.tickDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) TicketOutcome(outcome string) {
	if m == nil {
		return
	}
	m.tickets.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Execution(trigger, status string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(trigger, status).Inc()
}

func (m *Metrics) LockAcquire(result string) {
	if m == nil {
		return
	}
	m.lockAcquire.WithLabelValues(result).Inc()
}

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func (m *Metrics) IncRateLimitDrop(prefix string) {
	if m == nil {
		return
	}
	if prefix == "" {
		prefix = "global"
	}
	m.rateLimitDrops.WithLabelValues(prefix).Inc()
}
