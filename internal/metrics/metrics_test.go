package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveTick("ran", 120*time.Millisecond)
	m.ObserveTick("overlapped", 0)
	m.TicketOutcome("processed")
	m.TicketOutcome("processed")
	m.Execution("subtask.completed", "success")
	m.LockAcquire("lost")
	m.IncRateLimitDrop("")

	if got := testutil.ToFloat64(m.ticks.WithLabelValues("ran")); got != 1 {
		t.Errorf("ticks{ran} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tickets.WithLabelValues("processed")); got != 2 {
		t.Errorf("tickets{processed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.executions.WithLabelValues("subtask.completed", "success")); got != 1 {
		t.Errorf("executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rateLimitDrops.WithLabelValues("global")); got != 1 {
		t.Errorf("empty prefix should count as global, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTick("ran", time.Second)
	m.TicketOutcome("processed")
	m.Execution("x", "y")
	m.LockAcquire("won")
	m.IncRateLimitDrop("api")
}

func TestMetrics_ConcurrentIncrements(t *testing.T) {
	m := New()

	const goroutines = 50
	const perGoroutine = 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				m.IncRateLimitDrop("concurrent")
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.rateLimitDrops.WithLabelValues("concurrent")); got != goroutines*perGoroutine {
		t.Errorf("drops = %v, want %d", got, goroutines*perGoroutine)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.LockAcquire("won")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `ticketflow_automation_lock_acquire_total{result="won"} 1`) {
		t.Errorf("metrics output missing lock counter:\n%s", body)
	}
}
