package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"pushcron/internal/dispatch"
	"pushcron/internal/eventbus"
	"pushcron/internal/task/engine"
	"pushcron/internal/trigger"
)

func sentEvent() trigger.Event {
	return trigger.Event{
		ID: "1", Source: trigger.SourceSchedule, Job: "daily_tip", Title: "T",
		Target: dispatch.Broadcast("all_users"), Outcome: dispatch.Sent(20 * time.Millisecond), At: time.Now(),
	}
}

func failedEvent(reason dispatch.Reason) trigger.Event {
	ev := sentEvent()
	ev.Source = trigger.SourceCustom
	ev.Job = trigger.CustomJobName
	ev.Outcome = dispatch.Failed(reason, errors.New("provider down"))
	return ev
}

func TestMetricsObserve(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.Observe(sentEvent())
	m.Observe(sentEvent())
	m.Observe(failedEvent(dispatch.ReasonUnavailable))

	if got := testutil.ToFloat64(m.dispatches.WithLabelValues("daily_tip", "schedule", "sent", "")); got != 2 {
		t.Fatalf("sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.dispatches.WithLabelValues("custom", "custom", "failed", "unavailable")); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
}

func TestMetricsHandlerAndMiddleware(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.WatchEngine(func() engine.Snapshot { return engine.Snapshot{QueueLen: 3} })

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/jobs/{name}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/daily_tip", nil))
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/jobs/{name}", "GET", "418")); got != 1 {
		t.Fatalf("http requests = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"pushcron_engine_queue_length 3", "pushcron_http_requests_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

type captureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captureTransport) Configure(sentry.ClientOptions) {}
func (c *captureTransport) SendEvent(e *sentry.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}
func (c *captureTransport) Flush(time.Duration) bool { return true }
func (c *captureTransport) FlushWithContext(context.Context) bool { return true }
func (c *captureTransport) Close() {}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestSentryReportsOnlyDeliveryFailures(t *testing.T) {
	t.Parallel()
	tr := &captureTransport{}
	s, err := NewSentry(SentryOptions{Transport: tr, Environment: "test"})
	if err != nil {
		t.Fatalf("NewSentry error: %v", err)
	}
	s.Observe(sentEvent())
	s.Observe(failedEvent(dispatch.ReasonInvalidTarget))
	s.Observe(failedEvent(dispatch.ReasonQuota))
	s.Flush(time.Second)

	if got := tr.count(); got != 1 {
		t.Fatalf("events = %d, want 1", got)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.events[0].Tags["reason"] != "quota" || tr.events[0].Tags["job"] != "custom" {
		t.Fatalf("tags = %v", tr.events[0].Tags)
	}
}

func TestNewSentryRequiresDSN(t *testing.T) {
	t.Parallel()
	if _, err := NewSentry(SentryOptions{}); err == nil {
		t.Fatal("expected error without dsn")
	}
}

func TestBusObserver(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	o := BusObserver{Bus: bus}
	o.Observe(sentEvent())
	o.Observe(failedEvent(dispatch.ReasonUnavailable))

	for _, want := range []string{eventbus.TypeDispatchSent, eventbus.TypeDispatchFailed} {
		select {
		case ev := <-ch:
			if ev.Type != want {
				t.Fatalf("type = %s, want %s", ev.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", want)
		}
	}
}
