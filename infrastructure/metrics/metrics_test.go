package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pagecap-go/core/event"
	"pagecap-go/core/eventbus"
)

func TestCollector_CompletedJob(t *testing.T) {
	c := NewCollector()

	c.Handle(event.NewJobQueued("job-1", "video", "https://example.com"))
	if got := testutil.ToFloat64(c.active); got != 1 {
		t.Errorf("jobs_active = %v, want 1", got)
	}

	c.Handle(event.NewTabFollowed("job-1", "target-2"))
	c.Handle(event.NewJobCompleted("job-1", "video", "a.mp4", "mp4", 4096, 125, 6*time.Second))

	if got := testutil.ToFloat64(c.active); got != 0 {
		t.Errorf("jobs_active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.captures.WithLabelValues("video", OutcomeCompleted)); got != 1 {
		t.Errorf("captures_total{video,completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.frames); got != 125 {
		t.Errorf("frames_encoded_total = %v, want 125", got)
	}
	if got := testutil.ToFloat64(c.tabsFollowed); got != 1 {
		t.Errorf("tabs_followed_total = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.duration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestCollector_FailedAndCancelled(t *testing.T) {
	c := NewCollector()

	c.Handle(event.NewJobQueued("a", "screenshot", "https://example.com"))
	c.Handle(event.NewJobQueued("b", "video", "https://example.com"))
	c.Handle(event.NewJobFailed("a", "screenshot", "Navigate", errors.New("timeout"), time.Second))
	c.Handle(event.NewJobCancelled("b", "video", time.Second))

	if got := testutil.ToFloat64(c.captures.WithLabelValues("screenshot", OutcomeFailed)); got != 1 {
		t.Errorf("failed count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.captures.WithLabelValues("video", OutcomeCancelled)); got != 1 {
		t.Errorf("cancelled count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.active); got != 0 {
		t.Errorf("jobs_active = %v, want 0", got)
	}
}

func TestCollector_TerminalWithoutQueued(t *testing.T) {
	c := NewCollector()

	c.Handle(event.NewJobFailed("ghost", "video", "Start", errors.New("x"), 0))
	if got := testutil.ToFloat64(c.active); got != 0 {
		t.Errorf("jobs_active = %v, want 0 for an unknown job", got)
	}
}

func TestCollector_AttachAndServe(t *testing.T) {
	bus := eventbus.New(16)

	c := NewCollector()
	c.Attach(bus)
	c.Attach(bus) // second attach is a no-op

	bus.Publish(event.NewJobQueued("job-1", "screenshot", "https://example.com"))
	bus.Publish(event.NewJobCompleted("job-1", "screenshot", "a.png", "png", 100, 0, time.Second))

	// Close drains the queue, so every event has been handled afterwards
	bus.Close()

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		`pagecap_captures_total{mode="screenshot",outcome="completed"} 1`,
		"pagecap_events_dropped_total 0",
		"pagecap_jobs_active 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	c.Detach()
}
