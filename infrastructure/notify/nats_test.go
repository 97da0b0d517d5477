package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pagecap-go/core/event"
	"pagecap-go/core/eventbus"
	"pagecap-go/core/state"
)

type published struct {
	subject string
	data    []byte
}

type mockConn struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (c *mockConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func (c *mockConn) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, jobID, event string
		want                 string
	}{
		{"pagecap", "123e4567", "JobCompleted", "pagecap.jobs.123e4567.JobCompleted"},
		{"acme.capture", "a.b", "JobFailed", "acme.capture.jobs.a_b.JobFailed"},
		{"pagecap", "", "JobQueued", "pagecap.jobs._.JobQueued"},
		{"pagecap", "x>*y z", "JobQueued", "pagecap.jobs.x__y_z.JobQueued"},
	}

	for _, tt := range tests {
		if got := Subject(tt.prefix, tt.jobID, tt.event); got != tt.want {
			t.Errorf("Subject(%q, %q, %q) = %q, want %q", tt.prefix, tt.jobID, tt.event, got, tt.want)
		}
	}
}

func TestPublisher_Handle(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisher(conn, "", nil)
	p.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	p.Handle(event.NewJobFailed("job-1", "video", "Navigate", errors.New("timeout"), 1500*time.Millisecond))

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].subject != "pagecap.jobs.job-1.JobFailed" {
		t.Errorf("subject = %q", msgs[0].subject)
	}

	var msg Message
	if err := json.Unmarshal(msgs[0].data, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.Event != "JobFailed" || msg.JobID != "job-1" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Data["error"] != "timeout" || msg.Data["operation"] != "Navigate" {
		t.Errorf("data = %v", msg.Data)
	}
	if msg.Data["elapsedMs"] != float64(1500) {
		t.Errorf("elapsedMs = %v, want 1500", msg.Data["elapsedMs"])
	}
	if !msg.Timestamp.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
}

func TestPublisher_StateChangePayload(t *testing.T) {
	p := NewPublisher(&mockConn{}, "pagecap", nil)

	data, err := p.Payload(event.NewJobStateChanged("job-1", state.StateLoading, state.StatePreparing))
	if err != nil {
		t.Fatalf("Payload() error: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.Data["from"] != "Loading" || msg.Data["to"] != "Preparing" {
		t.Errorf("data = %v", msg.Data)
	}
}

func TestPublisher_PublishErrorIsLogged(t *testing.T) {
	conn := &mockConn{err: errors.New("nats: connection closed")}
	p := NewPublisher(conn, "pagecap", nil)

	// Must not panic or block
	p.Handle(event.NewJobQueued("job-1", "video", "https://example.com"))
}

func TestPublisher_AttachForwardsBusEvents(t *testing.T) {
	conn := &mockConn{}
	bus := eventbus.New(16)

	p := NewPublisher(conn, "pagecap", nil)
	p.Attach(bus)

	bus.Publish(event.NewJobQueued("job-1", "screenshot", "https://example.com"))
	bus.Publish(event.NewJobCompleted("job-1", "screenshot", "a.png", "png", 10, 0, time.Second))
	bus.Close()

	msgs := conn.messages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[1].subject != "pagecap.jobs.job-1.JobCompleted" {
		t.Errorf("subject = %q", msgs[1].subject)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
