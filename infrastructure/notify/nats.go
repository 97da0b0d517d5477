// Package notify forwards job events to NATS so other services can follow
// captures without polling the HTTP API.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"pagecap-go/core/event"
	"pagecap-go/core/eventbus"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Config configures the NATS connection.
type Config struct {
	// URL is the NATS server URL
	URL string

	// SubjectPrefix is the first subject token
	SubjectPrefix string

	// Name identifies the connection on the server
	Name string

	// ConnectTimeout is the connection timeout
	ConnectTimeout time.Duration
}

// Message is the JSON payload published for every job event.
type Message struct {
	Event     string         `json:"event"`
	JobID     string         `json:"jobId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NATSPublisher publishes job events to NATS.
type NATSPublisher struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	bus   eventbus.EventBus
	subID string
}

// Connect dials NATS and returns a publisher owning the connection.
func Connect(cfg Config, logger *slog.Logger) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.nc = nc
	return p, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "pagecap"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger, now: time.Now}
}

// Attach forwards every job event published on bus.
func (p *NATSPublisher) Attach(bus eventbus.EventBus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus != nil {
		return
	}
	p.bus = bus
	p.subID = bus.Subscribe(p.Handle)
}

// Handle publishes one event. Events without a job are ignored.
func (p *NATSPublisher) Handle(e event.Event) {
	je, ok := e.(event.JobEvent)
	if !ok {
		return
	}

	data, err := p.Payload(je)
	if err != nil {
		p.logger.Warn("Failed to encode event", "event", e.EventName(), "error", err)
		return
	}

	subject := Subject(p.prefix, je.JobID(), e.EventName())
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}

// Payload encodes the message for e.
func (p *NATSPublisher) Payload(e event.JobEvent) ([]byte, error) {
	return json.Marshal(NewMessage(e, p.now()))
}

// NewMessage builds the message for an event observed at the given time.
func NewMessage(e event.JobEvent, at time.Time) Message {
	return Message{
		Event:     e.EventName(),
		JobID:     e.JobID(),
		Timestamp: at.UTC(),
		Data:      eventData(e),
	}
}

// Close unsubscribes from the bus, flushes and closes an owned connection.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	if p.bus != nil {
		p.bus.Unsubscribe(p.subID)
		p.bus = nil
	}
	p.mu.Unlock()

	if p.nc != nil {
		if err := p.nc.Flush(); err != nil {
			p.logger.Debug("NATS flush failed", "error", err)
		}
		p.nc.Close()
	}
	return nil
}

// Subject returns "<prefix>.jobs.<jobID>.<event>" with each token made subject-safe.
func Subject(prefix, jobID, eventName string) string {
	return strings.Join([]string{prefix, "jobs", token(jobID), token(eventName)}, ".")
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}

func eventData(e event.Event) map[string]any {
	switch ev := e.(type) {
	case *event.JobQueued:
		return map[string]any{"mode": ev.Mode, "url": ev.URL}
	case *event.JobStateChanged:
		return map[string]any{"from": ev.OldState.String(), "to": ev.NewState.String()}
	case *event.BrowserLaunched:
		return map[string]any{"remote": ev.Remote}
	case *event.RecordingProgress:
		return map[string]any{"frames": ev.Frames, "elapsedMs": ev.Elapsed.Milliseconds()}
	case *event.TabFollowed:
		return map[string]any{"targetId": ev.TargetID}
	case *event.JobCompleted:
		return map[string]any{
			"mode":      ev.Mode,
			"file":      ev.FileName,
			"format":    ev.Format,
			"size":      ev.Size,
			"frames":    ev.Frames,
			"elapsedMs": ev.Elapsed.Milliseconds(),
		}
	case *event.JobFailed:
		data := map[string]any{
			"mode":      ev.Mode,
			"operation": ev.Operation,
			"elapsedMs": ev.Elapsed.Milliseconds(),
		}
		if ev.Error != nil {
			data["error"] = ev.Error.Error()
		}
		return data
	case *event.JobCancelled:
		return map[string]any{"mode": ev.Mode, "elapsedMs": ev.Elapsed.Milliseconds()}
	}
	return nil
}
