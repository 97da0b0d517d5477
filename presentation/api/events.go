package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pagecap-go/core/event"
	"pagecap-go/infrastructure/logging"
	"pagecap-go/infrastructure/notify"
)

// streamBuffer bounds the events queued for a slow client.
const streamBuffer = 64

// handleJobEvents bridges the event bus to a client as server-sent events.
// The stream ends after the job's terminal event.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EventBus == nil {
		respondError(w, http.StatusNotImplemented, errors.New("event streaming is not configured"))
		return
	}

	jobID := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	logger := logging.From(r.Context()).With("job_id", jobID)
	events := make(chan event.JobEvent, streamBuffer)
	subID := s.cfg.EventBus.SubscribeJob(jobID, func(e event.Event) {
		je, ok := e.(event.JobEvent)
		if !ok {
			return
		}
		select {
		case events <- je:
		default:
			logger.Warn("Event stream is full, dropping event", "event", e.EventName())
		}
	})
	defer s.cfg.EventBus.Unsubscribe(subID)

	if !s.isActive(jobID) {
		respondError(w, http.StatusNotFound, fmt.Errorf("job not found: %s", jobID))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			data, err := json.Marshal(notify.NewMessage(e, time.Now()))
			if err != nil {
				logger.Warn("Failed to encode event", "event", e.EventName(), "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.EventName(), data)
			flusher.Flush()

			if isTerminal(e) {
				return
			}
		}
	}
}

func (s *Server) isActive(jobID string) bool {
	for _, j := range s.captures.Jobs() {
		if j.ID == jobID {
			return true
		}
	}
	return false
}

func isTerminal(e event.Event) bool {
	switch e.(type) {
	case *event.JobCompleted, *event.JobFailed, *event.JobCancelled:
		return true
	}
	return false
}
