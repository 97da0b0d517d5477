package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pagecap-go/core/command"
	"pagecap-go/domain/capture"
	"pagecap-go/presentation/node"
)

const maxHistoryLimit = 500

type recordView struct {
	ID          string  `json:"id"`
	Mode        string  `json:"mode"`
	URL         string  `json:"url"`
	FileName    string  `json:"fileName,omitempty"`
	Format      string  `json:"format,omitempty"`
	MimeType    string  `json:"mimeType,omitempty"`
	Size        int     `json:"size"`
	State       string  `json:"state"`
	Error       string  `json:"error,omitempty"`
	HasArtifact bool    `json:"hasArtifact"`
	StartedAt   string  `json:"startedAt"`
	FinishedAt  string  `json:"finishedAt,omitempty"`
	ElapsedSec  float64 `json:"elapsedSeconds"`
}

func newRecordView(rec *capture.Record) recordView {
	v := recordView{
		ID:          rec.ID,
		Mode:        string(rec.Mode),
		URL:         rec.URL,
		FileName:    rec.FileName,
		Format:      rec.Format,
		MimeType:    rec.MimeType,
		Size:        rec.Size,
		State:       rec.State,
		Error:       rec.Error,
		HasArtifact: rec.HasArtifact(),
		StartedAt:   rec.StartedAt.UTC().Format(time.RFC3339Nano),
		ElapsedSec:  rec.Elapsed().Seconds(),
	}
	if !rec.FinishedAt.IsZero() {
		v.FinishedAt = rec.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

type presetView struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Fields      []string `json:"fields"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   len(s.captures.Jobs()),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.node == nil {
		respondError(w, http.StatusNotImplemented, errors.New("node is not configured"))
		return
	}

	body, status, err := readBody(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		respondError(w, status, err)
		return
	}

	var req struct {
		Items []node.Item `json:"items"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("decode items: %w", err))
		return
	}

	items, err := s.node.Execute(r.Context(), req.Items)
	if err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleNodeDescription(w http.ResponseWriter, r *http.Request) {
	if s.node == nil {
		respondError(w, http.StatusNotImplemented, errors.New("node is not configured"))
		return
	}
	respondJSON(w, http.StatusOK, s.node.Description())
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	all := s.captures.Presets().All()
	views := make([]presetView, 0, len(all))
	for _, p := range all {
		views = append(views, presetView{Name: p.Name, Description: p.Description, Fields: p.Fields()})
	}
	respondJSON(w, http.StatusOK, map[string]any{"presets": views})
}

func (s *Server) handleCreateCapture(w http.ResponseWriter, r *http.Request) {
	body, status, err := readBody(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		respondError(w, status, err)
		return
	}

	p, err := s.captures.ResolveParams(s.baseParams(), body)
	if err != nil {
		respondError(w, statusOf(err), err)
		return
	}

	jobID := uuid.NewString()
	artifact, err := s.captures.ExecuteJob(r.Context(), jobID, p)
	if err != nil {
		respondError(w, statusOf(err), err)
		return
	}

	meta, err := json.Marshal(artifact.Metadata)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("X-Capture-Id", jobID)
	w.Header().Set("X-Capture-Metadata", string(meta))
	writeArtifact(w, artifact.FileName, artifact.MimeType, artifact.Data)
}

func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	history := s.captures.History()
	if history == nil {
		respondError(w, statusOf(errHistoryDisabled), errHistoryDisabled)
		return
	}

	limit := capture.DefaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	recs, err := history.ListRecent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newRecordView(rec))
	}
	respondJSON(w, http.StatusOK, map[string]any{"captures": views})
}

func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	history := s.captures.History()
	if history == nil {
		respondError(w, statusOf(errHistoryDisabled), errHistoryDisabled)
		return
	}

	rec, err := history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusOK, newRecordView(rec))
}

func (s *Server) handleDeleteCapture(w http.ResponseWriter, r *http.Request) {
	history := s.captures.History()
	if history == nil {
		respondError(w, statusOf(errHistoryDisabled), errHistoryDisabled)
		return
	}

	if err := history.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	history := s.captures.History()
	if history == nil {
		respondError(w, statusOf(errHistoryDisabled), errHistoryDisabled)
		return
	}

	rec, data, err := history.LoadArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	writeArtifact(w, rec.FileName, rec.MimeType, data)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"jobs": s.captures.Jobs()})
}

// handleSubmitJob starts a capture in the background. Progress is followed
// through the job's event stream and the result through the history.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	body, status, err := readBody(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		respondError(w, status, err)
		return
	}

	p, err := s.captures.ResolveParams(s.baseParams(), body)
	if err != nil {
		respondError(w, statusOf(err), err)
		return
	}

	jobID := uuid.NewString()
	if err := s.captures.Dispatch(command.NewStartCapture(jobID, p)); err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     jobID,
		"events": "/v1/jobs/" + jobID + "/events",
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.captures.Dispatch(command.NewCancelCapture(chi.URLParam(r, "id"))); err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCancelAllJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.captures.Dispatch(&command.CancelAllCaptures{}); err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) baseParams() capture.Params {
	if s.node != nil {
		return s.node.Defaults()
	}
	return capture.DefaultParams()
}

func writeArtifact(w http.ResponseWriter, fileName, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
