package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultHistoryLimit bounds ListRecent when the caller passes no limit.
const DefaultHistoryLimit = 50

// Service records capture outcomes and serves capture history.
type Service struct {
	repo   Repository
	store  ArtifactStore
	logger *slog.Logger
}

// NewService creates a new capture service. store may be nil, in which case
// artifacts are not persisted.
func NewService(repo Repository, store ArtifactStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, store: store, logger: logger}
}

// RecordResult stores the outcome of a capture. Artifact persistence failures
// are logged and leave the record without an artifact reference.
func (s *Service) RecordResult(ctx context.Context, jobID string, p *Params, artifact *Artifact, state string, captureErr error, startedAt time.Time) (*Record, error) {
	rec := &Record{
		ID:         jobID,
		Mode:       p.Mode,
		URL:        p.URL,
		Format:     p.Format(),
		MimeType:   p.MimeType(),
		State:      state,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if captureErr != nil {
		rec.Error = captureErr.Error()
	}

	if artifact != nil {
		rec.FileName = artifact.FileName
		rec.Size = artifact.Size()

		if s.store != nil {
			ref, err := s.store.Put(ctx, artifact.FileName, artifact.MimeType, artifact.Data)
			if err != nil {
				s.logger.Warn("Failed to persist artifact", "job_id", jobID, "error", err)
			} else {
				rec.ArtifactRef = ref
			}
		}
	}

	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record capture: %w", err)
	}
	return rec, nil
}

// Get retrieves a record by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// ListRecent returns the newest records first.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.FindRecent(ctx, limit)
}

// LoadArtifact returns the record and the stored artifact bytes.
func (s *Service) LoadArtifact(ctx context.Context, id string) (*Record, []byte, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.store == nil || !rec.HasArtifact() {
		return rec, nil, ErrArtifactNotFound
	}
	data, err := s.store.Get(ctx, rec.ArtifactRef)
	if err != nil {
		return rec, nil, err
	}
	return rec, data, nil
}

// Delete removes a record and its artifact.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.store != nil && rec.HasArtifact() {
		if err := s.store.Delete(ctx, rec.ArtifactRef); err != nil {
			s.logger.Warn("Failed to delete artifact", "job_id", id, "error", err)
		}
	}
	return s.repo.Delete(ctx, id)
}
