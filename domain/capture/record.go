package capture

import "time"

// Record is a capture history entry. The artifact bytes live in an
// ArtifactStore and are referenced by ArtifactRef.
type Record struct {
	ID          string
	Mode        Mode
	URL         string
	FileName    string
	Format      string
	MimeType    string
	Size        int
	State       string
	Error       string
	ArtifactRef string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Elapsed returns how long the capture ran.
func (r *Record) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded returns true if the capture produced an artifact.
func (r *Record) Succeeded() bool {
	return r.Error == "" && r.Size > 0
}

// HasArtifact returns true if the artifact was persisted.
func (r *Record) HasArtifact() bool {
	return r.ArtifactRef != ""
}
