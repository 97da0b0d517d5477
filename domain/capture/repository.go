package capture

import "context"

// Repository defines the interface for capture history persistence.
type Repository interface {
	// Insert stores a new record. The record ID is assigned by the caller.
	Insert(ctx context.Context, record *Record) error

	// FindByID retrieves a record by its identifier.
	// Returns nil if not found.
	FindByID(ctx context.Context, id string) (*Record, error)

	// FindRecent retrieves the most recently started records, newest first.
	FindRecent(ctx context.Context, limit int) ([]*Record, error)

	// Delete removes a record by its identifier.
	Delete(ctx context.Context, id string) error
}

// ArtifactStore persists artifact bytes.
type ArtifactStore interface {
	// Put stores the data and returns a reference to it.
	Put(ctx context.Context, fileName, mimeType string, data []byte) (string, error)

	// Get loads the data behind a reference. Returns ErrArtifactNotFound if missing.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes the data behind a reference.
	Delete(ctx context.Context, ref string) error
}
