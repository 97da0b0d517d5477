package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pagecap-go/domain/capture"
)

// GridFSArtifactStore implements capture.ArtifactStore on a GridFS bucket.
// References are the hex ObjectIDs of the stored files.
type GridFSArtifactStore struct {
	// mu serializes the bucket deadlines, which are shared state.
	mu     sync.Mutex
	bucket *gridfs.Bucket
	logger *slog.Logger
}

// NewGridFSArtifactStore opens the named bucket.
func NewGridFSArtifactStore(db *MongoDB, bucketName string, logger *slog.Logger) (*GridFSArtifactStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bucketName == "" {
		bucketName = "artifacts"
	}
	bucket, err := db.Bucket(bucketName)
	if err != nil {
		return nil, err
	}
	return &GridFSArtifactStore{bucket: bucket, logger: logger}, nil
}

// Put uploads data under fileName.
func (s *GridFSArtifactStore) Put(ctx context.Context, fileName, mimeType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return "", err
		}
	}

	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "mime_type", Value: mimeType}})
	id, err := s.bucket.UploadFromStream(fileName, bytes.NewReader(data), opts)
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	s.logger.Debug("Artifact uploaded", "id", id.Hex(), "file", fileName, "size", len(data))
	return id.Hex(), nil
}

// Get downloads the file behind ref.
func (s *GridFSArtifactStore) Get(ctx context.Context, ref string) ([]byte, error) {
	id, err := primitive.ObjectIDFromHex(ref)
	if err != nil {
		return nil, capture.ErrArtifactNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStream(id, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, capture.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Delete removes the file behind ref.
func (s *GridFSArtifactStore) Delete(ctx context.Context, ref string) error {
	id, err := primitive.ObjectIDFromHex(ref)
	if err != nil {
		return capture.ErrArtifactNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}

	if err := s.bucket.Delete(id); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return capture.ErrArtifactNotFound
		}
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// Ensure GridFSArtifactStore implements capture.ArtifactStore
var _ capture.ArtifactStore = (*GridFSArtifactStore)(nil)
