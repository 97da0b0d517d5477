package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"pagecap-go/domain/capture"
)

// FileArtifactStore implements capture.ArtifactStore on a directory.
// References are file names relative to the directory.
type FileArtifactStore struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// NewFileArtifactStore creates the directory if needed.
func NewFileArtifactStore(fs afero.Fs, dir string, logger *slog.Logger) (*FileArtifactStore, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &FileArtifactStore{fs: fs, dir: dir, logger: logger}, nil
}

// Put writes data to a uniquely named file that keeps the extension of fileName.
func (s *FileArtifactStore) Put(ctx context.Context, fileName, mimeType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := uuid.NewString() + filepath.Ext(filepath.Base(fileName))
	if err := afero.WriteFile(s.fs, filepath.Join(s.dir, ref), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	s.logger.Debug("Artifact written", "ref", ref, "file", fileName, "size", len(data))
	return ref, nil
}

// Get reads the file behind ref.
func (s *FileArtifactStore) Get(ctx context.Context, ref string) ([]byte, error) {
	path, ok := s.path(ref)
	if !ok {
		return nil, capture.ErrArtifactNotFound
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, capture.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Delete removes the file behind ref.
func (s *FileArtifactStore) Delete(ctx context.Context, ref string) error {
	path, ok := s.path(ref)
	if !ok {
		return capture.ErrArtifactNotFound
	}
	if err := s.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return capture.ErrArtifactNotFound
		}
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// path rejects references that would escape the directory.
func (s *FileArtifactStore) path(ref string) (string, bool) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || ref == "." || ref == ".." {
		return "", false
	}
	return filepath.Join(s.dir, ref), true
}

// Ensure FileArtifactStore implements capture.ArtifactStore
var _ capture.ArtifactStore = (*FileArtifactStore)(nil)
