package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pagecap-go/domain/capture"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS captures (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	url          TEXT NOT NULL,
	file_name    TEXT NOT NULL DEFAULT '',
	format       TEXT NOT NULL,
	mime_type    TEXT NOT NULL,
	size         INTEGER NOT NULL DEFAULT 0,
	state        TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	artifact_ref TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captures_started_at ON captures(started_at DESC);
`

// OpenSQLite opens (creating if needed) the history database at path.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return db, nil
}

// SQLiteRecordRepository implements capture.Repository on SQLite.
type SQLiteRecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRecordRepository wraps a database opened with OpenSQLite.
func NewSQLiteRecordRepository(db *sql.DB, logger *slog.Logger) *SQLiteRecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRecordRepository{db: db, logger: logger}
}

// Insert stores a new record.
func (r *SQLiteRecordRepository) Insert(ctx context.Context, rec *capture.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO captures (
			id, mode, url, file_name, format, mime_type, size,
			state, error, artifact_ref, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		string(rec.Mode),
		rec.URL,
		rec.FileName,
		rec.Format,
		rec.MimeType,
		rec.Size,
		rec.State,
		rec.Error,
		rec.ArtifactRef,
		rec.StartedAt.UnixMilli(),
		rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert capture record: %w", err)
	}
	r.logger.Debug("Capture record inserted", "id", rec.ID, "state", rec.State)
	return nil
}

const selectColumns = `id, mode, url, file_name, format, mime_type, size, state, error, artifact_ref, started_at, finished_at`

// FindByID retrieves a record by its identifier.
func (r *SQLiteRecordRepository) FindByID(ctx context.Context, id string) (*capture.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM captures WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find capture record: %w", err)
	}
	return rec, nil
}

// FindRecent retrieves the newest records first.
func (r *SQLiteRecordRepository) FindRecent(ctx context.Context, limit int) ([]*capture.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM captures ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find capture records: %w", err)
	}
	defer rows.Close()

	var records []*capture.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode capture record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes a record by its identifier.
func (r *SQLiteRecordRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete capture record: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return capture.ErrRecordNotFound
	}
	r.logger.Info("Capture record deleted", "id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*capture.Record, error) {
	var (
		rec               capture.Record
		mode              string
		started, finished int64
	)
	err := row.Scan(
		&rec.ID, &mode, &rec.URL, &rec.FileName, &rec.Format, &rec.MimeType, &rec.Size,
		&rec.State, &rec.Error, &rec.ArtifactRef, &started, &finished,
	)
	if err != nil {
		return nil, err
	}
	rec.Mode = capture.Mode(mode)
	rec.StartedAt = time.UnixMilli(started)
	rec.FinishedAt = time.UnixMilli(finished)
	return &rec, nil
}

// Ensure SQLiteRecordRepository implements capture.Repository
var _ capture.Repository = (*SQLiteRecordRepository)(nil)
