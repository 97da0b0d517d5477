package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pagecap-go/domain/capture"
)

// recordDocument is the MongoDB document structure for capture records.
type recordDocument struct {
	ID          string    `bson:"_id"`
	Mode        string    `bson:"mode"`
	URL         string    `bson:"url"`
	FileName    string    `bson:"file_name,omitempty"`
	Format      string    `bson:"format"`
	MimeType    string    `bson:"mime_type"`
	Size        int       `bson:"size"`
	State       string    `bson:"state"`
	Error       string    `bson:"error,omitempty"`
	ArtifactRef string    `bson:"artifact_ref,omitempty"`
	StartedAt   time.Time `bson:"started_at"`
	FinishedAt  time.Time `bson:"finished_at"`
}

// MongoRecordRepository implements capture.Repository using MongoDB.
type MongoRecordRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoRecordRepository creates a new MongoDB-based capture repository.
func NewMongoRecordRepository(db *MongoDB, logger *slog.Logger) *MongoRecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoRecordRepository{
		collection: db.Collection("capture"),
		logger:     logger,
	}
}

// Insert stores a new record.
func (r *MongoRecordRepository) Insert(ctx context.Context, rec *capture.Record) error {
	if _, err := r.collection.InsertOne(ctx, recordToDocument(rec)); err != nil {
		return fmt.Errorf("failed to insert capture record: %w", err)
	}
	r.logger.Debug("Capture record inserted", "id", rec.ID, "state", rec.State)
	return nil
}

// FindByID retrieves a record by its identifier.
func (r *MongoRecordRepository) FindByID(ctx context.Context, id string) (*capture.Record, error) {
	var doc recordDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find capture record: %w", err)
	}
	return documentToRecord(&doc), nil
}

// FindRecent retrieves the newest records first.
func (r *MongoRecordRepository) FindRecent(ctx context.Context, limit int) ([]*capture.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find capture records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []recordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode capture records: %w", err)
	}

	records := make([]*capture.Record, len(docs))
	for i := range docs {
		records[i] = documentToRecord(&docs[i])
	}
	return records, nil
}

// Delete removes a record by its identifier.
func (r *MongoRecordRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete capture record: %w", err)
	}
	if result.DeletedCount == 0 {
		return capture.ErrRecordNotFound
	}
	r.logger.Info("Capture record deleted", "id", id)
	return nil
}

func documentToRecord(doc *recordDocument) *capture.Record {
	return &capture.Record{
		ID:          doc.ID,
		Mode:        capture.Mode(doc.Mode),
		URL:         doc.URL,
		FileName:    doc.FileName,
		Format:      doc.Format,
		MimeType:    doc.MimeType,
		Size:        doc.Size,
		State:       doc.State,
		Error:       doc.Error,
		ArtifactRef: doc.ArtifactRef,
		StartedAt:   doc.StartedAt,
		FinishedAt:  doc.FinishedAt,
	}
}

func recordToDocument(rec *capture.Record) *recordDocument {
	return &recordDocument{
		ID:          rec.ID,
		Mode:        string(rec.Mode),
		URL:         rec.URL,
		FileName:    rec.FileName,
		Format:      rec.Format,
		MimeType:    rec.MimeType,
		Size:        rec.Size,
		State:       rec.State,
		Error:       rec.Error,
		ArtifactRef: rec.ArtifactRef,
		StartedAt:   rec.StartedAt.UTC(),
		FinishedAt:  rec.FinishedAt.UTC(),
	}
}

// Ensure MongoRecordRepository implements capture.Repository
var _ capture.Repository = (*MongoRecordRepository)(nil)
