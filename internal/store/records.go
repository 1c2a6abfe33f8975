// Package store owns durable upload state in MongoDB and exposes the
// change feed other components subscribe to.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"document-context-platform/models"
)

var (
	// ErrNotFound is returned when no record matches an owner-scoped lookup.
	ErrNotFound = errors.New("upload record not found")

	// ErrMissingDescription is returned by MarkReady when the record has no
	// description. Records must not become ready without one.
	ErrMissingDescription = errors.New("record has no description, refusing to mark ready")
)

// RecordStore provides owner-scoped CRUD over the uploads collection.
type RecordStore struct {
	col *mongo.Collection
}

func NewRecordStore(db *mongo.Database) *RecordStore {
	return &RecordStore{col: db.Collection("uploads")}
}

func (s *RecordStore) Insert(ctx context.Context, rec *models.UploadRecord) error {
	_, err := s.col.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert upload record: %w", err)
	}
	return nil
}

func (s *RecordStore) FindByID(ctx context.Context, ownerID, id string) (*models.UploadRecord, error) {
	var rec models.UploadRecord
	err := s.col.FindOne(ctx, bson.M{"_id": id, "owner_id": ownerID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// FindDuplicate looks up an existing record for the same owner and content
// hash. It returns (nil, nil) when there is no duplicate.
func (s *RecordStore) FindDuplicate(ctx context.Context, ownerID, contentHash string) (*models.UploadRecord, error) {
	var rec models.UploadRecord
	err := s.col.FindOne(ctx, bson.M{"owner_id": ownerID, "content_hash": contentHash}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *RecordStore) ListByOwner(ctx context.Context, ownerID string) ([]models.UploadRecord, error) {
	cursor, err := s.col.Find(ctx, bson.M{"owner_id": ownerID},
		options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []models.UploadRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// ListReady returns the owner's ready records newest-first by updated_at,
// the order the context assembler packs them in.
func (s *RecordStore) ListReady(ctx context.Context, ownerID string) ([]models.UploadRecord, error) {
	cursor, err := s.col.Find(ctx,
		bson.M{"owner_id": ownerID, "status": models.StatusReady},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []models.UploadRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// ListIDs returns the ids of every record the owner currently has. The
// change feed uses it to attribute delete events, which carry no document.
func (s *RecordStore) ListIDs(ctx context.Context, ownerID string) ([]string, error) {
	cursor, err := s.col.Find(ctx, bson.M{"owner_id": ownerID},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (s *RecordStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProcessing advances a record through the pipeline: status becomes
// processing, the stage and progress are set, and any stage outputs in
// fields are persisted alongside.
func (s *RecordStore) UpdateProcessing(ctx context.Context, id, stage string, progress int, fields bson.M) error {
	set := bson.M{
		"status":           models.StatusProcessing,
		"processing_stage": stage,
		"progress":         progress,
		"updated_at":       time.Now().UTC(),
	}
	for k, v := range fields {
		set[k] = v
	}
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}

// MarkReady finalizes a record. The filter insists on a non-empty
// description: a ready record without one would be invisible to context
// assembly, so the transition is rejected instead.
func (s *RecordStore) MarkReady(ctx context.Context, id string) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "description": bson.M{"$exists": true, "$ne": ""}},
		bson.M{"$set": bson.M{
			"status":           models.StatusReady,
			"processing_stage": models.StageFinalization,
			"progress":         models.ProgressDone,
			"updated_at":       time.Now().UTC(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrMissingDescription
	}
	return nil
}

// MarkFailed records a terminal failure. Progress is left frozen at its
// last value and the error message is set once.
func (s *RecordStore) MarkFailed(ctx context.Context, id, stage, message string) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id, "status": bson.M{"$ne": models.StatusFailed}},
		bson.M{"$set": bson.M{
			"status":           models.StatusFailed,
			"processing_stage": stage,
			"error_message":    message,
			"updated_at":       time.Now().UTC(),
		}})
	return err
}

// FailStale marks records stuck in processing longer than maxAge as failed.
// Run periodically by the worker; covers crashes between stage writes.
func (s *RecordStore) FailStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.col.UpdateMany(ctx,
		bson.M{
			"status":     bson.M{"$in": bson.A{models.StatusPending, models.StatusProcessing}},
			"updated_at": bson.M{"$lt": cutoff},
		},
		bson.M{"$set": bson.M{
			"status":        models.StatusFailed,
			"error_message": "processing timed out",
			"updated_at":    time.Now().UTC(),
		}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
