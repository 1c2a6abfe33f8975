package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"document-context-platform/internal/logger"
	"document-context-platform/models"
)

// Change kinds surfaced by the feed.
const (
	ChangeUpsert = "upsert"
	ChangeDelete = "delete"
)

// ChangeEvent is one row-level change on an owner's uploads.
type ChangeEvent struct {
	Type     string
	Record   *models.UploadRecord // set for upserts
	RecordID string
}

// changeDoc is the shape of a change stream document we care about.
type changeDoc struct {
	OperationType string               `bson:"operationType"`
	FullDocument  *models.UploadRecord `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// Watch opens a change stream over the owner's uploads and returns a channel
// of events. Inserts, updates and replaces are matched server-side by
// owner_id; deletes carry no document, so every delete is received and
// attributed client-side against a live set of the owner's ids. The channel
// closes when ctx is cancelled or the stream fails.
func (s *RecordStore) Watch(ctx context.Context, ownerID string) (<-chan ChangeEvent, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "fullDocument.owner_id", Value: ownerID}},
			bson.D{{Key: "operationType", Value: "delete"}},
		}}}}},
	}
	cs, err := s.col.Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, err
	}

	owned := make(map[string]struct{})
	ids, err := s.ListIDs(ctx, ownerID)
	if err != nil {
		cs.Close(ctx)
		return nil, err
	}
	for _, id := range ids {
		owned[id] = struct{}{}
	}

	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		defer cs.Close(context.Background())

		for cs.Next(ctx) {
			var doc changeDoc
			if err := cs.Decode(&doc); err != nil {
				logger.Warn("change feed decode failed", "owner_id", ownerID, "error", err)
				continue
			}

			var ev ChangeEvent
			switch doc.OperationType {
			case "insert", "update", "replace":
				if doc.FullDocument == nil {
					continue
				}
				owned[doc.FullDocument.ID] = struct{}{}
				ev = ChangeEvent{Type: ChangeUpsert, Record: doc.FullDocument, RecordID: doc.FullDocument.ID}
			case "delete":
				if _, ok := owned[doc.DocumentKey.ID]; !ok {
					continue // another owner's record
				}
				delete(owned, doc.DocumentKey.ID)
				ev = ChangeEvent{Type: ChangeDelete, RecordID: doc.DocumentKey.ID}
			default:
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			logger.Error("change feed closed unexpectedly", "owner_id", ownerID, "error", err)
		}
	}()

	return out, nil
}
