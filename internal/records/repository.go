package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"beacon/internal/constants"
	apperrors "beacon/pkg/errors"
)

// Update is the set of mutable fields applied by a status transition. Nil
// pointers leave the stored value untouched.
type Update struct {
	Status           Status
	Attempts         *int
	AppendAttempt    *Attempt
	DeliveredChannel string
	DeadLetterReason string
	NextRetryAt      *time.Time
	ClearNextRetry   bool
}

type Repository interface {
	Insert(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	MarkIfNotTerminal(ctx context.Context, id string, update Update) (bool, error)
	ListByStatus(ctx context.Context, status Status, limit int64) ([]Record, error)
	Sweep(ctx context.Context, olderThan time.Time) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &MongoRepository{
		collection: db.Collection(constants.RecordsCollection),
	}
}

func (r *MongoRepository) Insert(ctx context.Context, record *Record) error {
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrConflict.WithDetail("record_id", record.ID)
		}
		return fmt.Errorf("failed to insert notification record: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Record, error) {
	var record Record
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound.WithDetail("record_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification record: %w", err)
	}
	return &record, nil
}

// MarkIfNotTerminal applies the transition only while the record is still in
// a non-terminal state. Returns false when the record was already terminal,
// which makes late or duplicate outcome reports harmless.
func (r *MongoRepository) MarkIfNotTerminal(ctx context.Context, id string, update Update) (bool, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$nin": bson.A{StatusSent, StatusDeadLetter, StatusDuplicate}},
	}

	set := bson.M{
		"status":     update.Status,
		"updated_at": time.Now().UTC(),
	}
	if update.Attempts != nil {
		set["attempts"] = *update.Attempts
	}
	if update.DeliveredChannel != "" {
		set["delivered_channel"] = update.DeliveredChannel
	}
	if update.DeadLetterReason != "" {
		set["dead_letter_reason"] = update.DeadLetterReason
	}
	if update.NextRetryAt != nil {
		set["next_retry_at"] = *update.NextRetryAt
	}

	modification := bson.M{"$set": set}
	if update.ClearNextRetry {
		modification["$unset"] = bson.M{"next_retry_at": ""}
	}
	if update.AppendAttempt != nil {
		modification["$push"] = bson.M{"history": *update.AppendAttempt}
	}

	result, err := r.collection.UpdateOne(ctx, filter, modification)
	if err != nil {
		return false, fmt.Errorf("failed to update notification record: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func (r *MongoRepository) ListByStatus(ctx context.Context, status Status, limit int64) ([]Record, error) {
	if limit <= 0 || limit > constants.MaxListLimit {
		limit = constants.DefaultListLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"status": status}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification records: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Record
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode notification records: %w", err)
	}
	return out, nil
}

// Sweep removes terminal records older than the cutoff.
func (r *MongoRepository) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	filter := bson.M{
		"status":     bson.M{"$in": bson.A{StatusSent, StatusDeadLetter, StatusDuplicate}},
		"updated_at": bson.M{"$lt": olderThan},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep notification records: %w", err)
	}
	return result.DeletedCount, nil
}

func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "fingerprint", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "event.recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create record indexes: %w", err)
	}
	return nil
}
