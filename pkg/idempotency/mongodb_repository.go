package idempotency

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const keysCollection = "idempotency_keys"

// MongoKeyRepository implements KeyRepository using MongoDB
type MongoKeyRepository struct {
	collection *mongo.Collection
}

func NewMongoKeyRepository(db *mongo.Database) *MongoKeyRepository {
	return &MongoKeyRepository{collection: db.Collection(keysCollection)}
}

func (r *MongoKeyRepository) AcquireLock(ctx context.Context, key *Key) (*Key, bool, error) {
	// BSON dates are millisecond precision; truncate so the insert check below
	// compares equal values.
	key.CreatedAt = key.CreatedAt.Truncate(time.Millisecond)
	now := time.Now().UTC().Truncate(time.Millisecond)

	filter := bson.M{
		"serviceId": key.ServiceID,
		"userId":    key.UserID,
		"key":       key.Key,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"requestPath":        key.RequestPath,
			"requestMethod":      key.RequestMethod,
			"requestFingerprint": key.RequestFingerprint,
			"createdAt":          key.CreatedAt,
			"expiresAt":          key.ExpiresAt,
		},
		"$set": bson.M{"lockedAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored Key
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		return nil, false, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}

	inserted := stored.CompletedAt == nil && stored.CreatedAt.Equal(key.CreatedAt)
	return &stored, inserted, nil
}

func (r *MongoKeyRepository) ReleaseLock(ctx context.Context, keyID string) error {
	objID, err := primitive.ObjectIDFromHex(keyID)
	if err != nil {
		return err
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": objID}, bson.M{"$unset": bson.M{"lockedAt": ""}})
	return err
}

func (r *MongoKeyRepository) StoreResponse(ctx context.Context, keyID string, responseCode int, responseBody []byte, headers map[string]string) error {
	objID, err := primitive.ObjectIDFromHex(keyID)
	if err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"responseCode":    responseCode,
			"responseBody":    responseBody,
			"responseHeaders": headers,
			"completedAt":     time.Now().UTC(),
		},
		"$unset": bson.M{"lockedAt": ""},
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": objID}, update)
	return err
}

// EnsureIndexes creates the unique scope index and the TTL index that
// expires keys after their retention period.
func (r *MongoKeyRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "serviceId", Value: 1},
				{Key: "userId", Value: 1},
				{Key: "key", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_service_user_key"),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_ttl"),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}
