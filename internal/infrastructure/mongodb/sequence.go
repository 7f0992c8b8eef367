package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/purchasing-service/internal/domain"
)

const CountersCollection = "counters"

// OrderNumberSequence allocates order numbers from a per-day counter
// document. The upserted $inc is atomic, so concurrent callers never share a
// sequence value.
type OrderNumberSequence struct {
	collection *mongo.Collection
}

func NewOrderNumberSequence(db *mongo.Database) *OrderNumberSequence {
	return &OrderNumberSequence{collection: db.Collection(CountersCollection)}
}

func (s *OrderNumberSequence) Next(ctx context.Context, at time.Time) (string, error) {
	key := "orderNumber:" + domain.OrderNumberDay(at)
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": key},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return "", fmt.Errorf("failed to allocate order number: %w", err)
	}
	return domain.FormatOrderNumber(at, counter.Seq), nil
}
