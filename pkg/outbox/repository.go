package outbox

import (
	"context"
	"time"
)

// Repository defines the interface for outbox event persistence
type Repository interface {
	// SaveAll saves multiple outbox events in a single operation
	SaveAll(ctx context.Context, events []*OutboxEvent) error

	// FindUnpublished retrieves unpublished, still retryable events oldest first
	FindUnpublished(ctx context.Context, limit int) ([]*OutboxEvent, error)

	MarkPublished(ctx context.Context, eventID string) error

	// IncrementRetry increments the retry count and updates last error
	IncrementRetry(ctx context.Context, eventID string, errorMsg string) error

	// DeletePublished removes events published before the cutoff
	DeletePublished(ctx context.Context, publishedBefore time.Time) (int64, error)

	FindByAggregateID(ctx context.Context, aggregateID string) ([]*OutboxEvent, error)
}
