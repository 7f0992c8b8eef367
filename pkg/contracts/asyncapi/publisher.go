package asyncapi

import (
	"context"
	"fmt"

	"github.com/wms-platform/purchasing-service/pkg/cloudevents"
	"github.com/wms-platform/purchasing-service/pkg/logging"
)

// Publisher is the producer side of the outbox relay.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event *cloudevents.PurchasingCloudEvent) error
}

// ValidatingPublisher refuses to hand events that break the contract to the
// wrapped publisher.
type ValidatingPublisher struct {
	next      Publisher
	validator *EventValidator
	logger    *logging.Logger
}

func NewValidatingPublisher(next Publisher, validator *EventValidator, logger *logging.Logger) *ValidatingPublisher {
	return &ValidatingPublisher{
		next:      next,
		validator: validator,
		logger:    logger.WithComponent("event-contract"),
	}
}

func (p *ValidatingPublisher) PublishEvent(ctx context.Context, topic string, event *cloudevents.PurchasingCloudEvent) error {
	if err := p.validator.ValidateCloudEvent(event); err != nil {
		attrs := []any{"topic", topic}
		if event != nil {
			attrs = append(attrs, "event_id", event.ID, "event_type", event.Type)
		}
		p.logger.WithContext(ctx).WithError(err).Error("Event violates the published contract", attrs...)
		return fmt.Errorf("contract violation: %w", err)
	}
	return p.next.PublishEvent(ctx, topic, event)
}
