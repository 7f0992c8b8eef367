package cloudevents

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wms-platform/purchasing-service/pkg/logging"
)

// EventFactory stamps CloudEvent envelopes for one source.
type EventFactory struct {
	source string
	now    func() time.Time
}

func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// CreateEvent wraps data in a new envelope. Correlation and actor ids are
// taken from ctx when the request middleware put them there.
func (f *EventFactory) CreateEvent(ctx context.Context, eventType, subject string, data interface{}) *PurchasingCloudEvent {
	event := &PurchasingCloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            f.now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}

	if v, ok := ctx.Value(logging.CorrelationIDKey).(string); ok {
		event.CorrelationID = v
	}
	if v, ok := ctx.Value(logging.UserIDKey).(string); ok {
		event.ActorID = v
	}
	return event
}

// Source returns the configured source URI.
func (f *EventFactory) Source() string {
	return f.source
}
