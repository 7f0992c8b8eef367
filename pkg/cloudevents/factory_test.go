package cloudevents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wms-platform/purchasing-service/pkg/logging"
)

func TestEventFactory_CreateEvent(t *testing.T) {
	factory := NewEventFactory(SourcePurchasing)

	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-1")
	ctx = logging.ContextWithUserID(ctx, "staff-1")

	event := factory.CreateEvent(ctx, "purchasing.order.created", "order/o-1", map[string]string{"orderId": "o-1"})

	assert.Equal(t, SpecVersion, event.SpecVersion)
	assert.Equal(t, SourcePurchasing, event.Source)
	assert.Equal(t, "order/o-1", event.Subject)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, "staff-1", event.ActorID)

	headers := event.Headers()
	assert.Equal(t, "purchasing.order.created", headers["ce_type"])
	assert.Equal(t, "corr-1", headers["ce_purchasingcorrelationid"])
}

func TestEventFactory_CreateEventWithoutRequestContext(t *testing.T) {
	event := NewEventFactory(SourcePurchasing).CreateEvent(context.Background(), "purchasing.order.paid", "", nil)

	assert.Empty(t, event.CorrelationID)
	headers := event.Headers()
	_, hasSubject := headers["ce_subject"]
	assert.False(t, hasSubject)
}
