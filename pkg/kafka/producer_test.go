package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/purchasing-service/pkg/cloudevents"
	"github.com/wms-platform/purchasing-service/pkg/logging"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newFakeProducer(w *fakeWriter) *Producer {
	p := NewProducer(DefaultConfig())
	p.newWriter = func(string) messageWriter { return w }
	return p
}

func testEvent() *cloudevents.PurchasingCloudEvent {
	return &cloudevents.PurchasingCloudEvent{
		SpecVersion:     cloudevents.SpecVersion,
		Type:            "purchasing.order.verified",
		Source:          cloudevents.SourcePurchasing,
		Subject:         "order/o-1",
		ID:              "evt-1",
		Time:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		DataContentType: "application/json",
		Data:            map[string]string{"orderId": "o-1"},
	}
}

func headerMap(msg kafka.Message) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestProducer_PublishEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newFakeProducer(w)

	err := p.PublishEvent(context.Background(), Topics.PurchaseOrders, testEvent(), map[string]string{"traceparent": "00-1"})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "order/o-1", string(msg.Key))
	headers := headerMap(msg)
	assert.Equal(t, "purchasing.order.verified", headers["ce_type"])
	assert.Equal(t, "00-1", headers["traceparent"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "evt-1", decoded["id"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestInstrumentedProducer_PropagatesWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	cfg := logging.DefaultConfig("test")
	cfg.Output = io.Discard
	ip := NewInstrumentedProducer(newFakeProducer(w), nil, logging.New(cfg))

	err := ip.PublishEvent(context.Background(), Topics.PurchaseOrders, testEvent())
	assert.ErrorContains(t, err, "broker down")
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092"))
	assert.Nil(t, ParseBrokers(""))
}
