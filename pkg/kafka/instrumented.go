package kafka

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/purchasing-service/pkg/cloudevents"
	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/metrics"
	"github.com/wms-platform/purchasing-service/pkg/resilience"
	"github.com/wms-platform/purchasing-service/pkg/tracing"
)

// InstrumentedProducer adds tracing, metrics, logging and a circuit breaker
// around Producer.
type InstrumentedProducer struct {
	producer *Producer
	breaker  *resilience.CircuitBreaker
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

func NewInstrumentedProducer(producer *Producer, m *metrics.Metrics, logger *logging.Logger) *InstrumentedProducer {
	cbConfig := resilience.DefaultCircuitBreakerConfig("kafka-producer")
	cbConfig.MaxRequests = 5

	var observer resilience.StateObserver
	if m != nil {
		observer = m
	}

	return &InstrumentedProducer{
		producer: producer,
		breaker:  resilience.NewCircuitBreaker(cbConfig, logger.Logger, observer),
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("kafka-producer"),
	}
}

// PublishEvent publishes event and propagates the current trace context
// as message headers.
func (p *InstrumentedProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.PurchasingCloudEvent) error {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(tracing.MessagingSpanAttributes(topic, "publish")...),
		trace.WithAttributes(
			attribute.String("messaging.kafka.event_type", event.Type),
			attribute.String("messaging.message_id", event.ID),
		),
	)
	defer span.End()

	if event.CorrelationID != "" {
		span.SetAttributes(attribute.String("purchasing.correlation_id", event.CorrelationID))
	}

	carrier := tracing.MapCarrier{}
	tracing.InjectTraceContext(ctx, carrier)

	err := p.breaker.Run(ctx, func() error {
		return p.producer.PublishEvent(ctx, topic, event, carrier)
	})
	duration := time.Since(start)
	success := err == nil

	if p.metrics != nil {
		p.metrics.RecordKafkaPublish(topic, event.Type, success, duration)
	}
	p.logger.KafkaPublish(ctx, topic, event.Type, success, duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (p *InstrumentedProducer) Close() error {
	return p.producer.Close()
}
