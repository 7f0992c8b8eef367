package mongodb

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/metrics"
	"github.com/wms-platform/purchasing-service/pkg/resilience"
	"github.com/wms-platform/purchasing-service/pkg/tracing"
)

// driver chatter that is not application work
var ignoredCommands = map[string]bool{
	"hello":        true,
	"isMaster":     true,
	"ping":         true,
	"saslStart":    true,
	"saslContinue": true,
	"endSessions":  true,
	"buildInfo":    true,
	"killCursors":  true,
}

// CommandRecorder turns driver command events into metrics and debug logs.
type CommandRecorder struct {
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu       sync.Mutex
	inflight map[int64]string
}

func NewCommandRecorder(m *metrics.Metrics, logger *logging.Logger) *CommandRecorder {
	return &CommandRecorder{
		metrics:  m,
		logger:   logger,
		inflight: make(map[int64]string),
	}
}

// Monitor returns the driver hook to pass to NewClient.
func (r *CommandRecorder) Monitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started:   r.started,
		Succeeded: r.succeeded,
		Failed:    r.failed,
	}
}

func (r *CommandRecorder) started(_ context.Context, evt *event.CommandStartedEvent) {
	if ignoredCommands[evt.CommandName] {
		return
	}
	collection := ""
	if v, err := evt.Command.LookupErr(evt.CommandName); err == nil {
		collection, _ = v.StringValueOK()
	}
	r.mu.Lock()
	r.inflight[evt.RequestID] = collection
	r.mu.Unlock()
}

func (r *CommandRecorder) finish(ctx context.Context, requestID int64, command string, duration time.Duration, success bool) {
	r.mu.Lock()
	collection, ok := r.inflight[requestID]
	delete(r.inflight, requestID)
	r.mu.Unlock()
	if !ok {
		return
	}

	if r.metrics != nil {
		r.metrics.RecordMongoDBOperation(collection, command, success, duration)
	}
	if r.logger != nil {
		r.logger.DatabaseQuery(ctx, collection, command, duration, success, 0)
	}
}

func (r *CommandRecorder) succeeded(ctx context.Context, evt *event.CommandSucceededEvent) {
	r.finish(ctx, evt.RequestID, evt.CommandName, evt.Duration, true)
}

func (r *CommandRecorder) failed(ctx context.Context, evt *event.CommandFailedEvent) {
	r.finish(ctx, evt.RequestID, evt.CommandName, evt.Duration, false)
}

// InstrumentedClient adds tracing and a circuit breaker to transactions and
// health checks.
type InstrumentedClient struct {
	client  *Client
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
}

func NewInstrumentedClient(client *Client, m *metrics.Metrics, logger *logging.Logger) *InstrumentedClient {
	var observer resilience.StateObserver
	if m != nil {
		observer = m
	}
	cbConfig := resilience.DefaultCircuitBreakerConfig("mongodb")
	cbConfig.MaxRequests = 5

	return &InstrumentedClient{
		client:  client,
		breaker: resilience.NewCircuitBreaker(cbConfig, logger.Logger, observer),
		tracer:  otel.Tracer("mongodb"),
	}
}

func (c *InstrumentedClient) Database() *mongo.Database {
	return c.client.Database()
}

func (c *InstrumentedClient) Client() *mongo.Client {
	return c.client.Client()
}

func (c *InstrumentedClient) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// HealthCheck pings the primary through the breaker.
func (c *InstrumentedClient) HealthCheck(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "mongodb.ping",
		trace.WithAttributes(tracing.DatabaseSpanAttributes(c.client.config.Database, "ping", "")...),
	)
	defer span.End()

	err := c.breaker.Run(ctx, func() error {
		return c.client.HealthCheck(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
