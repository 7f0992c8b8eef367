package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wms-platform/purchasing-service/pkg/cloudevents"
	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/metrics"
)

// EventPublisher delivers one CloudEvent to a topic.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event *cloudevents.PurchasingCloudEvent) error
}

// Publisher relays outbox events to Kafka on a fixed poll interval.
type Publisher struct {
	repo      Repository
	producer  EventPublisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	retention time.Duration

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	stoppedCh    chan struct{}
	publishedCnt int
	failedCnt    int
	lastCleanup  time.Time
}

// PublisherConfig holds configuration for the outbox publisher
type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Retention is how long published events are kept; zero disables cleanup.
	Retention time.Duration
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		Retention:    7 * 24 * time.Hour,
	}
}

func NewPublisher(repo Repository, producer EventPublisher, logger *logging.Logger, m *metrics.Metrics, config *PublisherConfig) *Publisher {
	if config == nil {
		config = DefaultPublisherConfig()
	}

	return &Publisher{
		repo:      repo,
		producer:  producer,
		logger:    logger.WithComponent("outbox-publisher"),
		metrics:   m,
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		retention: config.Retention,
	}
}

// Start launches the poll loop. It fails if the publisher is already running.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("publisher already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stoppedCh = make(chan struct{})

	p.logger.Info("Starting outbox publisher", "interval", p.interval, "batchSize", p.batchSize)
	go p.run(ctx, p.stopCh, p.stoppedCh)
	return nil
}

// Stop signals the loop and waits for the in-flight batch to finish.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("publisher not running")
	}
	stopCh, stoppedCh := p.stopCh, p.stoppedCh
	p.mu.Unlock()

	close(stopCh)
	<-stoppedCh

	p.mu.Lock()
	p.running = false
	published, failed := p.publishedCnt, p.failedCnt
	p.mu.Unlock()

	p.logger.Info("Outbox publisher stopped", "published", published, "failed", failed)
	return nil
}

func (p *Publisher) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.ProcessBatch(ctx)
			p.cleanup(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessBatch publishes one batch of pending events and returns how many
// were delivered.
func (p *Publisher) ProcessBatch(ctx context.Context) int {
	events, err := p.repo.FindUnpublished(ctx, p.batchSize)
	if err != nil {
		p.logger.WithError(err).Error("Failed to find unpublished events")
		return 0
	}

	if p.metrics != nil {
		p.metrics.SetOutboxPending(len(events))
	}

	delivered := 0
	for _, event := range events {
		duration, err := p.publishEvent(ctx, event)
		if p.metrics != nil {
			p.metrics.RecordOutboxPublish(event.EventType, err == nil, duration)
		}

		if err != nil {
			p.logger.WithError(err).Error("Failed to publish event",
				"eventId", event.ID,
				"eventType", event.EventType,
				"aggregateId", event.AggregateID,
			)
			p.countResult(false)

			if err := p.repo.IncrementRetry(ctx, event.ID, err.Error()); err != nil {
				p.logger.WithError(err).Error("Failed to increment retry count", "eventId", event.ID)
			}
			if p.metrics != nil {
				p.metrics.RecordOutboxRetry(event.EventType)
			}
			continue
		}

		p.countResult(true)
		delivered++
		if err := p.repo.MarkPublished(ctx, event.ID); err != nil {
			p.logger.WithError(err).Error("Failed to mark event as published", "eventId", event.ID)
		}
	}
	return delivered
}

func (p *Publisher) publishEvent(ctx context.Context, event *OutboxEvent) (time.Duration, error) {
	start := time.Now()

	cloudEvent, err := event.ToCloudEvent()
	if err != nil {
		return time.Since(start), fmt.Errorf("failed to convert to CloudEvent: %w", err)
	}
	if err := p.producer.PublishEvent(ctx, event.Topic, cloudEvent); err != nil {
		return time.Since(start), fmt.Errorf("failed to publish to Kafka: %w", err)
	}
	return time.Since(start), nil
}

// cleanup purges old published events at most once per hour.
func (p *Publisher) cleanup(ctx context.Context) {
	if p.retention <= 0 || time.Since(p.lastCleanup) < time.Hour {
		return
	}
	p.lastCleanup = time.Now()

	deleted, err := p.repo.DeletePublished(ctx, time.Now().Add(-p.retention))
	if err != nil {
		p.logger.WithError(err).Warn("Failed to purge published outbox events")
		return
	}
	if deleted > 0 {
		p.logger.Info("Purged published outbox events", "deleted", deleted)
	}
}

func (p *Publisher) countResult(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		p.publishedCnt++
	} else {
		p.failedCnt++
	}
}

func (p *Publisher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns publisher statistics
func (p *Publisher) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{
		"published": p.publishedCnt,
		"failed":    p.failedCnt,
	}
}
