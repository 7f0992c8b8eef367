package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/logging"
)

// ExpirationMonitorConfig holds configuration for the expiration monitor
type ExpirationMonitorConfig struct {
	Interval  time.Duration
	BatchSize int64
}

func DefaultExpirationMonitorConfig() *ExpirationMonitorConfig {
	return &ExpirationMonitorConfig{
		Interval:  time.Hour,
		BatchSize: 100,
	}
}

// ExpirationMonitor periodically flags received line items whose expiration
// date has passed. It is owned by the process and started and stopped
// explicitly.
type ExpirationMonitor struct {
	orderRepo domain.OrderRepository
	metrics   WorkflowMetrics
	logger    *logging.Logger
	interval  time.Duration
	batchSize int64
	now       func() time.Time

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewExpirationMonitor(orderRepo domain.OrderRepository, m WorkflowMetrics, logger *logging.Logger, config *ExpirationMonitorConfig) *ExpirationMonitor {
	if config == nil {
		config = DefaultExpirationMonitorConfig()
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &ExpirationMonitor{
		orderRepo: orderRepo,
		metrics:   m,
		logger:    logger.WithComponent("expiration-monitor"),
		interval:  config.Interval,
		batchSize: config.BatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one check immediately and then one per interval.
func (m *ExpirationMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("expiration monitor already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})

	m.logger.Info("Starting expiration monitor", "interval", m.interval)
	go m.run(ctx, m.stopCh, m.stoppedCh)
	return nil
}

// Stop signals the loop and waits for an in-flight check to finish.
func (m *ExpirationMonitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("expiration monitor not running")
	}
	stopCh, stoppedCh := m.stopCh, m.stoppedCh
	m.mu.Unlock()

	close(stopCh)
	<-stoppedCh

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Expiration monitor stopped")
	return nil
}

func (m *ExpirationMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *ExpirationMonitor) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			m.RunOnce(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce processes one batch and returns the number of line items flagged.
// An order modified concurrently is skipped and picked up on the next run.
func (m *ExpirationMonitor) RunOnce(ctx context.Context) int {
	now := m.now()
	orders, err := m.orderRepo.FindWithExpirableItems(ctx, now, m.batchSize)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("Failed to load orders with expirable items")
		return 0
	}

	flagged := 0
	for _, order := range orders {
		expired := order.ExpireItems(now)
		if len(expired) == 0 {
			continue
		}
		if err := m.orderRepo.Save(ctx, order); err != nil {
			log := m.logger.WithContext(ctx).WithOrder(order.ID.Hex(), order.OrderNumber).WithError(err)
			if errors.Is(err, domain.ErrConcurrentModification) {
				log.Warn("Order changed while expiring items, retrying next run")
			} else {
				log.Error("Failed to save expired items")
			}
			continue
		}
		flagged += len(expired)
		m.logger.WithContext(ctx).WithOrder(order.ID.Hex(), order.OrderNumber).Info("Line items expired", "count", len(expired))
	}

	if flagged > 0 {
		m.metrics.RecordLineItemsExpired(flagged)
	}
	return flagged
}
