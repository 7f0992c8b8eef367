package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/purchasing-service/internal/domain"
)

func verifiedOrderWithExpiry(t *testing.T, f *serviceFixture, expiry time.Time) string {
	t.Helper()
	ctx := adminCtx()
	dto, err := f.svc.CreateOrder(ctx, CreateOrderCommand{
		SupplierID: f.supplier,
		Items: []LineItemInput{
			{ProductID: f.productA, Quantity: 4, UnitCost: 1, ExpirationDate: &expiry},
			{ProductID: f.productB, Quantity: 2, UnitCost: 1},
		},
	})
	require.NoError(t, err)
	_, err = f.svc.AssignOrder(ctx, AssignOrderCommand{OrderID: dto.ID, StaffID: "s"})
	require.NoError(t, err)
	_, err = f.svc.SubmitForReview(ctx, SubmitForReviewCommand{OrderID: dto.ID, File: billFile()})
	require.NoError(t, err)
	_, err = f.svc.VerifyOrder(ctx, dto.ID)
	require.NoError(t, err)
	return dto.ID
}

func TestExpirationMonitor_RunOnce(t *testing.T) {
	f := newFixture(t)
	expiredID := verifiedOrderWithExpiry(t, f, fixedNow.Add(24*time.Hour))
	freshID := verifiedOrderWithExpiry(t, f, fixedNow.Add(72*time.Hour))

	m := NewExpirationMonitor(f.store, f.metrics, testLogger(), nil)
	m.now = func() time.Time { return fixedNow.Add(48 * time.Hour) }

	assert.Equal(t, 1, m.RunOnce(context.Background()))
	assert.Equal(t, 1, f.metrics.expired)

	expired, err := f.store.FindByID(context.Background(), expiredID)
	require.NoError(t, err)
	item := expired.ProductOrders[0]
	assert.True(t, item.Expired)
	assert.Equal(t, 4.0, item.ExpiredQte)
	assert.Equal(t, 0.0, item.RemainingQte)
	assert.Equal(t, domain.StatusVerified, expired.Status)

	fresh, err := f.store.FindByID(context.Background(), freshID)
	require.NoError(t, err)
	assert.False(t, fresh.ProductOrders[0].Expired)

	assert.Equal(t, 0, m.RunOnce(context.Background()), "items are flagged once")
	assert.Contains(t, f.store.eventTypes(), domain.EventTypeOrderItemsExpired)
}

func TestExpirationMonitor_StartStop(t *testing.T) {
	f := newFixture(t)
	verifiedOrderWithExpiry(t, f, fixedNow.Add(-time.Hour))

	m := NewExpirationMonitor(f.store, f.metrics, testLogger(), &ExpirationMonitorConfig{Interval: time.Hour, BatchSize: 10})
	m.now = func() time.Time { return fixedNow }

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.Start(context.Background()))

	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		for _, o := range f.store.orders {
			if o.ProductOrders[0].Expired {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.Error(t, m.Stop())
}
