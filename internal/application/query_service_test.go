package application

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/purchasing-service/internal/domain"
)

func newQueryService(f *serviceFixture) *QueryService {
	q := NewQueryService(f.store, memProducts{f.store}, memSuppliers{f.store}, testLogger())
	q.now = func() time.Time { return fixedNow }
	return q
}

func TestListOrders_ScopesStaff(t *testing.T) {
	f := newFixture(t)
	q := newQueryService(f)
	f.create(t, staffCtx("alice"))
	f.create(t, staffCtx("alice"))
	bobs := f.create(t, staffCtx("bob"))

	list, err := q.ListOrders(staffCtx("alice"), ListOrdersQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Total)
	assert.Len(t, list.Orders, 2)
	assert.Equal(t, int64(1), list.Pages)

	list, err = q.ListOrders(adminCtx(), ListOrdersQuery{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), list.Total)
	assert.Len(t, list.Orders, 2)
	assert.Equal(t, int64(2), list.Pages)
	require.NotNil(t, list.Orders[0].Supplier)

	_, err = f.svc.AssignOrder(adminCtx(), AssignOrderCommand{OrderID: bobs.ID, StaffID: "alice"})
	require.NoError(t, err)
	list, err = q.ListOrders(staffCtx("alice"), ListOrdersQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), list.Total)
}

func TestListOrders_Validation(t *testing.T) {
	f := newFixture(t)
	q := newQueryService(f)

	bad := "shipped"
	_, err := q.ListOrders(adminCtx(), ListOrdersQuery{Status: &bad})
	requireAppError(t, err, http.StatusBadRequest)

	_, err = q.ListOrders(adminCtx(), ListOrdersQuery{SortBy: "password"})
	requireAppError(t, err, http.StatusBadRequest)

	empty, err := q.ListOrders(adminCtx(), ListOrdersQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Total)
	assert.Equal(t, int64(1), empty.Pages)
	assert.NotNil(t, empty.Orders)
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	q := newQueryService(f)
	ctx := adminCtx()

	paid := f.create(t, ctx)
	for _, step := range []func() error{
		func() error {
			_, err := f.svc.AssignOrder(ctx, AssignOrderCommand{OrderID: paid.ID, StaffID: "s"})
			return err
		},
		func() error {
			_, err := f.svc.SubmitForReview(ctx, SubmitForReviewCommand{OrderID: paid.ID, File: billFile()})
			return err
		},
		func() error { _, err := f.svc.VerifyOrder(ctx, paid.ID); return err },
		func() error { _, err := f.svc.MarkPaid(ctx, paid.ID); return err },
	} {
		require.NoError(t, step())
	}
	f.create(t, ctx)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[domain.StatusPaid])
	assert.Equal(t, int64(1), stats.ByStatus[domain.StatusNotAssigned])
	assert.Equal(t, int64(0), stats.ByStatus[domain.StatusCanceled])
	assert.Equal(t, int64(1), stats.PaidThisMonth)
	assert.Equal(t, 56.0, stats.PaidValueThisMonth)

	scoped, err := q.GetStats(staffCtx("nobody"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), scoped.Total)
}

func TestGetAnalytics(t *testing.T) {
	f := newFixture(t)
	q := newQueryService(f)
	f.create(t, staffCtx("alice"))

	_, err := q.GetAnalytics(adminCtx(), AnalyticsQuery{Period: "quarter"})
	requireAppError(t, err, http.StatusBadRequest)

	a, err := q.GetAnalytics(staffCtx("bob"), AnalyticsQuery{Period: "week"})
	require.NoError(t, err)
	require.Len(t, a.Series, 7)
	assert.Equal(t, "2025-03-14", a.Series[6].Key)
	assert.Equal(t, int64(1), a.Series[6].Count)
	assert.Equal(t, int64(1), a.Summary.TotalOrders)

	a, err = q.GetAnalytics(adminCtx(), AnalyticsQuery{Period: "year"})
	require.NoError(t, err)
	require.Len(t, a.Series, 12)
	assert.Equal(t, 56.0, a.Series[11].TotalAmount)
}
