package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalyticsPeriod(t *testing.T) {
	for _, p := range []string{"week", "month", "year"} {
		got, err := ParseAnalyticsPeriod(p)
		require.NoError(t, err)
		assert.Equal(t, AnalyticsPeriod(p), got)
	}

	_, err := ParseAnalyticsPeriod("decade")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "period", verr.Field)
}

func TestNewAnalyticsRange(t *testing.T) {
	now := time.Date(2025, 3, 14, 17, 45, 0, 0, time.UTC)

	t.Run("week", func(t *testing.T) {
		r := NewAnalyticsRange(PeriodWeek, now)
		assert.Equal(t, BucketDay, r.Unit)
		require.Len(t, r.Keys, 7)
		assert.Equal(t, "2025-03-08", r.Keys[0])
		assert.Equal(t, "2025-03-14", r.Keys[6])
		assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), r.To)
	})

	t.Run("month", func(t *testing.T) {
		r := NewAnalyticsRange(PeriodMonth, now)
		require.Len(t, r.Keys, 14)
		assert.Equal(t, "2025-03-01", r.Keys[0])
		assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), r.From)
	})

	t.Run("year", func(t *testing.T) {
		r := NewAnalyticsRange(PeriodYear, now)
		assert.Equal(t, BucketMonth, r.Unit)
		require.Len(t, r.Keys, 12)
		assert.Equal(t, "2024-04", r.Keys[0])
		assert.Equal(t, "2025-03", r.Keys[11])
		assert.Equal(t, "Apr 2024", r.Labels[0])
	})
}

func TestBuildAnalytics_ZeroFills(t *testing.T) {
	r := NewAnalyticsRange(PeriodWeek, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC))
	a := BuildAnalytics(r, []BucketTotals{
		{Key: "2025-03-10", Count: 2, TotalAmount: 30.333, PaidCount: 1, PaidAmount: 10},
		{Key: "2025-03-14", Count: 1, TotalAmount: 9.667, CanceledCount: 1},
		{Key: "2024-01-01", Count: 99, TotalAmount: 1000},
	})

	require.Len(t, a.Series, 7)
	assert.Equal(t, int64(0), a.Series[0].Count)
	assert.Equal(t, int64(2), a.Series[2].Count)
	assert.Equal(t, 30.33, a.Series[2].TotalAmount)
	assert.Equal(t, int64(3), a.Summary.TotalOrders)
	assert.Equal(t, 40.0, a.Summary.TotalAmount)
	assert.Equal(t, int64(1), a.Summary.PaidOrders)
	assert.Equal(t, int64(1), a.Summary.CanceledOrders)
	assert.Equal(t, 13.33, a.Summary.AverageOrderValue)
}

func TestNewDashboardStats(t *testing.T) {
	start := MonthStart(time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC))
	stats := NewDashboardStats(map[OrderStatus]int64{StatusPaid: 4, StatusAssigned: 1}, 2, 150.505, start)

	assert.Len(t, stats.ByStatus, len(AllStatuses))
	assert.Equal(t, int64(0), stats.ByStatus[StatusCanceled])
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(2), stats.PaidThisMonth)
	assert.Equal(t, 150.51, stats.PaidValueThisMonth)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), stats.MonthStart)
}
