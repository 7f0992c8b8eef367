package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalyticsPeriod selects the time window of the analytics series.
type AnalyticsPeriod string

const (
	PeriodWeek  AnalyticsPeriod = "week"
	PeriodMonth AnalyticsPeriod = "month"
	PeriodYear  AnalyticsPeriod = "year"
)

func ParseAnalyticsPeriod(s string) (AnalyticsPeriod, error) {
	switch p := AnalyticsPeriod(s); p {
	case PeriodWeek, PeriodMonth, PeriodYear:
		return p, nil
	default:
		return "", NewValidationError("period", "period must be one of: week, month, year")
	}
}

// BucketUnit is the grouping granularity used by the aggregation.
type BucketUnit string

const (
	BucketDay   BucketUnit = "day"
	BucketMonth BucketUnit = "month"
)

// KeyLayout is the time layout of bucket keys for the unit.
func (u BucketUnit) KeyLayout() string {
	if u == BucketMonth {
		return "2006-01"
	}
	return "2006-01-02"
}

// AnalyticsRange is the half-open window [From, To) split into buckets.
type AnalyticsRange struct {
	Period AnalyticsPeriod
	Unit   BucketUnit
	From   time.Time
	To     time.Time
	Keys   []string
	Labels []string
}

// NewAnalyticsRange lays out the buckets for period ending at now (UTC):
// week is the last 7 days, month is the current month to date, year is the
// last 12 calendar months.
func NewAnalyticsRange(period AnalyticsPeriod, now time.Time) AnalyticsRange {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	r := AnalyticsRange{Period: period, To: today.AddDate(0, 0, 1)}

	switch period {
	case PeriodYear:
		r.Unit = BucketMonth
		firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		r.From = firstOfMonth.AddDate(0, -11, 0)
		for m := r.From; m.Before(r.To); m = m.AddDate(0, 1, 0) {
			r.Keys = append(r.Keys, m.Format(r.Unit.KeyLayout()))
			r.Labels = append(r.Labels, m.Format("Jan 2006"))
		}
	case PeriodMonth:
		r.Unit = BucketDay
		r.From = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		r.addDays()
	default:
		r.Unit = BucketDay
		r.From = today.AddDate(0, 0, -6)
		r.addDays()
	}
	return r
}

func (r *AnalyticsRange) addDays() {
	for d := r.From; d.Before(r.To); d = d.AddDate(0, 0, 1) {
		r.Keys = append(r.Keys, d.Format(r.Unit.KeyLayout()))
		r.Labels = append(r.Labels, d.Format("Mon 02"))
	}
}

// BucketTotals is what the store aggregates for one bucket key.
type BucketTotals struct {
	Key           string  `bson:"_id"`
	Count         int64   `bson:"count"`
	TotalAmount   float64 `bson:"totalAmount"`
	PaidCount     int64   `bson:"paidCount"`
	PaidAmount    float64 `bson:"paidAmount"`
	CanceledCount int64   `bson:"canceledCount"`
}

type AnalyticsPoint struct {
	Key         string  `json:"key"`
	Label       string  `json:"label"`
	Count       int64   `json:"count"`
	TotalAmount float64 `json:"totalAmount"`
	PaidCount   int64   `json:"paidCount"`
	PaidAmount  float64 `json:"paidAmount"`
}

type AnalyticsSummary struct {
	TotalOrders       int64   `json:"totalOrders"`
	TotalAmount       float64 `json:"totalAmount"`
	PaidOrders        int64   `json:"paidOrders"`
	PaidAmount        float64 `json:"paidAmount"`
	CanceledOrders    int64   `json:"canceledOrders"`
	AverageOrderValue float64 `json:"averageOrderValue"`
}

type Analytics struct {
	Period  AnalyticsPeriod  `json:"period"`
	From    time.Time        `json:"from"`
	To      time.Time        `json:"to"`
	Summary AnalyticsSummary `json:"summary"`
	Series  []AnalyticsPoint `json:"series"`
}

// BuildAnalytics lays the aggregated totals onto the range, filling buckets
// without activity with zeros. Totals outside the range are ignored.
func BuildAnalytics(r AnalyticsRange, totals []BucketTotals) Analytics {
	byKey := make(map[string]BucketTotals, len(totals))
	for _, t := range totals {
		byKey[t.Key] = t
	}

	out := Analytics{Period: r.Period, From: r.From, To: r.To, Series: make([]AnalyticsPoint, 0, len(r.Keys))}
	total, paid := decimal.Zero, decimal.Zero

	for i, key := range r.Keys {
		t := byKey[key]
		out.Series = append(out.Series, AnalyticsPoint{
			Key:         key,
			Label:       r.Labels[i],
			Count:       t.Count,
			TotalAmount: roundCents(t.TotalAmount),
			PaidCount:   t.PaidCount,
			PaidAmount:  roundCents(t.PaidAmount),
		})
		out.Summary.TotalOrders += t.Count
		out.Summary.PaidOrders += t.PaidCount
		out.Summary.CanceledOrders += t.CanceledCount
		total = total.Add(decimal.NewFromFloat(t.TotalAmount))
		paid = paid.Add(decimal.NewFromFloat(t.PaidAmount))
	}

	out.Summary.TotalAmount = total.Round(2).InexactFloat64()
	out.Summary.PaidAmount = paid.Round(2).InexactFloat64()
	if out.Summary.TotalOrders > 0 {
		out.Summary.AverageOrderValue = total.Div(decimal.NewFromInt(out.Summary.TotalOrders)).Round(2).InexactFloat64()
	}
	return out
}

// DashboardStats are the per-status pipeline counts plus this month's
// payments.
type DashboardStats struct {
	ByStatus           map[OrderStatus]int64 `json:"byStatus"`
	Total              int64                 `json:"total"`
	PaidThisMonth      int64                 `json:"paidThisMonth"`
	PaidValueThisMonth float64               `json:"paidValueThisMonth"`
	MonthStart         time.Time             `json:"monthStart"`
}

// NewDashboardStats zero-fills every status.
func NewDashboardStats(counts map[OrderStatus]int64, paidCount int64, paidValue float64, monthStart time.Time) DashboardStats {
	stats := DashboardStats{
		ByStatus:           make(map[OrderStatus]int64, len(AllStatuses)),
		PaidThisMonth:      paidCount,
		PaidValueThisMonth: roundCents(paidValue),
		MonthStart:         monthStart,
	}
	for _, s := range AllStatuses {
		stats.ByStatus[s] = counts[s]
		stats.Total += counts[s]
	}
	return stats
}

// MonthStart is 00:00 UTC on the first day of now's month.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
