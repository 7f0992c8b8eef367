package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/actor"
	apperrors "github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/logging"
)

// QueryService serves the read side: listing, dashboard stats and analytics.
type QueryService struct {
	orderRepo    domain.OrderRepository
	productRepo  domain.ProductRepository
	supplierRepo domain.SupplierRepository
	logger       *logging.Logger
	now          func() time.Time
}

func NewQueryService(
	orderRepo domain.OrderRepository,
	productRepo domain.ProductRepository,
	supplierRepo domain.SupplierRepository,
	logger *logging.Logger,
) *QueryService {
	return &QueryService{
		orderRepo:    orderRepo,
		productRepo:  productRepo,
		supplierRepo: supplierRepo,
		logger:       logger.WithComponent("query-service"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// scopedFilter restricts staff callers to their own orders.
func scopedFilter(ctx context.Context, filter domain.OrderFilter) domain.OrderFilter {
	if caller := actor.FromContextOrSystem(ctx); !caller.IsAdmin() {
		filter.VisibleTo = caller.ID
	}
	return filter
}

// ListOrders returns one page of orders with the total match count.
func (s *QueryService) ListOrders(ctx context.Context, query ListOrdersQuery) (*OrderListDTO, error) {
	filter := domain.OrderFilter{
		OrderNumber: strings.TrimSpace(query.OrderNumber),
		StaffID:     strings.TrimSpace(query.StaffID),
		SupplierIDs: query.SupplierIDs,
	}
	if query.Status != nil && *query.Status != "" {
		status, err := domain.ParseOrderStatus(*query.Status)
		if err != nil {
			return nil, toAppError(err)
		}
		filter.Status = &status
	}
	filter = scopedFilter(ctx, filter)

	sort := domain.DefaultSort()
	if query.SortBy != "" {
		if !domain.SortableFields[query.SortBy] {
			return nil, apperrors.ErrValidation(fmt.Sprintf("cannot sort by %q", query.SortBy)).WithDetail("field", "sortBy")
		}
		sort.Field = query.SortBy
	}
	sort.Ascending = query.Ascending

	pagination := domain.DefaultPagination()
	if query.Page > 0 {
		pagination.Page = query.Page
	}
	if query.PageSize > 0 {
		pagination.PageSize = query.PageSize
	}

	var (
		orders []*domain.PurchaseOrder
		total  int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = s.orderRepo.FindAll(gctx, filter, sort, pagination)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.orderRepo.Count(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list orders")
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	refs, err := loadReferences(ctx, s.productRepo, s.supplierRepo, orders)
	if err != nil {
		return nil, err
	}

	out := &OrderListDTO{
		Orders: make([]OrderDTO, 0, len(orders)),
		Total:  total,
		Pages:  pageCount(total, pagination.PageSize),
		Page:   pagination.Page,
		Limit:  pagination.PageSize,
	}
	for _, o := range orders {
		out.Orders = append(out.Orders, ToOrderDTO(o, refs))
	}
	return out, nil
}

func pageCount(total, size int64) int64 {
	if size <= 0 || total == 0 {
		return 1
	}
	return (total + size - 1) / size
}

// GetStats counts orders per status and sums the payments of the current
// month, both within the caller's scope.
func (s *QueryService) GetStats(ctx context.Context) (*domain.DashboardStats, error) {
	filter := scopedFilter(ctx, domain.OrderFilter{})
	monthStart := domain.MonthStart(s.now())

	var (
		counts    map[domain.OrderStatus]int64
		paidCount int64
		paidValue float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.orderRepo.CountByStatus(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		paidCount, paidValue, err = s.orderRepo.PaidSince(gctx, filter, monthStart)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to compute order stats")
		return nil, fmt.Errorf("failed to compute order stats: %w", err)
	}

	stats := domain.NewDashboardStats(counts, paidCount, paidValue, monthStart)
	return &stats, nil
}

// GetAnalytics returns the zero-filled time series for the period across all
// orders, whatever the caller's role.
func (s *QueryService) GetAnalytics(ctx context.Context, query AnalyticsQuery) (*domain.Analytics, error) {
	period, err := domain.ParseAnalyticsPeriod(query.Period)
	if err != nil {
		return nil, toAppError(err)
	}

	r := domain.NewAnalyticsRange(period, s.now())
	totals, err := s.orderRepo.AggregateBuckets(ctx, domain.OrderFilter{}, r)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to aggregate analytics", "period", period)
		return nil, fmt.Errorf("failed to aggregate analytics: %w", err)
	}

	analytics := domain.BuildAnalytics(r, totals)
	return &analytics, nil
}
