package domain

import (
	"context"
	"time"
)

// OrderRepository defines persistence for purchase orders.
type OrderRepository interface {
	// Save inserts a new order or updates an existing one if its stored
	// version still matches, then bumps the version. Stock increments and
	// outbox events derived from the pending domain events are written in
	// the same transaction.
	Save(ctx context.Context, order *PurchaseOrder) error

	// FindByID returns ErrOrderNotFound for unknown or malformed ids.
	FindByID(ctx context.Context, id string) (*PurchaseOrder, error)

	FindAll(ctx context.Context, filter OrderFilter, sort Sort, pagination Pagination) ([]*PurchaseOrder, error)
	Count(ctx context.Context, filter OrderFilter) (int64, error)

	CountByStatus(ctx context.Context, filter OrderFilter) (map[OrderStatus]int64, error)
	PaidSince(ctx context.Context, filter OrderFilter, since time.Time) (count int64, value float64, err error)
	AggregateBuckets(ctx context.Context, filter OrderFilter, r AnalyticsRange) ([]BucketTotals, error)

	// FindWithExpirableItems returns verified or paid orders holding at
	// least one line item that IsExpirable at now.
	FindWithExpirableItems(ctx context.Context, now time.Time, limit int64) ([]*PurchaseOrder, error)
}

// ProductRepository reads the product catalog.
type ProductRepository interface {
	// FindByIDs returns the products found, keyed by hex id. Missing ids
	// are simply absent from the map.
	FindByIDs(ctx context.Context, ids []string) (map[string]*Product, error)
}

type SupplierRepository interface {
	FindByID(ctx context.Context, id string) (*Supplier, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*Supplier, error)
}

// OrderNumberGenerator allocates ORD-YYYYMMDD-NNNN numbers.
type OrderNumberGenerator interface {
	Next(ctx context.Context, at time.Time) (string, error)
}

// OrderFilter narrows order queries. VisibleTo restricts results to orders
// created by or assigned to that user.
type OrderFilter struct {
	OrderNumber string
	StaffID     string
	Status      *OrderStatus
	SupplierIDs []string
	VisibleTo   string
}

// Pagination represents pagination options
type Pagination struct {
	Page     int64
	PageSize int64
}

func DefaultPagination() Pagination {
	return Pagination{Page: 1, PageSize: 10}
}

// Skip returns the number of documents to skip
func (p Pagination) Skip() int64 {
	return (p.Page - 1) * p.PageSize
}

// Limit returns the maximum number of documents to return
func (p Pagination) Limit() int64 {
	return p.PageSize
}

// Sort orders listing results by a whitelisted field.
type Sort struct {
	Field     string
	Ascending bool
}

// SortableFields are the fields accepted by the sortBy parameter.
var SortableFields = map[string]bool{
	"createdAt":    true,
	"updatedAt":    true,
	"orderNumber":  true,
	"totalAmount":  true,
	"status":       true,
	"expectedDate": true,
}

func DefaultSort() Sort {
	return Sort{Field: "createdAt"}
}
