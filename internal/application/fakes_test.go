package application

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{
		Level:       logging.LevelError,
		Format:      "json",
		ServiceName: "purchasing-service-test",
		Output:      io.Discard,
	})
}

// memStore is an in-memory order, product and supplier store that mimics the
// repository contracts: optimistic versioning and stock increments on save.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]*domain.PurchaseOrder
	products  map[string]*domain.Product
	suppliers map[string]*domain.Supplier
	saved     []domain.DomainEvent
	saveErr   error
	seq       int64
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]*domain.PurchaseOrder),
		products:  make(map[string]*domain.Product),
		suppliers: make(map[string]*domain.Supplier),
	}
}

func (m *memStore) addProduct(name string, stock float64, lifetimeDays *int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &domain.Product{
		ID:                   primitive.NewObjectID(),
		Name:                 name,
		Unit:                 domain.UnitKilogram,
		CurrentStock:         stock,
		ExpectedLifetimeDays: lifetimeDays,
	}
	m.products[p.ID.Hex()] = p
	return p.ID.Hex()
}

func (m *memStore) addSupplier(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &domain.Supplier{ID: primitive.NewObjectID(), Name: name, Active: true}
	m.suppliers[s.ID.Hex()] = s
	return s.ID.Hex()
}

func (m *memStore) stock(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].CurrentStock
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.saved))
	for _, e := range m.saved {
		types = append(types, e.EventType())
	}
	return types
}

func clone(o *domain.PurchaseOrder) *domain.PurchaseOrder {
	c := *o
	c.ProductOrders = append([]domain.ProductOrder(nil), o.ProductOrders...)
	c.StatusHistory = append([]domain.StatusHistoryEntry(nil), o.StatusHistory...)
	c.DomainEvents = nil
	return &c
}

// orders

func (m *memStore) Save(_ context.Context, order *domain.PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}

	id := order.ID.Hex()
	stored, exists := m.orders[id]
	if order.Version == 0 {
		if exists {
			return domain.ErrDuplicateOrderNumber
		}
		for _, o := range m.orders {
			if o.OrderNumber == order.OrderNumber {
				return domain.ErrDuplicateOrderNumber
			}
		}
	} else if !exists || stored.Version != order.Version {
		return domain.ErrConcurrentModification
	}

	for _, evt := range order.GetDomainEvents() {
		if verified, ok := evt.(*domain.OrderVerifiedEvent); ok {
			for _, r := range verified.Receipts {
				if _, ok := m.products[r.ProductID]; !ok {
					return domain.ErrProductNotFound
				}
			}
			for _, r := range verified.Receipts {
				m.products[r.ProductID].CurrentStock += r.Quantity
			}
		}
	}

	order.Version++
	m.saved = append(m.saved, order.GetDomainEvents()...)
	order.ClearDomainEvents()
	m.orders[id] = clone(order)
	return nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return clone(o), nil
}

func (m *memStore) matching(filter domain.OrderFilter) []*domain.PurchaseOrder {
	var out []*domain.PurchaseOrder
	for _, o := range m.orders {
		if filter.VisibleTo != "" && !o.IsVisibleTo(filter.VisibleTo) {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		if filter.StaffID != "" && o.StaffID != filter.StaffID {
			continue
		}
		out = append(out, clone(o))
	}
	return out
}

func (m *memStore) FindAll(_ context.Context, filter domain.OrderFilter, _ domain.Sort, p domain.Pagination) ([]*domain.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.matching(filter)
	start := int(p.Skip())
	if start >= len(all) {
		return []*domain.PurchaseOrder{}, nil
	}
	end := start + int(p.Limit())
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (m *memStore) Count(_ context.Context, filter domain.OrderFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.matching(filter))), nil
}

func (m *memStore) CountByStatus(_ context.Context, filter domain.OrderFilter) (map[domain.OrderStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.OrderStatus]int64)
	for _, o := range m.matching(filter) {
		counts[o.Status]++
	}
	return counts, nil
}

func (m *memStore) PaidSince(_ context.Context, filter domain.OrderFilter, since time.Time) (int64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	var value float64
	for _, o := range m.matching(filter) {
		if o.Status == domain.StatusPaid && o.PaidDate != nil && !o.PaidDate.Before(since) {
			count++
			value += o.TotalAmount
		}
	}
	return count, value, nil
}

func (m *memStore) AggregateBuckets(_ context.Context, filter domain.OrderFilter, r domain.AnalyticsRange) ([]domain.BucketTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := make(map[string]*domain.BucketTotals)
	for _, o := range m.matching(filter) {
		if o.CreatedAt.Before(r.From) || !o.CreatedAt.Before(r.To) {
			continue
		}
		key := o.CreatedAt.UTC().Format(r.Unit.KeyLayout())
		b, ok := byKey[key]
		if !ok {
			b = &domain.BucketTotals{Key: key}
			byKey[key] = b
		}
		b.Count++
		b.TotalAmount += o.TotalAmount
	}
	out := make([]domain.BucketTotals, 0, len(byKey))
	for _, b := range byKey {
		out = append(out, *b)
	}
	return out, nil
}

func (m *memStore) FindWithExpirableItems(_ context.Context, now time.Time, limit int64) ([]*domain.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PurchaseOrder
	for _, o := range m.orders {
		if o.Status != domain.StatusVerified && o.Status != domain.StatusPaid {
			continue
		}
		for _, item := range o.ProductOrders {
			if item.IsExpirable(now) {
				out = append(out, clone(o))
				break
			}
		}
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

// catalog

type memProducts struct{ *memStore }

func (p memProducts) FindByIDs(_ context.Context, ids []string) (map[string]*domain.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*domain.Product)
	for _, id := range ids {
		if prod, ok := p.products[id]; ok {
			c := *prod
			out[id] = &c
		}
	}
	return out, nil
}

type memSuppliers struct{ *memStore }

func (s memSuppliers) FindByID(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.suppliers[id]
	if !ok {
		return nil, domain.ErrSupplierNotFound
	}
	return sup, nil
}

func (s memSuppliers) FindByIDs(_ context.Context, ids []string) (map[string]*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*domain.Supplier)
	for _, id := range ids {
		if sup, ok := s.suppliers[id]; ok {
			out[id] = sup
		}
	}
	return out, nil
}

type memNumbers struct{ *memStore }

func (n memNumbers) Next(_ context.Context, at time.Time) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	return domain.FormatOrderNumber(at, n.seq), nil
}

// documents

type fakeUploader struct {
	mu      sync.Mutex
	keys    []string
	types   []string
	deleted []string
	err     error
}

func (u *fakeUploader) DeleteBlob(_ context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, key)
	return nil
}

func (u *fakeUploader) UploadBufferToBlob(_ context.Context, key string, _ []byte, contentType string) (*domain.Document, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	u.keys = append(u.keys, key)
	u.types = append(u.types, contentType)
	return &domain.Document{URL: "https://blob.example.com/" + key, Key: key}, nil
}

type fakeRemover struct {
	removed []string
	err     error
}

func (r *fakeRemover) Remove(_ context.Context, path string) error {
	if r.err != nil {
		return r.err
	}
	r.removed = append(r.removed, path)
	return nil
}

type recordingMetrics struct {
	noopMetrics
	transitions []string
	received    float64
	expired     int
	uploads     map[bool]int
}

func (r *recordingMetrics) RecordTransition(from, to string) {
	r.transitions = append(r.transitions, fmt.Sprintf("%s->%s", from, to))
}

func (r *recordingMetrics) RecordStockReceived(units float64) { r.received += units }
func (r *recordingMetrics) RecordLineItemsExpired(count int)  { r.expired += count }

func (r *recordingMetrics) RecordDocumentUpload(success bool) {
	if r.uploads == nil {
		r.uploads = make(map[bool]int)
	}
	r.uploads[success]++
}
