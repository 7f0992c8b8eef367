package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/purchasing-service/internal/domain"
	"github.com/wms-platform/purchasing-service/pkg/actor"
	apperrors "github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/tracing"
)

const maxOrderNumberAttempts = 3

// OrderService runs the purchase order workflow use cases.
type OrderService struct {
	orderRepo    domain.OrderRepository
	productRepo  domain.ProductRepository
	supplierRepo domain.SupplierRepository
	numbers      domain.OrderNumberGenerator
	documents    *documentStore
	metrics      WorkflowMetrics
	logger       *logging.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// OrderServiceOption customizes an OrderService.
type OrderServiceOption func(*OrderService)

func WithMetrics(m WorkflowMetrics) OrderServiceOption {
	return func(s *OrderService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithDocumentRemover(r DocumentRemover) OrderServiceOption {
	return func(s *OrderService) { s.documents.remover = r }
}

func WithTracer(t trace.Tracer) OrderServiceOption {
	return func(s *OrderService) { s.tracer = t }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) OrderServiceOption {
	return func(s *OrderService) { s.now = now }
}

// NewOrderService creates a new OrderService
func NewOrderService(
	orderRepo domain.OrderRepository,
	productRepo domain.ProductRepository,
	supplierRepo domain.SupplierRepository,
	numbers domain.OrderNumberGenerator,
	uploader BlobUploader,
	logger *logging.Logger,
	opts ...OrderServiceOption,
) *OrderService {
	s := &OrderService{
		orderRepo:    orderRepo,
		productRepo:  productRepo,
		supplierRepo: supplierRepo,
		numbers:      numbers,
		metrics:      noopMetrics{},
		logger:       logger.WithComponent("order-service"),
		tracer:       otel.Tracer("purchasing-service/application"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	s.documents = &documentStore{uploader: uploader, logger: s.logger}
	for _, opt := range opts {
		opt(s)
	}
	s.documents.metrics = s.metrics
	return s
}

// CreateOrder places a new purchase order in "not assigned".
func (s *OrderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*OrderDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "OrderService.CreateOrder", func(ctx context.Context) (*OrderDTO, error) {
		return s.createOrder(ctx, cmd)
	})
}

func (s *OrderService) createOrder(ctx context.Context, cmd CreateOrderCommand) (*OrderDTO, error) {
	caller := actor.FromContextOrSystem(ctx)
	now := s.now()

	if strings.TrimSpace(cmd.SupplierID) == "" {
		return nil, toAppError(domain.ErrSupplierRequired)
	}
	if len(cmd.Items) == 0 {
		return nil, toAppError(domain.ErrNoLineItems)
	}

	supplier, err := s.supplierRepo.FindByID(ctx, cmd.SupplierID)
	if err != nil {
		if errors.Is(err, domain.ErrSupplierNotFound) {
			return nil, apperrors.ErrNotFoundWithID("Supplier", cmd.SupplierID).Wrap(err)
		}
		return nil, fmt.Errorf("failed to load supplier: %w", err)
	}

	productIDs := make([]string, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.productRepo.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	items := make([]domain.NewLineItem, 0, len(cmd.Items))
	for _, in := range cmd.Items {
		product, ok := products[in.ProductID]
		if !ok {
			return nil, apperrors.ErrNotFoundWithID("Product", in.ProductID)
		}
		items = append(items, domain.NewLineItem{
			ProductID:      in.ProductID,
			Quantity:       in.Quantity,
			UnitCost:       in.UnitCost,
			ExpirationDate: expirationFor(in.ExpirationDate, product, now),
		})
	}

	bill, err := s.documents.upload(ctx, cmd.File, now)
	if err != nil {
		return nil, err
	}

	order, err := s.saveNewOrder(ctx, domain.NewOrderParams{
		SupplierID:   cmd.SupplierID,
		Items:        items,
		Notes:        strings.TrimSpace(cmd.Notes),
		ExpectedDate: utcPtr(cmd.ExpectedDate),
		Bill:         bill,
		CreatedBy:    caller.UserID(),
		At:           now,
	})
	if err != nil {
		s.documents.discard(ctx, bill)
		return nil, err
	}

	s.metrics.RecordOrderCreated()
	s.metrics.RecordTransition("", domain.StatusNotAssigned.String())
	s.logger.WithContext(ctx).WithOrder(order.ID.Hex(), order.OrderNumber).Info("Order created",
		"supplierId", order.SupplierID,
		"items", len(order.ProductOrders),
		"totalAmount", order.TotalAmount,
	)
	s.logger.Audit(ctx, "create", "purchase_order", order.ID.Hex(), caller.ID, map[string]any{
		"orderNumber": order.OrderNumber,
	})

	dto := ToOrderDTO(order, references{
		suppliers: map[string]*domain.Supplier{cmd.SupplierID: supplier},
		products:  products,
	})
	return &dto, nil
}

// saveNewOrder builds and inserts the order, allocating a fresh number when
// the previous one was taken.
func (s *OrderService) saveNewOrder(ctx context.Context, params domain.NewOrderParams) (*domain.PurchaseOrder, error) {
	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Next(ctx, params.At)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate order number: %w", err)
		}
		params.OrderNumber = number

		order, err := domain.NewPurchaseOrder(params)
		if err != nil {
			return nil, toAppError(err)
		}

		err = s.orderRepo.Save(ctx, order)
		if err == nil {
			return order, nil
		}
		if errors.Is(err, domain.ErrDuplicateOrderNumber) && attempt < maxOrderNumberAttempts {
			s.logger.WithContext(ctx).Warn("Order number already taken, allocating another", "orderNumber", number)
			continue
		}
		if mapped := toAppError(err); apperrors.IsAppError(mapped) {
			return nil, mapped
		}
		s.logger.WithContext(ctx).WithError(err).Error("Failed to save order", "orderNumber", number)
		return nil, fmt.Errorf("failed to save order: %w", err)
	}
}

// expirationFor keeps an explicit expiration date, otherwise derives one from
// the product's expected lifetime.
func expirationFor(explicit *time.Time, product *domain.Product, now time.Time) *time.Time {
	if explicit != nil {
		return utcPtr(explicit)
	}
	if product == nil || product.ExpectedLifetimeDays == nil || *product.ExpectedLifetimeDays <= 0 {
		return nil
	}
	exp := now.AddDate(0, 0, *product.ExpectedLifetimeDays)
	return &exp
}

// AssignOrder hands a "not assigned" order to a staff member.
func (s *OrderService) AssignOrder(ctx context.Context, cmd AssignOrderCommand) (*OrderDTO, error) {
	return s.runWorkflow(ctx, "assign", cmd.OrderID, func(ctx context.Context, order *domain.PurchaseOrder, by *string, now time.Time) error {
		return order.Assign(cmd.StaffID, now, by)
	})
}

// SubmitForReview uploads the supplier bill, applies line corrections and
// moves the order to pending_review.
func (s *OrderService) SubmitForReview(ctx context.Context, cmd SubmitForReviewCommand) (*OrderDTO, error) {
	updates := make([]domain.ItemUpdate, 0, len(cmd.ItemUpdates))
	for _, u := range cmd.ItemUpdates {
		updates = append(updates, domain.ItemUpdate{ID: u.ID, Quantity: u.Quantity, UnitCost: u.UnitCost})
	}
	override := cmd.TotalAmount.StringPtr()

	var previous, bill *domain.Document
	dto, err := s.runWorkflow(ctx, "submit_for_review", cmd.OrderID, func(ctx context.Context, order *domain.PurchaseOrder, by *string, now time.Time) error {
		if err := order.CheckReviewInput(updates, override); err != nil {
			return err
		}
		if cmd.File == nil || len(cmd.File.Data) == 0 {
			return domain.ErrBillRequired
		}
		var err error
		if bill, err = s.documents.upload(ctx, cmd.File, now); err != nil {
			return err
		}
		previous = order.Bill
		return order.SubmitForReview(bill, updates, override, now, by)
	})
	if err != nil {
		s.documents.discard(ctx, bill)
		return nil, err
	}

	s.documents.removeReplaced(ctx, previous, bill)
	return dto, nil
}

// VerifyOrder accepts a reviewed order and books its quantities into stock.
func (s *OrderService) VerifyOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	return s.runWorkflow(ctx, "verify", orderID, func(ctx context.Context, order *domain.PurchaseOrder, by *string, now time.Time) error {
		return order.Verify(now, by)
	})
}

func (s *OrderService) MarkPaid(ctx context.Context, orderID string) (*OrderDTO, error) {
	return s.runWorkflow(ctx, "mark_paid", orderID, func(ctx context.Context, order *domain.PurchaseOrder, by *string, now time.Time) error {
		return order.MarkPaid(now, by)
	})
}

func (s *OrderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (*OrderDTO, error) {
	return s.runWorkflow(ctx, "cancel", cmd.OrderID, func(ctx context.Context, order *domain.PurchaseOrder, by *string, now time.Time) error {
		return order.Cancel(utcPtr(cmd.CanceledDate), now, by)
	})
}

// UpdateOrder applies the generic edit. A status change follows the same
// transition rules and side effects as the dedicated operations.
func (s *OrderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (*OrderDTO, error) {
	update := domain.OrderUpdate{
		StaffID:       cmd.StaffID,
		ExpectedDate:  utcPtr(cmd.ExpectedDate),
		CanceledDate:  utcPtr(cmd.CanceledDate),
		TotalOverride: cmd.TotalAmount.StringPtr(),
	}
	if cmd.Status != nil {
		status := domain.OrderStatus(*cmd.Status)
		update.Status = &status
	}

	var previous *domain.Document
	dto, err := s.runWorkflow(ctx, "update", cmd.OrderID, func(ctx context.Context, order *domain.PurchaseOrder, by *string, now time.Time) error {
		planned := update
		if cmd.File != nil {
			planned.Bill = &domain.Document{URL: cmd.File.Filename}
		}
		if err := order.CheckUpdate(planned); err != nil {
			return err
		}
		bill, err := s.documents.upload(ctx, cmd.File, now)
		if err != nil {
			return err
		}
		update.Bill = bill
		previous = order.Bill
		return order.ApplyUpdate(update, now, by)
	})
	if err != nil {
		s.documents.discard(ctx, update.Bill)
		return nil, err
	}

	if update.Bill != nil {
		s.documents.removeReplaced(ctx, previous, update.Bill)
	}
	return dto, nil
}

type workflowFunc func(ctx context.Context, order *domain.PurchaseOrder, by *string, now time.Time) error

// runWorkflow loads the order, applies fn and saves the result in one
// optimistic write. Nothing is persisted when fn fails.
func (s *OrderService) runWorkflow(ctx context.Context, action, orderID string, fn workflowFunc) (*OrderDTO, error) {
	return tracing.TracedOperation(ctx, s.tracer, "OrderService."+action, func(ctx context.Context) (*OrderDTO, error) {
		caller := actor.FromContextOrSystem(ctx)
		now := s.now()

		order, err := s.orderRepo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				return nil, apperrors.ErrNotFoundWithID("Order", orderID).Wrap(err)
			}
			return nil, fmt.Errorf("failed to load order: %w", err)
		}

		from := order.Status
		if err := fn(ctx, order, caller.UserID(), now); err != nil {
			return nil, toAppError(err)
		}
		trace.SpanFromContext(ctx).SetAttributes(tracing.OrderSpanAttributes(order.ID.Hex(), string(order.Status))...)

		var received float64
		for _, evt := range order.GetDomainEvents() {
			if verified, ok := evt.(*domain.OrderVerifiedEvent); ok {
				for _, r := range verified.Receipts {
					received += r.Quantity
				}
			}
		}

		if err := s.orderRepo.Save(ctx, order); err != nil {
			if mapped := toAppError(err); apperrors.IsAppError(mapped) {
				return nil, mapped
			}
			s.logger.WithContext(ctx).WithError(err).Error("Failed to save order", "orderId", orderID, "action", action)
			return nil, fmt.Errorf("failed to save order: %w", err)
		}

		if order.Status != from {
			s.metrics.RecordTransition(from.String(), order.Status.String())
			s.logger.StatusTransition(ctx, order.ID.Hex(), from.String(), order.Status.String(), caller.ID)
		}
		if received > 0 {
			s.metrics.RecordStockReceived(received)
			s.logger.WithContext(ctx).WithOrder(order.ID.Hex(), order.OrderNumber).Info("Stock received", "units", received)
		}
		s.logger.Audit(ctx, action, "purchase_order", order.ID.Hex(), caller.ID, map[string]any{
			"from": from.String(),
			"to":   order.Status.String(),
		})

		return s.populate(ctx, order)
	})
}

// GetOrder returns one order. Staff only see orders they created or are
// assigned to; any other order is reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	caller := actor.FromContextOrSystem(ctx)

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, apperrors.ErrNotFoundWithID("Order", orderID).Wrap(err)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if !caller.IsAdmin() && !order.IsVisibleTo(caller.ID) {
		return nil, apperrors.ErrNotFoundWithID("Order", orderID)
	}

	return s.populate(ctx, order)
}

func (s *OrderService) populate(ctx context.Context, order *domain.PurchaseOrder) (*OrderDTO, error) {
	refs, err := loadReferences(ctx, s.productRepo, s.supplierRepo, []*domain.PurchaseOrder{order})
	if err != nil {
		return nil, err
	}
	dto := ToOrderDTO(order, refs)
	return &dto, nil
}

// loadReferences fetches the suppliers and products referenced by orders in
// two batched reads.
func loadReferences(ctx context.Context, products domain.ProductRepository, suppliers domain.SupplierRepository, orders []*domain.PurchaseOrder) (references, error) {
	var supplierIDs, productIDs []string
	seenSupplier := make(map[string]bool)
	seenProduct := make(map[string]bool)
	for _, o := range orders {
		if !seenSupplier[o.SupplierID] {
			seenSupplier[o.SupplierID] = true
			supplierIDs = append(supplierIDs, o.SupplierID)
		}
		for _, id := range o.ProductIDs() {
			if !seenProduct[id] {
				seenProduct[id] = true
				productIDs = append(productIDs, id)
			}
		}
	}

	refs := references{}
	var err error
	if len(supplierIDs) > 0 {
		if refs.suppliers, err = suppliers.FindByIDs(ctx, supplierIDs); err != nil {
			return refs, fmt.Errorf("failed to load suppliers: %w", err)
		}
	}
	if len(productIDs) > 0 {
		if refs.products, err = products.FindByIDs(ctx, productIDs); err != nil {
			return refs, fmt.Errorf("failed to load products: %w", err)
		}
	}
	return refs, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
