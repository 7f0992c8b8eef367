package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StatusHistoryEntry records one status change. From is nil for creation.
type StatusHistoryEntry struct {
	From *OrderStatus `bson:"from" json:"from"`
	To   OrderStatus  `bson:"to" json:"to"`
	At   time.Time    `bson:"at" json:"at"`
	By   *string      `bson:"by" json:"by"`
}

// PurchaseOrder is the aggregate root of the purchasing context.
// StatusHistory is append-only and its last entry always matches Status.
type PurchaseOrder struct {
	ID                primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	OrderNumber       string               `bson:"orderNumber" json:"orderNumber"`
	SupplierID        string               `bson:"supplierId" json:"supplierId"`
	StaffID           string               `bson:"staffId,omitempty" json:"staffId,omitempty"`
	CreatedBy         *string              `bson:"createdBy" json:"createdBy"`
	Status            OrderStatus          `bson:"status" json:"status"`
	ProductOrders     []ProductOrder       `bson:"productOrders" json:"productOrders"`
	TotalAmount       float64              `bson:"totalAmount" json:"totalAmount"`
	Notes             string               `bson:"notes,omitempty" json:"notes,omitempty"`
	Bill              *Document            `bson:"bon,omitempty" json:"bon,omitempty"`
	AssignedDate      *time.Time           `bson:"assignedDate,omitempty" json:"assignedDate,omitempty"`
	PendingReviewDate *time.Time           `bson:"pendingReviewDate,omitempty" json:"pendingReviewDate,omitempty"`
	VerifiedDate      *time.Time           `bson:"verifiedDate,omitempty" json:"verifiedDate,omitempty"`
	PaidDate          *time.Time           `bson:"paidDate,omitempty" json:"paidDate,omitempty"`
	CanceledDate      *time.Time           `bson:"canceledDate,omitempty" json:"canceledDate,omitempty"`
	ExpectedDate      *time.Time           `bson:"expectedDate,omitempty" json:"expectedDate,omitempty"`
	StatusHistory     []StatusHistoryEntry `bson:"statusHistory" json:"statusHistory"`
	Version           int64                `bson:"version" json:"version"`
	CreatedAt         time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time            `bson:"updatedAt" json:"updatedAt"`
	DomainEvents      []DomainEvent        `bson:"-" json:"-"`
}

// NewOrderParams holds the validated input for a new order.
type NewOrderParams struct {
	OrderNumber  string
	SupplierID   string
	Items        []NewLineItem
	Notes        string
	ExpectedDate *time.Time
	Bill         *Document
	CreatedBy    *string
	At           time.Time
}

// NewPurchaseOrder creates an order in "not assigned" with one line item per
// requested item and the initial history entry.
func NewPurchaseOrder(p NewOrderParams) (*PurchaseOrder, error) {
	if strings.TrimSpace(p.SupplierID) == "" {
		return nil, ErrSupplierRequired
	}
	if err := validateNewLineItems(p.Items); err != nil {
		return nil, err
	}

	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	lines := make([]ProductOrder, 0, len(p.Items))
	for _, item := range p.Items {
		lines = append(lines, newProductOrder(item))
	}

	order := &PurchaseOrder{
		ID:            primitive.NewObjectID(),
		OrderNumber:   p.OrderNumber,
		SupplierID:    p.SupplierID,
		CreatedBy:     p.CreatedBy,
		Status:        StatusNotAssigned,
		ProductOrders: lines,
		TotalAmount:   SumLineItems(lines).InexactFloat64(),
		Notes:         p.Notes,
		Bill:          p.Bill,
		ExpectedDate:  p.ExpectedDate,
		StatusHistory: make([]StatusHistoryEntry, 0, 5),
		CreatedAt:     at,
		UpdatedAt:     at,
		DomainEvents:  make([]DomainEvent, 0),
	}
	order.appendHistory(nil, StatusNotAssigned, at, p.CreatedBy)

	order.addDomainEvent(&OrderCreatedEvent{
		OrderID:     order.ID.Hex(),
		OrderNumber: order.OrderNumber,
		SupplierID:  order.SupplierID,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(lines),
		CreatedBy:   p.CreatedBy,
		CreatedAt:   at,
	})

	return order, nil
}

// TransitionContext carries the inputs a status change may need.
type TransitionContext struct {
	At            time.Time
	By            *string
	StaffID       string
	Bill          *Document
	ItemUpdates   []ItemUpdate
	TotalOverride *string
	CanceledDate  *time.Time
}

func (tc TransitionContext) at() time.Time {
	if tc.At.IsZero() {
		return time.Now().UTC()
	}
	return tc.At
}

// Transition is the only place an order's status changes. It checks the
// lifecycle table and the target's preconditions, applies the side effects
// that belong to the target, appends one history entry and records the
// matching domain event. On error the order is left untouched.
func (o *PurchaseOrder) Transition(target OrderStatus, tc TransitionContext) error {
	if !target.IsValid() {
		return NewValidationError("status", "invalid status \""+string(target)+"\"")
	}
	if !o.Status.CanTransitionTo(target) {
		return newTransitionError(o.Status, target)
	}

	at := tc.at()
	from := o.Status
	var event DomainEvent

	switch target {
	case StatusAssigned:
		staffID := strings.TrimSpace(tc.StaffID)
		if staffID == "" {
			return ErrStaffRequired
		}
		o.StaffID = staffID
		o.AssignedDate = &at
		event = &OrderAssignedEvent{StaffID: staffID, AssignedBy: tc.By, AssignedAt: at}

	case StatusPendingReview:
		if tc.Bill == nil || tc.Bill.URL == "" {
			return ErrBillRequired
		}
		if err := validateItemUpdates(o.ProductOrders, tc.ItemUpdates); err != nil {
			return err
		}
		override, err := parseOptionalTotal(tc.TotalOverride)
		if err != nil {
			return err
		}

		edited := applyItemUpdates(o.ProductOrders, tc.ItemUpdates)
		if override != nil {
			o.TotalAmount = override.InexactFloat64()
		} else {
			o.TotalAmount = SumLineItems(o.ProductOrders).InexactFloat64()
		}
		o.Bill = tc.Bill
		o.PendingReviewDate = &at
		event = &OrderSubmittedForReviewEvent{
			TotalAmount: o.TotalAmount,
			BillURL:     tc.Bill.URL,
			EditedItems: edited,
			SubmittedBy: tc.By,
			SubmittedAt: at,
		}

	case StatusVerified:
		if o.Bill == nil || o.Bill.URL == "" {
			return ErrBillMissing
		}
		o.VerifiedDate = &at
		event = &OrderVerifiedEvent{Receipts: o.StockReceipts(), VerifiedBy: tc.By, VerifiedAt: at}

	case StatusPaid:
		o.PaidDate = &at
		event = &OrderPaidEvent{TotalAmount: o.TotalAmount, PaidBy: tc.By, PaidAt: at}

	case StatusCanceled:
		canceledAt := at
		if tc.CanceledDate != nil {
			canceledAt = tc.CanceledDate.UTC()
		}
		o.CanceledDate = &canceledAt
		event = &OrderCanceledEvent{PreviousStatus: from, CanceledBy: tc.By, CanceledAt: canceledAt}

	default:
		return newTransitionError(from, target)
	}

	o.Status = target
	o.appendHistory(&from, target, at, tc.By)
	o.UpdatedAt = at
	o.stampEvent(event)
	o.addDomainEvent(event)

	return nil
}

// Assign moves a "not assigned" order to staffID.
func (o *PurchaseOrder) Assign(staffID string, at time.Time, by *string) error {
	return o.Transition(StatusAssigned, TransitionContext{At: at, By: by, StaffID: staffID})
}

// SubmitForReview attaches the bill, applies line corrections and recomputes
// the total unless totalOverride is set.
func (o *PurchaseOrder) SubmitForReview(bill *Document, updates []ItemUpdate, totalOverride *string, at time.Time, by *string) error {
	return o.Transition(StatusPendingReview, TransitionContext{
		At:            at,
		By:            by,
		Bill:          bill,
		ItemUpdates:   updates,
		TotalOverride: totalOverride,
	})
}

func (o *PurchaseOrder) Verify(at time.Time, by *string) error {
	return o.Transition(StatusVerified, TransitionContext{At: at, By: by})
}

func (o *PurchaseOrder) MarkPaid(at time.Time, by *string) error {
	return o.Transition(StatusPaid, TransitionContext{At: at, By: by})
}

func (o *PurchaseOrder) Cancel(canceledDate *time.Time, at time.Time, by *string) error {
	return o.Transition(StatusCanceled, TransitionContext{At: at, By: by, CanceledDate: canceledDate})
}

// CheckReviewInput validates a review submission without mutating the
// order, so callers can reject it before uploading the bill.
func (o *PurchaseOrder) CheckReviewInput(updates []ItemUpdate, totalOverride *string) error {
	if !o.Status.CanTransitionTo(StatusPendingReview) {
		return newTransitionError(o.Status, StatusPendingReview)
	}
	if err := validateItemUpdates(o.ProductOrders, updates); err != nil {
		return err
	}
	_, err := parseOptionalTotal(totalOverride)
	return err
}

// OrderUpdate is the generic edit accepted by PUT /orders/:id.
type OrderUpdate struct {
	Status        *OrderStatus
	StaffID       string
	ExpectedDate  *time.Time
	CanceledDate  *time.Time
	TotalOverride *string
	Bill          *Document
}

func (u OrderUpdate) hasFieldChanges() bool {
	return u.ExpectedDate != nil || u.Bill != nil || (u.TotalOverride != nil && strings.TrimSpace(*u.TotalOverride) != "")
}

// CheckUpdate validates u against the order without mutating it. It covers
// the field rules and the transition table but not the preconditions of the
// target status, which Transition checks.
func (o *PurchaseOrder) CheckUpdate(u OrderUpdate) error {
	if u.Status != nil && !u.Status.IsValid() {
		return NewValidationError("status", "invalid status \""+string(*u.Status)+"\"")
	}

	target := u.target(o.Status)
	if u.CanceledDate != nil && target != StatusCanceled {
		return NewValidationError("canceledDate", "canceledDate is only accepted when canceling the order")
	}
	if strings.TrimSpace(u.StaffID) != "" && target != StatusAssigned {
		return NewValidationError("staffId", "staffId is only accepted when assigning the order")
	}
	if _, err := parseOptionalTotal(u.TotalOverride); err != nil {
		return err
	}

	if target == "" {
		if o.Status.IsTerminal() && u.hasFieldChanges() {
			return errTerminalOrder(o.Status)
		}
		return nil
	}
	if !o.Status.CanTransitionTo(target) {
		return newTransitionError(o.Status, target)
	}
	return nil
}

// target is the requested status, or empty when the status does not change.
func (u OrderUpdate) target(current OrderStatus) OrderStatus {
	if u.Status == nil || *u.Status == current {
		return ""
	}
	return *u.Status
}

// ApplyUpdate routes a status change through Transition and then applies the
// remaining field edits. A status equal to the current one is not a change.
func (o *PurchaseOrder) ApplyUpdate(u OrderUpdate, at time.Time, by *string) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := o.CheckUpdate(u); err != nil {
		return err
	}

	target := u.target(o.Status)
	statusChange := target != ""
	override, _ := parseOptionalTotal(u.TotalOverride)

	if statusChange {
		err := o.Transition(target, TransitionContext{
			At:            at,
			By:            by,
			StaffID:       u.StaffID,
			Bill:          u.Bill,
			TotalOverride: u.TotalOverride,
			CanceledDate:  u.CanceledDate,
		})
		if err != nil {
			return err
		}
	}

	// Submitting for review already consumed the bill and the total.
	consumed := target == StatusPendingReview
	var fields []string

	if u.ExpectedDate != nil {
		expected := u.ExpectedDate.UTC()
		o.ExpectedDate = &expected
		fields = append(fields, "expectedDate")
	}
	if override != nil && !consumed {
		o.TotalAmount = override.InexactFloat64()
		fields = append(fields, "totalAmount")
	}
	if u.Bill != nil && !consumed {
		o.Bill = u.Bill
		fields = append(fields, "bon")
	}

	if len(fields) > 0 {
		o.UpdatedAt = at
		o.addDomainEvent(&OrderUpdatedEvent{
			OrderID:     o.ID.Hex(),
			OrderNumber: o.OrderNumber,
			Fields:      fields,
			UpdatedBy:   by,
			UpdatedAt:   at,
		})
	}

	return nil
}

// ExpireItems flags received line items whose expiration date has passed.
// Only verified or paid orders hold stock, so other orders are skipped.
func (o *PurchaseOrder) ExpireItems(now time.Time) []ExpiredItem {
	if o.Status != StatusVerified && o.Status != StatusPaid {
		return nil
	}

	var expired []ExpiredItem
	for i := range o.ProductOrders {
		item := &o.ProductOrders[i]
		if !item.IsExpirable(now) {
			continue
		}
		expired = append(expired, ExpiredItem{
			LineItemID: item.ID,
			ProductID:  item.ProductID,
			ExpiredQte: item.RemainingQte,
		})
		item.Expired = true
		item.ExpiredQte = item.RemainingQte
		item.RemainingQte = 0
	}

	if len(expired) > 0 {
		o.UpdatedAt = now
		o.addDomainEvent(&OrderItemsExpiredEvent{
			OrderID:     o.ID.Hex(),
			OrderNumber: o.OrderNumber,
			Items:       expired,
			ExpiredAt:   now,
		})
	}
	return expired
}

// StockReceipts sums line quantities per product in first-seen order.
func (o *PurchaseOrder) StockReceipts() []StockReceipt {
	index := make(map[string]int)
	receipts := make([]StockReceipt, 0, len(o.ProductOrders))
	for _, item := range o.ProductOrders {
		if item.Quantity <= 0 {
			continue
		}
		if i, ok := index[item.ProductID]; ok {
			receipts[i].Quantity = decimal.NewFromFloat(receipts[i].Quantity).
				Add(decimal.NewFromFloat(item.Quantity)).InexactFloat64()
			continue
		}
		index[item.ProductID] = len(receipts)
		receipts = append(receipts, StockReceipt{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return receipts
}

// IsVisibleTo reports whether a staff member may see the order: they
// created it or it is assigned to them.
func (o *PurchaseOrder) IsVisibleTo(userID string) bool {
	if userID == "" {
		return false
	}
	return o.StaffID == userID || (o.CreatedBy != nil && *o.CreatedBy == userID)
}

func (o *PurchaseOrder) ProductIDs() []string {
	seen := make(map[string]bool, len(o.ProductOrders))
	ids := make([]string, 0, len(o.ProductOrders))
	for _, item := range o.ProductOrders {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

// LastHistoryEntry returns the most recent history entry.
func (o *PurchaseOrder) LastHistoryEntry() *StatusHistoryEntry {
	if len(o.StatusHistory) == 0 {
		return nil
	}
	return &o.StatusHistory[len(o.StatusHistory)-1]
}

func (o *PurchaseOrder) appendHistory(from *OrderStatus, to OrderStatus, at time.Time, by *string) {
	o.StatusHistory = append(o.StatusHistory, StatusHistoryEntry{From: from, To: to, At: at, By: by})
}

func (o *PurchaseOrder) stampEvent(event DomainEvent) {
	id, number := o.ID.Hex(), o.OrderNumber
	switch e := event.(type) {
	case *OrderAssignedEvent:
		e.OrderID, e.OrderNumber = id, number
	case *OrderSubmittedForReviewEvent:
		e.OrderID, e.OrderNumber = id, number
	case *OrderVerifiedEvent:
		e.OrderID, e.OrderNumber = id, number
	case *OrderPaidEvent:
		e.OrderID, e.OrderNumber = id, number
	case *OrderCanceledEvent:
		e.OrderID, e.OrderNumber = id, number
	}
}

func (o *PurchaseOrder) addDomainEvent(event DomainEvent) {
	o.DomainEvents = append(o.DomainEvents, event)
}

// GetDomainEvents returns all domain events
func (o *PurchaseOrder) GetDomainEvents() []DomainEvent {
	return o.DomainEvents
}

// ClearDomainEvents clears all domain events
func (o *PurchaseOrder) ClearDomainEvents() {
	o.DomainEvents = make([]DomainEvent, 0)
}

func parseOptionalTotal(raw *string) (*decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	d, err := ParseTotalOverride(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
