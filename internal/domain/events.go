package domain

import "time"

// DomainEvent represents a domain event interface
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

const (
	EventTypeOrderCreated            = "purchasing.order.created"
	EventTypeOrderAssigned           = "purchasing.order.assigned"
	EventTypeOrderSubmittedForReview = "purchasing.order.submitted-for-review"
	EventTypeOrderVerified           = "purchasing.order.verified"
	EventTypeOrderPaid               = "purchasing.order.paid"
	EventTypeOrderCanceled           = "purchasing.order.canceled"
	EventTypeOrderUpdated            = "purchasing.order.updated"
	EventTypeOrderItemsExpired       = "purchasing.order.items-expired"
)

// OrderCreatedEvent is emitted when a new order is placed
type OrderCreatedEvent struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	SupplierID  string    `json:"supplierId"`
	TotalAmount float64   `json:"totalAmount"`
	ItemCount   int       `json:"itemCount"`
	CreatedBy   *string   `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (e *OrderCreatedEvent) EventType() string     { return EventTypeOrderCreated }
func (e *OrderCreatedEvent) OccurredAt() time.Time { return e.CreatedAt }

type OrderAssignedEvent struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	StaffID     string    `json:"staffId"`
	AssignedBy  *string   `json:"assignedBy"`
	AssignedAt  time.Time `json:"assignedAt"`
}

func (e *OrderAssignedEvent) EventType() string     { return EventTypeOrderAssigned }
func (e *OrderAssignedEvent) OccurredAt() time.Time { return e.AssignedAt }

type OrderSubmittedForReviewEvent struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	TotalAmount float64   `json:"totalAmount"`
	BillURL     string    `json:"billUrl"`
	EditedItems int       `json:"editedItems"`
	SubmittedBy *string   `json:"submittedBy"`
	SubmittedAt time.Time `json:"submittedAt"`
}

func (e *OrderSubmittedForReviewEvent) EventType() string     { return EventTypeOrderSubmittedForReview }
func (e *OrderSubmittedForReviewEvent) OccurredAt() time.Time { return e.SubmittedAt }

// StockReceipt is the stock increment one verified order applies to a product.
type StockReceipt struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
}

// OrderVerifiedEvent carries the stock increments. The order repository
// applies them in the same transaction that persists the order.
type OrderVerifiedEvent struct {
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber"`
	Receipts    []StockReceipt `json:"receipts"`
	VerifiedBy  *string        `json:"verifiedBy"`
	VerifiedAt  time.Time      `json:"verifiedAt"`
}

func (e *OrderVerifiedEvent) EventType() string     { return EventTypeOrderVerified }
func (e *OrderVerifiedEvent) OccurredAt() time.Time { return e.VerifiedAt }

type OrderPaidEvent struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	TotalAmount float64   `json:"totalAmount"`
	PaidBy      *string   `json:"paidBy"`
	PaidAt      time.Time `json:"paidAt"`
}

func (e *OrderPaidEvent) EventType() string     { return EventTypeOrderPaid }
func (e *OrderPaidEvent) OccurredAt() time.Time { return e.PaidAt }

type OrderCanceledEvent struct {
	OrderID        string      `json:"orderId"`
	OrderNumber    string      `json:"orderNumber"`
	PreviousStatus OrderStatus `json:"previousStatus"`
	CanceledBy     *string     `json:"canceledBy"`
	CanceledAt     time.Time   `json:"canceledAt"`
}

func (e *OrderCanceledEvent) EventType() string     { return EventTypeOrderCanceled }
func (e *OrderCanceledEvent) OccurredAt() time.Time { return e.CanceledAt }

// OrderUpdatedEvent is emitted for field edits that do not change status.
type OrderUpdatedEvent struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Fields      []string  `json:"fields"`
	UpdatedBy   *string   `json:"updatedBy"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e *OrderUpdatedEvent) EventType() string     { return EventTypeOrderUpdated }
func (e *OrderUpdatedEvent) OccurredAt() time.Time { return e.UpdatedAt }

type ExpiredItem struct {
	LineItemID string  `json:"lineItemId"`
	ProductID  string  `json:"productId"`
	ExpiredQte float64 `json:"expiredQte"`
}

type OrderItemsExpiredEvent struct {
	OrderID     string        `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	Items       []ExpiredItem `json:"items"`
	ExpiredAt   time.Time     `json:"expiredAt"`
}

func (e *OrderItemsExpiredEvent) EventType() string     { return EventTypeOrderItemsExpired }
func (e *OrderItemsExpiredEvent) OccurredAt() time.Time { return e.ExpiredAt }
