package application

import (
	"encoding/json"
	"strings"
	"time"
)

// Amount is a money value accepted as either a JSON number or a string.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	*a = Amount(raw)
	return nil
}

func (a *Amount) StringPtr() *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}

// FileUpload is an uploaded bill held in memory until it reaches blob storage.
type FileUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// LineItemInput is one requested line of a new order.
type LineItemInput struct {
	ProductID      string     `json:"productId" binding:"required"`
	Quantity       float64    `json:"quantity" binding:"gte=0"`
	UnitCost       float64    `json:"unitCost" binding:"gte=0"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// CreateOrderCommand represents command to create a purchase order
type CreateOrderCommand struct {
	SupplierID   string          `json:"supplierId" binding:"required"`
	Items        []LineItemInput `json:"items" binding:"required,min=1,dive"`
	Notes        string          `json:"notes,omitempty" binding:"max=2000"`
	ExpectedDate *time.Time      `json:"expectedDate,omitempty"`
	File         *FileUpload     `json:"-"`
}

// AssignOrderCommand represents command to assign an order to a staff member
type AssignOrderCommand struct {
	OrderID string `json:"-"`
	StaffID string `json:"staffId" form:"staffId" binding:"required"`
}

// ItemUpdateInput corrects one existing line during review.
type ItemUpdateInput struct {
	ID       string   `json:"id" binding:"required"`
	Quantity *float64 `json:"quantity,omitempty" binding:"omitempty,gte=0"`
	UnitCost *float64 `json:"unitCost,omitempty" binding:"omitempty,gte=0"`
}

// SubmitForReviewCommand attaches the supplier bill and optional line
// corrections. TotalAmount, when non-empty, overrides the recomputed total.
type SubmitForReviewCommand struct {
	OrderID     string
	ItemUpdates []ItemUpdateInput
	TotalAmount *Amount
	File        *FileUpload
}

// CancelOrderCommand represents command to cancel an order
type CancelOrderCommand struct {
	OrderID      string     `json:"-"`
	CanceledDate *time.Time `json:"canceledDate,omitempty" form:"canceledDate" time_format:"2006-01-02T15:04:05Z07:00"`
}

// UpdateOrderCommand is the generic order edit. Status changes go through
// the same transition rules as the dedicated endpoints.
type UpdateOrderCommand struct {
	OrderID      string      `json:"-"`
	Status       *string     `json:"status,omitempty" form:"status" binding:"omitempty,order_status"`
	StaffID      string      `json:"staffId,omitempty" form:"staffId"`
	ExpectedDate *time.Time  `json:"expectedDate,omitempty" form:"expectedDate" time_format:"2006-01-02T15:04:05Z07:00"`
	CanceledDate *time.Time  `json:"canceledDate,omitempty" form:"canceledDate" time_format:"2006-01-02T15:04:05Z07:00"`
	TotalAmount  *Amount     `json:"totalAmount,omitempty" form:"totalAmount"`
	File         *FileUpload `json:"-" form:"-"`
}

// ListOrdersQuery represents query to list orders
type ListOrdersQuery struct {
	OrderNumber string
	StaffID     string
	Status      *string
	SupplierIDs []string
	SortBy      string
	Ascending   bool
	Page        int64
	PageSize    int64
}

// AnalyticsQuery selects the analytics window.
type AnalyticsQuery struct {
	Period string
}
