package application

import (
	"time"

	"github.com/wms-platform/purchasing-service/internal/domain"
)

// SupplierSummary is the populated supplier reference of an order.
type SupplierSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProductSummary is the populated product reference of a line item.
type ProductSummary struct {
	ID   string               `json:"id"`
	Name string               `json:"name"`
	Unit domain.UnitOfMeasure `json:"unit"`
}

// LineItemDTO represents a line item in API responses
type LineItemDTO struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	Product        *ProductSummary `json:"product,omitempty"`
	Quantity       float64         `json:"quantity"`
	UnitCost       float64         `json:"unitCost"`
	LineTotal      float64         `json:"lineTotal"`
	ExpirationDate *time.Time      `json:"expirationDate,omitempty"`
	RemainingQte   float64         `json:"remainingQte"`
	Expired        bool            `json:"expired"`
	ExpiredQte     float64         `json:"expiredQte"`
}

type StatusHistoryDTO struct {
	From *string   `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
	By   *string   `json:"by"`
}

type DocumentDTO struct {
	URL string `json:"url"`
	Key string `json:"key,omitempty"`
}

// OrderDTO represents a purchase order in API responses
type OrderDTO struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"orderNumber"`
	SupplierID        string             `json:"supplierId"`
	Supplier          *SupplierSummary   `json:"supplier,omitempty"`
	StaffID           string             `json:"staffId,omitempty"`
	CreatedBy         *string            `json:"createdBy"`
	Status            string             `json:"status"`
	ProductOrders     []LineItemDTO      `json:"productOrders"`
	TotalAmount       float64            `json:"totalAmount"`
	Notes             string             `json:"notes,omitempty"`
	Bon               *DocumentDTO       `json:"bon,omitempty"`
	AssignedDate      *time.Time         `json:"assignedDate,omitempty"`
	PendingReviewDate *time.Time         `json:"pendingReviewDate,omitempty"`
	VerifiedDate      *time.Time         `json:"verifiedDate,omitempty"`
	PaidDate          *time.Time         `json:"paidDate,omitempty"`
	CanceledDate      *time.Time         `json:"canceledDate,omitempty"`
	ExpectedDate      *time.Time         `json:"expectedDate,omitempty"`
	StatusHistory     []StatusHistoryDTO `json:"statusHistory"`
	Version           int64              `json:"version"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// OrderListDTO is the paginated listing envelope.
type OrderListDTO struct {
	Orders []OrderDTO `json:"orders"`
	Total  int64      `json:"total"`
	Pages  int64      `json:"pages"`
	Page   int64      `json:"page"`
	Limit  int64      `json:"limit"`
}

// references holds the catalog records used to populate order responses.
type references struct {
	suppliers map[string]*domain.Supplier
	products  map[string]*domain.Product
}

// ToOrderDTO converts a domain order, populating supplier and product
// summaries found in refs.
func ToOrderDTO(order *domain.PurchaseOrder, refs references) OrderDTO {
	dto := OrderDTO{
		ID:                order.ID.Hex(),
		OrderNumber:       order.OrderNumber,
		SupplierID:        order.SupplierID,
		StaffID:           order.StaffID,
		CreatedBy:         order.CreatedBy,
		Status:            order.Status.String(),
		ProductOrders:     make([]LineItemDTO, 0, len(order.ProductOrders)),
		TotalAmount:       order.TotalAmount,
		Notes:             order.Notes,
		AssignedDate:      order.AssignedDate,
		PendingReviewDate: order.PendingReviewDate,
		VerifiedDate:      order.VerifiedDate,
		PaidDate:          order.PaidDate,
		CanceledDate:      order.CanceledDate,
		ExpectedDate:      order.ExpectedDate,
		StatusHistory:     make([]StatusHistoryDTO, 0, len(order.StatusHistory)),
		Version:           order.Version,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}

	if s, ok := refs.suppliers[order.SupplierID]; ok {
		dto.Supplier = &SupplierSummary{ID: s.ID.Hex(), Name: s.Name}
	}
	if order.Bill != nil {
		dto.Bon = &DocumentDTO{URL: order.Bill.URL, Key: order.Bill.Key}
	}

	for _, item := range order.ProductOrders {
		line := LineItemDTO{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitCost:       item.UnitCost,
			LineTotal:      item.LineTotal().Round(2).InexactFloat64(),
			ExpirationDate: item.ExpirationDate,
			RemainingQte:   item.RemainingQte,
			Expired:        item.Expired,
			ExpiredQte:     item.ExpiredQte,
		}
		if p, ok := refs.products[item.ProductID]; ok {
			line.Product = &ProductSummary{ID: p.ID.Hex(), Name: p.Name, Unit: p.Unit}
		}
		dto.ProductOrders = append(dto.ProductOrders, line)
	}

	for _, h := range order.StatusHistory {
		entry := StatusHistoryDTO{To: h.To.String(), At: h.At, By: h.By}
		if h.From != nil {
			from := h.From.String()
			entry.From = &from
		}
		dto.StatusHistory = append(dto.StatusHistory, entry)
	}

	return dto
}
