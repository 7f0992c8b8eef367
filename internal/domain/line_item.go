package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductOrder is one purchased line of an order. Line items are embedded in
// the order document and owned exclusively by it.
type ProductOrder struct {
	ID             string     `bson:"id" json:"id"`
	ProductID      string     `bson:"productId" json:"productId"`
	Quantity       float64    `bson:"quantity" json:"quantity"`
	UnitCost       float64    `bson:"unitCost" json:"unitCost"`
	ExpirationDate *time.Time `bson:"expirationDate,omitempty" json:"expirationDate,omitempty"`
	RemainingQte   float64    `bson:"remainingQte" json:"remainingQte"`
	Expired        bool       `bson:"expired" json:"expired"`
	ExpiredQte     float64    `bson:"expiredQte" json:"expiredQte"`
}

// NewLineItem is the input for one line of a new order.
type NewLineItem struct {
	ProductID      string
	Quantity       float64
	UnitCost       float64
	ExpirationDate *time.Time
}

func newProductOrder(item NewLineItem) ProductOrder {
	return ProductOrder{
		ID:             uuid.New().String(),
		ProductID:      item.ProductID,
		Quantity:       item.Quantity,
		UnitCost:       item.UnitCost,
		ExpirationDate: item.ExpirationDate,
		RemainingQte:   item.Quantity,
	}
}

func (p ProductOrder) LineTotal() decimal.Decimal {
	return decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(p.UnitCost))
}

// IsExpirable reports whether the item passed its expiration date with stock
// still on hand and has not been flagged yet.
func (p ProductOrder) IsExpirable(now time.Time) bool {
	return !p.Expired &&
		p.RemainingQte > 0 &&
		p.ExpirationDate != nil &&
		p.ExpirationDate.Before(now)
}

// SumLineItems is Σ quantity × unitCost without intermediate rounding.
func SumLineItems(items []ProductOrder) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ItemUpdate corrects the quantity and/or unit cost of an existing line.
type ItemUpdate struct {
	ID       string
	Quantity *float64
	UnitCost *float64
}

func validateNewLineItems(items []NewLineItem) error {
	if len(items) == 0 {
		return ErrNoLineItems
	}
	for i, item := range items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			return NewValidationError(field+".productId", "productId is required for every item")
		}
		if item.Quantity < 0 {
			return NewValidationError(field+".quantity", "quantity must be greater than or equal to 0")
		}
		if item.UnitCost < 0 {
			return NewValidationError(field+".unitCost", "unitCost must be greater than or equal to 0")
		}
	}
	return nil
}

// validateItemUpdates checks every update against the order's own line item
// ids before anything is mutated.
func validateItemUpdates(items []ProductOrder, updates []ItemUpdate) error {
	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}

	for i, u := range updates {
		field := fmt.Sprintf("itemsUpdates[%d]", i)
		if !known[u.ID] {
			return NewValidationError(field+".id", fmt.Sprintf("line item %q does not belong to this order", u.ID))
		}
		if u.Quantity == nil && u.UnitCost == nil {
			return NewValidationError(field, "quantity or unitCost is required")
		}
		if u.Quantity != nil && *u.Quantity < 0 {
			return NewValidationError(field+".quantity", "quantity must be greater than or equal to 0")
		}
		if u.UnitCost != nil && *u.UnitCost < 0 {
			return NewValidationError(field+".unitCost", "unitCost must be greater than or equal to 0")
		}
	}
	return nil
}

// applyItemUpdates overwrites the edited lines. Each edited line's remaining
// quantity is reset to its (possibly new) quantity.
func applyItemUpdates(items []ProductOrder, updates []ItemUpdate) int {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.ID] = i
	}

	edited := make(map[string]bool)
	for _, u := range updates {
		item := &items[index[u.ID]]
		if u.Quantity != nil {
			item.Quantity = *u.Quantity
		}
		if u.UnitCost != nil {
			item.UnitCost = *u.UnitCost
		}
		item.RemainingQte = item.Quantity
		edited[u.ID] = true
	}
	return len(edited)
}

// ParseTotalOverride parses a caller-supplied total and rounds it to cents.
func ParseTotalOverride(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() {
		return decimal.Zero, ErrInvalidTotalAmount
	}
	return d.Round(2), nil
}
