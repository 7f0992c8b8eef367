package domain

import "fmt"

// OrderStatus is the lifecycle state of a purchase order.
type OrderStatus string

const (
	StatusNotAssigned   OrderStatus = "not assigned"
	StatusAssigned      OrderStatus = "assigned"
	StatusPendingReview OrderStatus = "pending_review"
	StatusVerified      OrderStatus = "verified"
	StatusPaid          OrderStatus = "paid"
	StatusCanceled      OrderStatus = "canceled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []OrderStatus{
	StatusNotAssigned,
	StatusAssigned,
	StatusPendingReview,
	StatusVerified,
	StatusPaid,
	StatusCanceled,
}

var validTransitions = map[OrderStatus][]OrderStatus{
	StatusNotAssigned:   {StatusAssigned, StatusCanceled},
	StatusAssigned:      {StatusPendingReview, StatusCanceled},
	StatusPendingReview: {StatusVerified, StatusCanceled},
	StatusVerified:      {StatusPaid},
	StatusPaid:          {},
	StatusCanceled:      {},
}

func (s OrderStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusCanceled
}

// CanTransitionTo checks the lifecycle table.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

// ParseOrderStatus rejects values outside the enumeration.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.IsValid() {
		return "", NewValidationError("status", fmt.Sprintf("invalid status %q", s))
	}
	return status, nil
}
