package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrProductNotFound        = errors.New("product not found")
	ErrSupplierNotFound       = errors.New("supplier not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("order was modified concurrently")
	ErrDuplicateOrderNumber   = errors.New("order number already exists")
)

// ValidationError is a rejected input. Message is shown to API callers.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrSupplierRequired   = NewValidationError("supplierId", "supplierId is required")
	ErrNoLineItems        = NewValidationError("items", "at least one item is required")
	ErrStaffRequired      = NewValidationError("staffId", "staffId is required")
	ErrBillRequired       = NewValidationError("file", "Bill file is required")
	ErrBillMissing        = NewValidationError("bon", "A bill must be attached before the order can be verified")
	ErrInvalidTotalAmount = NewValidationError("totalAmount", "totalAmount must be a non-negative number")
)

// TransitionError is returned when a status change is not legal from the
// order's current status.
type TransitionError struct {
	From    OrderStatus
	To      OrderStatus
	Message string
}

func (e *TransitionError) Error() string {
	return e.Message
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func newTransitionError(from, to OrderStatus) *TransitionError {
	var msg string
	switch to {
	case StatusAssigned:
		msg = fmt.Sprintf("Order can only be assigned when its status is %q", StatusNotAssigned)
	case StatusPendingReview:
		msg = "Order must be assigned before it can be submitted for review"
	case StatusVerified:
		msg = "Order must be pending review before it can be verified"
	case StatusPaid:
		msg = "Order must be verified before it can be marked as paid"
	case StatusCanceled:
		if from == StatusCanceled {
			msg = "Order is already canceled"
		} else {
			msg = "Cannot cancel a verified or paid order"
		}
	case StatusNotAssigned:
		msg = fmt.Sprintf("Order cannot return to %q", StatusNotAssigned)
	default:
		msg = fmt.Sprintf("Cannot change order status from %q to %q", from, to)
	}
	return &TransitionError{From: from, To: to, Message: msg}
}

// errTerminalOrder is returned when a field update targets a paid or
// canceled order.
func errTerminalOrder(status OrderStatus) *TransitionError {
	return &TransitionError{
		From:    status,
		To:      status,
		Message: fmt.Sprintf("Cannot modify an order that is %s", status),
	}
}
