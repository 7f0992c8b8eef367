package application

import (
	"errors"

	"github.com/wms-platform/purchasing-service/internal/domain"
	apperrors "github.com/wms-platform/purchasing-service/pkg/errors"
)

// toAppError maps domain failures onto API errors. Errors it does not
// recognize are returned unchanged and surface as 500s.
func toAppError(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		appErr := apperrors.ErrValidation(verr.Message)
		if verr.Field != "" {
			appErr.WithDetail("field", verr.Field)
		}
		return appErr.Wrap(err)
	}

	var terr *domain.TransitionError
	if errors.As(err, &terr) {
		return apperrors.ErrInvalidTransition(terr.Message).
			WithDetails(map[string]string{"from": terr.From.String(), "to": terr.To.String()}).
			Wrap(err)
	}

	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return apperrors.ErrNotFound("Order").Wrap(err)
	case errors.Is(err, domain.ErrProductNotFound):
		return apperrors.ErrNotFound("Product").Wrap(err)
	case errors.Is(err, domain.ErrSupplierNotFound):
		return apperrors.ErrNotFound("Supplier").Wrap(err)
	case errors.Is(err, domain.ErrConcurrentModification):
		return apperrors.ErrConcurrentModification("Order").Wrap(err)
	case errors.Is(err, domain.ErrDuplicateOrderNumber):
		return apperrors.ErrConflict("Order number already exists").Wrap(err)
	}
	return err
}
