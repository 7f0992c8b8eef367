package openapi

import (
	"errors"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/middleware"
)

// RequestValidation rejects documented requests that do not match the
// document. Undocumented paths such as /health pass through.
func RequestValidation(v *Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := v.ValidateRequest(c.Request.Context(), c.Request)
		if err == nil || errors.Is(err, ErrNoRoute) {
			c.Next()
			return
		}
		middleware.AbortWithAppError(c, apperrors.ErrValidation("request does not match the API contract").
			WithDetail("contract", err.Error()))
	}
}
