package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/purchasing-service/pkg/actor"
	"github.com/wms-platform/purchasing-service/pkg/errors"
	"github.com/wms-platform/purchasing-service/pkg/logging"
)

// Headers set by the authenticating gateway in front of this service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const ContextKeyActor = "actor"

// ActorAuthConfig holds configuration for the actor middleware
type ActorAuthConfig struct {
	// Required rejects requests that carry no user id.
	Required bool
}

// ActorAuth reads the gateway identity headers into the request context.
// Token verification happens upstream; this layer only scopes data access.
func ActorAuth(config *ActorAuthConfig) gin.HandlerFunc {
	if config == nil {
		config = &ActorAuthConfig{Required: true}
	}

	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" && config.Required {
			AbortWithAppError(c, errors.NewAppError("MISSING_ACTOR", "X-User-ID header is required", http.StatusUnauthorized))
			return
		}

		role, err := actor.ParseRole(c.GetHeader(HeaderUserRole))
		if err != nil {
			AbortWithAppError(c, errors.ErrForbidden(err.Error()))
			return
		}

		a := actor.Actor{ID: userID, Role: role}
		ctx := actor.ToContext(c.Request.Context(), a)
		if userID != "" {
			ctx = logging.ContextWithUserID(ctx, userID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextKeyActor, a)

		c.Next()
	}
}

// RequireAdmin restricts a route to admin actors.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := actor.FromContext(c.Request.Context())
		if err != nil || !a.IsAdmin() {
			AbortWithAppError(c, errors.ErrForbidden("admin role required"))
			return
		}
		c.Next()
	}
}
