package actor

import (
	"context"
	"errors"
	"strings"
)

type contextKey string

const actorKey contextKey = "actor"

// Role is the coarse permission level forwarded by the auth gateway.
type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

var (
	ErrMissingActor = errors.New("actor context is required")
	ErrInvalidRole  = errors.New("role must be staff or admin")
)

// ParseRole validates a role header value. An empty value means staff.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleStaff:
		return RoleStaff, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// Actor identifies the authenticated user behind a request or a background job.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the actor used by background tasks such as the expiration monitor.
var System = Actor{Role: RoleAdmin}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// UserID returns a pointer suitable for nullable history fields.
func (a Actor) UserID() *string {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}

func ToContext(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// FromContext returns the request actor, or ErrMissingActor when none was set.
func FromContext(ctx context.Context) (Actor, error) {
	if a, ok := ctx.Value(actorKey).(Actor); ok {
		return a, nil
	}
	return Actor{}, ErrMissingActor
}

// FromContextOrSystem is used by code paths that may run outside a request.
func FromContextOrSystem(ctx context.Context) Actor {
	if a, err := FromContext(ctx); err == nil {
		return a
	}
	return System
}
