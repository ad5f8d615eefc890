package auth

import (
	"context"

	"github.com/google/uuid"
)

// Roles carried in tokens
const (
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
	RoleAPIService = "api_service"
)

// UserContext holds the authenticated caller and the tenant every request is scoped to
type UserContext struct {
	UserID      uuid.UUID
	DisplayName string
	Email       string
	TenantID    uuid.UUID
	Roles       []string
}

type contextKey string

const userContextKey contextKey = "userContext"

// WithUserContext adds user context to the context
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext extracts user context from the context
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}

// MustFromContext extracts user context or panics
func MustFromContext(ctx context.Context) *UserContext {
	user, ok := FromContext(ctx)
	if !ok {
		panic("user context not found in context")
	}
	return user
}

// TenantFromContext returns the tenant of the authenticated caller
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	user, ok := FromContext(ctx)
	if !ok || user.TenantID == uuid.Nil {
		return uuid.Nil, false
	}
	return user.TenantID, true
}

// HasRole checks if user has a specific role
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if user has any of the specified roles
func (u *UserContext) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the caller may manage all leads of its tenant
func (u *UserContext) IsAdmin() bool {
	return u.HasAnyRole(RoleAdmin, RoleAPIService)
}
