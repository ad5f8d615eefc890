package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/auth"
	"go.uber.org/zap"
)

// TenantScope makes sure every request past authentication is bound to exactly one tenant.
// A bearer caller may repeat its tenant in X-Tenant-ID but never name another one.
type TenantScope struct {
	logger *zap.Logger
}

// NewTenantScope creates a new tenant scope middleware
func NewTenantScope(logger *zap.Logger) *TenantScope {
	return &TenantScope{logger: logger}
}

// Require rejects requests without a tenant or with a conflicting tenant header
func (m *TenantScope) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userCtx, ok := auth.FromContext(r.Context())
		if !ok || userCtx.TenantID == uuid.Nil {
			http.Error(w, "Unauthorized: tenant context required", http.StatusUnauthorized)
			return
		}

		if header := r.Header.Get(auth.TenantHeader); header != "" {
			requested, err := uuid.Parse(header)
			if err != nil {
				http.Error(w, "Invalid "+auth.TenantHeader+" header", http.StatusBadRequest)
				return
			}
			if requested != userCtx.TenantID {
				m.logger.Warn("caller attempted to access another tenant",
					zap.String("user_id", userCtx.UserID.String()),
					zap.String("user_tenant", userCtx.TenantID.String()),
					zap.String("requested_tenant", requested.String()),
				)
				http.Error(w, "Access denied: you cannot access data for this tenant", http.StatusForbidden)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
