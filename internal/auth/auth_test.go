package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/auth"
	"github.com/straye-as/lead-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-signing-secret"

func createTestMiddleware(apiKey string) *auth.Middleware {
	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret: testSecret,
			Issuer:    "lead-identity",
			ApiKey:    apiKey,
		},
	}
	return auth.NewMiddleware(cfg, zap.NewNop())
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func validClaims(tenantID uuid.UUID) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       uuid.New().String(),
		"iss":       "lead-identity",
		"email":     "agent@example.com",
		"name":      "Agent Smith",
		"tenant_id": tenantID.String(),
		"roles":     []string{"Admin"},
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
}

func serve(m *auth.Middleware, req *http.Request) (*httptest.ResponseRecorder, *auth.UserContext) {
	var captured *auth.UserContext
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, captured
}

func TestMiddleware_Authenticate_WithAPIKey(t *testing.T) {
	tenantID := uuid.New()
	m := createTestMiddleware("test-api-key-12345")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("x-api-key", "test-api-key-12345")
	req.Header.Set(auth.TenantHeader, tenantID.String())

	w, userCtx := serve(m, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, userCtx)
	assert.Equal(t, tenantID, userCtx.TenantID)
	assert.True(t, userCtx.HasRole(auth.RoleAPIService))
	assert.True(t, userCtx.IsAdmin())
}

func TestMiddleware_Authenticate_APIKeyWithoutTenant(t *testing.T) {
	m := createTestMiddleware("key")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("x-api-key", "key")

	w, userCtx := serve(m, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, userCtx)
}

func TestMiddleware_Authenticate_WithInvalidAPIKey(t *testing.T) {
	m := createTestMiddleware("correct-key")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("x-api-key", "wrong-key")
	req.Header.Set(auth.TenantHeader, uuid.NewString())

	w, userCtx := serve(m, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, userCtx)
}

func TestMiddleware_Authenticate_APIKeyDisabledWhenUnset(t *testing.T) {
	m := createTestMiddleware("")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("x-api-key", "anything")
	req.Header.Set(auth.TenantHeader, uuid.NewString())

	w, _ := serve(m, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_Authenticate_WithBearerToken(t *testing.T) {
	tenantID := uuid.New()
	m := createTestMiddleware("")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(tenantID)))

	w, userCtx := serve(m, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, userCtx)
	assert.Equal(t, tenantID, userCtx.TenantID)
	assert.Equal(t, "agent@example.com", userCtx.Email)
	assert.True(t, userCtx.HasRole(auth.RoleAdmin))
}

func TestMiddleware_Authenticate_MissingHeader(t *testing.T) {
	m := createTestMiddleware("")

	w, _ := serve(m, httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_Authenticate_InvalidHeaderFormat(t *testing.T) {
	m := createTestMiddleware("")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	w, _ := serve(m, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTValidator_ValidateToken(t *testing.T) {
	tenantID := uuid.New()
	validator := auth.NewJWTValidator(&config.AuthConfig{JWTSecret: testSecret, Issuer: "lead-identity"})

	t.Run("valid token", func(t *testing.T) {
		userCtx, err := validator.ValidateToken(signToken(t, validClaims(tenantID)))
		require.NoError(t, err)
		assert.Equal(t, tenantID, userCtx.TenantID)
		assert.Equal(t, "Agent Smith", userCtx.DisplayName)
		assert.NotEqual(t, uuid.Nil, userCtx.UserID)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := validClaims(tenantID)
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := validator.ValidateToken(signToken(t, claims))
		assert.ErrorIs(t, err, auth.ErrExpiredToken)
	})

	t.Run("missing tenant", func(t *testing.T) {
		claims := validClaims(tenantID)
		delete(claims, "tenant_id")
		_, err := validator.ValidateToken(signToken(t, claims))
		assert.ErrorIs(t, err, auth.ErrMissingTenant)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := validClaims(tenantID)
		claims["iss"] = "someone-else"
		_, err := validator.ValidateToken(signToken(t, claims))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(tenantID))
		signed, err := token.SignedString([]byte("other-secret"))
		require.NoError(t, err)
		_, err = validator.ValidateToken(signed)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("user id derived from email", func(t *testing.T) {
		claims := validClaims(tenantID)
		delete(claims, "sub")
		userCtx, err := validator.ValidateToken(signToken(t, claims))
		require.NoError(t, err)
		assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceOID, []byte("agent@example.com")), userCtx.UserID)
	})
}

func TestMiddleware_RequireAdmin(t *testing.T) {
	m := createTestMiddleware("")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		user     *auth.UserContext
		expected int
	}{
		{name: "no user", user: nil, expected: http.StatusForbidden},
		{name: "agent", user: &auth.UserContext{Roles: []string{auth.RoleAgent}}, expected: http.StatusForbidden},
		{name: "admin", user: &auth.UserContext{Roles: []string{auth.RoleAdmin}}, expected: http.StatusOK},
		{name: "api service", user: &auth.UserContext{Roles: []string{auth.RoleAPIService}}, expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/import", nil)
			if tt.user != nil {
				req = req.WithContext(auth.WithUserContext(req.Context(), tt.user))
			}
			w := httptest.NewRecorder()
			m.RequireAdmin(next).ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestTenantFromContext(t *testing.T) {
	tenantID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := auth.TenantFromContext(req.Context())
	assert.False(t, ok)

	ctx := auth.WithUserContext(req.Context(), &auth.UserContext{TenantID: tenantID})
	got, ok := auth.TenantFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, tenantID, got)
}
