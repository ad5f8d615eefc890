package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/auth"
	"github.com/straye-as/lead-engine/internal/config"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createTestRateLimiter(cfg *config.RateLimitConfig) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg, zap.NewNop())
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := createTestRateLimiter(&config.RateLimitConfig{Enabled: false, RequestsPerMinute: 5})
	handlerCalled := 0
	handler := rl.LimitByIP(okHandler(&handlerCalled))

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 50, handlerCalled)
}

func TestRateLimiter_Whitelists(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.RateLimitConfig
		path   string
		remote string
	}{
		{
			name:   "ip",
			cfg:    config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, WhitelistIPs: []string{"127.0.0.1"}},
			path:   "/test",
			remote: "127.0.0.1:12345",
		},
		{
			name:   "exact path",
			cfg:    config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, WhitelistPaths: []string{"/health"}},
			path:   "/health",
			remote: "192.168.1.1:12345",
		},
		{
			name:   "path prefix",
			cfg:    config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, WhitelistPaths: []string{"/health/*"}},
			path:   "/health/ready",
			remote: "192.168.1.1:12345",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := createTestRateLimiter(&tt.cfg)
			handlerCalled := 0
			handler := rl.LimitByIP(okHandler(&handlerCalled))

			for i := 0; i < 20; i++ {
				req := httptest.NewRequest(http.MethodGet, tt.path, nil)
				req.RemoteAddr = tt.remote
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)
				assert.Equal(t, http.StatusOK, w.Code)
			}
			assert.Equal(t, 20, handlerCalled)
		})
	}
}

func TestRateLimiter_ExceedsLimit(t *testing.T) {
	rl := createTestRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 3})
	handlerCalled := 0
	handler := rl.LimitByIP(okHandler(&handlerCalled))

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
		req.RemoteAddr = "10.0.0.7:4000"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	assert.Equal(t, 3, handlerCalled)
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &apiErr))
	assert.Equal(t, "rate_limited", apiErr.Type)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
}

func TestRateLimiter_ForwardedForIsKeyed(t *testing.T) {
	rl := createTestRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1})
	handlerCalled := 0
	handler := rl.LimitByIP(okHandler(&handlerCalled))

	for _, xff := range []string{"203.0.113.1", "203.0.113.2, 10.0.0.1", "203.0.113.3"} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, xff)
	}
	assert.Equal(t, 3, handlerCalled)

	// Same forwarded client behind the same proxy shares one budget
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 3, handlerCalled)
}

func TestRateLimiter_AuthenticatedCallersHaveTheirOwnBudget(t *testing.T) {
	rl := createTestRateLimiter(&config.RateLimitConfig{
		Enabled:               true,
		RequestsPerMinute:     1,
		RequestsPerMinuteAuth: 2,
	})
	handlerCalled := 0
	handler := rl.Limit(okHandler(&handlerCalled))

	tenant := uuid.New()
	callers := []*auth.UserContext{
		{UserID: uuid.New(), TenantID: tenant},
		{UserID: uuid.New(), TenantID: tenant},
	}

	codes := map[int]int{}
	for _, caller := range callers {
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
			req.RemoteAddr = "10.0.0.9:1234"
			req = req.WithContext(auth.WithUserContext(req.Context(), caller))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			codes[w.Code]++
		}
	}

	assert.Equal(t, 4, handlerCalled)
	assert.Equal(t, 4, codes[http.StatusOK])
	assert.Equal(t, 2, codes[http.StatusTooManyRequests])
}
