package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/straye-as/lead-engine/internal/domain"
	"go.uber.org/zap"
)

// hstsMaxAge is one year in seconds
const hstsMaxAge = "max-age=31536000; includeSubDomains"

// SecurityHeaders returns a middleware that adds security headers to JSON API responses.
// HSTS is only sent outside development.
func SecurityHeaders(environment string) func(http.Handler) http.Handler {
	hsts := environment != "development" && environment != "local" && environment != ""
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			w.Header().Set("Referrer-Policy", "no-referrer")

			if hsts {
				w.Header().Set("Strict-Transport-Security", hstsMaxAge)
			}

			// Remove headers that leak server information
			w.Header().Del("X-Powered-By")
			w.Header().Del("Server")

			next.ServeHTTP(w, r)
		})
	}
}

// Recovery turns a handler panic into a logged 500 response
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil || rec == http.ErrAbortHandler {
					if rec != nil {
						panic(rec)
					}
					return
				}
				logger.Error("panic while handling request",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"type":"` + domain.ErrorTypeInternal + `","title":"Internal Server Error","status":500}`))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
