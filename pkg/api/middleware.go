package api

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/prospectly/server/pkg/types"
)

type contextKey string

const tenantKey contextKey = "tenant"

// requireTenant scopes every API call to the tenant named in X-Tenant-ID.
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get("X-Tenant-ID")
		if tenant == "" {
			writeError(w, types.NewError(types.ErrInvalidInput, "X-Tenant-ID header is required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey, tenant)))
	})
}

func tenantFrom(r *http.Request) string {
	tenant, _ := r.Context().Value(tenantKey).(string)
	return tenant
}

// throttle applies a global inbound rate limit: max requests per window,
// with bursts up to the window allowance.
func (s *Server) throttle(window time.Duration, max int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(float64(max)/window.Seconds()), max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, types.NewError(types.ErrRateLimit, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
