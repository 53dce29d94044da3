package middleware

import (
	"net/http"
	"strconv"
	"time"

	pkghttp "github.com/airwaves/stationcms/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultPasswordRateLimit returns the per-IP limit for the public password
// routes (10 requests per minute)
func DefaultPasswordRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// RateLimitByIP limits requests per client IP. The key comes from
// pkghttp.ExtractClientIP, so forwarding headers only count behind a trusted
// proxy.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
			if err != nil || retryAfter <= 0 {
				retryAfter = 60
			}
			pkghttp.WriteRateLimited(w, "Too many requests. Please try again later.", retryAfter)
		}),
	)
}
