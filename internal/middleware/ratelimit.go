package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// Throttle creates transport-level rate limiting middleware keyed by
// company, falling back to client IP for unauthenticated paths. Domain
// limits (AI responses, customer messages) live in the limiter service;
// this only sheds raw request floods.
func Throttle(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			companyID := GetCompanyID(r.Context())
			if companyID != "" {
				return "company:" + companyID, nil
			}
			return "ip:" + r.RemoteAddr, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after":60}`))
		}),
	)
}
