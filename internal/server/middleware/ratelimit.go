package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// tooManyRequests replaces httprate's plain-text 429 with the JSON error
// envelope the rest of the API speaks.
func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeAuthError(w, http.StatusTooManyRequests, "Rate limit exceeded, slow down")
}

// RateLimit limits requests per client IP to the given number per minute
// using a sliding window. Applied to the login and registration endpoints
// to slow down credential stuffing.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// RateLimitByHeader limits requests per distinct value of headerName, so
// each API key gets its own budget on the rotation and revocation
// endpoints. Requests without the header fall back to a per-IP bucket
// instead of all sharing the empty-string key.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(headerName); v != "" {
				return v, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(tooManyRequests),
	)
}
