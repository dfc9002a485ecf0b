package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"webbroker/internal/ratelimit"
)

// RateLimitMiddleware creates a middleware that enforces per-profile rate limits
func RateLimitMiddleware(limiter *ratelimit.Limiter, requestsPerHour int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profileID := getProfileID(r)

			if profileID == "" {
				// No profile id, skip rate limiting
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(profileID) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)

				json.NewEncoder(w).Encode(map[string]string{
					"error": "Rate limit exceeded for this profile.",
				})
				return
			}

			tokens := limiter.Tokens(profileID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(tokens)))

			next.ServeHTTP(w, r)
		})
	}
}

// getProfileID extracts the profile ID from the request
func getProfileID(r *http.Request) string {
	if profileID := r.URL.Query().Get("profileId"); profileID != "" {
		return profileID
	}
	return r.Header.Get("X-Profile-ID")
}
