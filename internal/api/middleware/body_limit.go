package middleware

import "net/http"

// DefaultMaxBodyBytes is used when no explicit limit is configured (10MB).
const DefaultMaxBodyBytes = 10 * 1024 * 1024

// MaxBodySize returns middleware that limits request bodies to maxBytes.
// Reads past the limit fail, and handlers decoding JSON report them as
// invalid requests.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
