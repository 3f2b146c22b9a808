// Package middleware provides HTTP middleware for request ID, structured logging, and Prometheus metrics.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pdsa/internal/logger"
	"github.com/kubilitics/kubilitics-pdsa/internal/metrics"
	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

const ResponseRequestIDHeader = "X-Request-ID"

// Error codes written directly by middleware.
const (
	errCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	errCodeInternalError     = "INTERNAL_ERROR"
)

// RequestID adds a unique request ID to the context and response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(ResponseRequestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := logger.WithRequestID(r.Context(), reqID)
		w.Header().Set(ResponseRequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// responseWriter captures status code for logging.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// StructuredLog logs each request as a single structured line (request_id,
// method, path, endpoint, status, duration) and records request metrics.
// Successful requests also feed the latency histogram.
func StructuredLog(l *zap.Logger) func(http.Handler) http.Handler {
	if l == nil {
		l = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			endpoint := endpointLabel(r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", rw.status),
				zap.Duration("duration", duration),
			}
			reqLog := logger.For(r.Context(), l)
			switch {
			case rw.status >= 500:
				reqLog.Error("request failed", fields...)
			case rw.status >= 400:
				reqLog.Warn("request rejected", fields...)
			default:
				reqLog.Info("request", fields...)
			}

			metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, strconv.Itoa(rw.status)).Inc()
			if rw.status < 400 {
				metrics.RequestLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
			}
		})
	}
}

// endpointLabel normalizes the path via the route template to avoid high cardinality.
func endpointLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
			return tpl
		}
	}
	return "unmatched"
}

// Recovery turns a panic in a handler into a 500 INTERNAL_ERROR response.
func Recovery(l *zap.Logger) func(http.Handler) http.Handler {
	if l == nil {
		l = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.For(r.Context(), l).Error("panic recovered",
						zap.String("panic", fmt.Sprint(rec)),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					writeError(w, r, http.StatusInternalServerError, errCodeInternalError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Detail:    detail,
		Code:      code,
		RequestID: logger.FromContext(r.Context()),
	})
}
