package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kubilitics/kubilitics-pdsa/internal/analytics/model"
	"github.com/kubilitics/kubilitics-pdsa/internal/logger"
	"github.com/kubilitics/kubilitics-pdsa/internal/telemetry"
	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

// Error codes for common scenarios
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeModelsNotTrained  = "MODELS_NOT_TRAINED"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// MsgModelsNotTrained is the detail returned when inference runs before training.
const MsgModelsNotTrained = "Models not trained. Call /train first."

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a structured error response carrying the request ID.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	respondJSON(w, status, types.ErrorResponse{
		Detail:    detail,
		Code:      code,
		RequestID: logger.FromContext(r.Context()),
	})
}

// classify maps a pipeline error to its HTTP status, error code and detail.
func classify(err error) (int, string, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, model.ErrModelsNotTrained):
		return http.StatusBadRequest, ErrCodeModelsNotTrained, MsgModelsNotTrained
	case errors.Is(err, telemetry.ErrInvalidRecord):
		return http.StatusUnprocessableEntity, ErrCodeValidationFailed, err.Error()
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "request body too large"
	default:
		return http.StatusBadRequest, ErrCodeInvalidRequest, err.Error()
	}
}
