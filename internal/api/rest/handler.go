// Package rest exposes the scoring pipeline as a JSON HTTP API.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pdsa/internal/logger"
	"github.com/kubilitics/kubilitics-pdsa/internal/telemetry"
	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

// Service is the pipeline behind the handlers.
type Service interface {
	Train(ctx context.Context, datasetPath string) (*types.TrainResponse, error)
	Predict(ctx context.Context, records []telemetry.Record) (*types.PredictResponse, error)
	Alerts(ctx context.Context, datasetPath string) (*types.AlertsResponse, error)
	ModelsTrained() bool
}

// Handler serves the REST API.
type Handler struct {
	svc        Service
	trainPath  string
	alertsPath string
	logger     *zap.Logger
}

// NewHandler creates a handler. trainPath and alertsPath are used when a
// request does not name a dataset.
func NewHandler(svc Service, trainPath, alertsPath string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, trainPath: trainPath, alertsPath: alertsPath, logger: logger}
}

// SetupRoutes registers every route on router and again under /api/v1.
func SetupRoutes(router *mux.Router, h *Handler) {
	register(router, h)
	register(router.PathPrefix("/api/v1").Subrouter(), h)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Not Found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method Not Allowed")
	})
}

func register(r *mux.Router, h *Handler) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/train", h.Train).Methods(http.MethodPost)
	r.HandleFunc("/predict", h.Predict).Methods(http.MethodPost)
	r.HandleFunc("/alerts", h.Alerts).Methods(http.MethodGet)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, types.HealthResponse{Status: "ok"})
}

// Ready handles GET /ready. The service is ready to take traffic whether or
// not models exist; models_trained tells callers if /train is still needed.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, types.ReadyResponse{Status: "ready", ModelsTrained: h.svc.ModelsTrained()})
}

// Train handles POST /train?dataset_path=.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	path := datasetPath(r, h.trainPath)
	resp, err := h.svc.Train(r.Context(), path)
	if err != nil {
		h.fail(w, r, "train", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// requiredFields are the keys every /predict record must carry.
var requiredFields = []string{"timestamp", "cpu", "memory", "disk_io", "net_io", "errors"}

// predictBody keeps each record raw so omitted fields can be told apart from
// zero values.
type predictBody struct {
	Records []json.RawMessage `json:"records"`
}

// Predict handles POST /predict with a {"records": [...]} body.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req predictBody
	if err := decodeJSON(r.Body, &req); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			h.fail(w, r, "predict", err)
			return
		}
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body: "+err.Error())
		return
	}
	if len(req.Records) == 0 {
		respondError(w, r, http.StatusUnprocessableEntity, ErrCodeValidationFailed, "records must contain at least one record")
		return
	}

	records, err := decodeRecords(req.Records)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body: "+err.Error())
		return
	}
	if err := checkRequired(req.Records); err != nil {
		h.fail(w, r, "predict", err)
		return
	}

	resp, err := h.svc.Predict(r.Context(), toRecords(records))
	if err != nil {
		h.fail(w, r, "predict", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Alerts handles GET /alerts?dataset_path=.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	path := datasetPath(r, h.alertsPath)
	resp, err := h.svc.Alerts(r.Context(), path)
	if err != nil {
		h.fail(w, r, "alerts", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code, detail := classify(err)
	logger.For(r.Context(), h.logger).Warn(op+" failed",
		zap.Error(err),
		zap.String("code", code),
	)
	respondError(w, r, status, code, detail)
}

func datasetPath(r *http.Request, fallback string) string {
	if p := strings.TrimSpace(r.URL.Query().Get("dataset_path")); p != "" {
		return p
	}
	return fallback
}

func decodeJSON(body io.Reader, v any) error {
	if body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func decodeRecords(raws []json.RawMessage) ([]types.LogRecord, error) {
	out := make([]types.LogRecord, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("records[%d]: %w", i, err)
		}
	}
	return out, nil
}

// checkRequired reports the first record that omits a required field. A
// null value counts as omitted.
func checkRequired(raws []json.RawMessage) error {
	for i, raw := range raws {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			return &telemetry.ValidationError{Index: i, Field: requiredFields[0], Message: "field required"}
		}
		for _, name := range requiredFields {
			v, ok := fields[name]
			if !ok || string(v) == "null" {
				return &telemetry.ValidationError{Index: i, Field: name, Message: "field required"}
			}
		}
	}
	return nil
}

func toRecords(in []types.LogRecord) []telemetry.Record {
	out := make([]telemetry.Record, len(in))
	for i, rec := range in {
		out[i] = telemetry.Record{
			Timestamp: rec.Timestamp,
			CPU:       rec.CPU,
			Memory:    rec.Memory,
			DiskIO:    rec.DiskIO,
			NetIO:     rec.NetIO,
			Errors:    rec.Errors,
		}
	}
	return out
}
