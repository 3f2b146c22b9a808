package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

func TestNew_Defaults(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("", 0).BaseURL())
	assert.Equal(t, "http://api:8000", New("http://api:8000/", 0).BaseURL())
}

func TestClient_Endpoints(t *testing.T) {
	var gotQuery string
	var gotBody types.PredictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "GET /health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "GET /ready":
			_, _ = w.Write([]byte(`{"status":"ready","models_trained":true}`))
		case "POST /train":
			gotQuery = r.URL.Query().Get("dataset_path")
			_, _ = w.Write([]byte(`{"status":"trained","samples":500}`))
		case "POST /predict":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			_, _ = w.Write([]byte(`{"risk_scores":[0.12],"anomaly_flags":[1]}`))
		case "GET /alerts":
			gotQuery = r.URL.Query().Get("dataset_path")
			_, _ = w.Write([]byte(`{"alerts":[{"timestamp":"t","priority":"RED","risk_score":0.9,"anomaly":true,"summary":"s","recommended_actions":["a"]}],"totals":{"GREEN":0,"YELLOW":0,"RED":1}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	ready, err := c.Ready(ctx)
	require.NoError(t, err)
	assert.True(t, ready.ModelsTrained)

	train, err := c.Train(ctx, "data/my logs.csv")
	require.NoError(t, err)
	assert.Equal(t, 500, train.Samples)
	assert.Equal(t, "data/my logs.csv", gotQuery)

	pred, err := c.Predict(ctx, []types.LogRecord{{CPU: 50, Errors: 2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.12}, pred.RiskScores)
	assert.Equal(t, []int{1}, pred.AnomalyFlags)
	require.Len(t, gotBody.Records, 1)
	assert.Equal(t, 2, gotBody.Records[0].Errors)

	alerts, err := c.Alerts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
	assert.Equal(t, 1, alerts.Totals["RED"])
	assert.Equal(t, []string{"a"}, alerts.Alerts[0].RecommendedActions)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Models not trained. Call /train first.","code":"MODELS_NOT_TRAINED","request_id":"abc"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Alerts(context.Background(), "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "MODELS_NOT_TRAINED", apiErr.Code)
	assert.Equal(t, "abc", apiErr.RequestID)
	assert.Equal(t, "server returned 400 MODELS_NOT_TRAINED: Models not trained. Call /train first.", err.Error())
}

func TestClient_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad gateway", apiErr.Detail)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request to")
}
