// Package client is a small HTTP client for the pdsa-server REST API, used by
// pdsactl and the terminal dashboard.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

// DefaultBaseURL is the API address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Client talks to one pdsa-server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A zero timeout means no timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var out types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready calls GET /ready.
func (c *Client) Ready(ctx context.Context) (*types.ReadyResponse, error) {
	var out types.ReadyResponse
	if err := c.do(ctx, http.MethodGet, "/ready", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Train calls POST /train. An empty datasetPath uses the server default.
func (c *Client) Train(ctx context.Context, datasetPath string) (*types.TrainResponse, error) {
	var out types.TrainResponse
	if err := c.do(ctx, http.MethodPost, withDataset("/train", datasetPath), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Predict calls POST /predict.
func (c *Client) Predict(ctx context.Context, records []types.LogRecord) (*types.PredictResponse, error) {
	var out types.PredictResponse
	if err := c.do(ctx, http.MethodPost, "/predict", types.PredictRequest{Records: records}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts calls GET /alerts. An empty datasetPath uses the server default.
func (c *Client) Alerts(ctx context.Context, datasetPath string) (*types.AlertsResponse, error) {
	var out types.AlertsResponse
	if err := c.do(ctx, http.MethodGet, withDataset("/alerts", datasetPath), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func withDataset(path, dataset string) string {
	if dataset == "" {
		return path
	}
	return path + "?" + url.Values{"dataset_path": {dataset}}.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s: %w", c.baseURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
		var er types.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Detail != "" {
			apiErr.Code, apiErr.Detail = er.Code, er.Detail
			if er.RequestID != "" {
				apiErr.RequestID = er.RequestID
			}
		} else {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
