package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pdsa/internal/metrics"
)

// DefaultNotifyTimeout bounds a single webhook delivery.
const DefaultNotifyTimeout = 5 * time.Second

const (
	colorRed    = "#E01E5A"
	colorYellow = "#ECB22E"
)

// Field is a short key/value pair shown in a notification.
type Field struct {
	Title string
	Value string
}

// Notification describes an alert to deliver.
type Notification struct {
	Priority Priority
	Summary  string
	Fields   []Field
}

// Notifier delivers alert notifications. Notify must not block the caller
// and must not surface delivery failures.
type Notifier interface {
	Notify(n Notification)
}

// SlackNotifier posts alerts to a Slack incoming webhook. Deliveries are
// fire-and-forget in a goroutine so they never block the calling operation.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewSlackNotifier creates a notifier for webhookURL. An empty URL yields a
// notifier that drops every notification.
func NewSlackNotifier(webhookURL string, timeout time.Duration, logger *zap.Logger) *SlackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether a webhook is configured.
func (s *SlackNotifier) Enabled() bool { return s.webhookURL != "" }

// Notify sends n asynchronously. GREEN notifications are dropped.
func (s *SlackNotifier) Notify(n Notification) {
	if !s.accepts(n.Priority) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
		defer cancel()
		_ = s.Send(ctx, n)
	}()
}

func (s *SlackNotifier) accepts(p Priority) bool {
	return s.Enabled() && (p == Red || p == Yellow)
}

// Send delivers n synchronously. Failures are logged and counted before
// being returned.
func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	if !s.accepts(n.Priority) {
		return nil
	}
	err := s.post(ctx, n)
	status := "sent"
	if err != nil {
		status = "failed"
		s.logger.Warn("slack notification failed",
			zap.String("priority", string(n.Priority)),
			zap.Error(err),
		)
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Priority), status).Inc()
	return err
}

// SlackField is one entry of an attachment's fields list.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []SlackField `json:"fields"`
}

// SlackPayload is the body posted to the incoming webhook.
type SlackPayload struct {
	Attachments []SlackAttachment `json:"attachments"`
}

// Payload builds the Slack message for n.
func Payload(n Notification) SlackPayload {
	color := colorYellow
	if n.Priority == Red {
		color = colorRed
	}
	fields := make([]SlackField, len(n.Fields))
	for i, f := range n.Fields {
		fields[i] = SlackField{Title: f.Title, Value: f.Value, Short: true}
	}
	return SlackPayload{Attachments: []SlackAttachment{{
		Color:  color,
		Title:  fmt.Sprintf("%s Alert - Predictive Downtime", n.Priority),
		Text:   n.Summary,
		Fields: fields,
	}}}
}

func (s *SlackNotifier) post(ctx context.Context, n Notification) error {
	body, err := json.Marshal(Payload(n))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PDSA-Notifier/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		// url.Error embeds the webhook URL, which is a secret.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from webhook", resp.StatusCode)
	}
	return nil
}
