package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Webhook HTTP delivery defaults.
const (
	webhookTimeout = 10 * time.Second
)

// WebhookSink sends events as JSON POST requests to a URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a new webhook event sink.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the log line as JSON to the configured webhook URL.
func (s *WebhookSink) Send(ctx context.Context, line types.LogLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	return s.doPost(ctx, data)
}

// Observe posts the sample as JSON to the configured webhook URL.
func (s *WebhookSink) Observe(ctx context.Context, sample types.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return s.doPost(ctx, data)
}

func (s *WebhookSink) doPost(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
