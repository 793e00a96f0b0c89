package workflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stwalsh4118/peritaje/internal/logger"
)

// StatusError is returned when the workflow endpoint answers with a non-2xx code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("workflow webhook returned %d: %s", e.StatusCode, e.Body)
}

// WebhookTrigger posts the payload as JSON to the workflow's webhook URL.
type WebhookTrigger struct {
	url    string
	client *http.Client
	log    *logger.Logger
}

// NewWebhookTrigger creates a trigger with the given request timeout.
func NewWebhookTrigger(url string, timeout time.Duration, log *logger.Logger) *WebhookTrigger {
	return &WebhookTrigger{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.WithComponent("workflow.webhook"),
	}
}

// Trigger sends the payload. Any transport error or non-2xx answer fails.
func (w *WebhookTrigger) Trigger(ctx context.Context, p Payload) error {
	body, err := EncodePayload(p)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build workflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", p.RequestID)

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call workflow webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	w.log.Info("Workflow triggered", map[string]interface{}{
		"request_id":  p.RequestID,
		"images":      len(p.Images),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}
