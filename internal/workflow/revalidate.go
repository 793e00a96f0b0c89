package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stwalsh4118/peritaje/internal/logger"
)

// ResultsPath is the web client page that renders an appraisal.
func ResultsPath(id string) string {
	return "/resultados/" + id
}

// Revalidator asks the web client to drop its cached copy of a results page.
// A Revalidator without URL does nothing.
type Revalidator struct {
	url    string
	secret string
	client *http.Client
	log    *logger.Logger
}

// NewRevalidator creates a Revalidator.
func NewRevalidator(url, secret string, log *logger.Logger) *Revalidator {
	return &Revalidator{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log.WithComponent("workflow.revalidate"),
	}
}

// Revalidate posts {"path": path} to the configured hook.
func (r *Revalidator) Revalidate(ctx context.Context, path string) error {
	if r == nil || r.url == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build revalidate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secret != "" {
		req.Header.Set("X-Revalidate-Secret", r.secret)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revalidate %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("revalidate %s returned %d", path, resp.StatusCode)
	}

	r.log.Debug("Revalidated path", map[string]interface{}{"path": path})
	return nil
}
