package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pario-ai/querygate/pkg/models"
)

// Notifier delivers alerts to operators.
type Notifier interface {
	Notify(ctx context.Context, a models.Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a models.Alert) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, a models.Alert) error { return f(ctx, a) }

// WebhookNotifier POSTs each alert as JSON.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, a models.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
