// Package handlers provides built-in handlerregistry.Handler
// implementations. webhook.go is grounded on
// internal/providers.CerebrasProvider's net/http client usage in the
// teacher repo, generalized from "call an LLM completions endpoint" to
// "POST an alarm payload to a configured URL".
package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/durablealarmd/internal/handlerregistry"
	"github.com/hazyhaar/durablealarmd/internal/storage"
)

// Webhook POSTs the alarm's JSON payload to a configured URL.
type Webhook struct {
	id     string
	url    string
	client *http.Client
}

// NewWebhook builds a Webhook handler from its config entry. The target
// URL comes from cfg.Options["url"].
func NewWebhook(cfg handlerregistry.HandlerConfig) handlerregistry.Handler {
	return &Webhook{
		id:     cfg.ID,
		url:    cfg.Options["url"],
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ID satisfies handlerregistry.Handler.
func (w *Webhook) ID() string { return w.id }

// IsAvailable reports whether a target URL is configured.
func (w *Webhook) IsAvailable() bool { return w.url != "" }

// Handle POSTs the alarm payload as the request body.
func (w *Webhook) Handle(ctx context.Context, a storage.Alarm) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(a.Payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alarm-Id", a.ID)
	req.Header.Set("X-Alarm-Type", a.Type)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %q: %w", w.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %q responded %d", w.url, resp.StatusCode)
	}
	return nil
}
