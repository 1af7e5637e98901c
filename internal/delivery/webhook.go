package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 1024

// Webhook POSTs the JSON Message to a fixed URL.
type Webhook struct {
	url     string
	headers map[string]string
	bearer  string
	client  *http.Client
}

func NewWebhook(cfg config.WebhookConfig, client *http.Client) (*Webhook, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: u.String(), headers: cfg.Headers, bearer: cfg.BearerToken, client: client}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, env dispatch.Envelope) error {
	m, body, err := encode(env)
	if err != nil {
		return dispatch.NewDeliveryError(w.Name(), dispatch.ReasonRejected, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return dispatch.NewDeliveryError(w.Name(), dispatch.ReasonRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.ID)
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	if w.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+w.bearer)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &dispatch.DeliveryError{
		Provider: w.Name(),
		Kind:     dispatch.ReasonForStatus(resp.StatusCode),
		Status:   resp.StatusCode,
		Err:      errors.New(msg),
	}
}

func (w *Webhook) Close(context.Context) error {
	w.client.CloseIdleConnections()
	return nil
}
