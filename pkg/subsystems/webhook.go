package subsystems

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const webhookDefaultTimeout = 30 * time.Second

var (
	// ErrUnknownCommand is returned when a handler receives a command it
	// does not implement.
	ErrUnknownCommand = errors.New("unknown subsystem command")
	// ErrMessageMissing is returned when a communications action carries no
	// message text.
	ErrMessageMissing = errors.New("missing 'message' parameter")
	// ErrWebhookURLMissing is returned when a webhook action carries no URL.
	ErrWebhookURLMissing = errors.New("missing or invalid 'url' parameter")
	// ErrWebhookServerError is returned when the remote endpoint keeps
	// answering 5xx after all retry attempts.
	ErrWebhookServerError = errors.New("server error during webhook delivery")
)

// Webhook bridges actions to external subsystems over HTTP: the action
// parameters are serialized as JSON and POSTed to the configured URL. A 2xx
// response means the external subsystem accepted the command.
type Webhook struct {
	client  *http.Client
	retries int
	delay   time.Duration
}

// NewWebhook creates a webhook handler with its own HTTP client. Attempts
// below 1 are clamped to 1.
func NewWebhook(attempts int, delay time.Duration) *Webhook {
	if attempts < 1 {
		attempts = 1
	}

	return &Webhook{
		client:  &http.Client{Timeout: webhookDefaultTimeout},
		retries: attempts,
		delay:   delay,
	}
}

func (w *Webhook) Execute(ctx context.Context, params map[string]any, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("subsystem", "webhook")

	url, ok := params["url"].(string)
	if !ok || url == "" {
		return nil, ErrWebhookURLMissing
	}

	payload := make(map[string]any, len(params))
	for key, value := range params {
		if key == "url" || key == "headers" {
			continue
		}

		payload[key] = value
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= w.retries; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, fmt.Sprintf("Webhook retry attempt %d/%d", attempt, w.retries))

			select {
			case <-time.After(w.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		setHeaders(req, params)

		resp, err = w.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook request failed: %w", err)

			continue
		}

		if resp.StatusCode >= 500 && attempt < w.retries {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d, retrying: %w", resp.StatusCode, ErrWebhookServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all webhook attempts failed, last error: %w", lastErr)
	}

	return w.processResponse(ctx, resp, logger)
}

func setHeaders(req *http.Request, params map[string]any) {
	headers, ok := params["headers"].(map[string]any)
	if !ok {
		return
	}

	for key, value := range headers {
		if str, ok := value.(string); ok {
			req.Header.Set(key, str)
		}
	}
}

func (w *Webhook) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook rejected with status %d: %w", resp.StatusCode, ErrWebhookServerError)
	}

	logger.InfoContext(ctx, "Webhook delivered", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}
