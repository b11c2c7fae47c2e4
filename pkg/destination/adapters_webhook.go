package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookAdapter delivers payloads over plain HTTP(S), the default
// destination type. It has no external dependency beyond net/http: the
// endpoint is caller-supplied and there is no vendor SDK to wrap.
type WebhookAdapter struct {
	client *http.Client
}

// NewWebhookAdapter creates a WebhookAdapter.
func NewWebhookAdapter() *WebhookAdapter {
	return &WebhookAdapter{client: &http.Client{}}
}

func (a *WebhookAdapter) Send(ctx context.Context, dest Destination, payload PayloadSnapshot) (SendResult, error) {
	var cfg WebhookConfig
	if err := json.Unmarshal(dest.Config, &cfg); err != nil {
		return SendResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "invalid webhook config: " + err.Error()}}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "marshalling payload: " + err.Error()}}, nil
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, cfg.Method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return SendResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "building request: " + err.Error()}}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", payload.IdempotencyKey)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return SendResult{LatencyMS: latency.Milliseconds(), Err: classifyTransportError(err)}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return SendResult{Success: true, LatencyMS: latency.Milliseconds()}, nil
	}
	return SendResult{LatencyMS: latency.Milliseconds(), Err: classifyStatus(resp.StatusCode)}, nil
}

func (a *WebhookAdapter) Probe(ctx context.Context, dest Destination) (ProbeResult, error) {
	var cfg WebhookConfig
	if err := json.Unmarshal(dest.Config, &cfg); err != nil {
		return ProbeResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "invalid webhook config: " + err.Error()}}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, cfg.URL, nil)
	if err != nil {
		return ProbeResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: err.Error()}}, nil
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return ProbeResult{LatencyMS: latency.Milliseconds(), Err: classifyTransportError(err)}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return ProbeResult{LatencyMS: latency.Milliseconds(), Err: classifyStatus(resp.StatusCode)}, nil
	}
	return ProbeResult{Success: true, LatencyMS: latency.Milliseconds()}, nil
}

func classifyTransportError(err error) *SendError {
	return &SendError{Class: ErrorClassRetryable, Message: fmt.Sprintf("transport error: %v", err)}
}

func classifyStatus(status int) *SendError {
	switch {
	case status == http.StatusTooManyRequests:
		return &SendError{Class: ErrorClassRateLimited, Message: "rate limited", RetryAfter: 30 * time.Second}
	case status == http.StatusRequestTimeout || status == http.StatusTooEarly:
		return &SendError{Class: ErrorClassRetryable, Message: fmt.Sprintf("client error: status %d", status)}
	case status >= 500:
		return &SendError{Class: ErrorClassRetryable, Message: fmt.Sprintf("server error: status %d", status)}
	case status >= 400:
		return &SendError{Class: ErrorClassNonRetryable, Message: fmt.Sprintf("client error: status %d", status)}
	default:
		return &SendError{Class: ErrorClassRetryable, Message: fmt.Sprintf("unexpected status %d", status)}
	}
}
