package destination

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/wisbric/relay/pkg/slack"
)

// slackPayload is the shape a delivery payload is expected to carry when
// routed to a slack destination. Unknown fields are ignored; a payload with
// none of these still delivers, as a "Delivery notification" post at "info"
// severity with an empty description.
type slackPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// SlackAdapter delivers payloads as Slack channel notifications, reusing the
// Block Kit notifier built for the legacy alert-to-Slack integration.
type SlackAdapter struct {
	notifier *slack.Notifier
	logger   *slog.Logger
}

// NewSlackAdapter creates a SlackAdapter from an already-constructed
// notifier. If the notifier has no bot token, Send reports a non-retryable
// configuration error instead of silently dropping the delivery.
func NewSlackAdapter(notifier *slack.Notifier, logger *slog.Logger) *SlackAdapter {
	return &SlackAdapter{notifier: notifier, logger: logger}
}

func (a *SlackAdapter) Send(ctx context.Context, dest Destination, payload PayloadSnapshot) (SendResult, error) {
	var cfg SlackConfig
	if err := json.Unmarshal(dest.Config, &cfg); err != nil {
		return SendResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "invalid slack config: " + err.Error()}}, nil
	}
	if a.notifier == nil || !a.notifier.IsEnabled() {
		return SendResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "slack destination adapter is not configured"}}, nil
	}

	var p slackPayload
	_ = json.Unmarshal(payload.Data, &p)
	if p.Title == "" {
		p.Title = "Delivery notification"
	}
	if p.Severity == "" {
		p.Severity = "info"
	}

	start := time.Now()
	_, ts, err := a.notifier.PostAlert(ctx, slack.AlertInfo{
		AlertID:     payload.IdempotencyKey,
		Title:       p.Title,
		Severity:    p.Severity,
		Description: p.Description,
	})
	latency := time.Since(start)
	if err != nil {
		return SendResult{LatencyMS: latency.Milliseconds(), Err: &SendError{Class: ErrorClassRetryable, Message: err.Error()}}, nil
	}
	return SendResult{Success: true, CrossSystemReference: ts, LatencyMS: latency.Milliseconds()}, nil
}

func (a *SlackAdapter) Probe(ctx context.Context, dest Destination) (ProbeResult, error) {
	if a.notifier == nil || !a.notifier.IsEnabled() {
		return ProbeResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "slack destination adapter is not configured"}}, nil
	}
	return ProbeResult{Success: true}, nil
}
