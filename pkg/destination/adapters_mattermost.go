package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wisbric/relay/pkg/mattermost"
)

// MattermostAdapter delivers payloads as Mattermost channel posts, reusing
// the REST client built for the legacy alert-to-Mattermost integration.
type MattermostAdapter struct {
	client *mattermost.Client
}

// NewMattermostAdapter creates a MattermostAdapter.
func NewMattermostAdapter(client *mattermost.Client) *MattermostAdapter {
	return &MattermostAdapter{client: client}
}

func (a *MattermostAdapter) Send(ctx context.Context, dest Destination, payload PayloadSnapshot) (SendResult, error) {
	var cfg MattermostConfig
	if err := json.Unmarshal(dest.Config, &cfg); err != nil {
		return SendResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "invalid mattermost config: " + err.Error()}}, nil
	}
	if a.client == nil || !a.client.IsEnabled() {
		return SendResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "mattermost destination adapter is not configured"}}, nil
	}

	var p slackPayload
	_ = json.Unmarshal(payload.Data, &p)
	if p.Title == "" {
		p.Title = "Delivery notification"
	}
	message := fmt.Sprintf("**%s**\n%s", p.Title, p.Description)

	start := time.Now()
	post, err := a.client.CreatePost(ctx, mattermost.Post{
		ChannelID: cfg.ChannelID,
		Message:   message,
		Props:     map[string]any{"idempotency_key": payload.IdempotencyKey},
	})
	latency := time.Since(start)
	if err != nil {
		return SendResult{LatencyMS: latency.Milliseconds(), Err: &SendError{Class: ErrorClassRetryable, Message: err.Error()}}, nil
	}
	return SendResult{Success: true, CrossSystemReference: post.ID, LatencyMS: latency.Milliseconds()}, nil
}

func (a *MattermostAdapter) Probe(ctx context.Context, dest Destination) (ProbeResult, error) {
	if a.client == nil || !a.client.IsEnabled() {
		return ProbeResult{Err: &SendError{Class: ErrorClassNonRetryable, Message: "mattermost destination adapter is not configured"}}, nil
	}
	start := time.Now()
	if err := a.client.Ping(ctx); err != nil {
		return ProbeResult{LatencyMS: time.Since(start).Milliseconds(), Err: &SendError{Class: ErrorClassRetryable, Message: err.Error()}}, nil
	}
	return ProbeResult{Success: true, LatencyMS: time.Since(start).Milliseconds()}, nil
}
