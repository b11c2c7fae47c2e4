package destination

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/wisbric/relay/pkg/mattermost"
	"github.com/wisbric/relay/pkg/slack"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSlackAdapterDisabledReportsNonRetryable(t *testing.T) {
	a := NewSlackAdapter(slack.NewNotifier("", "", discardLogger()), discardLogger())
	cfg, _ := json.Marshal(SlackConfig{Channel: "#ops"})
	dest := Destination{Type: TypeSlack, Config: cfg}

	result, err := a.Send(context.Background(), dest, PayloadSnapshot{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Err == nil || result.Err.Class != ErrorClassNonRetryable {
		t.Fatalf("expected non-retryable error for disabled notifier, got %+v", result.Err)
	}
}

func TestSlackAdapterInvalidConfig(t *testing.T) {
	a := NewSlackAdapter(slack.NewNotifier("", "", discardLogger()), discardLogger())
	dest := Destination{Type: TypeSlack, Config: json.RawMessage(`not json`)}

	result, err := a.Send(context.Background(), dest, PayloadSnapshot{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Err == nil || result.Err.Class != ErrorClassNonRetryable {
		t.Fatalf("expected non-retryable config error, got %+v", result.Err)
	}
}

func TestMattermostAdapterDisabledReportsNonRetryable(t *testing.T) {
	a := NewMattermostAdapter(mattermost.NewClient("", "", discardLogger()))
	cfg, _ := json.Marshal(MattermostConfig{ChannelID: "abc123"})
	dest := Destination{Type: TypeMattermost, Config: cfg}

	result, err := a.Send(context.Background(), dest, PayloadSnapshot{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Err == nil || result.Err.Class != ErrorClassNonRetryable {
		t.Fatalf("expected non-retryable error for disabled client, got %+v", result.Err)
	}
}
