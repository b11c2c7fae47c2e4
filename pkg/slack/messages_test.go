package slack

import (
	"testing"
)

func TestSeverityEmoji(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"critical", "🔴"},
		{"major", "🟠"},
		{"warning", "🟡"},
		{"info", "🔵"},
		{"unknown", "⚪"},
	}

	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			got := SeverityEmoji(tt.severity)
			if got != tt.want {
				t.Errorf("SeverityEmoji(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is a long string", 10, "this is..."},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := truncate(tt.input, tt.max)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestAlertNotificationBlocks(t *testing.T) {
	alert := AlertInfo{
		AlertID:     "test-alert-id",
		Title:       "Delivery notification",
		Severity:    "critical",
		Description: "Destination has failed 6 consecutive deliveries",
	}

	blocks := AlertNotificationBlocks(alert)
	if len(blocks) != 2 {
		t.Errorf("expected 2 blocks (header + description), got %d", len(blocks))
	}
}

func TestAlertNotificationBlocks_Minimal(t *testing.T) {
	alert := AlertInfo{
		AlertID:  "test-id",
		Title:    "Test",
		Severity: "info",
	}

	blocks := AlertNotificationBlocks(alert)
	if len(blocks) != 1 {
		t.Errorf("expected 1 block (header only), got %d", len(blocks))
	}
}
