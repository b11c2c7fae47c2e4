package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

// SeverityEmoji returns the emoji prefix for a given severity level.
func SeverityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "🔴"
	case "major":
		return "🟠"
	case "warning":
		return "🟡"
	case "info":
		return "🔵"
	default:
		return "⚪"
	}
}

// AlertNotificationBlocks builds Slack Block Kit blocks for a delivery
// notification.
func AlertNotificationBlocks(alert AlertInfo) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType,
			fmt.Sprintf("%s %s: %s", SeverityEmoji(alert.Severity), severity(alert.Severity), alert.Title), true, false),
	)

	blocks := []goslack.Block{header}

	if alert.Description != "" {
		descSection := goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(alert.Description, 500), false, false),
			nil, nil,
		)
		blocks = append(blocks, descSection)
	}

	return blocks
}

// severity returns a human-readable severity label.
func severity(s string) string {
	switch s {
	case "critical":
		return "CRITICAL"
	case "major":
		return "MAJOR"
	case "warning":
		return "WARNING"
	case "info":
		return "INFO"
	default:
		return s
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
