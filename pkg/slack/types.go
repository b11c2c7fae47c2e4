package slack

// AlertInfo holds the data needed to build a Slack delivery notification.
type AlertInfo struct {
	AlertID     string
	Title       string
	Severity    string
	Description string
}
