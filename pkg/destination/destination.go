// Package destination implements the Destination Manager: validated,
// tenant-owned delivery targets with per-type typed configuration.
package destination

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the supported destination kinds.
type Type string

const (
	TypeWebhook    Type = "webhook"
	TypeEmail      Type = "email"
	TypeStorage    Type = "storage"
	TypeSlack      Type = "slack"
	TypeMattermost Type = "mattermost"
	TypeTwilioVoice Type = "twilio_voice"
	TypeTwilioSMS  Type = "twilio_sms"
)

// ValidTypes lists every destination type Validate accepts.
var ValidTypes = []Type{
	TypeWebhook, TypeEmail, TypeStorage, TypeSlack, TypeMattermost, TypeTwilioVoice, TypeTwilioSMS,
}

func (t Type) valid() bool {
	for _, vt := range ValidTypes {
		if vt == t {
			return true
		}
	}
	return false
}

// WebhookConfig is the typed config for TypeWebhook.
type WebhookConfig struct {
	URL         string            `json:"url" validate:"required,url"`
	Method      string            `json:"method" validate:"required,oneof=POST PUT"`
	Headers     map[string]string `json:"headers,omitempty"`
	TimeoutMS   int               `json:"timeoutMs" validate:"required,gt=0"`
	MaxRetries  int               `json:"maxRetries" validate:"gte=0"`
}

// EmailConfig is the typed config for TypeEmail.
type EmailConfig struct {
	To      []string `json:"to" validate:"required,min=1,dive,email"`
	Subject string   `json:"subject" validate:"required"`
}

// StorageConfig is the typed config for TypeStorage.
type StorageConfig struct {
	Bucket string `json:"bucket" validate:"required"`
	Prefix string `json:"prefix,omitempty"`
}

// SlackConfig is the typed config for TypeSlack.
type SlackConfig struct {
	Channel string `json:"channel" validate:"required"`
}

// MattermostConfig is the typed config for TypeMattermost.
type MattermostConfig struct {
	ChannelID string `json:"channelId" validate:"required"`
}

// TwilioVoiceConfig is the typed config for TypeTwilioVoice.
type TwilioVoiceConfig struct {
	ToNumber string `json:"toNumber" validate:"required,e164"`
}

// TwilioSMSConfig is the typed config for TypeTwilioSMS.
type TwilioSMSConfig struct {
	ToNumber string `json:"toNumber" validate:"required,e164"`
}

// Destination is a tenant-owned delivery target.
type Destination struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Type           Type
	Label          string
	Description    *string
	Config         json.RawMessage
	Default        bool
	Disabled       bool
	DisabledAt     *time.Time
	DisabledBy     *string
	CountUsage     int64
	LastUsedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateInput is the validated input to Create.
type CreateInput struct {
	OrganizationID uuid.UUID       `json:"organizationId" validate:"required"`
	Type           Type            `json:"type" validate:"required"`
	Label          string          `json:"label" validate:"required,min=1"`
	Description    *string         `json:"description,omitempty"`
	Config         json.RawMessage `json:"config" validate:"required"`
	Default        bool            `json:"default"`
}

// UpdatePatch holds the patchable fields of a destination. id, organizationId,
// and type are immutable and never accepted here.
type UpdatePatch struct {
	Label       *string         `json:"label,omitempty"`
	Description *string         `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Default     *bool           `json:"default,omitempty"`
}

// ListFilters narrows List results. OrganizationID is always applied.
type ListFilters struct {
	OrganizationID uuid.UUID
	Type           *Type
	Disabled       *bool
	Limit          int
	Offset         int
}

// ValidationResult is the result of Validate.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// TestConnectionResult is the result of TestConnection.
type TestConnectionResult struct {
	Success      bool
	ResponseTime time.Duration
	Error        string
}
