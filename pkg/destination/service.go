package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// strictUnmarshal decodes config into dst, rejecting unknown keys so a
// misspelled or stale config field surfaces as a validation error instead
// of being silently ignored.
func strictUnmarshal(config json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(config))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Service implements destination validation, CRUD, connectivity testing,
// and default-destination resolution.
type Service struct {
	store    *Store
	adapters *Registry
	logger   *slog.Logger
}

// NewService creates a destination Service.
func NewService(store *Store, adapters *Registry, logger *slog.Logger) *Service {
	return &Service{store: store, adapters: adapters, logger: logger}
}

// Validate checks a destination's type/config for structural and per-type
// validity without touching the database.
func (s *Service) Validate(t Type, config json.RawMessage) ValidationResult {
	var errs []string

	if !t.valid() {
		return ValidationResult{IsValid: false, Errors: []string{fmt.Sprintf("unknown destination type %q", t)}}
	}

	switch t {
	case TypeWebhook:
		var cfg WebhookConfig
		if err := strictUnmarshal(config, &cfg); err != nil {
			errs = append(errs, "invalid webhook config: "+err.Error())
			break
		}
		u, err := url.Parse(cfg.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, "webhook url must be a valid http(s) URL")
		}
		if cfg.Method != "POST" && cfg.Method != "PUT" {
			errs = append(errs, "webhook method must be POST or PUT")
		}
		if cfg.TimeoutMS <= 0 {
			errs = append(errs, "webhook timeout must be > 0")
		}
		if cfg.MaxRetries < 0 {
			errs = append(errs, "webhook maxRetries must be >= 0")
		}
	case TypeEmail:
		var cfg EmailConfig
		if err := strictUnmarshal(config, &cfg); err != nil {
			errs = append(errs, "invalid email config: "+err.Error())
		} else if len(cfg.To) == 0 {
			errs = append(errs, "email config requires at least one recipient")
		}
	case TypeStorage:
		var cfg StorageConfig
		if err := strictUnmarshal(config, &cfg); err != nil {
			errs = append(errs, "invalid storage config: "+err.Error())
		} else if cfg.Bucket == "" {
			errs = append(errs, "storage config requires a bucket")
		}
	case TypeSlack:
		var cfg SlackConfig
		if err := strictUnmarshal(config, &cfg); err != nil {
			errs = append(errs, "invalid slack config: "+err.Error())
		} else if cfg.Channel == "" {
			errs = append(errs, "slack config requires a channel")
		}
	case TypeMattermost:
		var cfg MattermostConfig
		if err := strictUnmarshal(config, &cfg); err != nil {
			errs = append(errs, "invalid mattermost config: "+err.Error())
		} else if cfg.ChannelID == "" {
			errs = append(errs, "mattermost config requires a channelId")
		}
	case TypeTwilioVoice, TypeTwilioSMS:
		var cfg TwilioVoiceConfig
		if err := strictUnmarshal(config, &cfg); err != nil {
			errs = append(errs, "invalid twilio config: "+err.Error())
		} else if cfg.ToNumber == "" {
			errs = append(errs, "twilio config requires a toNumber")
		}
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// Create validates and persists a new destination.
func (s *Service) Create(ctx context.Context, in CreateInput) (Destination, error) {
	result := s.Validate(in.Type, in.Config)
	if !result.IsValid {
		return Destination{}, fmt.Errorf("invalid destination config: %v", result.Errors)
	}
	return s.store.Create(ctx, in)
}

// Update re-validates a patched config (if supplied) and persists the patch.
// id, organizationId, and type are immutable and cannot be changed.
func (s *Service) Update(ctx context.Context, organizationID, id uuid.UUID, patch UpdatePatch) (Destination, error) {
	if patch.Config != nil {
		existing, err := s.store.Get(ctx, organizationID, id)
		if err != nil {
			return Destination{}, err
		}
		result := s.Validate(existing.Type, patch.Config)
		if !result.IsValid {
			return Destination{}, fmt.Errorf("invalid destination config: %v", result.Errors)
		}
	}
	return s.store.Update(ctx, organizationID, id, patch)
}

// Get fetches a destination by id, scoped to organizationId.
func (s *Service) Get(ctx context.Context, organizationID, id uuid.UUID) (Destination, error) {
	return s.store.Get(ctx, organizationID, id)
}

// List returns destinations matching the given filters.
func (s *Service) List(ctx context.Context, f ListFilters) ([]Destination, error) {
	return s.store.List(ctx, f)
}

// GetDefaults returns the destinations marked default for a tenant. Used
// when a DeliveryRequest specifies destinations = "default".
func (s *Service) GetDefaults(ctx context.Context, organizationID uuid.UUID) ([]Destination, error) {
	return s.store.GetDefaults(ctx, organizationID)
}

// SetDisabled soft-deletes or restores a destination.
func (s *Service) SetDisabled(ctx context.Context, organizationID, id uuid.UUID, disabled bool, by string) (Destination, error) {
	return s.store.SetDisabled(ctx, organizationID, id, disabled, by)
}

// Delete permanently removes a destination.
func (s *Service) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	return s.store.Delete(ctx, organizationID, id)
}

// IncrementUsage bumps countUsage and lastUsedAt for a destination.
func (s *Service) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	return s.store.IncrementUsage(ctx, id, time.Now())
}

// TestConnection invokes the adapter's probe path. Success does not imply
// delivery; it only indicates the destination is reachable and configured
// plausibly.
func (s *Service) TestConnection(ctx context.Context, dest Destination) TestConnectionResult {
	adapter, ok := s.adapters.Resolve(dest.Type)
	if !ok {
		return TestConnectionResult{Success: false, Error: fmt.Sprintf("no adapter registered for type %q", dest.Type)}
	}

	start := time.Now()
	result, err := adapter.Probe(ctx, dest)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Warn("destination probe errored", "destination_id", dest.ID, "error", err)
		return TestConnectionResult{Success: false, ResponseTime: elapsed, Error: err.Error()}
	}
	if result.Err != nil {
		return TestConnectionResult{Success: false, ResponseTime: elapsed, Error: result.Err.Message}
	}
	return TestConnectionResult{Success: result.Success, ResponseTime: elapsed}
}
