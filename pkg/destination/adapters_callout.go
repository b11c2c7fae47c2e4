package destination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/relay/pkg/integration"
)

// CalloutAdapter delivers payloads as voice or SMS callouts through a
// integration.Caller (Twilio, or NoopCaller when no provider is configured).
type CalloutAdapter struct {
	caller integration.Caller
	method string // "phone" or "sms"
}

// NewCalloutAdapter creates a CalloutAdapter for either twilio_voice
// (method "phone") or twilio_sms (method "sms").
func NewCalloutAdapter(caller integration.Caller, method string) *CalloutAdapter {
	return &CalloutAdapter{caller: caller, method: method}
}

func (a *CalloutAdapter) Send(ctx context.Context, dest Destination, payload PayloadSnapshot) (SendResult, error) {
	toNumber, errResult := a.toNumber(dest)
	if errResult != nil {
		return SendResult{Err: errResult}, nil
	}

	var p slackPayload
	_ = json.Unmarshal(payload.Data, &p)

	req := integration.CalloutRequest{
		UserID:   uuid.Nil,
		Phone:    toNumber,
		Title:    p.Title,
		Severity: p.Severity,
		Summary:  p.Description,
		Method:   a.method,
	}

	start := time.Now()
	var result integration.CalloutResult
	var err error
	if a.method == "sms" {
		result, err = a.caller.SendSMS(ctx, req)
	} else {
		result, err = a.caller.Call(ctx, req)
	}
	latency := time.Since(start)
	if err != nil {
		return SendResult{LatencyMS: latency.Milliseconds(), Err: &SendError{Class: ErrorClassRetryable, Message: err.Error()}}, nil
	}
	if !result.Success {
		return SendResult{LatencyMS: latency.Milliseconds(), Err: &SendError{Class: ErrorClassRetryable, Message: result.Detail}}, nil
	}
	return SendResult{Success: true, CrossSystemReference: result.Detail, LatencyMS: latency.Milliseconds()}, nil
}

func (a *CalloutAdapter) Probe(ctx context.Context, dest Destination) (ProbeResult, error) {
	if _, errResult := a.toNumber(dest); errResult != nil {
		return ProbeResult{Err: errResult}, nil
	}
	return ProbeResult{Success: true}, nil
}

func (a *CalloutAdapter) toNumber(dest Destination) (string, *SendError) {
	var cfg TwilioVoiceConfig
	if err := json.Unmarshal(dest.Config, &cfg); err != nil {
		return "", &SendError{Class: ErrorClassNonRetryable, Message: "invalid twilio config: " + err.Error()}
	}
	if cfg.ToNumber == "" {
		return "", &SendError{Class: ErrorClassNonRetryable, Message: "twilio config missing toNumber"}
	}
	return cfg.ToNumber, nil
}
