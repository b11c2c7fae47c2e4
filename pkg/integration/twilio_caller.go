package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// TwilioCaller places voice calls and sends SMS through the Twilio REST
// API. It talks to the API directly over net/http rather than through a
// vendor SDK, the same bare-REST style pkg/mattermost's Client uses for its
// own vendor, since no Twilio client library is part of this module's
// dependency set.
type TwilioCaller struct {
	accountSID string
	authToken  string
	fromNumber string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTwilioCaller creates a TwilioCaller.
func NewTwilioCaller(accountSID, authToken, fromNumber string, logger *slog.Logger) *TwilioCaller {
	return &TwilioCaller{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (t *TwilioCaller) Call(ctx context.Context, req CalloutRequest) (CalloutResult, error) {
	form := url.Values{
		"To":   {req.Phone},
		"From": {t.fromNumber},
		"Url":  {fmt.Sprintf("https://twimlets.com/message?Message=%s", url.QueryEscape(req.Summary))},
	}
	sid, err := t.do(ctx, "Calls.json", form)
	if err != nil {
		return CalloutResult{}, err
	}
	return CalloutResult{Success: true, Method: "phone", Detail: sid}, nil
}

func (t *TwilioCaller) SendSMS(ctx context.Context, req CalloutRequest) (CalloutResult, error) {
	form := url.Values{
		"To":   {req.Phone},
		"From": {t.fromNumber},
		"Body": {fmt.Sprintf("[%s] %s: %s", strings.ToUpper(req.Severity), req.Title, req.Summary)},
	}
	sid, err := t.do(ctx, "Messages.json", form)
	if err != nil {
		return CalloutResult{}, err
	}
	return CalloutResult{Success: true, Method: "sms", Detail: sid}, nil
}

// do posts to a Twilio REST resource and returns the created resource's SID.
func (t *TwilioCaller) do(ctx context.Context, resource string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/%s", t.accountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building twilio request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling twilio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("twilio API error: status %d", resp.StatusCode)
	}
	var created struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decoding twilio response: %w", err)
	}
	return created.SID, nil
}
