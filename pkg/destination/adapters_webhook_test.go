package destination

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func webhookDest(url string) Destination {
	cfg, _ := json.Marshal(WebhookConfig{URL: url, Method: "POST", TimeoutMS: 2000})
	return Destination{ID: uuid.New(), Type: TypeWebhook, Config: cfg}
}

func TestWebhookAdapterSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Idempotency-Key") != "idem-1" {
			t.Errorf("missing idempotency header, got %q", r.Header.Get("X-Idempotency-Key"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewWebhookAdapter()
	result, err := a.Send(context.Background(), webhookDest(srv.URL), PayloadSnapshot{
		Data:           json.RawMessage(`{"x":1}`),
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestWebhookAdapterSendServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewWebhookAdapter()
	result, err := a.Send(context.Background(), webhookDest(srv.URL), PayloadSnapshot{IdempotencyKey: "k"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure on 500")
	}
	if result.Err == nil || result.Err.Class != ErrorClassRetryable {
		t.Fatalf("expected retryable class, got %+v", result.Err)
	}
}

func TestWebhookAdapterSendClientErrorIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewWebhookAdapter()
	result, err := a.Send(context.Background(), webhookDest(srv.URL), PayloadSnapshot{IdempotencyKey: "k"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Err == nil || result.Err.Class != ErrorClassNonRetryable {
		t.Fatalf("expected non-retryable class, got %+v", result.Err)
	}
}

func TestWebhookAdapterSendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewWebhookAdapter()
	result, err := a.Send(context.Background(), webhookDest(srv.URL), PayloadSnapshot{IdempotencyKey: "k"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Err == nil || result.Err.Class != ErrorClassRateLimited {
		t.Fatalf("expected rate_limited class, got %+v", result.Err)
	}
}

func TestWebhookAdapterProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewWebhookAdapter()
	result, err := a.Probe(context.Background(), webhookDest(srv.URL))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful probe, got %+v", result)
	}
}

func TestWebhookAdapterSendInvalidConfig(t *testing.T) {
	a := NewWebhookAdapter()
	dest := Destination{Type: TypeWebhook, Config: json.RawMessage(`not json`)}
	result, err := a.Send(context.Background(), dest, PayloadSnapshot{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Err == nil || result.Err.Class != ErrorClassNonRetryable {
		t.Fatalf("expected non-retryable config error, got %+v", result.Err)
	}
}
