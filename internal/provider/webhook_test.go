package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

var _ Provider = (*WebhookProvider)(nil)

func TestWebhookProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotContentType = r.Header.Get("Content-Type")

		var err error
		gotBody, err = io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read request body: %v", err)
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p, err := NewWebhookProvider(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookProvider() error = %v", err)
	}

	payload := json.RawMessage(`{"allocation_id":"alloc-42","recipient":"pi@example.edu","days_left":7}`)
	if err := p.Send(context.Background(), payload); err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", gotContentType)
	}
	// The payload must pass through untouched; the provider never rewraps it.
	if string(gotBody) != string(payload) {
		t.Fatalf("request body = %s, want %s", gotBody, payload)
	}
}

func TestWebhookProviderSendNon2xx(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		statusCode int
	}{
		{name: "bad request", statusCode: http.StatusBadRequest},
		{name: "too many requests", statusCode: http.StatusTooManyRequests},
		{name: "internal server error", statusCode: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("endpoint rejected the notice"))
			}))
			defer server.Close()

			p, err := NewWebhookProvider(server.URL)
			if err != nil {
				t.Fatalf("NewWebhookProvider() error = %v", err)
			}

			err = p.Send(context.Background(), json.RawMessage(`{"allocation_id":"alloc-42"}`))
			if err == nil {
				t.Fatal("expected error")
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
			if providerErr.Provider != "webhook" {
				t.Fatalf("ProviderError.Provider = %q, want webhook", providerErr.Provider)
			}
		})
	}
}

func TestWebhookProviderSendTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	p, err := NewWebhookProviderWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewWebhookProviderWithClient() error = %v", err)
	}

	err = p.Send(context.Background(), json.RawMessage(`{"allocation_id":"alloc-42"}`))
	if err == nil {
		t.Fatal("expected timeout error")
	}

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if providerErr.Cause == nil {
		t.Fatal("expected transport cause to be preserved")
	}
}

func TestWebhookProviderConstructorValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookProvider("   "); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewWebhookProvider("not a url"); err == nil {
		t.Fatal("expected error for malformed endpoint")
	}
	if _, err := NewWebhookProviderWithClient("https://hooks.example.edu/notify", nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestWebhookProviderEmptyPayload(t *testing.T) {
	t.Parallel()

	p, err := NewWebhookProvider("https://hooks.example.edu/notify")
	if err != nil {
		t.Fatalf("NewWebhookProvider() error = %v", err)
	}

	err = p.Send(context.Background(), nil)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() with empty payload = %v, want ProviderError", err)
	}
}
