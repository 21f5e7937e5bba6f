package webhooks

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"wasmscan/internal/models"
)

func TestDirectDeliverySignsPayload(t *testing.T) {
	t.Parallel()

	var (
		gotBody      []byte
		gotTimestamp string
		gotSignature string
		gotContent   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotTimestamp = r.Header.Get("X-Wasmscan-Timestamp")
		gotSignature = r.Header.Get("X-Wasmscan-Signature")
		gotContent = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	sub := &models.WebhookSubscription{ID: "sub-1", URL: srv.URL, Secret: "hunter2"}
	payload := map[string]interface{}{"value": 42, "formula": "generic/chain/height"}

	if err := NewDirectDelivery().Deliver(context.Background(), sub, payload); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if gotContent != "application/json" {
		t.Errorf("Content-Type = %q", gotContent)
	}
	if gotTimestamp == "" {
		t.Fatal("missing X-Wasmscan-Timestamp")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body %q: %v", gotBody, err)
	}
	if decoded["formula"] != "generic/chain/height" {
		t.Errorf("payload = %v", decoded)
	}

	want := signPayload(sub.Secret, gotTimestamp, gotBody)
	if !hmac.Equal([]byte(gotSignature), []byte(want)) {
		t.Errorf("signature = %s, want %s", gotSignature, want)
	}
	if _, err := hex.DecodeString(gotSignature); err != nil {
		t.Errorf("signature is not hex: %v", err)
	}
}

func TestDirectDeliveryRejectsNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sub := &models.WebhookSubscription{ID: "sub-1", URL: srv.URL, Secret: "s"}
	err := NewDirectDelivery().Deliver(context.Background(), sub, map[string]interface{}{"value": 1})
	if err == nil {
		t.Fatal("Deliver succeeded against a 502 endpoint")
	}
}

func TestDirectDeliveryUnreachable(t *testing.T) {
	t.Parallel()

	sub := &models.WebhookSubscription{ID: "sub-1", URL: "http://127.0.0.1:1", Secret: "s"}
	if err := NewDirectDelivery().Deliver(context.Background(), sub, nil); err == nil {
		t.Fatal("Deliver succeeded against an unreachable endpoint")
	}
}

func TestNoopDelivery(t *testing.T) {
	t.Parallel()

	sub := &models.WebhookSubscription{ID: "sub-1", URL: "https://example.com"}
	if err := (NoopDelivery{}).Deliver(context.Background(), sub, nil); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}
