package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"wasmscan/internal/config"
	"wasmscan/internal/models"
)

func webhookTestServer(t *testing.T) (*testEnv, map[string]string) {
	t.Helper()
	te := newTestServer(t, func(cfg *config.Config) { cfg.RequireAPIKey = true })
	te.accounts.add("wsk_hook", "hooks", 100)
	return te, map[string]string{"X-API-Key": "wsk_hook"}
}

func createSubscription(t *testing.T, te *testEnv, headers map[string]string, body string) (string, envelope) {
	t.Helper()
	code, env := doRequest(t, te.server, "POST", "/webhooks", strings.NewReader(body), headers)
	if code != http.StatusOK {
		t.Fatalf("create: status = %d, want 200 (error: %v)", code, env.Error)
	}
	var created struct {
		Subscription models.WebhookSubscription `json:"subscription"`
		Secret       string                     `json:"secret"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	if created.Subscription.ID == "" {
		t.Fatal("created subscription has no id")
	}
	return created.Subscription.ID, env
}

func TestWebhookLifecycle(t *testing.T) {
	te, headers := webhookTestServer(t)

	id, env := createSubscription(t, te, headers,
		`{"formula_type":"generic","formula":"chain/height","url":"https://example.com/hook"}`)

	// A generated secret is handed back exactly once.
	var created struct {
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.Secret, "wsk_") {
		t.Errorf("secret = %q, want generated wsk_ prefix", created.Secret)
	}

	code, env := doRequest(t, te.server, "GET", "/webhooks", nil, headers)
	if code != http.StatusOK {
		t.Fatalf("list: status = %d (error: %v)", code, env.Error)
	}
	var subs []models.WebhookSubscription
	if err := json.Unmarshal(env.Data, &subs); err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].ID != id || !subs[0].Active {
		t.Fatalf("list = %+v", subs)
	}
	if subs[0].Formula != "generic/chain/height" {
		t.Errorf("formula = %q, want generic/chain/height", subs[0].Formula)
	}

	code, _ = doRequest(t, te.server, "POST", "/webhooks/"+id+"/active",
		strings.NewReader(`{"active":false}`), headers)
	if code != http.StatusOK {
		t.Fatalf("deactivate: status = %d", code)
	}
	if sub := te.webhooks.subs[0]; sub.Active {
		t.Error("subscription still active after deactivation")
	}

	code, _ = doRequest(t, te.server, "DELETE", "/webhooks/"+id, nil, headers)
	if code != http.StatusOK {
		t.Fatalf("delete: status = %d", code)
	}
	code, _ = doRequest(t, te.server, "DELETE", "/webhooks/"+id, nil, headers)
	if code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", code)
	}
}

func TestWebhookCreateValidation(t *testing.T) {
	te, headers := webhookTestServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"unknown formula", `{"formula_type":"generic","formula":"chain/missing","url":"https://example.com"}`, http.StatusNotFound},
		{"dynamic formula", `{"formula_type":"generic","formula":"chain/now","url":"https://example.com"}`, http.StatusBadRequest},
		{"bad url scheme", `{"formula_type":"generic","formula":"chain/height","url":"ftp://example.com"}`, http.StatusBadRequest},
		{"missing url host", `{"formula_type":"generic","formula":"chain/height","url":"https://"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := doRequest(t, te.server, "POST", "/webhooks", strings.NewReader(tc.body), headers)
			if code != tc.want {
				t.Errorf("status = %d, want %d", code, tc.want)
			}
		})
	}
}

func TestWebhookRequiresAccount(t *testing.T) {
	te, _ := webhookTestServer(t)
	code, _ := doRequest(t, te.server, "GET", "/webhooks", nil, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", code)
	}
	code, _ = doRequest(t, te.server, "GET", "/webhooks", nil,
		map[string]string{"X-API-Key": "wsk_stranger"})
	if code != http.StatusUnauthorized {
		t.Errorf("unknown key: status = %d, want 401", code)
	}
}

func TestWebhookAccountIsolation(t *testing.T) {
	te, headers := webhookTestServer(t)
	te.accounts.add("wsk_other", "other", 100)
	otherHeaders := map[string]string{"X-API-Key": "wsk_other"}

	id, _ := createSubscription(t, te, headers,
		`{"formula_type":"generic","formula":"chain/height","url":"https://example.com/hook"}`)

	code, env := doRequest(t, te.server, "GET", "/webhooks", nil, otherHeaders)
	if code != http.StatusOK {
		t.Fatalf("list: status = %d", code)
	}
	if string(env.Data) != "[]" {
		t.Errorf("other account sees %s", env.Data)
	}

	code, _ = doRequest(t, te.server, "DELETE", "/webhooks/"+id, nil, otherHeaders)
	if code != http.StatusNotFound {
		t.Errorf("cross-account delete: status = %d, want 404", code)
	}
}
