package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"wasmscan/internal/config"
)

func TestAPIKeyRequired(t *testing.T) {
	te := newTestServer(t, func(cfg *config.Config) { cfg.RequireAPIKey = true })
	te.accounts.add("wsk_good", "alice", 100)

	code, _ := doRequest(t, te.server, "GET", "/compute/generic/_/chain/height", nil, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", code)
	}

	code, _ = doRequest(t, te.server, "GET", "/compute/generic/_/chain/height", nil,
		map[string]string{"X-API-Key": "wsk_wrong"})
	if code != http.StatusForbidden {
		t.Errorf("unknown key: status = %d, want 403", code)
	}

	code, env := doRequest(t, te.server, "GET", "/compute/generic/_/chain/height", nil,
		map[string]string{"X-API-Key": "wsk_good"})
	if code != http.StatusOK {
		t.Fatalf("valid key: status = %d, want 200 (error: %v)", code, env.Error)
	}
	if len(te.accounts.charges) != 1 || te.accounts.charges[0] != 1 {
		t.Errorf("charges = %v, want [1]", te.accounts.charges)
	}
}

func TestAPIKeyOptionalByDefault(t *testing.T) {
	te := newTestServer(t, nil)
	code, _ := doRequest(t, te.server, "GET", "/compute/generic/_/chain/height", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(te.accounts.charges) != 0 {
		t.Errorf("anonymous request was charged: %v", te.accounts.charges)
	}

	// A presented key must still resolve, even without RequireAPIKey.
	code, _ = doRequest(t, te.server, "GET", "/compute/generic/_/chain/height", nil,
		map[string]string{"X-API-Key": "wsk_bogus"})
	if code != http.StatusForbidden {
		t.Errorf("bogus key: status = %d, want 403", code)
	}
}

func TestInsufficientCredits(t *testing.T) {
	te := newTestServer(t, func(cfg *config.Config) { cfg.RequireAPIKey = true })
	te.accounts.add("wsk_broke", "bob", 0)

	code, _ := doRequest(t, te.server, "GET", "/compute/generic/_/chain/height", nil,
		map[string]string{"X-API-Key": "wsk_broke"})
	if code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", code)
	}
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	te := newTestServer(t, nil)
	code, _ := doRequest(t, te.server, "POST", "/admin/accounts",
		strings.NewReader(`{"name":"x"}`), nil)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestAdminCreateAccount(t *testing.T) {
	const secret = "test-secret"
	te := newTestServer(t, func(cfg *config.Config) { cfg.JWTSecret = secret })

	code, _ := doRequest(t, te.server, "POST", "/admin/accounts",
		strings.NewReader(`{"name":"carol","credits":50}`), nil)
	if code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", code)
	}

	code, _ = doRequest(t, te.server, "POST", "/admin/accounts",
		strings.NewReader(`{"name":"carol","credits":50}`),
		map[string]string{"Authorization": "Bearer " + adminToken(t, "wrong-secret")})
	if code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", code)
	}

	headers := map[string]string{"Authorization": "Bearer " + adminToken(t, secret)}
	code, env := doRequest(t, te.server, "POST", "/admin/accounts",
		strings.NewReader(`{"name":"carol","credits":50}`), headers)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (error: %v)", code, env.Error)
	}
	var created struct {
		Account struct {
			ID               string `json:"id"`
			CreditsRemaining int64  `json:"credits_remaining"`
		} `json:"account"`
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.APIKey, "wsk_") {
		t.Errorf("api_key = %q, want wsk_ prefix", created.APIKey)
	}
	if created.Account.CreditsRemaining != 50 {
		t.Errorf("credits = %d, want 50", created.Account.CreditsRemaining)
	}

	// The returned key authenticates compute requests.
	code, env = doRequest(t, te.server, "GET", "/compute/generic/_/chain/height", nil,
		map[string]string{"X-API-Key": created.APIKey})
	if code != http.StatusOK {
		t.Errorf("minted key: status = %d, want 200 (error: %v)", code, env.Error)
	}

	code, env = doRequest(t, te.server, "POST", "/admin/accounts/"+created.Account.ID+"/credits",
		strings.NewReader(`{"amount":25}`), headers)
	if code != http.StatusOK {
		t.Fatalf("add credits: status = %d, want 200 (error: %v)", code, env.Error)
	}
	var topped struct {
		CreditsRemaining int64 `json:"credits_remaining"`
	}
	if err := json.Unmarshal(env.Data, &topped); err != nil {
		t.Fatal(err)
	}
	// One compute request was charged before the top-up.
	if topped.CreditsRemaining != 74 {
		t.Errorf("credits_remaining = %d, want 74", topped.CreditsRemaining)
	}
}

func TestAdminValidation(t *testing.T) {
	const secret = "test-secret"
	te := newTestServer(t, func(cfg *config.Config) { cfg.JWTSecret = secret })
	headers := map[string]string{"Authorization": "Bearer " + adminToken(t, secret)}

	cases := []struct {
		name string
		path string
		body string
	}{
		{"empty name", "/admin/accounts", `{"name":"  "}`},
		{"negative credits", "/admin/accounts", `{"name":"x","credits":-1}`},
		{"bad json", "/admin/accounts", `{`},
		{"zero amount", "/admin/accounts/some-id/credits", `{"amount":0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := doRequest(t, te.server, "POST", tc.path, strings.NewReader(tc.body), headers)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
		})
	}

	code, _ := doRequest(t, te.server, "POST", "/admin/accounts/missing/credits",
		strings.NewReader(`{"amount":5}`), headers)
	if code != http.StatusNotFound {
		t.Errorf("unknown account: status = %d, want 404", code)
	}
}
