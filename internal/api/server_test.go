package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wasmscan/internal/compute"
	"wasmscan/internal/config"
	"wasmscan/internal/models"
	"wasmscan/internal/repository"
)

// fakeStore serves a linear chain of blocks and an in-memory computation
// memo. Dependency changes happen at the configured heights regardless of
// the dependency set; handler tests only care about the resulting pieces.
type fakeStore struct {
	compute.EventStore
	compute.ComputationStore

	blocks  []models.Block
	changes []uint64

	mu      sync.Mutex
	comps   []*models.Computation
	nextID  int64
	upserts int
}

func newFakeStore(tip uint64, changes ...uint64) *fakeStore {
	s := &fakeStore{changes: changes}
	for h := uint64(1); h <= tip; h++ {
		s.blocks = append(s.blocks, models.Block{Height: h, TimeUnixMs: h * 1000})
	}
	return s
}

func (s *fakeStore) GetBlock(_ context.Context, height uint64) (*models.Block, error) {
	for _, b := range s.blocks {
		if b.Height == height {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetBlockAtOrAfter(_ context.Context, height uint64) (*models.Block, error) {
	for _, b := range s.blocks {
		if b.Height >= height {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetFirstBlock(_ context.Context) (*models.Block, error) {
	if len(s.blocks) == 0 {
		return nil, nil
	}
	b := s.blocks[0]
	return &b, nil
}

func (s *fakeStore) GetLatestBlock(_ context.Context) (*models.Block, error) {
	if len(s.blocks) == 0 {
		return nil, nil
	}
	b := s.blocks[len(s.blocks)-1]
	return &b, nil
}

func (s *fakeStore) GetBlockForTime(_ context.Context, timeUnixMs uint64) (*models.Block, error) {
	var found *models.Block
	for _, b := range s.blocks {
		if b.TimeUnixMs <= timeUnixMs {
			b := b
			found = &b
		}
	}
	if found == nil && len(s.blocks) > 0 {
		b := s.blocks[0]
		found = &b
	}
	return found, nil
}

func (s *fakeStore) NextDependencyChange(_ context.Context, _ []models.Dependency, after, until uint64) (uint64, bool, error) {
	best := uint64(0)
	for _, c := range s.changes {
		if c <= after || (until > 0 && c > until) {
			continue
		}
		if best == 0 || c < best {
			best = c
		}
	}
	return best, best != 0, nil
}

func (s *fakeStore) UpsertComputation(_ context.Context, c *models.Computation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for _, row := range s.comps {
		if row.TargetAddress == c.TargetAddress && row.Formula == c.Formula &&
			row.Args == c.Args && row.BlockHeight == c.BlockHeight {
			c.ID = row.ID
			*row = *c
			return row.ID, nil
		}
	}
	s.nextID++
	c.ID = s.nextID
	cp := *c
	s.comps = append(s.comps, &cp)
	return c.ID, nil
}

func (s *fakeStore) GetComputation(_ context.Context, target, formula, args string, height uint64) (*models.Computation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Computation
	for _, row := range s.comps {
		if row.TargetAddress != target || row.Formula != formula || row.Args != args || row.BlockHeight > height {
			continue
		}
		if best == nil || row.BlockHeight > best.BlockHeight {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *fakeStore) ListComputationsInRange(_ context.Context, target, formula, args string, after, until uint64) ([]*models.Computation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Computation
	for h := after + 1; h <= until; h++ {
		for _, row := range s.comps {
			if row.TargetAddress == target && row.Formula == formula && row.Args == args && row.BlockHeight == h {
				cp := *row
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateComputationValidity(_ context.Context, id int64, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.comps {
		if row.ID == id && height > row.LatestBlockHeightValid {
			row.LatestBlockHeightValid = height
		}
	}
	return nil
}

func (s *fakeStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type fakeAccounts struct {
	mu      sync.Mutex
	byHash  map[string]*models.Account
	charges []int64
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byHash: make(map[string]*models.Account)}
}

func (f *fakeAccounts) add(key, name string, credits int64) *models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &models.Account{ID: "acct-" + name, Name: name, APIKeyHash: hashAPIKey(key), CreditsRemaining: credits, CreatedAt: time.Now()}
	f.byHash[a.APIKeyHash] = a
	return a
}

func (f *fakeAccounts) GetAccountByKeyHash(_ context.Context, keyHash string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byHash[keyHash], nil
}

func (f *fakeAccounts) CreateAccount(_ context.Context, id, name, keyHash string, credits int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &models.Account{ID: id, Name: name, APIKeyHash: keyHash, CreditsRemaining: credits, CreatedAt: time.Now()}
	f.byHash[keyHash] = a
	return a, nil
}

func (f *fakeAccounts) ChargeCredits(_ context.Context, accountID string, amount int64, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byHash {
		if a.ID == accountID {
			if a.CreditsRemaining < amount {
				return 0, repository.ErrInsufficientCredits
			}
			a.CreditsRemaining -= amount
			f.charges = append(f.charges, amount)
			return a.CreditsRemaining, nil
		}
	}
	return 0, repository.ErrInsufficientCredits
}

func (f *fakeAccounts) AddCredits(_ context.Context, accountID string, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byHash {
		if a.ID == accountID {
			a.CreditsRemaining += amount
			return a.CreditsRemaining, nil
		}
	}
	return 0, repository.ErrInsufficientCredits
}

type fakeWebhookStore struct {
	mu   sync.Mutex
	subs []*models.WebhookSubscription
}

func (f *fakeWebhookStore) CreateWebhookSubscription(_ context.Context, s *models.WebhookSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.CreatedAt = time.Now()
	cp := *s
	f.subs = append(f.subs, &cp)
	return nil
}

func (f *fakeWebhookStore) GetWebhookSubscription(_ context.Context, id string) (*models.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeWebhookStore) ListWebhookSubscriptionsByAccount(_ context.Context, accountID string) ([]*models.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WebhookSubscription
	for _, s := range f.subs {
		if s.AccountID == accountID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeWebhookStore) SetWebhookSubscriptionActive(_ context.Context, id, accountID string, active bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.ID == id && s.AccountID == accountID {
			s.Active = active
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWebhookStore) DeleteWebhookSubscription(_ context.Context, id, accountID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.ID == id && s.AccountID == accountID {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeTip struct {
	state *models.State
}

func (f fakeTip) Current() *models.State { return f.state }

func testRegistry() *compute.Registry {
	r := compute.NewRegistry()
	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "chain/height",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			return e.Block().Height, nil
		},
	})
	r.Register(&compute.Formula{
		Type:    compute.FormulaTypeGeneric,
		Name:    "chain/now",
		Dynamic: true,
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			return e.Block().TimeUnixMs, nil
		},
	})
	return r
}

type testEnv struct {
	server   *Server
	store    *fakeStore
	accounts *fakeAccounts
	webhooks *fakeWebhookStore
}

func newTestServer(t *testing.T, mutate func(*config.Config), changes ...uint64) *testEnv {
	t.Helper()
	cfg := &config.Config{APIPort: "0"}
	if mutate != nil {
		mutate(cfg)
	}
	store := newFakeStore(30, changes...)
	accounts := newFakeAccounts()
	webhookStore := &fakeWebhookStore{}
	tip := fakeTip{&models.State{ChainID: "test-1", LatestBlockHeight: 30, LatestBlockTimeUnixMs: 30000}}
	s := NewServer(cfg, store, accounts, webhookStore, testRegistry(), tip, nil)
	return &testEnv{server: s, store: store, accounts: accounts, webhooks: webhookStore}
}

type envelope struct {
	Meta  map[string]json.RawMessage `json:"_meta"`
	Data  json.RawMessage            `json:"data"`
	Error map[string]string          `json:"error"`
}

func doRequest(t *testing.T, s *Server, method, path string, body io.Reader, headers map[string]string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func TestHealth(t *testing.T) {
	te := newTestServer(t, nil)
	code, env := doRequest(t, te.server, "GET", "/health", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if string(env.Data) != `{"status":"ok"}` {
		t.Errorf("data = %s", env.Data)
	}
}

func TestStatus(t *testing.T) {
	te := newTestServer(t, nil)
	code, env := doRequest(t, te.server, "GET", "/status", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["ready"] != true || data["chain_id"] != "test-1" {
		t.Errorf("data = %v", data)
	}
}

func TestFormulasListing(t *testing.T) {
	te := newTestServer(t, nil)
	code, env := doRequest(t, te.server, "GET", "/formulas", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var list []compute.FormulaInfo
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("formulas = %d, want 2", len(list))
	}
}

func TestRateLimit(t *testing.T) {
	te := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimitRPS = 1
		cfg.RateLimitBurst = 1
	})
	if code, _ := doRequest(t, te.server, "GET", "/status", nil, nil); code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", code)
	}
	if code, _ := doRequest(t, te.server, "GET", "/status", nil, nil); code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", code)
	}
	// Health stays exempt.
	if code, _ := doRequest(t, te.server, "GET", "/health", nil, nil); code != http.StatusOK {
		t.Errorf("health = %d, want 200", code)
	}
}

func TestCORSPreflight(t *testing.T) {
	te := newTestServer(t, nil)
	req := httptest.NewRequest("OPTIONS", "/status", nil)
	rec := httptest.NewRecorder()
	te.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
