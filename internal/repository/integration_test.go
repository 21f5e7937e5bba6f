//go:build integration

package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"wasmscan/internal/models"
)

// Integration tests run against a throwaway database:
//
//	TEST_DATABASE_URL=postgres://localhost/wasmscan_test go test -tags integration ./internal/repository
//
// The schema is applied on every run; tables are truncated between tests.

func testRepo(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	r, err := NewRepository(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	if err := r.Migrate("../../schema.sql"); err != nil {
		t.Fatal(err)
	}
	tables := []string{
		"computations", "accounts", "credit_usage", "webhook_subscriptions",
		"wasm_state_events", "wasm_state_transformations", "wasm_tx_events",
		"bank_balances", "bank_state_events", "blocks", "contracts",
	}
	for _, table := range tables {
		if _, err := r.db.Exec(context.Background(), "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func seedStateEvent(t *testing.T, r *Repository, contract, key, value string, height uint64, deleted bool) {
	t.Helper()
	_, err := r.db.Exec(context.Background(),
		`INSERT INTO wasm_state_events (contract_address, key, value, deleted, block_height, block_time_unix_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (contract_address, key, block_height) DO UPDATE SET value = EXCLUDED.value, deleted = EXCLUDED.deleted`,
		contract, key, []byte(value), deleted, height, height*1000)
	if err != nil {
		t.Fatal(err)
	}
}

func TestWasmStateEventReads(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	const contract = "wasm1contract"

	seedStateEvent(t, r, contract, "aa01", `"first"`, 5, false)
	seedStateEvent(t, r, contract, "aa01", `"second"`, 10, false)
	seedStateEvent(t, r, contract, "aa02", `"other"`, 7, false)
	seedStateEvent(t, r, contract, "bb01", `"outside"`, 7, false)

	ev, err := r.GetWasmStateEvent(ctx, contract, "aa01", 8)
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || string(ev.Value) != `"first"` || ev.BlockHeight != 5 {
		t.Errorf("at height 8 = %+v, want the height 5 row", ev)
	}

	ev, err = r.GetWasmStateEvent(ctx, contract, "aa01", 100)
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || string(ev.Value) != `"second"` {
		t.Errorf("at height 100 = %+v, want the height 10 row", ev)
	}

	if ev, err = r.GetWasmStateEvent(ctx, contract, "aa01", 4); err != nil || ev != nil {
		t.Errorf("before first write = %+v/%v, want nil", ev, err)
	}

	evs, err := r.ListWasmStateEventsByPrefix(ctx, contract, "aa", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Errorf("prefix list = %d rows, want 2 (latest per key under aa)", len(evs))
	}

	first, err := r.GetFirstWasmStateEvent(ctx, contract, "aa01", 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first == nil || first.BlockHeight != 5 {
		t.Errorf("first write = %+v, want height 5", first)
	}
}

func TestNextDependencyChange(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	const contract = "wasm1contract"

	seedStateEvent(t, r, contract, "aa01", `"v1"`, 5, false)
	seedStateEvent(t, r, contract, "aa01", `"v2"`, 20, false)
	seedStateEvent(t, r, contract, "zz01", `"noise"`, 12, false)

	deps := []models.Dependency{
		{Key: models.DependentKey(models.NamespaceWasmState, contract, "aa01")},
	}
	h, ok, err := r.NextDependencyChange(ctx, deps, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || h != 20 {
		t.Errorf("next change = %d/%v, want 20", h, ok)
	}

	// The unrelated key at 12 must not count; a prefix dependency over aa
	// must still see 20, a window ending earlier must see nothing.
	if _, ok, err = r.NextDependencyChange(ctx, deps, 20, 0); err != nil || ok {
		t.Errorf("change past last write = %v/%v, want none", ok, err)
	}
	prefixDeps := []models.Dependency{
		{Key: models.DependentKey(models.NamespaceWasmState, contract, "aa"), Prefix: true},
	}
	if h, ok, _ := r.NextDependencyChange(ctx, prefixDeps, 5, 0); !ok || h != 20 {
		t.Errorf("prefix next change = %d/%v, want 20", h, ok)
	}
	if _, ok, _ := r.NextDependencyChange(ctx, deps, 5, 15); ok {
		t.Error("change inside (5, 15] reported, want none")
	}
}

func TestComputationRoundTrip(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	c := &models.Computation{
		TargetAddress:          "wasm1contract",
		Formula:                "contract/test/count",
		Args:                   "{}",
		BlockHeight:            10,
		BlockTimeUnixMs:        10000,
		LatestBlockHeightValid: 19,
		Output:                 []byte(`{"count":1}`),
		DependentEvents: []models.Dependency{
			{Key: "wasm_state:wasm1contract:aa01"},
			{Key: "wasm_state:wasm1contract:bb", Prefix: true},
		},
		DependentTransformations: []models.Dependency{
			{Key: "wasm_transformation:wasm1contract:config"},
		},
	}
	id, err := r.UpsertComputation(ctx, c)
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.GetComputation(ctx, c.TargetAddress, c.Formula, c.Args, 15)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != id || string(got.Output) != `{"count":1}` {
		t.Fatalf("round trip = %+v, want stored row %d", got, id)
	}
	if len(got.DependentEvents) != 2 || len(got.DependentTransformations) != 1 {
		t.Errorf("dependencies = %d/%d, want 2/1",
			len(got.DependentEvents), len(got.DependentTransformations))
	}

	// Same identity and block replaces in place and rewrites dependencies.
	c.Output = []byte(`{"count":2}`)
	c.DependentEvents = c.DependentEvents[:1]
	id2, err := r.UpsertComputation(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Errorf("upsert created new row %d, want replacement of %d", id2, id)
	}
	got, _ = r.GetComputation(ctx, c.TargetAddress, c.Formula, c.Args, 15)
	if len(got.DependentEvents) != 1 {
		t.Errorf("dependencies after rewrite = %d, want 1", len(got.DependentEvents))
	}

	if err := r.UpdateComputationValidity(ctx, id, 40); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateComputationValidity(ctx, id, 30); err != nil {
		t.Fatal(err)
	}
	got, _ = r.GetComputation(ctx, c.TargetAddress, c.Formula, c.Args, 15)
	if got.LatestBlockHeightValid != 40 {
		t.Errorf("validity = %d, want 40 (never lowered)", got.LatestBlockHeightValid)
	}

	n, err := r.PruneComputationsBelow(ctx, 41)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
}

func TestAccountCredits(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	id := uuid.NewString()
	a, err := r.CreateAccount(ctx, id, "tester", "deadbeef", 10)
	if err != nil {
		t.Fatal(err)
	}
	if a.CreditsRemaining != 10 {
		t.Fatalf("credits = %d, want 10", a.CreditsRemaining)
	}

	remaining, err := r.ChargeCredits(ctx, id, 7, "/compute")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 3 {
		t.Errorf("remaining = %d, want 3", remaining)
	}

	if _, err := r.ChargeCredits(ctx, id, 7, "/compute"); err != ErrInsufficientCredits {
		t.Errorf("overdraft err = %v, want ErrInsufficientCredits", err)
	}

	// The failed charge must not have deducted anything.
	a, err = r.GetAccountByKeyHash(ctx, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.CreditsRemaining != 3 {
		t.Errorf("account after overdraft = %+v, want 3 credits", a)
	}

	if remaining, err = r.AddCredits(ctx, id, 5); err != nil || remaining != 8 {
		t.Errorf("top up = %d/%v, want 8", remaining, err)
	}
}
