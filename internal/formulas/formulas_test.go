package formulas

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"wasmscan/internal/compute"
	"wasmscan/internal/models"
)

const (
	cw20Contract = "wasm1cw20token"
	daoContract  = "wasm1daocore"
	wallet       = "wasm1wallet"
	valoper      = "wasmvaloper1node"
)

// catalogueStore implements just the reads the catalogue tests exercise;
// the embedded nil interface panics loudly on anything unexpected.
type catalogueStore struct {
	compute.EventStore

	contracts       map[string]*models.Contract
	validators      map[string]*models.Validator
	stateEvents     []*models.WasmStateEvent
	transformations []*models.Transformation
	txEvents        []*models.WasmTxEvent
	bankBalances    map[string]*models.BankBalance
	slashes         []*models.StakingSlashEvent
	proposalCount   uint64
	feegrants       []*models.FeegrantAllowance
}

func (s *catalogueStore) GetContract(ctx context.Context, address string) (*models.Contract, error) {
	return s.contracts[address], nil
}

func (s *catalogueStore) GetValidator(ctx context.Context, operatorAddress string) (*models.Validator, error) {
	return s.validators[operatorAddress], nil
}

func (s *catalogueStore) GetWasmStateEvent(ctx context.Context, contract, key string, height uint64) (*models.WasmStateEvent, error) {
	var best *models.WasmStateEvent
	for _, ev := range s.stateEvents {
		if ev.ContractAddress == contract && ev.Key == key && ev.BlockHeight <= height {
			if best == nil || ev.BlockHeight > best.BlockHeight {
				best = ev
			}
		}
	}
	return best, nil
}

func (s *catalogueStore) GetFirstWasmStateEvent(ctx context.Context, contract, key string, height uint64, valueMatch []byte) (*models.WasmStateEvent, error) {
	var best *models.WasmStateEvent
	for _, ev := range s.stateEvents {
		if ev.ContractAddress == contract && ev.Key == key && ev.BlockHeight <= height && !ev.Deleted {
			if best == nil || ev.BlockHeight < best.BlockHeight {
				best = ev
			}
		}
	}
	return best, nil
}

func (s *catalogueStore) ListWasmStateEventsByPrefix(ctx context.Context, contract, keyPrefix string, height uint64) ([]*models.WasmStateEvent, error) {
	latest := map[string]*models.WasmStateEvent{}
	for _, ev := range s.stateEvents {
		if ev.ContractAddress != contract || ev.BlockHeight > height || len(ev.Key) < len(keyPrefix) || ev.Key[:len(keyPrefix)] != keyPrefix {
			continue
		}
		if cur, ok := latest[ev.Key]; !ok || ev.BlockHeight > cur.BlockHeight {
			latest[ev.Key] = ev
		}
	}
	out := make([]*models.WasmStateEvent, 0, len(latest))
	for _, ev := range latest {
		out = append(out, ev)
	}
	return out, nil
}

func (s *catalogueStore) ListWasmStateEventsForKeys(ctx context.Context, contract string, keys, prefixes []string, height uint64) ([]*models.WasmStateEvent, error) {
	var out []*models.WasmStateEvent
	for _, k := range keys {
		ev, err := s.GetWasmStateEvent(ctx, contract, k, height)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			out = append(out, ev)
		}
	}
	for _, p := range prefixes {
		evs, err := s.ListWasmStateEventsByPrefix(ctx, contract, p, height)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

func (s *catalogueStore) ListTransformations(ctx context.Context, contract, nameLike string, prefix bool, whereName string, valueWhere []byte, height uint64) ([]*models.Transformation, error) {
	type slot struct{ contract, name string }
	latest := map[slot]*models.Transformation{}
	for _, t := range s.transformations {
		if contract != "" && t.ContractAddress != contract {
			continue
		}
		if t.BlockHeight > height {
			continue
		}
		if prefix {
			if len(t.Name) < len(nameLike) || t.Name[:len(nameLike)] != nameLike {
				continue
			}
		} else if t.Name != nameLike {
			continue
		}
		k := slot{t.ContractAddress, t.Name}
		if cur, ok := latest[k]; !ok || t.BlockHeight > cur.BlockHeight {
			latest[k] = t
		}
	}
	out := make([]*models.Transformation, 0, len(latest))
	for _, t := range latest {
		out = append(out, t)
	}
	return out, nil
}

func (s *catalogueStore) ListTransformationsForNames(ctx context.Context, contract string, names, prefixes []string, height uint64) ([]*models.Transformation, error) {
	var out []*models.Transformation
	for _, n := range names {
		ts, err := s.ListTransformations(ctx, contract, n, false, "", nil, height)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	for _, p := range prefixes {
		ts, err := s.ListTransformations(ctx, contract, p, true, "", nil, height)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

func (s *catalogueStore) ListWasmTxEvents(ctx context.Context, contract string, msgWhere []byte, limit int, height uint64) ([]*models.WasmTxEvent, error) {
	var out []*models.WasmTxEvent
	for _, ev := range s.txEvents {
		if ev.ContractAddress == contract && ev.BlockHeight <= height {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *catalogueStore) GetBankBalance(ctx context.Context, address string, height uint64) (*models.BankBalance, error) {
	b, ok := s.bankBalances[address]
	if !ok || b.BlockHeight > height {
		return nil, nil
	}
	return b, nil
}

func (s *catalogueStore) ListSlashEvents(ctx context.Context, operatorAddress string, height uint64) ([]*models.StakingSlashEvent, error) {
	var out []*models.StakingSlashEvent
	for _, ev := range s.slashes {
		if ev.ValidatorOperatorAddress == operatorAddress && ev.RegisteredBlockHeight <= height {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *catalogueStore) CountGovProposals(ctx context.Context, height uint64) (uint64, error) {
	return s.proposalCount, nil
}

func (s *catalogueStore) GetFeegrantAllowance(ctx context.Context, granter, grantee string, height uint64) (*models.FeegrantAllowance, error) {
	var best *models.FeegrantAllowance
	for _, fa := range s.feegrants {
		if fa.Granter == granter && fa.Grantee == grantee && fa.BlockHeight <= height {
			if best == nil || fa.BlockHeight > best.BlockHeight {
				best = fa
			}
		}
	}
	return best, nil
}

func (s *catalogueStore) NextDependencyChange(ctx context.Context, deps []models.Dependency, after, until uint64) (uint64, bool, error) {
	return 0, false, nil
}

func (s *catalogueStore) Query(ctx context.Context, sql string, binds []any) ([]map[string]any, error) {
	return []map[string]any{{"contracts": int64(len(s.contracts))}}, nil
}

func newCatalogueStore() *catalogueStore {
	return &catalogueStore{
		contracts: map[string]*models.Contract{
			cw20Contract: {Address: cw20Contract, CodeID: 1, Label: "token"},
			daoContract:  {Address: daoContract, CodeID: 2, Label: "dao"},
		},
		validators:   map[string]*models.Validator{valoper: {OperatorAddress: valoper}},
		bankBalances: map[string]*models.BankBalance{},
	}
}

func stateEvent(t *testing.T, contract string, height uint64, value string, segments ...any) *models.WasmStateEvent {
	t.Helper()
	key, err := compute.ComposeKey(segments...)
	if err != nil {
		t.Fatal(err)
	}
	return &models.WasmStateEvent{
		ContractAddress: contract,
		Key:             key,
		Value:           []byte(value),
		BlockHeight:     height,
		BlockTimeUnixMs: height * 1000,
	}
}

// run resolves a formula from the catalogue and evaluates it at block 50.
func run(t *testing.T, store compute.EventStore, typ compute.FormulaType, name, target string, args map[string]string) (any, error) {
	t.Helper()
	f, err := NewRegistry().Get(typ, name)
	if err != nil {
		t.Fatalf("formula %s/%s not registered: %v", typ, name, err)
	}
	o := &compute.Options{
		Store:             store,
		Formula:           f,
		ChainID:           "testing-1",
		TargetAddress:     target,
		Args:              args,
		LatestBlockHeight: 100,
		CodeIDSets: compute.CodeIDSets{
			CodeIDKeyCw20: {1},
			CodeIDKeyDao:  {2},
		},
	}
	out, err := compute.Compute(context.Background(), o,
		models.Block{Height: 50, TimeUnixMs: 50000})
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

func TestCatalogue_RegistersWithoutConflicts(t *testing.T) {
	t.Parallel()
	infos := NewRegistry().List()
	if len(infos) < 30 {
		t.Fatalf("catalogue lists %d formulas, want a full set", len(infos))
	}
	byID := map[string]compute.FormulaInfo{}
	for _, info := range infos {
		byID[string(info.Type)+"/"+info.Name] = info
	}
	if info, ok := byID["contract/cw20/balance"]; !ok || len(info.CodeIDKeys) == 0 {
		t.Errorf("cw20/balance = %+v, want contract formula gated on a code-id set", info)
	}
	if info, ok := byID["generic/chain/stats"]; !ok || !info.Dynamic {
		t.Errorf("chain/stats = %+v, want dynamic generic formula", info)
	}
}

func TestCw20Balance(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	store.stateEvents = append(store.stateEvents,
		stateEvent(t, cw20Contract, 10, `"150"`, "balance", "alice"))

	v, err := run(t, store, compute.FormulaTypeContract, "cw20/balance", cw20Contract,
		map[string]string{"address": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "150" {
		t.Errorf("balance = %v, want 150", v)
	}

	v, err = run(t, store, compute.FormulaTypeContract, "cw20/balance", cw20Contract,
		map[string]string{"address": "nobody"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "0" {
		t.Errorf("unknown holder balance = %v, want 0", v)
	}
}

func TestCw20Balance_MissingArg(t *testing.T) {
	t.Parallel()
	_, err := run(t, newCatalogueStore(), compute.FormulaTypeContract, "cw20/balance", cw20Contract, nil)
	if err == nil {
		t.Fatal("expected an error for the missing address argument")
	}
	if !compute.IsUserError(err) {
		t.Errorf("missing argument should be a user error, got %v", err)
	}
}

func TestCw20Balance_WrongContractKind(t *testing.T) {
	t.Parallel()
	_, err := run(t, newCatalogueStore(), compute.FormulaTypeContract, "cw20/balance", daoContract,
		map[string]string{"address": "alice"})
	if !compute.IsUserError(err) {
		t.Errorf("cw20 formula on a dao contract should fail as not applicable, got %v", err)
	}
}

func TestCw20Summary(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	store.stateEvents = append(store.stateEvents,
		stateEvent(t, cw20Contract, 5, `{"name":"Test","symbol":"TST","total_supply":"1000"}`, "token_info"),
		stateEvent(t, cw20Contract, 10, `"600"`, "balance", "alice"),
		stateEvent(t, cw20Contract, 12, `"400"`, "balance", "bob"),
	)

	v, err := run(t, store, compute.FormulaTypeContract, "cw20/summary", cw20Contract, nil)
	if err != nil {
		t.Fatal(err)
	}
	summary, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("summary = %T, want map", v)
	}
	if summary["holderCount"] != 2 {
		t.Errorf("holderCount = %v, want 2", summary["holderCount"])
	}
	info, _ := summary["tokenInfo"].(map[string]any)
	if info["symbol"] != "TST" {
		t.Errorf("tokenInfo = %v, want symbol TST", summary["tokenInfo"])
	}
}

func TestDaoProposals(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	store.transformations = append(store.transformations,
		&models.Transformation{ContractAddress: daoContract, Name: "config", Value: []byte(`{"name":"Test DAO"}`), BlockHeight: 5},
		&models.Transformation{ContractAddress: daoContract, Name: "proposal:1", Value: []byte(`{"status":"passed"}`), BlockHeight: 10},
		&models.Transformation{ContractAddress: daoContract, Name: "proposal:2", Value: []byte(`{"status":"open"}`), BlockHeight: 20},
		// Latest value NULL means the slot reads as absent.
		&models.Transformation{ContractAddress: daoContract, Name: "proposal:3", Value: nil, BlockHeight: 30},
	)

	v, err := run(t, store, compute.FormulaTypeContract, "dao/proposal-count", daoContract, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("proposal count = %v, want 2 (null-valued slot excluded)", v)
	}

	v, err = run(t, store, compute.FormulaTypeContract, "dao/summary", daoContract, nil)
	if err != nil {
		t.Fatal(err)
	}
	summary := v.(map[string]any)
	config, _ := summary["config"].(map[string]any)
	if config["name"] != "Test DAO" {
		t.Errorf("config = %v, want name Test DAO", summary["config"])
	}
}

func TestDaoList(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	store.transformations = append(store.transformations,
		&models.Transformation{ContractAddress: daoContract, Name: "config", Value: []byte(`{"name":"Test DAO"}`), BlockHeight: 5},
		// A config transformation on a non-dao contract must be filtered out.
		&models.Transformation{ContractAddress: cw20Contract, Name: "config", Value: []byte(`{"name":"impostor"}`), BlockHeight: 6},
	)

	v, err := run(t, store, compute.FormulaTypeGeneric, "dao/list", compute.GenericTarget, nil)
	if err != nil {
		t.Fatal(err)
	}
	daos, ok := v.([]map[string]any)
	if !ok {
		t.Fatalf("dao list = %T, want slice", v)
	}
	if len(daos) != 1 || daos[0]["address"] != daoContract {
		t.Errorf("dao list = %v, want just %s", daos, daoContract)
	}
}

func TestContractInfo(t *testing.T) {
	t.Parallel()
	v, err := run(t, newCatalogueStore(), compute.FormulaTypeContract, "contract/info", cw20Contract, nil)
	if err != nil {
		t.Fatal(err)
	}
	info := v.(map[string]any)
	if info["codeIdKey"] != CodeIDKeyCw20 {
		t.Errorf("codeIdKey = %v, want %s", info["codeIdKey"], CodeIDKeyCw20)
	}
}

func TestContractActivity(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	for h := uint64(1); h <= 5; h++ {
		store.txEvents = append(store.txEvents, &models.WasmTxEvent{
			ContractAddress: cw20Contract,
			Sender:          wallet,
			Action:          "transfer",
			BlockHeight:     h,
		})
	}

	v, err := run(t, store, compute.FormulaTypeContract, "contract/activity", cw20Contract,
		map[string]string{"limit": "3"})
	if err != nil {
		t.Fatal(err)
	}
	events := v.([]map[string]any)
	if len(events) != 3 {
		t.Errorf("activity = %d events, want limit 3", len(events))
	}

	v, err = run(t, store, compute.FormulaTypeContract, "contract/execution-count", cw20Contract, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != 5 {
		t.Errorf("execution count = %v, want 5", v)
	}
}

func TestBankBalances(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	store.bankBalances[wallet] = &models.BankBalance{
		Address:     wallet,
		Balances:    map[string]string{"ujuno": "1000", "uatom": "5"},
		BlockHeight: 10,
	}

	v, err := run(t, store, compute.FormulaTypeAccount, "bank/balance", wallet,
		map[string]string{"denom": "ujuno"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "1000" {
		t.Errorf("balance = %v, want 1000", v)
	}

	v, err = run(t, store, compute.FormulaTypeAccount, "bank/balance", wallet,
		map[string]string{"denom": "uosmo"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "0" {
		t.Errorf("untracked denom = %v, want 0", v)
	}

	v, err = run(t, store, compute.FormulaTypeAccount, "bank/balances", wallet, nil)
	if err != nil {
		t.Fatal(err)
	}
	balances := v.(map[string]string)
	if len(balances) != 2 || balances["uatom"] != "5" {
		t.Errorf("balances = %v, want both denoms", balances)
	}
}

func TestFeegrantHas(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	store.feegrants = append(store.feegrants,
		&models.FeegrantAllowance{Granter: "wasm1granter", Grantee: wallet, Active: true, BlockHeight: 10},
		&models.FeegrantAllowance{Granter: "wasm1revoked", Grantee: wallet, Active: false, BlockHeight: 20},
	)

	v, err := run(t, store, compute.FormulaTypeAccount, "feegrant/has", wallet,
		map[string]string{"granter": "wasm1granter"})
	if err != nil {
		t.Fatal(err)
	}
	if v != true {
		t.Errorf("active grant = %v, want true", v)
	}

	v, err = run(t, store, compute.FormulaTypeAccount, "feegrant/has", wallet,
		map[string]string{"granter": "wasm1revoked"})
	if err != nil {
		t.Fatal(err)
	}
	if v != false {
		t.Errorf("revoked grant = %v, want false", v)
	}
}

func TestStakingSlashCount(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	store.slashes = append(store.slashes,
		&models.StakingSlashEvent{ValidatorOperatorAddress: valoper, RegisteredBlockHeight: 10},
		&models.StakingSlashEvent{ValidatorOperatorAddress: valoper, RegisteredBlockHeight: 20},
	)

	v, err := run(t, store, compute.FormulaTypeValidator, "staking/slash-count", valoper, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("slash count = %v, want 2", v)
	}
}

func TestGovProposalCount(t *testing.T) {
	t.Parallel()
	store := newCatalogueStore()
	store.proposalCount = 7

	v, err := run(t, store, compute.FormulaTypeGeneric, "gov/proposal-count", compute.GenericTarget, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(v) != "7" {
		t.Errorf("proposal count = %v, want 7", v)
	}
}

func TestChainInfo(t *testing.T) {
	t.Parallel()
	v, err := run(t, newCatalogueStore(), compute.FormulaTypeGeneric, "chain/info", compute.GenericTarget, nil)
	if err != nil {
		t.Fatal(err)
	}
	info := v.(map[string]any)
	if info["chainId"] != "testing-1" || info["blockHeight"] != uint64(50) {
		t.Errorf("chain info = %v, want chain testing-1 at block 50", info)
	}
}

func TestChainStats_Dynamic(t *testing.T) {
	t.Parallel()
	v, err := run(t, newCatalogueStore(), compute.FormulaTypeGeneric, "chain/stats", compute.GenericTarget, nil)
	if err != nil {
		t.Fatal(err)
	}
	stats, ok := v.(map[string]any)
	if !ok || stats["contracts"] == nil {
		t.Errorf("stats = %v, want row with counters", v)
	}
	b, err := json.Marshal(v)
	if err != nil || len(b) == 0 {
		t.Errorf("stats should encode to JSON: %v", err)
	}
}
