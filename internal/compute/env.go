package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"wasmscan/internal/models"
)

// CodeIDSets maps a configured code-id key to the code ids it names.
// Formulas and filters refer to contracts by these keys rather than by raw
// code ids, which differ per chain.
type CodeIDSets map[string][]uint64

// Env is the read surface handed to a formula body. Every getter records
// the dependent keys it is about to answer from before touching the store,
// and memoises fetched rows for the remainder of the evaluation. All reads
// resolve against the environment's block: point lookups return the most
// recent row at or below it.
type Env struct {
	store         EventStore
	chainID       string
	block         models.Block
	date          uint64
	targetAddress string
	args          map[string]string

	rec     *recorder
	cache   *evalCache
	onFetch func(rowsFetched int)

	codeIDSets  CodeIDSets
	bankHistory map[uint64]struct{}
}

func newEnv(o *Options, block models.Block) *Env {
	date := uint64(time.Now().UnixMilli())
	if o.UseBlockDate {
		date = block.TimeUnixMs
	}
	return &Env{
		store:         o.Store,
		chainID:       o.ChainID,
		block:         block,
		date:          date,
		targetAddress: o.TargetAddress,
		args:          o.Args,
		rec:           newRecorder(),
		cache:         newEvalCache(),
		onFetch:       o.OnFetch,
		codeIDSets:    o.CodeIDSets,
		bankHistory:   resolveCodeIDSet(o.CodeIDSets, o.BankHistoryCodeIDKeys),
	}
}

func resolveCodeIDSet(sets CodeIDSets, keys []string) map[uint64]struct{} {
	out := make(map[uint64]struct{})
	for _, key := range keys {
		for _, id := range sets[key] {
			out[id] = struct{}{}
		}
	}
	return out
}

// ChainID returns the chain the indexed state belongs to.
func (e *Env) ChainID() string { return e.chainID }

// Block returns the block the evaluation is pinned to.
func (e *Env) Block() models.Block { return e.block }

// Date returns the evaluation date in Unix milliseconds: the block's
// timestamp in block-date mode, otherwise the wall clock captured when
// the environment was built.
func (e *Env) Date() uint64 { return e.date }

// TargetAddress returns the address the formula runs against: the contract
// address for contract formulas, the operator address for validator
// formulas, the wallet for account formulas.
func (e *Env) TargetAddress() string { return e.targetAddress }

// Arg returns a formula argument by name.
func (e *Env) Arg(name string) (string, bool) {
	v, ok := e.args[name]
	return v, ok
}

// RequiredArg returns a formula argument by name, failing the evaluation
// when it is missing or empty.
func (e *Env) RequiredArg(name string) (string, error) {
	if v, ok := e.args[name]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing required argument %q", name)
}

func (e *Env) fetched(rows int) {
	if e.onFetch != nil && rows > 0 {
		e.onFetch(rows)
	}
}

// --- wasm state ---

// stateEventByKey returns the latest event for one exact key, memoised.
// The returned row may be a tombstone; callers apply shadowing.
func (e *Env) stateEventByKey(ctx context.Context, contract, hexKey string) (*models.WasmStateEvent, error) {
	depKey := models.DependentKey(models.NamespaceWasmState, contract, hexKey)
	e.rec.record(depKey, false)

	if rows, ok := e.cache.getExact(depKey); ok {
		if len(rows) == 0 {
			return nil, nil
		}
		ev, ok := rows[0].(*models.WasmStateEvent)
		if !ok {
			return nil, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, rows[0], depKey)
		}
		return ev, nil
	}

	ev, err := e.store.GetWasmStateEvent(ctx, contract, hexKey, e.block.Height)
	if err != nil {
		return nil, &transportError{err}
	}
	if ev == nil {
		e.cache.putExact(depKey, nil)
		return nil, nil
	}
	e.cache.putExact(depKey, []models.Dependable{ev})
	e.fetched(1)
	return ev, nil
}

// Get reads one contract state value at the evaluation block. The key is
// composed from the given segments; the stored value is decoded from JSON.
// The second return is false when the key has never been set or its latest
// row is a tombstone.
func (e *Env) Get(ctx context.Context, contract string, keySegments ...any) (any, bool, error) {
	hexKey, err := ComposeKey(keySegments...)
	if err != nil {
		return nil, false, err
	}
	ev, err := e.stateEventByKey(ctx, contract, hexKey)
	if err != nil {
		return nil, false, err
	}
	if ev == nil || ev.Deleted {
		return nil, false, nil
	}
	var v any
	if err := json.Unmarshal(ev.Value, &v); err != nil {
		return nil, false, fmt.Errorf("decode value for key %s: %w", hexKey, err)
	}
	return v, true, nil
}

// GetMap reads every live key under a map prefix and returns suffix -> value.
// keyType selects how the trailing key segment decodes back into a map key.
func (e *Env) GetMap(ctx context.Context, contract string, keyType KeyType, mapSegments ...any) (map[string]any, error) {
	prefixHex, err := ComposeKeyPrefix(mapSegments...)
	if err != nil {
		return nil, err
	}
	depKey := models.DependentKey(models.NamespaceWasmState, contract, prefixHex)
	e.rec.record(depKey, true)

	rows, ok := e.cache.getPrefix(depKey)
	if !ok {
		evs, err := e.store.ListWasmStateEventsByPrefix(ctx, contract, prefixHex, e.block.Height)
		if err != nil {
			return nil, &transportError{err}
		}
		rows = make([]models.Dependable, len(evs))
		for i, ev := range evs {
			rows[i] = ev
		}
		e.cache.putPrefix(depKey, rows)
		e.fetched(len(rows))
	}

	out := make(map[string]any, len(rows))
	for _, row := range rows {
		ev, ok := row.(*models.WasmStateEvent)
		if !ok {
			return nil, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, row, depKey)
		}
		if ev.Deleted {
			continue
		}
		mapKey, err := decodeTrailingSegment(strings.TrimPrefix(ev.Key, prefixHex), keyType)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(ev.Value, &v); err != nil {
			return nil, fmt.Errorf("decode value for key %s: %w", ev.Key, err)
		}
		out[mapKey] = v
	}
	return out, nil
}

// GetDateKeyModified returns the timestamp of the latest write to a key,
// tombstones included. False when the key has never been written.
func (e *Env) GetDateKeyModified(ctx context.Context, contract string, keySegments ...any) (uint64, bool, error) {
	hexKey, err := ComposeKey(keySegments...)
	if err != nil {
		return 0, false, err
	}
	ev, err := e.stateEventByKey(ctx, contract, hexKey)
	if err != nil || ev == nil {
		return 0, false, err
	}
	return ev.BlockTimeUnixMs, true, nil
}

// GetDateKeyFirstSet returns the timestamp of the first live write to a
// key at or below the evaluation block. It reads ascending and bypasses
// the memo, which only holds latest rows.
func (e *Env) GetDateKeyFirstSet(ctx context.Context, contract string, keySegments ...any) (uint64, bool, error) {
	return e.dateKeyFirstSet(ctx, contract, nil, keySegments...)
}

// GetDateKeyFirstSetWithValueMatch is GetDateKeyFirstSet restricted to
// writes whose value contains the given predicate.
func (e *Env) GetDateKeyFirstSetWithValueMatch(ctx context.Context, contract string, valueMatch map[string]any, keySegments ...any) (uint64, bool, error) {
	whereJSON, err := json.Marshal(valueMatch)
	if err != nil {
		return 0, false, fmt.Errorf("encode value match: %w", err)
	}
	return e.dateKeyFirstSet(ctx, contract, whereJSON, keySegments...)
}

func (e *Env) dateKeyFirstSet(ctx context.Context, contract string, valueMatch []byte, keySegments ...any) (uint64, bool, error) {
	hexKey, err := ComposeKey(keySegments...)
	if err != nil {
		return 0, false, err
	}
	depKey := models.DependentKey(models.NamespaceWasmState, contract, hexKey)
	e.rec.record(depKey, false)

	ev, err := e.store.GetFirstWasmStateEvent(ctx, contract, hexKey, e.block.Height, valueMatch)
	if err != nil {
		return 0, false, &transportError{err}
	}
	if ev == nil {
		return 0, false, nil
	}
	e.fetched(1)
	return ev.BlockTimeUnixMs, true, nil
}

// PrefetchKey names one state key (or key prefix) to load in a batch.
type PrefetchKey struct {
	Segments []any
	Prefix   bool
}

// Prefetch batch-loads the latest rows for a mix of exact keys and key
// prefixes in a single query and seeds the memo, so later point and map
// reads inside the prefetched window cost no further database work.
func (e *Env) Prefetch(ctx context.Context, contract string, keys ...PrefetchKey) error {
	var exact, prefixes []string
	for _, k := range keys {
		if k.Prefix {
			p, err := ComposeKeyPrefix(k.Segments...)
			if err != nil {
				return err
			}
			e.rec.record(models.DependentKey(models.NamespaceWasmState, contract, p), true)
			prefixes = append(prefixes, p)
		} else {
			hexKey, err := ComposeKey(k.Segments...)
			if err != nil {
				return err
			}
			e.rec.record(models.DependentKey(models.NamespaceWasmState, contract, hexKey), false)
			exact = append(exact, hexKey)
		}
	}

	evs, err := e.store.ListWasmStateEventsForKeys(ctx, contract, exact, prefixes, e.block.Height)
	if err != nil {
		return &transportError{err}
	}
	e.fetched(len(evs))

	for _, k := range exact {
		depKey := models.DependentKey(models.NamespaceWasmState, contract, k)
		var rows []models.Dependable
		for _, ev := range evs {
			if ev.Key == k {
				rows = append(rows, ev)
				break
			}
		}
		e.cache.putExact(depKey, rows)
	}
	for _, p := range prefixes {
		depKey := models.DependentKey(models.NamespaceWasmState, contract, p)
		var rows []models.Dependable
		for _, ev := range evs {
			if strings.HasPrefix(ev.Key, p) {
				rows = append(rows, ev)
			}
		}
		e.cache.putPrefix(depKey, rows)
	}
	return nil
}

// --- transformations ---

// TransformationMatch is one transformation row resolved at the evaluation
// block, with its value decoded.
type TransformationMatch struct {
	ContractAddress string
	Name            string
	Value           any
	BlockHeight     uint64
	BlockTimeUnixMs uint64
}

// TransformationMatchOptions narrows a transformation pattern read. Where
// is a containment predicate on the value; WhereName is a second glob the
// matched name must also satisfy; CodeIDKeys restricts matches to
// contracts in the named code-id sets and is applied after the query.
type TransformationMatchOptions struct {
	Where      map[string]any
	WhereName  string
	CodeIDKeys []string
	Limit      int
}

// GetTransformationMatches returns the latest live transformation per
// (contract, name) slot matching nameLike at the evaluation block. An
// empty contract matches any contract; '*' in nameLike is a wildcard.
func (e *Env) GetTransformationMatches(ctx context.Context, contract, nameLike string, opts *TransformationMatchOptions) ([]TransformationMatch, error) {
	if opts == nil {
		opts = &TransformationMatchOptions{}
	}
	subject := contract
	if subject == "" {
		subject = models.AnySubject
	}
	depKey := models.DependentKey(models.NamespaceWasmTransformation, subject, nameLike)
	e.rec.record(depKey, false)

	// Value and name predicates change the row set, so only the plain
	// pattern read is memoisable; the code-id filter runs after the query
	// and does not affect cacheability.
	memoisable := opts.Where == nil && opts.WhereName == ""

	var rows []models.Dependable
	if cached, ok := e.cache.exact[depKey]; memoisable && ok {
		rows = cached
	} else {
		var whereJSON []byte
		if opts.Where != nil {
			var err error
			whereJSON, err = json.Marshal(opts.Where)
			if err != nil {
				return nil, fmt.Errorf("encode value predicate: %w", err)
			}
		}
		ts, err := e.store.ListTransformations(ctx, contract, nameLike, false, opts.WhereName, whereJSON, e.block.Height)
		if err != nil {
			return nil, &transportError{err}
		}
		rows = make([]models.Dependable, len(ts))
		for i, t := range ts {
			rows[i] = t
		}
		if memoisable {
			e.cache.putExact(depKey, rows)
		}
		e.fetched(len(rows))
	}

	var out []TransformationMatch
	for _, row := range rows {
		t, ok := row.(*models.Transformation)
		if !ok {
			return nil, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, row, depKey)
		}
		if t.Value == nil {
			continue
		}
		if len(opts.CodeIDKeys) > 0 {
			match, err := e.ContractMatchesCodeIDKeys(ctx, t.ContractAddress, opts.CodeIDKeys...)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		var v any
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return nil, fmt.Errorf("decode transformation %s:%s: %w", t.ContractAddress, t.Name, err)
		}
		out = append(out, TransformationMatch{
			ContractAddress: t.ContractAddress,
			Name:            t.Name,
			Value:           v,
			BlockHeight:     t.BlockHeight,
			BlockTimeUnixMs: t.BlockTimeUnixMs,
		})
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetTransformationMatch returns the first match for the pattern, nil when
// nothing matches.
func (e *Env) GetTransformationMatch(ctx context.Context, contract, nameLike string, opts *TransformationMatchOptions) (*TransformationMatch, error) {
	limited := TransformationMatchOptions{Limit: 1}
	if opts != nil {
		limited = *opts
		limited.Limit = 1
	}
	matches, err := e.GetTransformationMatches(ctx, contract, nameLike, &limited)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// GetTransformationMap reads every live transformation named
// "namePrefix:<suffix>" on a contract and returns suffix -> value.
func (e *Env) GetTransformationMap(ctx context.Context, contract, namePrefix string) (map[string]any, error) {
	pref := namePrefix + ":"
	depKey := models.DependentKey(models.NamespaceWasmTransformation, contract, pref)
	e.rec.record(depKey, true)

	rows, ok := e.cache.getPrefix(depKey)
	if !ok {
		ts, err := e.store.ListTransformations(ctx, contract, pref, true, "", nil, e.block.Height)
		if err != nil {
			return nil, &transportError{err}
		}
		rows = make([]models.Dependable, len(ts))
		for i, t := range ts {
			rows[i] = t
		}
		e.cache.putPrefix(depKey, rows)
		e.fetched(len(rows))
	}

	out := make(map[string]any, len(rows))
	for _, row := range rows {
		t, ok := row.(*models.Transformation)
		if !ok {
			return nil, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, row, depKey)
		}
		if t.Value == nil {
			continue
		}
		var v any
		if err := json.Unmarshal(t.Value, &v); err != nil {
			return nil, fmt.Errorf("decode transformation %s:%s: %w", t.ContractAddress, t.Name, err)
		}
		out[strings.TrimPrefix(t.Name, pref)] = v
	}
	return out, nil
}

// GetDateFirstTransformed returns the timestamp of the first live
// transformation matching the pattern at or below the evaluation block.
// Like GetDateKeyFirstSet it reads ascending and bypasses the memo.
func (e *Env) GetDateFirstTransformed(ctx context.Context, contract, nameLike, whereName string) (uint64, bool, error) {
	subject := contract
	if subject == "" {
		subject = models.AnySubject
	}
	depKey := models.DependentKey(models.NamespaceWasmTransformation, subject, nameLike)
	e.rec.record(depKey, false)

	t, err := e.store.GetFirstTransformation(ctx, contract, nameLike, whereName, e.block.Height)
	if err != nil {
		return 0, false, &transportError{err}
	}
	if t == nil {
		return 0, false, nil
	}
	e.fetched(1)
	return t.BlockTimeUnixMs, true, nil
}

// PrefetchName names one transformation name (or name prefix) to batch-load.
type PrefetchName struct {
	Name   string
	Prefix bool
}

// PrefetchTransformations batch-loads the latest transformations for a mix
// of exact names and name prefixes on one contract and seeds the memo.
func (e *Env) PrefetchTransformations(ctx context.Context, contract string, names ...PrefetchName) error {
	var exact, prefixes []string
	for _, n := range names {
		if n.Prefix {
			p := n.Name + ":"
			e.rec.record(models.DependentKey(models.NamespaceWasmTransformation, contract, p), true)
			prefixes = append(prefixes, p)
		} else {
			e.rec.record(models.DependentKey(models.NamespaceWasmTransformation, contract, n.Name), false)
			exact = append(exact, n.Name)
		}
	}

	ts, err := e.store.ListTransformationsForNames(ctx, contract, exact, prefixes, e.block.Height)
	if err != nil {
		return &transportError{err}
	}
	e.fetched(len(ts))

	for _, name := range exact {
		depKey := models.DependentKey(models.NamespaceWasmTransformation, contract, name)
		var rows []models.Dependable
		for _, t := range ts {
			if t.Name == name {
				rows = append(rows, t)
				break
			}
		}
		e.cache.putExact(depKey, rows)
	}
	for _, p := range prefixes {
		depKey := models.DependentKey(models.NamespaceWasmTransformation, contract, p)
		var rows []models.Dependable
		for _, t := range ts {
			if strings.HasPrefix(t.Name, p) {
				rows = append(rows, t)
			}
		}
		e.cache.putPrefix(depKey, rows)
	}
	return nil
}

// --- contracts ---

// contractByAddress memoises contract registry lookups. Contracts are not
// an event family, so no dependency is recorded.
func (e *Env) contractByAddress(ctx context.Context, address string) (*models.Contract, error) {
	if c, ok := e.cache.contracts[address]; ok {
		return c, nil
	}
	c, err := e.store.GetContract(ctx, address)
	if err != nil {
		return nil, &transportError{err}
	}
	e.cache.contracts[address] = c
	return c, nil
}

// GetContract returns the contract registry row for an address. When
// codeIDKeys are given, a contract outside those sets reads as absent.
func (e *Env) GetContract(ctx context.Context, address string, codeIDKeys ...string) (*models.Contract, bool, error) {
	c, err := e.contractByAddress(ctx, address)
	if err != nil || c == nil {
		return nil, false, err
	}
	if len(codeIDKeys) > 0 {
		if _, ok := resolveCodeIDSet(e.codeIDSets, codeIDKeys)[c.CodeID]; !ok {
			return nil, false, nil
		}
	}
	return c, true, nil
}

// ContractMatchesCodeIDKeys reports whether the contract exists and its
// code id belongs to one of the named sets.
func (e *Env) ContractMatchesCodeIDKeys(ctx context.Context, address string, codeIDKeys ...string) (bool, error) {
	_, ok, err := e.GetContract(ctx, address, codeIDKeys...)
	return ok, err
}

// GetCodeIDKeyForContract returns the first configured code-id key (in
// lexical order) whose set contains the contract's code id.
func (e *Env) GetCodeIDKeyForContract(ctx context.Context, address string) (string, bool, error) {
	c, err := e.contractByAddress(ctx, address)
	if err != nil || c == nil {
		return "", false, err
	}
	keys := make([]string, 0, len(e.codeIDSets))
	for k := range e.codeIDSets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, id := range e.codeIDSets[key] {
			if id == c.CodeID {
				return key, true, nil
			}
		}
	}
	return "", false, nil
}
