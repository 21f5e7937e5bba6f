package compute

import (
	"context"
	"fmt"
	"sort"
)

// FormulaType names the kind of target a formula runs against.
type FormulaType string

const (
	// FormulaTypeContract formulas require the target to be a known
	// contract; the engine loads its row before evaluation.
	FormulaTypeContract FormulaType = "contract"
	// FormulaTypeValidator formulas require a known validator operator
	// address.
	FormulaTypeValidator FormulaType = "validator"
	// FormulaTypeAccount formulas run against any wallet address.
	FormulaTypeAccount FormulaType = "account"
	// FormulaTypeGeneric formulas take no meaningful target; the target
	// path segment is normalized to "_".
	FormulaTypeGeneric FormulaType = "generic"
)

// GenericTarget is the normalized target address stored for generic
// formula computations.
const GenericTarget = "_"

// FormulaFunc is a formula body. It must derive its output only from the
// environment's getters so that the recorded dependencies fully determine
// the result.
type FormulaFunc func(ctx context.Context, e *Env) (any, error)

// Formula is one registered computation over indexed state.
type Formula struct {
	Type FormulaType
	Name string

	// CodeIDKeys restricts a contract formula to contracts whose code id
	// belongs to one of the named configured sets. Empty means any
	// contract.
	CodeIDKeys []string

	// Dynamic marks formulas whose output is not a pure function of
	// indexed state at a block (raw SQL, unrecorded inputs). Dynamic
	// results are never persisted and ranges over them are rejected.
	Dynamic bool

	Docs string

	Compute FormulaFunc
}

// ID returns the formula's registry identity, "type/name". It is the
// formula column of persisted computations.
func (f *Formula) ID() string {
	return string(f.Type) + "/" + f.Name
}

// FormulaInfo is the listing view of a registered formula.
type FormulaInfo struct {
	Type       FormulaType `json:"type"`
	Name       string      `json:"name"`
	CodeIDKeys []string    `json:"code_id_keys,omitempty"`
	Dynamic    bool        `json:"dynamic,omitempty"`
	Docs       string      `json:"docs,omitempty"`
}

// Registry holds the formula catalogue. Registration happens once at
// startup; lookups afterwards are read-only, so no locking is needed.
type Registry struct {
	formulas map[FormulaType]map[string]*Formula
}

func NewRegistry() *Registry {
	return &Registry{formulas: make(map[FormulaType]map[string]*Formula)}
}

// Register adds a formula to the catalogue. It panics on an invalid or
// duplicate registration, since the catalogue is assembled statically.
func (r *Registry) Register(f *Formula) {
	switch f.Type {
	case FormulaTypeContract, FormulaTypeValidator, FormulaTypeAccount, FormulaTypeGeneric:
	default:
		panic(fmt.Sprintf("register formula %q: unknown type %q", f.Name, f.Type))
	}
	if f.Name == "" || f.Compute == nil {
		panic(fmt.Sprintf("register formula %q: missing name or body", f.Name))
	}
	byName := r.formulas[f.Type]
	if byName == nil {
		byName = make(map[string]*Formula)
		r.formulas[f.Type] = byName
	}
	if _, ok := byName[f.Name]; ok {
		panic(fmt.Sprintf("register formula: duplicate %s/%s", f.Type, f.Name))
	}
	byName[f.Name] = f
}

// Get returns the formula registered under (type, name).
func (r *Registry) Get(typ FormulaType, name string) (*Formula, error) {
	if f, ok := r.formulas[typ][name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrFormulaNotFound, typ, name)
}

// List returns every registered formula, sorted by type then name.
func (r *Registry) List() []FormulaInfo {
	var out []FormulaInfo
	for typ, byName := range r.formulas {
		for _, f := range byName {
			out = append(out, FormulaInfo{
				Type:       typ,
				Name:       f.Name,
				CodeIDKeys: f.CodeIDKeys,
				Dynamic:    f.Dynamic,
				Docs:       f.Docs,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}
