package compute

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds the engine distinguishes. Callers
// classify with errors.Is; anything not matching one of these (and not a
// FormulaError) is a transport error and surfaces unchanged.
var (
	// ErrFormulaNotFound: no formula registered under (type, name).
	ErrFormulaNotFound = errors.New("formula not found")

	// ErrNotFound: a typed address is required but has no row (contract or
	// validator missing).
	ErrNotFound = errors.New("not found")

	// ErrNotApplicable: the target exists but the formula cannot run on it
	// (code-id filter miss, or a dynamic formula requested over a range).
	ErrNotApplicable = errors.New("not applicable")

	// ErrBadInput: malformed block/time range, non-positive step, bad
	// argument syntax.
	ErrBadInput = errors.New("bad input")

	// ErrTypeMismatch: a memoised row under a namespace is not of that
	// namespace's event family. Internal invariant violation; the
	// evaluation aborts and nothing is persisted.
	ErrTypeMismatch = errors.New("unexpected event type for namespace")
)

// FormulaError wraps any failure raised inside a formula body, including
// environment misuse. It is a user error: the formula's message passes
// through verbatim and the computation is never retried or persisted.
type FormulaError struct {
	Formula string
	Err     error
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula %s: %v", e.Formula, e.Err)
}

func (e *FormulaError) Unwrap() error { return e.Err }

// IsUserError reports whether err is attributable to the request rather
// than the system: unknown formula, missing typed address, inapplicable
// formula, malformed input, or a failure inside the formula itself.
func IsUserError(err error) bool {
	var fe *FormulaError
	return errors.Is(err, ErrFormulaNotFound) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotApplicable) ||
		errors.Is(err, ErrBadInput) ||
		errors.As(err, &fe)
}

// transportError marks a failure that reached the formula from the store.
// Compute strips the marker and surfaces the store error unchanged instead
// of attributing it to the formula.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }
