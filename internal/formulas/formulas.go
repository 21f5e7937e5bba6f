// Package formulas holds the built-in formula catalogue. Formula bodies
// read exclusively through the compute environment so that recorded
// dependencies fully determine each output.
package formulas

import (
	"fmt"
	"strconv"

	"wasmscan/internal/compute"
)

// Code-id set keys the catalogue refers to. The ids behind each key come
// from configuration, since they differ per chain.
const (
	CodeIDKeyCw20 = "cw20"
	CodeIDKeyDao  = "dao"
)

// Register installs every built-in formula into the registry.
func Register(r *compute.Registry) {
	registerCw20(r)
	registerDao(r)
	registerContract(r)
	registerAccount(r)
	registerValidator(r)
	registerGov(r)
	registerChain(r)
}

// NewRegistry returns a registry preloaded with the built-in catalogue.
func NewRegistry() *compute.Registry {
	r := compute.NewRegistry()
	Register(r)
	return r
}

func intArg(e *compute.Env, name string, def int) (int, error) {
	v, ok := e.Arg(name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("argument %q must be an integer: %v", name, err)
	}
	return n, nil
}

func uint64Arg(e *compute.Env, name string) (uint64, error) {
	v, err := e.RequiredArg(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q must be a non-negative integer: %v", name, err)
	}
	return n, nil
}

func boolArg(e *compute.Env, name string) bool {
	v, _ := e.Arg(name)
	return v == "true" || v == "1"
}
