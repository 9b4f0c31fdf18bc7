// Package access implements the capability table that gates privileged
// ledger operations. Each operation maps to a predicate evaluated against the
// immediate caller of the unit; role membership lives in journaled state so
// grants revert together with the unit that made them.
package access

import (
	"fmt"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
)

// Role names a capability holder set.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleOriginator Role = "originator"
	RoleRepayer    Role = "repayer"
)

// Operation names a guarded entry point.
type Operation string

var (
	ErrUnauthorized = coreerrors.New(coreerrors.ClassUnauthorized, "access: caller not authorized")
	ErrAdminExists  = coreerrors.New(coreerrors.ClassInvalidState, "access: admin already bootstrapped")
	ErrUnknownRole  = coreerrors.New(coreerrors.ClassInvalidArgument, "access: unknown role")
	ErrNoRule       = coreerrors.New(coreerrors.ClassUnauthorized, "access: operation has no rule")
	errZeroMember   = coreerrors.New(coreerrors.ClassInvalidArgument, "access: member address required")
	errNilRoles     = coreerrors.New(coreerrors.ClassInternal, "access: roles not configured")
)

const adminBootstrapKey = "bootstrapped"

// Predicate decides whether the caller of ctx may run an operation.
type Predicate func(ctx *exec.Context) (bool, error)

// Table maps operations to predicates. It is immutable after construction.
type Table struct {
	rules map[Operation]Predicate
}

// NewTable copies the supplied rules into a new table.
func NewTable(rules map[Operation]Predicate) *Table {
	copied := make(map[Operation]Predicate, len(rules))
	for op, rule := range rules {
		copied[op] = rule
	}
	return &Table{rules: copied}
}

// Authorize evaluates the rule registered for op. Operations without a rule
// are denied.
func (t *Table) Authorize(ctx *exec.Context, op Operation) error {
	if t == nil {
		return ErrNoRule
	}
	rule, ok := t.rules[op]
	if !ok || rule == nil {
		return fmt.Errorf("%w: %s", ErrNoRule, op)
	}
	allowed, err := rule(ctx)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s by %s", ErrUnauthorized, op, ctx.Caller())
	}
	return nil
}

// Operations lists the operations with a registered rule.
func (t *Table) Operations() []Operation {
	if t == nil {
		return nil
	}
	out := make([]Operation, 0, len(t.rules))
	for op := range t.rules {
		out = append(out, op)
	}
	return out
}

// Caller returns a predicate that admits exactly addr.
func Caller(addr crypto.Address) Predicate {
	return func(ctx *exec.Context) (bool, error) {
		return ctx.Caller() == addr, nil
	}
}

// AnyOf admits the caller when any predicate does.
func AnyOf(predicates ...Predicate) Predicate {
	return func(ctx *exec.Context) (bool, error) {
		for _, p := range predicates {
			ok, err := p(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}
