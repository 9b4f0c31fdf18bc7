// Package claims implements the transferable borrower and lender notes. A
// note is minted by the ledger when a loan starts, references exactly one
// loan for life and can only be burned by its holder once that loan is
// terminal.
package claims

import (
	"fmt"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
)

// Kind distinguishes the two note registries.
type Kind string

const (
	KindBorrower Kind = "borrower"
	KindLender   Kind = "lender"
)

func (k Kind) Valid() bool { return k == KindBorrower || k == KindLender }

var (
	ErrUnknownNote      = coreerrors.New(coreerrors.ClassNotFound, "claims: unknown note")
	ErrNotHolder        = coreerrors.New(coreerrors.ClassUnauthorized, "claims: caller does not hold note")
	ErrNotApproved      = coreerrors.New(coreerrors.ClassUnauthorized, "claims: caller not approved for note")
	ErrMintUnauthorized = coreerrors.New(coreerrors.ClassUnauthorized, "claims: caller is not the minter")
	ErrLoanNotTerminal  = coreerrors.New(coreerrors.ClassInvalidState, "claims: loan is not terminal")
	ErrAlreadyMinted    = coreerrors.New(coreerrors.ClassInvalidState, "claims: note already minted for loan")
	ErrZeroAddress      = coreerrors.New(coreerrors.ClassInvalidArgument, "claims: zero address")
	errNoLoanView       = coreerrors.New(coreerrors.ClassInternal, "claims: loan view not configured")
)

// LoanView reports the lifecycle of the loan a note references.
type LoanView interface {
	IsTerminal(ctx *exec.Context, loanID uint64) (bool, error)
}

// Config describes a note registry deployment.
type Config struct {
	Address crypto.Address
	Kind    Kind
	// Minter is the ledger allowed to mint notes.
	Minter crypto.Address
}

// Registry stores one kind of note.
type Registry struct {
	addr   crypto.Address
	kind   Kind
	minter crypto.Address
	loans  LoanView
}

// NewRegistry validates cfg and returns the registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Address.IsZero() || cfg.Minter.IsZero() {
		return nil, fmt.Errorf("%w: registry address and minter required", ErrZeroAddress)
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("claims: unknown note kind %q", cfg.Kind)
	}
	return &Registry{addr: cfg.Address, kind: cfg.Kind, minter: cfg.Minter}, nil
}

// SetLoanView wires the loan lifecycle reader consulted on burn.
func (r *Registry) SetLoanView(view LoanView) {
	if r == nil {
		return
	}
	r.loans = view
}

func (r *Registry) Address() crypto.Address { return r.addr }

func (r *Registry) Kind() Kind { return r.kind }

func (r *Registry) prefix() string {
	return "claims/" + r.addr.Hex() + "/"
}

func (r *Registry) counterKey() []byte { return []byte(r.prefix() + "next") }

func (r *Registry) ownerKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%sowner/%d", r.prefix(), id))
}

func (r *Registry) loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%sloan/%d", r.prefix(), id))
}

func (r *Registry) noteKey(loanID uint64) []byte {
	return []byte(fmt.Sprintf("%snote/%d", r.prefix(), loanID))
}

func (r *Registry) approvalKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%sapproval/%d", r.prefix(), id))
}

// Mint issues a note for loanID to to and returns its id. Ids start at 1.
func (r *Registry) Mint(ctx *exec.Context, to crypto.Address, loanID uint64) (uint64, error) {
	if ctx.Caller() != r.minter {
		return 0, fmt.Errorf("%w: %s", ErrMintUnauthorized, ctx.Caller())
	}
	if to.IsZero() {
		return 0, fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	existing, err := r.NoteOf(ctx, loanID)
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return 0, fmt.Errorf("%w: loan %d has %s note %d", ErrAlreadyMinted, loanID, r.kind, existing)
	}
	var last uint64
	if _, err := ctx.State().KVGet(r.counterKey(), &last); err != nil {
		return 0, err
	}
	id := last + 1
	state := ctx.State()
	if err := state.KVPut(r.counterKey(), id); err != nil {
		return 0, err
	}
	if err := state.KVPut(r.ownerKey(id), to); err != nil {
		return 0, err
	}
	if err := state.KVPut(r.loanKey(id), loanID); err != nil {
		return 0, err
	}
	if err := state.KVPut(r.noteKey(loanID), id); err != nil {
		return 0, err
	}
	ctx.Emit(Minted{Registry: r.addr, Kind: r.kind, NoteID: id, LoanID: loanID, To: to})
	return id, nil
}

// OwnerOf returns the holder of a live note.
func (r *Registry) OwnerOf(ctx *exec.Context, id uint64) (crypto.Address, error) {
	var owner crypto.Address
	ok, err := ctx.State().KVGet(r.ownerKey(id), &owner)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, fmt.Errorf("%w: %s note %d", ErrUnknownNote, r.kind, id)
	}
	return owner, nil
}

// LoanOf returns the loan a note references. The mapping survives burn.
func (r *Registry) LoanOf(ctx *exec.Context, id uint64) (uint64, error) {
	var loanID uint64
	ok, err := ctx.State().KVGet(r.loanKey(id), &loanID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s note %d", ErrUnknownNote, r.kind, id)
	}
	return loanID, nil
}

// NoteOf returns the note minted for loanID, or zero when none was.
func (r *Registry) NoteOf(ctx *exec.Context, loanID uint64) (uint64, error) {
	var id uint64
	if _, err := ctx.State().KVGet(r.noteKey(loanID), &id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetApproved returns the account approved to move note id.
func (r *Registry) GetApproved(ctx *exec.Context, id uint64) (crypto.Address, error) {
	var approved crypto.Address
	if _, err := ctx.State().KVGet(r.approvalKey(id), &approved); err != nil {
		return crypto.Address{}, err
	}
	return approved, nil
}

// Approve lets spender move note id once. Only the holder may approve.
func (r *Registry) Approve(ctx *exec.Context, spender crypto.Address, id uint64) error {
	owner, err := r.OwnerOf(ctx, id)
	if err != nil {
		return err
	}
	if owner != ctx.Caller() {
		return fmt.Errorf("%w: %s note %d", ErrNotHolder, r.kind, id)
	}
	if spender.IsZero() {
		return ctx.State().KVDelete(r.approvalKey(id))
	}
	return ctx.State().KVPut(r.approvalKey(id), spender)
}

// Transfer moves a note held by the caller to to.
func (r *Registry) Transfer(ctx *exec.Context, to crypto.Address, id uint64) error {
	return r.TransferFrom(ctx, ctx.Caller(), to, id)
}

// TransferFrom moves note id from from to to. The caller must hold the note
// or be its approved spender.
func (r *Registry) TransferFrom(ctx *exec.Context, from, to crypto.Address, id uint64) error {
	if to.IsZero() {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	owner, err := r.OwnerOf(ctx, id)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: %s does not hold %s note %d", ErrNotHolder, from, r.kind, id)
	}
	if caller := ctx.Caller(); caller != owner {
		approved, err := r.GetApproved(ctx, id)
		if err != nil {
			return err
		}
		if approved != caller {
			return fmt.Errorf("%w: %s on %s note %d", ErrNotApproved, caller, r.kind, id)
		}
	}
	if err := ctx.State().KVDelete(r.approvalKey(id)); err != nil {
		return err
	}
	if err := ctx.State().KVPut(r.ownerKey(id), to); err != nil {
		return err
	}
	ctx.Emit(Transferred{Registry: r.addr, Kind: r.kind, NoteID: id, From: from, To: to})
	return nil
}

// Burn destroys a note. Only the holder may burn, and only once the
// referenced loan is terminal.
func (r *Registry) Burn(ctx *exec.Context, id uint64) error {
	if r.loans == nil {
		return errNoLoanView
	}
	owner, err := r.OwnerOf(ctx, id)
	if err != nil {
		return err
	}
	if owner != ctx.Caller() {
		return fmt.Errorf("%w: %s note %d", ErrNotHolder, r.kind, id)
	}
	loanID, err := r.LoanOf(ctx, id)
	if err != nil {
		return err
	}
	terminal, err := r.loans.IsTerminal(ctx, loanID)
	if err != nil {
		return err
	}
	if !terminal {
		return fmt.Errorf("%w: loan %d", ErrLoanNotTerminal, loanID)
	}
	if err := ctx.State().KVDelete(r.ownerKey(id)); err != nil {
		return err
	}
	if err := ctx.State().KVDelete(r.approvalKey(id)); err != nil {
		return err
	}
	ctx.Emit(Burned{Registry: r.addr, Kind: r.kind, NoteID: id, LoanID: loanID, Holder: owner})
	return nil
}
