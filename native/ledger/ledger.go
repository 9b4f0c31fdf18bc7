// Package ledger owns loan records. It enforces the forward-only lifecycle
// Created -> Active -> {Repaid | Defaulted}, keeps at most one open loan per
// collateral asset and accounts every inbound currency movement by measuring
// its own balance instead of trusting declared amounts.
package ledger

import (
	"fmt"
	"log/slog"
	"math/big"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/access"
	"loanledger/native/bank"
	"loanledger/native/claims"
	nativecommon "loanledger/native/common"
	"loanledger/native/custody"
	"loanledger/native/fees"
)

// ModuleName is the pause key of the ledger.
const ModuleName = "ledger"

var (
	ErrInvalidLoanState      = coreerrors.New(coreerrors.ClassInvalidState, "ledger: invalid loan state")
	ErrInsufficientDeposit   = coreerrors.New(coreerrors.ClassInsufficientFunds, "ledger: insufficient lender deposit")
	ErrCollateralNotSent     = coreerrors.New(coreerrors.ClassCustodyUnavailable, "ledger: collateral not sent")
	ErrInsufficientRepayment = coreerrors.New(coreerrors.ClassInsufficientFunds, "ledger: insufficient repayment")
	ErrLoanNotExpired        = coreerrors.New(coreerrors.ClassInvalidState, "ledger: loan not expired")
	ErrCollateralInUse       = coreerrors.New(coreerrors.ClassInvalidState, "ledger: collateral bound to an open loan")
	ErrDueDateNotFuture      = coreerrors.New(coreerrors.ClassInvalidArgument, "ledger: due date must be in the future")
	ErrInvalidTerms          = coreerrors.New(coreerrors.ClassInvalidArgument, "ledger: invalid terms")
	ErrLoanNotFound          = coreerrors.New(coreerrors.ClassNotFound, "ledger: loan not found")
	ErrUnknownFeePolicy      = coreerrors.New(coreerrors.ClassNotFound, "ledger: unknown fee policy")
	errNilLedger             = coreerrors.New(coreerrors.ClassInternal, "ledger: not configured")
)

// Operations guarded by the capability table.
const (
	OpCreate       access.Operation = "ledger.create"
	OpStart        access.Operation = "ledger.start"
	OpRepay        access.Operation = "ledger.repay"
	OpClaim        access.Operation = "ledger.claim"
	OpClaimFees    access.Operation = "ledger.claim_fees"
	OpSetFeePolicy access.Operation = "ledger.set_fee_policy"
)

// DefaultAccess maps origination to the originator role, settlement to the
// repayer role and treasury operations to admins.
func DefaultAccess(roles *access.Roles) *access.Table {
	return access.NewTable(map[access.Operation]access.Predicate{
		OpCreate:       roles.Require(access.RoleOriginator),
		OpStart:        roles.Require(access.RoleOriginator),
		OpRepay:        roles.Require(access.RoleRepayer),
		OpClaim:        roles.Require(access.RoleRepayer),
		OpClaimFees:    roles.Require(access.RoleAdmin),
		OpSetFeePolicy: roles.Require(access.RoleAdmin),
	})
}

// CurrencyResolver maps currency addresses to contracts.
type CurrencyResolver interface {
	Currency(addr crypto.Address) (bank.Currency, error)
}

// Funding moves repayment funds into the ledger. It runs between the two
// balance measurements of Repay.
type Funding func(ctx *exec.Context) error

// Config wires a ledger deployment.
type Config struct {
	Address    crypto.Address
	Custody    custody.Custody
	Currencies CurrencyResolver
	FeePolicy  fees.Reader
	// Policies lists the fee policies SetFeePolicy may switch to. FeePolicy
	// is added to it.
	Policies      *fees.Registry
	BorrowerNotes *claims.Registry
	LenderNotes   *claims.Registry
	Access        *access.Table
	FeeTiming     fees.SnapshotTiming
	Pauses        nativecommon.PauseView
	Logger        *slog.Logger
}

// Ledger is one loan ledger deployment.
type Ledger struct {
	addr          crypto.Address
	custody       custody.Custody
	currencies    CurrencyResolver
	borrowerNotes *claims.Registry
	lenderNotes   *claims.Registry
	access        *access.Table
	timing        fees.SnapshotTiming
	pauses        nativecommon.PauseView
	logger        *slog.Logger
	policies      *fees.Registry
	initial       crypto.Address
}

// New validates cfg and returns the ledger. The note registries are bound to
// the ledger so burns consult its loan lifecycle.
func New(cfg Config) (*Ledger, error) {
	switch {
	case cfg.Address.IsZero():
		return nil, fmt.Errorf("ledger: address required")
	case cfg.Custody == nil:
		return nil, fmt.Errorf("ledger: custody required")
	case cfg.Currencies == nil:
		return nil, fmt.Errorf("ledger: currency resolver required")
	case cfg.FeePolicy == nil:
		return nil, fmt.Errorf("ledger: fee policy required")
	case cfg.BorrowerNotes == nil || cfg.LenderNotes == nil:
		return nil, fmt.Errorf("ledger: note registries required")
	case cfg.Access == nil:
		return nil, fmt.Errorf("ledger: access table required")
	case !cfg.FeeTiming.Valid():
		return nil, fmt.Errorf("ledger: invalid fee timing %d", cfg.FeeTiming)
	}
	if cfg.BorrowerNotes.Kind() != claims.KindBorrower || cfg.LenderNotes.Kind() != claims.KindLender {
		return nil, fmt.Errorf("ledger: note registries swapped")
	}
	policies := cfg.Policies
	if policies == nil {
		var err error
		if policies, err = fees.NewRegistry(); err != nil {
			return nil, err
		}
	}
	if err := policies.Register(cfg.FeePolicy); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		addr:          cfg.Address,
		custody:       cfg.Custody,
		currencies:    cfg.Currencies,
		borrowerNotes: cfg.BorrowerNotes,
		lenderNotes:   cfg.LenderNotes,
		access:        cfg.Access,
		timing:        cfg.FeeTiming,
		pauses:        cfg.Pauses,
		logger:        logger.With(slog.String("module", ModuleName), slog.String("ledger", cfg.Address.String())),
		policies:      policies,
		initial:       cfg.FeePolicy.Address(),
	}
	cfg.BorrowerNotes.SetLoanView(l)
	cfg.LenderNotes.SetLoanView(l)
	return l, nil
}

func (l *Ledger) Address() crypto.Address { return l.addr }

// Custody returns the collateral registry the ledger trusts.
func (l *Ledger) Custody() custody.Custody { return l.custody }

// FeeTiming reports when origination rates are fixed.
func (l *Ledger) FeeTiming() fees.SnapshotTiming { return l.timing }

// Notes returns the registry of the given kind.
func (l *Ledger) Notes(kind claims.Kind) *claims.Registry {
	if kind == claims.KindLender {
		return l.lenderNotes
	}
	return l.borrowerNotes
}

// Currency resolves a currency the ledger settles in.
func (l *Ledger) Currency(addr crypto.Address) (bank.Currency, error) {
	return l.currencies.Currency(addr)
}

func (l *Ledger) prefix() string { return "ledger/" + l.addr.Hex() + "/" }

func (l *Ledger) counterKey() []byte { return []byte(l.prefix() + "next-loan") }

func (l *Ledger) loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%sloan/%d", l.prefix(), id))
}

func (l *Ledger) collateralKey(asset custody.AssetID) []byte {
	return []byte(l.prefix() + "collateral/" + asset.Key())
}

func (l *Ledger) accruedKey(currency crypto.Address) []byte {
	return []byte(l.prefix() + "fees-accrued/" + currency.Hex())
}

func (l *Ledger) policyKey() []byte { return []byte(l.prefix() + "fee-policy") }

// Loan returns a copy of the stored loan.
func (l *Ledger) Loan(ctx *exec.Context, id uint64) (*Loan, error) {
	if l == nil {
		return nil, errNilLedger
	}
	loan := new(Loan)
	ok, err := ctx.State().KVGet(l.loanKey(id), loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	return loan, nil
}

// LoanCount returns the number of loans ever created.
func (l *Ledger) LoanCount(ctx *exec.Context) (uint64, error) {
	var count uint64
	if _, err := ctx.State().KVGet(l.counterKey(), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// LoanByNote resolves a note of the given kind to its loan.
func (l *Ledger) LoanByNote(ctx *exec.Context, kind claims.Kind, noteID uint64) (*Loan, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("ledger: unknown note kind %q", kind)
	}
	loanID, err := l.Notes(kind).LoanOf(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return l.Loan(ctx, loanID)
}

// IsTerminal reports whether the loan can no longer transition.
func (l *Ledger) IsTerminal(ctx *exec.Context, id uint64) (bool, error) {
	loan, err := l.Loan(ctx, id)
	if err != nil {
		return false, err
	}
	return loan.Status.Terminal(), nil
}

// ActiveLoanFor returns the non-terminal loan bound to asset, if any.
func (l *Ledger) ActiveLoanFor(ctx *exec.Context, asset custody.AssetID) (uint64, bool, error) {
	var id uint64
	ok, err := ctx.State().KVGet(l.collateralKey(asset), &id)
	if err != nil || !ok {
		return 0, false, err
	}
	loan, err := l.Loan(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if loan.Status.Terminal() {
		return 0, false, nil
	}
	return id, true, nil
}

// FeesAccrued returns what the ledger retains in currency since the last
// ClaimFees: origination fees plus any repayment overpayment.
func (l *Ledger) FeesAccrued(ctx *exec.Context, currency crypto.Address) (*big.Int, error) {
	return l.loadAmount(ctx, l.accruedKey(currency))
}

// FeePolicy returns the policy read by future starts.
func (l *Ledger) FeePolicy(ctx *exec.Context) (fees.Reader, error) {
	var addr crypto.Address
	ok, err := ctx.State().KVGet(l.policyKey(), &addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		addr = l.initial
	}
	return l.resolvePolicy(addr)
}

func (l *Ledger) resolvePolicy(addr crypto.Address) (fees.Reader, error) {
	policy, err := l.policies.Policy(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownFeePolicy, err)
	}
	return policy, nil
}

func (l *Ledger) storeLoan(ctx *exec.Context, loan *Loan) error {
	return ctx.State().KVPut(l.loanKey(loan.ID), loan)
}

func (l *Ledger) loadAmount(ctx *exec.Context, key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := ctx.State().KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// self returns ctx with the ledger as the caller, for calls the ledger makes
// into its collaborators.
func (l *Ledger) self(ctx *exec.Context) *exec.Context { return ctx.As(l.addr) }

func (l *Ledger) balance(ctx *exec.Context, currency bank.Currency) (*big.Int, error) {
	return currency.BalanceOf(ctx, l.addr)
}

// retain adds amount to the balance the ledger keeps for itself.
func (l *Ledger) retain(ctx *exec.Context, currency crypto.Address, amount *big.Int) error {
	accrued, err := l.FeesAccrued(ctx, currency)
	if err != nil {
		return err
	}
	return ctx.State().KVPut(l.accruedKey(currency), accrued.Add(accrued, amount))
}

// unaccounted returns the ledger's balance beyond what it retains: deposits
// not yet consumed by a start.
func (l *Ledger) unaccounted(ctx *exec.Context, currency bank.Currency) (*big.Int, error) {
	bal, err := l.balance(ctx, currency)
	if err != nil {
		return nil, err
	}
	retained, err := l.FeesAccrued(ctx, currency.Address())
	if err != nil {
		return nil, err
	}
	received := bal.Sub(bal, retained)
	if received.Sign() < 0 {
		received.SetInt64(0)
	}
	return received, nil
}

func (l *Ledger) guard(ctx *exec.Context, op access.Operation) error {
	if l == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(l.pauses, ModuleName); err != nil {
		return err
	}
	return l.access.Authorize(ctx, op)
}
