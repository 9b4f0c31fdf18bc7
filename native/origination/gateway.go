// Package origination opens loans. A caller who is one of the two parties
// submits the counterparty's signed consent; the gateway verifies it, moves
// the collateral and principal into the ledger and activates the loan.
package origination

import (
	"fmt"
	"log/slog"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/bank"
	nativecommon "loanledger/native/common"
	"loanledger/native/consent"
	"loanledger/native/custody"
	"loanledger/native/ledger"
)

const (
	ModuleName    = "origination"
	DomainName    = "LoanOrigination"
	DomainVersion = "1"
)

var (
	ErrWrongCaller           = coreerrors.New(coreerrors.ClassUnauthorized, "origination: caller is neither borrower nor lender")
	ErrCollateralUnavailable = coreerrors.New(coreerrors.ClassCustodyUnavailable, "origination: collateral not approved or not owned")
	ErrPrincipalUnavailable  = coreerrors.New(coreerrors.ClassInsufficientFunds, "origination: principal not approved or not available")
	ErrPermitMismatch        = coreerrors.New(coreerrors.ClassMismatch, "origination: permit does not cover this loan")
)

// Ledger is the subset of the loan ledger the gateway drives.
type Ledger interface {
	Address() crypto.Address
	Custody() custody.Custody
	Currency(addr crypto.Address) (bank.Currency, error)
	Create(ctx *exec.Context, terms ledger.Terms) (uint64, error)
	Start(ctx *exec.Context, lender, borrower crypto.Address, loanID uint64) error
}

// Request is a fully assembled origination.
type Request struct {
	Terms    ledger.Terms
	Borrower crypto.Address
	Lender   crypto.Address
	// Signature is the counterparty's consent over the terms.
	Signature consent.Signature
}

// Config wires a gateway to one ledger.
type Config struct {
	Address crypto.Address
	ChainID uint64
	Ledger  Ledger
	Pauses  nativecommon.PauseView
	Logger  *slog.Logger
}

// Gateway is the origination entry point of one ledger deployment.
type Gateway struct {
	addr      crypto.Address
	ledger    Ledger
	domain    consent.Domain
	validator *consent.Validator
	pauses    nativecommon.PauseView
	logger    *slog.Logger
}

// New returns a gateway. Terms signatures are verified under
// Domain(cfg.Address, cfg.ChainID).
func New(cfg Config) (*Gateway, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("origination: ledger required")
	}
	domain := Domain(cfg.Address, cfg.ChainID)
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		addr:      cfg.Address,
		ledger:    cfg.Ledger,
		domain:    domain,
		validator: consent.NewValidator(cfg.Address),
		pauses:    cfg.Pauses,
		logger:    logger.With(slog.String("module", ModuleName)),
	}, nil
}

func (g *Gateway) Address() crypto.Address { return g.addr }

// Ledger returns the ledger the gateway originates into.
func (g *Gateway) Ledger() Ledger { return g.ledger }

// Domain returns the terms signing domain.
func (g *Gateway) Domain() consent.Domain { return g.domain }

// Nonce returns the next consent nonce of signer.
func (g *Gateway) Nonce(ctx *exec.Context, signer crypto.Address) (uint64, error) {
	return g.validator.Nonce(ctx, signer)
}

// CancelNonce burns the caller's current nonce, voiding signatures made over
// it.
func (g *Gateway) CancelNonce(ctx *exec.Context) (uint64, error) {
	return g.validator.CancelNonce(ctx)
}

// InitializeLoan verifies the counterparty's consent, pulls the collateral
// from the borrower and the principal from the lender into the ledger, then
// creates and starts the loan. It returns the new loan id.
func (g *Gateway) InitializeLoan(ctx *exec.Context, req Request) (uint64, error) {
	if err := nativecommon.Guard(g.pauses, ModuleName); err != nil {
		return 0, err
	}
	caller := ctx.Caller()
	var counterparty crypto.Address
	switch caller {
	case req.Borrower:
		counterparty = req.Lender
	case req.Lender:
		counterparty = req.Borrower
	default:
		return 0, fmt.Errorf("%w: %s", ErrWrongCaller, caller)
	}
	if req.Borrower.IsZero() || req.Lender.IsZero() {
		return 0, fmt.Errorf("%w: borrower and lender required", ErrWrongCaller)
	}
	if err := req.Terms.Validate(); err != nil {
		return 0, err
	}
	signed, err := g.validator.Verify(ctx, consent.Request{
		Caller:    caller,
		Expected:  []crypto.Address{counterparty},
		Payload:   TermsPayload{Terms: req.Terms, Borrower: req.Borrower, Lender: req.Lender},
		Domain:    g.domain,
		Signature: req.Signature,
	})
	if err != nil {
		return 0, err
	}

	self := ctx.As(g.addr)
	ledgerAddr := g.ledger.Address()
	if err := g.ledger.Custody().TransferFrom(self, req.Borrower, ledgerAddr, req.Terms.Collateral); err != nil {
		return 0, coreerrors.Wrap(ErrCollateralUnavailable, err)
	}
	currency, err := g.ledger.Currency(req.Terms.Currency)
	if err != nil {
		return 0, err
	}
	if err := currency.TransferFrom(self, req.Lender, ledgerAddr, req.Terms.Principal); err != nil {
		return 0, coreerrors.Wrap(ErrPrincipalUnavailable, err)
	}
	loanID, err := g.ledger.Create(self, req.Terms)
	if err != nil {
		return 0, err
	}
	if err := g.ledger.Start(self, req.Lender, req.Borrower, loanID); err != nil {
		return 0, err
	}
	ctx.Emit(Initialized{
		Gateway:  g.addr,
		Ledger:   ledgerAddr,
		LoanID:   loanID,
		Borrower: req.Borrower,
		Lender:   req.Lender,
		Signer:   signed.Signer,
		Nonce:    signed.Nonce,
	})
	g.logger.Info("loan initialized",
		slog.Uint64("loanId", loanID),
		slog.String("borrower", req.Borrower.String()),
		slog.String("lender", req.Lender.String()))
	return loanID, nil
}

// InitializeLoanWithPermit first applies the borrower's signed collateral
// permit naming this gateway as spender, then originates as InitializeLoan.
func (g *Gateway) InitializeLoanWithPermit(ctx *exec.Context, req Request, permit custody.Permit) (uint64, error) {
	if err := nativecommon.Guard(g.pauses, ModuleName); err != nil {
		return 0, err
	}
	if permit.Owner != req.Borrower || permit.Spender != g.addr || permit.Asset != req.Terms.Collateral {
		return 0, fmt.Errorf("%w: owner %s spender %s asset %s", ErrPermitMismatch, permit.Owner, permit.Spender, permit.Asset)
	}
	if err := g.ledger.Custody().Permit(ctx.As(g.addr), permit); err != nil {
		return 0, coreerrors.Wrap(ErrCollateralUnavailable, err)
	}
	return g.InitializeLoan(ctx, req)
}
