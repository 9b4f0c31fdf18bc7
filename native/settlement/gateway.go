// Package settlement closes loans. Anyone may repay on behalf of a borrower
// note; only the lender note holder may foreclose an expired loan.
package settlement

import (
	"errors"
	"fmt"
	"log/slog"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/bank"
	"loanledger/native/claims"
	nativecommon "loanledger/native/common"
	"loanledger/native/ledger"
)

const ModuleName = "settlement"

var (
	ErrUnknownNote        = coreerrors.New(coreerrors.ClassNotFound, "settlement: note does not reference a loan")
	ErrNotLenderNoteOwner = coreerrors.New(coreerrors.ClassUnauthorized, "settlement: caller does not own the lender note")
)

// Ledger is the subset of the loan ledger the gateway drives.
type Ledger interface {
	Address() crypto.Address
	Currency(addr crypto.Address) (bank.Currency, error)
	Notes(kind claims.Kind) *claims.Registry
	LoanByNote(ctx *exec.Context, kind claims.Kind, noteID uint64) (*ledger.Loan, error)
	Repay(ctx *exec.Context, loanID uint64, fund ledger.Funding) error
	Claim(ctx *exec.Context, loanID uint64) error
}

// Config wires a gateway to one ledger.
type Config struct {
	Address crypto.Address
	Ledger  Ledger
	Pauses  nativecommon.PauseView
	Logger  *slog.Logger
}

// Gateway is the settlement entry point of one ledger deployment.
type Gateway struct {
	addr   crypto.Address
	ledger Ledger
	pauses nativecommon.PauseView
	logger *slog.Logger
}

// New returns a settlement gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Address.IsZero() {
		return nil, fmt.Errorf("settlement: address required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("settlement: ledger required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		addr:   cfg.Address,
		ledger: cfg.Ledger,
		pauses: cfg.Pauses,
		logger: logger.With(slog.String("module", ModuleName)),
	}, nil
}

func (g *Gateway) Address() crypto.Address { return g.addr }

// Ledger returns the ledger the gateway settles against.
func (g *Gateway) Ledger() Ledger { return g.ledger }

func (g *Gateway) loanByNote(ctx *exec.Context, kind claims.Kind, noteID uint64) (*ledger.Loan, error) {
	loan, err := g.ledger.LoanByNote(ctx, kind, noteID)
	if errors.Is(err, claims.ErrUnknownNote) {
		return nil, fmt.Errorf("%w: %s note %d", ErrUnknownNote, kind, noteID)
	}
	return loan, err
}

// Repay pays off the loan behind borrowerNoteID with the caller's funds. The
// caller must have approved the gateway for principal plus interest.
func (g *Gateway) Repay(ctx *exec.Context, borrowerNoteID uint64) error {
	if err := nativecommon.Guard(g.pauses, ModuleName); err != nil {
		return err
	}
	loan, err := g.loanByNote(ctx, claims.KindBorrower, borrowerNoteID)
	if err != nil {
		return err
	}
	currency, err := g.ledger.Currency(loan.Terms.Currency)
	if err != nil {
		return err
	}
	payer := ctx.Caller()
	due := loan.Terms.AmountDue()
	ledgerAddr := g.ledger.Address()
	fund := func(fctx *exec.Context) error {
		return currency.TransferFrom(fctx.As(g.addr), payer, ledgerAddr, due)
	}
	if err := g.ledger.Repay(ctx.As(g.addr), loan.ID, fund); err != nil {
		return err
	}
	ctx.Emit(Repaid{Gateway: g.addr, Ledger: ledgerAddr, LoanID: loan.ID, NoteID: borrowerNoteID, Payer: payer, Amount: due})
	g.logger.Info("loan repaid via gateway", slog.Uint64("loanId", loan.ID), slog.String("payer", payer.String()))
	return nil
}

// Claim forecloses the expired loan behind lenderNoteID. Only the note holder
// may claim.
func (g *Gateway) Claim(ctx *exec.Context, lenderNoteID uint64) error {
	if err := nativecommon.Guard(g.pauses, ModuleName); err != nil {
		return err
	}
	owner, err := g.ledger.Notes(claims.KindLender).OwnerOf(ctx, lenderNoteID)
	if errors.Is(err, claims.ErrUnknownNote) {
		return fmt.Errorf("%w: lender note %d", ErrUnknownNote, lenderNoteID)
	}
	if err != nil {
		return err
	}
	if owner != ctx.Caller() {
		return fmt.Errorf("%w: note %d held by %s", ErrNotLenderNoteOwner, lenderNoteID, owner)
	}
	loan, err := g.loanByNote(ctx, claims.KindLender, lenderNoteID)
	if err != nil {
		return err
	}
	if err := g.ledger.Claim(ctx.As(g.addr), loan.ID); err != nil {
		return err
	}
	ctx.Emit(Claimed{Gateway: g.addr, Ledger: g.ledger.Address(), LoanID: loan.ID, NoteID: lenderNoteID, Lender: owner})
	return nil
}
