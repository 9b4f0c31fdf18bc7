package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/custody"
	"loanledger/native/fees"
)

// Create records a new loan in the Created state. No funds move. The due date
// must lie in the future and the collateral must not back another open loan.
func (l *Ledger) Create(ctx *exec.Context, terms Terms) (uint64, error) {
	if err := l.guard(ctx, OpCreate); err != nil {
		return 0, err
	}
	if err := terms.Validate(); err != nil {
		return 0, err
	}
	if _, err := l.Currency(terms.Currency); err != nil {
		return 0, err
	}
	dueAt, err := terms.ResolveDueAt(ctx.Now())
	if err != nil {
		return 0, err
	}
	if terms.Installments > dueAt-uint64(ctx.Now()) {
		return 0, fmt.Errorf("%w: %d installments before %d", ErrInvalidTerms, terms.Installments, dueAt)
	}
	if openID, open, err := l.ActiveLoanFor(ctx, terms.Collateral); err != nil {
		return 0, err
	} else if open {
		return 0, fmt.Errorf("%w: %s backs loan %d", ErrCollateralInUse, terms.Collateral, openID)
	}

	count, err := l.LoanCount(ctx)
	if err != nil {
		return 0, err
	}
	loan := &Loan{
		ID:        count + 1,
		Terms:     terms.Clone(),
		Status:    LoanStatusCreated,
		DueAt:     dueAt,
		CreatedAt: uint64(ctx.Now()),
	}
	if l.timing == fees.SnapshotAtCreate {
		policy, err := l.FeePolicy(ctx)
		if err != nil {
			return 0, err
		}
		bps, err := policy.OriginationFeeBps(ctx.As(l.addr))
		if err != nil {
			return 0, err
		}
		loan.FeeBps = bps
		loan.FeeSnapshotted = true
	}
	if err := ctx.State().KVPut(l.counterKey(), loan.ID); err != nil {
		return 0, err
	}
	if err := l.storeLoan(ctx, loan); err != nil {
		return 0, err
	}
	if err := ctx.State().KVPut(l.collateralKey(terms.Collateral), loan.ID); err != nil {
		return 0, err
	}
	ctx.Emit(LoanCreated{Ledger: l.addr, LoanID: loan.ID, Collateral: terms.Collateral, Currency: terms.Currency, Principal: terms.Principal, DueAt: dueAt})
	l.logger.Debug("loan created", slog.Uint64("loanId", loan.ID), slog.String("collateral", terms.Collateral.String()))
	return loan.ID, nil
}

// Start activates a Created loan. The collateral must already sit in the
// ledger's custody and the ledger must hold at least the principal beyond
// its retained fees. The origination fee is retained and the rest of the
// principal disbursed to borrower. Deposits waiting for other loans stay
// untouched.
func (l *Ledger) Start(ctx *exec.Context, lender, borrower crypto.Address, loanID uint64) error {
	if err := l.guard(ctx, OpStart); err != nil {
		return err
	}
	if lender.IsZero() || borrower.IsZero() {
		return fmt.Errorf("%w: lender and borrower required", ErrInvalidTerms)
	}
	loan, err := l.Loan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.Status != LoanStatusCreated {
		return fmt.Errorf("%w: loan %d is %s", ErrInvalidLoanState, loanID, loan.Status)
	}
	owner, err := l.custody.OwnerOf(ctx, loan.Terms.Collateral)
	if err != nil {
		if errors.Is(err, custody.ErrUnknownAsset) {
			return fmt.Errorf("%w: %w", ErrCollateralNotSent, err)
		}
		return err
	}
	if owner != l.addr {
		return fmt.Errorf("%w: %s held by %s", ErrCollateralNotSent, loan.Terms.Collateral, owner)
	}
	currency, err := l.Currency(loan.Terms.Currency)
	if err != nil {
		return err
	}
	received, err := l.unaccounted(ctx, currency)
	if err != nil {
		return err
	}
	principal := loan.Terms.Principal
	if received.Cmp(principal) < 0 {
		return fmt.Errorf("%w: received %s, principal %s", ErrInsufficientDeposit, received, principal)
	}

	if !loan.FeeSnapshotted {
		policy, err := l.FeePolicy(ctx)
		if err != nil {
			return err
		}
		bps, err := policy.OriginationFeeBps(l.self(ctx))
		if err != nil {
			return err
		}
		loan.FeeBps = bps
		loan.FeeSnapshotted = true
	}
	fee := fees.Fee(principal, loan.FeeBps)
	disbursed := new(big.Int).Sub(principal, fee)

	borrowerNote, err := l.borrowerNotes.Mint(l.self(ctx), borrower, loanID)
	if err != nil {
		return err
	}
	lenderNote, err := l.lenderNotes.Mint(l.self(ctx), lender, loanID)
	if err != nil {
		return err
	}
	loan.Status = LoanStatusActive
	loan.Borrower = borrower
	loan.Lender = lender
	loan.BorrowerNoteID = borrowerNote
	loan.LenderNoteID = lenderNote
	loan.StartedAt = uint64(ctx.Now())
	loan.OriginationFee = fee
	if err := l.storeLoan(ctx, loan); err != nil {
		return err
	}
	if err := l.retain(ctx, currency.Address(), fee); err != nil {
		return err
	}
	if err := currency.Transfer(l.self(ctx), borrower, disbursed); err != nil {
		return err
	}
	ctx.Emit(LoanStarted{
		Ledger:         l.addr,
		LoanID:         loanID,
		Borrower:       borrower,
		Lender:         lender,
		BorrowerNoteID: borrowerNote,
		LenderNoteID:   lenderNote,
		Disbursed:      disbursed,
		Fee:            fee,
		FeeBps:         loan.FeeBps,
		DueAt:          loan.DueAt,
	})
	l.logger.Info("loan started",
		slog.Uint64("loanId", loanID),
		slog.String("principal", principal.String()),
		slog.String("fee", fee.String()))
	return nil
}

// Repay settles an Active loan. fund runs between two measurements of the
// ledger's balance and the measured increase must cover principal plus
// interest. The amount due goes to the lender note holder and the collateral
// to the borrower note holder.
func (l *Ledger) Repay(ctx *exec.Context, loanID uint64, fund Funding) error {
	if err := l.guard(ctx, OpRepay); err != nil {
		return err
	}
	loan, err := l.Loan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.Status != LoanStatusActive {
		return fmt.Errorf("%w: loan %d is %s", ErrInvalidLoanState, loanID, loan.Status)
	}
	currency, err := l.Currency(loan.Terms.Currency)
	if err != nil {
		return err
	}
	before, err := l.balance(ctx, currency)
	if err != nil {
		return err
	}
	if fund != nil {
		if err := fund(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientRepayment, err)
		}
	}
	after, err := l.balance(ctx, currency)
	if err != nil {
		return err
	}
	received := new(big.Int).Sub(after, before)
	due := loan.Terms.AmountDue()
	if received.Cmp(due) < 0 {
		return fmt.Errorf("%w: received %s, due %s", ErrInsufficientRepayment, received, due)
	}

	lenderHolder, err := l.lenderNotes.OwnerOf(ctx, loan.LenderNoteID)
	if err != nil {
		return err
	}
	borrowerHolder, err := l.borrowerNotes.OwnerOf(ctx, loan.BorrowerNoteID)
	if err != nil {
		return err
	}
	if err := l.close(ctx, loan, LoanStatusRepaid); err != nil {
		return err
	}
	if err := currency.Transfer(l.self(ctx), lenderHolder, due); err != nil {
		return err
	}
	if err := l.custody.TransferFrom(l.self(ctx), l.addr, borrowerHolder, loan.Terms.Collateral); err != nil {
		return err
	}
	// Overpayment joins the retained balance so it cannot fund another loan.
	if excess := new(big.Int).Sub(received, due); excess.Sign() > 0 {
		if err := l.retain(ctx, currency.Address(), excess); err != nil {
			return err
		}
	}
	ctx.Emit(LoanRepaid{Ledger: l.addr, LoanID: loanID, Payer: ctx.Caller(), Lender: lenderHolder, Borrower: borrowerHolder, Amount: due})
	l.logger.Info("loan repaid", slog.Uint64("loanId", loanID), slog.String("amount", due.String()))
	return nil
}

// Claim forecloses an expired Active loan: the collateral goes to the lender
// note holder.
func (l *Ledger) Claim(ctx *exec.Context, loanID uint64) error {
	if err := l.guard(ctx, OpClaim); err != nil {
		return err
	}
	loan, err := l.Loan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.Status != LoanStatusActive {
		return fmt.Errorf("%w: loan %d is %s", ErrInvalidLoanState, loanID, loan.Status)
	}
	if !loan.Expired(ctx.Now()) {
		return fmt.Errorf("%w: due %d, now %d", ErrLoanNotExpired, loan.DueAt, ctx.Now())
	}
	lenderHolder, err := l.lenderNotes.OwnerOf(ctx, loan.LenderNoteID)
	if err != nil {
		return err
	}
	if err := l.close(ctx, loan, LoanStatusDefaulted); err != nil {
		return err
	}
	if err := l.custody.TransferFrom(l.self(ctx), l.addr, lenderHolder, loan.Terms.Collateral); err != nil {
		return err
	}
	ctx.Emit(LoanClaimed{Ledger: l.addr, LoanID: loanID, Lender: lenderHolder, Collateral: loan.Terms.Collateral})
	l.logger.Info("loan claimed", slog.Uint64("loanId", loanID))
	return nil
}

// close persists the terminal state and releases the collateral binding
// before any asset leaves the ledger.
func (l *Ledger) close(ctx *exec.Context, loan *Loan, status LoanStatus) error {
	loan.Status = status
	loan.ClosedAt = uint64(ctx.Now())
	if err := l.storeLoan(ctx, loan); err != nil {
		return err
	}
	return ctx.State().KVDelete(l.collateralKey(loan.Terms.Collateral))
}
