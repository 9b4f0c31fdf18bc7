package ledger

import (
	"fmt"
	"math/big"

	"loanledger/crypto"
	"loanledger/native/custody"
	"loanledger/native/fees"
)

// LoanStatus enumerates the lifecycle states of a loan.
type LoanStatus uint8

const (
	LoanStatusUnspecified LoanStatus = iota
	LoanStatusCreated
	LoanStatusActive
	LoanStatusRepaid
	LoanStatusDefaulted
)

// Valid reports whether the status is a known lifecycle state.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusCreated, LoanStatusActive, LoanStatusRepaid, LoanStatusDefaulted:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s LoanStatus) Terminal() bool {
	return s == LoanStatusRepaid || s == LoanStatusDefaulted
}

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusCreated:
		return "created"
	case LoanStatusActive:
		return "active"
	case LoanStatusRepaid:
		return "repaid"
	case LoanStatusDefaulted:
		return "defaulted"
	default:
		return "unspecified"
	}
}

// MaxInstallments bounds the repayment schedule of a loan.
const MaxInstallments = 360

// Terms are the economic conditions both parties signed. They are immutable
// once attached to a loan.
type Terms struct {
	// Duration is the loan length in seconds, counted from creation. It is
	// ignored when DueAt is set.
	Duration uint64
	// DueAt is an absolute unix due date.
	DueAt uint64
	Principal *big.Int
	// Interest is the flat interest owed at repayment. When zero the interest
	// is derived from InterestRateBps.
	Interest        *big.Int
	InterestRateBps uint64
	Collateral      custody.AssetID
	Currency        crypto.Address
	// Installments splits repayment into equal parts starting at
	// ScheduleStart. Zero means a single bullet payment.
	Installments  uint64
	ScheduleStart uint64
}

// Clone returns a deep copy of the terms.
func (t Terms) Clone() Terms {
	clone := t
	if t.Principal != nil {
		clone.Principal = new(big.Int).Set(t.Principal)
	}
	if t.Interest != nil {
		clone.Interest = new(big.Int).Set(t.Interest)
	}
	return clone
}

// Validate checks the terms are internally consistent.
func (t Terms) Validate() error {
	if t.Principal == nil || t.Principal.Sign() <= 0 {
		return fmt.Errorf("%w: principal must be positive", ErrInvalidTerms)
	}
	if t.Interest != nil && t.Interest.Sign() < 0 {
		return fmt.Errorf("%w: interest must not be negative", ErrInvalidTerms)
	}
	if t.InterestRateBps > fees.MaxBps*100 {
		return fmt.Errorf("%w: interest rate %d bps out of range", ErrInvalidTerms, t.InterestRateBps)
	}
	if t.Currency.IsZero() {
		return fmt.Errorf("%w: currency required", ErrInvalidTerms)
	}
	if t.Collateral.IsZero() {
		return fmt.Errorf("%w: collateral required", ErrInvalidTerms)
	}
	if t.Duration == 0 && t.DueAt == 0 {
		return fmt.Errorf("%w: duration or due date required", ErrInvalidTerms)
	}
	if t.Installments > MaxInstallments {
		return fmt.Errorf("%w: %d installments, at most %d", ErrInvalidTerms, t.Installments, MaxInstallments)
	}
	if t.DueAt == 0 && t.Installments > t.Duration {
		return fmt.Errorf("%w: %d installments over %d seconds", ErrInvalidTerms, t.Installments, t.Duration)
	}
	if t.Installments > 0 && t.DueAt != 0 && t.ScheduleStart >= t.DueAt {
		return fmt.Errorf("%w: schedule starts after due date", ErrInvalidTerms)
	}
	return nil
}

// InterestDue returns the interest owed on top of principal.
func (t Terms) InterestDue() *big.Int {
	if t.Interest != nil && t.Interest.Sign() > 0 {
		return new(big.Int).Set(t.Interest)
	}
	if t.Principal == nil || t.InterestRateBps == 0 {
		return big.NewInt(0)
	}
	return fees.Fee(t.Principal, t.InterestRateBps)
}

// AmountDue returns principal plus interest.
func (t Terms) AmountDue() *big.Int {
	due := t.InterestDue()
	if t.Principal != nil {
		due.Add(due, t.Principal)
	}
	return due
}

// ResolveDueAt computes the absolute due date for a loan created at now.
func (t Terms) ResolveDueAt(now int64) (uint64, error) {
	if now < 0 {
		return 0, fmt.Errorf("%w: negative clock", ErrInvalidTerms)
	}
	due := t.DueAt
	if due == 0 {
		due = uint64(now) + t.Duration
	}
	if due <= uint64(now) {
		return 0, fmt.Errorf("%w: due %d, now %d", ErrDueDateNotFuture, due, now)
	}
	return due, nil
}

// SameAsset reports whether other refinances the same position: the currency
// and the collateral must match. Every other field may differ.
func (t Terms) SameAsset(other Terms) bool {
	return t.Currency == other.Currency && t.Collateral == other.Collateral
}

// Loan is the ledger record of one agreement. Loans are never deleted.
type Loan struct {
	ID             uint64
	Terms          Terms
	Status         LoanStatus
	BorrowerNoteID uint64
	LenderNoteID   uint64
	// Borrower and Lender are the original parties; the current note holders
	// may differ.
	Borrower  crypto.Address
	Lender    crypto.Address
	DueAt     uint64
	CreatedAt uint64
	StartedAt uint64
	ClosedAt  uint64
	// FeeBps is the origination rate applied to the loan. FeeSnapshotted is
	// set once the rate has been fixed.
	FeeBps         uint64
	FeeSnapshotted bool
	OriginationFee *big.Int
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Terms = l.Terms.Clone()
	if l.OriginationFee != nil {
		clone.OriginationFee = new(big.Int).Set(l.OriginationFee)
	}
	return &clone
}

// Expired reports whether the loan is past due at now.
func (l *Loan) Expired(now int64) bool {
	return now >= 0 && uint64(now) >= l.DueAt
}
