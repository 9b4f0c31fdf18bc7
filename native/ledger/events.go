package ledger

import (
	"math/big"

	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
	"loanledger/native/custody"
)

const (
	EventTypeLoanCreated      = "loan.created"
	EventTypeLoanStarted      = "loan.started"
	EventTypeLoanRepaid       = "loan.repaid"
	EventTypeLoanClaimed      = "loan.claimed"
	EventTypeFeesClaimed      = "loan.fees_claimed"
	EventTypeFeePolicyChanged = "loan.fee_policy_changed"
)

type LoanCreated struct {
	Ledger     crypto.Address
	LoanID     uint64
	Collateral custody.AssetID
	Currency   crypto.Address
	Principal  *big.Int
	DueAt      uint64
}

func (LoanCreated) EventType() string { return EventTypeLoanCreated }

func (e LoanCreated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLoanCreated,
		Attributes: map[string]string{
			"ledger":     e.Ledger.String(),
			"loanId":     events.FormatUint(e.LoanID),
			"collateral": e.Collateral.String(),
			"currency":   e.Currency.String(),
			"principal":  events.FormatAmount(e.Principal),
			"dueAt":      events.FormatUint(e.DueAt),
		},
	}
}

type LoanStarted struct {
	Ledger         crypto.Address
	LoanID         uint64
	Borrower       crypto.Address
	Lender         crypto.Address
	BorrowerNoteID uint64
	LenderNoteID   uint64
	Disbursed      *big.Int
	Fee            *big.Int
	FeeBps         uint64
	DueAt          uint64
}

func (LoanStarted) EventType() string { return EventTypeLoanStarted }

func (e LoanStarted) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLoanStarted,
		Attributes: map[string]string{
			"ledger":         e.Ledger.String(),
			"loanId":         events.FormatUint(e.LoanID),
			"borrower":       e.Borrower.String(),
			"lender":         e.Lender.String(),
			"borrowerNoteId": events.FormatUint(e.BorrowerNoteID),
			"lenderNoteId":   events.FormatUint(e.LenderNoteID),
			"disbursed":      events.FormatAmount(e.Disbursed),
			"fee":            events.FormatAmount(e.Fee),
			"feeBps":         events.FormatUint(e.FeeBps),
			"dueAt":          events.FormatUint(e.DueAt),
		},
	}
}

type LoanRepaid struct {
	Ledger   crypto.Address
	LoanID   uint64
	Payer    crypto.Address
	Lender   crypto.Address
	Borrower crypto.Address
	Amount   *big.Int
}

func (LoanRepaid) EventType() string { return EventTypeLoanRepaid }

func (e LoanRepaid) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLoanRepaid,
		Attributes: map[string]string{
			"ledger":   e.Ledger.String(),
			"loanId":   events.FormatUint(e.LoanID),
			"payer":    e.Payer.String(),
			"lender":   e.Lender.String(),
			"borrower": e.Borrower.String(),
			"amount":   events.FormatAmount(e.Amount),
		},
	}
}

type LoanClaimed struct {
	Ledger     crypto.Address
	LoanID     uint64
	Lender     crypto.Address
	Collateral custody.AssetID
}

func (LoanClaimed) EventType() string { return EventTypeLoanClaimed }

func (e LoanClaimed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeLoanClaimed,
		Attributes: map[string]string{
			"ledger":     e.Ledger.String(),
			"loanId":     events.FormatUint(e.LoanID),
			"lender":     e.Lender.String(),
			"collateral": e.Collateral.String(),
		},
	}
}

type FeesClaimed struct {
	Ledger    crypto.Address
	Currency  crypto.Address
	Recipient crypto.Address
	Amount    *big.Int
}

func (FeesClaimed) EventType() string { return EventTypeFeesClaimed }

func (e FeesClaimed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeFeesClaimed,
		Attributes: map[string]string{
			"ledger":    e.Ledger.String(),
			"currency":  e.Currency.String(),
			"recipient": e.Recipient.String(),
			"amount":    events.FormatAmount(e.Amount),
		},
	}
}

type FeePolicyChanged struct {
	Ledger   crypto.Address
	Previous crypto.Address
	Current  crypto.Address
}

func (FeePolicyChanged) EventType() string { return EventTypeFeePolicyChanged }

func (e FeePolicyChanged) Event() *types.Event {
	return &types.Event{
		Type: EventTypeFeePolicyChanged,
		Attributes: map[string]string{
			"ledger":   e.Ledger.String(),
			"previous": e.Previous.String(),
			"current":  e.Current.String(),
		},
	}
}
