package refinance

import (
	"math/big"
	"strconv"

	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const (
	EventTypeRollover  = "refinance.rollover"
	EventTypeMigration = "refinance.migration"
)

// Rollover is emitted when a loan is replaced on the same ledger.
type Rollover struct {
	Orchestrator crypto.Address
	Ledger       crypto.Address
	Borrower     crypto.Address
	Lender       crypto.Address
	OldLoanID    uint64
	NewLoanID    uint64
	Premium      *big.Int
	Shortfall    *big.Int
	Surplus      *big.Int
}

func (Rollover) EventType() string { return EventTypeRollover }

func (e Rollover) Event() *types.Event {
	return &types.Event{
		Type: EventTypeRollover,
		Attributes: map[string]string{
			"orchestrator": e.Orchestrator.String(),
			"ledger":       e.Ledger.String(),
			"borrower":     e.Borrower.String(),
			"lender":       e.Lender.String(),
			"oldLoanId":    strconv.FormatUint(e.OldLoanID, 10),
			"newLoanId":    strconv.FormatUint(e.NewLoanID, 10),
			"premium":      events.FormatAmount(e.Premium),
			"shortfall":    events.FormatAmount(e.Shortfall),
			"surplus":      events.FormatAmount(e.Surplus),
		},
	}
}

// Migration is emitted when a loan is replaced on another ledger.
type Migration struct {
	Orchestrator crypto.Address
	SourceLedger crypto.Address
	TargetLedger crypto.Address
	Borrower     crypto.Address
	Lender       crypto.Address
	OldLoanID    uint64
	NewLoanID    uint64
	Premium      *big.Int
	Shortfall    *big.Int
	Surplus      *big.Int
}

func (Migration) EventType() string { return EventTypeMigration }

func (e Migration) Event() *types.Event {
	return &types.Event{
		Type: EventTypeMigration,
		Attributes: map[string]string{
			"orchestrator": e.Orchestrator.String(),
			"sourceLedger": e.SourceLedger.String(),
			"targetLedger": e.TargetLedger.String(),
			"borrower":     e.Borrower.String(),
			"lender":       e.Lender.String(),
			"oldLoanId":    strconv.FormatUint(e.OldLoanID, 10),
			"newLoanId":    strconv.FormatUint(e.NewLoanID, 10),
			"premium":      events.FormatAmount(e.Premium),
			"shortfall":    events.FormatAmount(e.Shortfall),
			"surplus":      events.FormatAmount(e.Surplus),
		},
	}
}
