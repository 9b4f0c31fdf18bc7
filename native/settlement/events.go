package settlement

import (
	"math/big"

	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const (
	EventTypeRepaid  = "settlement.repaid"
	EventTypeClaimed = "settlement.claimed"
)

type Repaid struct {
	Gateway crypto.Address
	Ledger  crypto.Address
	LoanID  uint64
	NoteID  uint64
	Payer   crypto.Address
	Amount  *big.Int
}

func (Repaid) EventType() string { return EventTypeRepaid }

func (e Repaid) Event() *types.Event {
	return &types.Event{
		Type: EventTypeRepaid,
		Attributes: map[string]string{
			"gateway": e.Gateway.String(),
			"ledger":  e.Ledger.String(),
			"loanId":  events.FormatUint(e.LoanID),
			"noteId":  events.FormatUint(e.NoteID),
			"payer":   e.Payer.String(),
			"amount":  events.FormatAmount(e.Amount),
		},
	}
}

type Claimed struct {
	Gateway crypto.Address
	Ledger  crypto.Address
	LoanID  uint64
	NoteID  uint64
	Lender  crypto.Address
}

func (Claimed) EventType() string { return EventTypeClaimed }

func (e Claimed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeClaimed,
		Attributes: map[string]string{
			"gateway": e.Gateway.String(),
			"ledger":  e.Ledger.String(),
			"loanId":  events.FormatUint(e.LoanID),
			"noteId":  events.FormatUint(e.NoteID),
			"lender":  e.Lender.String(),
		},
	}
}
