package origination

import (
	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const EventTypeInitialized = "origination.initialized"

// Initialized is emitted once a loan has been created and started.
type Initialized struct {
	Gateway  crypto.Address
	Ledger   crypto.Address
	LoanID   uint64
	Borrower crypto.Address
	Lender   crypto.Address
	Signer   crypto.Address
	Nonce    uint64
}

func (Initialized) EventType() string { return EventTypeInitialized }

func (e Initialized) Event() *types.Event {
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"gateway":  e.Gateway.String(),
			"ledger":   e.Ledger.String(),
			"loanId":   events.FormatUint(e.LoanID),
			"borrower": e.Borrower.String(),
			"lender":   e.Lender.String(),
			"signer":   e.Signer.String(),
			"nonce":    events.FormatUint(e.Nonce),
		},
	}
}
