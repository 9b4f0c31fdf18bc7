package bank

import (
	"math/big"

	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const (
	EventTypeTransfer = "bank.transfer"
	EventTypeApproval = "bank.approval"
)

// Transfer is emitted for every balance movement. Received differs from
// Amount when the token withholds a transfer tax. A zero From marks a mint.
type Transfer struct {
	Token    crypto.Address
	From     crypto.Address
	To       crypto.Address
	Amount   *big.Int
	Received *big.Int
}

func (Transfer) EventType() string { return EventTypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"token":    e.Token.String(),
			"from":     e.From.String(),
			"to":       e.To.String(),
			"amount":   events.FormatAmount(e.Amount),
			"received": events.FormatAmount(e.Received),
		},
	}
}

// Approval is emitted when an allowance changes.
type Approval struct {
	Token   crypto.Address
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *big.Int
}

func (Approval) EventType() string { return EventTypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{
		Type: EventTypeApproval,
		Attributes: map[string]string{
			"token":   e.Token.String(),
			"owner":   e.Owner.String(),
			"spender": e.Spender.String(),
			"amount":  events.FormatAmount(e.Amount),
		},
	}
}
