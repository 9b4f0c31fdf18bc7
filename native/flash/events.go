package flash

import (
	"math/big"

	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const EventTypeBorrowed = "flash.borrowed"

// Borrowed is emitted per asset once the pool has been made whole.
type Borrowed struct {
	Pool      crypto.Address
	Receiver  crypto.Address
	Initiator crypto.Address
	Asset     crypto.Address
	Amount    *big.Int
	Premium   *big.Int
}

func (Borrowed) EventType() string { return EventTypeBorrowed }

func (e Borrowed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeBorrowed,
		Attributes: map[string]string{
			"pool":      e.Pool.String(),
			"receiver":  e.Receiver.String(),
			"initiator": e.Initiator.String(),
			"asset":     e.Asset.String(),
			"amount":    events.FormatAmount(e.Amount),
			"premium":   events.FormatAmount(e.Premium),
		},
	}
}
