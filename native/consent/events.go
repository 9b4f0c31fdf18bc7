package consent

import (
	"github.com/ethereum/go-ethereum/common"

	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const (
	EventTypeUsed      = "consent.used"
	EventTypeCancelled = "consent.cancelled"
)

// Used is emitted when a signature is accepted and its nonce consumed.
type Used struct {
	Verifier   crypto.Address
	Signer     crypto.Address
	Nonce      uint64
	StructHash common.Hash
}

func (Used) EventType() string { return EventTypeUsed }

func (e Used) Event() *types.Event {
	return &types.Event{
		Type: EventTypeUsed,
		Attributes: map[string]string{
			"verifier":   e.Verifier.String(),
			"signer":     e.Signer.String(),
			"nonce":      events.FormatUint(e.Nonce),
			"structHash": e.StructHash.Hex(),
		},
	}
}

// Cancelled is emitted when a signer burns its current nonce.
type Cancelled struct {
	Verifier crypto.Address
	Signer   crypto.Address
	Nonce    uint64
}

func (Cancelled) EventType() string { return EventTypeCancelled }

func (e Cancelled) Event() *types.Event {
	return &types.Event{
		Type: EventTypeCancelled,
		Attributes: map[string]string{
			"verifier": e.Verifier.String(),
			"signer":   e.Signer.String(),
			"nonce":    events.FormatUint(e.Nonce),
		},
	}
}
