package custody

import (
	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const (
	EventTypeTransferred = "custody.transferred"
	EventTypeApproved    = "custody.approved"
)

// Transferred is emitted on mint and on every ownership change.
type Transferred struct {
	Vault crypto.Address
	From  crypto.Address
	To    crypto.Address
	Asset AssetID
}

func (Transferred) EventType() string { return EventTypeTransferred }

func (e Transferred) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTransferred,
		Attributes: map[string]string{
			"vault":      e.Vault.String(),
			"from":       e.From.String(),
			"to":         e.To.String(),
			"collection": e.Asset.Collection.String(),
			"tokenId":    events.FormatUint(e.Asset.TokenID),
		},
	}
}

// Approved is emitted when a single-asset approval changes.
type Approved struct {
	Vault   crypto.Address
	Owner   crypto.Address
	Spender crypto.Address
	Asset   AssetID
}

func (Approved) EventType() string { return EventTypeApproved }

func (e Approved) Event() *types.Event {
	return &types.Event{
		Type: EventTypeApproved,
		Attributes: map[string]string{
			"vault":      e.Vault.String(),
			"owner":      e.Owner.String(),
			"spender":    e.Spender.String(),
			"collection": e.Asset.Collection.String(),
			"tokenId":    events.FormatUint(e.Asset.TokenID),
		},
	}
}
