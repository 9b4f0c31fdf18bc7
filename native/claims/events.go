package claims

import (
	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const (
	EventTypeMinted      = "claims.minted"
	EventTypeTransferred = "claims.transferred"
	EventTypeBurned      = "claims.burned"
)

type Minted struct {
	Registry crypto.Address
	Kind     Kind
	NoteID   uint64
	LoanID   uint64
	To       crypto.Address
}

func (Minted) EventType() string { return EventTypeMinted }

func (e Minted) Event() *types.Event {
	return &types.Event{
		Type: EventTypeMinted,
		Attributes: map[string]string{
			"registry": e.Registry.String(),
			"kind":     string(e.Kind),
			"noteId":   events.FormatUint(e.NoteID),
			"loanId":   events.FormatUint(e.LoanID),
			"to":       e.To.String(),
		},
	}
}

type Transferred struct {
	Registry crypto.Address
	Kind     Kind
	NoteID   uint64
	From     crypto.Address
	To       crypto.Address
}

func (Transferred) EventType() string { return EventTypeTransferred }

func (e Transferred) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTransferred,
		Attributes: map[string]string{
			"registry": e.Registry.String(),
			"kind":     string(e.Kind),
			"noteId":   events.FormatUint(e.NoteID),
			"from":     e.From.String(),
			"to":       e.To.String(),
		},
	}
}

type Burned struct {
	Registry crypto.Address
	Kind     Kind
	NoteID   uint64
	LoanID   uint64
	Holder   crypto.Address
}

func (Burned) EventType() string { return EventTypeBurned }

func (e Burned) Event() *types.Event {
	return &types.Event{
		Type: EventTypeBurned,
		Attributes: map[string]string{
			"registry": e.Registry.String(),
			"kind":     string(e.Kind),
			"noteId":   events.FormatUint(e.NoteID),
			"loanId":   events.FormatUint(e.LoanID),
			"holder":   e.Holder.String(),
		},
	}
}
