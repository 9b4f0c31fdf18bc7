// Package fees stores the protocol origination fee read by the ledger when a
// loan starts.
package fees

import (
	"fmt"
	"math/big"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/core/events"
	"loanledger/core/types"
	"loanledger/crypto"
)

const (
	// DefaultOriginationFeeBps is the rate used until the owner sets one.
	DefaultOriginationFeeBps uint64 = 300
	// MaxBps is 100%.
	MaxBps uint64 = 10_000

	EventTypeOriginationFeeUpdated = "fees.origination_updated"
)

var (
	ErrNotOwner   = coreerrors.New(coreerrors.ClassUnauthorized, "fees: caller is not the policy owner")
	ErrBpsTooHigh = coreerrors.New(coreerrors.ClassInvalidArgument, "fees: basis points exceed 10000")
)

var basisPoints = new(big.Int).SetUint64(MaxBps)

// Reader is the read side consumed by the ledger.
type Reader interface {
	Address() crypto.Address
	OriginationFeeBps(ctx *exec.Context) (uint64, error)
}

// Policy is an owner-gated origination fee store.
type Policy struct {
	addr  crypto.Address
	owner crypto.Address
}

// NewPolicy returns a policy deployed at addr and administered by owner.
func NewPolicy(addr, owner crypto.Address) (*Policy, error) {
	if addr.IsZero() || owner.IsZero() {
		return nil, fmt.Errorf("fees: policy address and owner required")
	}
	return &Policy{addr: addr, owner: owner}, nil
}

func (p *Policy) Address() crypto.Address { return p.addr }

// Owner returns the account allowed to update the rate.
func (p *Policy) Owner() crypto.Address { return p.owner }

func (p *Policy) key() []byte {
	return []byte("fees/" + p.addr.Hex() + "/origination-bps")
}

// OriginationFeeBps returns the current rate.
func (p *Policy) OriginationFeeBps(ctx *exec.Context) (uint64, error) {
	var bps uint64
	ok, err := ctx.State().KVGet(p.key(), &bps)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultOriginationFeeBps, nil
	}
	return bps, nil
}

// SetOriginationFeeBps updates the rate. Only the owner may call it.
func (p *Policy) SetOriginationFeeBps(ctx *exec.Context, bps uint64) error {
	if ctx.Caller() != p.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, ctx.Caller())
	}
	if bps > MaxBps {
		return fmt.Errorf("%w: %d", ErrBpsTooHigh, bps)
	}
	previous, err := p.OriginationFeeBps(ctx)
	if err != nil {
		return err
	}
	if err := ctx.State().KVPut(p.key(), bps); err != nil {
		return err
	}
	ctx.Emit(OriginationFeeUpdated{Policy: p.addr, Previous: previous, Current: bps})
	return nil
}

// Fee returns amount*bps/10000 rounded down.
func Fee(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, basisPoints)
}

// OriginationFeeUpdated is emitted when the owner changes the rate.
type OriginationFeeUpdated struct {
	Policy   crypto.Address
	Previous uint64
	Current  uint64
}

func (OriginationFeeUpdated) EventType() string { return EventTypeOriginationFeeUpdated }

func (e OriginationFeeUpdated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeOriginationFeeUpdated,
		Attributes: map[string]string{
			"policy":   e.Policy.String(),
			"previous": events.FormatUint(e.Previous),
			"current":  events.FormatUint(e.Current),
		},
	}
}
