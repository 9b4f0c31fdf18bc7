// Package consent verifies that a counterparty agreed to a structured payload.
// Signatures are EIP-712 style: bound to a domain (verifying component, name,
// version, chain) and to the signer's current nonce, so every signed message
// is usable exactly once and only against the deployment it names.
package consent

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
)

var (
	ErrExpired              = coreerrors.New(coreerrors.ClassConsentInvalid, "consent: signature deadline passed")
	ErrBadSignature         = coreerrors.New(coreerrors.ClassConsentInvalid, "consent: signature does not recover to signer")
	ErrSignerNotParticipant = coreerrors.New(coreerrors.ClassConsentInvalid, "consent: signer is not a participant")
	ErrSignerIsCaller       = coreerrors.New(coreerrors.ClassConsentInvalid, "consent: signer is the caller")
	ErrStaleNonce           = coreerrors.New(coreerrors.ClassConsentInvalid, "consent: nonce already used")
	errNilPayload           = coreerrors.New(coreerrors.ClassInvalidArgument, "consent: payload required")
)

// Payload is a structured message a participant signs. Implementations must
// commit to the nonce and deadline so neither can be swapped after signing.
type Payload interface {
	StructHash(nonce uint64, deadline int64) (common.Hash, error)
}

// Signature carries the signer's claim alongside the raw signature bytes.
type Signature struct {
	// Signer is the participant expected to have signed. It is checked
	// against the recovered address.
	Signer   crypto.Address
	Nonce    uint64
	Deadline int64
	Bytes    []byte
}

// Request bundles everything Verify needs.
type Request struct {
	Caller    crypto.Address
	Expected  []crypto.Address
	Payload   Payload
	Domain    Domain
	Signature Signature
}

// Consent is the verified record produced by a successful Verify.
type Consent struct {
	Signer     crypto.Address
	StructHash common.Hash
	Domain     common.Hash
	Nonce      uint64
}

// Validator holds the per-signer nonce counters for one verifying component.
type Validator struct {
	namespace crypto.Address
}

// NewValidator returns a validator whose nonces are namespaced by addr.
func NewValidator(namespace crypto.Address) *Validator {
	return &Validator{namespace: namespace}
}

// Namespace returns the address nonces are stored under.
func (v *Validator) Namespace() crypto.Address { return v.namespace }

func (v *Validator) nonceKey(signer crypto.Address) []byte {
	return []byte("consent/" + v.namespace.Hex() + "/nonce/" + signer.Hex())
}

// Nonce returns the next nonce signer must sign over.
func (v *Validator) Nonce(ctx *exec.Context, signer crypto.Address) (uint64, error) {
	var nonce uint64
	if _, err := ctx.State().KVGet(v.nonceKey(signer), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Verify checks req and consumes the signer's nonce. On any failure no state
// changes.
func (v *Validator) Verify(ctx *exec.Context, req Request) (Consent, error) {
	if req.Payload == nil {
		return Consent{}, errNilPayload
	}
	sig := req.Signature
	if ctx.Now() > sig.Deadline {
		return Consent{}, fmt.Errorf("%w: deadline %d, now %d", ErrExpired, sig.Deadline, ctx.Now())
	}
	structHash, err := req.Payload.StructHash(sig.Nonce, sig.Deadline)
	if err != nil {
		return Consent{}, err
	}
	signer, err := Recover(req.Domain, structHash, sig.Bytes)
	if err != nil {
		return Consent{}, err
	}
	if !sig.Signer.IsZero() && signer != sig.Signer {
		return Consent{}, fmt.Errorf("%w: recovered %s, claimed %s", ErrBadSignature, signer, sig.Signer)
	}
	if !contains(req.Expected, signer) {
		return Consent{}, fmt.Errorf("%w: %s", ErrSignerNotParticipant, signer)
	}
	if signer == req.Caller {
		return Consent{}, fmt.Errorf("%w: %s", ErrSignerIsCaller, signer)
	}
	current, err := v.Nonce(ctx, signer)
	if err != nil {
		return Consent{}, err
	}
	if sig.Nonce != current {
		return Consent{}, fmt.Errorf("%w: signed %d, expected %d", ErrStaleNonce, sig.Nonce, current)
	}
	if err := ctx.State().KVPut(v.nonceKey(signer), current+1); err != nil {
		return Consent{}, err
	}
	out := Consent{
		Signer:     signer,
		StructHash: structHash,
		Domain:     req.Domain.Separator(),
		Nonce:      current,
	}
	ctx.Emit(Used{Verifier: v.namespace, Signer: signer, Nonce: current, StructHash: structHash})
	return out, nil
}

// CancelNonce lets the caller invalidate every outstanding signature made
// over its current nonce. It returns the new nonce.
func (v *Validator) CancelNonce(ctx *exec.Context) (uint64, error) {
	signer := ctx.Caller()
	current, err := v.Nonce(ctx, signer)
	if err != nil {
		return 0, err
	}
	if err := ctx.State().KVPut(v.nonceKey(signer), current+1); err != nil {
		return 0, err
	}
	ctx.Emit(Cancelled{Verifier: v.namespace, Signer: signer, Nonce: current})
	return current + 1, nil
}

func contains(set []crypto.Address, addr crypto.Address) bool {
	for _, candidate := range set {
		if candidate == addr && !candidate.IsZero() {
			return true
		}
	}
	return false
}
