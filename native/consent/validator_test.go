package consent

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/core/state"
	"loanledger/crypto"
	"loanledger/storage"
)

var greetingType = TypeHash("Greeting(string text,uint256 nonce,uint256 deadline)")

type greeting string

func (g greeting) StructHash(nonce uint64, deadline int64) (common.Hash, error) {
	enc := NewStruct(greetingType)
	enc.String(string(g))
	enc.Uint64(nonce)
	enc.Int64(deadline)
	return enc.Hash()
}

type fixture struct {
	ctx       *exec.Context
	validator *Validator
	domain    Domain
	signer    *crypto.PrivateKey
	caller    crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	signer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	verifier := crypto.ComponentAddress("consent-test")
	return &fixture{
		ctx:       exec.NewContext(context.Background(), st, crypto.ComponentAddress("caller"), 1_000),
		validator: NewValidator(verifier),
		domain:    Domain{Name: "Test", Version: "1", ChainID: 7, VerifyingContract: verifier},
		signer:    signer,
		caller:    crypto.ComponentAddress("caller"),
	}
}

func (f *fixture) request(t *testing.T, payload Payload, nonce uint64, deadline int64) Request {
	t.Helper()
	hash, err := payload.StructHash(nonce, deadline)
	require.NoError(t, err)
	sig, err := Sign(f.signer, f.domain, hash)
	require.NoError(t, err)
	return Request{
		Caller:   f.caller,
		Expected: []crypto.Address{f.signer.Address()},
		Payload:  payload,
		Domain:   f.domain,
		Signature: Signature{
			Signer:   f.signer.Address(),
			Nonce:    nonce,
			Deadline: deadline,
			Bytes:    sig,
		},
	}
}

func TestVerifyConsumesNonce(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, greeting("hello"), 0, 2_000)

	out, err := f.validator.Verify(f.ctx, req)
	require.NoError(t, err)
	require.Equal(t, f.signer.Address(), out.Signer)
	require.Equal(t, uint64(0), out.Nonce)
	require.Equal(t, f.domain.Separator(), out.Domain)

	nonce, err := f.validator.Nonce(f.ctx, f.signer.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
	require.Equal(t, 1, f.ctx.Events().Len())
}

func TestVerifyRejectsReplay(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, greeting("hello"), 0, 2_000)

	_, err := f.validator.Verify(f.ctx, req)
	require.NoError(t, err)
	_, err = f.validator.Verify(f.ctx, req)
	require.ErrorIs(t, err, ErrStaleNonce)
	require.Equal(t, coreerrors.ClassConsentInvalid, coreerrors.ClassOf(err))
}

func TestVerifyFailures(t *testing.T) {
	other, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*fixture, *Request)
		want   error
	}{
		{
			name:   "expired",
			mutate: func(f *fixture, r *Request) { r.Signature.Deadline = 999 },
			want:   ErrExpired,
		},
		{
			name:   "wrong claimed signer",
			mutate: func(f *fixture, r *Request) { r.Signature.Signer = other.Address() },
			want:   ErrBadSignature,
		},
		{
			name:   "not a participant",
			mutate: func(f *fixture, r *Request) { r.Expected = []crypto.Address{other.Address()} },
			want:   ErrSignerNotParticipant,
		},
		{
			name:   "self signed",
			mutate: func(f *fixture, r *Request) { r.Caller = f.signer.Address() },
			want:   ErrSignerIsCaller,
		},
		{
			name: "other deployment",
			mutate: func(f *fixture, r *Request) {
				r.Domain.VerifyingContract = crypto.ComponentAddress("elsewhere")
				r.Signature.Signer = crypto.Address{}
			},
			want: ErrSignerNotParticipant,
		},
		{
			name:   "truncated",
			mutate: func(f *fixture, r *Request) { r.Signature.Bytes = r.Signature.Bytes[:64] },
			want:   ErrBadSignature,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request(t, greeting("hello"), 0, 2_000)
			tc.mutate(f, &req)
			_, err := f.validator.Verify(f.ctx, req)
			require.ErrorIs(t, err, tc.want)

			nonce, err := f.validator.Nonce(f.ctx, f.signer.Address())
			require.NoError(t, err)
			require.Zero(t, nonce)
		})
	}
}

func TestVerifyExpiredDeadline(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, greeting("late"), 0, 999)
	_, err := f.validator.Verify(f.ctx, req)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyFutureNonceIsStale(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, greeting("ahead"), 3, 2_000)
	_, err := f.validator.Verify(f.ctx, req)
	require.ErrorIs(t, err, ErrStaleNonce)
}

func TestCancelNonceInvalidatesOutstandingSignature(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, greeting("hello"), 0, 2_000)

	next, err := f.validator.CancelNonce(f.ctx.As(f.signer.Address()))
	require.NoError(t, err)
	require.Equal(t, uint64(1), next)

	_, err = f.validator.Verify(f.ctx, req)
	require.ErrorIs(t, err, ErrStaleNonce)
}

func TestRecoverIsPure(t *testing.T) {
	f := newFixture(t)
	hash, err := greeting("pure").StructHash(0, 10)
	require.NoError(t, err)
	sig, err := Sign(f.signer, f.domain, hash)
	require.NoError(t, err)

	first, err := Recover(f.domain, hash, sig)
	require.NoError(t, err)
	second, err := Recover(f.domain, hash, sig)
	require.NoError(t, err)
	require.Equal(t, f.signer.Address(), first)
	require.Equal(t, first, second)
}
