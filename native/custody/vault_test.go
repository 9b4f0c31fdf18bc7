package custody

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/core/state"
	"loanledger/crypto"
	"loanledger/native/consent"
	"loanledger/storage"
)

func newTestVault(t *testing.T) (*Vault, *exec.Context, crypto.Address) {
	t.Helper()
	minter := crypto.ComponentAddress("minter")
	vault, err := NewVault(Config{Address: crypto.ComponentAddress("vault"), Minter: minter, ChainID: 1})
	require.NoError(t, err)
	ctx := exec.NewContext(context.Background(), state.NewManager(storage.NewMemDB()), minter, 100)
	return vault, ctx, minter
}

func TestMintAndTransfer(t *testing.T) {
	vault, ctx, _ := newTestVault(t)
	alice := crypto.ComponentAddress("alice")
	bob := crypto.ComponentAddress("bob")
	asset := AssetID{Collection: crypto.ComponentAddress("punks"), TokenID: 7}

	require.NoError(t, vault.Mint(ctx, alice, asset))
	require.ErrorIs(t, vault.Mint(ctx, alice, asset), ErrAssetExists)
	require.ErrorIs(t, vault.Mint(ctx.As(alice), alice, AssetID{Collection: asset.Collection, TokenID: 8}), ErrMintUnauthorized)

	owner, err := vault.OwnerOf(ctx, asset)
	require.NoError(t, err)
	require.Equal(t, alice, owner)

	err = vault.TransferFrom(ctx.As(bob), alice, bob, asset)
	require.ErrorIs(t, err, ErrNotApproved)
	require.Equal(t, coreerrors.ClassCustodyUnavailable, coreerrors.ClassOf(err))

	require.NoError(t, vault.Approve(ctx.As(alice), bob, asset))
	require.NoError(t, vault.TransferFrom(ctx.As(bob), alice, bob, asset))
	owner, err = vault.OwnerOf(ctx, asset)
	require.NoError(t, err)
	require.Equal(t, bob, owner)

	approved, err := vault.GetApproved(ctx, asset)
	require.NoError(t, err)
	require.True(t, approved.IsZero())

	require.ErrorIs(t, vault.TransferFrom(ctx.As(bob), alice, bob, asset), ErrNotOwner)

	_, err = vault.OwnerOf(ctx, AssetID{Collection: asset.Collection, TokenID: 99})
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestOperatorMayMoveAnyAsset(t *testing.T) {
	vault, ctx, _ := newTestVault(t)
	alice := crypto.ComponentAddress("alice")
	operator := crypto.ComponentAddress("operator")
	asset := AssetID{Collection: crypto.ComponentAddress("punks"), TokenID: 1}
	require.NoError(t, vault.Mint(ctx, alice, asset))

	require.NoError(t, vault.SetApprovalForAll(ctx.As(alice), operator, true))
	require.NoError(t, vault.TransferFrom(ctx.As(operator), alice, operator, asset))

	require.NoError(t, vault.SetApprovalForAll(ctx.As(alice), operator, false))
	ok, err := vault.IsApprovedForAll(ctx, alice, operator)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPermitIsSingleUse(t *testing.T) {
	vault, ctx, _ := newTestVault(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	owner := key.Address()
	spender := crypto.ComponentAddress("gateway")
	asset := AssetID{Collection: crypto.ComponentAddress("punks"), TokenID: 3}
	require.NoError(t, vault.Mint(ctx, owner, asset))

	hash, err := PermitHash(owner, spender, asset, 0, 500)
	require.NoError(t, err)
	sig, err := consent.Sign(key, vault.Domain(), hash)
	require.NoError(t, err)
	permit := Permit{
		Owner:     owner,
		Spender:   spender,
		Asset:     asset,
		Signature: consent.Signature{Nonce: 0, Deadline: 500, Bytes: sig},
	}

	require.NoError(t, vault.Permit(ctx.As(spender), permit))
	approved, err := vault.GetApproved(ctx, asset)
	require.NoError(t, err)
	require.Equal(t, spender, approved)

	require.ErrorIs(t, vault.Permit(ctx.As(spender), permit), consent.ErrStaleNonce)

	nonce, err := vault.Nonce(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestPermitRejectsForgedOwner(t *testing.T) {
	vault, ctx, _ := newTestVault(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	mallory, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	asset := AssetID{Collection: crypto.ComponentAddress("punks"), TokenID: 4}
	require.NoError(t, vault.Mint(ctx, key.Address(), asset))

	hash, err := PermitHash(key.Address(), mallory.Address(), asset, 0, 500)
	require.NoError(t, err)
	sig, err := consent.Sign(mallory, vault.Domain(), hash)
	require.NoError(t, err)
	err = vault.Permit(ctx.As(mallory.Address()), Permit{
		Owner:     key.Address(),
		Spender:   mallory.Address(),
		Asset:     asset,
		Signature: consent.Signature{Deadline: 500, Bytes: sig},
	})
	require.ErrorIs(t, err, consent.ErrBadSignature)
}
