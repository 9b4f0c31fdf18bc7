package claims

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"loanledger/core/exec"
	"loanledger/core/state"
	"loanledger/crypto"
	"loanledger/storage"
)

type fakeLoans map[uint64]bool

func (f fakeLoans) IsTerminal(_ *exec.Context, loanID uint64) (bool, error) {
	return f[loanID], nil
}

func newTestRegistry(t *testing.T) (*Registry, fakeLoans, *exec.Context) {
	t.Helper()
	ledger := crypto.ComponentAddress("ledger")
	reg, err := NewRegistry(Config{Address: crypto.ComponentAddress("notes"), Kind: KindBorrower, Minter: ledger})
	require.NoError(t, err)
	loans := fakeLoans{}
	reg.SetLoanView(loans)
	ctx := exec.NewContext(context.Background(), state.NewManager(storage.NewMemDB()), ledger, 1)
	return reg, loans, ctx
}

func TestMintAssignsSequentialIDs(t *testing.T) {
	reg, _, ctx := newTestRegistry(t)
	alice := crypto.ComponentAddress("alice")

	first, err := reg.Mint(ctx, alice, 10)
	require.NoError(t, err)
	second, err := reg.Mint(ctx, alice, 11)
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(2), second)

	_, err = reg.Mint(ctx, alice, 10)
	require.ErrorIs(t, err, ErrAlreadyMinted)
	_, err = reg.Mint(ctx.As(alice), alice, 12)
	require.ErrorIs(t, err, ErrMintUnauthorized)

	loanID, err := reg.LoanOf(ctx, second)
	require.NoError(t, err)
	require.Equal(t, uint64(11), loanID)
	noteID, err := reg.NoteOf(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, first, noteID)
}

func TestTransferAndApproval(t *testing.T) {
	reg, _, ctx := newTestRegistry(t)
	alice := crypto.ComponentAddress("alice")
	bob := crypto.ComponentAddress("bob")
	id, err := reg.Mint(ctx, alice, 1)
	require.NoError(t, err)

	require.ErrorIs(t, reg.TransferFrom(ctx.As(bob), alice, bob, id), ErrNotApproved)
	require.NoError(t, reg.Approve(ctx.As(alice), bob, id))
	require.NoError(t, reg.TransferFrom(ctx.As(bob), alice, bob, id))

	owner, err := reg.OwnerOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, bob, owner)

	require.ErrorIs(t, reg.Transfer(ctx.As(alice), alice, id), ErrNotHolder)
	require.NoError(t, reg.Transfer(ctx.As(bob), alice, id))
}

func TestBurnRequiresHolderAndTerminalLoan(t *testing.T) {
	reg, loans, ctx := newTestRegistry(t)
	alice := crypto.ComponentAddress("alice")
	id, err := reg.Mint(ctx, alice, 5)
	require.NoError(t, err)

	require.ErrorIs(t, reg.Burn(ctx.As(alice), id), ErrLoanNotTerminal)
	loans[5] = true
	require.ErrorIs(t, reg.Burn(ctx.As(crypto.ComponentAddress("bob")), id), ErrNotHolder)
	require.NoError(t, reg.Burn(ctx.As(alice), id))

	_, err = reg.OwnerOf(ctx, id)
	require.ErrorIs(t, err, ErrUnknownNote)
	loanID, err := reg.LoanOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(5), loanID)
}
