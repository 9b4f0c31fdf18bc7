package fees

import (
	"testing"

	"github.com/stretchr/testify/require"

	"loanledger/crypto"
)

func TestRegistryResolvesRegisteredPolicies(t *testing.T) {
	owner := crypto.ComponentAddress("owner")
	first, err := NewPolicy(crypto.ComponentAddress("fees/a"), owner)
	require.NoError(t, err)
	second, err := NewPolicy(crypto.ComponentAddress("fees/b"), owner)
	require.NoError(t, err)

	reg, err := NewRegistry(first)
	require.NoError(t, err)
	require.NoError(t, reg.Register(first))
	require.NoError(t, reg.Register(second))

	impostor, err := NewPolicy(first.Address(), crypto.ComponentAddress("other"))
	require.NoError(t, err)
	require.Error(t, reg.Register(impostor))

	got, err := reg.Policy(second.Address())
	require.NoError(t, err)
	require.Equal(t, second, got)
	require.Len(t, reg.Addresses(), 2)

	_, err = reg.Policy(crypto.ComponentAddress("fees/missing"))
	require.ErrorIs(t, err, ErrUnknownPolicy)
}
