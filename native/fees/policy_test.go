package fees

import (
	"context"
	"math/big"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"

	"loanledger/core/exec"
	"loanledger/core/state"
	"loanledger/crypto"
	"loanledger/storage"
)

func TestPolicyDefaultsAndOwnerGate(t *testing.T) {
	owner := crypto.ComponentAddress("owner")
	policy, err := NewPolicy(crypto.ComponentAddress("fees"), owner)
	require.NoError(t, err)
	ctx := exec.NewContext(context.Background(), state.NewManager(storage.NewMemDB()), owner, 1)

	bps, err := policy.OriginationFeeBps(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultOriginationFeeBps, bps)

	require.ErrorIs(t, policy.SetOriginationFeeBps(ctx.As(crypto.ComponentAddress("stranger")), 100), ErrNotOwner)
	require.ErrorIs(t, policy.SetOriginationFeeBps(ctx, 10_001), ErrBpsTooHigh)
	require.NoError(t, policy.SetOriginationFeeBps(ctx, 100))

	bps, err = policy.OriginationFeeBps(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), bps)

	require.NoError(t, policy.SetOriginationFeeBps(ctx, 0))
	bps, err = policy.OriginationFeeBps(ctx)
	require.NoError(t, err)
	require.Zero(t, bps)
}

func TestFee(t *testing.T) {
	require.Equal(t, int64(3), Fee(big.NewInt(100), 300).Int64())
	require.Equal(t, int64(1), Fee(big.NewInt(100), 100).Int64())
	require.Equal(t, int64(0), Fee(big.NewInt(33), 300).Int64())
	require.Equal(t, int64(0), Fee(nil, 300).Int64())
}

func TestSnapshotTimingDecodesFromTOML(t *testing.T) {
	var cfg struct {
		Timing SnapshotTiming `toml:"timing"`
	}
	_, err := toml.Decode(`timing = "create"`, &cfg)
	require.NoError(t, err)
	require.Equal(t, SnapshotAtCreate, cfg.Timing)

	_, err = toml.Decode(`timing = "never"`, &cfg)
	require.Error(t, err)

	timing, err := ParseSnapshotTiming("")
	require.NoError(t, err)
	require.Equal(t, SnapshotAtStart, timing)
}
