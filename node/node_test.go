package node

import (
	"context"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"loanledger/config"
	"loanledger/core/exec"
	"loanledger/core/genesis"
	"loanledger/crypto"
	"loanledger/native/access"
	"loanledger/native/consent"
	"loanledger/native/custody"
	"loanledger/native/ledger"
	"loanledger/native/origination"
	"loanledger/observability/metrics"
	"loanledger/storage"
)

func testGenesis(t *testing.T, alice crypto.Address) *genesis.GenesisSpec {
	t.Helper()
	doc := `
genesisTime: "2024-01-01T00:00:00Z"
chainId: 3
admin: ` + crypto.ComponentAddress("admin").String() + `
feeBps: 100
currencies:
  - symbol: USD
collections:
  - name: deeds
deployments:
  - name: primary
  - name: secondary
alloc:
  ` + alice.String() + `:
    USD: "500"
assets:
  - owner: ` + alice.String() + `
    collection: deeds
    tokenIds: [1]
flashLiquidity:
  USD: "10000"
`
	spec, err := genesis.ParseGenesisSpec([]byte(doc))
	require.NoError(t, err)
	return spec
}

func TestNewAppliesGenesisOnce(t *testing.T) {
	alice := crypto.ComponentAddress("alice")
	db := storage.NewMemDB()
	cfg := config.Default()
	spec := testGenesis(t, alice)

	n, err := New(Options{Config: cfg, Genesis: spec, DB: db, Metrics: metrics.NewLedgerMetrics(prometheus.NewRegistry())})
	require.NoError(t, err)
	require.Equal(t, []string{"primary", "secondary"}, n.DeploymentNames())

	primary, ok := n.Deployment("primary")
	require.True(t, ok)
	byLedger, ok := n.DeploymentByLedger(primary.Ledger.Address())
	require.True(t, ok)
	require.Equal(t, primary, byLedger)

	require.NoError(t, n.View(context.Background(), func(ctx *exec.Context) error {
		token, err := n.Currencies().BySymbol("USD")
		require.NoError(t, err)
		bal, err := token.BalanceOf(ctx, alice)
		require.NoError(t, err)
		require.Zero(t, bal.Cmp(big.NewInt(500)))
		liquidity, err := n.Pool().Liquidity(ctx, token.Address())
		require.NoError(t, err)
		require.Zero(t, liquidity.Cmp(big.NewInt(10_000)))

		owner, err := n.Vault().OwnerOf(ctx, custody.AssetID{Collection: CollectionAddress("deeds"), TokenID: 1})
		require.NoError(t, err)
		require.Equal(t, alice, owner)

		bps, err := n.FeePolicy().OriginationFeeBps(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(100), bps)

		ok, err := primary.Roles.Has(ctx, access.RoleOriginator, primary.Origination.Address())
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}))

	// A restart over the same database must not mint twice.
	again, err := New(Options{Config: cfg, Genesis: spec, DB: db})
	require.NoError(t, err)
	require.NoError(t, again.View(context.Background(), func(ctx *exec.Context) error {
		token, err := again.Currencies().BySymbol("USD")
		require.NoError(t, err)
		bal, err := token.BalanceOf(ctx, alice)
		require.Zero(t, bal.Cmp(big.NewInt(500)))
		return err
	}))
}

func TestNewRejectsForeignState(t *testing.T) {
	alice := crypto.ComponentAddress("alice")
	db := storage.NewMemDB()
	spec := testGenesis(t, alice)
	_, err := New(Options{Config: config.Default(), Genesis: spec, DB: db})
	require.NoError(t, err)

	spec.ChainID = 4
	_, err = New(Options{Config: config.Default(), Genesis: spec, DB: db})
	require.Error(t, err)
}

func TestSwitchedFeePolicySurvivesRestart(t *testing.T) {
	alice := crypto.ComponentAddress("alice")
	db := storage.NewMemDB()
	spec := testGenesis(t, alice)
	bps := uint64(50)
	spec.FeePolicies = []genesis.FeePolicySpec{{Name: "promo", FeeBps: &bps}}

	n, err := New(Options{Config: config.Default(), Genesis: spec, DB: db})
	require.NoError(t, err)
	promo, ok := n.NamedFeePolicy("promo")
	require.True(t, ok)
	require.Equal(t, FeePolicyAddressFor("promo"), promo.Address())
	primary, _ := n.Deployment("primary")
	require.NoError(t, n.Execute(context.Background(), n.Admin(), "switch-fees", func(c *exec.Context) error {
		return primary.Ledger.SetFeePolicy(c, promo.Address())
	}))

	restarted, err := New(Options{Config: config.Default(), Genesis: spec, DB: db})
	require.NoError(t, err)
	primary, _ = restarted.Deployment("primary")
	require.NoError(t, restarted.View(context.Background(), func(c *exec.Context) error {
		policy, err := primary.Ledger.FeePolicy(c)
		require.NoError(t, err)
		require.Equal(t, promo.Address(), policy.Address())
		current, err := policy.OriginationFeeBps(c)
		require.NoError(t, err)
		require.Equal(t, uint64(50), current)
		return nil
	}))
}

func TestOriginateAndRepayThroughNode(t *testing.T) {
	borrowerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	lenderKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	borrower, lender := borrowerKey.Address(), lenderKey.Address()

	doc := `
genesisTime: "2024-01-01T00:00:00Z"
chainId: 7
admin: ` + crypto.ComponentAddress("admin").String() + `
currencies:
  - symbol: USD
collections:
  - name: deeds
deployments:
  - name: primary
alloc:
  ` + borrower.String() + `:
    USD: "100"
  ` + lender.String() + `:
    USD: "1000"
assets:
  - owner: ` + borrower.String() + `
    collection: deeds
    tokenIds: [1]
`
	spec, err := genesis.ParseGenesisSpec([]byte(doc))
	require.NoError(t, err)
	n, err := New(Options{Config: config.Default(), Genesis: spec, DB: storage.NewMemDB(), Now: func() int64 { return 1_000 }})
	require.NoError(t, err)
	defer n.Close()

	d, ok := n.Deployment("primary")
	require.True(t, ok)
	token, err := n.Currencies().BySymbol("USD")
	require.NoError(t, err)
	asset := custody.AssetID{Collection: CollectionAddress("deeds"), TokenID: 1}
	terms := ledger.Terms{
		Duration:   100,
		Principal:  big.NewInt(100),
		Interest:   big.NewInt(1),
		Collateral: asset,
		Currency:   token.Address(),
	}
	sig, err := origination.SignTerms(lenderKey, d.Origination.Domain(), terms, borrower, lender, 0, 1_060)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, n.Execute(ctx, lender, "approve", func(c *exec.Context) error {
		return token.Approve(c, d.Origination.Address(), big.NewInt(100))
	}))
	var loanID uint64
	require.NoError(t, n.Execute(ctx, borrower, "originate", func(c *exec.Context) error {
		if err := n.Vault().Approve(c, d.Origination.Address(), asset); err != nil {
			return err
		}
		var err error
		loanID, err = d.Origination.InitializeLoan(c, origination.Request{
			Terms:     terms,
			Borrower:  borrower,
			Lender:    lender,
			Signature: consent.Signature{Signer: lender, Nonce: 0, Deadline: 1_060, Bytes: sig},
		})
		return err
	}))

	require.NoError(t, n.Execute(ctx, borrower, "repay", func(c *exec.Context) error {
		loan, err := d.Ledger.Loan(c, loanID)
		if err != nil {
			return err
		}
		if err := token.Approve(c, d.Settlement.Address(), loan.Terms.AmountDue()); err != nil {
			return err
		}
		return d.Settlement.Repay(c, loan.BorrowerNoteID)
	}))

	require.NoError(t, n.View(ctx, func(c *exec.Context) error {
		loan, err := d.Ledger.Loan(c, loanID)
		require.NoError(t, err)
		require.Equal(t, ledger.LoanStatusRepaid, loan.Status)
		owner, err := n.Vault().OwnerOf(c, asset)
		require.NoError(t, err)
		require.Equal(t, borrower, owner)
		bal, err := token.BalanceOf(c, borrower)
		require.NoError(t, err)
		require.Zero(t, bal.Cmp(big.NewInt(96)))
		bal, err = token.BalanceOf(c, lender)
		require.NoError(t, err)
		require.Zero(t, bal.Cmp(big.NewInt(1_001)))
		return nil
	}))
}
