package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "loanledger/core/errors"
	"loanledger/core/events"
	"loanledger/core/exec"
	"loanledger/core/state"
	"loanledger/crypto"
	"loanledger/native/access"
	"loanledger/native/bank"
	"loanledger/native/claims"
	"loanledger/native/custody"
	"loanledger/native/fees"
	"loanledger/storage"
)

type fixture struct {
	rt         *exec.Runtime
	now        int64
	ledger     *Ledger
	token      *bank.Token
	taxed      *bank.Token
	vault      *custody.Vault
	policy     *fees.Policy
	recorder   *events.Recorder
	admin      crypto.Address
	gateway    crypto.Address
	borrower   crypto.Address
	lender     crypto.Address
	minter     crypto.Address
	collection crypto.Address
	currencies *bank.Registry
	roles      *access.Roles
	timing     fees.SnapshotTiming
}

// build wires a ledger over the fixture's state, as a restarted node would.
func (f *fixture) build(t *testing.T, policies *fees.Registry) *Ledger {
	t.Helper()
	ledgerAddr := crypto.ComponentAddress("ledger")
	borrowerNotes, err := claims.NewRegistry(claims.Config{Address: crypto.ComponentAddress("notes/borrower"), Kind: claims.KindBorrower, Minter: ledgerAddr})
	require.NoError(t, err)
	lenderNotes, err := claims.NewRegistry(claims.Config{Address: crypto.ComponentAddress("notes/lender"), Kind: claims.KindLender, Minter: ledgerAddr})
	require.NoError(t, err)
	l, err := New(Config{
		Address:       ledgerAddr,
		Custody:       f.vault,
		Currencies:    f.currencies,
		FeePolicy:     f.policy,
		Policies:      policies,
		BorrowerNotes: borrowerNotes,
		LenderNotes:   lenderNotes,
		Access:        DefaultAccess(f.roles),
		FeeTiming:     f.timing,
	})
	require.NoError(t, err)
	return l
}

func newFixture(t *testing.T, timing fees.SnapshotTiming) *fixture {
	t.Helper()
	f := &fixture{
		now:        1_000,
		recorder:   &events.Recorder{},
		admin:      crypto.ComponentAddress("admin"),
		gateway:    crypto.ComponentAddress("gateway"),
		borrower:   crypto.ComponentAddress("borrower"),
		lender:     crypto.ComponentAddress("lender"),
		minter:     crypto.ComponentAddress("minter"),
		collection: crypto.ComponentAddress("collection"),
	}
	st := state.NewManager(storage.NewMemDB())
	f.rt = exec.NewRuntime(st, exec.WithEmitter(f.recorder), exec.WithNowFunc(func() int64 { return f.now }))

	var err error
	f.token, err = bank.NewToken(bank.Config{Address: crypto.ComponentAddress("token/usd"), Symbol: "USD", Minter: f.minter})
	require.NoError(t, err)
	f.taxed, err = bank.NewToken(bank.Config{Address: crypto.ComponentAddress("token/tax"), Symbol: "TAX", Minter: f.minter, TransferTaxBps: 100})
	require.NoError(t, err)
	currencies, err := bank.NewRegistry(f.token, f.taxed)
	require.NoError(t, err)
	f.vault, err = custody.NewVault(custody.Config{Address: crypto.ComponentAddress("vault"), Minter: f.minter, ChainID: 1})
	require.NoError(t, err)
	f.policy, err = fees.NewPolicy(crypto.ComponentAddress("fees"), f.admin)
	require.NoError(t, err)

	f.currencies = currencies
	f.timing = timing
	roles := access.NewRoles(crypto.ComponentAddress("ledger"))
	f.roles = roles
	f.ledger = f.build(t, nil)

	require.NoError(t, f.run(f.admin, func(ctx *exec.Context) error {
		if err := roles.Bootstrap(ctx, f.admin); err != nil {
			return err
		}
		if err := roles.Grant(ctx, access.RoleOriginator, f.gateway); err != nil {
			return err
		}
		if err := roles.Grant(ctx, access.RoleRepayer, f.gateway); err != nil {
			return err
		}
		minter := ctx.As(f.minter)
		for _, token := range []*bank.Token{f.token, f.taxed} {
			for _, who := range []crypto.Address{f.borrower, f.lender} {
				if err := token.Mint(minter, who, big.NewInt(1_000)); err != nil {
					return err
				}
			}
		}
		for id := uint64(1); id <= 4; id++ {
			if err := f.vault.Mint(minter, f.borrower, f.asset(id)); err != nil {
				return err
			}
		}
		return nil
	}))
	return f
}

func (f *fixture) run(caller crypto.Address, fn func(*exec.Context) error) error {
	return f.rt.Execute(context.Background(), caller, "test", fn)
}

func (f *fixture) asset(id uint64) custody.AssetID {
	return custody.AssetID{Collection: f.collection, TokenID: id}
}

func (f *fixture) terms(assetID uint64, principal, interest int64) Terms {
	return Terms{
		Duration:   100,
		Principal:  big.NewInt(principal),
		Interest:   big.NewInt(interest),
		Collateral: f.asset(assetID),
		Currency:   f.token.Address(),
	}
}

// deposit moves the collateral and principal into the ledger the way the
// origination gateway does.
func (f *fixture) deposit(ctx *exec.Context, token *bank.Token, asset custody.AssetID, principal int64) error {
	if err := f.vault.TransferFrom(ctx.As(f.borrower), f.borrower, f.ledger.Address(), asset); err != nil {
		return err
	}
	return token.Transfer(ctx.As(f.lender), f.ledger.Address(), big.NewInt(principal))
}

func (f *fixture) open(t *testing.T, assetID uint64, principal, interest int64) uint64 {
	t.Helper()
	var id uint64
	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		if err := f.deposit(ctx, f.token, f.asset(assetID), principal); err != nil {
			return err
		}
		var err error
		id, err = f.ledger.Create(ctx, f.terms(assetID, principal, interest))
		if err != nil {
			return err
		}
		return f.ledger.Start(ctx, f.lender, f.borrower, id)
	}))
	return id
}

func (f *fixture) balance(t *testing.T, token *bank.Token, who crypto.Address) int64 {
	t.Helper()
	var out int64
	require.NoError(t, f.rt.View(context.Background(), func(ctx *exec.Context) error {
		bal, err := token.BalanceOf(ctx, who)
		out = bal.Int64()
		return err
	}))
	return out
}

func (f *fixture) loan(t *testing.T, id uint64) *Loan {
	t.Helper()
	var loan *Loan
	require.NoError(t, f.rt.View(context.Background(), func(ctx *exec.Context) error {
		var err error
		loan, err = f.ledger.Loan(ctx, id)
		return err
	}))
	return loan
}

func (f *fixture) owner(t *testing.T, asset custody.AssetID) crypto.Address {
	t.Helper()
	var owner crypto.Address
	require.NoError(t, f.rt.View(context.Background(), func(ctx *exec.Context) error {
		var err error
		owner, err = f.vault.OwnerOf(ctx, asset)
		return err
	}))
	return owner
}

func TestStartDisbursesPrincipalLessFee(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)

	id := f.open(t, 1, 100, 1)
	require.Equal(t, int64(1_097), f.balance(t, f.token, f.borrower))
	require.Equal(t, int64(3), f.balance(t, f.token, f.ledger.Address()))

	loan := f.loan(t, id)
	require.Equal(t, LoanStatusActive, loan.Status)
	require.Equal(t, uint64(1), loan.BorrowerNoteID)
	require.Equal(t, uint64(1), loan.LenderNoteID)
	require.Equal(t, uint64(1_100), loan.DueAt)
	require.Equal(t, int64(3), loan.OriginationFee.Int64())

	require.NoError(t, f.run(f.admin, func(ctx *exec.Context) error {
		return f.policy.SetOriginationFeeBps(ctx, 100)
	}))
	f.open(t, 2, 100, 1)
	require.Equal(t, int64(1_097+99), f.balance(t, f.token, f.borrower))
	require.Equal(t, int64(3+1), f.balance(t, f.token, f.ledger.Address()))
	require.Contains(t, f.recorder.Types(), EventTypeLoanStarted)
}

func TestFeeSnapshotTiming(t *testing.T) {
	for _, tc := range []struct {
		timing fees.SnapshotTiming
		fee    int64
	}{
		{timing: fees.SnapshotAtStart, fee: 1},
		{timing: fees.SnapshotAtCreate, fee: 3},
	} {
		t.Run(tc.timing.String(), func(t *testing.T) {
			f := newFixture(t, tc.timing)
			var id uint64
			require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
				var err error
				id, err = f.ledger.Create(ctx, f.terms(1, 100, 1))
				return err
			}))
			require.NoError(t, f.run(f.admin, func(ctx *exec.Context) error {
				return f.policy.SetOriginationFeeBps(ctx, 100)
			}))
			require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
				if err := f.deposit(ctx, f.token, f.asset(1), 100); err != nil {
					return err
				}
				return f.ledger.Start(ctx, f.lender, f.borrower, id)
			}))
			require.Equal(t, tc.fee, f.loan(t, id).OriginationFee.Int64())
		})
	}
}

func TestStartChecksCustodyAndDeposit(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)

	err := f.run(f.gateway, func(ctx *exec.Context) error {
		if err := f.token.Transfer(ctx.As(f.lender), f.ledger.Address(), big.NewInt(100)); err != nil {
			return err
		}
		id, err := f.ledger.Create(ctx, f.terms(1, 100, 1))
		if err != nil {
			return err
		}
		return f.ledger.Start(ctx, f.lender, f.borrower, id)
	})
	require.ErrorIs(t, err, ErrCollateralNotSent)
	require.Equal(t, coreerrors.ClassCustodyUnavailable, coreerrors.ClassOf(err))

	err = f.run(f.gateway, func(ctx *exec.Context) error {
		if err := f.deposit(ctx, f.token, f.asset(1), 99); err != nil {
			return err
		}
		id, err := f.ledger.Create(ctx, f.terms(1, 100, 1))
		if err != nil {
			return err
		}
		return f.ledger.Start(ctx, f.lender, f.borrower, id)
	})
	require.ErrorIs(t, err, ErrInsufficientDeposit)

	// A transfer-taxed currency delivers less than the declared amount.
	err = f.run(f.gateway, func(ctx *exec.Context) error {
		if err := f.deposit(ctx, f.taxed, f.asset(1), 100); err != nil {
			return err
		}
		terms := f.terms(1, 100, 1)
		terms.Currency = f.taxed.Address()
		id, err := f.ledger.Create(ctx, terms)
		if err != nil {
			return err
		}
		return f.ledger.Start(ctx, f.lender, f.borrower, id)
	})
	require.ErrorIs(t, err, ErrInsufficientDeposit)

	// Failed units leave no trace.
	require.Equal(t, f.borrower, f.owner(t, f.asset(1)))
	require.Equal(t, int64(1_000), f.balance(t, f.token, f.lender))
	var count uint64
	require.NoError(t, f.rt.View(context.Background(), func(ctx *exec.Context) error {
		var err error
		count, err = f.ledger.LoanCount(ctx)
		return err
	}))
	require.Zero(t, count)
}

func TestRepayMeasuresBalanceIncrease(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	id := f.open(t, 1, 100, 1)
	ledgerAddr := f.ledger.Address()

	payExactly := func(amount int64) Funding {
		return func(ctx *exec.Context) error {
			return f.token.Transfer(ctx.As(f.borrower), ledgerAddr, big.NewInt(amount))
		}
	}
	err := f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Repay(ctx, id, payExactly(100))
	})
	require.ErrorIs(t, err, ErrInsufficientRepayment)
	require.Equal(t, coreerrors.ClassInsufficientFunds, coreerrors.ClassOf(err))

	pull := func(ctx *exec.Context) error {
		return f.token.TransferFrom(ctx, f.borrower, ledgerAddr, big.NewInt(101))
	}
	err = f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Repay(ctx, id, pull)
	})
	require.ErrorIs(t, err, ErrInsufficientRepayment)
	require.ErrorIs(t, err, bank.ErrInsufficientAllowance)

	require.NoError(t, f.run(f.borrower, func(ctx *exec.Context) error {
		return f.token.Approve(ctx, f.gateway, big.NewInt(101))
	}))
	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Repay(ctx, id, pull)
	}))

	require.Equal(t, LoanStatusRepaid, f.loan(t, id).Status)
	require.Equal(t, int64(1_000-100+101), f.balance(t, f.token, f.lender))
	require.Equal(t, int64(1_097-101), f.balance(t, f.token, f.borrower))
	require.Equal(t, int64(3), f.balance(t, f.token, ledgerAddr))
	require.Equal(t, f.borrower, f.owner(t, f.asset(1)))

	err = f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Repay(ctx, id, payExactly(101))
	})
	require.ErrorIs(t, err, ErrInvalidLoanState)
}

func TestRepayPaysCurrentNoteHolders(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	id := f.open(t, 1, 100, 1)
	buyer := crypto.ComponentAddress("note-buyer")

	loan := f.loan(t, id)
	require.NoError(t, f.run(f.lender, func(ctx *exec.Context) error {
		return f.ledger.Notes(claims.KindLender).Transfer(ctx, buyer, loan.LenderNoteID)
	}))
	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Repay(ctx, id, func(ctx *exec.Context) error {
			return f.token.Transfer(ctx.As(f.borrower), f.ledger.Address(), big.NewInt(101))
		})
	}))
	require.Equal(t, int64(101), f.balance(t, f.token, buyer))
}

func TestClaimOnlyAfterExpiryAndOnce(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	id := f.open(t, 1, 100, 1)

	claim := func(ctx *exec.Context) error { return f.ledger.Claim(ctx, id) }
	require.ErrorIs(t, f.run(f.gateway, claim), ErrLoanNotExpired)

	f.now = 1_100
	require.NoError(t, f.run(f.gateway, claim))
	require.Equal(t, f.lender, f.owner(t, f.asset(1)))
	require.Equal(t, LoanStatusDefaulted, f.loan(t, id).Status)

	err := f.run(f.gateway, claim)
	require.ErrorIs(t, err, ErrInvalidLoanState)
	require.Equal(t, coreerrors.ClassInvalidState, coreerrors.ClassOf(err))
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	var id uint64
	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		var err error
		id, err = f.ledger.Create(ctx, f.terms(1, 100, 1))
		return err
	}))

	require.ErrorIs(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Repay(ctx, id, nil)
	}), ErrInvalidLoanState)
	require.ErrorIs(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Claim(ctx, id)
	}), ErrInvalidLoanState)

	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		if err := f.deposit(ctx, f.token, f.asset(1), 100); err != nil {
			return err
		}
		return f.ledger.Start(ctx, f.lender, f.borrower, id)
	}))
	require.ErrorIs(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Start(ctx, f.lender, f.borrower, id)
	}), ErrInvalidLoanState)
}

func TestCollateralBindsOneOpenLoan(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	id := f.open(t, 1, 100, 1)

	_, err := f.createOnly(t, 1)
	require.ErrorIs(t, err, ErrCollateralInUse)

	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Repay(ctx, id, func(ctx *exec.Context) error {
			return f.token.Transfer(ctx.As(f.borrower), f.ledger.Address(), big.NewInt(101))
		})
	}))
	second, err := f.createOnly(t, 1)
	require.NoError(t, err)
	require.Equal(t, id+1, second)

	_, err = f.createOnly(t, 1)
	require.ErrorIs(t, err, ErrCollateralInUse)
}

func (f *fixture) createOnly(t *testing.T, assetID uint64) (uint64, error) {
	t.Helper()
	var id uint64
	err := f.run(f.gateway, func(ctx *exec.Context) error {
		var err error
		id, err = f.ledger.Create(ctx, f.terms(assetID, 100, 1))
		return err
	})
	return id, err
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)

	past := f.terms(1, 100, 1)
	past.Duration = 0
	past.DueAt = 1_000
	err := f.run(f.gateway, func(ctx *exec.Context) error {
		_, err := f.ledger.Create(ctx, past)
		return err
	})
	require.ErrorIs(t, err, ErrDueDateNotFuture)

	zero := f.terms(1, 0, 1)
	err = f.run(f.gateway, func(ctx *exec.Context) error {
		_, err := f.ledger.Create(ctx, zero)
		return err
	})
	require.ErrorIs(t, err, ErrInvalidTerms)

	for _, count := range []uint64{MaxInstallments + 1, 1 << 62} {
		many := f.terms(1, 100, 1)
		many.Duration = 1 << 40
		many.Installments = count
		require.ErrorIs(t, many.Validate(), ErrInvalidTerms)
		err = f.run(f.gateway, func(ctx *exec.Context) error {
			_, err := f.ledger.Create(ctx, many)
			return err
		})
		require.ErrorIs(t, err, ErrInvalidTerms)
	}

	// More installments than seconds until the due date.
	dense := f.terms(1, 100, 1)
	dense.Duration = 0
	dense.DueAt = 1_010
	dense.Installments = 12
	err = f.run(f.gateway, func(ctx *exec.Context) error {
		_, err := f.ledger.Create(ctx, dense)
		return err
	})
	require.ErrorIs(t, err, ErrInvalidTerms)

	unknown := f.terms(1, 100, 1)
	unknown.Currency = crypto.ComponentAddress("token/unknown")
	err = f.run(f.gateway, func(ctx *exec.Context) error {
		_, err := f.ledger.Create(ctx, unknown)
		return err
	})
	require.ErrorIs(t, err, bank.ErrUnknownCurrency)
}

func TestCapabilitiesAreEnforced(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	stranger := crypto.ComponentAddress("stranger")

	err := f.run(stranger, func(ctx *exec.Context) error {
		_, err := f.ledger.Create(ctx, f.terms(1, 100, 1))
		return err
	})
	require.ErrorIs(t, err, access.ErrUnauthorized)
	require.Equal(t, coreerrors.ClassUnauthorized, coreerrors.ClassOf(err))

	err = f.run(f.gateway, func(ctx *exec.Context) error {
		_, err := f.ledger.ClaimFees(ctx, f.token.Address())
		return err
	})
	require.ErrorIs(t, err, access.ErrUnauthorized)
}

func TestClaimFeesSweepsRetainedBalance(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	f.open(t, 1, 100, 1)
	f.open(t, 2, 100, 1)

	var claimed *big.Int
	require.NoError(t, f.run(f.admin, func(ctx *exec.Context) error {
		var err error
		claimed, err = f.ledger.ClaimFees(ctx, f.token.Address())
		return err
	}))
	require.Equal(t, int64(6), claimed.Int64())
	require.Equal(t, int64(6), f.balance(t, f.token, f.admin))
	require.Zero(t, f.balance(t, f.token, f.ledger.Address()))

	// Deposits after the sweep are still measured from the new baseline.
	f.open(t, 3, 100, 1)
	require.Equal(t, int64(3), f.balance(t, f.token, f.ledger.Address()))
}

func TestPendingDepositsSurviveOtherStarts(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	ledgerAddr := f.ledger.Address()

	var first, second uint64
	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		var err error
		if first, err = f.ledger.Create(ctx, f.terms(1, 100, 1)); err != nil {
			return err
		}
		second, err = f.ledger.Create(ctx, f.terms(2, 200, 1))
		return err
	}))
	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		if err := f.deposit(ctx, f.token, f.asset(1), 100); err != nil {
			return err
		}
		return f.deposit(ctx, f.token, f.asset(2), 200)
	}))

	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Start(ctx, f.lender, f.borrower, second)
	}))
	require.Equal(t, int64(100+6), f.balance(t, f.token, ledgerAddr))

	// The sweep takes the retained fee only.
	var claimed *big.Int
	require.NoError(t, f.run(f.admin, func(ctx *exec.Context) error {
		var err error
		claimed, err = f.ledger.ClaimFees(ctx, f.token.Address())
		return err
	}))
	require.Equal(t, int64(6), claimed.Int64())
	require.Equal(t, int64(100), f.balance(t, f.token, ledgerAddr))

	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Start(ctx, f.lender, f.borrower, first)
	}))
	require.Equal(t, LoanStatusActive, f.loan(t, first).Status)
	require.Equal(t, int64(1_000+97+194), f.balance(t, f.token, f.borrower))
	require.Equal(t, int64(3), f.balance(t, f.token, ledgerAddr))
}

func TestRepayOverpaymentIsRetained(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	id := f.open(t, 1, 100, 1)
	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Repay(ctx, id, func(ctx *exec.Context) error {
			return f.token.Transfer(ctx.As(f.borrower), f.ledger.Address(), big.NewInt(105))
		})
	}))

	var retained *big.Int
	require.NoError(t, f.rt.View(context.Background(), func(ctx *exec.Context) error {
		var err error
		retained, err = f.ledger.FeesAccrued(ctx, f.token.Address())
		return err
	}))
	require.Equal(t, int64(3+4), retained.Int64())

	// The surplus cannot stand in for a later lender's deposit.
	err := f.run(f.gateway, func(ctx *exec.Context) error {
		if err := f.vault.TransferFrom(ctx.As(f.borrower), f.borrower, f.ledger.Address(), f.asset(2)); err != nil {
			return err
		}
		id, err := f.ledger.Create(ctx, f.terms(2, 5, 0))
		if err != nil {
			return err
		}
		return f.ledger.Start(ctx, f.lender, f.borrower, id)
	})
	require.ErrorIs(t, err, ErrInsufficientDeposit)
}

func TestSetFeePolicySwapsReader(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	cheaper, err := fees.NewPolicy(crypto.ComponentAddress("fees/v2"), f.admin)
	require.NoError(t, err)
	policies, err := fees.NewRegistry(cheaper)
	require.NoError(t, err)
	f.ledger = f.build(t, policies)
	first := f.open(t, 1, 100, 1)

	require.NoError(t, f.run(f.admin, func(ctx *exec.Context) error {
		if err := cheaper.SetOriginationFeeBps(ctx, 100); err != nil {
			return err
		}
		return f.ledger.SetFeePolicy(ctx, cheaper.Address())
	}))
	require.ErrorIs(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.SetFeePolicy(ctx, f.policy.Address())
	}), access.ErrUnauthorized)

	unknown := f.run(f.admin, func(ctx *exec.Context) error {
		return f.ledger.SetFeePolicy(ctx, crypto.ComponentAddress("fees/rogue"))
	})
	require.ErrorIs(t, unknown, ErrUnknownFeePolicy)
	require.ErrorIs(t, unknown, fees.ErrUnknownPolicy)
	require.Equal(t, coreerrors.ClassNotFound, coreerrors.ClassOf(unknown))

	second := f.open(t, 2, 100, 1)
	require.Equal(t, int64(3), f.loan(t, first).OriginationFee.Int64())
	require.Equal(t, int64(1), f.loan(t, second).OriginationFee.Int64())
	require.Contains(t, f.recorder.Types(), EventTypeFeePolicyChanged)
}

func TestFeePolicySurvivesRebuild(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	cheaper, err := fees.NewPolicy(crypto.ComponentAddress("fees/v2"), f.admin)
	require.NoError(t, err)
	policies, err := fees.NewRegistry(cheaper)
	require.NoError(t, err)
	f.ledger = f.build(t, policies)
	require.NoError(t, f.run(f.admin, func(ctx *exec.Context) error {
		return f.ledger.SetFeePolicy(ctx, cheaper.Address())
	}))

	// A fresh registry built from the same configuration resolves the
	// stored policy.
	rebuilt, err := fees.NewRegistry(cheaper)
	require.NoError(t, err)
	f.ledger = f.build(t, rebuilt)
	require.NoError(t, f.rt.View(context.Background(), func(ctx *exec.Context) error {
		policy, err := f.ledger.FeePolicy(ctx)
		require.NoError(t, err)
		require.Equal(t, cheaper.Address(), policy.Address())
		return nil
	}))

	// Dropping the policy from configuration is reported, not ignored.
	f.ledger = f.build(t, nil)
	require.NoError(t, f.rt.View(context.Background(), func(ctx *exec.Context) error {
		_, err := f.ledger.FeePolicy(ctx)
		require.ErrorIs(t, err, ErrUnknownFeePolicy)
		return nil
	}))
}

func TestNotesBurnOnlyAfterTerminal(t *testing.T) {
	f := newFixture(t, fees.SnapshotAtStart)
	id := f.open(t, 1, 100, 1)
	loan := f.loan(t, id)
	notes := f.ledger.Notes(claims.KindBorrower)

	burn := func(ctx *exec.Context) error { return notes.Burn(ctx, loan.BorrowerNoteID) }
	require.ErrorIs(t, f.run(f.borrower, burn), claims.ErrLoanNotTerminal)

	f.now = 2_000
	require.NoError(t, f.run(f.gateway, func(ctx *exec.Context) error {
		return f.ledger.Claim(ctx, id)
	}))
	require.NoError(t, f.run(f.borrower, burn))

	var byNote *Loan
	require.NoError(t, f.rt.View(context.Background(), func(ctx *exec.Context) error {
		var err error
		byNote, err = f.ledger.LoanByNote(ctx, claims.KindBorrower, loan.BorrowerNoteID)
		return err
	}))
	require.Equal(t, id, byNote.ID)
}

func TestSchedule(t *testing.T) {
	loan := &Loan{
		Terms: Terms{
			Principal:    big.NewInt(100),
			Interest:     big.NewInt(2),
			Installments: 4,
		},
		CreatedAt: 1_000,
		StartedAt: 1_000,
		DueAt:     1_400,
	}
	schedule := Schedule(loan)
	require.Len(t, schedule, 4)
	require.Equal(t, uint64(1_100), schedule[0].DueAt)
	require.Equal(t, int64(25), schedule[0].Amount.Int64())
	require.Equal(t, uint64(1_400), schedule[3].DueAt)
	require.Equal(t, int64(27), schedule[3].Amount.Int64())

	loan.Terms.Installments = 0
	bullet := Schedule(loan)
	require.Len(t, bullet, 1)
	require.Equal(t, int64(102), bullet[0].Amount.Int64())
}

func TestTermsInterestFromRate(t *testing.T) {
	terms := Terms{Principal: big.NewInt(1_000), InterestRateBps: 250}
	require.Equal(t, int64(25), terms.InterestDue().Int64())
	require.Equal(t, int64(1_025), terms.AmountDue().Int64())

	other := Terms{Currency: terms.Currency, Collateral: terms.Collateral, Principal: big.NewInt(5)}
	require.True(t, terms.SameAsset(other))
}
