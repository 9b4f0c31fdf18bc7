// Package flash is a same-unit liquidity provider. Borrowed funds must be
// returned with a premium before FlashLoan returns, otherwise the whole unit
// aborts.
package flash

import (
	"fmt"
	"log/slog"
	"math/big"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/bank"
	"loanledger/native/fees"
)

// DefaultPremiumBps is the premium charged on every borrowed amount.
const DefaultPremiumBps uint64 = 9

var (
	ErrInsufficientLiquidity = coreerrors.New(coreerrors.ClassInsufficientFunds, "flash: insufficient liquidity")
	ErrCallbackFailed        = coreerrors.New(coreerrors.ClassInvalidState, "flash: receiver rejected the operation")
	ErrRepaymentFailed       = coreerrors.New(coreerrors.ClassInsufficientFunds, "flash: borrowed amount plus premium not returned")
	ErrInvalidRequest        = coreerrors.New(coreerrors.ClassInvalidArgument, "flash: invalid request")
)

// Operation describes one flash borrow as seen by the receiver.
type Operation struct {
	Assets    []crypto.Address
	Amounts   []*big.Int
	Premiums  []*big.Int
	Initiator crypto.Address
	Params    []byte
}

// Receiver is called back with the borrowed funds. Before returning true it
// must approve the pool for amount plus premium of every asset.
type Receiver interface {
	Address() crypto.Address
	ExecuteOperation(ctx *exec.Context, op Operation) (bool, error)
}

// Provider is the liquidity source consumed by the refinance orchestrator.
type Provider interface {
	Address() crypto.Address
	PremiumBps() uint64
	FlashLoan(ctx *exec.Context, receiver Receiver, assets []crypto.Address, amounts []*big.Int, params []byte) error
}

// CurrencyResolver maps currency addresses to contracts.
type CurrencyResolver interface {
	Currency(addr crypto.Address) (bank.Currency, error)
}

// Config describes a pool deployment.
type Config struct {
	Address    crypto.Address
	Currencies CurrencyResolver
	// PremiumBps defaults to DefaultPremiumBps when zero.
	PremiumBps uint64
	Logger     *slog.Logger
}

// Pool lends its own balances for the duration of a callback.
type Pool struct {
	addr       crypto.Address
	currencies CurrencyResolver
	premiumBps uint64
	logger     *slog.Logger
}

// NewPool validates cfg and returns the pool.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Address.IsZero() {
		return nil, fmt.Errorf("flash: pool address required")
	}
	if cfg.Currencies == nil {
		return nil, fmt.Errorf("flash: currency resolver required")
	}
	premium := cfg.PremiumBps
	if premium == 0 {
		premium = DefaultPremiumBps
	}
	if premium > fees.MaxBps {
		return nil, fmt.Errorf("flash: premium %d bps out of range", premium)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{addr: cfg.Address, currencies: cfg.Currencies, premiumBps: premium, logger: logger.With(slog.String("module", "flash"))}, nil
}

func (p *Pool) Address() crypto.Address { return p.addr }

func (p *Pool) PremiumBps() uint64 { return p.premiumBps }

// Premium returns the premium owed on amount.
func (p *Pool) Premium(amount *big.Int) *big.Int {
	return fees.Fee(amount, p.premiumBps)
}

// Liquidity returns the pool's balance of asset.
func (p *Pool) Liquidity(ctx *exec.Context, asset crypto.Address) (*big.Int, error) {
	currency, err := p.currencies.Currency(asset)
	if err != nil {
		return nil, err
	}
	return currency.BalanceOf(ctx, p.addr)
}

// FlashLoan sends amounts of assets to receiver, invokes its callback with
// the pool as caller and pulls back amount plus premium of every asset. The
// caller of ctx is reported to the receiver as the initiator.
func (p *Pool) FlashLoan(ctx *exec.Context, receiver Receiver, assets []crypto.Address, amounts []*big.Int, params []byte) error {
	if receiver == nil || len(assets) == 0 || len(assets) != len(amounts) {
		return fmt.Errorf("%w: %d assets, %d amounts", ErrInvalidRequest, len(assets), len(amounts))
	}
	self := ctx.As(p.addr)
	target := receiver.Address()
	currencies := make([]bank.Currency, len(assets))
	premiums := make([]*big.Int, len(assets))
	for i, asset := range assets {
		amount := amounts[i]
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount %d must be positive", ErrInvalidRequest, i)
		}
		currency, err := p.currencies.Currency(asset)
		if err != nil {
			return err
		}
		available, err := currency.BalanceOf(ctx, p.addr)
		if err != nil {
			return err
		}
		if available.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s has %s, asked %s", ErrInsufficientLiquidity, asset, available, amount)
		}
		if err := currency.Transfer(self, target, amount); err != nil {
			return err
		}
		currencies[i] = currency
		premiums[i] = p.Premium(amount)
	}

	op := Operation{
		Assets:    append([]crypto.Address(nil), assets...),
		Amounts:   cloneAmounts(amounts),
		Premiums:  cloneAmounts(premiums),
		Initiator: ctx.Caller(),
		Params:    append([]byte(nil), params...),
	}
	ok, err := receiver.ExecuteOperation(self, op)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCallbackFailed
	}

	for i, currency := range currencies {
		owed := new(big.Int).Add(amounts[i], premiums[i])
		if err := currency.TransferFrom(self, target, p.addr, owed); err != nil {
			return coreerrors.Wrap(ErrRepaymentFailed, err)
		}
		ctx.Emit(Borrowed{Pool: p.addr, Receiver: target, Initiator: op.Initiator, Asset: assets[i], Amount: amounts[i], Premium: premiums[i]})
	}
	p.logger.Debug("flash loan repaid", slog.String("receiver", target.String()), slog.Int("assets", len(assets)))
	return nil
}

func cloneAmounts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
	}
	return out
}
