// Package bank implements the fungible settlement currencies loans are
// denominated in. Tokens follow the familiar transfer / transferFrom /
// approve contract and can be configured with a transfer tax so callers that
// trust declared amounts instead of measured balances are caught out.
package bank

import (
	"fmt"
	"math/big"
	"strings"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
)

var (
	ErrInsufficientBalance   = coreerrors.New(coreerrors.ClassInsufficientFunds, "bank: insufficient balance")
	ErrInsufficientAllowance = coreerrors.New(coreerrors.ClassInsufficientFunds, "bank: insufficient allowance")
	ErrInvalidAmount         = coreerrors.New(coreerrors.ClassInvalidArgument, "bank: amount must be non-negative")
	ErrZeroAddress           = coreerrors.New(coreerrors.ClassInvalidArgument, "bank: zero address")
	ErrMintUnauthorized      = coreerrors.New(coreerrors.ClassUnauthorized, "bank: caller is not the minter")
	ErrUnknownCurrency       = coreerrors.New(coreerrors.ClassNotFound, "bank: unknown currency")
)

var basisPoints = big.NewInt(10_000)

// Currency is the fungible token contract consumed by the ledger, gateways
// and orchestrator. The caller of ctx is the acting account.
type Currency interface {
	Address() crypto.Address
	Symbol() string
	BalanceOf(ctx *exec.Context, owner crypto.Address) (*big.Int, error)
	Allowance(ctx *exec.Context, owner, spender crypto.Address) (*big.Int, error)
	Approve(ctx *exec.Context, spender crypto.Address, amount *big.Int) error
	Transfer(ctx *exec.Context, to crypto.Address, amount *big.Int) error
	TransferFrom(ctx *exec.Context, from, to crypto.Address, amount *big.Int) error
}

// Config describes a token deployment.
type Config struct {
	Address crypto.Address
	Symbol  string
	// Minter may create new supply. Zero disables minting.
	Minter crypto.Address
	// TransferTaxBps withholds a share of every transfer, routed to TaxSink
	// (or destroyed when TaxSink is zero).
	TransferTaxBps uint64
	TaxSink        crypto.Address
}

// Token is a fungible currency whose balances live in journaled state.
type Token struct {
	addr    crypto.Address
	symbol  string
	minter  crypto.Address
	taxBps  uint64
	taxSink crypto.Address
}

// NewToken validates cfg and returns the token.
func NewToken(cfg Config) (*Token, error) {
	if cfg.Address.IsZero() {
		return nil, fmt.Errorf("%w: token address", ErrZeroAddress)
	}
	symbol := strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("bank: token symbol required")
	}
	if cfg.TransferTaxBps > 10_000 {
		return nil, fmt.Errorf("bank: transfer tax %d bps out of range", cfg.TransferTaxBps)
	}
	return &Token{
		addr:    cfg.Address,
		symbol:  symbol,
		minter:  cfg.Minter,
		taxBps:  cfg.TransferTaxBps,
		taxSink: cfg.TaxSink,
	}, nil
}

func (t *Token) Address() crypto.Address { return t.addr }

func (t *Token) Symbol() string { return t.symbol }

// TransferTaxBps reports the configured transfer tax.
func (t *Token) TransferTaxBps() uint64 { return t.taxBps }

func (t *Token) balanceKey(owner crypto.Address) []byte {
	return []byte("bank/" + t.addr.Hex() + "/balance/" + owner.Hex())
}

func (t *Token) allowanceKey(owner, spender crypto.Address) []byte {
	return []byte("bank/" + t.addr.Hex() + "/allowance/" + owner.Hex() + "/" + spender.Hex())
}

func (t *Token) supplyKey() []byte {
	return []byte("bank/" + t.addr.Hex() + "/supply")
}

func (t *Token) loadAmount(ctx *exec.Context, key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := ctx.State().KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (t *Token) storeAmount(ctx *exec.Context, key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return ctx.State().KVDelete(key)
	}
	return ctx.State().KVPut(key, amount)
}

// BalanceOf returns the balance held by owner.
func (t *Token) BalanceOf(ctx *exec.Context, owner crypto.Address) (*big.Int, error) {
	return t.loadAmount(ctx, t.balanceKey(owner))
}

// TotalSupply returns the minted supply net of destroyed tax.
func (t *Token) TotalSupply(ctx *exec.Context) (*big.Int, error) {
	return t.loadAmount(ctx, t.supplyKey())
}

// Allowance returns the amount spender may still move on behalf of owner.
func (t *Token) Allowance(ctx *exec.Context, owner, spender crypto.Address) (*big.Int, error) {
	return t.loadAmount(ctx, t.allowanceKey(owner, spender))
}

// Approve sets the allowance of spender over the caller's balance.
func (t *Token) Approve(ctx *exec.Context, spender crypto.Address, amount *big.Int) error {
	if spender.IsZero() {
		return fmt.Errorf("%w: spender", ErrZeroAddress)
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := t.storeAmount(ctx, t.allowanceKey(ctx.Caller(), spender), new(big.Int).Set(amount)); err != nil {
		return err
	}
	ctx.Emit(Approval{Token: t.addr, Owner: ctx.Caller(), Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer moves amount from the caller to to.
func (t *Token) Transfer(ctx *exec.Context, to crypto.Address, amount *big.Int) error {
	return t.move(ctx, ctx.Caller(), to, amount)
}

// TransferFrom moves amount from from to to, consuming the caller's allowance
// unless the caller is from.
func (t *Token) TransferFrom(ctx *exec.Context, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	spender := ctx.Caller()
	if spender != from {
		key := t.allowanceKey(from, spender)
		allowance, err := t.loadAmount(ctx, key)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allowed %s, need %s", ErrInsufficientAllowance, spender, allowance, amount)
		}
		if err := t.storeAmount(ctx, key, allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return t.move(ctx, from, to, amount)
}

func (t *Token) move(ctx *exec.Context, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := t.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientBalance, from, fromBal, amount)
	}
	if err := t.storeAmount(ctx, t.balanceKey(from), fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}

	tax := t.tax(amount)
	received := new(big.Int).Sub(amount, tax)
	if err := t.credit(ctx, to, received); err != nil {
		return err
	}
	if tax.Sign() > 0 {
		if t.taxSink.IsZero() {
			supply, err := t.TotalSupply(ctx)
			if err != nil {
				return err
			}
			if err := t.storeAmount(ctx, t.supplyKey(), supply.Sub(supply, tax)); err != nil {
				return err
			}
		} else if err := t.credit(ctx, t.taxSink, tax); err != nil {
			return err
		}
	}
	ctx.Emit(Transfer{Token: t.addr, From: from, To: to, Amount: new(big.Int).Set(amount), Received: received})
	return nil
}

func (t *Token) credit(ctx *exec.Context, to crypto.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	bal, err := t.BalanceOf(ctx, to)
	if err != nil {
		return err
	}
	return t.storeAmount(ctx, t.balanceKey(to), bal.Add(bal, amount))
}

func (t *Token) tax(amount *big.Int) *big.Int {
	if t.taxBps == 0 {
		return big.NewInt(0)
	}
	tax := new(big.Int).Mul(amount, new(big.Int).SetUint64(t.taxBps))
	return tax.Quo(tax, basisPoints)
}

// Mint creates new supply for to. Only the configured minter may mint.
func (t *Token) Mint(ctx *exec.Context, to crypto.Address, amount *big.Int) error {
	if t.minter.IsZero() || ctx.Caller() != t.minter {
		return ErrMintUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	supply, err := t.TotalSupply(ctx)
	if err != nil {
		return err
	}
	if err := t.storeAmount(ctx, t.supplyKey(), supply.Add(supply, amount)); err != nil {
		return err
	}
	if err := t.credit(ctx, to, amount); err != nil {
		return err
	}
	ctx.Emit(Transfer{Token: t.addr, To: to, Amount: new(big.Int).Set(amount), Received: new(big.Int).Set(amount)})
	return nil
}
