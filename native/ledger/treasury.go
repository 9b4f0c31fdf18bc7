package ledger

import (
	"log/slog"
	"math/big"

	"loanledger/core/exec"
	"loanledger/crypto"
)

// ClaimFees sends the retained balance of currency to the calling admin.
// Deposits waiting for a start are not touched.
func (l *Ledger) ClaimFees(ctx *exec.Context, currencyAddr crypto.Address) (*big.Int, error) {
	if err := l.guard(ctx, OpClaimFees); err != nil {
		return nil, err
	}
	currency, err := l.Currency(currencyAddr)
	if err != nil {
		return nil, err
	}
	amount, err := l.FeesAccrued(ctx, currencyAddr)
	if err != nil {
		return nil, err
	}
	bal, err := l.balance(ctx, currency)
	if err != nil {
		return nil, err
	}
	if bal.Cmp(amount) < 0 {
		amount = bal
	}
	if amount.Sign() > 0 {
		if err := currency.Transfer(l.self(ctx), ctx.Caller(), amount); err != nil {
			return nil, err
		}
	}
	if err := ctx.State().KVDelete(l.accruedKey(currencyAddr)); err != nil {
		return nil, err
	}
	ctx.Emit(FeesClaimed{Ledger: l.addr, Currency: currencyAddr, Recipient: ctx.Caller(), Amount: amount})
	l.logger.Info("fees claimed", slog.String("currency", currencyAddr.String()), slog.String("amount", amount.String()))
	return amount, nil
}

// SetFeePolicy switches the policy read by future starts to the registered
// policy at addr. Active loans keep the fee they were started with.
func (l *Ledger) SetFeePolicy(ctx *exec.Context, addr crypto.Address) error {
	if err := l.guard(ctx, OpSetFeePolicy); err != nil {
		return err
	}
	policy, err := l.resolvePolicy(addr)
	if err != nil {
		return err
	}
	previous, err := l.FeePolicy(ctx)
	if err != nil {
		return err
	}
	if err := ctx.State().KVPut(l.policyKey(), policy.Address()); err != nil {
		return err
	}
	ctx.Emit(FeePolicyChanged{Ledger: l.addr, Previous: previous.Address(), Current: policy.Address()})
	return nil
}
