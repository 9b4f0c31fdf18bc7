package refinance

import (
	"math/big"

	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/fees"
	"loanledger/native/ledger"
)

// Quote computes the expected settlement of replacing a loan under oldTerms
// with one under newTerms. The new principal reaches the borrower net of the
// origination fee; the flash liquidity costs premiumBps of the old amount due.
// Transfer taxes are not modelled, so the executed refinance may differ.
func Quote(oldTerms, newTerms ledger.Terms, feeBps, premiumBps uint64) Result {
	oldDue := oldTerms.AmountDue()
	premium := fees.Fee(oldDue, premiumBps)
	flashDue := new(big.Int).Add(oldDue, premium)
	principal := new(big.Int)
	if newTerms.Principal != nil {
		principal.Set(newTerms.Principal)
	}
	net := new(big.Int).Sub(principal, fees.Fee(principal, feeBps))
	res := Result{
		OldAmountDue:    oldDue,
		Premium:         premium,
		FlashAmountDue:  flashDue,
		NetNewPrincipal: net,
		Shortfall:       new(big.Int),
		Surplus:         new(big.Int),
	}
	if net.Cmp(flashDue) < 0 {
		res.Shortfall.Sub(flashDue, net)
	} else {
		res.Surplus.Sub(net, flashDue)
	}
	return res
}

// Preview quotes refinancing loanID of sourceLedger into targetLedger with the
// fee currently published by the target's policy.
func (o *Orchestrator) Preview(ctx *exec.Context, sourceLedger, targetLedger crypto.Address, loanID uint64, newTerms ledger.Terms) (Result, error) {
	source, err := o.Deployment(sourceLedger)
	if err != nil {
		return Result{}, err
	}
	target, err := o.Deployment(targetLedger)
	if err != nil {
		return Result{}, err
	}
	loan, err := source.Ledger.Loan(ctx, loanID)
	if err != nil {
		return Result{}, err
	}
	policy, err := target.Ledger.FeePolicy(ctx)
	if err != nil {
		return Result{}, err
	}
	bps, err := policy.OriginationFeeBps(ctx)
	if err != nil {
		return Result{}, err
	}
	return Quote(loan.Terms, newTerms, bps, o.pool.PremiumBps()), nil
}
