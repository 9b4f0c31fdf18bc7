package ledger

import (
	"math/big"

	"loanledger/core/exec"
)

// Installment is one scheduled repayment.
type Installment struct {
	Index  uint64
	DueAt  uint64
	Amount *big.Int
}

// Schedule splits the amount due of loan into its installments. Loans without
// an installment count repay in one payment at the due date. Any rounding
// remainder is added to the final installment.
func Schedule(loan *Loan) []Installment {
	if loan == nil {
		return nil
	}
	total := loan.Terms.AmountDue()
	count := loan.Terms.Installments
	if count <= 1 {
		return []Installment{{Index: 1, DueAt: loan.DueAt, Amount: total}}
	}
	start := loan.Terms.ScheduleStart
	if start == 0 {
		start = loan.StartedAt
	}
	if start == 0 {
		start = loan.CreatedAt
	}
	if start >= loan.DueAt {
		start = loan.CreatedAt
	}
	interval := (loan.DueAt - start) / count
	n := new(big.Int).SetUint64(count)
	each, remainder := new(big.Int).QuoRem(total, n, new(big.Int))

	out := make([]Installment, count)
	for i := uint64(0); i < count; i++ {
		amount := new(big.Int).Set(each)
		due := start + interval*(i+1)
		if i == count-1 {
			amount.Add(amount, remainder)
			due = loan.DueAt
		}
		out[i] = Installment{Index: i + 1, DueAt: due, Amount: amount}
	}
	return out
}

// InstallmentSchedule returns the repayment schedule of a stored loan.
func (l *Ledger) InstallmentSchedule(ctx *exec.Context, loanID uint64) ([]Installment, error) {
	loan, err := l.Loan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return Schedule(loan), nil
}
