// Package refinance closes an active loan and opens its replacement in one
// unit of work. The old loan is repaid with flash liquidity, the new loan is
// originated under the lender's fresh signature and the principal difference
// is settled with the borrower before the liquidity is returned. A migration
// moves the loan to another ledger deployment sharing the same custody.
package refinance

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/bank"
	"loanledger/native/claims"
	nativecommon "loanledger/native/common"
	"loanledger/native/consent"
	"loanledger/native/fees"
	"loanledger/native/flash"
	"loanledger/native/ledger"
	"loanledger/native/origination"
	"loanledger/native/settlement"
)

const ModuleName = "refinance"

var (
	ErrNotBorrower             = coreerrors.New(coreerrors.ClassUnauthorized, "refinance: caller does not hold the borrower note")
	ErrCurrencyMismatch        = coreerrors.New(coreerrors.ClassMismatch, "refinance: currency mismatch")
	ErrCollateralMismatch      = coreerrors.New(coreerrors.ClassMismatch, "refinance: collateral mismatch")
	ErrNonCompatibleCustody    = coreerrors.New(coreerrors.ClassMismatch, "refinance: non-compatible custody")
	ErrSameDeployment          = coreerrors.New(coreerrors.ClassMismatch, "refinance: migration target equals source")
	ErrUnknownDeployment       = coreerrors.New(coreerrors.ClassNotFound, "refinance: unknown ledger deployment")
	ErrUnexpectedCallback      = coreerrors.New(coreerrors.ClassUnauthorized, "refinance: no refinance in flight for this callback")
	ErrUntrustedLender         = coreerrors.New(coreerrors.ClassUnauthorized, "refinance: callback not sent by the liquidity provider")
	ErrUntrustedInitiator      = coreerrors.New(coreerrors.ClassUnauthorized, "refinance: flash loan not initiated by the orchestrator")
	ErrBorrowerCannotPay       = coreerrors.New(coreerrors.ClassInsufficientFunds, "refinance: borrower cannot pay")
	ErrBorrowerApprovalNeeded  = coreerrors.New(coreerrors.ClassInsufficientFunds, "refinance: need borrower to approve balance")
	ErrBorrowerNoteUnavailable = coreerrors.New(coreerrors.ClassUnauthorized, "refinance: borrower note not approved for the orchestrator")
	ErrCollateralNotReceived   = coreerrors.New(coreerrors.ClassCustodyUnavailable, "refinance: collateral not released to the orchestrator")
)

// Deployment groups the components of one ledger deployment.
type Deployment struct {
	Ledger      *ledger.Ledger
	Origination *origination.Gateway
	Settlement  *settlement.Gateway
}

func (d Deployment) validate() error {
	if d.Ledger == nil || d.Origination == nil || d.Settlement == nil {
		return fmt.Errorf("refinance: incomplete deployment")
	}
	addr := d.Ledger.Address()
	if d.Origination.Ledger().Address() != addr || d.Settlement.Ledger().Address() != addr {
		return fmt.Errorf("refinance: gateways of deployment %s are bound to another ledger", addr)
	}
	return nil
}

// Request asks to refinance LoanID of Ledger under NewTerms. Signature is the
// lender's consent over NewTerms with the orchestrator as borrower, in the
// signing domain of the target origination gateway.
type Request struct {
	Ledger    crypto.Address
	LoanID    uint64
	NewTerms  ledger.Terms
	Lender    crypto.Address
	Signature consent.Signature
}

// MigrationRequest refinances into TargetLedger.
type MigrationRequest struct {
	Request
	TargetLedger crypto.Address
}

// Config wires the orchestrator.
type Config struct {
	Address     crypto.Address
	Liquidity   flash.Provider
	Deployments []Deployment
	Pauses      nativecommon.PauseView
	Logger      *slog.Logger
}

// Orchestrator executes rollovers and migrations.
type Orchestrator struct {
	addr        crypto.Address
	pool        flash.Provider
	deployments map[crypto.Address]Deployment
	pauses      nativecommon.PauseView
	logger      *slog.Logger
}

// New validates cfg and returns the orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Address.IsZero() {
		return nil, fmt.Errorf("refinance: address required")
	}
	if cfg.Liquidity == nil {
		return nil, fmt.Errorf("refinance: liquidity provider required")
	}
	deployments := make(map[crypto.Address]Deployment, len(cfg.Deployments))
	for _, d := range cfg.Deployments {
		if err := d.validate(); err != nil {
			return nil, err
		}
		deployments[d.Ledger.Address()] = d
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		addr:        cfg.Address,
		pool:        cfg.Liquidity,
		deployments: deployments,
		pauses:      cfg.Pauses,
		logger:      logger.With(slog.String("module", ModuleName)),
	}, nil
}

func (o *Orchestrator) Address() crypto.Address { return o.addr }

// Deployment returns the deployment of the ledger at addr.
func (o *Orchestrator) Deployment(addr crypto.Address) (Deployment, error) {
	d, ok := o.deployments[addr]
	if !ok {
		return Deployment{}, fmt.Errorf("%w: %s", ErrUnknownDeployment, addr)
	}
	return d, nil
}

func (o *Orchestrator) pendingKey() []byte { return []byte("refinance/" + o.addr.Hex() + "/pending") }

func (o *Orchestrator) outcomeKey() []byte { return []byte("refinance/" + o.addr.Hex() + "/outcome") }

// plan is the refinance carried through the flash loan params. Its keccak
// hash is the in-flight token the callback must match.
type plan struct {
	Migration    bool
	SourceLedger crypto.Address
	TargetLedger crypto.Address
	LoanID       uint64
	Borrower     crypto.Address
	Lender       crypto.Address
	NewTerms     ledger.Terms
	SigNonce     uint64
	SigDeadline  uint64
	SigBytes     []byte
}

type outcome struct {
	NewLoanID       uint64
	NetNewPrincipal *big.Int
	Shortfall       *big.Int
	Surplus         *big.Int
}

// Result reports the settlement of a refinance.
type Result struct {
	NewLoanID       uint64
	OldAmountDue    *big.Int
	Premium         *big.Int
	FlashAmountDue  *big.Int
	NetNewPrincipal *big.Int
	Shortfall       *big.Int
	Surplus         *big.Int
}

// RolloverLoan replaces an active loan with a new one on the same ledger.
func (o *Orchestrator) RolloverLoan(ctx *exec.Context, req Request) (Result, error) {
	return o.refinance(ctx, req, req.Ledger, false)
}

// MigrateLoan replaces an active loan with a new one on another ledger. Both
// ledgers must share the same custody.
func (o *Orchestrator) MigrateLoan(ctx *exec.Context, req MigrationRequest) (Result, error) {
	if req.TargetLedger == req.Ledger {
		return Result{}, fmt.Errorf("%w: %s", ErrSameDeployment, req.Ledger)
	}
	return o.refinance(ctx, req.Request, req.TargetLedger, true)
}

func (o *Orchestrator) refinance(ctx *exec.Context, req Request, targetAddr crypto.Address, migration bool) (Result, error) {
	if err := nativecommon.Guard(o.pauses, ModuleName); err != nil {
		return Result{}, err
	}
	source, err := o.Deployment(req.Ledger)
	if err != nil {
		return Result{}, err
	}
	target, err := o.Deployment(targetAddr)
	if err != nil {
		return Result{}, err
	}
	if source.Ledger.Custody().Address() != target.Ledger.Custody().Address() {
		return Result{}, fmt.Errorf("%w: %s vs %s", ErrNonCompatibleCustody, source.Ledger.Custody().Address(), target.Ledger.Custody().Address())
	}
	oldLoan, err := source.Ledger.Loan(ctx, req.LoanID)
	if err != nil {
		return Result{}, err
	}
	if oldLoan.Status != ledger.LoanStatusActive {
		return Result{}, fmt.Errorf("%w: loan %d is %s", ledger.ErrInvalidLoanState, oldLoan.ID, oldLoan.Status)
	}
	borrower := ctx.Caller()
	holder, err := source.Ledger.Notes(claims.KindBorrower).OwnerOf(ctx, oldLoan.BorrowerNoteID)
	if err != nil {
		return Result{}, err
	}
	if holder != borrower {
		return Result{}, fmt.Errorf("%w: %s", ErrNotBorrower, borrower)
	}
	if req.NewTerms.Currency != oldLoan.Terms.Currency {
		return Result{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, req.NewTerms.Currency, oldLoan.Terms.Currency)
	}
	if req.NewTerms.Collateral != oldLoan.Terms.Collateral {
		return Result{}, fmt.Errorf("%w: %s vs %s", ErrCollateralMismatch, req.NewTerms.Collateral, oldLoan.Terms.Collateral)
	}
	if err := req.NewTerms.Validate(); err != nil {
		return Result{}, err
	}
	if req.Signature.Deadline < 0 {
		return Result{}, fmt.Errorf("%w: negative deadline", consent.ErrExpired)
	}

	p := plan{
		Migration:    migration,
		SourceLedger: req.Ledger,
		TargetLedger: targetAddr,
		LoanID:       req.LoanID,
		Borrower:     borrower,
		Lender:       req.Lender,
		NewTerms:     req.NewTerms.Clone(),
		SigNonce:     req.Signature.Nonce,
		SigDeadline:  uint64(req.Signature.Deadline),
		SigBytes:     append([]byte(nil), req.Signature.Bytes...),
	}
	params, err := rlp.EncodeToBytes(p)
	if err != nil {
		return Result{}, fmt.Errorf("refinance: encode plan: %w", err)
	}
	if err := ctx.State().KVPut(o.pendingKey(), ethcrypto.Keccak256Hash(params)); err != nil {
		return Result{}, err
	}

	oldDue := oldLoan.Terms.AmountDue()
	if err := o.pool.FlashLoan(ctx.As(o.addr), o, []crypto.Address{oldLoan.Terms.Currency}, []*big.Int{oldDue}, params); err != nil {
		return Result{}, err
	}

	if inFlight, err := ctx.State().KVGet(o.pendingKey(), nil); err != nil {
		return Result{}, err
	} else if inFlight {
		return Result{}, fmt.Errorf("%w: callback never completed", ErrUnexpectedCallback)
	}
	var out outcome
	ok, err := ctx.State().KVGet(o.outcomeKey(), &out)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: no outcome recorded", ErrUnexpectedCallback)
	}
	if err := ctx.State().KVDelete(o.outcomeKey()); err != nil {
		return Result{}, err
	}

	premium := fees.Fee(oldDue, o.pool.PremiumBps())
	result := Result{
		NewLoanID:       out.NewLoanID,
		OldAmountDue:    oldDue,
		Premium:         premium,
		FlashAmountDue:  new(big.Int).Add(oldDue, premium),
		NetNewPrincipal: out.NetNewPrincipal,
		Shortfall:       out.Shortfall,
		Surplus:         out.Surplus,
	}
	if migration {
		ctx.Emit(Migration{
			Orchestrator: o.addr,
			SourceLedger: req.Ledger,
			TargetLedger: targetAddr,
			Borrower:     borrower,
			Lender:       req.Lender,
			OldLoanID:    req.LoanID,
			NewLoanID:    out.NewLoanID,
			Premium:      premium,
			Shortfall:    out.Shortfall,
			Surplus:      out.Surplus,
		})
	} else {
		ctx.Emit(Rollover{
			Orchestrator: o.addr,
			Ledger:       req.Ledger,
			Borrower:     borrower,
			Lender:       req.Lender,
			OldLoanID:    req.LoanID,
			NewLoanID:    out.NewLoanID,
			Premium:      premium,
			Shortfall:    out.Shortfall,
			Surplus:      out.Surplus,
		})
	}
	o.logger.Info("loan refinanced",
		slog.Bool("migration", migration),
		slog.Uint64("oldLoanId", req.LoanID),
		slog.Uint64("newLoanId", out.NewLoanID),
		slog.String("shortfall", out.Shortfall.String()),
		slog.String("surplus", out.Surplus.String()))
	return result, nil
}

// ExecuteOperation is the flash liquidity callback. It only proceeds when the
// pool calls it for a flash loan this orchestrator started and whose params
// match the refinance currently in flight.
func (o *Orchestrator) ExecuteOperation(ctx *exec.Context, op flash.Operation) (bool, error) {
	if ctx.Caller() != o.pool.Address() {
		return false, fmt.Errorf("%w: %s", ErrUntrustedLender, ctx.Caller())
	}
	if op.Initiator != o.addr {
		return false, fmt.Errorf("%w: %s", ErrUntrustedInitiator, op.Initiator)
	}
	var pending common.Hash
	inFlight, err := ctx.State().KVGet(o.pendingKey(), &pending)
	if err != nil {
		return false, err
	}
	if !inFlight || pending != ethcrypto.Keccak256Hash(op.Params) {
		return false, ErrUnexpectedCallback
	}
	var p plan
	if err := rlp.DecodeBytes(op.Params, &p); err != nil {
		return false, fmt.Errorf("refinance: decode plan: %w", err)
	}
	if len(op.Assets) != 1 || len(op.Amounts) != 1 || len(op.Premiums) != 1 || op.Assets[0] != p.NewTerms.Currency {
		return false, fmt.Errorf("%w: unexpected flash assets", ErrUnexpectedCallback)
	}
	out, err := o.settle(ctx, p, op.Amounts[0], op.Premiums[0])
	if err != nil {
		return false, err
	}
	if err := ctx.State().KVDelete(o.pendingKey()); err != nil {
		return false, err
	}
	if err := ctx.State().KVPut(o.outcomeKey(), out); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) settle(ctx *exec.Context, p plan, borrowed, premium *big.Int) (outcome, error) {
	source, err := o.Deployment(p.SourceLedger)
	if err != nil {
		return outcome{}, err
	}
	target, err := o.Deployment(p.TargetLedger)
	if err != nil {
		return outcome{}, err
	}
	self := ctx.As(o.addr)
	oldLoan, err := source.Ledger.Loan(ctx, p.LoanID)
	if err != nil {
		return outcome{}, err
	}
	currency, err := source.Ledger.Currency(oldLoan.Terms.Currency)
	if err != nil {
		return outcome{}, err
	}
	collateral := oldLoan.Terms.Collateral
	vault := source.Ledger.Custody()

	// Close the old loan. The orchestrator holds the borrower note while
	// repaying so the collateral is released to it.
	oldNotes := source.Ledger.Notes(claims.KindBorrower)
	if err := oldNotes.TransferFrom(self, p.Borrower, o.addr, oldLoan.BorrowerNoteID); err != nil {
		return outcome{}, coreerrors.Wrap(ErrBorrowerNoteUnavailable, err)
	}
	if err := currency.Approve(self, source.Settlement.Address(), borrowed); err != nil {
		return outcome{}, err
	}
	if err := source.Settlement.Repay(self, oldLoan.BorrowerNoteID); err != nil {
		return outcome{}, err
	}
	owner, err := vault.OwnerOf(ctx, collateral)
	if err != nil {
		return outcome{}, err
	}
	if owner != o.addr {
		return outcome{}, fmt.Errorf("%w: %s held by %s", ErrCollateralNotReceived, collateral, owner)
	}
	if err := oldNotes.Burn(self, oldLoan.BorrowerNoteID); err != nil {
		return outcome{}, err
	}

	// Open the replacement with the orchestrator as borrower, then hand the
	// new borrower note to the real borrower.
	if err := vault.Approve(self, target.Origination.Address(), collateral); err != nil {
		return outcome{}, err
	}
	before, err := currency.BalanceOf(ctx, o.addr)
	if err != nil {
		return outcome{}, err
	}
	newLoanID, err := target.Origination.InitializeLoan(self, origination.Request{
		Terms:    p.NewTerms,
		Borrower: o.addr,
		Lender:   p.Lender,
		Signature: consent.Signature{
			Signer:   p.Lender,
			Nonce:    p.SigNonce,
			Deadline: int64(p.SigDeadline),
			Bytes:    p.SigBytes,
		},
	})
	if err != nil {
		return outcome{}, err
	}
	after, err := currency.BalanceOf(ctx, o.addr)
	if err != nil {
		return outcome{}, err
	}
	netNew := new(big.Int).Sub(after, before)
	newNotes := target.Ledger.Notes(claims.KindBorrower)
	newNote, err := newNotes.NoteOf(ctx, newLoanID)
	if err != nil {
		return outcome{}, err
	}
	if err := newNotes.Transfer(self, p.Borrower, newNote); err != nil {
		return outcome{}, err
	}

	// Settle the difference with the borrower.
	flashDue := new(big.Int).Add(borrowed, premium)
	out := outcome{NewLoanID: newLoanID, NetNewPrincipal: netNew, Shortfall: new(big.Int), Surplus: new(big.Int)}
	if netNew.Cmp(flashDue) < 0 {
		shortfall := new(big.Int).Sub(flashDue, netNew)
		if err := o.collect(ctx, currency, p.Borrower, shortfall); err != nil {
			return outcome{}, err
		}
		out.Shortfall = shortfall
	} else {
		surplus := new(big.Int).Sub(netNew, flashDue)
		if surplus.Sign() > 0 {
			if err := currency.Transfer(self, p.Borrower, surplus); err != nil {
				return outcome{}, err
			}
		}
		out.Surplus = surplus
	}
	if err := currency.Approve(self, o.pool.Address(), flashDue); err != nil {
		return outcome{}, err
	}
	return out, nil
}

// collect pulls shortfall from the borrower. The orchestrator must actually
// receive the full amount, so a taxed currency surfaces as ErrBorrowerCannotPay.
func (o *Orchestrator) collect(ctx *exec.Context, currency bank.Currency, borrower crypto.Address, shortfall *big.Int) error {
	balance, err := currency.BalanceOf(ctx, borrower)
	if err != nil {
		return err
	}
	if balance.Cmp(shortfall) < 0 {
		return fmt.Errorf("%w: owes %s, holds %s", ErrBorrowerCannotPay, shortfall, balance)
	}
	allowance, err := currency.Allowance(ctx, borrower, o.addr)
	if err != nil {
		return err
	}
	if allowance.Cmp(shortfall) < 0 {
		return fmt.Errorf("%w: owes %s, approved %s", ErrBorrowerApprovalNeeded, shortfall, allowance)
	}
	before, err := currency.BalanceOf(ctx, o.addr)
	if err != nil {
		return err
	}
	if err := currency.TransferFrom(ctx.As(o.addr), borrower, o.addr, shortfall); err != nil {
		return err
	}
	after, err := currency.BalanceOf(ctx, o.addr)
	if err != nil {
		return err
	}
	if received := new(big.Int).Sub(after, before); received.Cmp(shortfall) < 0 {
		return fmt.Errorf("%w: received %s of %s", ErrBorrowerCannotPay, received, shortfall)
	}
	return nil
}
