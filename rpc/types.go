package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"loanledger/crypto"
	"loanledger/native/consent"
	"loanledger/native/custody"
	"loanledger/native/ledger"
	"loanledger/native/origination"
	"loanledger/native/refinance"
)

// Amount is a base-unit integer rendered as a decimal string.
type Amount struct{ v *big.Int }

func NewAmount(v *big.Int) Amount {
	if v == nil {
		return Amount{new(big.Int)}
	}
	return Amount{new(big.Int).Set(v)}
}

// Big returns a copy of the amount, or nil when it was never set.
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return nil
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Amount) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		a.v = nil
		return nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid amount %q", raw)
	}
	a.v = v
	return nil
}

// Collateral names one custody asset.
type Collateral struct {
	Collection crypto.Address `json:"collection"`
	TokenID    uint64         `json:"tokenId"`
}

// Terms is the wire form of ledger.Terms shared by the API and loanctl.
type Terms struct {
	DurationSecs    uint64         `json:"durationSecs,omitempty"`
	DueAt           uint64         `json:"dueAt,omitempty"`
	Principal       Amount         `json:"principal"`
	Interest        Amount         `json:"interest"`
	InterestRateBps uint64         `json:"interestRateBps,omitempty"`
	Collateral      Collateral     `json:"collateral"`
	Currency        crypto.Address `json:"currency"`
	Installments    uint64         `json:"installments,omitempty"`
	ScheduleStart   uint64         `json:"scheduleStart,omitempty"`
}

func TermsFrom(t ledger.Terms) Terms {
	return Terms{
		DurationSecs:    t.Duration,
		DueAt:           t.DueAt,
		Principal:       NewAmount(t.Principal),
		Interest:        NewAmount(t.Interest),
		InterestRateBps: t.InterestRateBps,
		Collateral:      Collateral{Collection: t.Collateral.Collection, TokenID: t.Collateral.TokenID},
		Currency:        t.Currency,
		Installments:    t.Installments,
		ScheduleStart:   t.ScheduleStart,
	}
}

// Ledger converts the wire terms. The result is not validated.
func (t Terms) Ledger() ledger.Terms {
	out := ledger.Terms{
		Duration:        t.DurationSecs,
		DueAt:           t.DueAt,
		InterestRateBps: t.InterestRateBps,
		Collateral:      custody.AssetID{Collection: t.Collateral.Collection, TokenID: t.Collateral.TokenID},
		Currency:        t.Currency,
		Installments:    t.Installments,
		ScheduleStart:   t.ScheduleStart,
	}
	out.Principal = t.Principal.Big()
	out.Interest = t.Interest.Big()
	return out
}

type loanView struct {
	Ledger         string          `json:"ledger"`
	ID             uint64          `json:"id"`
	Status         string          `json:"status"`
	Terms          Terms           `json:"terms"`
	AmountDue      Amount          `json:"amountDue"`
	Borrower       crypto.Address  `json:"borrower"`
	Lender         crypto.Address  `json:"lender"`
	BorrowerNoteID uint64          `json:"borrowerNoteId"`
	LenderNoteID   uint64          `json:"lenderNoteId"`
	BorrowerHolder *crypto.Address `json:"borrowerHolder,omitempty"`
	LenderHolder   *crypto.Address `json:"lenderHolder,omitempty"`
	DueAt          uint64          `json:"dueAt"`
	CreatedAt      uint64          `json:"createdAt"`
	StartedAt      uint64          `json:"startedAt,omitempty"`
	ClosedAt       uint64          `json:"closedAt,omitempty"`
	FeeBps         uint64          `json:"feeBps"`
	FeeSnapshotted bool            `json:"feeSnapshotted"`
	OriginationFee Amount          `json:"originationFee"`
}

type installmentView struct {
	Index  uint64 `json:"index"`
	DueAt  uint64 `json:"dueAt"`
	Amount Amount `json:"amount"`
}

type noteView struct {
	Ledger string          `json:"ledger"`
	Kind   string          `json:"kind"`
	ID     uint64          `json:"id"`
	LoanID uint64          `json:"loanId"`
	Owner  *crypto.Address `json:"owner,omitempty"`
	Burned bool            `json:"burned"`
}

type nonceView struct {
	Ledger  string         `json:"ledger"`
	Address crypto.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

type feesView struct {
	OriginationFeeBps uint64 `json:"originationFeeBps"`
	OriginationFeePct string `json:"originationFeePercent"`
	FlashPremiumBps   uint64 `json:"flashPremiumBps"`
	FlashPremiumPct   string `json:"flashPremiumPercent"`
	SnapshotTiming    string `json:"snapshotTiming"`
}

type deploymentView struct {
	Name        string         `json:"name"`
	Ledger      crypto.Address `json:"ledger"`
	Origination crypto.Address `json:"origination"`
	Settlement  crypto.Address `json:"settlement"`
	LoanCount   uint64         `json:"loanCount"`
}

type quoteRequest struct {
	SourceLedger string `json:"sourceLedger"`
	// TargetLedger defaults to SourceLedger.
	TargetLedger string `json:"targetLedger,omitempty"`
	LoanID       uint64 `json:"loanId"`
	NewTerms     Terms  `json:"newTerms"`
}

type quoteView struct {
	OldAmountDue    Amount `json:"oldAmountDue"`
	Premium         Amount `json:"premium"`
	FlashAmountDue  Amount `json:"flashAmountDue"`
	NetNewPrincipal Amount `json:"netNewPrincipal"`
	Shortfall       Amount `json:"shortfall"`
	Surplus         Amount `json:"surplus"`
}

func quoteFrom(res refinance.Result) quoteView {
	return quoteView{
		OldAmountDue:    NewAmount(res.OldAmountDue),
		Premium:         NewAmount(res.Premium),
		FlashAmountDue:  NewAmount(res.FlashAmountDue),
		NetNewPrincipal: NewAmount(res.NetNewPrincipal),
		Shortfall:       NewAmount(res.Shortfall),
		Surplus:         NewAmount(res.Surplus),
	}
}

// Signature is the wire form of a consent signature. It matches the JSON
// printed by loanctl's signing commands.
type Signature struct {
	Signer    crypto.Address `json:"signer"`
	Nonce     uint64         `json:"nonce"`
	Deadline  int64          `json:"deadline"`
	Signature hexutil.Bytes  `json:"signature"`
}

func (s Signature) Consent() consent.Signature {
	return consent.Signature{
		Signer:   s.Signer,
		Nonce:    s.Nonce,
		Deadline: s.Deadline,
		Bytes:    append([]byte(nil), s.Signature...),
	}
}

type originateRequest struct {
	Terms     Terms          `json:"terms"`
	Borrower  crypto.Address `json:"borrower"`
	Lender    crypto.Address `json:"lender"`
	Signature Signature      `json:"signature"`
	// Permit is required on the permit route and rejected elsewhere.
	Permit *permitRequest `json:"permit,omitempty"`
}

func (r originateRequest) origination() origination.Request {
	return origination.Request{
		Terms:     r.Terms.Ledger(),
		Borrower:  r.Borrower,
		Lender:    r.Lender,
		Signature: r.Signature.Consent(),
	}
}

// permitRequest carries the borrower's collateral permit. The spender is
// always the deployment's origination gateway; Owner defaults to the
// borrower.
type permitRequest struct {
	Owner     crypto.Address `json:"owner,omitempty"`
	Signature Signature      `json:"signature"`
}

type originateView struct {
	Ledger string `json:"ledger"`
	LoanID uint64 `json:"loanId"`
}

type settlementView struct {
	Ledger string `json:"ledger"`
	NoteID uint64 `json:"noteId"`
	Status string `json:"status"`
}

type refinanceRequest struct {
	Ledger string `json:"ledger"`
	// TargetLedger is required by migrations and rejected by rollovers.
	TargetLedger string         `json:"targetLedger,omitempty"`
	LoanID       uint64         `json:"loanId"`
	NewTerms     Terms          `json:"newTerms"`
	Lender       crypto.Address `json:"lender"`
	Signature    Signature      `json:"signature"`
}

type refinanceView struct {
	NewLoanID       uint64 `json:"newLoanId"`
	OldAmountDue    Amount `json:"oldAmountDue"`
	Premium         Amount `json:"premium"`
	FlashAmountDue  Amount `json:"flashAmountDue"`
	NetNewPrincipal Amount `json:"netNewPrincipal"`
	Shortfall       Amount `json:"shortfall"`
	Surplus         Amount `json:"surplus"`
}

func refinanceFrom(res refinance.Result) refinanceView {
	return refinanceView{
		NewLoanID:       res.NewLoanID,
		OldAmountDue:    NewAmount(res.OldAmountDue),
		Premium:         NewAmount(res.Premium),
		FlashAmountDue:  NewAmount(res.FlashAmountDue),
		NetNewPrincipal: NewAmount(res.NetNewPrincipal),
		Shortfall:       NewAmount(res.Shortfall),
		Surplus:         NewAmount(res.Surplus),
	}
}

type claimFeesRequest struct {
	Currency crypto.Address `json:"currency"`
}

type claimFeesView struct {
	Ledger   string         `json:"ledger"`
	Currency crypto.Address `json:"currency"`
	Amount   Amount         `json:"amount"`
}

// feePolicyRequest names a genesis fee policy, or gives its address.
type feePolicyRequest struct {
	Policy string `json:"policy"`
}

type feePolicyView struct {
	Ledger string         `json:"ledger"`
	Policy crypto.Address `json:"policy"`
}
