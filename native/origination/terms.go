package origination

import (
	"github.com/ethereum/go-ethereum/common"

	"loanledger/crypto"
	"loanledger/native/consent"
	"loanledger/native/ledger"
)

// TermsTypeHash is the typed-data type both parties sign.
var TermsTypeHash = consent.TypeHash("LoanTerms(uint256 durationSecs,uint256 dueAt,uint256 principal,uint256 interest,uint256 interestRateBps,address collateralCollection,uint256 collateralTokenId,address currency,uint256 installments,uint256 scheduleStart,address borrower,address lender,uint256 nonce,uint256 deadline)")

// TermsPayload binds loan terms to the two participants.
type TermsPayload struct {
	Terms    ledger.Terms
	Borrower crypto.Address
	Lender   crypto.Address
}

// StructHash implements consent.Payload.
func (p TermsPayload) StructHash(nonce uint64, deadline int64) (common.Hash, error) {
	t := p.Terms
	enc := consent.NewStruct(TermsTypeHash)
	enc.Uint64(t.Duration)
	enc.Uint64(t.DueAt)
	enc.Uint(t.Principal)
	enc.Uint(t.Interest)
	enc.Uint64(t.InterestRateBps)
	enc.Address(t.Collateral.Collection)
	enc.Uint64(t.Collateral.TokenID)
	enc.Address(t.Currency)
	enc.Uint64(t.Installments)
	enc.Uint64(t.ScheduleStart)
	enc.Address(p.Borrower)
	enc.Address(p.Lender)
	enc.Uint64(nonce)
	enc.Int64(deadline)
	return enc.Hash()
}

// HashTerms returns the struct hash a participant signs for the given terms.
func HashTerms(terms ledger.Terms, borrower, lender crypto.Address, nonce uint64, deadline int64) (common.Hash, error) {
	return TermsPayload{Terms: terms, Borrower: borrower, Lender: lender}.StructHash(nonce, deadline)
}

// Domain returns the signing domain of a gateway deployed at addr.
func Domain(addr crypto.Address, chainID uint64) consent.Domain {
	return consent.Domain{Name: DomainName, Version: DomainVersion, ChainID: chainID, VerifyingContract: addr}
}

// SignTerms signs terms for the gateway at domain. It is used by wallets and
// the CLI.
func SignTerms(key *crypto.PrivateKey, domain consent.Domain, terms ledger.Terms, borrower, lender crypto.Address, nonce uint64, deadline int64) ([]byte, error) {
	hash, err := HashTerms(terms, borrower, lender, nonce, deadline)
	if err != nil {
		return nil, err
	}
	return consent.Sign(key, domain, hash)
}
