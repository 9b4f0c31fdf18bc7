package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"loanledger/core/exec"
	coreerrors "loanledger/core/errors"
	"loanledger/crypto"
	"loanledger/native/custody"
	"loanledger/native/refinance"
	"loanledger/node"
)

var errTargetLedger = coreerrors.New(coreerrors.ClassInvalidArgument, "rpc: target ledger")

// ledgerWrites mounts the state-changing routes of one deployment. Every
// route runs one operation through node.Execute as the token's subject.
func (s *Server) ledgerWrites(r chi.Router) {
	r.Use(s.auth.Middleware)
	r.With(s.obs.Middleware("originate")).Post("/loans", s.originate)
	r.With(s.obs.Middleware("originate_permit")).Post("/loans/permit", s.originateWithPermit)
	r.With(s.obs.Middleware("repay")).Post("/repay/{note}", s.repay)
	r.With(s.obs.Middleware("claim")).Post("/claim/{note}", s.claim)
	r.With(s.obs.Middleware("claim_fees")).Post("/fees/claim", s.claimFees)
	r.With(s.obs.Middleware("fee_policy")).Post("/fees/policy", s.setFeePolicy)
	r.With(s.obs.Middleware("cancel_nonce")).Post("/nonces/cancel", s.cancelNonce)
}

func (s *Server) refinanceWrites(r chi.Router) {
	r.Use(s.auth.Middleware)
	r.With(s.obs.Middleware("rollover")).Post("/refinance/rollover", s.rollover)
	r.With(s.obs.Middleware("migrate")).Post("/refinance/migrate", s.migrate)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid request: %v", err))
		return false
	}
	return true
}

func callerOf(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, coreerrors.ClassUnauthorized.String(), "caller not authenticated")
		return crypto.Address{}, false
	}
	return caller, true
}

func (s *Server) originate(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req originateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Permit != nil {
		writeBadRequest(w, "permit given; use the permit route")
		return
	}
	var loanID uint64
	err := s.node.Execute(r.Context(), caller, "originate", func(ctx *exec.Context) error {
		var err error
		loanID, err = d.Origination.InitializeLoan(ctx, req.origination())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, originateView{Ledger: d.Name, LoanID: loanID})
}

func (s *Server) originateWithPermit(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req originateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Permit == nil {
		writeBadRequest(w, "permit required")
		return
	}
	request := req.origination()
	permit := custody.Permit{
		Owner:     req.Permit.Owner,
		Spender:   d.Origination.Address(),
		Asset:     request.Terms.Collateral,
		Signature: req.Permit.Signature.Consent(),
	}
	if permit.Owner.IsZero() {
		permit.Owner = req.Borrower
	}
	var loanID uint64
	err := s.node.Execute(r.Context(), caller, "originate-with-permit", func(ctx *exec.Context) error {
		var err error
		loanID, err = d.Origination.InitializeLoanWithPermit(ctx, request, permit)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, originateView{Ledger: d.Name, LoanID: loanID})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, "repay", "repaid", func(ctx *exec.Context, d *node.Deployment, note uint64) error {
		return d.Settlement.Repay(ctx, note)
	})
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, "claim", "claimed", func(ctx *exec.Context, d *node.Deployment, note uint64) error {
		return d.Settlement.Claim(ctx, note)
	})
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request, name, status string, fn func(*exec.Context, *node.Deployment, uint64) error) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	note, ok := uintParam(w, r, "note")
	if !ok {
		return
	}
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	err := s.node.Execute(r.Context(), caller, name, func(ctx *exec.Context) error {
		return fn(ctx, d, note)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementView{Ledger: d.Name, NoteID: note, Status: status})
}

func (s *Server) rollover(w http.ResponseWriter, r *http.Request) {
	s.refinanceLoan(w, r, false)
}

func (s *Server) migrate(w http.ResponseWriter, r *http.Request) {
	s.refinanceLoan(w, r, true)
}

func (s *Server) refinanceLoan(w http.ResponseWriter, r *http.Request, migration bool) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req refinanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	source, ok := s.node.Deployment(strings.TrimSpace(req.Ledger))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown ledger %q", req.Ledger))
		return
	}
	targetName := strings.TrimSpace(req.TargetLedger)
	if migration == (targetName == "") {
		if migration {
			writeError(w, fmt.Errorf("%w: required for migrations", errTargetLedger))
		} else {
			writeError(w, fmt.Errorf("%w: rollovers stay on the source ledger", errTargetLedger))
		}
		return
	}
	request := refinance.Request{
		Ledger:    source.Ledger.Address(),
		LoanID:    req.LoanID,
		NewTerms:  req.NewTerms.Ledger(),
		Lender:    req.Lender,
		Signature: req.Signature.Consent(),
	}
	var res refinance.Result
	var err error
	if migration {
		target, found := s.node.Deployment(targetName)
		if !found {
			writeJSONError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown ledger %q", targetName))
			return
		}
		err = s.node.Execute(r.Context(), caller, "migrate", func(ctx *exec.Context) error {
			var err error
			res, err = s.node.Refinance().MigrateLoan(ctx, refinance.MigrationRequest{Request: request, TargetLedger: target.Ledger.Address()})
			return err
		})
	} else {
		err = s.node.Execute(r.Context(), caller, "rollover", func(ctx *exec.Context) error {
			var err error
			res, err = s.node.Refinance().RolloverLoan(ctx, request)
			return err
		})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refinanceFrom(res))
}

func (s *Server) claimFees(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req claimFeesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view := claimFeesView{Ledger: d.Name, Currency: req.Currency}
	err := s.node.Execute(r.Context(), caller, "claim-fees", func(ctx *exec.Context) error {
		amount, err := d.Ledger.ClaimFees(ctx, req.Currency)
		view.Amount = NewAmount(amount)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) setFeePolicy(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req feePolicyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := s.policyAddress(req.Policy)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.node.Execute(r.Context(), caller, "set-fee-policy", func(ctx *exec.Context) error {
		return d.Ledger.SetFeePolicy(ctx, addr)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feePolicyView{Ledger: d.Name, Policy: addr})
}

// policyAddress resolves a genesis policy name, falling back to reading raw
// as an address.
func (s *Server) policyAddress(raw string) (crypto.Address, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return crypto.Address{}, coreerrors.New(coreerrors.ClassInvalidArgument, "rpc: fee policy required")
	}
	if policy, ok := s.node.NamedFeePolicy(name); ok {
		return policy.Address(), nil
	}
	addr, err := crypto.DecodeAddress(name)
	if err != nil {
		return crypto.Address{}, coreerrors.New(coreerrors.ClassNotFound, fmt.Sprintf("rpc: unknown fee policy %q", name))
	}
	return addr, nil
}

func (s *Server) cancelNonce(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	view := nonceView{Ledger: d.Name, Address: caller}
	err := s.node.Execute(r.Context(), caller, "cancel-nonce", func(ctx *exec.Context) error {
		var err error
		view.Nonce, err = d.Origination.CancelNonce(ctx)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
