// Package rpc serves the HTTP API of a node. Queries are open; the routes
// that change state require a bearer token naming the caller.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/claims"
	"loanledger/native/ledger"
	"loanledger/node"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Node        *node.Node
	Logger      *slog.Logger
	ServiceName string
	RateLimit   RateLimit
	Auth        AuthConfig
	// Gatherer is served on /metrics next to the HTTP collectors.
	Gatherer prometheus.Gatherer
}

type Server struct {
	node     *node.Node
	logger   *slog.Logger
	limiter  *RateLimiter
	obs      *Observability
	auth     *Authenticator
	gatherer prometheus.Gatherer
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("module", "rpc"))
	auth := NewAuthenticator(cfg.Auth, logger)
	if !auth.Enabled() {
		logger.Warn("write API disabled: no token secret configured")
	}
	return &Server{
		node:     cfg.Node,
		logger:   logger,
		limiter:  NewRateLimiter(cfg.RateLimit, logger),
		obs:      NewObservability(cfg.ServiceName, logger),
		auth:     auth,
		gatherer: cfg.Gatherer,
	}, nil
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", s.obs.MetricsHandler(s.gatherer))
	} else {
		r.Handle("/metrics", s.obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(s.obs.Middleware("ledgers")).Get("/ledgers", s.listLedgers)
		v1.Route("/ledgers/{ledger}", func(lr chi.Router) {
			lr.With(s.obs.Middleware("loan")).Get("/loans/{id}", s.getLoan)
			lr.With(s.obs.Middleware("schedule")).Get("/loans/{id}/schedule", s.getSchedule)
			lr.With(s.obs.Middleware("note")).Get("/notes/{kind}/{id}", s.getNote)
			lr.With(s.obs.Middleware("nonce")).Get("/nonces/{address}", s.getNonce)
			lr.Group(s.ledgerWrites)
		})
		v1.With(s.obs.Middleware("fees")).Get("/fees", s.getFees)
		v1.With(s.obs.Middleware("quote")).Post("/refinance/quote", s.quoteRefinance)
		v1.Group(s.refinanceWrites)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	return nil
}

func (s *Server) deployment(w http.ResponseWriter, r *http.Request) (*node.Deployment, bool) {
	name := strings.TrimSpace(chi.URLParam(r, "ledger"))
	d, ok := s.node.Deployment(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown ledger %q", name))
		return nil, false
	}
	return d, true
}

func uintParam(w http.ResponseWriter, r *http.Request, key string) (uint64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid %s %q", key, raw))
		return 0, false
	}
	return v, true
}

func (s *Server) listLedgers(w http.ResponseWriter, r *http.Request) {
	deployments := s.node.Deployments()
	out := make([]deploymentView, 0, len(deployments))
	err := s.node.View(r.Context(), func(ctx *exec.Context) error {
		for _, d := range deployments {
			count, err := d.Ledger.LoanCount(ctx)
			if err != nil {
				return err
			}
			out = append(out, deploymentView{
				Name:        d.Name,
				Ledger:      d.Ledger.Address(),
				Origination: d.Origination.Address(),
				Settlement:  d.Settlement.Address(),
				LoanCount:   count,
			})
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var view loanView
	err := s.node.View(r.Context(), func(ctx *exec.Context) error {
		loan, err := d.Ledger.Loan(ctx, id)
		if err != nil {
			return err
		}
		view = loanView{
			Ledger:         d.Name,
			ID:             loan.ID,
			Status:         loan.Status.String(),
			Terms:          TermsFrom(loan.Terms),
			AmountDue:      NewAmount(loan.Terms.AmountDue()),
			Borrower:       loan.Borrower,
			Lender:         loan.Lender,
			BorrowerNoteID: loan.BorrowerNoteID,
			LenderNoteID:   loan.LenderNoteID,
			DueAt:          loan.DueAt,
			CreatedAt:      loan.CreatedAt,
			StartedAt:      loan.StartedAt,
			ClosedAt:       loan.ClosedAt,
			FeeBps:         loan.FeeBps,
			FeeSnapshotted: loan.FeeSnapshotted,
			OriginationFee: NewAmount(loan.OriginationFee),
		}
		if view.BorrowerHolder, err = holder(ctx, d.Ledger.Notes(claims.KindBorrower), loan.BorrowerNoteID); err != nil {
			return err
		}
		view.LenderHolder, err = holder(ctx, d.Ledger.Notes(claims.KindLender), loan.LenderNoteID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// holder returns the current owner of a live note, or nil when the note was
// never minted or has been burned.
func holder(ctx *exec.Context, notes *claims.Registry, id uint64) (*crypto.Address, error) {
	if notes == nil || id == 0 {
		return nil, nil
	}
	owner, err := notes.OwnerOf(ctx, id)
	if errors.Is(err, claims.ErrUnknownNote) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var schedule []ledger.Installment
	err := s.node.View(r.Context(), func(ctx *exec.Context) error {
		var err error
		schedule, err = d.Ledger.InstallmentSchedule(ctx, id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]installmentView, len(schedule))
	for i, inst := range schedule {
		out[i] = installmentView{Index: inst.Index, DueAt: inst.DueAt, Amount: NewAmount(inst.Amount)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getNote(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	kind := claims.Kind(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "kind"))))
	if !kind.Valid() {
		writeBadRequest(w, fmt.Sprintf("invalid note kind %q", kind))
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	notes := d.Ledger.Notes(kind)
	view := noteView{Ledger: d.Name, Kind: string(kind), ID: id}
	err := s.node.View(r.Context(), func(ctx *exec.Context) error {
		loanID, err := notes.LoanOf(ctx, id)
		if err != nil {
			return err
		}
		view.LoanID = loanID
		if view.Owner, err = holder(ctx, notes, id); err != nil {
			return err
		}
		view.Burned = view.Owner == nil
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getNonce(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deployment(w, r)
	if !ok {
		return
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(chi.URLParam(r, "address")))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	view := nonceView{Ledger: d.Name, Address: addr}
	err = s.node.View(r.Context(), func(ctx *exec.Context) error {
		var err error
		view.Nonce, err = d.Origination.Nonce(ctx, addr)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getFees(w http.ResponseWriter, r *http.Request) {
	var bps uint64
	err := s.node.View(r.Context(), func(ctx *exec.Context) error {
		var err error
		bps, err = s.node.FeePolicy().OriginationFeeBps(ctx)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	premium := s.node.Pool().PremiumBps()
	timing := "start"
	if deployments := s.node.Deployments(); len(deployments) > 0 {
		timing = deployments[0].Ledger.FeeTiming().String()
	}
	writeJSON(w, http.StatusOK, feesView{
		OriginationFeeBps: bps,
		OriginationFeePct: bpsPercent(bps),
		FlashPremiumBps:   premium,
		FlashPremiumPct:   bpsPercent(premium),
		SnapshotTiming:    timing,
	})
}

// bpsPercent renders basis points as a percentage with two decimals.
func bpsPercent(bps uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(bps), -2).StringFixed(2)
}

func (s *Server) quoteRefinance(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid request: %v", err))
		return
	}
	source, ok := s.node.Deployment(strings.TrimSpace(req.SourceLedger))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown ledger %q", req.SourceLedger))
		return
	}
	target := source
	if name := strings.TrimSpace(req.TargetLedger); name != "" {
		if target, ok = s.node.Deployment(name); !ok {
			writeJSONError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown ledger %q", name))
			return
		}
	}
	terms := req.NewTerms.Ledger()
	if err := terms.Validate(); err != nil {
		writeError(w, err)
		return
	}
	var view quoteView
	err := s.node.View(r.Context(), func(ctx *exec.Context) error {
		res, err := s.node.Refinance().Preview(ctx, source.Ledger.Address(), target.Ledger.Address(), req.LoanID, terms)
		if err != nil {
			return err
		}
		view = quoteFrom(res)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
