// Package server exposes the ledger over HTTP: request endpoints that
// feed the engine, read-only query endpoints, and the operational
// surface (health probes, Prometheus metrics).
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CreditLedger/internal/bank"
	"CreditLedger/internal/credit"
	"CreditLedger/internal/engine"
	"CreditLedger/internal/ledger"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/pool"
	"CreditLedger/internal/query"
)

// idempotencyHeader carries the client-supplied request key. Requests
// without it are applied unconditionally.
const idempotencyHeader = "Idempotency-Key"

// Server is the HTTP front end over a single engine. History is optional:
// when nil, the event history endpoints answer 404.
type Server struct {
	engine  *engine.Engine
	history *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	httpServer *http.Server
}

func New(addr string, eng *engine.Engine, history *query.Service, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		engine:  eng,
		history: history,
		health:  health,
		metrics: metrics,
		log:     log.With().Str("component", "http_server").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/vaults/{denom}/deposit", s.instrument("deposit", s.handleDeposit))
		r.Post("/vaults/{denom}/withdraw", s.instrument("withdraw", s.handleWithdraw))
		r.Post("/vaults/{denom}/borrow", s.instrument("borrow", s.handleBorrow))
		r.Post("/vaults/{denom}/repay", s.instrument("repay", s.handleRepay))

		r.Post("/accounts/{owner}/update", s.instrument("account_update", s.handleAccountUpdate))
		r.Post("/accounts/{owner}/check", s.instrument("check_account", s.handleCheckAccount))
		r.Post("/accounts/{owner}/liquidate", s.instrument("liquidate", s.handleLiquidate))
		r.Put("/accounts/{owner}/preferences/msgs", s.instrument("set_preference_msgs", s.handleSetPreferenceMsgs))
		r.Put("/accounts/{owner}/preferences/order", s.instrument("set_preference_order", s.handleSetPreferenceOrder))

		r.Put("/admin/vaults/{denom}/limit/{owner}", s.instrument("set_borrower_limit", s.handleSetBorrowerLimit))
		r.Put("/admin/vaults/{denom}/rate-curve", s.instrument("set_rate_curve", s.handleSetRateCurve))
		r.Put("/admin/collaterals/{denom}/ratio", s.instrument("set_collateral_ratio", s.handleSetCollateralRatio))

		r.Get("/status", s.instrument("status", s.handleStatus))
		r.Get("/vaults/{denom}/borrowers/{owner}", s.instrument("borrower", s.handleBorrower))
		r.Get("/accounts/{owner}", s.instrument("account", s.handleAccount))
		// Addr and denom arrive as query params: receipt denoms contain
		// slashes.
		r.Get("/balances", s.instrument("balance", s.handleBalance))

		if s.history != nil {
			r.Get("/events", s.instrument("events", s.handleEvents))
			r.Get("/events/{sequence}", s.instrument("event", s.handleEvent))
			r.Get("/accounts/{owner}/liquidations", s.instrument("liquidations", s.handleLiquidations))
		}
	})

	return r
}

// Start begins serving and blocks until the listener fails or Shutdown
// runs.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// instrument wraps a handler with per-endpoint request counting and
// latency observation.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
			defer func() {
				s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			}()
		}
		h(w, r)
	}
}

// ---- request bodies ----

type paymentBody struct {
	Payer  string   `json:"payer"`
	Denom  string   `json:"denom"`
	Amount *big.Int `json:"amount"`
}

func (b paymentBody) payment() bank.Payment {
	return bank.Payment{Payer: b.Payer, Denom: b.Denom, Amount: b.Amount}
}

type depositBody struct {
	Payment paymentBody `json:"payment"`
}

type borrowBody struct {
	Owner    string   `json:"owner"`
	Amount   *big.Int `json:"amount"`
	Delegate string   `json:"delegate,omitempty"`
}

type repayBody struct {
	Owner    string      `json:"owner"`
	Delegate string      `json:"delegate,omitempty"`
	Payment  paymentBody `json:"payment"`
}

type stepsBody struct {
	Steps json.RawMessage `json:"steps"`
}

type liquidateBody struct {
	Liquidator string          `json:"liquidator"`
	Steps      json.RawMessage `json:"steps,omitempty"`
}

type limitBody struct {
	Limit *big.Int `json:"limit"`
}

type rateCurveBody struct {
	Curve pool.RateCurve `json:"curve"`
}

type ratioBody struct {
	Ratio decimal.Decimal `json:"ratio"`
}

type orderBody struct {
	Denom string `json:"denom"`
	First string `json:"first"`
}

// ---- request endpoints ----

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var body depositBody
	if !s.decode(w, r, &body) {
		return
	}
	s.applyRequest(w, r, "deposit", engine.Deposit{
		Vault:   chi.URLParam(r, "denom"),
		Payment: body.Payment.payment(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var body depositBody
	if !s.decode(w, r, &body) {
		return
	}
	s.applyRequest(w, r, "withdraw", engine.Withdraw{
		Vault:   chi.URLParam(r, "denom"),
		Payment: body.Payment.payment(),
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var body borrowBody
	if !s.decode(w, r, &body) {
		return
	}
	s.applyRequest(w, r, "borrow", engine.Borrow{
		Vault:    chi.URLParam(r, "denom"),
		Owner:    body.Owner,
		Amount:   body.Amount,
		Delegate: body.Delegate,
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var body repayBody
	if !s.decode(w, r, &body) {
		return
	}
	s.applyRequest(w, r, "repay", engine.Repay{
		Vault:    chi.URLParam(r, "denom"),
		Owner:    body.Owner,
		Delegate: body.Delegate,
		Payment:  body.Payment.payment(),
	})
}

func (s *Server) handleAccountUpdate(w http.ResponseWriter, r *http.Request) {
	var body stepsBody
	if !s.decode(w, r, &body) {
		return
	}
	steps, err := decodeSteps(body.Steps)
	if err != nil {
		s.writeError(w, r, "account_update", err)
		return
	}
	s.applyRequest(w, r, "account_update", engine.AccountUpdate{
		Owner: chi.URLParam(r, "owner"),
		Steps: steps,
	})
}

func (s *Server) handleCheckAccount(w http.ResponseWriter, r *http.Request) {
	s.applyRequest(w, r, "check_account", engine.CheckAccount{
		Owner: chi.URLParam(r, "owner"),
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var body liquidateBody
	if !s.decode(w, r, &body) {
		return
	}
	steps, err := decodeSteps(body.Steps)
	if err != nil {
		s.writeError(w, r, "liquidate", err)
		return
	}
	s.applyRequest(w, r, "liquidate", engine.Liquidate{
		Owner:      chi.URLParam(r, "owner"),
		Liquidator: body.Liquidator,
		Steps:      steps,
	})
}

func (s *Server) handleSetPreferenceMsgs(w http.ResponseWriter, r *http.Request) {
	var body stepsBody
	if !s.decode(w, r, &body) {
		return
	}
	steps, err := decodeSteps(body.Steps)
	if err != nil {
		s.writeError(w, r, "set_preference_msgs", err)
		return
	}
	s.applyRequest(w, r, "set_preference_msgs", engine.SetPreferenceMsgs{
		Owner: chi.URLParam(r, "owner"),
		Steps: steps,
	})
}

func (s *Server) handleSetPreferenceOrder(w http.ResponseWriter, r *http.Request) {
	var body orderBody
	if !s.decode(w, r, &body) {
		return
	}
	s.applyRequest(w, r, "set_preference_order", engine.SetPreferenceOrder{
		Owner: chi.URLParam(r, "owner"),
		Denom: body.Denom,
		First: body.First,
	})
}

func (s *Server) handleSetBorrowerLimit(w http.ResponseWriter, r *http.Request) {
	var body limitBody
	if !s.decode(w, r, &body) {
		return
	}
	s.applyRequest(w, r, "set_borrower_limit", engine.SetBorrowerLimit{
		Vault: chi.URLParam(r, "denom"),
		Owner: chi.URLParam(r, "owner"),
		Limit: body.Limit,
	})
}

func (s *Server) handleSetRateCurve(w http.ResponseWriter, r *http.Request) {
	var body rateCurveBody
	if !s.decode(w, r, &body) {
		return
	}
	s.applyRequest(w, r, "set_rate_curve", engine.SetRateCurve{
		Vault: chi.URLParam(r, "denom"),
		Curve: body.Curve,
	})
}

func (s *Server) handleSetCollateralRatio(w http.ResponseWriter, r *http.Request) {
	var body ratioBody
	if !s.decode(w, r, &body) {
		return
	}
	s.applyRequest(w, r, "set_collateral_ratio", engine.SetCollateralRatio{
		Denom: chi.URLParam(r, "denom"),
		Ratio: body.Ratio,
	})
}

// ---- query endpoints ----

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status()
	if err != nil {
		s.writeError(w, r, "status", err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBorrower(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Borrower(chi.URLParam(r, "denom"), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, "borrower", err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Account(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, "account", err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, denom := r.URL.Query().Get("addr"), r.URL.Query().Get("denom")
	if addr == "" || denom == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "addr and denom query params required"})
		return
	}
	amount, err := s.engine.CustodyBalance(r.Context(), addr, denom)
	if err != nil {
		s.writeError(w, r, "balance", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"addr": addr, "denom": denom, "amount": amount})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := query.Filter{
		Vault: q.Get("vault"),
		Kind:  q.Get("kind"),
	}
	if v := q.Get("from"); v != "" {
		from, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid from sequence"})
			return
		}
		f.FromSequence = from
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		f.Limit = limit
	}

	page, err := s.history.Events(r.Context(), f)
	if err != nil {
		s.writeError(w, r, "events", err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseInt(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid sequence"})
		return
	}
	ev, err := s.history.Event(r.Context(), seq)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "no such event"})
		return
	}
	if err != nil {
		s.writeError(w, r, "event", err)
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		limit = n
	}
	page, err := s.history.Liquidations(r.Context(), chi.URLParam(r, "owner"), limit)
	if err != nil {
		s.writeError(w, r, "liquidations", err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// ---- plumbing ----

func (s *Server) applyRequest(w http.ResponseWriter, r *http.Request, endpoint string, req engine.Request) {
	resp, err := s.engine.ApplyWithKey(r.Context(), r.Header.Get(idempotencyHeader), req)
	if err != nil {
		s.writeError(w, r, endpoint, err)
		return
	}
	if resp == nil {
		resp = map[string]string{"status": "ok"}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("decode request: %v", err)})
		return false
	}
	return true
}

func decodeSteps(raw json.RawMessage) ([]credit.Step, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return credit.UnmarshalSteps(raw)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	}
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("endpoint", endpoint).Str("path", r.URL.Path).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Str("endpoint", endpoint).Msg("request rejected")
	}
	s.writeJSON(w, code, errorBody{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP codes. Unknown errors are
// treated as client rejections rather than server faults: the engine
// rolls back its unit of work on any error, so nothing is broken
// server-side.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, credit.ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, credit.ErrSafe),
		errors.Is(err, credit.ErrUnsafe),
		errors.Is(err, credit.ErrLiquidationExhausted),
		errors.Is(err, credit.ErrOverLiquidated):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bank.ErrInsufficient),
		errors.Is(err, ledger.ErrInsufficientShares):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}
