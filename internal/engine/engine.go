// Package engine serializes every state-mutating request into an atomic
// unit of work over the vault ledgers, the credit accounts, and the custody
// ledger: the live state is deep-copied, the request is applied to the
// copy, and the copy replaces the live state only on success.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CreditLedger/internal/bank"
	"CreditLedger/internal/credit"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/oracle"
)

// AccountAddr is the custody address holding owner's credit-account
// collateral.
func AccountAddr(owner string) string { return "acct/" + owner }

// VaultAddr is the custody address holding a vault's pooled liquidity.
func VaultAddr(denom string) string { return "vault/" + denom }

// Executor runs generic settlement steps against the unit of work's
// custody ledger. Implementations must confine every effect to that
// ledger so a discarded unit of work leaves nothing behind.
type Executor interface {
	Execute(ctx context.Context, custody *bank.Ledger, acctAddr, target string, msg json.RawMessage) error
}

// Output is what the engine hands to the persistence and publish sides for
// every applied event.
type Output struct {
	Envelope *event.Envelope
	Event    event.Event
}

// Config is the engine's static configuration.
type Config struct {
	Vaults      []ledger.VaultConfig
	Collaterals []credit.CollateralParam
	Thresholds  credit.Thresholds
}

func (c Config) Validate() error {
	if len(c.Vaults) == 0 {
		return fmt.Errorf("engine: at least one vault required")
	}
	seen := make(map[string]bool, len(c.Vaults))
	for _, vc := range c.Vaults {
		if err := vc.Validate(); err != nil {
			return err
		}
		if seen[vc.Denom] {
			return fmt.Errorf("engine: duplicate vault denom %s", vc.Denom)
		}
		seen[vc.Denom] = true
	}
	for _, cp := range c.Collaterals {
		if err := cp.Validate(); err != nil {
			return err
		}
	}
	return c.Thresholds.Validate()
}

// state is everything a unit of work may touch.
type state struct {
	vaults      map[string]*ledger.Vault
	custody     *bank.Ledger
	prefs       map[string]*credit.Preferences
	collaterals []credit.CollateralParam
}

func (s *state) clone() *state {
	cp := &state{
		vaults:      make(map[string]*ledger.Vault, len(s.vaults)),
		custody:     s.custody.Clone(),
		prefs:       make(map[string]*credit.Preferences, len(s.prefs)),
		collaterals: append([]credit.CollateralParam(nil), s.collaterals...),
	}
	for denom, v := range s.vaults {
		cp.vaults[denom] = v.Clone()
	}
	for owner, p := range s.prefs {
		cp.prefs[owner] = p.Clone()
	}
	return cp
}

func (s *state) vault(denom string) (*ledger.Vault, error) {
	v, ok := s.vaults[denom]
	if !ok {
		return nil, fmt.Errorf("engine: unknown vault %q", denom)
	}
	return v, nil
}

func (s *state) preferences(owner string) *credit.Preferences {
	p, ok := s.prefs[owner]
	if !ok {
		p = credit.NewPreferences()
		s.prefs[owner] = p
	}
	return p
}

// Deps are the engine's runtime collaborators.
type Deps struct {
	Oracle   oracle.Source
	Custody  *bank.Ledger
	Executor Executor
	Clock    func() time.Time

	// PersistChan uses a blocking send: the engine stalls until the
	// persistence worker drains, so no applied event is ever lost.
	PersistChan chan<- Output
	// EventChan uses a non-blocking send with drop: downstream consumers
	// rebuild from the persisted log if they fall behind.
	EventChan chan<- Output

	// RequestChecker is the durable dedup tier behind the in-memory LRU.
	// Nil disables the cold path.
	RequestChecker DBRequestChecker

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Engine is the single-writer request processor.
type Engine struct {
	mu sync.Mutex

	st         *state
	thresholds credit.Thresholds
	sequence   int64

	oracle   oracle.Source
	executor Executor
	clock    func() time.Time
	dedup    *Deduper

	persistChan chan<- Output
	eventChan   chan<- Output
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func New(cfg Config, deps Deps, startSequence int64) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Oracle == nil || deps.Custody == nil {
		return nil, fmt.Errorf("engine: oracle and custody ledger required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	now := clock()
	st := &state{
		vaults:      make(map[string]*ledger.Vault, len(cfg.Vaults)),
		custody:     deps.Custody,
		prefs:       make(map[string]*credit.Preferences),
		collaterals: append([]credit.CollateralParam(nil), cfg.Collaterals...),
	}
	for _, vc := range cfg.Vaults {
		st.vaults[vc.Denom] = ledger.NewVault(vc, now)
	}

	return &Engine{
		st:          st,
		thresholds:  cfg.Thresholds,
		sequence:    startSequence,
		oracle:      deps.Oracle,
		executor:    deps.Executor,
		clock:       clock,
		dedup:       NewDeduper(dedupCapacity, deps.RequestChecker),
		persistChan: deps.PersistChan,
		eventChan:   deps.EventChan,
		metrics:     deps.Metrics,
		log:         deps.Logger.With().Str("component", "engine").Logger(),
	}, nil
}

// ErrDuplicateRequest reports a request whose idempotency key was already
// applied.
var ErrDuplicateRequest = errors.New("engine: duplicate request")

// Apply runs one request as an atomic unit of work and returns its typed
// result. On error no state change, transfer, or event is observable.
func (e *Engine) Apply(ctx context.Context, req Request) (any, error) {
	return e.apply(ctx, uuid.New(), req)
}

// ApplyWithKey is Apply with client-supplied idempotency: a key seen before
// is rejected with ErrDuplicateRequest instead of re-applied. The request ID
// is derived from the key so the durable event log backs the dedup lookup.
func (e *Engine) ApplyWithKey(ctx context.Context, key string, req Request) (any, error) {
	if key == "" {
		return e.Apply(ctx, req)
	}
	kind := req.requestKind()
	if e.dedup != nil && e.dedup.IsDuplicate(kind, key) {
		return nil, fmt.Errorf("%w: %s:%s", ErrDuplicateRequest, kind, key)
	}
	resp, err := e.apply(ctx, uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+key)), req)
	if err == nil && e.dedup != nil {
		e.dedup.MarkProcessed(kind, key)
	}
	return resp, err
}

func (e *Engine) apply(ctx context.Context, reqID uuid.UUID, req Request) (any, error) {
	start := time.Now()
	kind := req.requestKind()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	work := e.st.clone()

	resp, events, err := e.dispatch(ctx, work, now, req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RequestsRejected.WithLabelValues(kind).Inc()
		}
		e.log.Debug().Str("kind", kind).Stringer("request_id", reqID).Err(err).Msg("request rejected")
		return nil, err
	}

	e.st = work
	e.emit(reqID, now, events)
	e.observeVaults()

	if e.metrics != nil {
		e.metrics.RequestsApplied.WithLabelValues(kind).Inc()
		e.metrics.RequestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	e.log.Info().Str("kind", kind).Stringer("request_id", reqID).Int("events", len(events)).Msg("request applied")
	return resp, nil
}

func (e *Engine) dispatch(ctx context.Context, st *state, now time.Time, req Request) (any, []event.Event, error) {
	switch r := req.(type) {
	case Deposit:
		return e.handleDeposit(ctx, st, now, r)
	case Withdraw:
		return e.handleWithdraw(ctx, st, now, r)
	case Borrow:
		return e.handleBorrow(ctx, st, now, r)
	case Repay:
		return e.handleRepay(ctx, st, now, r)
	case AccountUpdate:
		return e.handleAccountUpdate(ctx, st, now, r)
	case CheckAccount:
		return e.handleCheckAccount(ctx, st, now, r)
	case Liquidate:
		return e.handleLiquidate(ctx, st, now, r)
	case SetBorrowerLimit:
		return e.handleSetBorrowerLimit(st, r)
	case SetRateCurve:
		return e.handleSetRateCurve(st, now, r)
	case SetCollateralRatio:
		return e.handleSetCollateralRatio(st, r)
	case SetPreferenceMsgs:
		return e.handleSetPreferenceMsgs(st, r)
	case SetPreferenceOrder:
		return e.handleSetPreferenceOrder(st, r)
	default:
		return nil, nil, fmt.Errorf("engine: unknown request type %T", req)
	}
}

// emit wraps events in envelopes and fans them out.
func (e *Engine) emit(reqID uuid.UUID, now time.Time, events []event.Event) {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			e.log.Error().Err(err).Stringer("kind", ev.EventKind()).Msg("event payload marshal failed")
			continue
		}
		out := Output{
			Envelope: &event.Envelope{
				Sequence:  e.sequence,
				RequestID: reqID,
				Kind:      ev.EventKind(),
				Vault:     ev.VaultID(),
				Timestamp: now,
				Payload:   payload,
			},
			Event: ev,
		}
		e.sequence++

		if e.persistChan != nil {
			e.persistChan <- out
		}
		if e.eventChan != nil {
			select {
			case e.eventChan <- out:
			default:
				if e.metrics != nil {
					e.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (e *Engine) observeVaults() {
	if e.metrics == nil {
		return
	}
	for denom, v := range e.st.vaults {
		if u, err := v.State.Utilization(); err == nil {
			f, _ := u.Float64()
			e.metrics.VaultUtilization.WithLabelValues(denom).Set(f)
		}
		deposits, _ := new(big.Float).SetInt(v.State.Deposits.Size()).Float64()
		debt, _ := new(big.Float).SetInt(v.State.Debt.Size()).Float64()
		e.metrics.VaultDeposits.WithLabelValues(denom).Set(deposits)
		e.metrics.VaultDebt.WithLabelValues(denom).Set(debt)
	}
}

// loader builds an account loader over the unit of work's state.
func (e *Engine) loader(st *state) *credit.Loader {
	return &credit.Loader{
		Oracle:      e.oracle,
		Bank:        st.custody,
		Debts:       &stateDebts{st: st},
		Collaterals: st.collaterals,
	}
}

// stateDebts adapts the vault map to the account loader's debt view.
type stateDebts struct {
	st *state
}

func (d *stateDebts) DebtBalances(ref string) []credit.DebtBalance {
	denoms := make([]string, 0, len(d.st.vaults))
	for denom := range d.st.vaults {
		denoms = append(denoms, denom)
	}
	sort.Strings(denoms)

	var out []credit.DebtBalance
	for _, denom := range denoms {
		amt := d.st.vaults[denom].DebtOf(ref)
		if amt.Sign() > 0 {
			out = append(out, credit.DebtBalance{Denom: denom, Amount: amt})
		}
	}
	return out
}

func (d *stateDebts) DebtSymbol(denom string) string {
	if v, ok := d.st.vaults[denom]; ok {
		return v.Config.Symbol
	}
	return ""
}
