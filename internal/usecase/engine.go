package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketMaker/internal/domain/models"
	domrepo "MarketMaker/internal/domain/repository"
	"MarketMaker/internal/services/execution"
	"MarketMaker/internal/services/features"
	"MarketMaker/internal/services/orders"
	"MarketMaker/internal/services/regime"
	"MarketMaker/internal/services/risk"
	"MarketMaker/internal/services/scenario"
	"MarketMaker/pkg/logger"
)

// Order results reported to metrics.
const (
	OrderAdmitted   = "admitted"
	OrderRejected   = "rejected"
	OrderFailed     = "failed"
	OrderSuppressed = "suppressed"
)

// Core groups the decision components owned by the engine.
type Core struct {
	Extractor  *features.Extractor
	Matcher    *scenario.Matcher
	Classifier *regime.Classifier
	Risk       *risk.Manager
	Breaker    *risk.Breaker
	Orders     *orders.Manager
	Router     *execution.Router
}

// StepResult reports what one snapshot did.
type StepResult struct {
	Step       int64               `json:"step"`
	Skipped    bool                `json:"skipped"`
	Regime     models.Regime       `json:"regime"`
	Changed    bool                `json:"changed"`
	Tier       models.RiskTier     `json:"tier"`
	Intent     *models.OrderIntent `json:"intent,omitempty"`
	Order      *models.OpenOrder   `json:"order,omitempty"`
	Suppressed bool                `json:"suppressed"`
}

// EngineOption configures a TradingEngine.
type EngineOption func(*TradingEngine)

// WithPublisher sets the event bus.
func WithPublisher(p domrepo.EventPublisher) EngineOption {
	return func(e *TradingEngine) { e.publisher = p }
}

// WithJournal sets the session journal.
func WithJournal(j domrepo.Journal) EngineOption {
	return func(e *TradingEngine) { e.journal = j }
}

// WithStateStore sets the state store and how often state is saved.
func WithStateStore(s domrepo.StateStore, every int64) EngineOption {
	return func(e *TradingEngine) {
		e.store = s
		if every > 0 {
			e.persistEvery = every
		}
	}
}

// WithSession names the session and the scenario requested from the exchange.
func WithSession(id, scenario string) EngineOption {
	return func(e *TradingEngine) {
		e.sessionID = id
		e.scenario = scenario
	}
}

// WithEngineClock overrides the time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *TradingEngine) { e.now = now }
}

// TradingEngine runs the per-step decision flow. A single goroutine feeds it; the mutex only
// protects readers such as the status API.
type TradingEngine struct {
	mu sync.RWMutex

	core    Core
	log     *logger.Logger
	metrics domrepo.Metrics

	publisher    domrepo.EventPublisher
	journal      domrepo.Journal
	store        domrepo.StateStore
	persistEvery int64
	now          func() time.Time

	sessionID string
	scenario  string

	calibration *scenario.Calibrator
	calibSteps  int64
	calibrated  bool
	match       scenario.Result
	profile     *models.ScenarioProfile

	position   models.Position
	step       int64
	tier       models.RiskTier
	deadTicks  int64
	fills      int64
	ordersSent int64
	startedAt  time.Time
}

// NewTradingEngine creates an engine running on the fallback profile until calibration ends.
func NewTradingEngine(core Core, log *logger.Logger, metrics domrepo.Metrics, opts ...EngineOption) *TradingEngine {
	e := &TradingEngine{
		core:         core,
		log:          log.Component("engine"),
		metrics:      metrics,
		persistEvery: 100,
		now:          time.Now,
		sessionID:    "local",
		profile:      core.Matcher.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.calibSteps = e.profile.BaseParams.CalibrationSteps
	e.calibration = scenario.NewCalibrator(e.calibSteps)
	e.startedAt = e.now()
	return e
}

// outbox collects side effects so they run after the engine lock is released.
type outbox struct {
	events  []*models.EngineEvent
	changes []*models.RegimeChange
	fills   []*models.FillRecord
	state   *models.EngineState
}

func (e *TradingEngine) event(ob *outbox, kind string, step int64, payload interface{}) {
	ob.events = append(ob.events, &models.EngineEvent{
		SessionID: e.sessionID,
		Kind:      kind,
		Step:      step,
		Time:      e.now(),
		Payload:   payload,
	})
}

// OnSnapshot processes one market snapshot. An admission failure is returned after the step has
// been fully applied.
func (e *TradingEngine) OnSnapshot(ctx context.Context, snap *models.MarketSnapshot) (StepResult, error) {
	start := e.now()
	var ob outbox
	res, err := e.process(ctx, snap, &ob)
	e.flush(ctx, &ob)
	e.metrics.RecordLatency("engine_step", e.now().Sub(start).Seconds())
	return res, err
}

// Apply processes a snapshot and discards the step result.
func (e *TradingEngine) Apply(ctx context.Context, snap *models.MarketSnapshot) error {
	_, err := e.OnSnapshot(ctx, snap)
	return err
}

func (e *TradingEngine) process(ctx context.Context, snap *models.MarketSnapshot, ob *outbox) (StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := StepResult{Step: snap.Step, Regime: e.core.Classifier.Current(), Tier: e.tier}
	spread, ok := snap.Spread()
	if !ok {
		e.deadTicks++
		e.metrics.RecordDeadTick()
		res.Skipped = true
		return res, nil
	}
	e.step = snap.Step

	mid := snap.Mid()
	e.position.Mark(mid)
	depth := float64(snap.TotalDepth())

	if snap.Step < e.calibSteps {
		e.calibration.Add(spread, depth, mid)
	} else if !e.calibrated {
		e.finishCalibration(ob, snap.Step)
	}

	x := e.core.Extractor
	x.Update(spread, depth, mid, snap.Imbalance())
	signal := features.SignalNone
	if b := x.Baseline(); b.Set {
		signal = x.CusumDetect(spread, b.Spread)
	}
	spike, _ := x.DetectSpike()

	d := e.core.Classifier.Step(regime.Input{
		Step:        snap.Step,
		Spread:      spread,
		TotalDepth:  depth,
		Features:    x.Extract(),
		Signal:      signal,
		SpikeActive: spike,
		Baseline:    x.Baseline(),
	})
	res.Regime, res.Changed = d.Regime, d.Changed
	e.metrics.RecordRegime(d.Regime)
	if d.Changed {
		e.onRegimeChange(ob, snap.Step, spread, d)
	}

	inv := e.position.Inventory
	e.tier = e.core.Risk.Tier(inv)
	res.Tier = e.tier

	if e.core.Breaker.Tick(snap.Step) {
		e.log.Info("circuit breaker cleared", logger.Int64("step", snap.Step))
		e.metrics.RecordBreaker(false)
	}

	e.core.Orders.RetireStale(ctx, snap.Step)
	e.core.Orders.RetireDrifted(ctx, snap.Bid, snap.Ask)

	var err error
	if intent, ok := e.core.Router.Decide(d.Regime, snap, inv, e.resting(inv), e.tier); ok {
		res.Intent = &intent
		res.Order, res.Suppressed, err = e.admit(ctx, ob, intent, snap.Step)
	}

	e.metrics.RecordPosition(inv, e.position.PnL())
	if e.store != nil && snap.Step%e.persistEvery == 0 {
		st := e.stateLocked()
		ob.state = &st
	}
	return res, err
}

func (e *TradingEngine) finishCalibration(ob *outbox, step int64) {
	e.calibrated = true
	summary, err := e.calibration.Summary()
	if err != nil {
		e.log.Warn("calibration insufficient, using default profile",
			logger.Int("samples", summary.Samples), logger.Error(err))
		e.match = scenario.Result{Profile: e.core.Matcher.Default(), ID: e.core.Matcher.Default().ScenarioID, Fallback: true}
	} else {
		e.match = e.core.Matcher.Match(summary)
	}
	e.applyProfile(e.match.Profile)

	bs, bd := scenario.Baseline(summary, err)
	e.core.Extractor.SetBaseline(bs, bd)

	e.log.Info("scenario selected",
		logger.String("profile", e.match.ID),
		logger.Int("score", e.match.Score),
		logger.Bool("fallback", e.match.Fallback),
		logger.Float64("baseline_spread", bs),
		logger.Float64("baseline_depth", bd))
	e.event(ob, models.KindProfile, step, map[string]interface{}{
		"match":   e.match,
		"summary": summary,
	})
}

func (e *TradingEngine) applyProfile(p *models.ScenarioProfile) {
	e.profile = p
	tick := p.BaseParams.TickSize
	e.core.Risk.Reconfigure(risk.FromProfile(p.BaseParams), tick)
	e.core.Classifier.Reconfigure(*p.RegimeThresholds)
	e.core.Router.Reconfigure(p.RegimeStrategies, tick)
	e.core.Orders.SetTick(tick)
}

func (e *TradingEngine) onRegimeChange(ob *outbox, step int64, spread float64, d regime.Decision) {
	e.metrics.RecordRegimeChange(d.Previous, d.Regime)
	e.log.Info("regime changed",
		logger.Int64("step", step),
		logger.String("from", string(d.Previous)),
		logger.String("to", string(d.Regime)),
		logger.String("reason", d.Reason))
	c := &models.RegimeChange{
		SessionID: e.sessionID,
		Step:      step,
		From:      d.Previous,
		To:        d.Regime,
		Instant:   d.Instant,
		Reason:    d.Reason,
		Spread:    spread,
		Time:      e.now(),
	}
	ob.changes = append(ob.changes, c)
	e.event(ob, models.KindRegimeChange, step, c)
}

func (e *TradingEngine) admit(ctx context.Context, ob *outbox, intent models.OrderIntent, step int64) (*models.OpenOrder, bool, error) {
	if !e.core.Breaker.Allow(intent) {
		e.metrics.RecordOrder(OrderSuppressed)
		return nil, true, nil
	}
	if intent.Emergency {
		// the crossing order replaces whatever rests on its side
		if n := e.core.Orders.CancelSide(ctx, intent.Side, orders.ReasonUnwind); n > 0 {
			e.log.Info("resting orders cancelled for emergency unwind",
				logger.Int64("step", step),
				logger.String("side", string(intent.Side)),
				logger.Int("cancelled", n))
		}
	}
	o, err := e.core.Orders.Admit(ctx, intent, step)
	switch {
	case errors.Is(err, orders.ErrBudgetExhausted):
		e.metrics.RecordOrder(OrderRejected)
		e.log.Warn("order rejected", logger.Int64("step", step), logger.Error(err))
		return nil, false, nil
	case err != nil:
		e.metrics.RecordOrder(OrderFailed)
		e.metrics.RecordError("order_submit")
		return nil, false, fmt.Errorf("admit at step %d: %w", step, err)
	}
	e.ordersSent++
	e.metrics.RecordOrder(OrderAdmitted)
	e.log.Debug("order sent",
		logger.String("order_id", o.ID),
		logger.String("side", string(o.Side)),
		logger.Float64("price", o.Price),
		logger.Int("qty", o.Qty),
		logger.String("reason", intent.Reason),
		logger.Bool("emergency", intent.Emergency))
	e.event(ob, models.KindOrder, step, map[string]interface{}{
		"order":     o,
		"reason":    intent.Reason,
		"emergency": intent.Emergency,
	})
	return &o, false, nil
}

// resting is the open quantity on the side that reduces inv.
func (e *TradingEngine) resting(inv int) int {
	switch {
	case inv > 0:
		return e.core.Orders.OpenQty(models.SideSell)
	case inv < 0:
		return e.core.Orders.OpenQty(models.SideBuy)
	}
	return 0
}

// OnFill books a fill. Inventory and cash change even when the order id is unknown.
func (e *TradingEngine) OnFill(ctx context.Context, ev *models.OrderEvent) error {
	if ev == nil || !ev.IsFill() {
		e.metrics.RecordError("fill_invalid")
		return fmt.Errorf("on fill: malformed fill event %+v", ev)
	}
	var ob outbox
	e.applyFill(ev, &ob)
	e.flush(ctx, &ob)
	return nil
}

func (e *TradingEngine) applyFill(ev *models.OrderEvent, ob *outbox) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	info := e.core.Orders.OnFill(ev, now, e.step)
	e.position.Apply(ev.Side, ev.Qty, ev.Price)
	e.fills++

	quality, edge := models.GradeFill(ev.Side, ev.Price, e.position.LastMid)
	e.metrics.RecordFill(ev.Side, quality)
	if info.Tracked {
		e.metrics.RecordFillLatency(info.Latency.Seconds())
	}
	e.metrics.RecordPosition(e.position.Inventory, e.position.PnL())

	if e.core.Breaker.Observe(quality) {
		e.metrics.RecordBreaker(true)
		e.log.Warn("circuit breaker tripped",
			logger.Int64("step", e.step),
			logger.Int("inventory", e.position.Inventory))
	}

	rec := &models.FillRecord{
		SessionID: e.sessionID,
		Step:      e.step,
		OrderID:   ev.OrderID,
		Side:      ev.Side,
		Qty:       ev.Qty,
		Price:     ev.Price,
		Mid:       e.position.LastMid,
		Quality:   quality,
		Edge:      edge,
		Tracked:   info.Tracked,
		Latency:   info.Latency,
		Lifetime:  info.Lifetime,
		Inventory: e.position.Inventory,
		PnL:       e.position.PnL(),
		Regime:    e.core.Classifier.Current(),
		Time:      now,
	}
	if !info.Tracked {
		e.log.Warn("fill for unknown order", logger.String("order_id", ev.OrderID))
	}
	ob.fills = append(ob.fills, rec)
	e.event(ob, models.KindFill, e.step, rec)
}

// OnError logs an exchange error event. Nothing is retried.
func (e *TradingEngine) OnError(ev *models.OrderEvent) {
	e.metrics.RecordError("exchange")
	e.log.Warn("exchange error",
		logger.String("order_id", ev.OrderID),
		logger.String("message", ev.Message))
}

func (e *TradingEngine) flush(ctx context.Context, ob *outbox) {
	if e.journal != nil {
		for _, c := range ob.changes {
			if err := e.journal.RecordRegimeChange(ctx, c); err != nil {
				e.metrics.RecordError("journal")
				e.log.Warn("journal regime change failed", logger.Error(err))
			}
		}
		for _, f := range ob.fills {
			if err := e.journal.RecordFill(ctx, f); err != nil {
				e.metrics.RecordError("journal")
				e.log.Warn("journal fill failed", logger.Error(err))
			}
		}
	}
	if e.publisher != nil {
		for _, evt := range ob.events {
			if err := e.publisher.Publish(ctx, evt); err != nil {
				e.metrics.RecordError("publish")
				e.log.Warn("publish event failed", logger.String("kind", evt.Kind), logger.Error(err))
			}
		}
	}
	if ob.state != nil && e.store != nil {
		if err := e.store.Save(ctx, ob.state); err != nil {
			e.metrics.RecordError("state_save")
			e.log.Warn("state save failed", logger.Error(err))
		}
	}
}

// Restore loads a saved position for this session, if the store has one.
func (e *TradingEngine) Restore(ctx context.Context) (bool, error) {
	if e.store == nil {
		return false, nil
	}
	st, err := e.store.Load(ctx, e.sessionID)
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", e.sessionID, err)
	}
	if st == nil {
		return false, nil
	}
	e.mu.Lock()
	e.position = st.Position
	e.tier = e.core.Risk.Tier(st.Position.Inventory)
	e.mu.Unlock()
	e.log.Info("state restored",
		logger.Int64("step", st.Step),
		logger.Int("inventory", st.Position.Inventory))
	return true, nil
}

// Status returns a snapshot of the engine state.
func (e *TradingEngine) Status() models.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateLocked()
}

func (e *TradingEngine) stateLocked() models.EngineState {
	return models.EngineState{
		SessionID:  e.sessionID,
		Step:       e.step,
		Regime:     e.core.Classifier.Current(),
		Tier:       e.tier,
		Profile:    e.profile.ScenarioID,
		Position:   e.position,
		PnL:        e.position.PnL(),
		OpenOrders: e.core.Orders.Open(),
		Breaker:    e.core.Breaker.Tripped(),
		UpdatedAt:  e.now(),
	}
}

// Profile returns the active profile and the match that selected it.
func (e *TradingEngine) Profile() (*models.ScenarioProfile, scenario.Result) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile, e.match
}

// RegimeState returns the classifier hysteresis state.
func (e *TradingEngine) RegimeState() regime.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.core.Classifier.State()
}

// OpenOrders returns up to limit open orders, oldest first, optionally filtered by side.
func (e *TradingEngine) OpenOrders(limit int, side models.Side) []models.OpenOrder {
	all := e.core.Orders.Open()
	out := make([]models.OpenOrder, 0, min(limit, len(all)))
	for _, o := range all {
		if side != "" && o.Side != side {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, o)
	}
	return out
}

// OrderStats returns the lifecycle statistics.
func (e *TradingEngine) OrderStats() orders.Stats { return e.core.Orders.Stats() }

// Breaker returns the circuit breaker state.
func (e *TradingEngine) Breaker() risk.BreakerState { return e.core.Breaker.State() }

// ResetBreaker clears the circuit breaker.
func (e *TradingEngine) ResetBreaker(reason string) risk.BreakerState {
	e.core.Breaker.Reset(reason)
	e.metrics.RecordBreaker(false)
	e.log.Info("circuit breaker reset", logger.String("reason", reason))
	return e.core.Breaker.State()
}

// Summary returns the session totals.
func (e *TradingEngine) Summary() models.SessionSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summaryLocked()
}

func (e *TradingEngine) summaryLocked() models.SessionSummary {
	return models.SessionSummary{
		SessionID:      e.sessionID,
		Scenario:       e.scenario,
		Profile:        e.profile.ScenarioID,
		Steps:          e.step,
		DeadTicks:      e.deadTicks,
		Fills:          e.fills,
		OrdersSent:     e.ordersSent,
		Transitions:    e.core.Classifier.State().Transitions,
		FinalInventory: e.position.Inventory,
		PnL:            e.position.PnL(),
		StartedAt:      e.startedAt,
		EndedAt:        e.now(),
	}
}

// Shutdown cancels every open order, then saves state and the session summary.
func (e *TradingEngine) Shutdown(ctx context.Context) error {
	var errs []error
	if failed := e.core.Orders.DrainAll(ctx); failed > 0 {
		errs = append(errs, fmt.Errorf("drain: %d cancels failed", failed))
	}

	e.mu.RLock()
	st := e.stateLocked()
	sum := e.summaryLocked()
	e.mu.RUnlock()

	if e.store != nil {
		if err := e.store.Save(ctx, &st); err != nil {
			errs = append(errs, fmt.Errorf("save state: %w", err))
		}
	}
	if e.journal != nil {
		if err := e.journal.RecordSummary(ctx, &sum); err != nil {
			errs = append(errs, fmt.Errorf("journal summary: %w", err))
		}
	}
	if e.publisher != nil {
		evt := &models.EngineEvent{SessionID: e.sessionID, Kind: models.KindSummary, Step: sum.Steps, Time: sum.EndedAt, Payload: sum}
		if err := e.publisher.Publish(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish summary: %w", err))
		}
	}

	e.log.Info("session finished",
		logger.String("session_id", sum.SessionID),
		logger.String("profile", sum.Profile),
		logger.Int64("steps", sum.Steps),
		logger.Int64("fills", sum.Fills),
		logger.Int("inventory", sum.FinalInventory),
		logger.Float64("pnl", sum.PnL),
		logger.Duration("elapsed", sum.EndedAt.Sub(sum.StartedAt).Round(time.Millisecond)))
	return errors.Join(errs...)
}
