package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"MarketMaker/internal/domain/models"
	"MarketMaker/internal/domain/repository"
	"MarketMaker/pkg/logger"
	"MarketMaker/pkg/window"
)

var (
	// ErrBudgetExhausted is returned when the open-order cap is reached.
	ErrBudgetExhausted = errors.New("open order budget exhausted")
	// ErrUnknownOrder is returned for ids that are not tracked.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrInvalidIntent is returned for intents with a non-positive price or quantity.
	ErrInvalidIntent = errors.New("invalid order intent")
)

// Sender is the part of the order gateway the manager needs.
type Sender interface {
	Submit(ctx context.Context, order models.OrderSubmit) error
	Cancel(ctx context.Context, orderID string) error
}

const (
	ReasonBudget = "budget"
	ReasonStale  = "stale"
	ReasonDrift  = "drift"
	ReasonDrain  = "drain"
	ReasonManual = "manual"
	ReasonUnwind = "unwind"

	statsWindow = 1000
)

// Config holds the lifecycle limits.
type Config struct {
	MaxOpen         int
	CancelThreshold int
	StaleAge        int64
	StaleEvery      int64
	DriftTicks      float64
	Tick            float64
}

// DefaultConfig returns a 50/45 budget with 200-step staleness checked every 50 steps.
func DefaultConfig() Config {
	return Config{
		MaxOpen:         50,
		CancelThreshold: 45,
		StaleAge:        200,
		StaleEvery:      50,
		DriftTicks:      4,
		Tick:            0.25,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig overrides the lifecycle limits. Invalid limits keep the defaults.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		if cfg.MaxOpen > 0 && cfg.CancelThreshold > 0 && cfg.CancelThreshold <= cfg.MaxOpen {
			m.cfg.MaxOpen = cfg.MaxOpen
			m.cfg.CancelThreshold = cfg.CancelThreshold
		}
		if cfg.StaleAge > 0 {
			m.cfg.StaleAge = cfg.StaleAge
		}
		if cfg.StaleEvery > 0 {
			m.cfg.StaleEvery = cfg.StaleEvery
		}
		if cfg.DriftTicks >= 0 {
			m.cfg.DriftTicks = cfg.DriftTicks
		}
		if cfg.Tick > 0 {
			m.cfg.Tick = cfg.Tick
		}
	}
}

// WithMetrics records cancels and open-order counts.
func WithMetrics(mr repository.Metrics) Option {
	return func(m *Manager) { m.metrics = mr }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type entry struct {
	order models.OpenOrder
	seq   uint64
}

// Stats summarizes fill latency and order lifetime over the recent fills.
type Stats struct {
	Open        int           `json:"open"`
	Submitted   int64         `json:"submitted"`
	Rejected    int64         `json:"rejected"`
	Failed      int64         `json:"failed"`
	Cancelled   int64         `json:"cancelled"`
	Filled      int64         `json:"filled"`
	Untracked   int64         `json:"untracked_fills"`
	Fills       int           `json:"latency_samples"`
	MinLatency  time.Duration `json:"min_latency"`
	AvgLatency  time.Duration `json:"avg_latency"`
	MaxLatency  time.Duration `json:"max_latency"`
	AvgLifetime float64       `json:"avg_lifetime_steps"`
}

// FillInfo describes how a fill matched the open orders.
type FillInfo struct {
	Tracked  bool
	Order    models.OpenOrder
	Latency  time.Duration
	Lifetime int64
}

// Manager tracks open orders under a fixed budget. It is safe for concurrent use; sends happen
// under the lock so the map always reflects what was sent.
type Manager struct {
	mu      sync.Mutex
	sender  Sender
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time
	cfg     Config
	session string

	open map[string]*entry
	seq  uint64

	latency  *window.Window[float64]
	lifetime *window.Window[float64]
	counters Stats
}

// NewManager creates a manager that sends through sender. session namespaces the order ids.
func NewManager(sender Sender, session string, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		sender:   sender,
		log:      log,
		now:      time.Now,
		cfg:      DefaultConfig(),
		session:  session,
		open:     make(map[string]*entry),
		latency:  window.New[float64](statsWindow),
		lifetime: window.New[float64](statsWindow),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTick updates the tick used by drift retirement.
func (m *Manager) SetTick(tick float64) {
	if tick <= 0 {
		return
	}
	m.mu.Lock()
	m.cfg.Tick = tick
	m.mu.Unlock()
}

// Count returns the number of open orders.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Open returns the open orders, oldest first.
func (m *Manager) Open() []models.OpenOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	es := m.sortedLocked()
	out := make([]models.OpenOrder, len(es))
	for i, e := range es {
		out[i] = e.order
	}
	return out
}

// Admit sends intent as a new order. At the cancel threshold the oldest orders are cancelled
// first; at the cap the intent is rejected and nothing changes.
func (m *Manager) Admit(ctx context.Context, intent models.OrderIntent, step int64) (models.OpenOrder, error) {
	if intent.Qty <= 0 || intent.Price <= 0 || math.IsNaN(intent.Price) {
		return models.OpenOrder{}, fmt.Errorf("%w: %+v", ErrInvalidIntent, intent)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.open) >= m.cfg.MaxOpen {
		m.counters.Rejected++
		return models.OpenOrder{}, fmt.Errorf("admit: %w (%d open)", ErrBudgetExhausted, len(m.open))
	}
	if n := len(m.open); n >= m.cfg.CancelThreshold {
		m.cancelOldestLocked(ctx, n-m.cfg.CancelThreshold+1, ReasonBudget)
	}

	m.seq++
	o := models.OpenOrder{
		ID:     fmt.Sprintf("ORD_%s_%d_%d", m.session, step, m.seq),
		Side:   intent.Side,
		Price:  intent.Price,
		Qty:    intent.Qty,
		Step:   step,
		SentAt: m.now(),
		Anchor: intent.Anchor,
	}
	m.open[o.ID] = &entry{order: o, seq: m.seq}

	err := m.sender.Submit(ctx, models.OrderSubmit{OrderID: o.ID, Side: o.Side, Price: o.Price, Qty: o.Qty})
	if err != nil {
		delete(m.open, o.ID)
		m.counters.Failed++
		m.recordOpenLocked()
		return models.OpenOrder{}, fmt.Errorf("submit %s: %w", o.ID, err)
	}
	m.counters.Submitted++
	m.recordOpenLocked()
	return o, nil
}

// Cancel sends a cancellation. The order stays tracked when the send fails.
func (m *Manager) Cancel(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelLocked(ctx, id, reason)
}

func (m *Manager) cancelLocked(ctx context.Context, id, reason string) error {
	if _, ok := m.open[id]; !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrUnknownOrder)
	}
	if err := m.sender.Cancel(ctx, id); err != nil {
		if m.log != nil {
			m.log.Warn("cancel send failed, keeping order",
				logger.String("order_id", id),
				logger.String("reason", reason),
				logger.Error(err))
		}
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	delete(m.open, id)
	m.counters.Cancelled++
	if m.metrics != nil {
		m.metrics.RecordCancel(reason)
	}
	m.recordOpenLocked()
	return nil
}

// CancelOldest cancels up to n orders, oldest first, and returns how many were cancelled.
func (m *Manager) CancelOldest(ctx context.Context, n int, reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelOldestLocked(ctx, n, reason)
}

func (m *Manager) cancelOldestLocked(ctx context.Context, n int, reason string) int {
	es := m.sortedLocked()
	if n > len(es) {
		n = len(es)
	}
	done := 0
	for _, e := range es[:max(n, 0)] {
		if m.cancelLocked(ctx, e.order.ID, reason) == nil {
			done++
		}
	}
	return done
}

// OpenQty returns the quantity resting on side.
func (m *Manager) OpenQty(side models.Side) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty := 0
	for _, e := range m.open {
		if e.order.Side == side {
			qty += e.order.Qty
		}
	}
	return qty
}

// CancelSide cancels every open order on side and returns how many were cancelled.
func (m *Manager) CancelSide(ctx context.Context, side models.Side, reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	done := 0
	for _, e := range m.sortedLocked() {
		if e.order.Side != side {
			continue
		}
		if m.cancelLocked(ctx, e.order.ID, reason) == nil {
			done++
		}
	}
	return done
}

// RetireStale cancels orders older than the stale age. It only runs on check steps.
func (m *Manager) RetireStale(ctx context.Context, step int64) int {
	if m.cfg.StaleEvery <= 0 || step%m.cfg.StaleEvery != 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	done := 0
	for _, e := range m.sortedLocked() {
		if step-e.order.Step <= m.cfg.StaleAge {
			continue
		}
		if m.cancelLocked(ctx, e.order.ID, ReasonStale) == nil {
			done++
		}
	}
	return done
}

// RetireDrifted cancels orders whose side of the touch moved more than the tolerance since they
// were placed. Orders without an anchor are measured from their own price.
func (m *Manager) RetireDrifted(ctx context.Context, bid, ask float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.DriftTicks <= 0 || m.cfg.Tick <= 0 {
		return 0
	}
	tolerance := m.cfg.DriftTicks * m.cfg.Tick
	done := 0
	for _, e := range m.sortedLocked() {
		ref := ask
		if e.order.Side == models.SideBuy {
			ref = bid
		}
		if ref <= 0 || math.Abs(e.order.DriftRef()-ref) <= tolerance+1e-9 {
			continue
		}
		if m.cancelLocked(ctx, e.order.ID, ReasonDrift) == nil {
			done++
		}
	}
	return done
}

// OnFill removes a tracked order and records latency and lifetime. Unknown ids report
// Tracked=false and leave the statistics untouched.
func (m *Manager) OnFill(ev *models.OrderEvent, now time.Time, step int64) FillInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.open[ev.OrderID]
	if !ok {
		m.counters.Untracked++
		return FillInfo{}
	}
	delete(m.open, ev.OrderID)
	m.counters.Filled++

	info := FillInfo{
		Tracked:  true,
		Order:    e.order,
		Latency:  now.Sub(e.order.SentAt),
		Lifetime: step - e.order.Step,
	}
	if info.Latency < 0 {
		info.Latency = 0
	}
	m.latency.Push(info.Latency.Seconds())
	m.lifetime.Push(float64(info.Lifetime))
	m.recordOpenLocked()
	return info
}

// Stats returns counters plus latency and lifetime summaries.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.counters
	s.Open = len(m.open)
	lat := m.latency.Values()
	s.Fills = len(lat)
	if len(lat) > 0 {
		lo, hi := window.MinMax(lat)
		s.MinLatency = seconds(lo)
		s.MaxLatency = seconds(hi)
		s.AvgLatency = seconds(window.Mean(lat))
		s.AvgLifetime = window.Mean(m.lifetime.Values())
	}
	return s
}

// DrainAll cancels every open order in id order and returns the number of failed sends.
func (m *Manager) DrainAll(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	failed := 0
	for _, id := range ids {
		if err := m.cancelLocked(ctx, id, ReasonDrain); err != nil {
			failed++
		}
	}
	return failed
}

func (m *Manager) sortedLocked() []*entry {
	es := make([]*entry, 0, len(m.open))
	for _, e := range m.open {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if !a.order.SentAt.Equal(b.order.SentAt) {
			return a.order.SentAt.Before(b.order.SentAt)
		}
		return a.seq < b.seq
	})
	return es
}

func (m *Manager) recordOpenLocked() {
	if m.metrics != nil {
		m.metrics.RecordOpenOrders(len(m.open))
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
