package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"MarketMaker/internal/domain/models"
	"MarketMaker/pkg/logger"
)

type fakeSender struct {
	submitted  []models.OrderSubmit
	cancelled  []string
	failSubmit error
	failCancel error
}

func (f *fakeSender) Submit(_ context.Context, o models.OrderSubmit) error {
	if f.failSubmit != nil {
		return f.failSubmit
	}
	f.submitted = append(f.submitted, o)
	return nil
}

func (f *fakeSender) Cancel(_ context.Context, id string) error {
	if f.failCancel != nil {
		return f.failCancel
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

type tickingClock struct{ t time.Time }

func (c *tickingClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestManager(s Sender) *Manager {
	clock := &tickingClock{t: time.Unix(1_700_000_000, 0)}
	return NewManager(s, "s1", logger.NewNop(), WithClock(clock.now))
}

func buy(price float64) models.OrderIntent {
	return models.OrderIntent{Side: models.SideBuy, Price: price, Qty: 100}
}

func TestAdmitAssignsIdsAndSends(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	o, err := m.Admit(context.Background(), buy(100), 7)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if o.ID != "ORD_s1_7_1" || !strings.HasPrefix(s.submitted[0].OrderID, "ORD_s1_") {
		t.Fatalf("unexpected id %s", o.ID)
	}
	if m.Count() != 1 {
		t.Fatalf("count = %d", m.Count())
	}
}

func TestAdmitAtThresholdCancelsOldest(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	ctx := context.Background()
	var first string
	for i := 0; i < 45; i++ {
		o, err := m.Admit(ctx, buy(100), int64(i))
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if i == 0 {
			first = o.ID
		}
	}
	if _, err := m.Admit(ctx, buy(100), 45); err != nil {
		t.Fatalf("46th admit: %v", err)
	}
	if len(s.cancelled) != 1 || s.cancelled[0] != first {
		t.Fatalf("expected the oldest order cancelled, got %v", s.cancelled)
	}
	if m.Count() != 45 {
		t.Fatalf("count = %d, want 45", m.Count())
	}
}

func TestAdmitAtCapIsRejected(t *testing.T) {
	s := &fakeSender{failCancel: errors.New("socket closed")}
	m := newTestManager(s)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if _, err := m.Admit(ctx, buy(100), int64(i)); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if m.Count() != 50 {
		t.Fatalf("failed cancels must keep orders tracked, count = %d", m.Count())
	}
	_, err := m.Admit(ctx, buy(100), 50)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if m.Count() != 50 || len(s.submitted) != 50 {
		t.Fatalf("rejected admit changed state: count=%d sent=%d", m.Count(), len(s.submitted))
	}
	if st := m.Stats(); st.Rejected != 1 {
		t.Fatalf("rejected = %d", st.Rejected)
	}
}

func TestSubmitFailureRollsBack(t *testing.T) {
	s := &fakeSender{failSubmit: errors.New("write: broken pipe")}
	m := newTestManager(s)
	if _, err := m.Admit(context.Background(), buy(100), 1); err == nil {
		t.Fatalf("expected send error")
	}
	if m.Count() != 0 {
		t.Fatalf("failed submit must roll back, count = %d", m.Count())
	}
}

func TestInvalidIntent(t *testing.T) {
	m := newTestManager(&fakeSender{})
	if _, err := m.Admit(context.Background(), models.OrderIntent{Side: models.SideBuy, Price: 100}, 1); !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected ErrInvalidIntent, got %v", err)
	}
}

func TestCancelFailureKeepsEntry(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	ctx := context.Background()
	o, _ := m.Admit(ctx, buy(100), 1)

	s.failCancel = errors.New("timeout")
	if err := m.Cancel(ctx, o.ID, ReasonManual); err == nil {
		t.Fatalf("expected cancel error")
	}
	if m.Count() != 1 {
		t.Fatalf("entry must survive a failed cancel")
	}

	s.failCancel = nil
	if err := m.Cancel(ctx, o.ID, ReasonManual); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := m.Cancel(ctx, o.ID, ReasonManual); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestRetireStaleOnCheckSteps(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	ctx := context.Background()
	m.Admit(ctx, buy(100), 0)
	m.Admit(ctx, buy(100), 150)

	if n := m.RetireStale(ctx, 210); n != 0 {
		t.Fatalf("210 is not a check step, retired %d", n)
	}
	if n := m.RetireStale(ctx, 250); n != 1 {
		t.Fatalf("expected one stale order at step 250, got %d", n)
	}
	if m.Count() != 1 || m.Open()[0].Step != 150 {
		t.Fatalf("wrong order retired: %+v", m.Open())
	}
}

func TestRetireDrifted(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	ctx := context.Background()
	m.Admit(ctx, buy(99.00), 1)
	m.Admit(ctx, buy(100.00), 1)
	m.Admit(ctx, models.OrderIntent{Side: models.SideSell, Price: 101.00, Qty: 100}, 1)

	// bid 100.00, ask 100.25, tolerance 4 ticks = 1.00
	if n := m.RetireDrifted(ctx, 100.00, 100.25); n != 0 {
		t.Fatalf("nothing drifted yet, retired %d", n)
	}
	if n := m.RetireDrifted(ctx, 100.50, 102.50); n != 2 {
		t.Fatalf("expected two drifted orders, got %d", n)
	}
	open := m.Open()
	if len(open) != 1 || open[0].Price != 100.00 {
		t.Fatalf("unexpected survivors: %+v", open)
	}

	m2 := NewManager(s, "s2", logger.NewNop(), WithConfig(Config{DriftTicks: 0}))
	m2.Admit(ctx, buy(90), 1)
	if n := m2.RetireDrifted(ctx, 100, 100.25); n != 0 {
		t.Fatalf("zero drift ticks must disable retirement")
	}
}

func TestRetireDriftedMeasuresFromAnchor(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	ctx := context.Background()
	// skewed unwind six ticks inside an ask of 102.00
	skewed, err := m.Admit(ctx, models.OrderIntent{Side: models.SideSell, Price: 100.50, Qty: 200, Anchor: 102.00}, 33)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if skewed.Anchor != 102.00 {
		t.Fatalf("anchor not kept: %+v", skewed)
	}
	for i := 0; i < 2; i++ {
		if n := m.RetireDrifted(ctx, 100.00, 102.00); n != 0 {
			t.Fatalf("pass %d: unchanged touch retired %d orders", i, n)
		}
	}
	if n := m.RetireDrifted(ctx, 100.00, 103.00); n != 0 {
		t.Fatalf("four ticks of movement is within tolerance, retired %d", n)
	}
	if n := m.RetireDrifted(ctx, 100.00, 103.25); n != 1 {
		t.Fatalf("expected the skewed order to drift out, got %d", n)
	}
	if len(m.Open()) != 0 {
		t.Fatalf("unexpected survivors: %+v", m.Open())
	}
}

func TestOpenQtyAndCancelSide(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	ctx := context.Background()
	m.Admit(ctx, buy(99.75), 1)
	m.Admit(ctx, models.OrderIntent{Side: models.SideSell, Price: 100.25, Qty: 300}, 1)
	m.Admit(ctx, models.OrderIntent{Side: models.SideSell, Price: 100.50, Qty: 200}, 2)

	if got := m.OpenQty(models.SideSell); got != 500 {
		t.Fatalf("OpenQty(SELL) = %d", got)
	}
	if got := m.OpenQty(models.SideBuy); got != 100 {
		t.Fatalf("OpenQty(BUY) = %d", got)
	}
	if n := m.CancelSide(ctx, models.SideSell, ReasonUnwind); n != 2 {
		t.Fatalf("expected two cancellations, got %d", n)
	}
	if m.OpenQty(models.SideSell) != 0 || m.OpenQty(models.SideBuy) != 100 {
		t.Fatalf("unexpected open orders: %+v", m.Open())
	}
	if len(s.cancelled) != 2 {
		t.Fatalf("expected two cancel sends, got %v", s.cancelled)
	}
}

func TestOnFillTrackedAndUnknown(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	o, _ := m.Admit(context.Background(), buy(100), 10)

	info := m.OnFill(&models.OrderEvent{Type: models.EventFill, OrderID: o.ID, Side: models.SideBuy, Qty: 100, Price: 100},
		o.SentAt.Add(250*time.Millisecond), 25)
	if !info.Tracked || info.Lifetime != 15 || info.Latency != 250*time.Millisecond {
		t.Fatalf("unexpected fill info: %+v", info)
	}
	if m.Count() != 0 {
		t.Fatalf("fill must remove the order")
	}

	if info := m.OnFill(&models.OrderEvent{OrderID: "ORD_other"}, time.Now(), 30); info.Tracked {
		t.Fatalf("unknown fill must not be tracked")
	}
	st := m.Stats()
	if st.Fills != 1 || st.Untracked != 1 || st.AvgLifetime != 15 || st.MaxLatency != 250*time.Millisecond {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestDrainAllCountsFailures(t *testing.T) {
	s := &fakeSender{}
	m := newTestManager(s)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.Admit(ctx, buy(100), int64(i))
	}
	if failed := m.DrainAll(ctx); failed != 0 || m.Count() != 0 {
		t.Fatalf("drain: failed=%d count=%d", failed, m.Count())
	}

	m.Admit(ctx, buy(100), 5)
	s.failCancel = errors.New("closed")
	if failed := m.DrainAll(ctx); failed != 1 {
		t.Fatalf("expected one failure, got %d", failed)
	}
}
