package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"MarketMaker/internal/domain/models"
	"MarketMaker/pkg/logger"
	"MarketMaker/pkg/metrics"
)

type recordingEngine struct {
	mu    sync.Mutex
	trace []string
	fail  error
}

func (e *recordingEngine) add(s string) {
	e.mu.Lock()
	e.trace = append(e.trace, s)
	e.mu.Unlock()
}

func (e *recordingEngine) Apply(_ context.Context, s *models.MarketSnapshot) error {
	e.add("snap")
	return e.fail
}

func (e *recordingEngine) OnFill(_ context.Context, ev *models.OrderEvent) error {
	e.add("fill:" + ev.OrderID)
	return nil
}

func (e *recordingEngine) OnError(ev *models.OrderEvent) { e.add("error") }

func (e *recordingEngine) Trace() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.trace...)
}

type countingStepper struct {
	mu sync.Mutex
	n  int
}

func (s *countingStepper) Done(context.Context) error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

func (s *countingStepper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func TestPipelinePreservesArrivalOrder(t *testing.T) {
	eng := &recordingEngine{}
	st := &countingStepper{}
	p := NewEventPipeline(eng, st, metrics.Nop{}, logger.NewNop(), WithBufferSize(16))
	ctx := context.Background()

	// queue everything before the consumer starts
	p.SubmitSnapshot(ctx, &models.MarketSnapshot{Step: 1, Bid: 100, Ask: 100.25})
	p.SubmitEvent(ctx, &models.OrderEvent{Type: models.EventFill, OrderID: "a", Side: models.SideBuy, Qty: 100, Price: 100})
	p.SubmitSnapshot(ctx, &models.MarketSnapshot{Step: 2, Bid: 100, Ask: 100.25})
	p.SubmitEvent(ctx, &models.OrderEvent{Type: models.EventError, Message: "rejected"})

	p.Start(ctx)
	p.Stop()

	want := []string{"snap", "fill:a", "snap", "error"}
	got := eng.Trace()
	if len(got) != len(want) {
		t.Fatalf("trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace = %v, want %v", got, want)
		}
	}
	if st.count() != 2 {
		t.Fatalf("expected one DONE per snapshot, got %d", st.count())
	}
}

func TestPipelineAcknowledgesFailedSteps(t *testing.T) {
	eng := &recordingEngine{fail: errors.New("submit failed")}
	st := &countingStepper{}
	p := NewEventPipeline(eng, st, metrics.Nop{}, logger.NewNop())
	ctx := context.Background()
	p.Start(ctx)
	if err := p.SubmitSnapshot(ctx, &models.MarketSnapshot{Step: 9}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	p.Stop()
	if st.count() != 1 {
		t.Fatalf("a failed step must still be acknowledged")
	}
}

func TestPipelineValidation(t *testing.T) {
	p := NewEventPipeline(&recordingEngine{}, nil, metrics.Nop{}, logger.NewNop())
	ctx := context.Background()
	if err := p.SubmitSnapshot(ctx, nil); err == nil {
		t.Fatalf("nil snapshot accepted")
	}
	if err := p.SubmitSnapshot(ctx, &models.MarketSnapshot{Step: -1}); err == nil {
		t.Fatalf("negative step accepted")
	}
	if err := p.SubmitEvent(ctx, &models.OrderEvent{Type: "ACK"}); err == nil {
		t.Fatalf("unknown event type accepted")
	}
	if p.Len() != 0 {
		t.Fatalf("invalid items were queued")
	}
}

func TestPipelineBackpressure(t *testing.T) {
	p := NewEventPipeline(&recordingEngine{}, nil, metrics.Nop{}, logger.NewNop(), WithBufferSize(1))
	if err := p.SubmitSnapshot(context.Background(), &models.MarketSnapshot{Step: 1}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.SubmitSnapshot(ctx, &models.MarketSnapshot{Step: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error on a full queue, got %v", err)
	}

	p.Stop()
	if err := p.SubmitSnapshot(context.Background(), &models.MarketSnapshot{Step: 3}); !errors.Is(err, ErrPipelineStopped) {
		t.Fatalf("expected ErrPipelineStopped, got %v", err)
	}
}

type traceObserver struct{ eng *recordingEngine }

func (o traceObserver) Observe(_ context.Context, s *models.MarketSnapshot) { o.eng.add("observe") }

func TestPipelineObserverRunsBeforeApply(t *testing.T) {
	eng := &recordingEngine{}
	p := NewEventPipeline(eng, nil, metrics.Nop{}, logger.NewNop(), WithObserver(traceObserver{eng}), WithObserver(nil))
	ctx := context.Background()
	p.SubmitSnapshot(ctx, &models.MarketSnapshot{Step: 1})
	p.SubmitEvent(ctx, &models.OrderEvent{Type: models.EventFill, OrderID: "b", Side: models.SideSell, Qty: 100, Price: 100})
	p.Start(ctx)
	p.Stop()

	got := eng.Trace()
	if len(got) != 3 || got[0] != "observe" || got[1] != "snap" || got[2] != "fill:b" {
		t.Fatalf("trace = %v", got)
	}
}
