package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketMaker/internal/domain/models"
	domrepo "MarketMaker/internal/domain/repository"
	"MarketMaker/pkg/logger"
)

// ErrPipelineStopped is returned when submitting to a stopped pipeline.
var ErrPipelineStopped = errors.New("pipeline stopped")

// Engine is the minimal engine interface the pipeline needs.
type Engine interface {
	Apply(ctx context.Context, snap *models.MarketSnapshot) error
	OnFill(ctx context.Context, ev *models.OrderEvent) error
	OnError(ev *models.OrderEvent)
}

// Stepper acknowledges a processed snapshot to the exchange.
type Stepper interface {
	Done(ctx context.Context) error
}

// Observer sees each snapshot before the engine applies it.
type Observer interface {
	Observe(ctx context.Context, snap *models.MarketSnapshot)
}

type item struct {
	snap *models.MarketSnapshot
	evt  *models.OrderEvent
	at   time.Time
}

// EventPipeline serializes snapshots and order events onto a single consumer.
// Items are applied in arrival order, so fills never race with snapshot processing.
type EventPipeline struct {
	engine  Engine
	stepper Stepper
	metrics domrepo.Metrics
	log     *logger.Logger

	observers []Observer
	bufSize   int
	queue     chan item
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	started   bool
	stopped   bool
}

type PipelineOption func(*EventPipeline)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithObserver registers a snapshot observer.
func WithObserver(o Observer) PipelineOption {
	return func(p *EventPipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// NewEventPipeline creates a new pipeline. stepper may be nil when nothing acknowledges steps.
func NewEventPipeline(engine Engine, stepper Stepper, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		engine:  engine,
		stepper: stepper,
		metrics: metrics,
		log:     log.Component("pipeline"),
		bufSize: 1024,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan item, p.bufSize)
	return p
}

// Start launches the consumer goroutine.
func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.stopCh:
				p.drain(ctx)
				return
			case <-ctx.Done():
				return
			case it := <-p.queue:
				p.handle(ctx, it)
			}
		}
	}()
}

// Stop applies whatever is still queued and waits for the consumer to exit.
func (p *EventPipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		p.wg.Wait()
	}
}

// SubmitSnapshot validates and enqueues a snapshot, blocking while the queue is full.
func (p *EventPipeline) SubmitSnapshot(ctx context.Context, snap *models.MarketSnapshot) error {
	if err := validateSnapshot(snap); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	return p.enqueue(ctx, item{snap: snap, at: time.Now()})
}

// SubmitEvent validates and enqueues an order event.
func (p *EventPipeline) SubmitEvent(ctx context.Context, ev *models.OrderEvent) error {
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	return p.enqueue(ctx, item{evt: ev, at: time.Now()})
}

// Len returns the number of queued items.
func (p *EventPipeline) Len() int { return len(p.queue) }

func (p *EventPipeline) enqueue(ctx context.Context, it item) error {
	select {
	case <-p.stopCh:
		return ErrPipelineStopped
	default:
	}
	select {
	case p.queue <- it:
		p.metrics.RecordQueueDepth(len(p.queue))
		return nil
	case <-p.stopCh:
		return ErrPipelineStopped
	case <-ctx.Done():
		p.metrics.RecordError("pipeline_enqueue_timeout")
		return fmt.Errorf("pipeline enqueue: %w", ctx.Err())
	}
}

func (p *EventPipeline) drain(ctx context.Context) {
	for {
		select {
		case it := <-p.queue:
			p.handle(ctx, it)
		default:
			return
		}
	}
}

func (p *EventPipeline) handle(ctx context.Context, it item) {
	p.metrics.RecordLatency("pipeline_wait", time.Since(it.at).Seconds())
	p.metrics.RecordQueueDepth(len(p.queue))

	if it.snap != nil {
		for _, o := range p.observers {
			o.Observe(ctx, it.snap)
		}
		if err := p.engine.Apply(ctx, it.snap); err != nil {
			p.metrics.RecordError("pipeline_process")
			p.log.Warn("snapshot processing failed", logger.Int64("step", it.snap.Step), logger.Error(err))
		}
		if p.stepper != nil {
			if err := p.stepper.Done(ctx); err != nil {
				p.metrics.RecordError("pipeline_done")
				p.log.Warn("step acknowledgement failed", logger.Int64("step", it.snap.Step), logger.Error(err))
			}
		}
		return
	}

	switch it.evt.Type {
	case models.EventFill:
		if err := p.engine.OnFill(ctx, it.evt); err != nil {
			p.log.Warn("fill rejected", logger.String("order_id", it.evt.OrderID), logger.Error(err))
		}
	case models.EventError:
		p.engine.OnError(it.evt)
	}
}

func validateSnapshot(s *models.MarketSnapshot) error {
	if s == nil {
		return fmt.Errorf("snapshot nil")
	}
	if s.Step < 0 {
		return fmt.Errorf("snapshot step negative")
	}
	return nil
}

func validateEvent(ev *models.OrderEvent) error {
	if ev == nil {
		return fmt.Errorf("event nil")
	}
	switch ev.Type {
	case models.EventFill, models.EventError:
		return nil
	default:
		return fmt.Errorf("event type %q unsupported", ev.Type)
	}
}
