package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"MarketMaker/internal/domain/models"
	drepo "MarketMaker/internal/domain/repository"
	mid "MarketMaker/internal/middleware"
	"MarketMaker/pkg/logger"
)

// Registrar opens a session with the exchange.
type Registrar interface {
	Register(ctx context.Context) error
}

// SessionLock is a lease that keeps two processes from driving the same session.
type SessionLock interface {
	Lock(ctx context.Context, sessionID string) error
	Unlock(ctx context.Context, sessionID string) error
}

// SessionRunner connects the exchange sockets to the event pipeline.
type SessionRunner struct {
	registrar Registrar
	lock      SessionLock
	locked    bool
	stream    drepo.MarketStream
	gateway   drepo.OrderGateway
	pipe      *mid.EventPipeline
	engine    *TradingEngine
	metrics   drepo.Metrics
	log       *logger.Logger

	maxReconnects int

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// RunnerOption configures a SessionRunner.
type RunnerOption func(*SessionRunner)

// WithRegistrar registers with the exchange before connecting.
func WithRegistrar(r Registrar) RunnerOption {
	return func(s *SessionRunner) { s.registrar = r }
}

// WithSessionLock takes the session lease before starting and releases it on shutdown.
func WithSessionLock(l SessionLock) RunnerOption {
	return func(s *SessionRunner) { s.lock = l }
}

// WithMarketStream sets the snapshot source. Without one, snapshots must be submitted to the
// pipeline by another producer such as the replay consumer.
func WithMarketStream(m drepo.MarketStream) RunnerOption {
	return func(s *SessionRunner) { s.stream = m }
}

// WithMaxReconnects bounds consecutive reconnect attempts of the market stream.
func WithMaxReconnects(n int) RunnerOption {
	return func(s *SessionRunner) { s.maxReconnects = n }
}

// NewSessionRunner creates a runner.
func NewSessionRunner(gateway drepo.OrderGateway, pipe *mid.EventPipeline, engine *TradingEngine, metrics drepo.Metrics, log *logger.Logger, opts ...RunnerOption) *SessionRunner {
	s := &SessionRunner{
		gateway:       gateway,
		pipe:          pipe,
		engine:        engine,
		metrics:       metrics,
		log:           log.Component("runner"),
		maxReconnects: 5,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsConnected reports whether the market stream is up. Without a stream it is always true.
func (s *SessionRunner) IsConnected() bool {
	return s.stream == nil || s.stream.IsConnected()
}

// Done is closed when the market stream ends for good.
func (s *SessionRunner) Done() <-chan struct{} { return s.done }

// Start registers, connects and begins consuming.
func (s *SessionRunner) Start(ctx context.Context) (err error) {
	if s.lock != nil {
		if err := s.lock.Lock(ctx, s.engine.Status().SessionID); err != nil {
			return err
		}
		s.locked = true
		defer func() {
			if err != nil {
				if uerr := s.release(ctx); uerr != nil {
					s.log.Warn("session unlock failed", logger.Error(uerr))
				}
			}
		}()
	}
	if s.registrar != nil {
		if err := s.registrar.Register(ctx); err != nil {
			return err
		}
	}
	if ok, err := s.engine.Restore(ctx); err != nil {
		s.log.Warn("state restore failed", logger.Error(err))
	} else if ok {
		s.log.Info("resuming saved position")
	}
	if err := s.gateway.Connect(ctx); err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	if s.stream != nil {
		if err := s.stream.Connect(ctx); err != nil {
			return fmt.Errorf("stream connect: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pipe.Start(runCtx)

	s.wg.Add(1)
	go s.forwardEvents(runCtx)
	if s.stream != nil {
		s.wg.Add(1)
		go s.consume(runCtx)
	}
	return nil
}

func (s *SessionRunner) consume(ctx context.Context) {
	defer s.wg.Done()
	defer s.finish()

	failures := 0
	for {
		snaps, errs := s.stream.Read(ctx)
		for snap := range snaps {
			failures = 0
			if err := s.pipe.SubmitSnapshot(ctx, snap); err != nil {
				if errors.Is(err, mid.ErrPipelineStopped) {
					return
				}
				s.log.Warn("snapshot dropped", logger.Error(err))
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := <-errs; err != nil {
			s.metrics.RecordError("stream")
			s.log.Warn("market stream failed", logger.Error(err))
		}

		for {
			failures++
			if failures > s.maxReconnects {
				s.log.Error("market stream gone, giving up", logger.Int("attempts", failures-1))
				return
			}
			if err := s.stream.Reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("reconnect failed", logger.Int("attempt", failures), logger.Error(err))
				continue
			}
			break
		}
	}
}

func (s *SessionRunner) forwardEvents(ctx context.Context) {
	defer s.wg.Done()
	events, errs := s.gateway.Events(ctx)
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := s.pipe.SubmitEvent(ctx, ev); err != nil {
				if errors.Is(err, mid.ErrPipelineStopped) {
					return
				}
				s.log.Warn("order event dropped", logger.String("type", ev.Type), logger.Error(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.metrics.RecordError("order_stream")
			s.log.Warn("order stream failed", logger.Error(err))
		}
	}
}

func (s *SessionRunner) finish() { s.once.Do(func() { close(s.done) }) }

// Shutdown drains the pipeline, lets the engine cancel and persist, then closes the sockets.
func (s *SessionRunner) Shutdown(ctx context.Context) error {
	s.pipe.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	var errs []error
	if err := s.engine.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stream close: %w", err))
		}
	}
	if err := s.gateway.Close(); err != nil {
		errs = append(errs, fmt.Errorf("gateway close: %w", err))
	}
	s.wg.Wait()
	s.finish()
	if err := s.release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *SessionRunner) release(ctx context.Context) error {
	if !s.locked {
		return nil
	}
	s.locked = false
	return s.lock.Unlock(ctx, s.engine.Status().SessionID)
}

// Summary returns the engine totals.
func (s *SessionRunner) Summary() models.SessionSummary { return s.engine.Summary() }
