package repository

import (
	"context"

	"MarketMaker/internal/domain/models"
)

// MarketStream delivers per-step snapshots.
type MarketStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.MarketSnapshot, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// OrderGateway sends orders and receives fills. Sends are best-effort and never wait for an ack.
type OrderGateway interface {
	Connect(ctx context.Context) error
	Submit(ctx context.Context, o models.OrderSubmit) error
	Cancel(ctx context.Context, orderID string) error
	Done(ctx context.Context) error
	Events(ctx context.Context) (<-chan *models.OrderEvent, <-chan error)
	Close() error
}

// EventPublisher pushes engine events to a bus.
type EventPublisher interface {
	Publish(ctx context.Context, evt *models.EngineEvent) error
	Close() error
}

// Journal persists session history.
type Journal interface {
	Init(ctx context.Context) error
	RecordFill(ctx context.Context, f *models.FillRecord) error
	RecordRegimeChange(ctx context.Context, c *models.RegimeChange) error
	RecordSummary(ctx context.Context, s *models.SessionSummary) error
	Health(ctx context.Context) error
	Close() error
}

// StateStore snapshots engine state for inspection and restarts.
type StateStore interface {
	Save(ctx context.Context, st *models.EngineState) error
	Load(ctx context.Context, sessionID string) (*models.EngineState, error)
	Close() error
}

// Metrics records engine telemetry.
type Metrics interface {
	RecordRegime(regime models.Regime)
	RecordRegimeChange(from, to models.Regime)
	RecordOrder(result string)
	RecordCancel(reason string)
	RecordFill(side models.Side, quality models.FillQuality)
	RecordFillLatency(seconds float64)
	RecordPosition(inventory int, pnl float64)
	RecordOpenOrders(n int)
	RecordDeadTick()
	RecordBreaker(tripped bool)
	RecordQueueDepth(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
