package paper

import (
	"context"
	"errors"
	"sort"
	"sync"

	"MarketMaker/internal/domain/models"
	drepo "MarketMaker/internal/domain/repository"
	"MarketMaker/pkg/logger"
)

// ErrOrderNotExist is returned when cancelling an order that is not resting.
var ErrOrderNotExist = errors.New("order does not exist")

var _ drepo.OrderGateway = (*Gateway)(nil)

type resting struct {
	order models.OrderSubmit
	seq   uint64
}

// Gateway is an in-process OrderGateway for replay sessions. Resting orders fill at their limit
// price when a later snapshot's touch reaches them.
type Gateway struct {
	mu     sync.Mutex
	orders map[string]*resting
	seq    uint64
	steps  int64
	fills  int64

	events chan *models.OrderEvent
	errs   chan error
	once   sync.Once
	log    *logger.Logger
}

// NewGateway creates a paper gateway.
func NewGateway(log *logger.Logger) *Gateway {
	return &Gateway{
		orders: make(map[string]*resting),
		events: make(chan *models.OrderEvent, 1024),
		errs:   make(chan error),
		log:    log.Component("paper"),
	}
}

func (g *Gateway) Connect(context.Context) error { return nil }

// Submit rests an order.
func (g *Gateway) Submit(_ context.Context, o models.OrderSubmit) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.orders[o.OrderID] = &resting{order: o, seq: g.seq}
	return nil
}

// Cancel removes a resting order.
func (g *Gateway) Cancel(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orders[orderID]; !ok {
		return ErrOrderNotExist
	}
	delete(g.orders, orderID)
	return nil
}

// Done counts acknowledged steps.
func (g *Gateway) Done(context.Context) error {
	g.mu.Lock()
	g.steps++
	g.mu.Unlock()
	return nil
}

// Events returns the fill stream. There is a single stream per gateway.
func (g *Gateway) Events(context.Context) (<-chan *models.OrderEvent, <-chan error) {
	return g.events, g.errs
}

// Observe matches resting orders against the snapshot touch and emits their fills in
// submission order.
func (g *Gateway) Observe(ctx context.Context, snap *models.MarketSnapshot) {
	g.mu.Lock()
	var filled []*resting
	for id, r := range g.orders {
		if crosses(r.order, snap) {
			filled = append(filled, r)
			delete(g.orders, id)
		}
	}
	g.fills += int64(len(filled))
	g.mu.Unlock()

	sort.Slice(filled, func(i, j int) bool { return filled[i].seq < filled[j].seq })
	for _, r := range filled {
		ev := &models.OrderEvent{
			Type:    models.EventFill,
			OrderID: r.order.OrderID,
			Side:    r.order.Side,
			Qty:     r.order.Qty,
			Price:   r.order.Price,
		}
		select {
		case g.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func crosses(o models.OrderSubmit, s *models.MarketSnapshot) bool {
	switch o.Side {
	case models.SideBuy:
		return s.Ask > 0 && s.Ask <= o.Price
	case models.SideSell:
		return s.Bid > 0 && s.Bid >= o.Price
	}
	return false
}

// Resting returns the number of resting orders.
func (g *Gateway) Resting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

// Close ends the event stream.
func (g *Gateway) Close() error {
	g.once.Do(func() {
		g.mu.Lock()
		g.log.Info("paper session closed",
			logger.Int64("steps", g.steps),
			logger.Int64("fills", g.fills),
			logger.Int("resting", len(g.orders)))
		g.mu.Unlock()
		close(g.events)
		close(g.errs)
	})
	return nil
}
