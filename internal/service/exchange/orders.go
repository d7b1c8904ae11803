package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"MarketMaker/internal/domain/models"
	drepo "MarketMaker/internal/domain/repository"
	"MarketMaker/internal/service/ratelimit"
	"MarketMaker/pkg/logger"
)

var (
	// ErrRateLimited is returned when an order exceeds the configured send rate.
	ErrRateLimited = errors.New("order rate limited")
	// ErrNotConnected is returned when writing to a closed order socket.
	ErrNotConnected = errors.New("order socket not connected")
)

const (
	writeTimeout = 2 * time.Second
	orderKey     = "orders"
)

var _ drepo.OrderGateway = (*OrderClient)(nil)

// OrderClient implements an OrderGateway over the simulator's order websocket.
// Writes are fire-and-forget; fills and errors arrive on Events.
type OrderClient struct {
	cfg     Config
	session *Session
	limiter *ratelimit.Limiter
	log     *logger.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// NewOrderClient creates an order gateway. limiter may be nil to disable send throttling.
func NewOrderClient(cfg Config, session *Session, limiter *ratelimit.Limiter, log *logger.Logger) *OrderClient {
	return &OrderClient{cfg: cfg, session: session, limiter: limiter, log: log.Component("orders")}
}

// Connect opens the order websocket.
func (c *OrderClient) Connect(ctx context.Context) error {
	token, runID, err := c.session.Get()
	if err != nil {
		return fmt.Errorf("order connect: %w", err)
	}
	u := c.cfg.wsURL(c.cfg.OrderPath, url.Values{"token": {token}, "run_id": {runID}})
	conn, _, err := c.cfg.dialer().DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("order connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("order session connected", logger.String("run_id", runID))
	return nil
}

// Submit sends a new order.
func (c *OrderClient) Submit(_ context.Context, o models.OrderSubmit) error {
	if c.limiter != nil && !c.limiter.Allow(orderKey) {
		return ErrRateLimited
	}
	return c.write(o)
}

// Cancel sends a cancellation.
func (c *OrderClient) Cancel(_ context.Context, orderID string) error {
	return c.write(models.OrderCancel{Action: models.ActionCancel, OrderID: orderID})
}

// Done signals that the current step is processed.
func (c *OrderClient) Done(_ context.Context) error {
	return c.write(models.StepDone{Action: models.ActionDone})
}

func (c *OrderClient) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("order write: %w", err)
	}
	return nil
}

// Events streams fills and errors from the order socket.
func (c *OrderClient) Events(ctx context.Context) (<-chan *models.OrderEvent, <-chan error) {
	events := make(chan *models.OrderEvent, 256)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	go func() {
		defer close(events)
		defer close(errs)
		if conn == nil {
			errs <- ErrNotConnected
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("order read: %w", err)
				}
				return
			}
			var ev models.OrderEvent
			if err := json.Unmarshal(b, &ev); err != nil {
				c.log.Debug("skipping malformed order frame", logger.Error(err))
				continue
			}
			switch ev.Type {
			case models.EventFill, models.EventError:
				select {
				case events <- &ev:
				case <-ctx.Done():
					return
				}
			case "AUTHENTICATED":
				c.log.Info("order session authenticated")
			}
		}
	}()

	return events, errs
}

// Close closes the websocket.
func (c *OrderClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
