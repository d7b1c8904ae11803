package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"MarketMaker/internal/domain/models"
	drepo "MarketMaker/internal/domain/repository"
	"MarketMaker/pkg/logger"
)

var _ drepo.MarketStream = (*MarketClient)(nil)

// MarketClient implements a MarketStream over the simulator's market websocket.
type MarketClient struct {
	cfg     Config
	session *Session
	log     *logger.Logger

	mu        sync.Mutex // guards conn and writes
	conn      *websocket.Conn
	connected atomic.Bool
}

// NewMarketClient creates a market stream for the registered session.
func NewMarketClient(cfg Config, session *Session, log *logger.Logger) *MarketClient {
	return &MarketClient{cfg: cfg, session: session, log: log.Component("market")}
}

// Connect opens the market websocket.
func (c *MarketClient) Connect(ctx context.Context) error {
	_, runID, err := c.session.Get()
	if err != nil {
		return fmt.Errorf("market connect: %w", err)
	}
	u := c.cfg.wsURL(c.cfg.MarketPath, url.Values{"run_id": {runID}})
	conn, _, err := c.cfg.dialer().DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("market connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("market stream connected", logger.String("run_id", runID))
	return nil
}

type marketFrame struct {
	Type string `json:"type"`
	models.MarketSnapshot
}

// Read streams snapshots and errors. The channels close when the socket fails or ctx ends.
func (c *MarketClient) Read(ctx context.Context) (<-chan *models.MarketSnapshot, <-chan error) {
	snaps := make(chan *models.MarketSnapshot, 64)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	if c.cfg.PingInterval > 0 {
		go c.ping(readCtx, conn)
	}

	go func() {
		defer cancel()
		defer close(snaps)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("market conn nil")
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() == nil {
					errs <- fmt.Errorf("market read: %w", err)
				}
				return
			}
			var f marketFrame
			if err := json.Unmarshal(b, &f); err != nil {
				c.log.Debug("skipping malformed market frame", logger.Error(err))
				continue
			}
			if f.Type == "CONNECTED" {
				continue
			}
			snap := f.MarketSnapshot
			select {
			case snaps <- &snap:
			case <-readCtx.Done():
				return
			}
		}
	}()

	return snaps, errs
}

func (c *MarketClient) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			c.mu.Unlock()
		}
	}
}

// Reconnect closes and reopens the socket after the reconnect delay.
func (c *MarketClient) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ReconnectDelay):
	}
	return c.Connect(ctx)
}

// Close closes the websocket.
func (c *MarketClient) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected reports whether the socket is open.
func (c *MarketClient) IsConnected() bool { return c.connected.Load() }
