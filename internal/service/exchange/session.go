package exchange

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pkghttp "MarketMaker/pkg/http"
	"MarketMaker/pkg/logger"
)

// ErrNotRegistered is returned when a socket is opened before the session handshake.
var ErrNotRegistered = errors.New("exchange session not registered")

// Config describes the simulator endpoints and credentials.
type Config struct {
	Host             string
	Secure           bool
	StudentID        string
	Password         string
	Scenario         string
	MarketPath       string
	OrderPath        string
	RegisterPath     string
	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration
	PingInterval     time.Duration
	OrdersPerSecond  int
	RegisterRetries  int
}

func (c Config) httpURL(path string) string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return scheme + "://" + c.Host + path
}

func (c Config) wsURL(path string, q url.Values) string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.Host, Path: path, RawQuery: q.Encode()}
	return u.String()
}

// dialer builds a websocket dialer. The simulator serves self-signed certificates.
func (c Config) dialer() *websocket.Dialer {
	d := &websocket.Dialer{HandshakeTimeout: c.HandshakeTimeout}
	if c.Secure {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return d
}

// Session holds the credentials returned by the handshake. It is shared by both sockets.
type Session struct {
	mu    sync.RWMutex
	token string
	runID string
}

func NewSession() *Session { return &Session{} }

// Set stores the handshake result.
func (s *Session) Set(token, runID string) {
	s.mu.Lock()
	s.token, s.runID = token, runID
	s.mu.Unlock()
}

// Get returns the token and run id, or ErrNotRegistered.
func (s *Session) Get() (token, runID string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.runID == "" {
		return "", "", ErrNotRegistered
	}
	return s.token, s.runID, nil
}

type registerResponse struct {
	Token string `json:"token"`
	RunID string `json:"run_id"`
}

// Registrar performs the HTTP handshake that starts a replay run.
type Registrar struct {
	cfg     Config
	client  *pkghttp.Client
	session *Session
	log     *logger.Logger
}

// NewRegistrar creates a registrar writing into session.
func NewRegistrar(cfg Config, client *pkghttp.Client, session *Session, log *logger.Logger) *Registrar {
	return &Registrar{cfg: cfg, client: client, session: session, log: log.Component("exchange")}
}

// Register requests a run for the configured scenario, retrying transient failures with a linear
// backoff. Client errors such as a rejected token end it at once.
func (r *Registrar) Register(ctx context.Context) error {
	target := r.cfg.httpURL(fmt.Sprintf(r.cfg.RegisterPath, url.PathEscape(r.cfg.Scenario)))
	headers := map[string]string{"Authorization": "Bearer " + r.cfg.StudentID}
	if r.cfg.Password != "" {
		headers["X-Team-Password"] = r.cfg.Password
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.RegisterRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * r.cfg.ReconnectDelay):
			}
		}
		var resp registerResponse
		if err := r.client.Get(ctx, target, headers, &resp); err != nil {
			lastErr = err
			if pkghttp.IsPermanent(err) {
				break
			}
			r.log.Warn("register failed", logger.Int("attempt", attempt+1), logger.Error(err))
			continue
		}
		if resp.Token == "" || resp.RunID == "" {
			lastErr = fmt.Errorf("missing token or run_id")
			continue
		}
		r.session.Set(resp.Token, resp.RunID)
		r.log.Info("registered",
			logger.String("scenario", r.cfg.Scenario),
			logger.String("run_id", resp.RunID))
		return nil
	}
	return fmt.Errorf("exchange register: %w", lastErr)
}
