package api

import (
	"github.com/labstack/echo/v4"

	"MarketMaker/internal/domain/models"
	"MarketMaker/internal/services/orders"
	"MarketMaker/internal/services/regime"
	"MarketMaker/internal/services/risk"
	"MarketMaker/internal/services/scenario"
	xhttp "MarketMaker/pkg/http"
	"MarketMaker/pkg/logger"
)

// SessionView is the read side of the trading engine plus the manual breaker reset.
type SessionView interface {
	Status() models.EngineState
	Summary() models.SessionSummary
	Profile() (*models.ScenarioProfile, scenario.Result)
	RegimeState() regime.State
	OpenOrders(limit int, side models.Side) []models.OpenOrder
	OrderStats() orders.Stats
	Breaker() risk.BreakerState
	ResetBreaker(reason string) risk.BreakerState
}

// Connectivity reports whether the exchange streams are up.
type Connectivity interface {
	IsConnected() bool
}

// SessionEchoHandler serves the session status API.
type SessionEchoHandler struct {
	log     *logger.Logger
	session SessionView
	conn    Connectivity
}

func NewSessionEchoHandler(log *logger.Logger, session SessionView, conn Connectivity) *SessionEchoHandler {
	return &SessionEchoHandler{log: log.Component("api"), session: session, conn: conn}
}

func (h *SessionEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/summary", h.Summary)
	g.GET("/orders", h.Orders)
	g.GET("/profile", h.Profile)
	g.GET("/regime", h.Regime)
	g.GET("/breaker", h.Breaker)
	g.POST("/breaker/reset", h.ResetBreaker)
}

func (h *SessionEchoHandler) Health(c echo.Context) error {
	if h.conn != nil && !h.conn.IsConnected() {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("exchange stream disconnected"))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status": "ok",
		"step":   h.session.Status().Step,
	})
}

func (h *SessionEchoHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.session.Status())
}

func (h *SessionEchoHandler) Summary(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.session.Summary())
}

type ordersResponse struct {
	Stats  orders.Stats       `json:"stats"`
	Orders []models.OpenOrder `json:"orders"`
}

func (h *SessionEchoHandler) Orders(c echo.Context) error {
	req := new(models.OrdersRequest)
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, ordersResponse{
		Stats:  h.session.OrderStats(),
		Orders: h.session.OpenOrders(req.Limit, models.Side(req.Side)),
	})
}

type profileResponse struct {
	Profile *models.ScenarioProfile `json:"profile"`
	Match   scenario.Result         `json:"match"`
}

func (h *SessionEchoHandler) Profile(c echo.Context) error {
	p, match := h.session.Profile()
	if p == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no profile selected"))
	}
	return xhttp.SuccessResponse(c, profileResponse{Profile: p, Match: match})
}

func (h *SessionEchoHandler) Regime(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.session.RegimeState())
}

func (h *SessionEchoHandler) Breaker(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.session.Breaker())
}

func (h *SessionEchoHandler) ResetBreaker(c echo.Context) error {
	req := new(models.BreakerResetRequest)
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.session.Breaker().Tripped {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("circuit breaker is not tripped"))
	}
	st := h.session.ResetBreaker(req.Reason)
	h.log.Warn("breaker reset over http", logger.String("reason", req.Reason), logger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, st)
}
