package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"MarketMaker/internal/domain/models"
	"MarketMaker/internal/services/orders"
	"MarketMaker/internal/services/regime"
	"MarketMaker/internal/services/risk"
	"MarketMaker/internal/services/scenario"
	"MarketMaker/pkg/logger"
)

type fakeSession struct {
	open    []models.OpenOrder
	breaker risk.BreakerState
	resets  []string
	profile *models.ScenarioProfile
}

func (f *fakeSession) Status() models.EngineState {
	return models.EngineState{SessionID: "s1", Step: 42, Regime: models.RegimeNormal}
}
func (f *fakeSession) Summary() models.SessionSummary { return models.SessionSummary{Steps: 42} }
func (f *fakeSession) Profile() (*models.ScenarioProfile, scenario.Result) {
	return f.profile, scenario.Result{ID: "normal_market", Score: 4}
}
func (f *fakeSession) RegimeState() regime.State { return regime.State{Current: models.RegimeNormal} }
func (f *fakeSession) OpenOrders(limit int, side models.Side) []models.OpenOrder {
	var out []models.OpenOrder
	for _, o := range f.open {
		if (side == "" || o.Side == side) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out
}
func (f *fakeSession) OrderStats() orders.Stats   { return orders.Stats{Open: len(f.open)} }
func (f *fakeSession) Breaker() risk.BreakerState { return f.breaker }
func (f *fakeSession) ResetBreaker(reason string) risk.BreakerState {
	f.resets = append(f.resets, reason)
	f.breaker.Tripped = false
	return f.breaker
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func newTestServer(s *fakeSession, conn Connectivity) *echo.Echo {
	e := echo.New()
	NewSessionEchoHandler(logger.NewNop(), s, conn).RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestOrdersFiltersAndDefaultsLimit(t *testing.T) {
	s := &fakeSession{open: []models.OpenOrder{
		{ID: "a", Side: models.SideBuy},
		{ID: "b", Side: models.SideSell},
		{ID: "c", Side: models.SideBuy},
	}}
	e := newTestServer(s, nil)

	rec := do(e, http.MethodGet, "/api/orders?side=BUY", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got ordersResponse
	if err := json.Unmarshal(decode(t, rec).Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(got.Orders) != 2 || got.Orders[0].ID != "a" || got.Orders[1].ID != "c" {
		t.Fatalf("unexpected orders %+v", got.Orders)
	}
	if got.Stats.Open != 3 {
		t.Fatalf("stats.open = %d, want 3", got.Stats.Open)
	}

	rec = do(e, http.MethodGet, "/api/orders?limit=1", "")
	if err := json.Unmarshal(decode(t, rec).Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(got.Orders) != 1 {
		t.Fatalf("limit ignored: %+v", got.Orders)
	}
}

func TestOrdersRejectsBadQuery(t *testing.T) {
	e := newTestServer(&fakeSession{}, nil)
	for _, q := range []string{"side=HOLD", "limit=9999"} {
		rec := do(e, http.MethodGet, "/api/orders?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestBreakerReset(t *testing.T) {
	s := &fakeSession{breaker: risk.BreakerState{Tripped: true, Consecutive: 5}}
	e := newTestServer(s, nil)

	rec := do(e, http.MethodPost, "/api/breaker/reset", `{"reason":"operator"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(s.resets) != 1 || s.resets[0] != "operator" {
		t.Fatalf("resets = %v", s.resets)
	}

	rec = do(e, http.MethodPost, "/api/breaker/reset", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("reset of a clear breaker: status = %d, want 409", rec.Code)
	}
}

func TestProfileNotSelected(t *testing.T) {
	e := newTestServer(&fakeSession{}, nil)
	if rec := do(e, http.MethodGet, "/api/profile", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealthFollowsConnectivity(t *testing.T) {
	s := &fakeSession{}
	if rec := do(newTestServer(s, fakeConn(true)), http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("connected: status = %d", rec.Code)
	}
	if rec := do(newTestServer(s, fakeConn(false)), http.MethodGet, "/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disconnected: status = %d, want 503", rec.Code)
	}
}
