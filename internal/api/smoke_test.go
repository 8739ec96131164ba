// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// These tests do NOT require a PostgreSQL database — they verify:
//   - Gin router routing and middleware wiring
//   - Request validation error responses (400)
//   - Identity middleware (401 without or with a bad X-User-ID header)
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forecastpool/exchange/internal/api"
	"github.com/forecastpool/exchange/internal/config"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		AMM: config.AMMConfig{
			MoneyQuant:         0.01,
			DefaultToken:       "USDC",
			DefaultChain:       "evm",
			DustThreshold:      0.1,
			PriceBucketSeconds: 5,
			SeriesInterval:     "1M",
		},
	}
}

// buildTestRouter creates a Gin engine with nil services and repositories.
// Routing, identity checks and request validation all run before any
// handler touches a service, so these paths need no DB.
func buildTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return api.SetupRouter(api.RouterDeps{
		QuoteSvc:      nil,
		ExecSvc:       nil,
		SetupSvc:      nil,
		SettlementSvc: nil,
		MarketRepo:    nil,
		LedgerRepo:    nil,
		Hub:           nil,
		Cfg:           testCfg(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v — body: %s", err, rr.Body.String())
	}
	return m
}

var asUser = map[string]string{"X-User-ID": "7"}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

// ── CORS preflight ────────────────────────────────────────────────────────────

func TestCORSPreflight(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodOptions, "/api/trades/buy", "", map[string]string{
		"Origin": "http://localhost:3000",
	})
	if rr.Code != http.StatusNoContent {
		t.Errorf("OPTIONS preflight = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("dev-mode Allow-Origin = %q, want *", got)
	}
}

// ── Identity middleware (no header → 401) ─────────────────────────────────────

func TestBuy_NoIdentity_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"market_id":"11111111-1111-1111-1111-111111111111","option_id":1,"amount":"100.00"}`
	rr := do(t, h, http.MethodPost, "/api/trades/buy", payload, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/trades/buy without X-User-ID = %d, want 401", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("response.success should be false on error, got %v", body["success"])
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Errorf("error code = %v, want UNAUTHORIZED", body["code"])
	}
}

func TestSell_NoIdentity_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/trades/sell", `{"market_id":"x"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/trades/sell without X-User-ID = %d, want 401", rr.Code)
	}
}

func TestPortfolioBalance_NoIdentity_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/portfolio/balance", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/portfolio/balance without X-User-ID = %d, want 401", rr.Code)
	}
}

// ── Identity middleware (bad header → 401) ────────────────────────────────────

func TestBuy_MalformedIdentity_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	for _, bad := range []string{"abc", "-5", "0", "1.5"} {
		rr := do(t, h, http.MethodPost, "/api/trades/buy", `{}`, map[string]string{
			"X-User-ID": bad,
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("X-User-ID=%q = %d, want 401", bad, rr.Code)
		}
	}
}

// ── Trade endpoints — validation layer ────────────────────────────────────────

func TestBuy_MissingMarketID(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/trades/buy", `{}`, asUser)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("buy with empty body = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["code"] != "INVALID_PARAM" {
		t.Errorf("error code = %v, want INVALID_PARAM", body["code"])
	}
}

func TestBuy_BadMarketIDFormat(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"market_id":"not-a-uuid","option_id":1,"amount":"100.00"}`
	rr := do(t, h, http.MethodPost, "/api/trades/buy", payload, asUser)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("buy with bad market_id = %d, want 400", rr.Code)
	}
}

func TestBuy_BadDecimalAmount(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"market_id":"11111111-1111-1111-1111-111111111111","option_id":1,"amount":"ten"}`
	rr := do(t, h, http.MethodPost, "/api/trades/buy", payload, asUser)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("buy with non-decimal amount = %d, want 400", rr.Code)
	}
}

func TestSell_BadWalletIDFormat(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"market_id":"11111111-1111-1111-1111-111111111111","option_id":1,"shares":"5","wallet_id":"nope"}`
	rr := do(t, h, http.MethodPost, "/api/trades/sell", payload, asUser)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("sell with bad wallet_id = %d, want 400", rr.Code)
	}
}

// ── Quote endpoint — validation layer ─────────────────────────────────────────

func TestQuote_MissingSide(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/markets/11111111-1111-1111-1111-111111111111/quote?option_id=1&amount=100", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("quote without side = %d, want 400", rr.Code)
	}
}

func TestQuote_BadMarketID(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/markets/zzz/quote?side=buy&option_id=1&amount=100", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("quote with bad market id = %d, want 400", rr.Code)
	}
}

// ── Admin endpoints — validation layer ────────────────────────────────────────

func TestAdminCreateEvent_MissingTitle(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/admin/events", `{}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("create event without title = %d, want 400", rr.Code)
	}
}

func TestAdminResolve_MissingOptionIndex(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/admin/markets/11111111-1111-1111-1111-111111111111/resolve", `{}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("resolve without option_index = %d, want 400", rr.Code)
	}
}

// ── WS route is absent when no hub is wired ───────────────────────────────────

func TestWSRoute_DisabledWithoutHub(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/ws", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET /ws with nil hub = %d, want 404", rr.Code)
	}
}
