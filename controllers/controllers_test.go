package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"options-market/interfaces"
	"options-market/services"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	engine   = "0xengine"
	usdc     = "0xusdc"
	weth     = "0xweth"
	treasury = "0xtreasury"
	alice    = "0xa11ce"
	bob      = "0xb0b"
)

type testServer struct {
	router *gin.Engine
	market *services.OptionsMarket
}

func newTestServer(t *testing.T, faucet bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	tokens := services.NewLedgerTokens(nil)
	for _, addr := range []string{usdc, weth} {
		if _, err := tokens.Register(ctx, addr); err != nil {
			t.Fatalf("register %s: %v", addr, err)
		}
	}

	reg := prometheus.NewRegistry()
	metrics, err := services.NewMarketMetrics(reg)
	if err != nil {
		t.Fatalf("NewMarketMetrics: %v", err)
	}

	market, err := services.NewOptionsMarket(ctx, services.MarketConfig{
		EngineAddress: engine,
		TradeCurrency: usdc,
		Treasury:      treasury,
		FeePercent:    3,
	}, tokens.Custodian(engine), nil, metrics)
	if err != nil {
		t.Fatalf("NewOptionsMarket: %v", err)
	}
	t.Cleanup(market.Close)

	journal, err := services.NewEventJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewEventJournal: %v", err)
	}

	router := NewRouter(&Handlers{
		Options: NewOptionController(market),
		Trades:  NewTradeController(market),
		Tokens:  NewTokenController(tokens, engine, faucet),
		Market:  NewMarketController(market),
		Journal: NewJournalController(journal),
		Metrics: reg,
	})
	return &testServer{router: router, market: market}
}

func (s *testServer) do(t *testing.T, method, path, account string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := make(map[string]any)
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: response is not a JSON object: %s", method, path, w.Body.String())
		}
	}
	return w.Code, out
}

func (s *testServer) expect(t *testing.T, method, path, account string, body any, want int) map[string]any {
	t.Helper()
	code, out := s.do(t, method, path, account, body)
	if code != want {
		t.Fatalf("%s %s: got %d, want %d (%v)", method, path, code, want, out)
	}
	return out
}

func (s *testServer) fund(t *testing.T, token, account, amount string) {
	t.Helper()
	s.expect(t, http.MethodPost, "/tokens/"+token+"/mint", "", gin.H{"account": account, "amount": amount}, http.StatusOK)
	s.expect(t, http.MethodPost, "/tokens/"+token+"/approve", account, gin.H{"amount": amount}, http.StatusOK)
}

func balanceOf(t *testing.T, s *testServer, token, account string) string {
	t.Helper()
	out := s.expect(t, http.MethodGet, "/tokens/"+token+"/balance/"+account, "", nil, http.StatusOK)
	return out["balance"].(string)
}

func TestOptionTradeFlow(t *testing.T) {
	s := newTestServer(t, true)
	s.fund(t, weth, alice, "10")
	s.fund(t, usdc, bob, "1000")

	expiry := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	out := s.expect(t, http.MethodPost, "/options", alice, gin.H{
		"kind":             "call",
		"expiry":           expiry,
		"underlying_token": weth,
		"amount":           "10",
		"strike_price":     "20",
	}, http.StatusCreated)
	option := out["option"].(map[string]any)
	if option["kind"] != "call" || option["owner"] != alice || option["status"] != "none" {
		t.Fatalf("option: %v", option)
	}

	out = s.expect(t, http.MethodPost, "/trades", alice, gin.H{"option_id": 0, "premium": "200"}, http.StatusCreated)
	if trade := out["trade"].(map[string]any); trade["status"] != "open" {
		t.Fatalf("trade: %v", trade)
	}

	s.expect(t, http.MethodPost, "/trades/0/execute", bob, nil, http.StatusOK)

	out = s.expect(t, http.MethodGet, "/options/0/owner", "", nil, http.StatusOK)
	if out["owner"] != bob {
		t.Fatalf("owner: %v", out)
	}
	if got := balanceOf(t, s, usdc, alice); got != "194" {
		t.Fatalf("alice usdc after sale: got %s, want 194", got)
	}

	s.expect(t, http.MethodPost, "/options/0/exercise", alice, nil, http.StatusForbidden)
	s.expect(t, http.MethodPost, "/options/0/exercise", bob, nil, http.StatusOK)
	s.expect(t, http.MethodPost, "/options/0/exercise", bob, nil, http.StatusConflict)

	if got := balanceOf(t, s, weth, bob); got != "10" {
		t.Fatalf("bob weth: got %s, want 10", got)
	}

	out = s.expect(t, http.MethodGet, "/market/fees", "", nil, http.StatusOK)
	if out["balance"] != "6" {
		t.Fatalf("fees: %v", out)
	}
	s.expect(t, http.MethodPost, "/market/fees/withdraw", bob, nil, http.StatusForbidden)
	out = s.expect(t, http.MethodPost, "/market/fees/withdraw", treasury, nil, http.StatusOK)
	if out["amount"] != "6" {
		t.Fatalf("withdrawn: %v", out)
	}

	out = s.expect(t, http.MethodGet, "/events?name=TradeExecuted", "", nil, http.StatusOK)
	if out["count"].(float64) != 1 {
		t.Fatalf("executed events: %v", out)
	}
	out = s.expect(t, http.MethodGet, "/events?limit=1", "", nil, http.StatusOK)
	if out["count"].(float64) != 1 || out["head"].(float64) != 3 {
		t.Fatalf("event page: %v", out)
	}
}

func TestMutationsRequireAccountHeader(t *testing.T) {
	s := newTestServer(t, true)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/options"},
		{http.MethodPost, "/options/0/exercise"},
		{http.MethodPost, "/options/0/collect"},
		{http.MethodPost, "/trades"},
		{http.MethodPost, "/trades/0/execute"},
		{http.MethodDelete, "/trades/0"},
		{http.MethodPost, "/market/fees/withdraw"},
		{http.MethodPost, "/tokens/" + usdc + "/approve"},
		{http.MethodPost, "/tokens/" + usdc + "/transfer"},
	}
	for _, r := range routes {
		if code, _ := s.do(t, r.method, r.path, "", nil); code != http.StatusUnauthorized {
			t.Errorf("%s %s: got %d, want 401", r.method, r.path, code)
		}
	}
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t, true)
	s.fund(t, weth, alice, "10")

	expiry := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	write := func(kind, token, amount string) gin.H {
		return gin.H{"kind": kind, "expiry": expiry, "underlying_token": token, "amount": amount, "strike_price": "20"}
	}

	tests := []struct {
		name    string
		method  string
		path    string
		account string
		body    any
		want    int
	}{
		{"unknown option", http.MethodGet, "/options/7", "", nil, http.StatusNotFound},
		{"bad option id", http.MethodGet, "/options/abc", "", nil, http.StatusBadRequest},
		{"unknown token", http.MethodGet, "/tokens/0xnope/balance/" + alice, "", nil, http.StatusNotFound},
		{"bad kind", http.MethodPost, "/options", alice, write("straddle", weth, "1"), http.StatusBadRequest},
		{"missing amount", http.MethodPost, "/options", alice, gin.H{"kind": "call", "expiry": expiry, "underlying_token": weth}, http.StatusBadRequest},
		{"zero amount", http.MethodPost, "/options", alice, write("call", weth, "0"), http.StatusBadRequest},
		{"unregistered underlying", http.MethodPost, "/options", alice, write("call", "0xnope", "1"), http.StatusNotFound},
		{"no allowance", http.MethodPost, "/options", bob, write("call", weth, "1"), http.StatusPaymentRequired},
		{"unknown trade", http.MethodPost, "/trades/9/execute", bob, nil, http.StatusNotFound},
		{"trade without option", http.MethodPost, "/trades", alice, gin.H{"premium": "1"}, http.StatusBadRequest},
		{"bad event filter", http.MethodGet, "/events?option_id=x", "", nil, http.StatusBadRequest},
		{"bad journal date", http.MethodGet, "/journal/yesterday", "", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.expect(t, tt.method, tt.path, tt.account, tt.body, tt.want)
		})
	}
}

func TestStatusForUnwrapsErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{interfaces.ErrNotPoster, http.StatusForbidden},
		{interfaces.ErrExpired, http.StatusConflict},
		{interfaces.ErrInsufficientCustody, http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v): got %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFaucetDisabled(t *testing.T) {
	s := newTestServer(t, false)
	s.expect(t, http.MethodPost, "/tokens/"+usdc+"/mint", "", gin.H{"account": alice, "amount": "5"}, http.StatusForbidden)
}

func TestTransferAndAllowance(t *testing.T) {
	s := newTestServer(t, true)
	s.fund(t, usdc, alice, "50")

	out := s.expect(t, http.MethodGet, "/tokens/"+usdc+"/allowance/"+alice, "", nil, http.StatusOK)
	if out["spender"] != engine || out["allowance"] != "50" {
		t.Fatalf("allowance: %v", out)
	}

	s.expect(t, http.MethodPost, "/tokens/"+usdc+"/transfer", alice, gin.H{"to": bob, "amount": "60"}, http.StatusPaymentRequired)
	s.expect(t, http.MethodPost, "/tokens/"+usdc+"/transfer", alice, gin.H{"to": bob, "amount": "20"}, http.StatusOK)
	if got := balanceOf(t, s, usdc, bob); got != "20" {
		t.Fatalf("bob: got %s, want 20", got)
	}

	out = s.expect(t, http.MethodGet, "/tokens", "", nil, http.StatusOK)
	if out["count"].(float64) != 2 {
		t.Fatalf("tokens: %v", out)
	}
}

func TestEngineCustodyNotMovableOverHTTP(t *testing.T) {
	s := newTestServer(t, true)
	s.fund(t, weth, alice, "10")
	s.expect(t, http.MethodPost, "/options", alice, gin.H{
		"kind":             "call",
		"expiry":           time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"underlying_token": weth,
		"amount":           "10",
		"strike_price":     "20",
	}, http.StatusCreated)

	s.expect(t, http.MethodPost, "/tokens/"+weth+"/transfer", engine, gin.H{"to": bob, "amount": "10"}, http.StatusForbidden)
	s.expect(t, http.MethodPost, "/tokens/"+weth+"/approve", engine, gin.H{"spender": bob, "amount": "10"}, http.StatusForbidden)

	if got := balanceOf(t, s, weth, engine); got != "10" {
		t.Fatalf("engine weth: got %s, want 10", got)
	}
	if got := balanceOf(t, s, weth, bob); got != "0" {
		t.Fatalf("bob weth: got %s, want 0", got)
	}
	out := s.expect(t, http.MethodGet, "/tokens/"+weth+"/allowance/"+engine+"?spender="+bob, "", nil, http.StatusOK)
	if out["allowance"] != "0" {
		t.Fatalf("engine allowance: %v", out)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, true)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health: got %d", w.Code)
	}

	s.do(t, http.MethodGet, "/options/0", "", nil)
	s.expect(t, http.MethodGet, "/trades", "", nil, http.StatusOK)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "options_market_open_trades") {
		t.Fatalf("metrics output missing market gauges")
	}
}
