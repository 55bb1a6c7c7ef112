package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/internal/core"
	"github.com/binee108/signalbridge/internal/events"
	"github.com/binee108/signalbridge/internal/gateway"
	"github.com/binee108/signalbridge/internal/position"
	"github.com/binee108/signalbridge/internal/pricing"
	"github.com/binee108/signalbridge/internal/queue"
	"github.com/binee108/signalbridge/internal/record"
	"github.com/binee108/signalbridge/internal/sizing"
	"github.com/binee108/signalbridge/internal/symbols"
	"github.com/binee108/signalbridge/pkg/config"
	"github.com/binee108/signalbridge/pkg/crypto"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
	"github.com/binee108/signalbridge/pkg/exchanges/paper"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type testServer struct {
	*Server
	database *db.Database
	venue    *paper.Venue
}

// newTestServer builds a full HTTP surface over an in-memory database with a
// scripted paper venue behind the seeded account.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mustSeed := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	mustSeed(database.CreateUser(ctx, db.User{
		ID: "u1", Email: "owner@example.com", PasswordHash: "x", WebhookToken: "hook-1",
	}))
	mustSeed(database.CreateAccount(ctx, db.Account{
		ID: "acc1", UserID: "u1", Exchange: common.ExchangeBinance,
		AccountType: common.AccountCrypto, Name: "main",
		APIKeyEncrypted: "k", APISecretEncrypted: "s", KeyVersion: 1, IsActive: true,
	}))
	mustSeed(database.CreateStrategy(ctx, db.Strategy{
		ID: "st1", UserID: "u1", Name: "Alpha", GroupName: "alpha",
		MarketType: common.MarketFutures, IsActive: true,
	}))
	mustSeed(database.LinkStrategyAccount(ctx, db.StrategyAccount{
		ID: "sa1", StrategyID: "st1", AccountID: "acc1", Weight: 1, Leverage: 1, IsActive: true,
	}, d("10000")))

	venue := paper.New(common.MarketFutures)
	venue.SetPrice("BTC/USDT", d("100"))
	gateways := gateway.NewManager(database, nil, false)
	gateways.Register("acc1", common.MarketFutures, venue)

	prices := pricing.New(time.Second)
	bus := events.NewBus()
	emitter := events.NewEmitter(bus, database)

	cfg := &config.Config{
		MaxSignalWorkers:       4,
		BatchAccountTimeout:    5 * time.Second,
		MarketOrderRetryDelays: []time.Duration{time.Millisecond},
		MaxMarketOrderRetries:  1,
	}
	tradingCore := core.New(core.Deps{
		Cfg:       cfg,
		DB:        database,
		Gateways:  gateways,
		Prices:    prices,
		Sizing:    sizing.New(prices),
		Validator: symbols.NewValidator(nil),
		Queue:     queue.NewManager(database),
		Positions: position.NewManager(database, record.NewRecorder(database), emitter),
		Emitter:   emitter,
	})

	encryptor, err := crypto.NewEncryptor("test-secret-key", 1)
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	s := NewServer(database, tradingCore, bus, nil, encryptor, "test-secret", "node-test")
	return &testServer{Server: s, database: database, venue: venue}
}

func (ts *testServer) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	return w
}

func (ts *testServer) webhookLogCount(t *testing.T, status string) int {
	t.Helper()
	var n int
	err := ts.database.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM webhook_logs WHERE status = ?`, status).Scan(&n)
	if err != nil {
		t.Fatalf("count webhook logs: %v", err)
	}
	return n
}

func TestWebhookRejectsInvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if ts.webhookLogCount(t, "rejected") != 1 {
		t.Fatal("rejected payload must still be audited")
	}
}

func TestWebhookValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing group_name", map[string]any{
			"token": "hook-1", "symbol": "BTC/USDT", "order_type": "MARKET",
		}},
		{"missing token", map[string]any{
			"group_name": "alpha", "symbol": "BTC/USDT", "order_type": "MARKET",
		}},
		{"missing symbol", map[string]any{
			"group_name": "alpha", "test_mode": true, "order_type": "MARKET",
		}},
		{"missing order_type", map[string]any{
			"group_name": "alpha", "test_mode": true, "symbol": "BTC/USDT",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.post(t, "/webhook", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestWebhookExecutesSignal(t *testing.T) {
	ts := newTestServer(t)

	w := ts.post(t, "/webhook", map[string]any{
		"group_name": "alpha",
		"test_mode":  true,
		"symbol":     "BTC/USDT",
		"side":       "BUY",
		"order_type": "MARKET",
		"qty":        "1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp core.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Strategy != "alpha" {
		t.Fatalf("response = %+v", resp)
	}
	if ts.webhookLogCount(t, "processed") != 1 {
		t.Fatal("processed signal must be audited")
	}

	pos, err := ts.database.GetPosition(context.Background(), "sa1", "BTC/USDT")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos == nil || !pos.Quantity.Equal(d("1")) {
		t.Fatalf("position = %+v", pos)
	}
}

func TestWebhookBatchOrders(t *testing.T) {
	ts := newTestServer(t)

	w := ts.post(t, "/webhook", map[string]any{
		"group_name": "alpha",
		"test_mode":  true,
		"orders": []map[string]any{
			{"symbol": "BTC/USDT", "side": "BUY", "order_type": "MARKET", "qty": "1"},
			{"symbol": "BTC/USDT", "side": "BUY", "order_type": "LIMIT", "qty": "1", "price": "95"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp core.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 || len(resp.Results[0].Results) != 2 {
		t.Fatalf("results = %+v", resp.Results)
	}
	if !resp.Results[0].Results[1].Queued {
		t.Fatalf("limit leg should queue: %+v", resp.Results[0].Results[1])
	}
}

func TestWebhookUnknownStrategyReturns422(t *testing.T) {
	ts := newTestServer(t)

	w := ts.post(t, "/webhook", map[string]any{
		"group_name": "ghost",
		"test_mode":  true,
		"symbol":     "BTC/USDT",
		"side":       "BUY",
		"order_type": "MARKET",
		"qty":        "1",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
	if ts.webhookLogCount(t, "failed") != 1 {
		t.Fatal("failed signal must be audited")
	}
}

func TestAuthRegisterLoginAndProtectedRoute(t *testing.T) {
	ts := newTestServer(t)

	w := ts.post(t, "/api/auth/register", map[string]any{
		"email": "trader@example.com", "password": "hunter22",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}
	var reg struct {
		UserID       string `json:"user_id"`
		WebhookToken string `json:"webhook_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if reg.UserID == "" || reg.WebhookToken == "" {
		t.Fatalf("register response = %s", w.Body.String())
	}

	// Duplicate registration conflicts.
	if w := ts.post(t, "/api/auth/register", map[string]any{
		"email": "trader@example.com", "password": "hunter22",
	}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d", w.Code)
	}

	w = ts.post(t, "/api/auth/login", map[string]any{
		"email": "trader@example.com", "password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	if w := ts.post(t, "/api/auth/login", map[string]any{
		"email": "trader@example.com", "password": "wrong",
	}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", w.Code)
	}

	// The minted JWT opens protected routes.
	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()
	ts.Engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("protected status = %d: %s", rec.Code, rec.Body.String())
	}

	// Without it the route is closed.
	req = httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	rec = httptest.NewRecorder()
	ts.Engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status string `json:"status"`
		NodeID string `json:"node_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.NodeID != "node-test" {
		t.Fatalf("body = %+v", body)
	}
}
