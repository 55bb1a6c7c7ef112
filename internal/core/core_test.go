package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/internal/events"
	"github.com/binee108/signalbridge/internal/gateway"
	"github.com/binee108/signalbridge/internal/position"
	"github.com/binee108/signalbridge/internal/pricing"
	"github.com/binee108/signalbridge/internal/queue"
	"github.com/binee108/signalbridge/internal/record"
	"github.com/binee108/signalbridge/internal/sizing"
	"github.com/binee108/signalbridge/internal/symbols"
	"github.com/binee108/signalbridge/pkg/config"
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

type fixture struct {
	database *db.Database
	bus      *events.Bus
	venue    *paper.Venue
	gateways *gateway.Manager
	core     *Core
}

// newFixture builds a core wired to an in-memory database and a scripted
// paper venue, seeded with one user, one account and one futures strategy.
func newFixture(t *testing.T) *fixture {
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

	seed(t, database.CreateUser(ctx, db.User{
		ID: "u1", Email: "owner@example.com", PasswordHash: "x", WebhookToken: "hook-1",
	}))
	seed(t, database.CreateAccount(ctx, db.Account{
		ID: "acc1", UserID: "u1", Exchange: common.ExchangeBinance,
		AccountType: common.AccountCrypto, Name: "main",
		APIKeyEncrypted: "k", APISecretEncrypted: "s", KeyVersion: 1, IsActive: true,
	}))
	seed(t, database.CreateStrategy(ctx, db.Strategy{
		ID: "st1", UserID: "u1", Name: "Alpha", GroupName: "alpha",
		MarketType: common.MarketFutures, IsActive: true,
	}))
	seed(t, database.LinkStrategyAccount(ctx, db.StrategyAccount{
		ID: "sa1", StrategyID: "st1", AccountID: "acc1", Weight: 1, Leverage: 1, IsActive: true,
	}, d("10000")))

	venue := paper.New(common.MarketFutures)
	venue.SetPrice("BTC/USDT", d("100"))

	gateways := gateway.NewManager(database, nil, false)
	gateways.Register("acc1", common.MarketFutures, venue)

	prices := pricing.New(time.Second)
	bus := events.NewBus()
	emitter := events.NewEmitter(bus, database)
	recorder := record.NewRecorder(database)

	cfg := &config.Config{
		MaxSignalWorkers:       4,
		BatchAccountTimeout:    5 * time.Second,
		MarketOrderRetryDelays: []time.Duration{time.Millisecond, time.Millisecond},
		MaxMarketOrderRetries:  2,
	}

	c := New(Deps{
		Cfg:       cfg,
		DB:        database,
		Gateways:  gateways,
		Prices:    prices,
		Sizing:    sizing.New(prices),
		Validator: symbols.NewValidator(nil),
		Queue:     queue.NewManager(database),
		Positions: position.NewManager(database, recorder, emitter),
		Emitter:   emitter,
	})

	return &fixture{database: database, bus: bus, venue: venue, gateways: gateways, core: c}
}

func seed(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func marketSignal(qty string) Signal {
	return Signal{
		GroupName: "alpha",
		TestMode:  true,
		Intents: []OrderIntent{{
			Symbol:    "BTC/USDT",
			Side:      common.SideBuy,
			OrderType: common.OrderTypeMarket,
			Qty:       d(qty),
		}},
	}
}

func TestExecuteMarketOrderFillsAndOpensPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.core.Execute(ctx, marketSignal("1"), 0)
	if !resp.Success {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Strategy != "alpha" || resp.MarketType != common.MarketFutures {
		t.Fatalf("strategy echo = %s/%s", resp.Strategy, resp.MarketType)
	}
	if len(resp.Results) != 1 || !resp.Results[0].Success {
		t.Fatalf("results = %+v", resp.Results)
	}
	ir := resp.Results[0].Results[0]
	if ir.Status != string(common.StatusFilled) || ir.OrderID == "" {
		t.Fatalf("intent result = %+v", ir)
	}

	pos, err := f.database.GetPosition(ctx, "sa1", "BTC/USDT")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos == nil || !pos.Quantity.Equal(d("1")) || !pos.EntryPrice.Equal(d("100")) {
		t.Fatalf("position = %+v", pos)
	}

	trades, err := f.database.ListTradesByAccount(ctx, "sa1", 0)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trade count = %d, want 1", len(trades))
	}
}

func TestExecuteStrategyNotFound(t *testing.T) {
	f := newFixture(t)

	sig := marketSignal("1")
	sig.GroupName = "ghost"
	resp := f.core.Execute(context.Background(), sig, 0)
	if resp.Success {
		t.Fatal("unknown strategy must fail")
	}
	if resp.Results[0].ErrorType != "auth_error" {
		t.Fatalf("error type = %s", resp.Results[0].ErrorType)
	}
}

func TestExecuteStrategyInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed(t, f.database.CreateStrategy(ctx, db.Strategy{
		ID: "st2", UserID: "u1", Name: "Paused", GroupName: "paused",
		MarketType: common.MarketFutures, IsActive: false,
	}))

	sig := marketSignal("1")
	sig.GroupName = "paused"
	resp := f.core.Execute(ctx, sig, 0)
	if resp.Success {
		t.Fatal("inactive strategy must fail")
	}
	if resp.Results[0].ErrorType != "auth_error" {
		t.Fatalf("error type = %s", resp.Results[0].ErrorType)
	}
}

func TestExecuteTokenAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := marketSignal("1")
	sig.TestMode = false
	sig.Token = "wrong"
	resp := f.core.Execute(ctx, sig, 0)
	if resp.Success {
		t.Fatal("bad token must fail")
	}
	if resp.Results[0].ErrorType != "auth_error" {
		t.Fatalf("error type = %s", resp.Results[0].ErrorType)
	}

	sig.Token = "hook-1"
	resp = f.core.Execute(ctx, sig, 0)
	if !resp.Success {
		t.Fatalf("owner token rejected: %+v", resp.Results)
	}
}

func TestExecuteLimitOrderIsQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, unsub := f.bus.Subscribe("u1", 16)
	defer unsub()

	sig := Signal{
		GroupName: "alpha",
		TestMode:  true,
		Intents: []OrderIntent{{
			Symbol:    "BTC/USDT",
			Side:      common.SideBuy,
			OrderType: common.OrderTypeLimit,
			Qty:       d("1"),
			Price:     d("95"),
		}},
	}
	resp := f.core.Execute(ctx, sig, 0)
	if !resp.Success {
		t.Fatalf("response = %+v", resp.Results)
	}
	ir := resp.Results[0].Results[0]
	if !ir.Queued || ir.Priority != 3 || ir.Status != "QUEUED" {
		t.Fatalf("intent result = %+v", ir)
	}

	// The admission must be committed, not just reported.
	n, err := f.database.CountPendingOrders(ctx, "sa1")
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if n != 1 {
		t.Fatalf("pending rows = %d, want 1", n)
	}

	// Nothing reached the venue on the webhook path.
	open, err := f.venue.FetchOpenOrders(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("venue open orders: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("venue orders = %+v, want none", open)
	}

	// The committed admission still announces itself on the stream.
	var queued *events.OrderEvent
	for done := false; !done; {
		select {
		case env := <-ch:
			if env.Type == events.TypeOrderCreated {
				if ev, ok := env.Payload.(events.OrderEvent); ok {
					queued = &ev
				}
			}
		default:
			done = true
		}
	}
	if queued == nil {
		t.Fatal("expected an order_created event for the queued admission")
	}
	if queued.Status != common.StatusPending || queued.Symbol != "BTC/USDT" {
		t.Fatalf("queued event = %+v", queued)
	}
}

func TestExecuteSummaryCountsInactiveLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed(t, f.database.CreateAccount(ctx, db.Account{
		ID: "acc2", UserID: "u1", Exchange: common.ExchangeBinance,
		AccountType: common.AccountCrypto, Name: "dormant",
		APIKeyEncrypted: "k", APISecretEncrypted: "s", KeyVersion: 1, IsActive: true,
	}))
	seed(t, f.database.LinkStrategyAccount(ctx, db.StrategyAccount{
		ID: "sa2", StrategyID: "st1", AccountID: "acc2", Weight: 1, Leverage: 1, IsActive: false,
	}, d("5000")))

	resp := f.core.Execute(ctx, marketSignal("1"), 0)
	if !resp.Success {
		t.Fatalf("response = %+v", resp.Results)
	}
	s := resp.Summary
	if s.TotalAccounts != 2 || s.InactiveAccounts != 1 || s.ExecutedAccounts != 1 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestExecuteVenueRejection(t *testing.T) {
	f := newFixture(t)
	f.venue.NextCreateErr = errors.New("insufficient margin")

	resp := f.core.Execute(context.Background(), marketSignal("1"), 0)
	if resp.Success {
		t.Fatal("venue rejection must fail the signal")
	}
	if resp.Results[0].ErrorType != "exchange_error" {
		t.Fatalf("error type = %s", resp.Results[0].ErrorType)
	}
	if resp.Summary.FailedTrades != 1 || resp.Summary.SuccessfulTrades != 0 {
		t.Fatalf("summary = %+v", resp.Summary)
	}
}

func TestExecuteQuantityError(t *testing.T) {
	f := newFixture(t)

	sig := Signal{
		GroupName: "alpha",
		TestMode:  true,
		Intents: []OrderIntent{{
			Symbol:    "BTC/USDT",
			Side:      common.SideSell,
			OrderType: common.OrderTypeMarket,
			QtyPer:    d("-100"), // exit with no open position
		}},
	}
	resp := f.core.Execute(context.Background(), sig, 0)
	if resp.Success {
		t.Fatal("exit without a position must fail")
	}
	if resp.Results[0].ErrorType != "quantity_calculation_error" {
		t.Fatalf("error type = %s", resp.Results[0].ErrorType)
	}
}

func TestExecuteMarketFillAfterPolling(t *testing.T) {
	f := newFixture(t)
	f.venue.MarketFillPolls = 1 // fill on the first re-fetch, not on submit

	resp := f.core.Execute(context.Background(), marketSignal("1"), 0)
	if !resp.Success {
		t.Fatalf("response = %+v", resp.Results)
	}
	ir := resp.Results[0].Results[0]
	if ir.Status != string(common.StatusFilled) {
		t.Fatalf("status = %s, want FILLED after polling", ir.Status)
	}

	pos, _ := f.database.GetPosition(context.Background(), "sa1", "BTC/USDT")
	if pos == nil || !pos.Quantity.Equal(d("1")) {
		t.Fatalf("position = %+v", pos)
	}
}

func TestExecuteFanOutAcrossAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed(t, f.database.CreateAccount(ctx, db.Account{
		ID: "acc2", UserID: "u1", Exchange: common.ExchangeBinance,
		AccountType: common.AccountCrypto, Name: "second",
		APIKeyEncrypted: "k", APISecretEncrypted: "s", KeyVersion: 1, IsActive: true,
	}))
	seed(t, f.database.LinkStrategyAccount(ctx, db.StrategyAccount{
		ID: "sa2", StrategyID: "st1", AccountID: "acc2", Weight: 1, Leverage: 1, IsActive: true,
	}, d("5000")))

	second := paper.New(common.MarketFutures)
	second.SetPrice("BTC/USDT", d("100"))
	f.gateways.Register("acc2", common.MarketFutures, second)

	ch, unsub := f.bus.Subscribe("u1", 16)
	defer unsub()

	resp := f.core.Execute(ctx, marketSignal("1"), 0)
	if !resp.Success {
		t.Fatalf("response = %+v", resp.Results)
	}
	if resp.Summary.TotalAccounts != 2 || resp.Summary.SuccessfulTrades != 2 {
		t.Fatalf("summary = %+v", resp.Summary)
	}

	for _, said := range []string{"sa1", "sa2"} {
		pos, _ := f.database.GetPosition(ctx, said, "BTC/USDT")
		if pos == nil || !pos.Quantity.Equal(d("1")) {
			t.Fatalf("%s position = %+v", said, pos)
		}
	}

	// Two successful accounts produce a batch summary event.
	sawBatch := false
	for done := false; !done; {
		select {
		case env := <-ch:
			if env.Type == events.TypeOrderBatch {
				sawBatch = true
			}
		default:
			done = true
		}
	}
	if !sawBatch {
		t.Fatal("expected a batch event for a multi-account fill")
	}
}

func TestPromotePendingSubmitsAndTracks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := db.PendingOrder{
		ID:                "p1",
		StrategyAccountID: "sa1",
		Symbol:            "BTC/USDT",
		Side:              common.SideBuy,
		OrderType:         common.OrderTypeLimit,
		Quantity:          d("1"),
		Price:             d("95"),
		Priority:          3,
		Reason:            "webhook",
	}
	if err := f.database.InsertPendingOrder(ctx, nil, p); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	if !f.core.PromotePending(ctx, p) {
		t.Fatal("promotion should succeed")
	}

	open, err := f.database.ListOpenOrders(ctx, db.OpenOrderFilter{StrategyAccountID: "sa1"})
	if err != nil {
		t.Fatalf("list open orders: %v", err)
	}
	if len(open) != 1 || open[0].Symbol != "BTC/USDT" {
		t.Fatalf("open orders = %+v", open)
	}

	venueOpen, _ := f.venue.FetchOpenOrders(ctx, "BTC/USDT")
	if len(venueOpen) != 1 {
		t.Fatalf("venue orders = %+v, want the promoted limit", venueOpen)
	}
}

func TestHandlePrivateFillAppliesToPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := db.PendingOrder{
		ID: "p1", StrategyAccountID: "sa1", Symbol: "BTC/USDT",
		Side: common.SideBuy, OrderType: common.OrderTypeLimit,
		Quantity: d("1"), Price: d("95"), Priority: 3, Reason: "webhook",
	}
	if err := f.database.InsertPendingOrder(ctx, nil, p); err != nil {
		t.Fatalf("insert pending: %v", err)
	}
	if !f.core.PromotePending(ctx, p) {
		t.Fatal("promotion should succeed")
	}
	open, _ := f.database.ListOpenOrders(ctx, db.OpenOrderFilter{StrategyAccountID: "sa1"})
	if len(open) != 1 {
		t.Fatalf("open orders = %+v", open)
	}

	fill := common.OrderResult{
		ExchangeOrderID: open[0].ExchangeOrderID,
		Symbol:          "BTC/USDT",
		Side:            common.SideBuy,
		Type:            common.OrderTypeLimit,
		Status:          common.StatusFilled,
		FilledQuantity:  d("1"),
		AveragePrice:    d("95"),
	}
	f.core.HandlePrivateFill(ctx, "acc1", fill)

	pos, _ := f.database.GetPosition(ctx, "sa1", "BTC/USDT")
	if pos == nil || !pos.Quantity.Equal(d("1")) || !pos.EntryPrice.Equal(d("95")) {
		t.Fatalf("position = %+v", pos)
	}
}

func TestRefreshCapitalFromVenueBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Settlement currencies count toward capital; base assets do not.
	f.venue.SetBalances([]common.Balance{
		{Asset: "USDT", Free: d("1500"), Locked: d("500")},
		{Asset: "BTC", Free: d("2")},
	})

	f.core.RefreshCapital(ctx)

	capital, err := f.database.GetStrategyCapital(ctx, "sa1")
	if err != nil {
		t.Fatalf("capital: %v", err)
	}
	if !capital.AllocatedCapital.Equal(d("2000")) {
		t.Fatalf("allocated = %s, want 2000", capital.AllocatedCapital)
	}
}
