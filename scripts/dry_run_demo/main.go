package main

import (
	"context"
	"log"
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
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
	"github.com/binee108/signalbridge/pkg/exchanges/paper"
)

// dry_run_demo runs a few signal flows end to end against the in-memory paper
// venue. It does not touch a real exchange; the database is in-memory too.
//
// Usage:
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) Fill a MARKET BUY and show the opened position.
//   2) Exit with a MARKET SELL at a higher scripted price and show realized PnL.
//   3) Admit a LIMIT order into the pending queue.

func main() {
	log.Println("=== dry-run demo starting ===")

	ctx := context.Background()

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	seed(ctx, database)

	venue := paper.New(common.MarketFutures)
	venue.SetPrice("BTC/USDT", dec("100"))

	gateways := gateway.NewManager(database, nil, false)
	gateways.Register("demo-account", common.MarketFutures, venue)

	prices := pricing.New(10 * time.Second)
	bus := events.NewBus()
	emitter := events.NewEmitter(bus, database)

	cfg := &config.Config{
		MaxSignalWorkers:       4,
		BatchAccountTimeout:    10 * time.Second,
		MarketOrderRetryDelays: []time.Duration{50 * time.Millisecond},
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

	log.Println("[scenario 1] MARKET BUY 0.5 BTC/USDT at 100")
	run(ctx, tradingCore, core.Signal{
		GroupName: "demo",
		TestMode:  true,
		Intents: []core.OrderIntent{{
			Symbol: "BTC/USDT", Side: common.SideBuy,
			OrderType: common.OrderTypeMarket, Qty: dec("0.5"),
		}},
	})
	printPosition(ctx, database)

	log.Println("[scenario 2] price moves to 110, MARKET SELL closes the position")
	venue.SetPrice("BTC/USDT", dec("110"))
	run(ctx, tradingCore, core.Signal{
		GroupName: "demo",
		TestMode:  true,
		Intents: []core.OrderIntent{{
			Symbol: "BTC/USDT", Side: common.SideSell,
			OrderType: common.OrderTypeMarket, Qty: dec("0.5"),
		}},
	})
	printPosition(ctx, database)
	cap, _ := database.GetStrategyCapital(ctx, "demo-link")
	log.Printf("  capital after exit: allocated=%s realized=%s", cap.AllocatedCapital, cap.CurrentPnL)

	log.Println("[scenario 3] LIMIT BUY admitted to the pending queue")
	run(ctx, tradingCore, core.Signal{
		GroupName: "demo",
		TestMode:  true,
		Intents: []core.OrderIntent{{
			Symbol: "BTC/USDT", Side: common.SideBuy,
			OrderType: common.OrderTypeLimit, Qty: dec("0.5"), Price: dec("95"),
		}},
	})
	n, _ := database.CountPendingOrders(ctx, "demo-link")
	log.Printf("  pending orders queued: %d", n)

	log.Println("=== dry-run demo finished ===")
}

func run(ctx context.Context, c *core.Core, sig core.Signal) {
	resp := c.Execute(ctx, sig, 0)
	log.Printf("  success=%v accounts=%d ok=%d failed=%d (%.2fms)",
		resp.Success, resp.Summary.TotalAccounts, resp.Summary.SuccessfulTrades,
		resp.Summary.FailedTrades, resp.PerformanceMetrics.TotalProcessingTimeMs)
	for _, ar := range resp.Results {
		for _, ir := range ar.Results {
			log.Printf("  %s %s -> status=%s queued=%v order_id=%s %s",
				ar.AccountName, ir.OrderType, ir.Status, ir.Queued, ir.OrderID, ir.Error)
		}
	}
}

func printPosition(ctx context.Context, database *db.Database) {
	pos, err := database.GetPosition(ctx, "demo-link", "BTC/USDT")
	if err != nil {
		log.Printf("  position lookup: %v", err)
		return
	}
	if pos == nil {
		log.Printf("  position: none")
		return
	}
	log.Printf("  position: qty=%s entry=%s", pos.Quantity, pos.EntryPrice)
}

func seed(ctx context.Context, database *db.Database) {
	steps := []error{
		database.CreateUser(ctx, db.User{
			ID: "demo-user", Email: "demo@example.com", PasswordHash: "x", WebhookToken: "demo-token",
		}),
		database.CreateAccount(ctx, db.Account{
			ID: "demo-account", UserID: "demo-user", Exchange: common.ExchangeBinance,
			AccountType: common.AccountCrypto, Name: "demo",
			APIKeyEncrypted: "k", APISecretEncrypted: "s", KeyVersion: 1, IsActive: true,
		}),
		database.CreateStrategy(ctx, db.Strategy{
			ID: "demo-strategy", UserID: "demo-user", Name: "Demo", GroupName: "demo",
			MarketType: common.MarketFutures, IsActive: true,
		}),
		database.LinkStrategyAccount(ctx, db.StrategyAccount{
			ID: "demo-link", StrategyID: "demo-strategy", AccountID: "demo-account",
			Weight: 1, Leverage: 1, IsActive: true,
		}, dec("10000")),
	}
	for _, err := range steps {
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
	}
}

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}
