package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/binee108/signalbridge/internal/api"
	"github.com/binee108/signalbridge/internal/core"
	"github.com/binee108/signalbridge/internal/events"
	"github.com/binee108/signalbridge/internal/gateway"
	"github.com/binee108/signalbridge/internal/position"
	"github.com/binee108/signalbridge/internal/pricing"
	"github.com/binee108/signalbridge/internal/queue"
	"github.com/binee108/signalbridge/internal/record"
	"github.com/binee108/signalbridge/internal/sizing"
	"github.com/binee108/signalbridge/internal/summary"
	"github.com/binee108/signalbridge/internal/symbols"
	"github.com/binee108/signalbridge/internal/wspool"
	"github.com/binee108/signalbridge/pkg/config"
	"github.com/binee108/signalbridge/pkg/crypto"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: load config: %v", err)
	}
	log.Printf("main: starting node %s on port %s", cfg.NodeID, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("main: open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("main: apply migrations: %v", err)
	}

	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey, 1)
		if err != nil {
			log.Fatalf("main: init encryptor: %v", err)
		}
	} else {
		log.Println("main: WARNING no ENCRYPTION_KEY set; account credentials cannot be stored or used")
	}

	gateways := gateway.NewManager(database, encryptor, cfg.Testnet)
	prices := pricing.New(cfg.PriceCacheTTL)

	overrides, err := symbols.LoadRules(cfg.SymbolRulesPath)
	if err != nil {
		log.Fatalf("main: load symbol rules: %v", err)
	}
	validator := symbols.NewValidator(overrides)

	bus := events.NewBus()
	emitter := events.NewEmitter(bus, database)
	recorder := record.NewRecorder(database)
	recorder.AddHook(summary.TradeHook(database))
	positions := position.NewManager(database, recorder, emitter)
	orderQueue := queue.NewManager(database)

	// The pool is built before the core so the core can feed price updates
	// through it; private fills route back via the closure below.
	var tradingCore *core.Core
	pool := wspool.NewPool(ctx, prices, func(ctx context.Context, accountID string, res common.OrderResult) {
		tradingCore.HandlePrivateFill(ctx, accountID, res)
	})

	tradingCore = core.New(core.Deps{
		Cfg:       cfg,
		DB:        database,
		Gateways:  gateways,
		Prices:    prices,
		Sizing:    sizing.New(prices),
		Validator: validator,
		Queue:     orderQueue,
		Positions: positions,
		Emitter:   emitter,
		Pool:      pool,
	})

	// Background jobs
	orderQueue.StartRebalancer(ctx, cfg.RebalanceInterval, tradingCore.ResolveCapacity, tradingCore.PromotePending)
	tradingCore.Orders().StartReconciler(ctx, cfg.ReconcileInterval)
	tradingCore.StartCapitalRefresh(ctx, cfg.CapitalAutoRefresh)
	pool.StartHealthCheck(30 * time.Second)
	go func() {
		ticker := time.NewTicker(cfg.PriceCacheTTL * 6)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := prices.Cleanup(cfg.PriceCacheTTL * 6); n > 0 {
					log.Printf("main: evicted %d stale price entries", n)
				}
			}
		}
	}()

	summaries := summary.NewService(database, gateways)
	if err := summaries.Start(ctx, cfg.DailySummaryCronSpec); err != nil {
		log.Fatalf("main: schedule daily summaries: %v", err)
	}
	defer summaries.Stop()

	server := api.NewServer(database, tradingCore, bus, pool, encryptor, cfg.JWTSecret, cfg.NodeID)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("main: api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("main: shutting down")

	cancel()
	pool.Shutdown()
}
