// Package core orchestrates signal execution: strategy resolution, token
// authorization, bounded fan-out across strategy accounts, and aggregation of
// per-account outcomes into the webhook response.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/binee108/signalbridge/internal/events"
	"github.com/binee108/signalbridge/internal/gateway"
	"github.com/binee108/signalbridge/internal/orders"
	"github.com/binee108/signalbridge/internal/position"
	"github.com/binee108/signalbridge/internal/pricing"
	"github.com/binee108/signalbridge/internal/queue"
	"github.com/binee108/signalbridge/internal/sizing"
	"github.com/binee108/signalbridge/internal/symbols"
	"github.com/binee108/signalbridge/internal/wspool"
	"github.com/binee108/signalbridge/pkg/config"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Canonical error kinds surfaced in webhook responses.
const (
	errTypeAuth     = "auth_error"
	errTypeTimeout  = "timeout_error"
	errTypeQuantity = "quantity_calculation_error"
	errTypeExchange = "exchange_error"
	errTypeInternal = "internal_error"
)

// Core wires the signal pipeline together.
type Core struct {
	cfg       *config.Config
	db        *db.Database
	gateways  *gateway.Manager
	prices    *pricing.Service
	sizing    *sizing.Calculator
	validator *symbols.Validator
	queue     *queue.Manager
	orders    *orders.Manager
	positions *position.Manager
	emitter   *events.Emitter
	pool      *wspool.Pool
}

// Deps bundles the constructor arguments.
type Deps struct {
	Cfg       *config.Config
	DB        *db.Database
	Gateways  *gateway.Manager
	Prices    *pricing.Service
	Sizing    *sizing.Calculator
	Validator *symbols.Validator
	Queue     *queue.Manager
	Positions *position.Manager
	Emitter   *events.Emitter
	Pool      *wspool.Pool
}

// New creates the core and its order manager.
func New(d Deps) *Core {
	c := &Core{
		cfg:       d.Cfg,
		db:        d.DB,
		gateways:  d.Gateways,
		prices:    d.Prices,
		sizing:    d.Sizing,
		validator: d.Validator,
		queue:     d.Queue,
		positions: d.Positions,
		emitter:   d.Emitter,
		pool:      d.Pool,
	}
	c.orders = orders.NewManager(d.DB, d.Positions, d.Emitter, c.ResolveVenue)
	return c
}

// Orders exposes the order manager for API handlers and background jobs.
func (c *Core) Orders() *orders.Manager { return c.orders }

// ResolveVenue maps a strategy account to its live adapter and joined view.
func (c *Core) ResolveVenue(ctx context.Context, strategyAccountID string) (common.Exchange, *db.StrategyAccountView, error) {
	view, err := c.db.GetStrategyAccountView(ctx, strategyAccountID)
	if err != nil {
		return nil, nil, err
	}
	gw, err := c.gateways.For(ctx, view.Account, view.Strategy.MarketType)
	if err != nil {
		return nil, nil, err
	}
	return gw, view, nil
}

// ResolveCapacity is the queue rebalancer's capacity lookup.
func (c *Core) ResolveCapacity(ctx context.Context, strategyAccountID string) (common.SideCapacity, bool) {
	view, err := c.db.GetStrategyAccountView(ctx, strategyAccountID)
	if err != nil {
		return common.SideCapacity{}, false
	}
	return c.queue.Capacity(view.Account.Exchange, view.Strategy.MarketType), true
}

// Execute runs one signal end to end and assembles the response.
func (c *Core) Execute(ctx context.Context, sig Signal, validationMs float64) Response {
	started := time.Now()
	sig.Normalize()

	resp := Response{Action: "webhook", Results: []AccountResult{}}

	strategy, errType, err := c.authorize(ctx, sig)
	if err != nil {
		resp.Success = false
		resp.Results = append(resp.Results, AccountResult{Error: err.Error(), ErrorType: errType})
		resp.PerformanceMetrics = perf(validationMs, started)
		return resp
	}
	resp.Strategy = strategy.GroupName
	resp.MarketType = strategy.MarketType

	views, err := c.db.ListActiveStrategyAccounts(ctx, strategy.ID)
	if err != nil {
		resp.Success = false
		resp.Results = append(resp.Results, AccountResult{Error: err.Error(), ErrorType: errTypeInternal})
		resp.PerformanceMetrics = perf(validationMs, started)
		return resp
	}
	totalLinks, err := c.db.CountStrategyLinks(ctx, strategy.ID)
	if err != nil {
		log.Printf("core: count strategy links: %v", err)
		totalLinks = len(views)
	}
	preprocessed := time.Now()

	results, staged := c.fanOut(ctx, strategy, views, sig)

	// Queue admissions from every worker commit in one transaction; a
	// bad row is skipped, not fatal to its batch. Events fire only for
	// rows that actually landed.
	if len(staged) > 0 {
		admitted := make([]db.PendingOrder, 0, len(staged))
		err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
			for _, p := range staged {
				if ierr := c.db.InsertPendingOrder(ctx, tx, p); ierr != nil {
					log.Printf("core: stage pending order %s: %v", p.ID, ierr)
					continue
				}
				admitted = append(admitted, p)
			}
			return nil
		})
		if err != nil {
			log.Printf("core: commit pending orders: %v", err)
		} else {
			c.emitQueued(strategy, views, admitted)
		}
	}

	resp.Results = results
	resp.Summary = summarize(totalLinks, results)
	resp.Success = resp.Summary.SuccessfulTrades > 0 || resp.Summary.FailedTrades == 0

	c.emitBatchEvent(strategy, views, results)

	resp.PerformanceMetrics = Performance{
		ValidationTimeMs:      validationMs,
		PreprocessingTimeMs:   float64(preprocessed.Sub(started).Microseconds()) / 1000,
		TotalProcessingTimeMs: float64(time.Since(started).Microseconds())/1000 + validationMs,
	}
	return resp
}

// authorize resolves the strategy and checks the caller's token against the
// owner or, for public strategies, any subscriber.
func (c *Core) authorize(ctx context.Context, sig Signal) (*db.Strategy, string, error) {
	strategy, err := c.db.GetStrategyByGroupName(ctx, sig.GroupName)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, errTypeAuth, fmt.Errorf("strategy %q not found", sig.GroupName)
		}
		return nil, errTypeInternal, err
	}
	if !strategy.IsActive {
		return nil, errTypeAuth, fmt.Errorf("strategy %q is not active", sig.GroupName)
	}
	if sig.TestMode {
		return strategy, "", nil
	}
	if _, err := c.db.AuthorizeWebhookToken(ctx, strategy.ID, sig.Token); err != nil {
		if err == db.ErrNotFound {
			return nil, errTypeAuth, fmt.Errorf("token not authorized for strategy %q", sig.GroupName)
		}
		return nil, errTypeInternal, err
	}
	return strategy, "", nil
}

// fanOut runs one worker per strategy account with bounded concurrency. Each
// worker processes the signal's intents sequentially; queue admissions are
// returned for a single commit by the caller.
func (c *Core) fanOut(ctx context.Context, strategy *db.Strategy, views []db.StrategyAccountView, sig Signal) ([]AccountResult, []db.PendingOrder) {
	workers := c.cfg.MaxSignalWorkers
	if workers <= 0 {
		workers = 10
	}
	if len(views) < workers {
		workers = len(views)
	}

	results := make([]AccountResult, len(views))
	stagedPer := make([][]db.PendingOrder, len(views))

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range views {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			view := &views[i]
			wctx, cancel := context.WithTimeout(ctx, c.cfg.BatchAccountTimeout)
			defer cancel()

			res, staged := c.runAccount(wctx, strategy, view, sig)
			if wctx.Err() == context.DeadlineExceeded && !res.Success {
				res.Error = "account execution deadline exceeded"
				res.ErrorType = errTypeTimeout
			}
			results[i] = res
			stagedPer[i] = staged
		}(i)
	}
	wg.Wait()

	var staged []db.PendingOrder
	for _, s := range stagedPer {
		staged = append(staged, s...)
	}
	return results, staged
}

// summarize aggregates the fan-out outcome. totalLinks counts every link on
// the strategy; the difference against the executed set is the inactive count.
func summarize(totalLinks int, results []AccountResult) Summary {
	if totalLinks < len(results) {
		totalLinks = len(results)
	}
	s := Summary{
		TotalAccounts:    totalLinks,
		InactiveAccounts: totalLinks - len(results),
	}
	for _, r := range results {
		s.ExecutedAccounts++
		if r.Success {
			s.SuccessfulTrades++
		} else {
			s.FailedTrades++
		}
	}
	return s
}

// emitQueued publishes order_created for committed queue admissions. A queued
// order has no exchange id yet, so the event carries the validated quantity
// and prices under a PENDING status.
func (c *Core) emitQueued(strategy *db.Strategy, views []db.StrategyAccountView, admitted []db.PendingOrder) {
	byID := make(map[string]*db.StrategyAccountView, len(views))
	for i := range views {
		byID[views[i].ID] = &views[i]
	}
	for _, p := range admitted {
		view, ok := byID[p.StrategyAccountID]
		if !ok {
			continue
		}
		c.emitCreated(view, strategy, common.OrderResult{
			Symbol:            p.Symbol,
			Side:              p.Side,
			Type:              p.OrderType,
			Status:            common.StatusPending,
			AdjustedQuantity:  p.Quantity,
			AdjustedPrice:     p.Price,
			AdjustedStopPrice: p.StopPrice,
		})
	}
}

// emitBatchEvent aggregates counts per order type when the signal touched
// more than one successful account.
func (c *Core) emitBatchEvent(strategy *db.Strategy, views []db.StrategyAccountView, results []AccountResult) {
	successes := 0
	counts := make(map[common.OrderType]*events.BatchSummary)
	for _, r := range results {
		if !r.Success {
			continue
		}
		successes++
		for _, ir := range r.Results {
			if !ir.Success {
				continue
			}
			bs, ok := counts[ir.OrderType]
			if !ok {
				bs = &events.BatchSummary{OrderType: ir.OrderType}
				counts[ir.OrderType] = bs
			}
			if ir.Cancelled > 0 {
				bs.Cancelled += ir.Cancelled
			} else {
				bs.Created++
			}
		}
	}
	if successes < 2 || len(views) == 0 {
		return
	}

	summaries := make([]events.BatchSummary, 0, len(counts))
	for _, bs := range counts {
		summaries = append(summaries, *bs)
	}
	c.emitter.EmitBatch(views[0].Account.UserID, strategy.ID, summaries)
}

func perf(validationMs float64, started time.Time) Performance {
	return Performance{
		ValidationTimeMs:      validationMs,
		TotalProcessingTimeMs: float64(time.Since(started).Microseconds())/1000 + validationMs,
	}
}
