package core

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/binee108/signalbridge/internal/events"
	"github.com/binee108/signalbridge/internal/queue"
	"github.com/binee108/signalbridge/internal/sizing"
	"github.com/binee108/signalbridge/internal/symbols"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// runAccount processes every intent of a signal against one strategy account,
// sequentially. Returns the slot result and any queue admissions to stage.
func (c *Core) runAccount(ctx context.Context, strategy *db.Strategy, view *db.StrategyAccountView, sig Signal) (AccountResult, []db.PendingOrder) {
	out := AccountResult{
		AccountID:   view.AccountID,
		AccountName: view.Account.Name,
		Results:     []IntentResult{},
	}

	gw, err := c.gateways.For(ctx, view.Account, strategy.MarketType)
	if err != nil {
		out.Error = err.Error()
		out.ErrorType = errTypeExchange
		return out, nil
	}

	var staged []db.PendingOrder
	anySuccess := false
	for _, intent := range sig.Intents {
		var res IntentResult
		switch {
		case intent.OrderType == common.OrderTypeCancel:
			res = c.execCancel(ctx, view, intent)
		case intent.OrderType == common.OrderTypeCancelAll:
			res = c.execCancelAll(ctx, view, intent)
		case intent.OrderType == common.OrderTypeMarket:
			res = c.execMarket(ctx, strategy, view, gw, intent)
		default:
			var pending *db.PendingOrder
			res, pending = c.admitQueued(ctx, strategy, view, gw, intent)
			if pending != nil {
				staged = append(staged, *pending)
			}
		}
		out.Results = append(out.Results, res)
		if res.Success {
			anySuccess = true
		}
	}

	out.Success = anySuccess
	if !anySuccess && len(out.Results) > 0 {
		out.Error = out.Results[0].Error
		out.ErrorType = out.Results[0].ErrorType
	}
	return out, staged
}

// quantify runs sizing then instrument validation for one intent.
func (c *Core) quantify(ctx context.Context, strategy *db.Strategy, view *db.StrategyAccountView, gw common.Exchange, intent OrderIntent) (symbols.Result, *IntentResult) {
	pos, err := c.db.GetPosition(ctx, view.ID, intent.Symbol)
	if err != nil {
		return symbols.Result{}, failed(intent, errTypeInternal, err)
	}

	qty, err := c.sizing.Quantity(ctx, gw, view.Account.Exchange, sizing.Request{
		Symbol:           intent.Symbol,
		Side:             intent.Side,
		OrderType:        intent.OrderType,
		Qty:              intent.Qty,
		QtyPer:           intent.QtyPer,
		Price:            intent.Price,
		StopPrice:        intent.StopPrice,
		AllocatedCapital: view.Capital.AllocatedCapital,
		Leverage:         view.Leverage,
		Market:           strategy.MarketType,
		Position:         pos,
	})
	if err != nil {
		// Covers both calculation failures and a missing reference price.
		return symbols.Result{}, failed(intent, errTypeQuantity, err)
	}

	validated, err := c.validator.Validate(ctx, gw, view.Account.Exchange, strategy.MarketType, intent.Symbol, qty, intent.Price, intent.StopPrice)
	if err != nil {
		var verr *symbols.ValidationError
		if errors.As(err, &verr) {
			return symbols.Result{}, failed(intent, verr.Type, err)
		}
		return symbols.Result{}, failed(intent, errTypeExchange, err)
	}
	return validated, nil
}

// execMarket submits a MARKET order and polls for its fill on the configured
// backoff schedule. A sustained non-fill leaves an OpenOrder for the
// reconciler instead of failing the slot.
func (c *Core) execMarket(ctx context.Context, strategy *db.Strategy, view *db.StrategyAccountView, gw common.Exchange, intent OrderIntent) IntentResult {
	validated, fail := c.quantify(ctx, strategy, view, gw, intent)
	if fail != nil {
		return *fail
	}

	res, err := gw.CreateOrder(ctx, common.OrderRequest{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Type:     common.OrderTypeMarket,
		Quantity: validated.Quantity,
		Price:    intent.Price,
		Market:   strategy.MarketType,
		Leverage: view.Leverage,
	})
	if err != nil {
		return *failed(intent, errTypeExchange, err)
	}

	final := c.pollMarketFill(ctx, gw, intent.Symbol, res)
	status := common.NormalizeStatus(string(final.Status), view.Account.Exchange)

	prec, perr := gw.GetPrecision(ctx, intent.Symbol)
	if perr != nil {
		prec = common.Precision{}
	}

	if final.FilledQuantity.Sign() > 0 {
		if _, err := c.positions.ProcessOrderFill(ctx, view, gw, final, prec); err != nil {
			log.Printf("core: apply market fill %s: %v", final.ExchangeOrderID, err)
		}
	} else {
		// Unfilled after the schedule; track it and let reconciliation finish.
		if err := c.orders.Track(ctx, view, final); err != nil {
			log.Printf("core: track market order %s: %v", final.ExchangeOrderID, err)
		}
	}

	c.emitCreated(view, strategy, final)
	return IntentResult{
		Symbol:    intent.Symbol,
		OrderType: intent.OrderType,
		Success:   true,
		OrderID:   final.ExchangeOrderID,
		Status:    string(status),
	}
}

// pollMarketFill re-fetches a MARKET order until it fills or the schedule is
// exhausted. Sustained non-fill from the fourth attempt logs a warning.
func (c *Core) pollMarketFill(ctx context.Context, gw common.Exchange, symbol string, res common.OrderResult) common.OrderResult {
	if common.IsTerminal(res.Status) && res.FilledQuantity.Sign() > 0 {
		return res
	}
	if c.cfg.MarketOrderDelay > 0 {
		select {
		case <-ctx.Done():
			return res
		case <-time.After(c.cfg.MarketOrderDelay):
		}
	}

	delays := c.cfg.MarketOrderRetryDelays
	if len(delays) == 0 {
		delays = []time.Duration{125 * time.Millisecond}
	}
	if c.cfg.MaxMarketOrderRetries > 0 && len(delays) > c.cfg.MaxMarketOrderRetries {
		delays = delays[:c.cfg.MaxMarketOrderRetries]
	}

	current := res
	for attempt, delay := range delays {
		select {
		case <-ctx.Done():
			return current
		case <-time.After(delay):
		}

		fetched, err := gw.FetchOrder(ctx, symbol, res.ExchangeOrderID)
		if err != nil {
			log.Printf("core: poll order %s attempt %d: %v", res.ExchangeOrderID, attempt+1, err)
			continue
		}
		current = fetched
		if common.IsTerminal(fetched.Status) || fetched.FilledQuantity.Sign() > 0 {
			return current
		}
		if attempt+1 >= 4 {
			log.Printf("core: WARNING market order %s still unfilled after %d polls", res.ExchangeOrderID, attempt+1)
		}
	}
	return current
}

// admitQueued sizes a LIMIT/STOP order and stages it for the pending queue.
// The exchange call is skipped on the webhook path; the background rebalancer
// promotes the order when a slot frees up.
func (c *Core) admitQueued(ctx context.Context, strategy *db.Strategy, view *db.StrategyAccountView, gw common.Exchange, intent OrderIntent) (IntentResult, *db.PendingOrder) {
	validated, fail := c.quantify(ctx, strategy, view, gw, intent)
	if fail != nil {
		return *fail, nil
	}

	pending := db.PendingOrder{
		ID:                uuid.NewString(),
		StrategyAccountID: view.ID,
		Symbol:            intent.Symbol,
		Side:              intent.Side,
		OrderType:         intent.OrderType,
		Quantity:          validated.Quantity,
		Price:             validated.Price,
		StopPrice:         validated.StopPrice,
		Priority:          queue.Priority(intent.OrderType),
		Reason:            "webhook",
	}

	return IntentResult{
		Symbol:    intent.Symbol,
		OrderType: intent.OrderType,
		Success:   true,
		Queued:    true,
		Priority:  pending.Priority,
		Status:    "QUEUED",
	}, &pending
}

// execCancel cancels one order by exchange order id.
func (c *Core) execCancel(ctx context.Context, view *db.StrategyAccountView, intent OrderIntent) IntentResult {
	if intent.OrderID == "" {
		return *failed(intent, "validation_error", errors.New("cancel requires order_id"))
	}
	if err := c.orders.Cancel(ctx, view.ID, intent.Symbol, intent.OrderID); err != nil {
		return *failed(intent, errTypeExchange, err)
	}
	return IntentResult{
		Symbol:    intent.Symbol,
		OrderType: intent.OrderType,
		Success:   true,
		OrderID:   intent.OrderID,
		Cancelled: 1,
		Status:    string(common.StatusCancelled),
	}
}

// execCancelAll cancels every tracked order matching the intent's filter;
// side is optional and empty means both sides.
func (c *Core) execCancelAll(ctx context.Context, view *db.StrategyAccountView, intent OrderIntent) IntentResult {
	report, err := c.orders.CancelByFilter(ctx, db.OpenOrderFilter{
		StrategyAccountID: view.ID,
		Symbol:            intent.Symbol,
		Side:              intent.Side,
	})
	if err != nil {
		return *failed(intent, errTypeExchange, err)
	}
	return IntentResult{
		Symbol:    intent.Symbol,
		OrderType: intent.OrderType,
		Success:   len(report.Failed) == 0,
		Cancelled: len(report.Cancelled),
		Status:    string(common.StatusCancelled),
	}
}

// PromotePending is the rebalancer hook: submit a queued order to its venue,
// track it, and subscribe its symbol on the public feed.
func (c *Core) PromotePending(ctx context.Context, p db.PendingOrder) bool {
	gw, view, err := c.ResolveVenue(ctx, p.StrategyAccountID)
	if err != nil {
		log.Printf("core: promote %s resolve venue: %v", p.ID, err)
		return false
	}

	res, err := gw.CreateOrder(ctx, common.OrderRequest{
		Symbol:    p.Symbol,
		Side:      p.Side,
		Type:      p.OrderType,
		Quantity:  p.Quantity,
		Price:     p.Price,
		StopPrice: p.StopPrice,
		Market:    view.Strategy.MarketType,
		Leverage:  view.Leverage,
	})
	if err != nil {
		log.Printf("core: promote %s create order: %v", p.ID, err)
		return false
	}

	if err := c.orders.Track(ctx, view, res); err != nil {
		log.Printf("core: promote %s track: %v", p.ID, err)
	}
	if c.pool != nil {
		if err := c.pool.SubscribeSymbol(view.Account.Exchange, view.Strategy.MarketType, view.Account.IsTestnet, p.Symbol); err != nil {
			log.Printf("core: promote %s subscribe: %v", p.ID, err)
		}
	}
	c.emitCreated(view, &view.Strategy, res)
	return true
}

// HandlePrivateFill routes a private-stream fill into the position pipeline.
// The account feed does not know strategy accounts, so the order is resolved
// through the local order book.
func (c *Core) HandlePrivateFill(ctx context.Context, accountID string, res common.OrderResult) {
	open, err := c.db.ListOpenOrders(ctx, db.OpenOrderFilter{Symbol: res.Symbol})
	if err != nil {
		log.Printf("core: private fill lookup: %v", err)
		return
	}
	for _, o := range open {
		if o.ExchangeOrderID != res.ExchangeOrderID {
			continue
		}
		gw, view, err := c.ResolveVenue(ctx, o.StrategyAccountID)
		if err != nil {
			log.Printf("core: private fill resolve: %v", err)
			return
		}
		prec, perr := gw.GetPrecision(ctx, o.Symbol)
		if perr != nil {
			prec = common.Precision{}
		}
		if _, err := c.positions.ProcessOrderFill(ctx, view, gw, res, prec); err != nil {
			log.Printf("core: private fill apply: %v", err)
		}
		return
	}
	log.Printf("core: private fill for untracked order %s ignored", res.ExchangeOrderID)
}

func (c *Core) emitCreated(view *db.StrategyAccountView, strategy *db.Strategy, res common.OrderResult) {
	octx := events.OrderContext{
		StrategyID: strategy.ID,
		UserID:     view.Account.UserID,
		Account: events.AccountRef{
			AccountID: view.AccountID,
			Name:      view.Account.Name,
			Exchange:  view.Account.Exchange,
		},
	}
	if err := c.emitter.EmitOrder(events.TypeOrderCreated, octx, res); err != nil {
		log.Printf("core: emit order event: %v", err)
	}
}

func failed(intent OrderIntent, errType string, err error) *IntentResult {
	return &IntentResult{
		Symbol:    intent.Symbol,
		OrderType: intent.OrderType,
		Success:   false,
		Error:     err.Error(),
		ErrorType: errType,
	}
}
