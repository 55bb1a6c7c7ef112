package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// ErrMissingPrice reports an order result lacking the price field its type
// requires. Emission is aborted rather than publishing a fabricated price.
type ErrMissingPrice struct {
	OrderType common.OrderType
	Field     string
}

func (e *ErrMissingPrice) Error() string {
	return fmt.Sprintf("order type %s requires %s for event payload", e.OrderType, e.Field)
}

// Emitter translates order and position transitions into SSE events.
type Emitter struct {
	bus *Bus
	db  *db.Database
}

// NewEmitter creates an emitter publishing to bus, resolving order context
// through the database when needed.
func NewEmitter(bus *Bus, database *db.Database) *Emitter {
	return &Emitter{bus: bus, db: database}
}

// ExtractPrice applies the strict per-type price rule for event payloads:
// MARKET uses the average fill price (zero only while unfilled), LIMIT and
// STOP_LIMIT use the adjusted or requested price, STOP_MARKET uses the stop
// trigger. A missing required field is an error, never a silent zero.
func ExtractPrice(typ common.OrderType, res common.OrderResult) (decimal.Decimal, error) {
	switch typ {
	case common.OrderTypeMarket:
		if res.FilledQuantity.IsZero() {
			return decimal.Zero, nil
		}
		if res.AveragePrice.IsZero() {
			return decimal.Zero, &ErrMissingPrice{OrderType: typ, Field: "average_price"}
		}
		return res.AveragePrice, nil
	case common.OrderTypeLimit, common.OrderTypeStopLimit, common.OrderTypeBestLimit:
		if !res.AdjustedPrice.IsZero() {
			return res.AdjustedPrice, nil
		}
		if !res.AveragePrice.IsZero() {
			return res.AveragePrice, nil
		}
		return decimal.Zero, &ErrMissingPrice{OrderType: typ, Field: "price"}
	case common.OrderTypeStopMarket, common.OrderTypeConditionMarket:
		if !res.AdjustedStopPrice.IsZero() {
			return res.AdjustedStopPrice, nil
		}
		return decimal.Zero, &ErrMissingPrice{OrderType: typ, Field: "stop_price"}
	default:
		return res.AveragePrice, nil
	}
}

// OrderContext carries the resolved identities an order event needs.
type OrderContext struct {
	StrategyID string
	UserID     string
	Account    AccountRef
}

// EmitOrder publishes one order lifecycle event after strict price extraction.
func (e *Emitter) EmitOrder(eventType string, octx OrderContext, res common.OrderResult) error {
	price, err := ExtractPrice(res.Type, res)
	if err != nil {
		return err
	}

	qty := res.FilledQuantity
	if qty.IsZero() {
		qty = res.AdjustedQuantity
	}

	ev := OrderEvent{
		EventType:  eventType,
		OrderID:    res.ExchangeOrderID,
		Symbol:     res.Symbol,
		StrategyID: octx.StrategyID,
		UserID:     octx.UserID,
		Side:       res.Side,
		Quantity:   qty.InexactFloat64(),
		Price:      price.InexactFloat64(),
		Status:     res.Status,
		OrderType:  res.Type,
		Timestamp:  time.Now().UTC(),
		Account:    octx.Account,
	}
	if !res.AdjustedStopPrice.IsZero() {
		sp := res.AdjustedStopPrice.InexactFloat64()
		ev.StopPrice = &sp
	}

	e.bus.Publish(octx.UserID, Envelope{Type: eventType, Payload: ev})
	return nil
}

// EmitFill dispatches a fill event using the local order book to decide shape.
// A fill for an order never persisted locally (a fast MARKET) emits a single
// order_filled with the full quantity; a fill on a tracked order emits the
// delta against the stored filled quantity.
func (e *Emitter) EmitFill(ctx context.Context, octx OrderContext, strategyAccountID string, res common.OrderResult) error {
	tracked, err := e.db.GetOpenOrder(ctx, strategyAccountID, res.ExchangeOrderID)
	if err != nil {
		return err
	}

	out := res
	if tracked != nil {
		delta := res.FilledQuantity.Sub(tracked.FilledQuantity)
		if delta.Sign() <= 0 {
			return nil
		}
		out.FilledQuantity = delta
	}
	return e.EmitOrder(TypeOrderFilled, octx, out)
}

// EmitCancel publishes a cancellation, resolving strategy context from the
// tracked order. An untracked cancel is skipped; publishing with an empty
// strategy id would mislead consumers.
func (e *Emitter) EmitCancel(ctx context.Context, userID string, account AccountRef, strategyAccountID string, res common.OrderResult) error {
	tracked, err := e.db.GetOpenOrder(ctx, strategyAccountID, res.ExchangeOrderID)
	if err != nil {
		return err
	}
	if tracked == nil {
		log.Printf("events: skipping cancel event for untracked order %s", res.ExchangeOrderID)
		return nil
	}
	view, err := e.db.GetStrategyAccountView(ctx, strategyAccountID)
	if err != nil {
		return err
	}
	octx := OrderContext{StrategyID: view.StrategyID, UserID: userID, Account: account}
	out := res
	if out.Type == "" {
		out.Type = tracked.OrderType
	}
	if out.Symbol == "" {
		out.Symbol = tracked.Symbol
	}
	if out.Side == "" {
		out.Side = tracked.Side
	}
	if out.AdjustedPrice.IsZero() {
		out.AdjustedPrice = tracked.Price
	}
	if out.AdjustedStopPrice.IsZero() {
		out.AdjustedStopPrice = tracked.StopPrice
	}
	if out.AdjustedQuantity.IsZero() {
		out.AdjustedQuantity = tracked.Quantity
	}
	return e.EmitOrder(TypeOrderCancelled, octx, out)
}

// EmitPosition publishes a position transition.
func (e *Emitter) EmitPosition(eventType string, octx OrderContext, symbol string, qty, entry decimal.Decimal, prev *decimal.Decimal) {
	ev := PositionEvent{
		EventType:  eventType,
		PositionID: octx.Account.AccountID + ":" + symbol,
		Symbol:     symbol,
		StrategyID: octx.StrategyID,
		UserID:     octx.UserID,
		Quantity:   qty.InexactFloat64(),
		EntryPrice: entry.InexactFloat64(),
		Timestamp:  time.Now().UTC(),
		Account:    octx.Account,
	}
	if prev != nil {
		p := prev.InexactFloat64()
		ev.PreviousQuantity = &p
	}
	e.bus.Publish(octx.UserID, Envelope{Type: eventType, Payload: ev})
}

// EmitBatch publishes the aggregate event for a multi-account signal.
func (e *Emitter) EmitBatch(userID, strategyID string, summaries []BatchSummary) {
	if len(summaries) == 0 {
		return
	}
	ev := OrderBatchEvent{
		Summaries:  summaries,
		StrategyID: strategyID,
		UserID:     userID,
		Timestamp:  time.Now().UTC(),
	}
	e.bus.Publish(userID, Envelope{Type: TypeOrderBatch, Payload: ev})
}
