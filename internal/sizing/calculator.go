// Package sizing turns webhook sizing directives into absolute order
// quantities: either a caller-supplied quantity passed through validation, or
// a percentage of allocated capital (entries) or of the current position
// (exits).
package sizing

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/internal/pricing"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// CalculationError carries the human-readable reason a quantity could not be
// derived; it flows back into the webhook response.
type CalculationError struct {
	Reason string
}

func (e *CalculationError) Error() string { return e.Reason }

var hundred = decimal.NewFromInt(100)

// Request is one sizing decision for one account.
type Request struct {
	Symbol    string
	Side      common.Side
	OrderType common.OrderType
	Qty       decimal.Decimal // absolute mode when > 0
	QtyPer    decimal.Decimal // percentage mode when non-zero; wins over Qty
	Price     decimal.Decimal // webhook-supplied, may be zero
	StopPrice decimal.Decimal

	AllocatedCapital decimal.Decimal
	Leverage         int
	Market           common.MarketType
	Position         *db.StrategyPosition // nil when flat
}

// Calculator derives order quantities, resolving prices through the shared
// price service when the webhook did not supply one.
type Calculator struct {
	prices *pricing.Service
}

// New creates a calculator.
func New(prices *pricing.Service) *Calculator {
	return &Calculator{prices: prices}
}

// Quantity returns the absolute, unquantized order quantity for a request.
// Step quantization happens downstream in the symbol validator.
func (c *Calculator) Quantity(ctx context.Context, gw pricing.TickerFetcher, exchange common.ExchangeName, req Request) (decimal.Decimal, error) {
	if !req.QtyPer.IsZero() {
		if req.Qty.Sign() > 0 {
			log.Printf("sizing: both qty and qty_per supplied for %s, using qty_per", req.Symbol)
		}
		return c.percentage(ctx, gw, exchange, req)
	}

	if req.Qty.Sign() < 0 {
		return decimal.Zero, &CalculationError{Reason: "qty must be positive; use qty_per=-100 to liquidate"}
	}
	if req.Qty.IsZero() {
		return decimal.Zero, &CalculationError{Reason: "no quantity supplied"}
	}
	return req.Qty, nil
}

func (c *Calculator) percentage(ctx context.Context, gw pricing.TickerFetcher, exchange common.ExchangeName, req Request) (decimal.Decimal, error) {
	if req.QtyPer.Sign() > 0 {
		return c.entry(ctx, gw, exchange, req)
	}
	return c.exit(req)
}

// entry sizes qty_per percent of allocated capital at the effective price,
// scaled by leverage on futures.
func (c *Calculator) entry(ctx context.Context, gw pricing.TickerFetcher, exchange common.ExchangeName, req Request) (decimal.Decimal, error) {
	price, err := c.effectivePrice(ctx, gw, exchange, req)
	if err != nil {
		return decimal.Zero, err
	}
	if price.Sign() <= 0 {
		return decimal.Zero, &CalculationError{Reason: fmt.Sprintf("no price resolvable for %s", req.Symbol)}
	}
	if req.AllocatedCapital.Sign() <= 0 {
		return decimal.Zero, &CalculationError{Reason: "no capital allocated"}
	}

	leverage := decimal.NewFromInt(1)
	if req.Market == common.MarketFutures && req.Leverage > 1 {
		leverage = decimal.NewFromInt(int64(req.Leverage))
	}

	notional := req.AllocatedCapital.Mul(req.QtyPer).Div(hundred)
	return notional.Div(price).Mul(leverage), nil
}

// exit sizes |qty_per| percent of the current position, capped at 100, and
// requires the order side to oppose the position.
func (c *Calculator) exit(req Request) (decimal.Decimal, error) {
	if req.Position == nil || req.Position.Quantity.IsZero() {
		return decimal.Zero, &CalculationError{Reason: fmt.Sprintf("no position to liquidate for %s", req.Symbol)}
	}

	posSide := common.SideBuy
	if req.Position.Quantity.Sign() < 0 {
		posSide = common.SideSell
	}
	if req.Side != posSide.Opposite() {
		return decimal.Zero, &CalculationError{
			Reason: fmt.Sprintf("side %s does not close the existing %s position in %s", req.Side, posSide, req.Symbol),
		}
	}

	frac := req.QtyPer.Abs()
	if frac.GreaterThan(hundred) {
		frac = hundred
	}
	return req.Position.Quantity.Abs().Mul(frac).Div(hundred), nil
}

// effectivePrice picks the sizing price by order type: LIMIT family always
// the limit price, STOP_MARKET the trigger, MARKET the webhook price when
// supplied (fresher than our cache) else cache then ticker.
func (c *Calculator) effectivePrice(ctx context.Context, gw pricing.TickerFetcher, exchange common.ExchangeName, req Request) (decimal.Decimal, error) {
	switch req.OrderType {
	case common.OrderTypeLimit, common.OrderTypeStopLimit, common.OrderTypeBestLimit:
		if req.Price.Sign() <= 0 {
			return decimal.Zero, &CalculationError{Reason: fmt.Sprintf("%s order requires price", req.OrderType)}
		}
		return req.Price, nil
	case common.OrderTypeStopMarket, common.OrderTypeConditionMarket:
		if req.StopPrice.Sign() <= 0 {
			return decimal.Zero, &CalculationError{Reason: fmt.Sprintf("%s order requires stop_price", req.OrderType)}
		}
		return req.StopPrice, nil
	default:
		if req.Price.Sign() > 0 {
			return req.Price, nil
		}
		price, err := c.prices.GetPrice(ctx, gw, exchange, req.Market, req.Symbol)
		if err != nil {
			return decimal.Zero, &CalculationError{Reason: fmt.Sprintf("no price resolvable for %s: %v", req.Symbol, err)}
		}
		return price, nil
	}
}
