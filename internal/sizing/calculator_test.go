package sizing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/internal/pricing"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type stubTicker struct {
	price decimal.Decimal
	err   error
}

func (s stubTicker) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	if s.err != nil {
		return common.Ticker{}, s.err
	}
	return common.Ticker{Symbol: symbol, Price: s.price, Timestamp: time.Now()}, nil
}

func newCalc() *Calculator {
	return New(pricing.New(time.Second))
}

func TestQuantityAbsoluteMode(t *testing.T) {
	c := newCalc()
	got, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol: "BTC/USDT",
		Side:   common.SideBuy,
		Qty:    d("0.5"),
	})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if !got.Equal(d("0.5")) {
		t.Fatalf("qty = %s, want 0.5", got)
	}
}

func TestQuantityRejectsNegativeAbsolute(t *testing.T) {
	c := newCalc()
	_, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol: "BTC/USDT",
		Qty:    d("-1"),
	})
	var calcErr *CalculationError
	if !errors.As(err, &calcErr) {
		t.Fatalf("want CalculationError, got %v", err)
	}
}

func TestQuantityRejectsMissingSize(t *testing.T) {
	c := newCalc()
	_, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{Symbol: "BTC/USDT"})
	var calcErr *CalculationError
	if !errors.As(err, &calcErr) {
		t.Fatalf("want CalculationError, got %v", err)
	}
}

func TestEntryPercentageSpot(t *testing.T) {
	c := newCalc()
	// 10% of 10000 at price 100 = 10 units, no leverage on spot.
	got, err := c.Quantity(context.Background(), stubTicker{price: d("100")}, common.ExchangeBinance, Request{
		Symbol:           "ETH/USDT",
		Side:             common.SideBuy,
		OrderType:        common.OrderTypeMarket,
		QtyPer:           d("10"),
		AllocatedCapital: d("10000"),
		Leverage:         5,
		Market:           common.MarketSpot,
	})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if !got.Equal(d("10")) {
		t.Fatalf("qty = %s, want 10", got)
	}
}

func TestEntryPercentageFuturesLeverage(t *testing.T) {
	c := newCalc()
	got, err := c.Quantity(context.Background(), stubTicker{price: d("100")}, common.ExchangeBinance, Request{
		Symbol:           "ETH/USDT",
		Side:             common.SideBuy,
		OrderType:        common.OrderTypeMarket,
		QtyPer:           d("10"),
		AllocatedCapital: d("10000"),
		Leverage:         5,
		Market:           common.MarketFutures,
	})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if !got.Equal(d("50")) {
		t.Fatalf("qty = %s, want 50", got)
	}
}

func TestEntryUsesLimitPriceForLimitOrders(t *testing.T) {
	c := newCalc()
	// The ticker would say 100; the limit price 200 must win.
	got, err := c.Quantity(context.Background(), stubTicker{price: d("100")}, common.ExchangeBinance, Request{
		Symbol:           "ETH/USDT",
		Side:             common.SideBuy,
		OrderType:        common.OrderTypeLimit,
		QtyPer:           d("10"),
		Price:            d("200"),
		AllocatedCapital: d("10000"),
		Market:           common.MarketSpot,
	})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if !got.Equal(d("5")) {
		t.Fatalf("qty = %s, want 5", got)
	}
}

func TestEntryLimitWithoutPriceFails(t *testing.T) {
	c := newCalc()
	_, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol:           "ETH/USDT",
		OrderType:        common.OrderTypeLimit,
		QtyPer:           d("10"),
		AllocatedCapital: d("10000"),
	})
	var calcErr *CalculationError
	if !errors.As(err, &calcErr) {
		t.Fatalf("want CalculationError, got %v", err)
	}
}

func TestEntryStopMarketUsesTrigger(t *testing.T) {
	c := newCalc()
	got, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol:           "ETH/USDT",
		OrderType:        common.OrderTypeStopMarket,
		QtyPer:           d("10"),
		StopPrice:        d("500"),
		AllocatedCapital: d("10000"),
	})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if !got.Equal(d("2")) {
		t.Fatalf("qty = %s, want 2", got)
	}
}

func TestEntryNoCapital(t *testing.T) {
	c := newCalc()
	_, err := c.Quantity(context.Background(), stubTicker{price: d("100")}, common.ExchangeBinance, Request{
		Symbol:    "ETH/USDT",
		OrderType: common.OrderTypeMarket,
		QtyPer:    d("10"),
	})
	var calcErr *CalculationError
	if !errors.As(err, &calcErr) {
		t.Fatalf("want CalculationError, got %v", err)
	}
}

func TestExitPercentage(t *testing.T) {
	c := newCalc()
	pos := &db.StrategyPosition{Symbol: "ETH/USDT", Quantity: d("4")}

	got, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol:    "ETH/USDT",
		Side:      common.SideSell,
		OrderType: common.OrderTypeMarket,
		QtyPer:    d("-50"),
		Position:  pos,
	})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if !got.Equal(d("2")) {
		t.Fatalf("qty = %s, want 2", got)
	}
}

func TestExitCapsAtFullPosition(t *testing.T) {
	c := newCalc()
	pos := &db.StrategyPosition{Symbol: "ETH/USDT", Quantity: d("-3")}

	got, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol:    "ETH/USDT",
		Side:      common.SideBuy,
		OrderType: common.OrderTypeMarket,
		QtyPer:    d("-250"),
		Position:  pos,
	})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if !got.Equal(d("3")) {
		t.Fatalf("qty = %s, want 3", got)
	}
}

func TestExitWithoutPosition(t *testing.T) {
	c := newCalc()
	_, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol:    "ETH/USDT",
		Side:      common.SideSell,
		OrderType: common.OrderTypeMarket,
		QtyPer:    d("-100"),
	})
	var calcErr *CalculationError
	if !errors.As(err, &calcErr) {
		t.Fatalf("want CalculationError, got %v", err)
	}
}

func TestExitWrongSide(t *testing.T) {
	c := newCalc()
	pos := &db.StrategyPosition{Symbol: "ETH/USDT", Quantity: d("4")}

	// BUY does not close a long position.
	_, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol:    "ETH/USDT",
		Side:      common.SideBuy,
		OrderType: common.OrderTypeMarket,
		QtyPer:    d("-100"),
		Position:  pos,
	})
	var calcErr *CalculationError
	if !errors.As(err, &calcErr) {
		t.Fatalf("want CalculationError, got %v", err)
	}
}

func TestQtyPerWinsOverQty(t *testing.T) {
	c := newCalc()
	pos := &db.StrategyPosition{Symbol: "ETH/USDT", Quantity: d("4")}

	got, err := c.Quantity(context.Background(), nil, common.ExchangeBinance, Request{
		Symbol:    "ETH/USDT",
		Side:      common.SideSell,
		OrderType: common.OrderTypeMarket,
		Qty:       d("99"),
		QtyPer:    d("-100"),
		Position:  pos,
	})
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if !got.Equal(d("4")) {
		t.Fatalf("qty = %s, want 4 (qty_per mode)", got)
	}
}
