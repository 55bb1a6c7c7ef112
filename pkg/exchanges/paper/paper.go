// Package paper provides an in-memory venue implementing the Exchange
// capability. It backs dry-run mode and the test suite: fills, delays and
// failures are scripted by the caller instead of arriving from a real venue.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Venue is a scripted in-memory exchange.
type Venue struct {
	mu        sync.Mutex
	seq       int64
	orders    map[string]*common.OrderResult
	prices    map[string]decimal.Decimal
	precision map[string]common.Precision
	balances  []common.Balance

	// MarketFillPolls delays MARKET fills until the n-th FetchOrder call for
	// that order; 0 fills on submission.
	MarketFillPolls int
	fetchCounts     map[string]int
	pendingFill     map[string]fill

	// NextCreateErr fails the next CreateOrder once.
	NextCreateErr error

	market common.MarketType
}

type fill struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

// New creates an empty paper venue for one market segment.
func New(market common.MarketType) *Venue {
	return &Venue{
		orders:      make(map[string]*common.OrderResult),
		prices:      make(map[string]decimal.Decimal),
		precision:   make(map[string]common.Precision),
		fetchCounts: make(map[string]int),
		pendingFill: make(map[string]fill),
		market:      market,
	}
}

func (v *Venue) Name() common.ExchangeName { return common.ExchangePaper }
func (v *Venue) Market() common.MarketType { return v.market }

// SetPrice scripts the last price for a symbol.
func (v *Venue) SetPrice(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
}

// SetPrecision scripts instrument rules for a symbol.
func (v *Venue) SetPrecision(symbol string, p common.Precision) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.precision[symbol] = p
}

// SetBalances scripts the account balances.
func (v *Venue) SetBalances(b []common.Balance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = b
}

func (v *Venue) CreateOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.NextCreateErr != nil {
		err := v.NextCreateErr
		v.NextCreateErr = nil
		return common.OrderResult{}, err
	}

	v.seq++
	id := fmt.Sprintf("paper-%d", v.seq)

	res := &common.OrderResult{
		ExchangeOrderID:   id,
		Status:            common.StatusNew,
		Symbol:            req.Symbol,
		Side:              req.Side,
		Type:              req.Type,
		AdjustedQuantity:  req.Quantity,
		AdjustedPrice:     req.Price,
		AdjustedStopPrice: req.StopPrice,
	}

	if req.Type == common.OrderTypeMarket {
		price := req.Price
		if p, ok := v.prices[req.Symbol]; ok {
			price = p
		}
		if v.MarketFillPolls > 0 {
			v.pendingFill[id] = fill{qty: req.Quantity, price: price}
		} else {
			res.Status = common.StatusFilled
			res.FilledQuantity = req.Quantity
			res.AveragePrice = price
		}
	}

	v.orders[id] = res
	out := *res
	return out, nil
}

func (v *Venue) CreateBatchOrders(ctx context.Context, reqs []common.OrderRequest) ([]common.OrderOutcome, error) {
	outcomes := make([]common.OrderOutcome, 0, len(reqs))
	for _, req := range reqs {
		res, err := v.CreateOrder(ctx, req)
		outcomes = append(outcomes, common.OrderOutcome{Result: res, Err: err})
	}
	return outcomes, nil
}

func (v *Venue) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("paper: order %s not found", exchangeOrderID)
	}
	if common.IsTerminal(o.Status) {
		return fmt.Errorf("paper: order %s already %s", exchangeOrderID, o.Status)
	}
	o.Status = common.StatusCancelled
	return nil
}

func (v *Venue) FetchOrder(ctx context.Context, symbol, exchangeOrderID string) (common.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[exchangeOrderID]
	if !ok {
		return common.OrderResult{}, fmt.Errorf("paper: order %s not found", exchangeOrderID)
	}

	if pf, pending := v.pendingFill[exchangeOrderID]; pending {
		v.fetchCounts[exchangeOrderID]++
		if v.fetchCounts[exchangeOrderID] >= v.MarketFillPolls {
			o.Status = common.StatusFilled
			o.FilledQuantity = pf.qty
			o.AveragePrice = pf.price
			delete(v.pendingFill, exchangeOrderID)
		}
	}
	out := *o
	return out, nil
}

func (v *Venue) FetchOpenOrders(ctx context.Context, symbol string) ([]common.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []common.OrderResult
	for _, o := range v.orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if common.IsOpen(o.Status) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (v *Venue) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.prices[symbol]
	if !ok {
		return common.Ticker{}, fmt.Errorf("paper: no price for %s", symbol)
	}
	return common.Ticker{Symbol: symbol, Price: p, Timestamp: time.Now()}, nil
}

func (v *Venue) FetchBalance(ctx context.Context) ([]common.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]common.Balance, len(v.balances))
	copy(out, v.balances)
	return out, nil
}

func (v *Venue) GetPrecision(ctx context.Context, symbol string) (common.Precision, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.precision[symbol]; ok {
		return p, nil
	}
	return common.Precision{
		StepSize: decimal.New(1, -6),
		TickSize: decimal.New(1, -2),
	}, nil
}

// Fill applies a scripted fill to a resting order, as a private stream or
// reconciliation pass would observe it.
func (v *Venue) Fill(exchangeOrderID string, qty, price decimal.Decimal, terminal bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("paper: order %s not found", exchangeOrderID)
	}
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	o.AveragePrice = price
	if terminal {
		o.Status = common.StatusFilled
	} else {
		o.Status = common.StatusPartiallyFilled
	}
	return nil
}
