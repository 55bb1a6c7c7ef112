package binance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// translateOrderType maps the canonical order type onto Binance's vocabulary,
// which differs between spot and futures for conditional orders.
func translateOrderType(t common.OrderType, market common.MarketType) (string, error) {
	switch t {
	case common.OrderTypeMarket:
		return "MARKET", nil
	case common.OrderTypeLimit:
		return "LIMIT", nil
	case common.OrderTypeStopMarket:
		if market == common.MarketFutures {
			return "STOP_MARKET", nil
		}
		return "STOP_LOSS", nil
	case common.OrderTypeStopLimit:
		if market == common.MarketFutures {
			return "STOP", nil
		}
		return "STOP_LOSS_LIMIT", nil
	default:
		return "", fmt.Errorf("binance: unsupported order type %s", t)
	}
}

// orderResponse covers the union of spot and futures order payloads.
type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	ExecutedQty   string `json:"executedQty"`
	// Spot carries the cumulative quote volume, futures an average price.
	CumQuoteQty string `json:"cummulativeQuoteQty"`
	AvgPrice    string `json:"avgPrice"`
}

func (r *orderResponse) toResult(market common.MarketType) common.OrderResult {
	filled, _ := decimal.NewFromString(r.ExecutedQty)

	var avg decimal.Decimal
	if r.AvgPrice != "" {
		avg, _ = decimal.NewFromString(r.AvgPrice)
	} else if r.CumQuoteQty != "" && filled.IsPositive() {
		if quote, err := decimal.NewFromString(r.CumQuoteQty); err == nil {
			avg = quote.Div(filled)
		}
	}

	price, _ := decimal.NewFromString(r.Price)
	return common.OrderResult{
		ExchangeOrderID: fmt.Sprintf("%d", r.OrderID),
		Status:          common.NormalizeStatus(r.Status, common.ExchangeBinance),
		FilledQuantity:  filled,
		AveragePrice:    avg,
		AdjustedPrice:   price,
		Symbol:          r.Symbol,
		Side:            common.Side(r.Side),
	}
}

// exchangeInfoResponse carries only the filters the quantizer needs.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			TickSize    string `json:"tickSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
			Notional    string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (r *exchangeInfoResponse) precisionFor(venueSymbol string) (common.Precision, error) {
	for _, s := range r.Symbols {
		if s.Symbol != venueSymbol {
			continue
		}
		var p common.Precision
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE", "MARKET_LOT_SIZE":
				if f.StepSize != "" && p.StepSize.IsZero() {
					p.StepSize, _ = decimal.NewFromString(f.StepSize)
				}
				if f.MinQty != "" && p.MinQty.IsZero() {
					p.MinQty, _ = decimal.NewFromString(f.MinQty)
				}
			case "PRICE_FILTER":
				p.TickSize, _ = decimal.NewFromString(f.TickSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				if f.MinNotional != "" {
					p.MinNotional, _ = decimal.NewFromString(f.MinNotional)
				} else if f.Notional != "" {
					p.MinNotional, _ = decimal.NewFromString(f.Notional)
				}
			}
		}
		return p, nil
	}
	return common.Precision{}, fmt.Errorf("binance: symbol %s not in exchangeInfo", venueSymbol)
}

// quantizeDown floors v to the nearest multiple of step.
func quantizeDown(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// quantizeNearest rounds v to the nearest multiple of step.
func quantizeNearest(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Round(0).Mul(step)
}
