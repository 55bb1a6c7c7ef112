package common

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeName identifies a supported venue.
type ExchangeName string

const (
	ExchangeBinance ExchangeName = "BINANCE"
	ExchangeBybit   ExchangeName = "BYBIT"
	ExchangeOKX     ExchangeName = "OKX"
	ExchangeUpbit   ExchangeName = "UPBIT"
	ExchangeKIS     ExchangeName = "KIS" // Korea Investment securities
	ExchangePaper   ExchangeName = "PAPER"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the canonical order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeCancel     OrderType = "CANCEL"
	OrderTypeCancelAll  OrderType = "CANCEL_ALL_ORDER"
	// Securities-only variants
	OrderTypeBestLimit       OrderType = "BEST_LIMIT"
	OrderTypeConditionMarket OrderType = "CONDITION_MARKET"
)

// IsStop reports whether the type occupies a conditional-order slot. The
// securities CONDITION_MARKET counts here so capacity accounting matches its
// queue priority.
func (t OrderType) IsStop() bool {
	return t == OrderTypeStopMarket || t == OrderTypeStopLimit || t == OrderTypeConditionMarket
}

// IsCancel reports whether the type is a cancel action rather than an order.
func (t OrderType) IsCancel() bool {
	return t == OrderTypeCancel || t == OrderTypeCancelAll
}

// MarketType distinguishes venue market segments.
type MarketType string

const (
	MarketSpot    MarketType = "SPOT"
	MarketFutures MarketType = "FUTURES"
	MarketStock   MarketType = "STOCK"
)

// AccountType distinguishes crypto from securities accounts.
type AccountType string

const (
	AccountCrypto AccountType = "CRYPTO"
	AccountStock  AccountType = "STOCK"
)

// OrderRequest captures an order intent in canonical terms. Adapters translate
// the type/side vocabulary into the venue's representation.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Type      OrderType
	Quantity  decimal.Decimal
	Price     decimal.Decimal // required for LIMIT/STOP_LIMIT
	StopPrice decimal.Decimal // required for STOP_*
	Market    MarketType
	ClientID  string
	Leverage  int // futures only; 0 means account default
}

// OrderResult is the canonical view of an exchange order ack or fetch.
// Adjusted* reflect precision rounding the adapter applied before submission.
type OrderResult struct {
	ExchangeOrderID   string
	Status            OrderStatus
	FilledQuantity    decimal.Decimal
	AveragePrice      decimal.Decimal
	AdjustedQuantity  decimal.Decimal
	AdjustedPrice     decimal.Decimal
	AdjustedStopPrice decimal.Decimal
	Symbol            string
	Side              Side
	Type              OrderType
	Raw               json.RawMessage
}

// OrderOutcome is one element of a batch submission result. A batch may
// partially succeed; failed elements carry Err while siblings remain valid.
type OrderOutcome struct {
	Result OrderResult
	Err    error
}

// Ticker is a last-price snapshot.
type Ticker struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Balance is a per-asset account balance.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// IsQuoteAsset reports whether an asset is a settlement currency. Capital and
// balance rollups count these; base-asset value is carried by positions.
func IsQuoteAsset(asset string) bool {
	switch asset {
	case "USDT", "USDC", "BUSD", "USD", "KRW":
		return true
	}
	return false
}

// Precision carries the venue's instrument rounding rules.
type Precision struct {
	StepSize    decimal.Decimal
	TickSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// PriceQuote is a normalized public price feed message.
type PriceQuote struct {
	Exchange  ExchangeName
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
	Volume    decimal.Decimal
	Change24h decimal.Decimal
}
