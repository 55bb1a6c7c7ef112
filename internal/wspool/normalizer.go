package wspool

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Normalizer adapts one venue's public feed to the shared quote shape. One
// implementation per exchange.
type Normalizer interface {
	// URL returns the public stream endpoint.
	URL(market common.MarketType, testnet bool) string
	// SubscribeFrame builds the venue's subscribe message for symbols.
	SubscribeFrame(symbols []string) any
	// UnsubscribeFrame builds the venue's unsubscribe message for symbols.
	UnsubscribeFrame(symbols []string) any
	// Parse extracts a quote from a raw message; false for non-quote frames.
	Parse(msg []byte) (common.PriceQuote, bool)
}

// NormalizerFor returns the normalizer for an exchange, or nil when the venue
// has no public feed support.
func NormalizerFor(exchange common.ExchangeName) Normalizer {
	switch exchange {
	case common.ExchangeBinance:
		return binanceNormalizer{}
	case common.ExchangeBybit:
		return bybitNormalizer{}
	default:
		return nil
	}
}

// --- Binance ---

type binanceNormalizer struct{}

func (binanceNormalizer) URL(market common.MarketType, testnet bool) string {
	switch {
	case market == common.MarketFutures && testnet:
		return "wss://stream.binancefuture.com/ws"
	case market == common.MarketFutures:
		return "wss://fstream.binance.com/ws"
	case testnet:
		return "wss://testnet.binance.vision/ws"
	default:
		return "wss://stream.binance.com:9443/ws"
	}
}

func (binanceNormalizer) SubscribeFrame(symbols []string) any {
	return map[string]any{
		"method": "SUBSCRIBE",
		"params": tickerStreams(symbols),
		"id":     time.Now().UnixMilli(),
	}
}

func (binanceNormalizer) UnsubscribeFrame(symbols []string) any {
	return map[string]any{
		"method": "UNSUBSCRIBE",
		"params": tickerStreams(symbols),
		"id":     time.Now().UnixMilli(),
	}
}

func tickerStreams(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, strings.ToLower(common.VenueSymbol(s))+"@miniTicker")
	}
	return out
}

// binanceTicker is the miniTicker payload.
type binanceTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

func (binanceNormalizer) Parse(msg []byte) (common.PriceQuote, bool) {
	var t binanceTicker
	if err := json.Unmarshal(msg, &t); err != nil || t.EventType != "24hrMiniTicker" {
		return common.PriceQuote{}, false
	}
	price, err := decimal.NewFromString(t.Close)
	if err != nil {
		return common.PriceQuote{}, false
	}
	volume, _ := decimal.NewFromString(t.Volume)
	return common.PriceQuote{
		Exchange:  common.ExchangeBinance,
		Symbol:    t.Symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.UnixMilli(t.EventTime),
	}, true
}

// --- Bybit ---

type bybitNormalizer struct{}

func (bybitNormalizer) URL(market common.MarketType, testnet bool) string {
	host := "stream.bybit.com"
	if testnet {
		host = "stream-testnet.bybit.com"
	}
	channel := "spot"
	if market == common.MarketFutures {
		channel = "linear"
	}
	return "wss://" + host + "/v5/public/" + channel
}

func (bybitNormalizer) SubscribeFrame(symbols []string) any {
	return map[string]any{"op": "subscribe", "args": bybitTopics(symbols)}
}

func (bybitNormalizer) UnsubscribeFrame(symbols []string) any {
	return map[string]any{"op": "unsubscribe", "args": bybitTopics(symbols)}
}

func bybitTopics(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, "tickers."+common.VenueSymbol(s))
	}
	return out
}

// bybitTicker is the v5 tickers push payload.
type bybitTicker struct {
	Topic string `json:"topic"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		Volume24h   string `json:"volume24h"`
		Price24hPcnt string `json:"price24hPcnt"`
	} `json:"data"`
}

func (bybitNormalizer) Parse(msg []byte) (common.PriceQuote, bool) {
	var t bybitTicker
	if err := json.Unmarshal(msg, &t); err != nil || !strings.HasPrefix(t.Topic, "tickers.") {
		return common.PriceQuote{}, false
	}
	price, err := decimal.NewFromString(t.Data.LastPrice)
	if err != nil {
		return common.PriceQuote{}, false
	}
	volume, _ := decimal.NewFromString(t.Data.Volume24h)
	change, _ := decimal.NewFromString(t.Data.Price24hPcnt)
	return common.PriceQuote{
		Exchange:  common.ExchangeBybit,
		Symbol:    t.Data.Symbol,
		Price:     price,
		Volume:    volume,
		Change24h: change,
		Timestamp: time.UnixMilli(t.TS),
	}, true
}
