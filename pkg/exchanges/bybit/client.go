// Package bybit implements the Exchange capability against the Bybit v5
// unified API (spot and USDT-perpetual linear categories).
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Config holds Bybit credentials and routing.
type Config struct {
	APIKey     string
	APISecret  string
	Market     common.MarketType
	Testnet    bool
	RecvWindow int64
	AccountKey string
}

// Client is a Bybit v5 client for one account on one market segment.
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter common.Limiter

	mu        sync.RWMutex
	precision map[string]common.Precision
}

func New(cfg Config, limiter common.Limiter) *Client {
	base := "https://api.bybit.com"
	if cfg.Testnet {
		base = "https://api-testnet.bybit.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	return &Client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(300 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err == nil && r.StatusCode() >= 500
			}),
		limiter:   limiter,
		precision: make(map[string]common.Precision),
	}
}

func (c *Client) Name() common.ExchangeName { return common.ExchangeBybit }
func (c *Client) Market() common.MarketType { return c.cfg.Market }

func (c *Client) category() string {
	if c.cfg.Market == common.MarketFutures {
		return "linear"
	}
	return "spot"
}

// envelope is the common v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	body, adjusted, err := c.orderBody(ctx, req)
	if err != nil {
		return common.OrderResult{}, err
	}
	raw, err := c.doSigned(ctx, http.MethodPost, "/v5/order/create", "", body)
	if err != nil {
		return common.OrderResult{}, err
	}
	var out struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode create: %w", err)
	}
	// Bybit's create ack carries no fill state; fetch for the full view.
	res, err := c.FetchOrder(ctx, req.Symbol, out.OrderID)
	if err != nil {
		res = common.OrderResult{ExchangeOrderID: out.OrderID, Status: common.StatusNew, Symbol: req.Symbol, Side: req.Side}
	}
	res.AdjustedQuantity = adjusted.Quantity
	res.AdjustedPrice = adjusted.Price
	res.AdjustedStopPrice = adjusted.StopPrice
	return res, nil
}

// CreateBatchOrders uses /v5/order/create-batch for linear; per-element retCode
// values preserve partial success. Spot falls back to sequential submission.
func (c *Client) CreateBatchOrders(ctx context.Context, reqs []common.OrderRequest) ([]common.OrderOutcome, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if c.cfg.Market != common.MarketFutures || len(reqs) > 10 {
		outcomes := make([]common.OrderOutcome, 0, len(reqs))
		for _, req := range reqs {
			res, err := c.CreateOrder(ctx, req)
			outcomes = append(outcomes, common.OrderOutcome{Result: res, Err: err})
		}
		return outcomes, nil
	}

	elems := make([]map[string]any, 0, len(reqs))
	for _, req := range reqs {
		body, _, err := c.orderBody(ctx, req)
		if err != nil {
			return nil, err
		}
		delete(body, "category")
		elems = append(elems, body)
	}
	payload := map[string]any{"category": c.category(), "request": elems}

	raw, err := c.doSigned(ctx, http.MethodPost, "/v5/order/create-batch", "", payload)
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			OrderID string `json:"orderId"`
			Symbol  string `json:"symbol"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	outcomes := make([]common.OrderOutcome, 0, len(reqs))
	for i := range reqs {
		if i >= len(out.List) || out.List[i].OrderID == "" {
			outcomes = append(outcomes, common.OrderOutcome{Err: errors.New("bybit batch element rejected")})
			continue
		}
		outcomes = append(outcomes, common.OrderOutcome{Result: common.OrderResult{
			ExchangeOrderID: out.List[i].OrderID,
			Status:          common.StatusNew,
			Symbol:          reqs[i].Symbol,
			Side:            reqs[i].Side,
		}})
	}
	return outcomes, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	body := map[string]any{
		"category": c.category(),
		"symbol":   common.VenueSymbol(symbol),
		"orderId":  exchangeOrderID,
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/order/cancel", "", body)
	return err
}

func (c *Client) FetchOrder(ctx context.Context, symbol, exchangeOrderID string) (common.OrderResult, error) {
	query := fmt.Sprintf("category=%s&symbol=%s&orderId=%s", c.category(), common.VenueSymbol(symbol), exchangeOrderID)
	raw, err := c.doSigned(ctx, http.MethodGet, "/v5/order/realtime", query, nil)
	if err != nil {
		return common.OrderResult{}, err
	}
	orders, err := decodeOrderList(raw)
	if err != nil {
		return common.OrderResult{}, err
	}
	if len(orders) == 0 {
		// Fall back to history: realtime only lists live orders.
		raw, err = c.doSigned(ctx, http.MethodGet, "/v5/order/history", query, nil)
		if err != nil {
			return common.OrderResult{}, err
		}
		if orders, err = decodeOrderList(raw); err != nil || len(orders) == 0 {
			return common.OrderResult{}, fmt.Errorf("bybit: order %s not found", exchangeOrderID)
		}
	}
	return orders[0], nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]common.OrderResult, error) {
	query := "category=" + c.category()
	if symbol != "" {
		query += "&symbol=" + common.VenueSymbol(symbol)
	} else if c.cfg.Market == common.MarketFutures {
		query += "&settleCoin=USDT"
	}
	raw, err := c.doSigned(ctx, http.MethodGet, "/v5/order/realtime", query, nil)
	if err != nil {
		return nil, err
	}
	return decodeOrderList(raw)
}

func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	if err := c.wait(ctx); err != nil {
		return common.Ticker{}, err
	}
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"category": c.category(), "symbol": common.VenueSymbol(symbol)}).
		SetResult(&env).
		Get("/v5/market/tickers")
	if err != nil {
		return common.Ticker{}, err
	}
	if resp.StatusCode() != http.StatusOK || env.RetCode != 0 {
		return common.Ticker{}, fmt.Errorf("bybit tickers: status %d retCode %d %s", resp.StatusCode(), env.RetCode, env.RetMsg)
	}
	var out struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil || len(out.List) == 0 {
		return common.Ticker{}, fmt.Errorf("bybit: no ticker for %s", symbol)
	}
	price, err := decimal.NewFromString(out.List[0].LastPrice)
	if err != nil {
		return common.Ticker{}, fmt.Errorf("parse ticker price: %w", err)
	}
	return common.Ticker{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

func (c *Client) FetchBalance(ctx context.Context) ([]common.Balance, error) {
	raw, err := c.doSigned(ctx, http.MethodGet, "/v5/account/wallet-balance", "accountType=UNIFIED", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			Coin []struct {
				Coin      string `json:"coin"`
				Free      string `json:"availableToWithdraw"`
				WalletBal string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	var balances []common.Balance
	for _, acct := range out.List {
		for _, coin := range acct.Coin {
			free, _ := decimal.NewFromString(coin.Free)
			total, _ := decimal.NewFromString(coin.WalletBal)
			balances = append(balances, common.Balance{Asset: coin.Coin, Free: free, Locked: total.Sub(free)})
		}
	}
	return balances, nil
}

func (c *Client) GetPrecision(ctx context.Context, symbol string) (common.Precision, error) {
	venueSym := common.VenueSymbol(symbol)

	c.mu.RLock()
	p, ok := c.precision[venueSym]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	if err := c.wait(ctx); err != nil {
		return common.Precision{}, err
	}
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"category": c.category(), "symbol": venueSym}).
		SetResult(&env).
		Get("/v5/market/instruments-info")
	if err != nil {
		return common.Precision{}, err
	}
	if resp.StatusCode() != http.StatusOK || env.RetCode != 0 {
		return common.Precision{}, fmt.Errorf("bybit instruments: status %d retCode %d", resp.StatusCode(), env.RetCode)
	}
	var out struct {
		List []struct {
			LotSizeFilter struct {
				QtyStep        string `json:"qtyStep"`
				BasePrecision  string `json:"basePrecision"`
				MinOrderQty    string `json:"minOrderQty"`
				MinOrderAmt    string `json:"minOrderAmt"`
				MinNotionalVal string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil || len(out.List) == 0 {
		return common.Precision{}, fmt.Errorf("bybit: symbol %s not found", symbol)
	}

	lot := out.List[0].LotSizeFilter
	step := lot.QtyStep
	if step == "" {
		step = lot.BasePrecision // spot uses basePrecision
	}
	notional := lot.MinNotionalVal
	if notional == "" {
		notional = lot.MinOrderAmt
	}
	p.StepSize, _ = decimal.NewFromString(step)
	p.TickSize, _ = decimal.NewFromString(out.List[0].PriceFilter.TickSize)
	p.MinQty, _ = decimal.NewFromString(lot.MinOrderQty)
	p.MinNotional, _ = decimal.NewFromString(notional)

	c.mu.Lock()
	c.precision[venueSym] = p
	c.mu.Unlock()
	return p, nil
}

// orderBody builds the create-order payload with precision rounding applied.
func (c *Client) orderBody(ctx context.Context, req common.OrderRequest) (map[string]any, common.OrderRequest, error) {
	adjusted := req
	if prec, err := c.GetPrecision(ctx, req.Symbol); err == nil {
		if !prec.StepSize.IsZero() {
			adjusted.Quantity = req.Quantity.Div(prec.StepSize).Floor().Mul(prec.StepSize)
		}
		if !req.Price.IsZero() && !prec.TickSize.IsZero() {
			adjusted.Price = req.Price.Div(prec.TickSize).Round(0).Mul(prec.TickSize)
		}
		if !req.StopPrice.IsZero() && !prec.TickSize.IsZero() {
			adjusted.StopPrice = req.StopPrice.Div(prec.TickSize).Round(0).Mul(prec.TickSize)
		}
	}
	if adjusted.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, adjusted, fmt.Errorf("bybit: quantity %s rounds to zero", req.Quantity)
	}

	body := map[string]any{
		"category": c.category(),
		"symbol":   common.VenueSymbol(req.Symbol),
		"side":     sideTitle(req.Side),
		"qty":      adjusted.Quantity.String(),
	}
	switch req.Type {
	case common.OrderTypeMarket:
		body["orderType"] = "Market"
	case common.OrderTypeLimit:
		body["orderType"] = "Limit"
		body["price"] = adjusted.Price.String()
		body["timeInForce"] = "GTC"
	case common.OrderTypeStopMarket:
		body["orderType"] = "Market"
		body["triggerPrice"] = adjusted.StopPrice.String()
		body["triggerDirection"] = triggerDirection(req.Side)
	case common.OrderTypeStopLimit:
		body["orderType"] = "Limit"
		body["price"] = adjusted.Price.String()
		body["triggerPrice"] = adjusted.StopPrice.String()
		body["triggerDirection"] = triggerDirection(req.Side)
		body["timeInForce"] = "GTC"
	default:
		return nil, adjusted, fmt.Errorf("bybit: unsupported order type %s", req.Type)
	}
	if req.ClientID != "" {
		body["orderLinkId"] = req.ClientID
	}
	return body, adjusted, nil
}

// doSigned performs a v5-signed request. The signature covers
// timestamp+apiKey+recvWindow+(query|body).
func (c *Client) doSigned(ctx context.Context, method, path, query string, body any) (json.RawMessage, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("bybit: API key/secret required")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recv := strconv.FormatInt(c.cfg.RecvWindow, 10)

	payload := query
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		payload = string(bodyBytes)
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(ts + c.cfg.APIKey + recv + payload))

	r := c.http.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", c.cfg.APIKey).
		SetHeader("X-BAPI-TIMESTAMP", ts).
		SetHeader("X-BAPI-RECV-WINDOW", recv).
		SetHeader("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))

	var (
		resp *resty.Response
		err  error
	)
	if method == http.MethodGet {
		url := path
		if query != "" {
			url += "?" + query
		}
		resp, err = r.Get(url)
	} else {
		resp, err = r.SetHeader("Content-Type", "application/json").SetBody(bodyBytes).Post(path)
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit: retCode %d: %s", env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

func decodeOrderList(raw json.RawMessage) ([]common.OrderResult, error) {
	var out struct {
		List []struct {
			OrderID      string `json:"orderId"`
			Symbol       string `json:"symbol"`
			Side         string `json:"side"`
			OrderStatus  string `json:"orderStatus"`
			CumExecQty   string `json:"cumExecQty"`
			AvgPrice     string `json:"avgPrice"`
			Price        string `json:"price"`
			TriggerPrice string `json:"triggerPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode order list: %w", err)
	}
	orders := make([]common.OrderResult, 0, len(out.List))
	for _, o := range out.List {
		filled, _ := decimal.NewFromString(o.CumExecQty)
		avg, _ := decimal.NewFromString(o.AvgPrice)
		price, _ := decimal.NewFromString(o.Price)
		stop, _ := decimal.NewFromString(o.TriggerPrice)
		side := common.SideBuy
		if o.Side == "Sell" {
			side = common.SideSell
		}
		orders = append(orders, common.OrderResult{
			ExchangeOrderID:   o.OrderID,
			Status:            common.NormalizeStatus(o.OrderStatus, common.ExchangeBybit),
			FilledQuantity:    filled,
			AveragePrice:      avg,
			AdjustedPrice:     price,
			AdjustedStopPrice: stop,
			Symbol:            o.Symbol,
			Side:              side,
		})
	}
	return orders, nil
}

func sideTitle(s common.Side) string {
	if s == common.SideSell {
		return "Sell"
	}
	return "Buy"
}

// triggerDirection: a buy stop triggers on rise (1), a sell stop on fall (2).
func triggerDirection(s common.Side) int {
	if s == common.SideBuy {
		return 1
	}
	return 2
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, c.cfg.AccountKey+":"+string(common.ExchangeBybit))
}
