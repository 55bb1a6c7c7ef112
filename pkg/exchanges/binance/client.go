// Package binance implements the Exchange capability against Binance spot and
// USDT-margined futures REST APIs.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Config holds Binance credentials and routing.
type Config struct {
	APIKey     string
	APISecret  string
	Market     common.MarketType // SPOT or FUTURES
	Testnet    bool
	RecvWindow int64 // ms
	AccountKey string // rate-limiter key, usually the account id
}

// Client is a Binance REST client for one account on one market segment.
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter common.Limiter
	sync    *common.TimeSync

	mu        sync.RWMutex
	precision map[string]common.Precision
}

// New creates a client. limiter may be nil (no gating).
func New(cfg Config, limiter common.Limiter) *Client {
	base := "https://api.binance.com"
	if cfg.Market == common.MarketFutures {
		base = "https://fapi.binance.com"
		if cfg.Testnet {
			base = "https://testnet.binancefuture.com"
		}
	} else if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}

	c := &Client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(300 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err == nil && r.StatusCode() >= 500
			}).
			SetHeader("X-MBX-APIKEY", cfg.APIKey),
		limiter:   limiter,
		precision: make(map[string]common.Precision),
	}
	c.sync = common.NewTimeSync(func(ctx context.Context) (int64, error) {
		return c.serverTime(ctx)
	})
	return c
}

func (c *Client) Name() common.ExchangeName { return common.ExchangeBinance }
func (c *Client) Market() common.MarketType { return c.cfg.Market }

func (c *Client) apiPrefix() string {
	if c.cfg.Market == common.MarketFutures {
		return "/fapi/v1"
	}
	return "/api/v3"
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(c.apiPrefix() + "/time")
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("binance time: status %d", resp.StatusCode())
	}
	return out.ServerTime, nil
}

// CreateOrder submits one order, applying the instrument's precision rules
// before signing so the venue never rejects on step or tick.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("binance: API key/secret required")
	}
	params, adjusted, err := c.orderParams(ctx, req)
	if err != nil {
		return common.OrderResult{}, err
	}

	body, err := c.doSigned(ctx, http.MethodPost, c.apiPrefix()+"/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}
	res := resp.toResult(c.cfg.Market)
	res.AdjustedQuantity = adjusted.Quantity
	res.AdjustedPrice = adjusted.Price
	res.AdjustedStopPrice = adjusted.StopPrice
	res.Raw = body
	return res, nil
}

// CreateBatchOrders submits orders as a venue batch where supported.
// Futures uses /fapi/v1/batchOrders, which returns per-element outcomes:
// a failing element never invalidates its siblings. Spot has no batch
// endpoint, so elements are submitted sequentially with the same contract.
func (c *Client) CreateBatchOrders(ctx context.Context, reqs []common.OrderRequest) ([]common.OrderOutcome, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if c.cfg.Market != common.MarketFutures || len(reqs) > 5 {
		return c.batchSequential(ctx, reqs), nil
	}

	elems := make([]map[string]string, 0, len(reqs))
	adjustedReqs := make([]common.OrderRequest, 0, len(reqs))
	for _, req := range reqs {
		params, adjusted, err := c.orderParams(ctx, req)
		if err != nil {
			// Precision failures are per-element outcomes, not batch failures.
			return c.batchSequential(ctx, reqs), nil
		}
		elem := make(map[string]string)
		for k := range params {
			if k != "timestamp" && k != "recvWindow" {
				elem[k] = params.Get(k)
			}
		}
		elems = append(elems, elem)
		adjustedReqs = append(adjustedReqs, adjusted)
	}

	payload, err := json.Marshal(elems)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	params := url.Values{}
	params.Set("batchOrders", string(payload))

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/batchOrders", params)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	outcomes := make([]common.OrderOutcome, 0, len(raw))
	for i, elem := range raw {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(elem, &apiErr); err == nil && apiErr.Code != 0 {
			outcomes = append(outcomes, common.OrderOutcome{
				Err: fmt.Errorf("binance batch element %d: %d %s", i, apiErr.Code, apiErr.Msg),
			})
			continue
		}
		var resp orderResponse
		if err := json.Unmarshal(elem, &resp); err != nil {
			outcomes = append(outcomes, common.OrderOutcome{Err: fmt.Errorf("decode batch element %d: %w", i, err)})
			continue
		}
		res := resp.toResult(c.cfg.Market)
		if i < len(adjustedReqs) {
			res.AdjustedQuantity = adjustedReqs[i].Quantity
			res.AdjustedPrice = adjustedReqs[i].Price
			res.AdjustedStopPrice = adjustedReqs[i].StopPrice
		}
		res.Raw = elem
		outcomes = append(outcomes, common.OrderOutcome{Result: res})
	}
	return outcomes, nil
}

func (c *Client) batchSequential(ctx context.Context, reqs []common.OrderRequest) []common.OrderOutcome {
	outcomes := make([]common.OrderOutcome, 0, len(reqs))
	for _, req := range reqs {
		res, err := c.CreateOrder(ctx, req)
		outcomes = append(outcomes, common.OrderOutcome{Result: res, Err: err})
	}
	return outcomes
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("symbol", common.VenueSymbol(symbol))
	params.Set("orderId", exchangeOrderID)
	_, err := c.doSigned(ctx, http.MethodDelete, c.apiPrefix()+"/order", params)
	return err
}

// FetchOrder is the authoritative status read used to re-synchronize local
// state after polls or stream gaps.
func (c *Client) FetchOrder(ctx context.Context, symbol, exchangeOrderID string) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", common.VenueSymbol(symbol))
	params.Set("orderId", exchangeOrderID)
	body, err := c.doSigned(ctx, http.MethodGet, c.apiPrefix()+"/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	res := resp.toResult(c.cfg.Market)
	res.Raw = body
	return res, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]common.OrderResult, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", common.VenueSymbol(symbol))
	}
	body, err := c.doSigned(ctx, http.MethodGet, c.apiPrefix()+"/openOrders", params)
	if err != nil {
		return nil, err
	}
	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]common.OrderResult, 0, len(resp))
	for i := range resp {
		out = append(out, resp[i].toResult(c.cfg.Market))
	}
	return out, nil
}

func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	if err := c.wait(ctx); err != nil {
		return common.Ticker{}, err
	}
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", common.VenueSymbol(symbol)).
		SetResult(&out).
		Get(c.apiPrefix() + "/ticker/price")
	if err != nil {
		return common.Ticker{}, err
	}
	if resp.StatusCode() != http.StatusOK {
		return common.Ticker{}, fmt.Errorf("binance ticker: status %d: %s", resp.StatusCode(), resp.String())
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return common.Ticker{}, fmt.Errorf("parse ticker price: %w", err)
	}
	return common.Ticker{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

func (c *Client) FetchBalance(ctx context.Context) ([]common.Balance, error) {
	if c.cfg.Market == common.MarketFutures {
		body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
		if err != nil {
			return nil, err
		}
		var resp []struct {
			Asset            string `json:"asset"`
			AvailableBalance string `json:"availableBalance"`
			Balance          string `json:"balance"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode balance: %w", err)
		}
		out := make([]common.Balance, 0, len(resp))
		for _, b := range resp {
			free, _ := decimal.NewFromString(b.AvailableBalance)
			total, _ := decimal.NewFromString(b.Balance)
			out = append(out, common.Balance{Asset: b.Asset, Free: free, Locked: total.Sub(free)})
		}
		return out, nil
	}

	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	out := make([]common.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, common.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// GetPrecision returns the instrument rounding rules, cached per symbol.
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
	var out exchangeInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", venueSym).
		SetResult(&out).
		Get(c.apiPrefix() + "/exchangeInfo")
	if err != nil {
		return common.Precision{}, err
	}
	if resp.StatusCode() != http.StatusOK {
		return common.Precision{}, fmt.Errorf("binance exchangeInfo: status %d: %s", resp.StatusCode(), resp.String())
	}

	p, err = out.precisionFor(venueSym)
	if err != nil {
		return common.Precision{}, err
	}

	c.mu.Lock()
	c.precision[venueSym] = p
	c.mu.Unlock()
	return p, nil
}

// orderParams builds signed request params and returns the request with
// precision-adjusted quantity/price applied.
func (c *Client) orderParams(ctx context.Context, req common.OrderRequest) (url.Values, common.OrderRequest, error) {
	venueType, err := translateOrderType(req.Type, c.cfg.Market)
	if err != nil {
		return nil, req, err
	}

	adjusted := req
	if prec, err := c.GetPrecision(ctx, req.Symbol); err == nil {
		adjusted.Quantity = quantizeDown(req.Quantity, prec.StepSize)
		if !req.Price.IsZero() {
			adjusted.Price = quantizeNearest(req.Price, prec.TickSize)
		}
		if !req.StopPrice.IsZero() {
			adjusted.StopPrice = quantizeNearest(req.StopPrice, prec.TickSize)
		}
	}
	if adjusted.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, adjusted, fmt.Errorf("binance: quantity %s rounds to zero", req.Quantity)
	}

	params := url.Values{}
	params.Set("symbol", common.VenueSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("type", venueType)
	params.Set("quantity", adjusted.Quantity.String())
	if req.Type == common.OrderTypeLimit || req.Type == common.OrderTypeStopLimit {
		params.Set("price", adjusted.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.Type.IsStop() {
		params.Set("stopPrice", adjusted.StopPrice.String())
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	return params, adjusted, nil
}

// doSigned performs a signed request, appending timestamp, recvWindow and the
// HMAC-SHA256 signature over the query string.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	ts := time.Now().UnixMilli()
	if c.sync != nil && c.sync.Offset() != 0 {
		ts = c.sync.Now()
	}
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	r := c.http.R().SetContext(ctx)
	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = r.Get(path + "?" + query)
	case http.MethodPost:
		resp, err = r.SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(query).Post(path)
	case http.MethodDelete:
		resp, err = r.Delete(path + "?" + query)
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("binance: status %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, c.cfg.AccountKey+":"+string(common.ExchangeBinance))
}
