// Package wspool maintains the venue WebSocket connections: public price
// feeds that populate the price cache and private account feeds that push
// fills into the position pipeline ahead of REST polling.
package wspool

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/binee108/signalbridge/internal/pricing"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// FillHandler consumes private-feed fill notifications.
type FillHandler func(ctx context.Context, accountID string, res common.OrderResult)

// Pool is the connection registry.
type Pool struct {
	prices *pricing.Service
	fills  FillHandler

	// connMu guards conns; subMu guards subscription refcounts. Separate
	// locks: refcount churn must not serialize against connection dialing.
	connMu sync.Mutex
	conns  map[string]*conn

	subMu sync.Mutex
	subs  map[string]int // (connKey|symbol) -> refcount

	ctx context.Context
}

// NewPool creates a pool feeding prices into the shared price service.
func NewPool(ctx context.Context, prices *pricing.Service, fills FillHandler) *Pool {
	return &Pool{
		prices: prices,
		fills:  fills,
		conns:  make(map[string]*conn),
		subs:   make(map[string]int),
		ctx:    ctx,
	}
}

func publicKey(exchange common.ExchangeName, market common.MarketType) string {
	return "public:" + string(exchange) + ":" + string(market)
}

// SubscribeSymbol refcounts a public price subscription. Only the 0->1
// transition sends a subscribe frame; repeated subscribers share the stream.
func (p *Pool) SubscribeSymbol(exchange common.ExchangeName, market common.MarketType, testnet bool, symbol string) error {
	norm := NormalizerFor(exchange)
	if norm == nil {
		return nil
	}
	key := publicKey(exchange, market)

	c, err := p.ensurePublic(key, norm, exchange, market, testnet)
	if err != nil {
		return err
	}

	subKey := key + "|" + symbol
	p.subMu.Lock()
	p.subs[subKey]++
	first := p.subs[subKey] == 1
	p.subMu.Unlock()

	if !first {
		return nil
	}
	return c.send(norm.SubscribeFrame([]string{symbol}))
}

// UnsubscribeSymbol decrements the refcount; the 1->0 transition sends the
// venue unsubscribe and drops the key.
func (p *Pool) UnsubscribeSymbol(exchange common.ExchangeName, market common.MarketType, symbol string) error {
	norm := NormalizerFor(exchange)
	if norm == nil {
		return nil
	}
	key := publicKey(exchange, market)

	subKey := key + "|" + symbol
	p.subMu.Lock()
	n, ok := p.subs[subKey]
	if !ok {
		p.subMu.Unlock()
		return nil
	}
	if n > 1 {
		p.subs[subKey] = n - 1
		p.subMu.Unlock()
		return nil
	}
	delete(p.subs, subKey)
	p.subMu.Unlock()

	p.connMu.Lock()
	c := p.conns[key]
	p.connMu.Unlock()
	if c == nil {
		return nil
	}
	return c.send(norm.UnsubscribeFrame([]string{symbol}))
}

// ensurePublic returns the live public connection for (exchange, market),
// dialing one if absent. Registration happens only after the handshake
// succeeds; a failed dial leaves no ghost entry.
func (p *Pool) ensurePublic(key string, norm Normalizer, exchange common.ExchangeName, market common.MarketType, testnet bool) (*conn, error) {
	p.connMu.Lock()
	if c, ok := p.conns[key]; ok {
		p.connMu.Unlock()
		return c, nil
	}
	p.connMu.Unlock()

	onMessage := func(msg []byte) {
		quote, ok := norm.Parse(msg)
		if !ok {
			return
		}
		p.prices.Update(exchange, market, quote.Symbol, quote.Price)
	}
	subscribe := func(ws *websocket.Conn) error {
		symbols := p.symbolsFor(key)
		if len(symbols) == 0 {
			return nil
		}
		return writeJSON(ws, norm.SubscribeFrame(symbols))
	}

	c := newConn(key, norm.URL(market, testnet), subscribe, onMessage, p.remove)
	if err := c.start(p.ctx); err != nil {
		return nil, err
	}

	p.connMu.Lock()
	defer p.connMu.Unlock()
	if existing, ok := p.conns[key]; ok {
		// Raced with another dialer; keep the first registration.
		go c.stop()
		return existing, nil
	}
	p.conns[key] = c
	return c, nil
}

// symbolsFor lists currently-refcounted symbols for a connection, used to
// replay subscriptions after a reconnect.
func (p *Pool) symbolsFor(key string) []string {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	prefix := key + "|"
	var out []string
	for k := range p.subs {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k[len(prefix):])
		}
	}
	return out
}

func (p *Pool) remove(key string) {
	p.connMu.Lock()
	delete(p.conns, key)
	p.connMu.Unlock()
}

// ConnectPrivate opens an account's private feed. url and parse come from the
// venue adapter since private streams need listen keys or signed subscribes.
func (p *Pool) ConnectPrivate(accountID, url string, subscribe func(ws *websocket.Conn) error, parse func(msg []byte) (common.OrderResult, bool)) error {
	key := "private:" + accountID

	p.connMu.Lock()
	if _, ok := p.conns[key]; ok {
		p.connMu.Unlock()
		return nil
	}
	p.connMu.Unlock()

	onMessage := func(msg []byte) {
		res, ok := parse(msg)
		if !ok {
			return
		}
		if p.fills != nil {
			p.fills(p.ctx, accountID, res)
		}
	}

	c := newConn(key, url, subscribe, onMessage, p.remove)
	if err := c.start(p.ctx); err != nil {
		return err
	}

	p.connMu.Lock()
	defer p.connMu.Unlock()
	if _, ok := p.conns[key]; ok {
		go c.stop()
		return nil
	}
	p.conns[key] = c
	return nil
}

// Disconnect tears down one connection.
func (p *Pool) Disconnect(key string) {
	p.connMu.Lock()
	c := p.conns[key]
	delete(p.conns, key)
	p.connMu.Unlock()
	if c != nil {
		c.stop()
	}
}

// Snapshot copies all connection stats under lock.
func (p *Pool) Snapshot() map[string]Stats {
	p.connMu.Lock()
	conns := make(map[string]*conn, len(p.conns))
	for k, c := range p.conns {
		conns[k] = c
	}
	p.connMu.Unlock()

	out := make(map[string]Stats, len(conns))
	for k, c := range conns {
		out[k] = c.meta.snapshot()
	}
	return out
}

// StartHealthCheck periodically logs unhealthy connections; exhausted ones
// have already removed themselves and will be re-dialed on next subscribe.
func (p *Pool) StartHealthCheck(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				for key, stats := range p.Snapshot() {
					if !stats.Healthy {
						log.Printf("wspool: %s unhealthy (state=%s, last_error=%q)", key, stats.State, stats.LastError)
					}
				}
			}
		}
	}()
}

// Shutdown closes every connection.
func (p *Pool) Shutdown() {
	p.connMu.Lock()
	conns := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*conn)
	p.connMu.Unlock()

	for _, c := range conns {
		c.stop()
	}
}

func writeJSON(ws *websocket.Conn, frame any) error {
	return ws.WriteJSON(frame)
}
