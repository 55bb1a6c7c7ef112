package wspool

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	maxAttempts    = 10
)

// onMessage handles one raw frame; onGone runs when the connection exhausts
// its reconnect budget and removes itself.
type conn struct {
	key       string
	url       string
	subscribe func(ws *websocket.Conn) error
	onMessage func(msg []byte)
	onGone    func(key string)

	meta   *connMeta
	dialer *websocket.Dialer

	mu sync.Mutex
	ws *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

func newConn(key, url string, subscribe func(ws *websocket.Conn) error, onMessage func([]byte), onGone func(string)) *conn {
	return &conn{
		key:       key,
		url:       url,
		subscribe: subscribe,
		onMessage: onMessage,
		onGone:    onGone,
		meta:      newConnMeta(),
		dialer:    websocket.DefaultDialer,
		done:      make(chan struct{}),
	}
}

// start dials synchronously so the caller can refuse to register the
// connection on handshake failure, then runs the read loop in background.
func (c *conn) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.dial(runCtx); err != nil {
		cancel()
		return err
	}

	go c.run(runCtx)
	return nil
}

func (c *conn) dial(ctx context.Context) error {
	_ = c.meta.transition(StateConnecting)
	c.meta.mu.Lock()
	c.meta.attemptCount++
	c.meta.mu.Unlock()

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.meta.recordError(err)
		_ = c.meta.transition(StateError)
		return err
	}

	ws.SetPongHandler(func(string) error {
		c.meta.touchPing()
		return nil
	})

	if c.subscribe != nil {
		if err := c.subscribe(ws); err != nil {
			c.meta.recordError(err)
			_ = c.meta.transition(StateError)
			ws.Close()
			return err
		}
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	_ = c.meta.transition(StateConnected)
	c.meta.touchPing()
	c.meta.touchMessage(0)
	return nil
}

// run reads frames, pings on an interval, and reconnects with exponential
// backoff. After the attempt cap, the connection removes itself so the health
// check can rebuild from scratch instead of poking a dead object.
func (c *conn) run(ctx context.Context) {
	defer close(c.done)

	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				c.mu.Lock()
				ws := c.ws
				c.mu.Unlock()
				if ws != nil {
					if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err == nil {
						c.meta.touchPing()
					}
				}
			}
		}
	}()

	backoff := initialBackoff
	for {
		err := c.readLoop(ctx)
		if ctx.Err() != nil {
			_ = c.meta.transition(StateDisconnecting)
			_ = c.meta.transition(StateDisconnected)
			return
		}

		c.meta.recordError(err)
		_ = c.meta.transition(StateError)

		c.meta.mu.Lock()
		c.meta.reconnectCount++
		attempts := c.meta.reconnectCount
		c.meta.mu.Unlock()

		if attempts >= maxAttempts {
			log.Printf("wspool: %s exhausted %d reconnect attempts, removing", c.key, maxAttempts)
			if c.onGone != nil {
				c.onGone(c.key)
			}
			return
		}

		_ = c.meta.transition(StateReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		if err := c.dial(ctx); err != nil {
			log.Printf("wspool: %s reconnect failed: %v", c.key, err)
			continue
		}
		// A successful handshake restores the full budget; the attempt cap
		// bounds consecutive failures, not lifetime ones.
		backoff = initialBackoff
		c.meta.mu.Lock()
		c.meta.reconnectCount = 0
		c.meta.mu.Unlock()
	}
}

func (c *conn) readLoop(ctx context.Context) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			ws.Close()
			return ctx.Err()
		default:
		}

		_, msg, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		c.meta.touchMessage(len(msg))
		c.onMessage(msg)
	}
}

// send marshals and writes a JSON frame.
func (c *conn) send(frame any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return websocket.ErrCloseSent
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.meta.mu.Lock()
	c.meta.bytesSent += int64(len(raw))
	c.meta.mu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, raw)
}

// stop tears the connection down and waits for the read loop to exit.
func (c *conn) stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.ws != nil {
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.ws.Close()
	}
	c.mu.Unlock()
	<-c.done
}
