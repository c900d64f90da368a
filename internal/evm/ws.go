package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket connection behavior.
type WSConfig struct {
	// HandshakeTimeout bounds the initial dial.
	HandshakeTimeout time.Duration
	// SubscribeTimeout bounds waiting for a subscription confirmation.
	SubscribeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSConn is a single WebSocket session to a node. It carries eth_subscribe
// subscriptions for its lifetime and signals Done when the transport fails.
// It never reconnects itself: the consumer decides when and how to rebuild
// the session, which keeps gap accounting in one place.
type WSConn struct {
	endpoint string
	config   WSConfig

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// handlers maps subscription ID to a raw notification handler.
	handlers   map[string]func(json.RawMessage)
	handlersMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID.
	pendingSubs   map[uint64]chan string
	pendingSubsMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// DialWS opens a WebSocket session to the endpoint.
func DialWS(ctx context.Context, endpoint string, config *WSConfig) (*WSConn, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &WSConn{
		endpoint:    endpoint,
		config:      cfg,
		conn:        conn,
		handlers:    make(map[string]func(json.RawMessage)),
		pendingSubs: make(map[uint64]chan string),
		done:        make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Done is closed when the session is no longer usable, either because the
// transport failed or Close was called.
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

// Head is a minimal newHeads notification payload.
type Head struct {
	Number hexutil.Uint64 `json:"number"`
	Hash   common.Hash    `json:"hash"`
}

// SubscribeNewHeads subscribes to chain head announcements.
func (c *WSConn) SubscribeNewHeads(ctx context.Context) (<-chan Head, error) {
	ch := make(chan Head, 256)
	err := c.subscribe(ctx, []interface{}{"newHeads"}, func(raw json.RawMessage) {
		var head Head
		if err := json.Unmarshal(raw, &head); err != nil {
			return
		}
		select {
		case ch <- head:
		case <-c.done:
		}
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// LogsFilter selects logs by address set and topic set.
type LogsFilter struct {
	Addresses []common.Address `json:"address,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
}

// SubscribeLogs subscribes to logs matching the filter.
func (c *WSConn) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan types.Log, error) {
	// Blocking send ensures no event loss; buffer absorbs burst.
	ch := make(chan types.Log, 10000)
	err := c.subscribe(ctx, []interface{}{"logs", filter}, func(raw json.RawMessage) {
		var lg types.Log
		if err := json.Unmarshal(raw, &lg); err != nil {
			return
		}
		select {
		case ch <- lg:
		case <-c.done:
		}
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// subscribe issues eth_subscribe and registers the handler under the
// confirmed subscription ID.
func (c *WSConn) subscribe(ctx context.Context, params []interface{}, handler func(json.RawMessage)) error {
	if c.closed.Load() {
		return fmt.Errorf("connection closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  params,
	}

	confirmCh := make(chan string, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		dropPending()
		return fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return fmt.Errorf("connection closed")
		}
		c.handlersMu.Lock()
		c.handlers[subID] = handler
		c.handlersMu.Unlock()
		return nil
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return fmt.Errorf("connection closed")
	case <-ctx.Done():
		dropPending()
		return ctx.Err()
	}
}

// Close terminates the session. Safe to call multiple times.
func (c *WSConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.markDone()

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	c.writeMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *WSConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readLoop reads messages until the transport fails, then marks the
// session done.
func (c *WSConn) readLoop() {
	defer c.wg.Done()
	defer c.markDone()

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage processes one incoming frame.
func (c *WSConn) handleMessage(message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "eth_subscription" && notif.Params != nil {
		c.handlersMu.RLock()
		handler, ok := c.handlers[notif.Params.Subscription]
		c.handlersMu.RUnlock()
		if ok {
			handler(notif.Params.Result)
		}
		return
	}

	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result != "" {
		c.pendingSubsMu.Lock()
		ch, ok := c.pendingSubs[resp.ID]
		if ok {
			delete(c.pendingSubs, resp.ID)
		}
		c.pendingSubsMu.Unlock()
		if ok {
			select {
			case ch <- resp.Result:
			default:
			}
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSConn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Transport is likely dead; the reader notices and exits.
			}
			c.writeMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  string `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}
