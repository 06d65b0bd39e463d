package monitor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BLOCKCHAIN WEBSOCKET CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Subscribes to pending transactions for watched addresses and to new block
// headers over a provider WebSocket endpoint. Heartbeats every 30s; a missed
// pong or 120s of silence counts as a disconnect.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	wsConnectTimeout  = 10 * time.Second
	wsPingInterval    = 30 * time.Second
	wsPongTimeout     = 5 * time.Second
	wsStaleAfter      = 120 * time.Second
	wsMaxReconnects   = 10
	wsBackoffInitial  = time.Second
	wsBackoffCap      = 60 * time.Second
)

// WSEvent is a raw notification from the provider: either a pending
// transaction hash or a new block header.
type WSEvent struct {
	TxHash      string
	BlockNumber uint64
	IsNewHead   bool
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type headResult struct {
	Number string `json:"number"`
}

// WSClient maintains the subscription connection. Events flow out on
// Events(); the channel closes when the reconnect budget is exhausted.
type WSClient struct {
	mu sync.Mutex

	url       string
	addresses []string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}
	events    chan WSEvent

	lastMessage atomic.Int64 // unix nanos of last received frame
	pingSent    atomic.Int64 // unix nanos of the outstanding ping, 0 when answered
	reconnects  int
	nextID      int
}

// NewWSClient watches the given addresses on the provider endpoint.
func NewWSClient(url string, addresses []string) *WSClient {
	return &WSClient{
		url:       url,
		addresses: addresses,
		stopCh:    make(chan struct{}),
		events:    make(chan WSEvent, 1000),
	}
}

// Events is the stream of raw notifications. Closed when the client gives
// up reconnecting or is stopped.
func (c *WSClient) Events() <-chan WSEvent { return c.events }

// Connected reports whether a live connection is currently held.
func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Start runs the connection loop until Stop or reconnect exhaustion.
// Returns false if already running.
func (c *WSClient) Start() bool {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return false
	}
	c.running = true
	c.mu.Unlock()

	go c.connectionLoop()
	return true
}

// Stop closes the connection and the event stream.
func (c *WSClient) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *WSClient) connectionLoop() {
	defer close(c.events)

	backoff := wsBackoffInitial
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connectAndServe(); err != nil {
			c.mu.Lock()
			running := c.running
			c.reconnects++
			attempts := c.reconnects
			c.mu.Unlock()

			if !running {
				return
			}
			if attempts >= wsMaxReconnects {
				log.Warn().
					Int("attempts", attempts).
					Msg("📡 WebSocket reconnect budget exhausted, falling back")
				return
			}

			log.Warn().
				Err(err).
				Int("attempt", attempts).
				Str("backoff", backoff.String()).
				Msg("📡 WebSocket disconnected, retrying")

			select {
			case <-time.After(backoff):
			case <-c.stopCh:
				return
			}
			backoff *= 2
			if backoff > wsBackoffCap {
				backoff = wsBackoffCap
			}
			continue
		}
		return // clean shutdown
	}
}

func (c *WSClient) connectAndServe() error {
	dialer := websocket.Dialer{HandshakeTimeout: wsConnectTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.reconnects = 0
	c.mu.Unlock()
	c.lastMessage.Store(time.Now().UnixNano())
	c.pingSent.Store(0)

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		c.notePong(time.Now())
		return nil
	})

	if err := c.subscribe(conn); err != nil {
		return err
	}
	log.Info().Int("addresses", len(c.addresses)).Msg("📡 WebSocket subscriptions established")

	errCh := make(chan error, 1)
	go c.readLoop(conn, errCh)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			now := time.Now()
			if c.pongOverdue(now) {
				return fmt.Errorf("pong not received within %s", wsPongTimeout)
			}
			if stale := now.Sub(time.Unix(0, c.lastMessage.Load())); stale > wsStaleAfter {
				return fmt.Errorf("no message for %s", stale.Round(time.Second))
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, now.Add(wsPongTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			c.notePing(now)
		}
	}
}

func (c *WSClient) subscribe(conn *websocket.Conn) error {
	// Pending transactions, filtered server-side where the provider
	// supports it; the wallet monitor filters again by sender.
	pending := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID(),
		Method:  "eth_subscribe",
		Params: []any{"alchemy_pendingTransactions", map[string]any{
			"fromAddress": c.addresses,
		}},
	}
	if err := conn.WriteJSON(pending); err != nil {
		return fmt.Errorf("subscribe pending: %w", err)
	}

	heads := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID(),
		Method:  "eth_subscribe",
		Params:  []any{"newHeads"},
	}
	if err := conn.WriteJSON(heads); err != nil {
		return fmt.Errorf("subscribe heads: %w", err)
	}
	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn, errCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		c.lastMessage.Store(time.Now().UnixNano())

		var note rpcNotification
		if err := json.Unmarshal(data, &note); err != nil || note.Method != "eth_subscription" {
			continue // subscription confirmations and other replies
		}

		if event, ok := parseNotification(note.Params.Result); ok {
			select {
			case c.events <- event:
			case <-c.stopCh:
				return
			}
		}
	}
}

// parseNotification distinguishes head notifications (objects with a block
// number) from pending transactions (a hash string or a tx object).
func parseNotification(raw json.RawMessage) (WSEvent, bool) {
	var head headResult
	if err := json.Unmarshal(raw, &head); err == nil && head.Number != "" {
		if n, err := strconv.ParseUint(trimHexPrefix(head.Number), 16, 64); err == nil {
			return WSEvent{BlockNumber: n, IsNewHead: true}, true
		}
	}

	var hash string
	if err := json.Unmarshal(raw, &hash); err == nil && hash != "" {
		return WSEvent{TxHash: hash}, true
	}

	var tx struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &tx); err == nil && tx.Hash != "" {
		return WSEvent{TxHash: tx.Hash}, true
	}
	return WSEvent{}, false
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// notePing marks a ping as awaiting its pong.
func (c *WSClient) notePing(now time.Time) {
	c.pingSent.Store(now.UnixNano())
}

// notePong clears the outstanding ping and refreshes the staleness clock.
func (c *WSClient) notePong(now time.Time) {
	c.lastMessage.Store(now.UnixNano())
	c.pingSent.Store(0)
}

// pongOverdue reports whether the last ping went unanswered past the
// pong timeout. A peer that accepts writes but never answers pings must
// still count as disconnected.
func (c *WSClient) pongOverdue(now time.Time) bool {
	sent := c.pingSent.Load()
	return sent != 0 && now.Sub(time.Unix(0, sent)) > wsPongTimeout
}

func (c *WSClient) reqID() int {
	c.nextID++
	return c.nextID
}
