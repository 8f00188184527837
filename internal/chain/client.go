package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/solatis/tripwire/internal/types"
)

// ErrClosed is returned by calls on a client whose connection is gone.
var ErrClosed = errors.New("chain client closed")

// maxOrphans bounds notifications buffered for a subscription whose handler
// is not registered yet.
const maxOrphans = 64

// Log is one log notification from eth_subscribe("logs").
type Log struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
	Removed         bool     `json:"removed"`
}

// LogHandler receives logs for one subscription. It runs on the client's
// read goroutine and must not block.
type LogHandler func(Log)

// Subscriber opens log subscriptions on one connection. Done is closed
// when the connection, and with it every subscription, is gone.
type Subscriber interface {
	SubscribeLogs(ctx context.Context, address, topic string, h LogHandler) (string, error)
	Unsubscribe(ctx context.Context, id string) error
	Done() <-chan struct{}
}

var _ Subscriber = (*Client)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	ID     *uint64   `json:"id"`
	Method string    `json:"method"`
	Result any       `json:"result"`
	Error  *rpcError `json:"error"`
	Params *struct {
		Subscription string `json:"subscription"`
		Result       Log    `json:"result"`
	} `json:"params"`
}

type rpcResult struct {
	value any
	err   error
}

// Client is a JSON-RPC client over one websocket connection. Calls are
// multiplexed by request id; subscription notifications are routed by
// subscription id.
type Client struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan rpcResult
	subs    map[string]LogHandler
	orphans map[string][]Log
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a websocket JSON-RPC endpoint.
func Dial(ctx context.Context, url string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrRemoteCall, url, err)
	}

	c := &Client{
		url:     url,
		conn:    conn,
		logger:  logger.With("provider", url),
		pending: make(map[uint64]chan rpcResult),
		subs:    make(map[string]LogHandler),
		orphans: make(map[string][]Log),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// URL returns the endpoint the client dialed.
func (c *Client) URL() string { return c.url }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close terminates the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.shutdown(ErrClosed)
	})
	return err
}

// SubscribeLogs subscribes to logs emitted by address whose first topic is
// topic. It returns the subscription id.
func (c *Client) SubscribeLogs(ctx context.Context, address, topic string, h LogHandler) (string, error) {
	filter := map[string]any{
		"address": address,
		"topics":  []any{topic},
	}
	res, err := c.call(ctx, "eth_subscribe", "logs", filter)
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: eth_subscribe returned %v", types.ErrRemoteCall, res)
	}

	c.mu.Lock()
	c.subs[id] = h
	early := c.orphans[id]
	delete(c.orphans, id)
	c.mu.Unlock()

	for _, l := range early {
		h(l)
	}
	return id, nil
}

// Unsubscribe cancels a subscription. Notifications still in flight for it
// are dropped.
func (c *Client) Unsubscribe(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.subs, id)
	delete(c.orphans, id)
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
	}
	_, err := c.call(ctx, "eth_unsubscribe", id)
	return err
}

func (c *Client) call(ctx context.Context, method string, params ...any) (any, error) {
	ch := make(chan rpcResult, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	body, err := sonnet.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	err = c.conn.WriteMessage(websocket.TextMessage, body)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrRemoteCall, method, err)
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.Err()
	}
}

func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		var msg rpcMessage
		if err := sonnet.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("discarding malformed message", "error", err)
			continue
		}

		switch {
		case msg.ID != nil:
			c.resolve(*msg.ID, msg)
		case msg.Method == "eth_subscription" && msg.Params != nil:
			c.dispatch(msg.Params.Subscription, msg.Params.Result)
		}
	}
}

func (c *Client) resolve(id uint64, msg rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- rpcResult{err: fmt.Errorf("%w: rpc error %d: %s", types.ErrRemoteCall, msg.Error.Code, msg.Error.Message)}
		return
	}
	ch <- rpcResult{value: msg.Result}
}

func (c *Client) dispatch(sub string, l Log) {
	c.mu.Lock()
	h, ok := c.subs[sub]
	if !ok {
		// The notification can beat the eth_subscribe response.
		if q := c.orphans[sub]; len(q) < maxOrphans {
			c.orphans[sub] = append(q, l)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h(l)
}

func (c *Client) shutdown(reason error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = reason
	c.mu.Unlock()
	close(c.done)
	c.logger.Debug("chain client stopped", "reason", reason)
}
