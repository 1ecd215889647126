package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"FinGuard/internal/domain/models"
	drepo "FinGuard/internal/domain/repository"
	"FinGuard/pkg/logger"
	"FinGuard/pkg/util"
)

var _ drepo.TradeStream = (*Client)(nil)

// Client streams <symbol>@trade events from the Binance websocket API.
type Client struct {
	websocketURL   string
	symbol         string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	bufferSize     int
	dialer         *websocket.Dialer
	logger         *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	dropped   atomic.Int64
	requestID atomic.Int64
}

// Option configures Client.
type Option func(*Client)

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithBufferSize sets the trade channel capacity. Trades beyond it are dropped.
func WithBufferSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// New creates a trade stream for one symbol. websocketURL is the raw stream
// base, e.g. wss://stream.binance.com:9443/ws.
func New(websocketURL, symbol string, opts ...Option) *Client {
	c := &Client{
		websocketURL:   strings.TrimRight(websocketURL, "/"),
		symbol:         strings.ToLower(symbol),
		reconnectDelay: 5 * time.Second,
		pingInterval:   30 * time.Second,
		bufferSize:     1024,
		dialer:         websocket.DefaultDialer,
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamName returns the subscribed stream, e.g. "btcusdt@trade".
func (c *Client) StreamName() string {
	return c.symbol + "@trade"
}

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.logger.Info("binance connected", logger.String("url", c.websocketURL))
	return nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Subscribe sends a SUBSCRIBE request for the trade stream.
func (c *Client) Subscribe(ctx context.Context) error {
	conn := c.currentConn()
	if conn == nil || !c.connected.Load() {
		return fmt.Errorf("binance not connected")
	}
	req := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{c.StreamName()},
		ID:     c.requestID.Add(1),
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.StreamName(), err)
	}
	c.logger.Info("binance subscribed", logger.String("stream", c.StreamName()))
	return nil
}

// tradeEvent is a raw trade stream payload. Binance uses keys that differ
// only in case ("e"/"E", "t"/"T", "m"/"M"), so every key has its own field
// to keep encoding/json from matching case-insensitively.
type tradeEvent struct {
	EventType  string `json:"e"`
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	TradeID    int64  `json:"t"`
	Price      string `json:"p"`
	Qty        string `json:"q"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
	BestMatch  bool   `json:"M"`
}

func (e tradeEvent) toTrade() (*models.Trade, error) {
	price, err := strconv.ParseFloat(e.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", e.Price, err)
	}
	qty, err := strconv.ParseFloat(e.Qty, 64)
	if err != nil {
		return nil, fmt.Errorf("qty %q: %w", e.Qty, err)
	}
	ts := e.TradeTime
	if ts == 0 {
		ts = e.EventTime
	}
	return &models.Trade{
		Symbol:     e.Symbol,
		Price:      price,
		Qty:        qty,
		Time:       util.FromUnix(ts),
		TradeID:    e.TradeID,
		BuyerMaker: e.BuyerMaker,
	}, nil
}

// parseFrame decodes one text frame. Non-trade frames (subscription acks)
// return nil without error.
func parseFrame(b []byte) (*models.Trade, error) {
	var ev tradeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	if ev.EventType != "trade" {
		return nil, nil
	}
	return ev.toTrade()
}

// Read streams trades until ctx is done or the connection fails. The error
// channel receives at most one error and both channels are closed on exit.
func (c *Client) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, c.bufferSize)
	errs := make(chan error, 1)

	conn := c.currentConn()
	if conn == nil {
		errs <- fmt.Errorf("binance conn nil")
		close(trades)
		close(errs)
		return trades, errs
	}

	readCtx, cancel := context.WithCancel(ctx)
	go c.pingLoop(readCtx, conn)

	// unblock ReadMessage when the caller goes away
	go func() {
		<-readCtx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	go func() {
		defer cancel()
		defer close(trades)
		defer close(errs)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.connected.Store(false)
					errs <- fmt.Errorf("binance read: %w", err)
				}
				return
			}
			t, err := parseFrame(b)
			if err != nil {
				c.logger.Debug("binance frame skipped", logger.Error(err))
				continue
			}
			if t == nil {
				continue
			}
			select {
			case trades <- t:
			default:
				if n := c.dropped.Add(1); n%1000 == 1 {
					c.logger.Warn("binance trade dropped on backpressure", logger.Int64("dropped_total", n))
				}
			}
		}
	}()

	return trades, errs
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.pingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("binance ping failed", logger.Error(err))
			}
		}
	}
}

// Reconnect closes, waits reconnectDelay and connects and subscribes again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err := conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// Dropped returns the number of trades dropped because the reader was slow.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
