package usecase

import (
	"context"
	"errors"
	"sync"

	"FinGuard/internal/domain/models"
	drepo "FinGuard/internal/domain/repository"
	mid "FinGuard/internal/middleware"
	"FinGuard/pkg/logger"
)

var errStreamClosed = errors.New("trade stream closed")

// Backfiller loads recent trades before the stream starts.
type Backfiller interface {
	RecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error)
}

// TradeCollector feeds trades from the market stream through the realtime
// pipeline into the live window, reconnecting when the stream drops.
type TradeCollector struct {
	stream  drepo.TradeStream
	pipe    *mid.RealtimePipeline
	window  *LiveWindow
	metrics drepo.Metrics
	log     *logger.Logger

	backfill Backfiller
	symbol   string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type CollectorOption func(*TradeCollector)

// WithBackfill seeds the window from b for symbol on Start.
func WithBackfill(b Backfiller, symbol string) CollectorOption {
	return func(c *TradeCollector) {
		c.backfill = b
		c.symbol = symbol
	}
}

func WithCollectorLogger(l *logger.Logger) CollectorOption {
	return func(c *TradeCollector) {
		if l != nil {
			c.log = l
		}
	}
}

func NewTradeCollector(stream drepo.TradeStream, pipe *mid.RealtimePipeline, window *LiveWindow, metrics drepo.Metrics, opts ...CollectorOption) *TradeCollector {
	c := &TradeCollector{
		stream:  stream,
		pipe:    pipe,
		window:  window,
		metrics: metrics,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnected returns true if the market stream is connected.
func (c *TradeCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start backfills, connects and subscribes, then consumes in the background
// until Shutdown.
func (c *TradeCollector) Start(ctx context.Context) error {
	c.seed(ctx)

	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		_ = c.stream.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.pipe.Start(runCtx)

	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

func (c *TradeCollector) seed(ctx context.Context) {
	if c.backfill == nil {
		return
	}
	trades, err := c.backfill.RecentTrades(ctx, c.symbol, c.window.Capacity())
	if err != nil {
		c.metrics.RecordError("backfill")
		c.log.Warn("trade backfill failed", logger.String("symbol", c.symbol), logger.Error(err))
		return
	}
	for _, t := range trades {
		c.window.Add(t)
	}
	c.log.Info("trade window backfilled", logger.String("symbol", c.symbol), logger.Int("trades", len(trades)))
}

func (c *TradeCollector) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		trCh, errCh := c.stream.Read(ctx)
		err := c.consume(ctx, trCh, errCh)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.log.Warn("trade stream interrupted, reconnecting", logger.Error(err))
		if !c.reconnect(ctx) {
			return
		}
	}
}

func (c *TradeCollector) consume(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				c.drain(ctx, trCh)
				return err
			}
			errCh = nil
		case t, ok := <-trCh:
			if !ok {
				return errStreamClosed
			}
			c.handle(ctx, t)
		}
	}
}

// drain handles trades the stream read before failing, until it closes trCh.
func (c *TradeCollector) drain(ctx context.Context, trCh <-chan *models.Trade) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-trCh:
			if !ok {
				return
			}
			c.handle(ctx, t)
		}
	}
}

func (c *TradeCollector) handle(ctx context.Context, t *models.Trade) {
	if t == nil {
		return
	}
	err := c.pipe.Process(ctx, t)
	if err != nil && !errors.Is(err, mid.ErrThrottled) {
		c.log.Debug("trade not accepted", logger.String("symbol", t.Symbol), logger.Error(err))
	}
}

func (c *TradeCollector) reconnect(ctx context.Context) bool {
	for attempt := 1; ; attempt++ {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			c.log.Info("trade stream reconnected", logger.Int("attempt", attempt))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.metrics.RecordError("stream_reconnect")
		c.log.Warn("trade stream reconnect failed", logger.Int("attempt", attempt), logger.Error(err))
	}
}

// Shutdown stops consuming, drains the pipeline and closes the stream.
func (c *TradeCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("trade collector shutdown timed out")
	}
	c.pipe.Stop()
	return c.stream.Close()
}
