package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"FinGuard/internal/domain/models"
	domrepo "FinGuard/internal/domain/repository"
	"FinGuard/pkg/logger"
)

// ErrThrottled is returned by Process when a trade exceeds the per-symbol rate.
var ErrThrottled = errors.New("trade throttled")

// Mirror forwards accepted trades to a secondary downstream that can fail,
// such as the Kafka trades topic.
type Mirror interface {
	PublishTrade(ctx context.Context, t *models.Trade) error
}

// RealtimePipeline sits between the trade stream and the live window. It
// validates and throttles trades, adds accepted ones to the sink and, when a
// mirror is set, forwards them there, buffering while the mirror is down.
type RealtimePipeline struct {
	sink    domrepo.TradeSink
	mirror  Mirror
	metrics domrepo.Metrics
	logger  *logger.Logger
	source  string

	maxRPS    int
	bufSize   int
	transform func(*models.Trade) *models.Trade
	now       func() time.Time

	bufCh chan *models.Trade

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
	lastSeen map[string]time.Time // per-symbol last accepted time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max trades per second per symbol. 0 disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size used while the mirror is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMirror forwards accepted trades to m.
func WithMirror(m Mirror) PipelineOption {
	return func(p *RealtimePipeline) { p.mirror = m }
}

// WithTransform sets a hook that rewrites trades before validation.
func WithTransform(fn func(*models.Trade) *models.Trade) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *RealtimePipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSource sets the metrics source label, "binance" by default.
func WithSource(s string) PipelineOption {
	return func(p *RealtimePipeline) { p.source = s }
}

func withClock(now func() time.Time) PipelineOption {
	return func(p *RealtimePipeline) { p.now = now }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(sink domrepo.TradeSink, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		sink:     sink,
		metrics:  metrics,
		logger:   logger.Nop(),
		source:   "binance",
		maxRPS:   20,
		bufSize:  1000,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Trade, p.bufSize)
	return p
}

// Start launches background flushing of buffered mirror writes.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.mirror == nil {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.flushLoop(ctx, p.stopCh, p.done)
}

func (p *RealtimePipeline) flushLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	const minBackoff = 50 * time.Millisecond
	backoff := minBackoff
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case t := <-p.bufCh:
			if err := p.mirror.PublishTrade(ctx, t); err != nil {
				p.metrics.RecordError("pipeline_flush")
				backoff = time.Duration(math.Min(float64(backoff*2), float64(2*time.Second)))
				select {
				case p.bufCh <- t:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
				select {
				case <-time.After(backoff):
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
				continue
			}
			backoff = minBackoff
		}
	}
}

// Stop stops the background flushing and waits for the loop to exit.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done

	if n := len(p.bufCh); n > 0 {
		p.logger.Warn("pipeline stopped with buffered trades", logger.Int("buffered", n))
	}
}

// Buffered returns the number of trades waiting for the mirror.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates and throttles t, adds it to the sink and mirrors it.
// A throttled trade returns ErrThrottled and reaches neither downstream.
// A mirror failure buffers the trade and is returned wrapped, but the trade
// is already in the sink.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Trade) error {
	start := p.now()
	if p.transform != nil && t != nil {
		t = p.transform(t)
	}
	if err := validateTrade(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(t.Symbol, start) {
		p.metrics.RecordError("pipeline_throttle")
		return ErrThrottled
	}

	p.sink.Add(*t)
	p.metrics.RecordTrade(p.source, t.Symbol, t.Price)

	if p.mirror != nil {
		if err := p.mirror.PublishTrade(ctx, t); err != nil {
			p.metrics.RecordError("pipeline_mirror")
			select {
			case p.bufCh <- t:
			default:
				p.metrics.RecordError("pipeline_buffer_full")
			}
			return fmt.Errorf("pipeline mirror: %w", err)
		}
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateTrade(t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Time.IsZero() || t.Time.Unix() <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if t.Price <= 0 || t.Qty < 0 {
		return fmt.Errorf("invalid price %v or qty %v", t.Price, t.Qty)
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || math.IsNaN(t.Qty) || math.IsInf(t.Qty, 0) {
		return fmt.Errorf("non-finite price or qty")
	}
	return nil
}

// allow keeps at most maxRPS trades per second per symbol by spacing them.
func (p *RealtimePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, seen := p.lastSeen[symbol]
	if seen && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
