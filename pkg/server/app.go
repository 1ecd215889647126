package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinGuard/pkg/config"
	applogger "FinGuard/pkg/logger"
)

// HTTPServer serves the API in the background.
type HTTPServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Collector streams live trades until shut down.
type Collector interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Consumer reads trades from Kafka.
type Consumer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Queue runs background analysis jobs.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Option configures App.
type Option func(*App)

// WithCollector adds the live trade collector. A collector that fails to
// start is logged and the API keeps serving.
func WithCollector(c Collector) Option { return func(a *App) { a.collector = c } }

// WithConsumer adds the Kafka trade consumer.
func WithConsumer(c Consumer) Option { return func(a *App) { a.consumer = c } }

// WithQueue adds the background job queue.
func WithQueue(q Queue) Option { return func(a *App) { a.queue = q } }

// WithHealth sets the startup readiness probe.
func WithHealth(fn func(context.Context) error) Option { return func(a *App) { a.health = fn } }

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer HTTPServer
	collector  Collector
	consumer   Consumer
	queue      Queue
	health     func(context.Context) error
}

// New creates an App around the HTTP server and optional background components.
func New(cfg *config.Config, l *applogger.Logger, httpServer HTTPServer, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, log: l, httpServer: httpServer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done, then shuts
// down in reverse order.
func (a *App) RunContext(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		_ = a.shutdown()
		return err
	}
	a.log.Info("finguard started", applogger.String("env", a.cfg.Environment))

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	if a.health != nil {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.health(hctx)
		cancel()
		if err != nil {
			a.log.Warn("result store not ready", applogger.Error(err))
		}
	}

	if a.queue != nil {
		if err := a.queue.Start(ctx); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}
	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("trade collector start failed, live analysis disabled", applogger.Error(err))
			a.collector = nil
		}
	}
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	return nil
}

// shutdown stops the HTTP server first so no new work arrives, then the
// producers of live data, then the queue.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("collector: %w", err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.log.Error("shutdown finished with errors", applogger.Error(err))
	} else {
		a.log.Info("shutdown complete")
	}
	// flush shipped logs while the producer is still open
	a.log.RemoveCollector()
	return err
}
