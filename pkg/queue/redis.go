package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"FinGuard/pkg/logger"
)

// listStore is the subset of Redis the queue needs.
type listStore interface {
	Ping(ctx context.Context) error
	Push(ctx context.Context, key string, data []byte) error
	Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) // redis.Nil when empty
	Schedule(ctx context.Context, key string, at time.Time, data []byte) error
	Due(ctx context.Context, key string, now time.Time) ([]string, error)
	// Requeue moves member from the retry set to the list if it is still
	// scheduled, so two pollers never push it twice.
	Requeue(ctx context.Context, retryKey, listKey, member string) error
}

type redisStore struct {
	client *redis.Client
}

func (s redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s redisStore) Push(ctx context.Context, key string, data []byte) error {
	return s.client.LPush(ctx, key, data).Err()
}

func (s redisStore) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	res, err := s.client.BRPop(ctx, timeout, key).Result()
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, redis.Nil
	}
	return []byte(res[1]), nil
}

func (s redisStore) Schedule(ctx context.Context, key string, at time.Time, data []byte) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: data}).Err()
}

func (s redisStore) Due(ctx context.Context, key string, now time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
}

func (s redisStore) Requeue(ctx context.Context, retryKey, listKey, member string) error {
	removed, err := s.client.ZRem(ctx, retryKey, member).Result()
	if err != nil || removed == 0 {
		return err
	}
	return s.client.LPush(ctx, listKey, member).Err()
}

// RedisQueue is a Redis list backed job queue: LPUSH to enqueue, BRPOP in
// workers, a sorted set for delayed retries and a dead letter list.
type RedisQueue struct {
	logger    *logger.Logger
	config    Config
	store     listStore
	keyPrefix string
	now       func() time.Time

	mu        sync.RWMutex
	jobs      map[string]Job
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ Publisher = (*RedisQueue)(nil)

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, config Config, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	return newQueue(lgr, config, redisStore{client: client}, opts...)
}

func newQueue(lgr *logger.Logger, config Config, store listStore, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.PopTimeout <= 0 {
		config.PopTimeout = time.Second
	}

	rq := &RedisQueue{
		logger:    lgr,
		config:    config,
		store:     store,
		keyPrefix: "finguard:queue",
		now:       time.Now,
		jobs:      make(map[string]Job),
	}

	for _, opt := range opts {
		opt(rq)
	}

	return rq
}

// RegisterJob registers a job for its message type. Jobs must be registered
// before Start.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("type", job.Type()))
}

// Start pings Redis and starts the workers and the retry poller.
func (r *RedisQueue) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("queue already running")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.store.Ping(pingCtx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	r.cancel = stop
	r.isRunning = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx, i)
	}
	r.wg.Add(1)
	go r.retryProcessor(runCtx)

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.Int("job_types", len(r.jobs)),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs up to ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue adds a message for msgType and returns its id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("no job registered for type: %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: r.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := r.store.Push(ctx, r.queueKey(), data); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started", logger.Int("worker_id", id))

	for ctx.Err() == nil {
		r.processNext(ctx)
	}
}

func (r *RedisQueue) processNext(ctx context.Context) {
	data, err := r.store.Pop(ctx, r.queueKey(), r.config.PopTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		r.logger.Error("brpop error", logger.Error(err))
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		r.deadLetter(data)
		return
	}
	r.process(ctx, msg)
}

func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	start := time.Now()
	err := r.safeHandle(ctx, job, msg.Payload)
	if err == nil {
		r.logger.Debug("job done",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Duration("elapsed", time.Since(start)),
		)
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// shutting down: put it back untouched
		r.requeueNow(msg)
		return
	}
	r.handleProcessingError(msg, err)
}

func (r *RedisQueue) safeHandle(ctx context.Context, job Job, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panic: %v", p)
		}
	}()
	return job.Handle(ctx, payload)
}

func (r *RedisQueue) handleProcessingError(msg Message, err error) {
	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err),
	)

	msg.LastError = err.Error()
	data, merr := json.Marshal(msg)
	if msg.Attempts >= r.config.RetryLimit || merr != nil {
		r.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("type", msg.Type))
		r.deadLetter(data)
		return
	}

	msg.Attempts++
	data, _ = json.Marshal(msg)
	retryAt := r.now().Add(r.config.RetryDelay)
	if err := r.store.Schedule(context.Background(), r.retryKey(), retryAt, data); err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
		return
	}
	r.logger.Info("scheduled retry",
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", retryAt.Format(time.RFC3339)),
	)
}

func (r *RedisQueue) requeueNow(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.store.Push(context.Background(), r.queueKey(), data); err != nil {
		r.logger.Error("requeue on shutdown", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(data []byte) {
	if data == nil {
		return
	}
	if err := r.store.Push(context.Background(), r.deadLetterKey(), data); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.moveDueRetries(ctx)
		}
	}
}

func (r *RedisQueue) moveDueRetries(ctx context.Context) {
	due, err := r.store.Due(ctx, r.retryKey(), r.now())
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("fetch retry messages", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		if ctx.Err() != nil {
			return
		}
		if err := r.store.Requeue(ctx, r.retryKey(), r.queueKey(), member); err != nil {
			r.logger.Error("move retry to queue", logger.Error(err))
		}
	}
}

func (r *RedisQueue) queueKey() string {
	return r.keyPrefix + ":messages"
}

func (r *RedisQueue) retryKey() string {
	return r.keyPrefix + ":retry"
}

func (r *RedisQueue) deadLetterKey() string {
	return r.keyPrefix + ":dlq"
}
