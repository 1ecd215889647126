package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// fakeReader serves a fixed list of messages and then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type funcHandler struct {
	topic string
	fn    func(context.Context, []byte) error
}

func (h funcHandler) Topic() string                              { return h.topic }
func (h funcHandler) Handle(ctx context.Context, b []byte) error { return h.fn(ctx, b) }

func withWriter(w messageWriter) ProducerOption {
	return func(c *ProducerConfig) { c.writer = w }
}

func TestProducerPublishEncodes(t *testing.T) {
	w := &fakeWriter{}
	reg := prometheus.NewRegistry()
	p, err := NewProducer(withWriter(w), WithProducerRegisterer(reg))
	require.NoError(t, err)

	ctx := WithTraceID(context.Background(), "abc")
	require.NoError(t, p.Publish(ctx, "events", []byte("k"), map[string]int{"n": 1}))
	require.NoError(t, p.PublishMessage(context.Background(), "logs", "plain"))

	msgs := w.written()
	require.Len(t, msgs, 2)
	assert.Equal(t, "events", msgs[0].Topic)
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Value))
	assert.Equal(t, "abc", ExtractTraceID(msgs[0]))
	assert.Equal(t, []byte("plain"), msgs[1].Value)
	assert.Empty(t, msgs[1].Headers)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.messages.WithLabelValues("events", "ok")))
}

func TestProducerWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p, err := NewProducer(withWriter(w), WithProducerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	err = p.Publish(context.Background(), "events", nil, "x")
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.messages.WithLabelValues("events", "error")))
}

func TestProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(WithProducerRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestProducersShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewProducer(withWriter(&fakeWriter{}), WithProducerRegisterer(reg))
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		_, _ = NewProducer(withWriter(&fakeWriter{}), WithProducerRegisterer(reg))
	})
}

func newTestConsumer(t *testing.T, r *fakeReader, dlq *fakeWriter, opts ...ConsumerOption) *Consumer {
	t.Helper()
	base := []ConsumerOption{
		WithConsumerRegisterer(prometheus.NewRegistry()),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
		func(c *ConsumerConfig) {
			c.newReader = func(string) messageReader { return r }
			if dlq != nil {
				c.dlq = dlq
			}
		},
	}
	c, err := NewConsumer(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{
		{Topic: "ticks", Offset: 1, Value: []byte(`{"p":1}`)},
		{Topic: "ticks", Offset: 2, Value: []byte(`{"p":2}`)},
	}}
	c := newTestConsumer(t, r, nil, WithConsumerWorkers(2))

	var mu sync.Mutex
	var got []string
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func(_ context.Context, b []byte) error {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
		return nil
	}})
	require.NoError(t, c.Start())

	assert.Eventually(t, func() bool { return len(r.offsets()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
	mu.Lock()
	assert.ElementsMatch(t, []string{`{"p":1}`, `{"p":2}`}, got)
	mu.Unlock()
}

func TestConsumerRetriesThenDLQ(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{{Topic: "ticks", Offset: 7, Value: []byte(`{}`)}}}
	dlq := &fakeWriter{}
	c := newTestConsumer(t, r, dlq, WithConsumerDLQ("ticks.dlq"))

	var calls int
	var mu sync.Mutex
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func(context.Context, []byte) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	}})
	require.NoError(t, c.Start())

	assert.Eventually(t, func() bool { return len(dlq.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(r.offsets()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	assert.Equal(t, 3, calls) // first attempt plus two retries
	mu.Unlock()
	msg := dlq.written()[0]
	assert.Equal(t, "ticks.dlq", msg.Topic)
	assert.Equal(t, int64(7), r.offsets()[0])
}

func TestConsumerHookRejectionSkipsRetry(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{{Topic: "ticks", Offset: 3, Value: []byte("not json")}}}
	c := newTestConsumer(t, r, nil)
	c.WithConsumerHook(NewHookChain(TraceHook(), ValidJSONHook()))

	handled := make(chan struct{}, 1)
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func(context.Context, []byte) error {
		handled <- struct{}{}
		return nil
	}})
	require.NoError(t, c.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.Empty(t, handled)
	// without a DLQ a failed message is left uncommitted
	assert.Empty(t, r.offsets())
}

func TestConsumerStartWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t, &fakeReader{}, nil)
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))
}

func TestHookChainOrderAndPanics(t *testing.T) {
	var order []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, d []byte) (context.Context, kafka.Message, []byte, error) {
				order = append(order, "before:"+name)
				return ctx, km, append(d, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				order = append(order, "after:"+name)
			},
		}
	}
	chain := NewHookChain(mk("a"), nil, mk("b"))
	ctx, km, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	require.NoError(t, err)
	chain.AfterHandle(ctx, "t", km, data, nil)
	assert.Equal(t, "ab", string(data))
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)

	panicky := HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
		panic("bad hook")
	}}
	_, _, _, err = NewHookChain(panicky).BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "ERR_PANIC", herr.Code)
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}
