package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	lists map[string][][]byte
	sets  map[string]map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{lists: map[string][][]byte{}, sets: map[string]map[string]time.Time{}}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) Push(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([][]byte{data}, m.lists[key]...)
	return nil
}

func (m *memStore) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		l := m.lists[key]
		if n := len(l); n > 0 {
			v := l[n-1]
			m.lists[key] = l[:n-1]
			m.mu.Unlock()
			return v, nil
		}
		m.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, redis.Nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (m *memStore) Schedule(_ context.Context, key string, at time.Time, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[key] == nil {
		m.sets[key] = map[string]time.Time{}
	}
	m.sets[key][string(data)] = at
	return nil
}

func (m *memStore) Due(_ context.Context, key string, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for member, at := range m.sets[key] {
		if !at.After(now) {
			out = append(out, member)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) Requeue(_ context.Context, retryKey, listKey, member string) error {
	m.mu.Lock()
	if _, ok := m.sets[retryKey][member]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sets[retryKey], member)
	m.mu.Unlock()
	return m.Push(context.Background(), listKey, []byte(member))
}

func (m *memStore) list(key string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.lists[key]...)
}

type testJob struct {
	typ   string
	calls atomic.Int32
	fail  int32
	got   chan json.RawMessage
}

func (j *testJob) Type() string { return j.typ }

func (j *testJob) Handle(_ context.Context, payload json.RawMessage) error {
	n := j.calls.Add(1)
	if n <= j.fail {
		return errors.New("boom")
	}
	j.got <- payload
	return nil
}

func fastConfig(retries int) Config {
	return Config{
		Workers:      2,
		RetryLimit:   retries,
		RetryDelay:   time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		PopTimeout:   20 * time.Millisecond,
	}
}

func TestEnqueueRequiresRegisteredJob(t *testing.T) {
	q := newQueue(nil, fastConfig(0), newMemStore())
	_, err := q.Enqueue(context.Background(), "unknown", map[string]string{})
	assert.Error(t, err)
}

func TestEnqueueAndProcess(t *testing.T) {
	store := newMemStore()
	q := newQueue(nil, fastConfig(0), store)
	job := &testJob{typ: "analysis.batch", got: make(chan json.RawMessage, 1)}
	q.RegisterJob(job)

	id, err := q.Enqueue(context.Background(), "analysis.batch", map[string]string{"id": "abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	select {
	case payload := <-job.got:
		decoded, err := Decode[map[string]string](payload)
		require.NoError(t, err)
		assert.Equal(t, "abc", (*decoded)["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("job not processed")
	}
}

func TestRetryThenSucceed(t *testing.T) {
	store := newMemStore()
	q := newQueue(nil, fastConfig(3), store)
	job := &testJob{typ: "t", fail: 2, got: make(chan json.RawMessage, 1)}
	q.RegisterJob(job)

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())
	_, err := q.Enqueue(context.Background(), "t", 1)
	require.NoError(t, err)

	select {
	case <-job.got:
	case <-time.After(3 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), job.calls.Load())
	assert.Empty(t, store.list(q.deadLetterKey()))
}

func TestDeadLetterAfterRetryLimit(t *testing.T) {
	store := newMemStore()
	q := newQueue(nil, fastConfig(1), store, WithKeyPrefix("test"))
	job := &testJob{typ: "t", fail: 100, got: make(chan json.RawMessage, 1)}
	q.RegisterJob(job)

	require.NoError(t, q.Start(context.Background()))
	_, err := q.Enqueue(context.Background(), "t", "x")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(store.list("test:dlq")) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, q.Stop(context.Background()))

	var msg Message
	require.NoError(t, json.Unmarshal(store.list("test:dlq")[0], &msg))
	assert.Equal(t, "t", msg.Type)
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, "boom", msg.LastError)
	assert.Equal(t, int32(2), job.calls.Load())
}

func TestStartTwice(t *testing.T) {
	q := newQueue(nil, fastConfig(0), newMemStore())
	require.NoError(t, q.Start(context.Background()))
	assert.Error(t, q.Start(context.Background()))
	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Stop(context.Background()))
}

func TestDecodeEmpty(t *testing.T) {
	_, err := Decode[struct{}](nil)
	assert.Error(t, err)
}
