package usecase

import (
	"sync"

	"FinGuard/internal/domain/models"
	drepo "FinGuard/internal/domain/repository"
)

var _ drepo.TradeSink = (*LiveWindow)(nil)

// LiveWindow keeps the latest trades in a fixed-size ring buffer.
type LiveWindow struct {
	mu    sync.RWMutex
	buf   []models.Trade
	next  int
	size  int
	total uint64
}

func NewLiveWindow(capacity int) *LiveWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &LiveWindow{buf: make([]models.Trade, capacity)}
}

// Add stores t, evicting the oldest trade once the window is full.
func (w *LiveWindow) Add(t models.Trade) {
	w.mu.Lock()
	w.buf[w.next] = t
	w.next = (w.next + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
	w.total++
	w.mu.Unlock()
}

// Latest returns up to n of the newest trades, oldest first. n <= 0 returns
// the whole window.
func (w *LiveWindow) Latest(n int) []models.Trade {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if n <= 0 || n > w.size {
		n = w.size
	}
	out := make([]models.Trade, n)
	start := (w.next - n + len(w.buf)) % len(w.buf)
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}

// Snapshot lays the latest n trades out as a price/qty/time record set.
func (w *LiveWindow) Snapshot(n int) *models.RecordSet {
	return models.TradesToRecordSet(w.Latest(n))
}

// Last returns the newest trade.
func (w *LiveWindow) Last() (models.Trade, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.size == 0 {
		return models.Trade{}, false
	}
	return w.buf[(w.next-1+len(w.buf))%len(w.buf)], true
}

func (w *LiveWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

func (w *LiveWindow) Capacity() int { return len(w.buf) }

// Total returns how many trades were ever added.
func (w *LiveWindow) Total() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.total
}
