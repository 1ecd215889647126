// Package simulator generates synthetic testnet transactions between a fixed
// set of accounts.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"FinGuard/internal/domain/models"
)

const (
	MaxTransactions = 10000
	DefaultAccounts = 20
	AnomalyRate     = 0.1
)

var ErrInvalidCount = errors.New("invalid number of transactions")

// Range is an inclusive bound for a generated value.
type Range struct {
	Min, Max float64
}

func (r Range) draw(rng *rand.Rand, decimals int) float64 {
	v := r.Min + rng.Float64()*(r.Max-r.Min)
	p := math.Pow(10, float64(decimals))
	return math.Min(r.Max, math.Max(r.Min, math.Round(v*p)/p))
}

type Simulator struct {
	accounts    []string
	amount      Range
	price       Range
	volume      Range
	anomalyRate float64
}

type Option func(*Simulator)

func WithAccounts(n int) Option {
	return func(s *Simulator) {
		if n >= 2 {
			s.accounts = accountNames(n)
		}
	}
}

func WithAnomalyRate(p float64) Option {
	return func(s *Simulator) { s.anomalyRate = p }
}

func WithPriceRange(r Range) Option {
	return func(s *Simulator) { s.price = r }
}

func New(opts ...Option) *Simulator {
	s := &Simulator{
		accounts:    accountNames(DefaultAccounts),
		amount:      Range{Min: 0.01, Max: 10},
		price:       Range{Min: 30000, Max: 70000},
		volume:      Range{Min: 1000, Max: 100000},
		anomalyRate: AnomalyRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func accountNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("User%d", i+1)
	}
	return out
}

// Generate returns n transactions. A zero seed draws from the clock.
func (s *Simulator) Generate(n int, seed int64) ([]models.SimulatedTransaction, error) {
	if n < 1 || n > MaxTransactions {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidCount, n, MaxTransactions)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	txs := make([]models.SimulatedTransaction, n)
	for i := range txs {
		from := rng.Intn(len(s.accounts))
		to := rng.Intn(len(s.accounts) - 1)
		if to >= from {
			to++
		}
		anomaly := 0
		if rng.Float64() < s.anomalyRate {
			anomaly = 1
		}
		txs[i] = models.SimulatedTransaction{
			ID:          fmt.Sprintf("testnet_%d", i),
			FromAccount: s.accounts[from],
			ToAccount:   s.accounts[to],
			Amount:      s.amount.draw(rng, 4),
			Price:       s.price.draw(rng, 2),
			Volume:      s.volume.draw(rng, 2),
			IsAnomaly:   anomaly,
		}
	}
	return txs, nil
}
