package models

import (
	"fmt"
	"time"

	"FinGuard/pkg/util"
)

// Trade is a single executed trade from the live feed.
type Trade struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	Time       time.Time `json:"time"`
	TradeID    int64     `json:"trade_id,omitempty"`
	BuyerMaker bool      `json:"buyer_maker,omitempty"`
}

// TickMessage is the wire format of a trade on the Kafka trades topic.
type TickMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"` // unix millis; seconds are accepted
	P      float64 `json:"p"`
	Q      float64 `json:"q"`
}

func NewTickMessage(t *Trade) TickMessage {
	return TickMessage{Symbol: t.Symbol, T: t.Time.UnixMilli(), P: t.Price, Q: t.Qty}
}

// ToTrade validates the tick and converts it.
func (m TickMessage) ToTrade() (Trade, error) {
	if m.Symbol == "" {
		return Trade{}, fmt.Errorf("tick without symbol")
	}
	if m.P <= 0 || m.Q < 0 {
		return Trade{}, fmt.Errorf("tick %s has price %v qty %v", m.Symbol, m.P, m.Q)
	}
	if m.T <= 0 {
		return Trade{}, fmt.Errorf("tick %s has no timestamp", m.Symbol)
	}
	return Trade{Symbol: m.Symbol, Price: m.P, Qty: m.Q, Time: util.FromUnix(m.T)}, nil
}

// SimulatedTransaction is one row produced by the transaction simulator.
type SimulatedTransaction struct {
	ID          string  `json:"id"`
	FromAccount string  `json:"from_account"`
	ToAccount   string  `json:"to_account"`
	Amount      float64 `json:"amount"`
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
	IsAnomaly   int     `json:"is_anomaly"`
}

// TradesToRecordSet lays trades out as price/qty/time rows.
func TradesToRecordSet(trades []Trade) *RecordSet {
	rows := make([]Row, len(trades))
	for i, t := range trades {
		rows[i] = Row{
			"price": t.Price,
			"qty":   t.Qty,
			"time":  float64(t.Time.UnixMilli()),
		}
	}
	return NewRecordSet([]string{"price", "qty", "time"}, rows)
}

// SimulatedToRecordSet lays simulated transactions out as rows.
func SimulatedToRecordSet(txs []SimulatedTransaction) *RecordSet {
	rows := make([]Row, len(txs))
	for i, tx := range txs {
		rows[i] = Row{
			"id":           tx.ID,
			"from_account": tx.FromAccount,
			"to_account":   tx.ToAccount,
			"amount":       tx.Amount,
			"price":        tx.Price,
			"volume":       tx.Volume,
			"is_anomaly":   float64(tx.IsAnomaly),
		}
	}
	return NewRecordSet([]string{"id", "from_account", "to_account", "amount", "price", "volume", "is_anomaly"}, rows)
}
