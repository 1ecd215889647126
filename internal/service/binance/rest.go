package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"FinGuard/internal/domain/models"
	xhttp "FinGuard/pkg/http"
	"FinGuard/pkg/util"
)

// MaxRecentTrades is the largest limit /api/v3/trades accepts.
const MaxRecentTrades = 1000

// REST fetches recent trades from the Binance spot REST API.
type REST struct {
	baseURL string
	client  *xhttp.Client
}

func NewREST(baseURL string, client *xhttp.Client) *REST {
	if client == nil {
		client = xhttp.NewClient()
	}
	return &REST{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type restTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

// RecentTrades returns up to limit of the latest trades for symbol, oldest first.
func (r *REST) RecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	if limit <= 0 || limit > MaxRecentTrades {
		limit = MaxRecentTrades
	}
	symbol = strings.ToUpper(symbol)

	var raw []restTrade
	err := r.client.GetJSON(ctx, r.baseURL+"/api/v3/trades", url.Values{
		"symbol": {symbol},
		"limit":  {strconv.Itoa(limit)},
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("binance recent trades %s: %w", symbol, err)
	}

	out := make([]models.Trade, 0, len(raw))
	for _, rt := range raw {
		price, err := strconv.ParseFloat(rt.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("trade %d price %q: %w", rt.ID, rt.Price, err)
		}
		qty, err := strconv.ParseFloat(rt.Qty, 64)
		if err != nil {
			return nil, fmt.Errorf("trade %d qty %q: %w", rt.ID, rt.Qty, err)
		}
		out = append(out, models.Trade{
			Symbol:     symbol,
			Price:      price,
			Qty:        qty,
			Time:       util.FromUnix(rt.Time),
			TradeID:    rt.ID,
			BuyerMaker: rt.IsBuyerMaker,
		})
	}
	return out, nil
}
