package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xhttp "FinGuard/pkg/http"
)

const tradeFrame = `{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":42,"p":"43000.50","q":"0.25","T":1700000000000,"m":true,"M":true}`

func TestParseFrame(t *testing.T) {
	tr, err := parseFrame([]byte(tradeFrame))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, 43000.50, tr.Price)
	assert.Equal(t, 0.25, tr.Qty)
	assert.Equal(t, int64(42), tr.TradeID)
	assert.True(t, tr.BuyerMaker)
	assert.Equal(t, int64(1700000000000), tr.Time.UnixMilli())
}

func TestParseFrameSkipsAcks(t *testing.T) {
	tr, err := parseFrame([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.Nil(t, tr)

	_, err = parseFrame([]byte(`{"e":"trade","s":"X","p":"abc","q":"1","T":1}`))
	assert.Error(t, err)
}

func wsServer(t *testing.T, subscribed chan<- subscribeRequest) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subscribed <- req
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(tradeFrame))
		// hold the connection until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestClientStreamsTrades(t *testing.T) {
	subscribed := make(chan subscribeRequest, 1)
	srv := wsServer(t, subscribed)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(url, "BTCUSDT", WithPingInterval(50*time.Millisecond))
	assert.Equal(t, "btcusdt@trade", c.StreamName())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	assert.True(t, c.IsConnected())

	req := <-subscribed
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.Equal(t, []string{"btcusdt@trade"}, req.Params)

	trades, _ := c.Read(ctx)
	select {
	case tr := <-trades:
		require.NotNil(t, tr)
		assert.Equal(t, 43000.50, tr.Price)
	case <-ctx.Done():
		t.Fatal("no trade received")
	}

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New("ws://127.0.0.1:1", "btcusdt")
	assert.Error(t, c.Subscribe(context.Background()))

	trades, errs := c.Read(context.Background())
	assert.Error(t, <-errs)
	_, open := <-trades
	assert.False(t, open)
}

func TestRecentTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/trades", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": 1, "price": "100.5", "qty": "2", "time": 1700000000000, "isBuyerMaker": false},
			{"id": 2, "price": "101", "qty": "0.5", "time": 1700000000500, "isBuyerMaker": true},
		})
	}))
	defer srv.Close()

	r := NewREST(srv.URL+"/", xhttp.NewClient(xhttp.WithTimeout(time.Second)))
	trades, err := r.RecentTrades(context.Background(), "btcusdt", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, 100.5, trades[0].Price)
	assert.Equal(t, "BTCUSDT", trades[1].Symbol)
	assert.True(t, trades[1].BuyerMaker)
}

func TestRecentTradesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewREST(srv.URL, nil).RecentTrades(context.Background(), "btcusdt", 10)
	var se *xhttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable())
}
