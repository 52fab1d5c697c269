package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/models"
)

func testResult() exchange.TradeResult {
	return exchange.TradeResult{
		TradeID:      7,
		TradeType:    models.TradeBuy,
		CoinID:       "bitcoin",
		Quantity:     decimal.RequireFromString("1.5"),
		PricePerCoin: decimal.RequireFromString("100"),
		Total:        decimal.RequireFromString("150"),
		NewBalance:   decimal.RequireFromString("850"),
		ExecutedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func dialHub(t *testing.T, hub *Hub, userID int) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("user"))
		hub.Serve(w, r, id)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + strconv.Itoa(userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PushesTradesToOwner(t *testing.T) {
	hub := NewHub(nil, nil)
	t.Cleanup(hub.Close)

	alice := dialHub(t, hub, 1)
	bob := dialHub(t, hub, 2)
	require.Eventually(t, func() bool { return hub.Clients(1) == 1 && hub.Clients(2) == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, hub.TradeExecuted(context.Background(), 1, testResult()))

	alice.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := alice.ReadMessage()
	require.NoError(t, err)

	var event TradeEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "trade_executed", event.Type)
	assert.Equal(t, 1, event.UserID)
	assert.Equal(t, 7, event.Trade.TradeID)
	assert.True(t, event.Trade.Total.Equal(decimal.NewFromInt(150)))

	bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = bob.ReadMessage()
	assert.Error(t, err, "other users must not receive the trade")
}

func TestHub_DropsClosedClients(t *testing.T) {
	hub := NewHub(nil, nil)
	t.Cleanup(hub.Close)

	conn := dialHub(t, hub, 1)
	require.Eventually(t, func() bool { return hub.Clients(1) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients(1) == 0 }, time.Second, 10*time.Millisecond)
	assert.NoError(t, hub.TradeExecuted(context.Background(), 1, testResult()))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_TradeExecuted(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w, timeout: time.Second}

	require.NoError(t, p.TradeExecuted(context.Background(), 42, testResult()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))
	assert.Equal(t, testResult().ExecutedAt, w.msgs[0].Time)

	var event TradeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
	assert.Equal(t, 42, event.UserID)
	assert.Equal(t, "bitcoin", event.Trade.CoinID)

	w.err = errors.New("broker down")
	assert.ErrorContains(t, p.TradeExecuted(context.Background(), 42, testResult()), "broker down")
}

func TestNewKafkaPublisher(t *testing.T) {
	tests := []struct {
		name    string
		brokers []string
		topic   string
		wantErr bool
	}{
		{name: "Success", brokers: []string{"localhost:9092"}, topic: "trades.executed"},
		{name: "NoBrokers", topic: "trades.executed", wantErr: true},
		{name: "NoTopic", brokers: []string{"localhost:9092"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewKafkaPublisher(tt.brokers, tt.topic)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, p.Close())
		})
	}
}

type notifierFunc func(ctx context.Context, userID int, result exchange.TradeResult) error

func (f notifierFunc) TradeExecuted(ctx context.Context, userID int, result exchange.TradeResult) error {
	return f(ctx, userID, result)
}

func TestMulti_JoinsErrors(t *testing.T) {
	calls := 0
	ok := notifierFunc(func(context.Context, int, exchange.TradeResult) error { calls++; return nil })
	errA := errors.New("a failed")
	failing := notifierFunc(func(context.Context, int, exchange.TradeResult) error { calls++; return errA })

	err := Multi{failing, ok}.TradeExecuted(context.Background(), 1, testResult())
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 2, calls, "a failing notifier must not stop the others")

	assert.NoError(t, Multi{ok}.TradeExecuted(context.Background(), 1, testResult()))
	assert.NoError(t, Multi(nil).TradeExecuted(context.Background(), 1, testResult()))
}
