package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"forex-trade-engine-go/internal/config"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testFeedConfig(url string) config.Feed {
	return config.Feed{URL: url, StalenessSec: 30, ReconnectDelaySec: 1}
}

// newFeedServer runs a websocket server that pushes the given raw frames to
// every client that connects.
func newFeedServer(t *testing.T, frames []string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Keep the connection open so the subscriber does not churn
		// through reconnects while the test observes the cache.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSubscriber_ReceivesAndCachesTicks(t *testing.T) {
	server := newFeedServer(t, []string{
		`{"symbol":"FX:EURUSD","price":"1.10050"}`,
		`{"symbol":"TVC:GOLD","price":"2301.25"}`,
	})

	sub := NewSubscriber(testFeedConfig(wsURL(server)), zap.NewNop())

	received := make(chan Tick, 4)
	subscription := sub.Subscribe(func(tick Tick) { received <- tick })
	defer subscription.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	var ticks []Tick
	for len(ticks) < 2 {
		select {
		case tick := <-received:
			ticks = append(ticks, tick)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for ticks")
		}
	}

	assert.Equal(t, "FX:EURUSD", ticks[0].Symbol)
	assert.True(t, ticks[0].Price.Equal(decimal.RequireFromString("1.10050")))

	current, ok := sub.Current("FX:EURUSD")
	require.True(t, ok)
	assert.True(t, current.Price.Equal(decimal.RequireFromString("1.10050")))

	current, ok = sub.Current("TVC:GOLD")
	require.True(t, ok)
	assert.True(t, current.Price.Equal(decimal.RequireFromString("2301.25")))
}

func TestSubscriber_SkipsInvalidFrames(t *testing.T) {
	server := newFeedServer(t, []string{
		`not json at all`,
		`{"symbol":"","price":"1.1"}`,
		`{"symbol":"FX:USDCHF","price":"garbage"}`,
		`{"symbol":"FX:USDCHF","price":"0"}`,
		`{"symbol":"FX:USDCHF","price":"0.91000"}`,
	})

	sub := NewSubscriber(testFeedConfig(wsURL(server)), zap.NewNop())

	received := make(chan Tick, 4)
	subscription := sub.Subscribe(func(tick Tick) { received <- tick })
	defer subscription.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	select {
	case tick := <-received:
		// Only the one valid frame survives.
		assert.Equal(t, "FX:USDCHF", tick.Symbol)
		assert.True(t, tick.Price.Equal(decimal.RequireFromString("0.91000")))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the valid tick")
	}

	select {
	case tick := <-received:
		t.Fatalf("unexpected extra tick: %+v", tick)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCurrent_LastWriteWins(t *testing.T) {
	sub := NewSubscriber(testFeedConfig("ws://unused"), zap.NewNop())

	sub.store(Tick{Symbol: "FX:EURUSD", Price: decimal.RequireFromString("1.10000"), ObservedAt: time.Now()})
	sub.store(Tick{Symbol: "FX:EURUSD", Price: decimal.RequireFromString("1.10010"), ObservedAt: time.Now()})

	tick, ok := sub.Current("FX:EURUSD")
	require.True(t, ok)
	assert.True(t, tick.Price.Equal(decimal.RequireFromString("1.10010")))
}

func TestCurrent_StaleTickTreatedAsAbsent(t *testing.T) {
	sub := NewSubscriber(testFeedConfig("ws://unused"), zap.NewNop())

	now := time.Now()
	sub.store(Tick{Symbol: "FX:EURUSD", Price: decimal.RequireFromString("1.10000"), ObservedAt: now})

	_, ok := sub.Current("FX:EURUSD")
	require.True(t, ok)

	// Simulate the feed going quiet past the staleness bound: the tick is
	// still cached but must no longer be served.
	sub.now = func() time.Time { return now.Add(31 * time.Second) }

	_, ok = sub.Current("FX:EURUSD")
	assert.False(t, ok)
}

func TestCurrent_UnknownSymbolAbsent(t *testing.T) {
	sub := NewSubscriber(testFeedConfig("ws://unused"), zap.NewNop())
	_, ok := sub.Current("FX:NOPE")
	assert.False(t, ok)
}

func TestSubscription_CloseUnregisters(t *testing.T) {
	sub := NewSubscriber(testFeedConfig("ws://unused"), zap.NewNop())

	calls := 0
	subscription := sub.Subscribe(func(Tick) { calls++ })

	sub.store(Tick{Symbol: "FX:EURUSD", Price: decimal.New(11, -1), ObservedAt: time.Now()})
	assert.Equal(t, 1, calls)

	subscription.Close()
	sub.store(Tick{Symbol: "FX:EURUSD", Price: decimal.New(12, -1), ObservedAt: time.Now()})
	assert.Equal(t, 1, calls)
}
