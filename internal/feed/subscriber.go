package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"forex-trade-engine-go/internal/config"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const pingInterval = 20 * time.Second

// Tick is one price observation for a symbol. Only the latest tick per
// symbol is retained, last-write-wins.
type Tick struct {
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Handler receives every tick accepted by the subscriber. Handlers run on
// the read goroutine and must not block.
type Handler func(Tick)

// Subscription is a registered tick handler. Close unregisters it.
type Subscription struct {
	id  int
	sub *Subscriber
}

// Close unregisters the subscription's handler.
func (s *Subscription) Close() {
	if s == nil || s.sub == nil {
		return
	}
	s.sub.mu.Lock()
	delete(s.sub.handlers, s.id)
	s.sub.mu.Unlock()
}

// Subscriber maintains the latest tick per symbol from the push-based
// market-data channel. It reconnects on connection loss and never serves a
// tick older than the configured staleness bound through Current.
type Subscriber struct {
	url            string
	staleAfter     time.Duration
	reconnectDelay time.Duration
	logger         *zap.Logger
	dialer         *websocket.Dialer

	mu        sync.RWMutex
	ticks     map[string]Tick
	handlers  map[int]Handler
	nextID    int
	connected bool

	now func() time.Time
}

// NewSubscriber creates a subscriber for the configured market-data channel.
func NewSubscriber(cfg config.Feed, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		url:            cfg.URL,
		staleAfter:     time.Duration(cfg.StalenessSec) * time.Second,
		reconnectDelay: time.Duration(cfg.ReconnectDelaySec) * time.Second,
		logger:         logger.Named("feed"),
		dialer:         websocket.DefaultDialer,
		ticks:          make(map[string]Tick),
		handlers:       make(map[int]Handler),
		now:            time.Now,
	}
}

// Subscribe registers a handler for every accepted tick.
func (s *Subscriber) Subscribe(fn Handler) *Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	s.mu.Unlock()
	return &Subscription{id: id, sub: s}
}

// Current returns the latest tick for a symbol, or false when no tick exists
// or the cached one has exceeded the staleness bound. Callers treat both
// cases the same: the price is unknown, not merely old.
func (s *Subscriber) Current(symbol string) (Tick, bool) {
	s.mu.RLock()
	tick, ok := s.ticks[symbol]
	s.mu.RUnlock()
	if !ok {
		return Tick{}, false
	}
	if s.staleAfter > 0 && s.now().Sub(tick.ObservedAt) > s.staleAfter {
		return Tick{}, false
	}
	return tick, true
}

// Connected reports whether the subscriber currently holds a live connection.
func (s *Subscriber) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// priceFrame is the wire shape of one push event on the channel.
type priceFrame struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Run dials the channel and consumes it until the context is cancelled,
// reconnecting after read or dial failures.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("Failed to dial market-data channel, retrying",
				zap.String("url", s.url), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.reconnectDelay):
			}
			continue
		}

		s.logger.Info("Connected to market-data channel", zap.String("url", s.url))
		s.setConnected(true)
		s.readLoop(ctx, conn)
		s.setConnected(false)
		_ = conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Keepalive ping so idle connections are not dropped by intermediaries.
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stopPing:
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Market-data read failed, reconnecting", zap.Error(err))
			}
			return
		}

		var frame priceFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.logger.Debug("Skipping unparsable market-data frame", zap.Error(err))
			continue
		}
		if frame.Symbol == "" {
			continue
		}

		price, err := decimal.NewFromString(frame.Price)
		if err != nil || !price.IsPositive() {
			s.logger.Debug("Skipping frame with invalid price",
				zap.String("symbol", frame.Symbol), zap.String("price", frame.Price))
			continue
		}

		tick := Tick{Symbol: frame.Symbol, Price: price, ObservedAt: s.now()}
		s.store(tick)
	}
}

// store updates the latest-tick cache atomically per symbol and fans the
// tick out to subscribers.
func (s *Subscriber) store(tick Tick) {
	s.mu.Lock()
	s.ticks[tick.Symbol] = tick
	handlers := make([]Handler, 0, len(s.handlers))
	for _, fn := range s.handlers {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(tick)
	}
}
