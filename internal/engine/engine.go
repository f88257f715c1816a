package engine

import (
	"context"
	"sync"
	"time"

	"forex-trade-engine-go/internal/backend"
	"forex-trade-engine-go/internal/config"
	"forex-trade-engine-go/internal/feed"
	"forex-trade-engine-go/internal/instrument"
	"forex-trade-engine-go/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tickBuffer bounds the queue between the feed's read goroutine and the
// engine loop. The poll timer covers anything dropped under burst load.
const tickBuffer = 256

// FeedSource is what the engine needs from the price feed.
type FeedSource interface {
	Subscribe(feed.Handler) *feed.Subscription
	Current(symbol string) (feed.Tick, bool)
	Connected() bool
}

// phase is the local lifecycle of a tracked position:
// Open -> Closing -> Closed. Closed is terminal.
type phase int

const (
	phaseOpen phase = iota
	phaseClosing
	phaseClosed
)

// trackedPosition serializes all evaluation and close attempts for one
// position. The Closing phase blocks re-entrant triggering until the backend
// responds, so a tick-triggered and a timer-triggered close cannot race.
type trackedPosition struct {
	mu    sync.Mutex
	pos   models.Position
	phase phase
}

// Engine runs the risk-trigger evaluator: it reacts to tick arrivals and a
// fixed polling interval, detects stop-loss/take-profit breaches on open
// positions, and closes them through the backend trade store.
type Engine struct {
	UUID      string
	StartTime time.Time

	logger *zap.Logger
	cfg    *config.Config
	feed   FeedSource
	client backend.Client
	db     *gorm.DB
	table  *instrument.Table

	mu        sync.RWMutex
	positions map[string]*trackedPosition
}

// NewEngine creates a new risk-trigger engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, feedSrc FeedSource, client backend.Client, db *gorm.DB, table *instrument.Table) *Engine {
	return &Engine{
		UUID:      uuid.NewString(),
		StartTime: time.Now(),
		logger:    logger.Named("engine"),
		cfg:       cfg,
		feed:      feedSrc,
		client:    client,
		db:        db,
		table:     table,
		positions: make(map[string]*trackedPosition),
	}
}

// Run starts the engine's main loop and blocks until the context is
// cancelled. Two event sources feed the same serialized per-position
// evaluation path: live ticks, and a poll timer that bounds staleness
// against silent or missed ticks.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Initializing risk-trigger engine...")
	if err := e.reconcile(ctx); err != nil {
		// Not fatal: the cache stays empty until the backend is
		// reachable again and the next reconcile pass succeeds.
		e.logger.Error("Initial position sync failed", zap.Error(err))
	}

	tickCh := make(chan feed.Tick, tickBuffer)
	sub := e.feed.Subscribe(func(t feed.Tick) {
		select {
		case tickCh <- t:
		default:
			// Queue full; the poll pass will catch up.
		}
	})
	defer sub.Close()

	pollInterval := time.Duration(e.cfg.Engine.PollIntervalSec) * time.Second
	reconcileInterval := time.Duration(e.cfg.Engine.ReconcileIntervalSec) * time.Second

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	reconcile := time.NewTicker(reconcileInterval)
	defer reconcile.Stop()

	e.logger.Info("Starting evaluation loop",
		zap.Duration("poll_interval", pollInterval),
		zap.Duration("reconcile_interval", reconcileInterval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping risk-trigger engine...")
			return
		case tick := <-tickCh:
			e.evaluateSymbol(ctx, tick)
		case <-poll.C:
			e.evaluateAll(ctx)
		case <-reconcile.C:
			if err := e.reconcile(ctx); err != nil {
				e.logger.Error("Position reconciliation failed", zap.Error(err))
			}
		}
	}
}

// evaluateSymbol runs trigger evaluation for every tracked position on the
// tick's symbol. Evaluations run concurrently so an in-flight close for one
// position never delays valuation of unrelated positions.
func (e *Engine) evaluateSymbol(ctx context.Context, tick feed.Tick) {
	for _, tp := range e.snapshot() {
		if tp.pos.Symbol != tick.Symbol {
			continue
		}
		go e.evaluate(ctx, tp, tick)
	}
}

// evaluateAll is the timer-driven pass. Positions whose symbol has no fresh
// tick are excluded: an unknown price is never grounds for a close.
func (e *Engine) evaluateAll(ctx context.Context) {
	for _, tp := range e.snapshot() {
		tick, ok := e.feed.Current(tp.pos.Symbol)
		if !ok {
			continue
		}
		go e.evaluate(ctx, tp, tick)
	}
}

func (e *Engine) snapshot() []*trackedPosition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*trackedPosition, 0, len(e.positions))
	for _, tp := range e.positions {
		out = append(out, tp)
	}
	return out
}

// reconcile re-syncs the local cache against the backend's open-trade list.
// The backend is authoritative: positions it no longer reports as open are
// dropped locally, new ones are adopted.
func (e *Engine) reconcile(ctx context.Context) error {
	open, err := e.client.ListOpen(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(open))
	for i := range open {
		pos := open[i]
		seen[pos.ID] = struct{}{}
		e.adopt(pos)
	}

	for _, tp := range e.snapshot() {
		tp.mu.Lock()
		id := tp.pos.ID
		stillOpen := tp.phase == phaseOpen
		tp.mu.Unlock()

		if _, ok := seen[id]; ok || !stillOpen {
			continue
		}
		e.logger.Info("Position no longer open on backend, dropping from cache",
			zap.String("id", id))
		e.drop(id)
	}

	e.logger.Debug("Reconciled open positions", zap.Int("count", len(open)))
	return nil
}

// adopt inserts or refreshes one backend-reported open position in the
// cache. A position mid-close keeps its local state; the backend's answer to
// the close call settles it.
func (e *Engine) adopt(pos models.Position) {
	e.mu.Lock()
	tp, ok := e.positions[pos.ID]
	if !ok {
		tp = &trackedPosition{pos: pos, phase: phaseOpen}
		e.positions[pos.ID] = tp
		e.mu.Unlock()
		e.persist(&pos)
		return
	}
	e.mu.Unlock()

	tp.mu.Lock()
	if tp.phase == phaseOpen {
		tp.pos.StopLoss = pos.StopLoss
		tp.pos.TakeProfit = pos.TakeProfit
		tp.pos.Status = pos.Status
	}
	tp.mu.Unlock()
}

// drop removes a position from the cache and the local database. Used when
// the backend reports it gone (NotFound) or no longer open.
func (e *Engine) drop(id string) {
	e.mu.Lock()
	delete(e.positions, id)
	e.mu.Unlock()

	if err := e.db.Delete(&models.Position{}, "id = ?", id).Error; err != nil {
		e.logger.Error("Failed to delete cached position", zap.String("id", id), zap.Error(err))
	}
}

// persist mirrors a position into the local sqlite cache. Failures are
// logged and tolerated; the backend remains the source of truth.
func (e *Engine) persist(pos *models.Position) {
	err := e.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(pos).Error
	if err != nil {
		e.logger.Error("Failed to persist position cache row",
			zap.String("id", pos.ID), zap.Error(err))
	}
}

// track adds a freshly opened position to the cache.
func (e *Engine) track(pos models.Position) {
	e.mu.Lock()
	e.positions[pos.ID] = &trackedPosition{pos: pos, phase: phaseOpen}
	e.mu.Unlock()
	e.persist(&pos)
}

func (e *Engine) tracked(id string) (*trackedPosition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tp, ok := e.positions[id]
	return tp, ok
}
