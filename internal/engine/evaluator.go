package engine

import (
	"context"
	"errors"
	"time"

	"forex-trade-engine-go/internal/backend"
	"forex-trade-engine-go/internal/feed"
	"forex-trade-engine-go/internal/models"
	"forex-trade-engine-go/internal/valuation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// detectTrigger returns the close reason a tick demands for a position, or
// "" when no threshold is crossed. A threshold equal to zero is disabled.
// When one tick crosses both thresholds the stop-loss wins: the protective
// exit takes precedence over profit-taking, deterministically.
func detectTrigger(pos *models.Position, price decimal.Decimal) string {
	if pos.StopLossEnabled() && stopLossHit(pos.Side, price, pos.StopLoss) {
		return models.CloseReasonStopLoss
	}
	if pos.TakeProfitEnabled() && takeProfitHit(pos.Side, price, pos.TakeProfit) {
		return models.CloseReasonTakeProfit
	}
	return ""
}

func stopLossHit(side models.Side, price, stopLoss decimal.Decimal) bool {
	if side == models.SideLong {
		return price.LessThanOrEqual(stopLoss)
	}
	return price.GreaterThanOrEqual(stopLoss)
}

func takeProfitHit(side models.Side, price, takeProfit decimal.Decimal) bool {
	if side == models.SideLong {
		return price.GreaterThanOrEqual(takeProfit)
	}
	return price.LessThanOrEqual(takeProfit)
}

// evaluate runs one trigger evaluation for one position against one tick.
// The position's phase gate makes this idempotent: only an Open position can
// enter Closing, and only the goroutine that moved it there talks to the
// backend. A failed close reverts to Open so the next tick or poll pass
// retries; the engine never assumes a close happened.
func (e *Engine) evaluate(ctx context.Context, tp *trackedPosition, tick feed.Tick) {
	tp.mu.Lock()
	if tp.phase != phaseOpen {
		tp.mu.Unlock()
		return
	}
	reason := detectTrigger(&tp.pos, tick.Price)
	if reason == "" {
		tp.mu.Unlock()
		return
	}
	tp.phase = phaseClosing
	pos := tp.pos
	tp.mu.Unlock()

	l := e.logger.With(
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.String("trigger_price", tick.Price.String()),
	)
	l.Info("Risk trigger fired, closing position")

	spec := e.table.Lookup(pos.Symbol)
	result := valuation.Valuate(&pos, spec, tick)

	closed, err := e.client.Close(ctx, pos.ID, tick.Price, result.UnrealizedPnl)
	switch {
	case err == nil:
		e.settle(tp, closed, reason)
		l.Info("Position closed", zap.String("pnl", result.UnrealizedPnl.String()))

	case errors.Is(err, backend.ErrAlreadyClosed):
		// Duplicate trigger collapsed on the backend; terminal success.
		e.settle(tp, nil, reason)
		l.Info("Position was already closed on backend")

	case errors.Is(err, backend.ErrNotFound):
		tp.mu.Lock()
		tp.phase = phaseClosed
		tp.mu.Unlock()
		e.drop(pos.ID)
		l.Warn("Position vanished from backend, dropped from cache")

	default:
		// Autonomous close: not surfaced to any user, retried on the
		// next tick or poll pass.
		tp.mu.Lock()
		tp.phase = phaseOpen
		tp.mu.Unlock()
		l.Error("Close attempt failed, will retry", zap.Error(err))
	}
}

// settle records a confirmed close: terminal phase, cache row updated, the
// position removed from the open set. The backend fixes the settled figures
// at its own close time; when it returned none (a duplicate close collapsed
// on its side) the realized fields stay unset rather than holding a local
// guess.
func (e *Engine) settle(tp *trackedPosition, closed *models.Position, reason string) {
	tp.mu.Lock()
	tp.phase = phaseClosed
	tp.pos.Status = models.StatusClosed
	tp.pos.CloseReason = reason
	if closed != nil {
		tp.pos.ExitPrice = closed.ExitPrice
		tp.pos.RealizedPnl = closed.RealizedPnl
		tp.pos.ClosedAt = closed.ClosedAt
	}
	if tp.pos.ClosedAt == nil {
		now := time.Now()
		tp.pos.ClosedAt = &now
	}
	row := tp.pos
	id := tp.pos.ID
	tp.mu.Unlock()

	e.persist(&row)

	e.mu.Lock()
	delete(e.positions, id)
	e.mu.Unlock()
}
