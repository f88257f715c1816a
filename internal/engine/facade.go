package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"forex-trade-engine-go/internal/backend"
	"forex-trade-engine-go/internal/feed"
	"forex-trade-engine-go/internal/models"
	"forex-trade-engine-go/internal/valuation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// User-initiated operations exposed to the surrounding UI/admin code. Unlike
// autonomous trigger closes, failures here are surfaced verbatim to the
// caller.

// OpenPosition validates and submits a trade-open request. The entry price
// is the current market price; with no fresh tick the request is refused
// rather than opened blind.
func (e *Engine) OpenPosition(ctx context.Context, req backend.OpenRequest) (*models.Position, error) {
	tick, ok := e.feed.Current(req.Symbol)
	if !ok {
		return nil, fmt.Errorf("cannot open %s: %w", req.Symbol, valuation.ErrFeedUnavailable)
	}
	req.EntryPrice = tick.Price

	spec := e.table.Lookup(req.Symbol)

	user, err := e.client.GetUser(ctx, e.cfg.Backend.UserID)
	if err != nil {
		return nil, fmt.Errorf("balance check failed: %w", err)
	}

	if err := backend.ValidateOpen(req, spec, tick.Price, user.Balance); err != nil {
		return nil, err
	}

	pos, err := e.client.Open(ctx, req)
	if err != nil {
		return nil, err
	}

	e.track(*pos)
	e.logger.Info("Tracking new position",
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("entry_price", pos.EntryPrice.String()))
	return pos, nil
}

// ClosePosition closes a position at the current market price. Closing an
// already-closed position is not an error; the recorded state is returned.
func (e *Engine) ClosePosition(ctx context.Context, id string) (*models.Position, error) {
	tp, ok := e.tracked(id)
	if !ok {
		return e.closedFromCache(id)
	}

	tick, ok := e.feed.Current(tp.posSymbol())
	if !ok {
		return nil, fmt.Errorf("cannot close %s: %w", id, valuation.ErrFeedUnavailable)
	}

	tp.mu.Lock()
	if tp.phase != phaseOpen {
		pos := tp.pos
		tp.mu.Unlock()
		return &pos, nil
	}
	tp.phase = phaseClosing
	pos := tp.pos
	tp.mu.Unlock()

	spec := e.table.Lookup(pos.Symbol)
	result := valuation.Valuate(&pos, spec, tick)

	closed, err := e.client.Close(ctx, pos.ID, tick.Price, result.UnrealizedPnl)
	switch {
	case err == nil:
		e.settle(tp, closed, models.CloseReasonManual)
	case errors.Is(err, backend.ErrAlreadyClosed):
		e.settle(tp, nil, models.CloseReasonManual)
	case errors.Is(err, backend.ErrNotFound):
		tp.mu.Lock()
		tp.phase = phaseClosed
		tp.mu.Unlock()
		e.drop(pos.ID)
		return nil, err
	default:
		tp.mu.Lock()
		tp.phase = phaseOpen
		tp.mu.Unlock()
		return nil, err
	}

	tp.mu.Lock()
	final := tp.pos
	tp.mu.Unlock()
	return &final, nil
}

// UpdateThresholds mutates the stop-loss/take-profit of an open position
// after validating them against the current price.
func (e *Engine) UpdateThresholds(ctx context.Context, id string, stopLoss, takeProfit decimal.Decimal) (*models.Position, error) {
	tp, ok := e.tracked(id)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, backend.ErrNotFound)
	}

	tick, ok := e.feed.Current(tp.posSymbol())
	if !ok {
		return nil, fmt.Errorf("cannot validate thresholds for %s: %w", id, valuation.ErrFeedUnavailable)
	}

	tp.mu.Lock()
	side := tp.pos.Side
	tp.mu.Unlock()

	if err := backend.ValidateThresholds(side, tick.Price, stopLoss, takeProfit); err != nil {
		return nil, err
	}

	pos, err := e.client.UpdateThresholds(ctx, id, stopLoss, takeProfit)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			e.drop(id)
		}
		return nil, err
	}

	tp.mu.Lock()
	if tp.phase == phaseOpen {
		tp.pos.StopLoss = pos.StopLoss
		tp.pos.TakeProfit = pos.TakeProfit
	}
	row := tp.pos
	tp.mu.Unlock()
	e.persist(&row)

	return pos, nil
}

// ListOpen returns a snapshot of the cached open positions, oldest first.
func (e *Engine) ListOpen() []models.Position {
	tracked := e.snapshot()
	out := make([]models.Position, 0, len(tracked))
	for _, tp := range tracked {
		tp.mu.Lock()
		if tp.phase != phaseClosed {
			out = append(out, tp.pos)
		}
		tp.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Valuate computes the live valuation of one position. Open positions need
// a fresh tick; closed ones return their stored realized pnl unchanged.
func (e *Engine) Valuate(id string) (valuation.Result, error) {
	if tp, ok := e.tracked(id); ok {
		tp.mu.Lock()
		pos := tp.pos
		tp.mu.Unlock()

		tick, ok := e.feed.Current(pos.Symbol)
		if !ok {
			return valuation.Result{}, fmt.Errorf("position %s: %w", id, valuation.ErrFeedUnavailable)
		}
		return valuation.Valuate(&pos, e.table.Lookup(pos.Symbol), tick), nil
	}

	// Not tracked: closed positions live only in the local cache rows.
	// Their valuation ignores the tick entirely.
	pos, err := e.closedFromCache(id)
	if err != nil {
		return valuation.Result{}, err
	}
	return valuation.Valuate(pos, e.table.Lookup(pos.Symbol), feed.Tick{}), nil
}

func (e *Engine) closedFromCache(id string) (*models.Position, error) {
	var pos models.Position
	if err := e.db.First(&pos, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("position %s: %w", id, backend.ErrNotFound)
		}
		return nil, err
	}
	// An open row without a tracked entry is a stale mirror (restart before
	// the first successful reconcile). It carries no settled figures, so it
	// must not stand in for either a valuation or a close confirmation.
	if pos.Status != models.StatusClosed {
		return nil, fmt.Errorf("position %s: not yet reconciled: %w", id, backend.ErrNotFound)
	}
	return &pos, nil
}

func (tp *trackedPosition) posSymbol() string {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.pos.Symbol
}
