package valuation

import (
	"errors"
	"time"

	"forex-trade-engine-go/internal/feed"
	"forex-trade-engine-go/internal/instrument"
	"forex-trade-engine-go/internal/models"
	"github.com/shopspring/decimal"
)

// ErrFeedUnavailable is returned when a position cannot be valuated because
// no fresh tick exists for its symbol. A valuation is withheld in that case,
// never guessed.
var ErrFeedUnavailable = errors.New("no current price for symbol")

var hundred = decimal.NewFromInt(100)

// Result is the derived valuation of one position against one tick. It is
// never persisted.
type Result struct {
	PositionID    string          `json:"positionId"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
	PnlPercentage decimal.Decimal `json:"pnlPercentage"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	AsOf          time.Time       `json:"asOf"`
}

// Valuate computes the unrealized PnL of a position against the given tick.
//
// For a closed position the stored realized PnL is returned verbatim; it was
// fixed at close time and is never recomputed from live ticks. For an open
// position:
//
//	pipsMoved = favorableDelta / 10^(-pipDecimalPlace)
//	pnl       = round2(pipsMoved * pipValuePerLot * lotSize)
//	pnl%      = round2(pnl / (entryPrice * lotSize) * 100)   (0 when denominator is 0)
//
// Monetary output is rounded half-away-from-zero to 2 decimal places; the
// intermediate arithmetic is exact decimal.
func Valuate(pos *models.Position, spec instrument.Spec, tick feed.Tick) Result {
	if pos.Status == models.StatusClosed {
		asOf := time.Time{}
		if pos.ClosedAt != nil {
			asOf = *pos.ClosedAt
		}
		return Result{
			PositionID:    pos.ID,
			UnrealizedPnl: pos.RealizedPnl,
			PnlPercentage: percentage(pos.RealizedPnl, pos.EntryPrice, pos.LotSize),
			CurrentPrice:  pos.ExitPrice,
			AsOf:          asOf,
		}
	}

	var delta decimal.Decimal
	if pos.Side == models.SideShort {
		delta = pos.EntryPrice.Sub(tick.Price)
	} else {
		delta = tick.Price.Sub(pos.EntryPrice)
	}

	pipsMoved := delta.Div(spec.PipSize())
	pipValue := spec.PipValuePerLot.Mul(pos.LotSize)
	pnl := pipsMoved.Mul(pipValue).Round(2)

	return Result{
		PositionID:    pos.ID,
		UnrealizedPnl: pnl,
		PnlPercentage: percentage(pnl, pos.EntryPrice, pos.LotSize),
		CurrentPrice:  tick.Price,
		AsOf:          tick.ObservedAt,
	}
}

func percentage(pnl, entryPrice, lotSize decimal.Decimal) decimal.Decimal {
	denom := entryPrice.Mul(lotSize)
	if denom.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(denom).Mul(hundred).Round(2)
}
