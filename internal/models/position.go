package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Status is the lifecycle state of a position as known to the backend.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Close reasons recorded on a position when it leaves the open state.
const (
	CloseReasonManual     = "manual"
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
)

// Position is the local cache row for a trade held in the backend store.
// The backend is authoritative; this row is an eventually consistent mirror
// that is re-synced by the engine and must never be treated as the source of
// truth for settlement. A zero StopLoss or TakeProfit means the threshold is
// disabled.
type Position struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	Symbol      string          `gorm:"index" json:"symbol"`
	Side        Side            `json:"side"`
	LotSize     decimal.Decimal `gorm:"type:decimal(20,8)" json:"lotSize"`
	EntryPrice  decimal.Decimal `gorm:"type:decimal(20,8)" json:"entryPrice"`
	StopLoss    decimal.Decimal `gorm:"type:decimal(20,8)" json:"stopLoss"`
	TakeProfit  decimal.Decimal `gorm:"type:decimal(20,8)" json:"takeProfit"`
	Status      Status          `gorm:"index" json:"status"`
	OpenedAt    time.Time       `json:"openedAt"`
	ClosedAt    *time.Time      `json:"closedAt,omitempty"`
	ExitPrice   decimal.Decimal `gorm:"type:decimal(20,8)" json:"exitPrice"`
	RealizedPnl decimal.Decimal `gorm:"type:decimal(20,8)" json:"realizedPnl"`
	CloseReason string          `json:"closeReason,omitempty"`
}

// StopLossEnabled reports whether the position has an active stop-loss.
func (p *Position) StopLossEnabled() bool {
	return !p.StopLoss.IsZero()
}

// TakeProfitEnabled reports whether the position has an active take-profit.
func (p *Position) TakeProfitEnabled() bool {
	return !p.TakeProfit.IsZero()
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// User is the read-only account view consumed by the balance guard.
type User struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"demoBalance"`
}
