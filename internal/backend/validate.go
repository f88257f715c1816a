package backend

import (
	"fmt"

	"forex-trade-engine-go/internal/instrument"
	"forex-trade-engine-go/internal/models"
	"github.com/shopspring/decimal"
)

// ValidateOpen runs the client-side guards for a trade-open request against
// the current price and account balance. These mirror the backend's own
// checks so obviously bad requests never leave the client; the backend
// response remains the final word.
func ValidateOpen(req OpenRequest, spec instrument.Spec, currentPrice, balance decimal.Decimal) error {
	if !req.LotSize.IsPositive() {
		return fmt.Errorf("%w: lot size must be positive", ErrValidationFailed)
	}
	if req.Side != models.SideLong && req.Side != models.SideShort {
		return fmt.Errorf("%w: unknown side %q", ErrValidationFailed, req.Side)
	}

	if err := ValidateThresholds(req.Side, currentPrice, req.StopLoss, req.TakeProfit); err != nil {
		return err
	}

	notional := req.LotSize.Mul(spec.UnitsPerLot)
	if notional.GreaterThan(balance) {
		return fmt.Errorf("%w: notional %s exceeds balance %s",
			ErrInsufficientBalance, notional.String(), balance.String())
	}

	return nil
}

// ValidateThresholds checks that a stop-loss sits on the loss side and a
// take-profit on the profit side of the current price for the given
// direction. A zero threshold is disabled and always valid.
func ValidateThresholds(side models.Side, currentPrice, stopLoss, takeProfit decimal.Decimal) error {
	if side == models.SideLong {
		if !stopLoss.IsZero() && stopLoss.GreaterThanOrEqual(currentPrice) {
			return fmt.Errorf("%w: long stop-loss %s must be below price %s",
				ErrInvalidThreshold, stopLoss.String(), currentPrice.String())
		}
		if !takeProfit.IsZero() && takeProfit.LessThanOrEqual(currentPrice) {
			return fmt.Errorf("%w: long take-profit %s must be above price %s",
				ErrInvalidThreshold, takeProfit.String(), currentPrice.String())
		}
		return nil
	}

	if !stopLoss.IsZero() && stopLoss.LessThanOrEqual(currentPrice) {
		return fmt.Errorf("%w: short stop-loss %s must be above price %s",
			ErrInvalidThreshold, stopLoss.String(), currentPrice.String())
	}
	if !takeProfit.IsZero() && takeProfit.GreaterThanOrEqual(currentPrice) {
		return fmt.Errorf("%w: short take-profit %s must be below price %s",
			ErrInvalidThreshold, takeProfit.String(), currentPrice.String())
	}
	return nil
}
