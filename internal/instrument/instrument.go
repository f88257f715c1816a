package instrument

import (
	"sync"

	"forex-trade-engine-go/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Spec holds the per-symbol constants used to convert a price delta into a
// monetary amount. Specs are immutable once loaded.
type Spec struct {
	Symbol          string
	PipDecimalPlace int
	PipValuePerLot  decimal.Decimal
	UnitsPerLot     decimal.Decimal
}

// PipSize returns 10^(-PipDecimalPlace), the smallest standardized price
// increment for the instrument.
func (s Spec) PipSize() decimal.Decimal {
	return decimal.New(1, -int32(s.PipDecimalPlace))
}

// Table is the lookup table of instrument specs, one entry per tradable
// symbol, plus a documented default for symbols without an explicit entry.
type Table struct {
	specs      map[string]Spec
	fallback   Spec
	logger     *zap.Logger
	mu         sync.Mutex
	warnedOnce map[string]struct{}
}

// NewTable builds a table from configuration. Entries with a non-positive
// units-per-lot are rejected by falling back to the default economics.
func NewTable(cfg config.Engine, logger *zap.Logger) *Table {
	fallback := specFromConfig(cfg.DefaultInstrument)
	fallback.Symbol = ""

	specs := make(map[string]Spec, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		spec := specFromConfig(in)
		if spec.PipDecimalPlace < 0 || !spec.UnitsPerLot.IsPositive() {
			logger.Warn("Invalid instrument spec in config, ignoring entry",
				zap.String("symbol", in.Symbol))
			continue
		}
		specs[in.Symbol] = spec
	}

	return &Table{
		specs:      specs,
		fallback:   fallback,
		logger:     logger,
		warnedOnce: make(map[string]struct{}),
	}
}

func specFromConfig(in config.Instrument) Spec {
	return Spec{
		Symbol:          in.Symbol,
		PipDecimalPlace: in.PipDecimalPlace,
		PipValuePerLot:  decimal.NewFromFloat(in.PipValuePerLot),
		UnitsPerLot:     decimal.NewFromFloat(in.UnitsPerLot),
	}
}

// Lookup returns the spec for a symbol. Symbols without an explicit entry
// get the default economics; that is a degraded-fidelity condition, so it is
// logged (once per symbol) rather than applied silently.
func (t *Table) Lookup(symbol string) Spec {
	if spec, ok := t.specs[symbol]; ok {
		return spec
	}

	t.mu.Lock()
	if _, warned := t.warnedOnce[symbol]; !warned {
		t.warnedOnce[symbol] = struct{}{}
		t.logger.Warn("No instrument spec for symbol, using default pip economics",
			zap.String("symbol", symbol),
			zap.Int("pip_decimal_place", t.fallback.PipDecimalPlace),
			zap.String("units_per_lot", t.fallback.UnitsPerLot.String()))
	}
	t.mu.Unlock()

	spec := t.fallback
	spec.Symbol = symbol
	return spec
}

// Known reports whether the symbol has an explicit spec entry.
func (t *Table) Known(symbol string) bool {
	_, ok := t.specs[symbol]
	return ok
}
