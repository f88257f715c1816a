package instrument

import (
	"testing"

	"forex-trade-engine-go/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testEngineConfig() config.Engine {
	return config.Engine{
		Instruments: []config.Instrument{
			{Symbol: "FX:EURUSD", PipDecimalPlace: 4, PipValuePerLot: 10, UnitsPerLot: 200},
			{Symbol: "TVC:GOLD", PipDecimalPlace: 2, PipValuePerLot: 1, UnitsPerLot: 200},
		},
		DefaultInstrument: config.Instrument{
			PipDecimalPlace: 4,
			PipValuePerLot:  10,
			UnitsPerLot:     200,
		},
	}
}

func TestLookup_KnownSymbol(t *testing.T) {
	table := NewTable(testEngineConfig(), zap.NewNop())

	spec := table.Lookup("TVC:GOLD")
	assert.Equal(t, "TVC:GOLD", spec.Symbol)
	assert.Equal(t, 2, spec.PipDecimalPlace)
	assert.True(t, spec.PipValuePerLot.Equal(decimal.NewFromInt(1)))
	assert.True(t, table.Known("TVC:GOLD"))
}

func TestLookup_UnknownSymbolFallsBackAndLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	table := NewTable(testEngineConfig(), zap.New(core))

	spec := table.Lookup("FX:GBPJPY")

	// Default economics, stamped with the requested symbol.
	assert.Equal(t, "FX:GBPJPY", spec.Symbol)
	assert.Equal(t, 4, spec.PipDecimalPlace)
	assert.True(t, spec.UnitsPerLot.Equal(decimal.NewFromInt(200)))
	assert.False(t, table.Known("FX:GBPJPY"))

	// The degraded-fidelity fallback must be observable, not silent.
	entries := logs.FilterMessageSnippet("default pip economics").All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "FX:GBPJPY", entries[0].ContextMap()["symbol"])

	// Repeated lookups do not spam the log.
	table.Lookup("FX:GBPJPY")
	assert.Len(t, logs.FilterMessageSnippet("default pip economics").All(), 1)
}

func TestNewTable_RejectsInvalidEntries(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Instruments = append(cfg.Instruments, config.Instrument{
		Symbol: "FX:BROKEN", PipDecimalPlace: 4, PipValuePerLot: 10, UnitsPerLot: 0,
	})

	table := NewTable(cfg, zap.NewNop())
	assert.False(t, table.Known("FX:BROKEN"))
}

func TestPipSize(t *testing.T) {
	spec := Spec{PipDecimalPlace: 4}
	assert.True(t, spec.PipSize().Equal(decimal.RequireFromString("0.0001")))

	spec = Spec{PipDecimalPlace: 0}
	assert.True(t, spec.PipSize().Equal(decimal.NewFromInt(1)))
}
