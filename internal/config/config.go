package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Feed     Feed     `mapstructure:"feed"`
	Backend  Backend  `mapstructure:"backend"`
	Engine   Engine   `mapstructure:"engine"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Feed holds the configuration for the market-data websocket channel.
type Feed struct {
	URL string `mapstructure:"url"`
	// StalenessSec is how old a cached tick may be before valuation and
	// trigger evaluation treat it as absent.
	StalenessSec int `mapstructure:"staleness_sec"`
	// ReconnectDelaySec is the pause between reconnection attempts.
	ReconnectDelaySec int `mapstructure:"reconnect_delay_sec"`
}

// Backend holds the configuration for the trade-store REST API.
type Backend struct {
	BaseURL        string  `mapstructure:"base_url"`
	AuthToken      string  `mapstructure:"auth_token"`
	UserID         string  `mapstructure:"user_id"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Engine holds the configuration for the risk-trigger evaluator.
type Engine struct {
	// PollIntervalSec is the timer-driven evaluation interval that bounds
	// staleness against silent or missed ticks.
	PollIntervalSec int `mapstructure:"poll_interval_sec"`
	// ReconcileIntervalSec is how often the local open-position cache is
	// re-synced against the backend trade store.
	ReconcileIntervalSec int `mapstructure:"reconcile_interval_sec"`
	// Instruments lists per-symbol pip economics. Symbols without an
	// entry fall back to DefaultInstrument.
	Instruments       []Instrument `mapstructure:"instruments"`
	DefaultInstrument Instrument   `mapstructure:"default_instrument"`
}

// Instrument holds the pip/valuation constants for one tradable symbol.
type Instrument struct {
	Symbol          string  `mapstructure:"symbol"`
	PipDecimalPlace int     `mapstructure:"pip_decimal_place"`
	PipValuePerLot  float64 `mapstructure:"pip_value_per_lot"`
	UnitsPerLot     float64 `mapstructure:"units_per_lot"`
}

// Server holds the configuration for the status HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the local position cache.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("backend.rate_limit", 20)      // requests per second
	viper.SetDefault("backend.rate_limit_burst", 5) // burst size
	viper.SetDefault("feed.staleness_sec", 30)
	viper.SetDefault("feed.reconnect_delay_sec", 1)
	viper.SetDefault("engine.poll_interval_sec", 10)
	viper.SetDefault("engine.reconcile_interval_sec", 60)

	// The fallback pip economics mirror the platform's original generic
	// lot multiplier: 1 lot = 200 account-currency units.
	viper.SetDefault("engine.default_instrument.pip_decimal_place", 4)
	viper.SetDefault("engine.default_instrument.pip_value_per_lot", 10)
	viper.SetDefault("engine.default_instrument.units_per_lot", 200)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
