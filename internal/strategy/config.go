package strategy

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"signal-enginev1/internal/indicator"
)

// Config is the immutable parameter set of a strategy. It is passed by value
// into the Engine at construction and never read from shared state.
type Config struct {
	Name      string `json:"name" yaml:"name"`
	Timeframe string `json:"timeframe" yaml:"timeframe"`

	Params indicator.Params `json:"indicators" yaml:"indicators"`

	// RSI levels crossed upward by the entry and exit rules.
	RSIEntryLevel float64 `json:"rsi_entry_level" yaml:"rsi_entry_level"`
	RSIExitLevel  float64 `json:"rsi_exit_level" yaml:"rsi_exit_level"`

	// WarmupWindow is the number of leading candles whose indicator values are
	// reported undefined (and whose signals are false).
	WarmupWindow int `json:"warmup_window" yaml:"warmup_window"`
}

// DefaultConfig returns the reference strategy configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "DefaultStrategy",
		Timeframe:     "5m",
		Params:        indicator.DefaultParams(),
		RSIEntryLevel: 30,
		RSIExitLevel:  70,
		WarmupWindow:  30,
	}
}

// Validate checks periods, windows and levels.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if c.WarmupWindow < 0 {
		return fmt.Errorf("%w: warmup window %d", ErrInvalidInput, c.WarmupWindow)
	}
	for _, lvl := range []struct {
		name string
		v    float64
	}{{"rsi_entry_level", c.RSIEntryLevel}, {"rsi_exit_level", c.RSIExitLevel}} {
		if math.IsNaN(lvl.v) || lvl.v < 0 || lvl.v > 100 {
			return fmt.Errorf("%w: %s %v outside [0,100]", ErrInvalidInput, lvl.name, lvl.v)
		}
	}
	return nil
}

// LoadConfig reads a YAML strategy file. Fields missing from the file keep
// their DefaultConfig values.
//
//	name: DefaultStrategy
//	timeframe: 5m
//	warmup_window: 30
//	rsi_entry_level: 30
//	rsi_exit_level: 70
//	indicators:
//	  rsi_period: 14
//	  ema_fast: 10
//	  ema_slow: 50
//	  macd_fast: 12
//	  macd_slow: 26
//	  macd_signal: 9
//	  bb_window: 20
//	  bb_stds: 2
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read strategy config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse strategy config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
