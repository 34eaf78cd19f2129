package strategy

import (
	"fmt"

	"backtest-core/internal/market"
)

// Config holds the immutable parameters of a strategy instance. Build one
// through NewConfig; produce variants with With. Never mutate in place.
type Config struct {
	ContractID          string  `json:"contract_id" yaml:"contract_id"`
	Timeframe           string  `json:"timeframe" yaml:"timeframe"`
	PositionSize        float64 `json:"position_size" yaml:"position_size"`
	CommissionRate      float64 `json:"commission_rate" yaml:"commission_rate"`
	FlatCommission      float64 `json:"flat_commission" yaml:"flat_commission"`
	StopLossPct         float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct       float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	ExitOnOpposite      bool    `json:"exit_on_opposite" yaml:"exit_on_opposite"`
}

// NewConfig validates and freezes a configuration. Validation failures are
// the only hard errors a strategy surfaces; everything after construction
// degrades gracefully.
func NewConfig(c Config) (Config, error) {
	if c.TakeProfitPct == 0 {
		c.TakeProfitPct = 2 // default 2% target
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// With clones the config, applies overrides, and re-validates. The receiver
// is never modified.
func (c Config) With(override func(*Config)) (Config, error) {
	clone := c
	if override != nil {
		override(&clone)
	}
	return NewConfig(clone)
}

func (c Config) validate() error {
	if c.ContractID == "" {
		return fmt.Errorf("config: contract id required")
	}
	if c.PositionSize <= 0 {
		return fmt.Errorf("config: position size must be positive, got %v", c.PositionSize)
	}
	if c.CommissionRate < 0 {
		return fmt.Errorf("config: commission rate must be >= 0, got %v", c.CommissionRate)
	}
	if c.FlatCommission < 0 {
		return fmt.Errorf("config: flat commission must be >= 0, got %v", c.FlatCommission)
	}
	if c.StopLossPct <= 0 || c.StopLossPct > 100 {
		return fmt.Errorf("config: stop loss %% must be in (0, 100], got %v", c.StopLossPct)
	}
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("config: take profit %% must be positive, got %v", c.TakeProfitPct)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence threshold must be in [0, 1], got %v", c.ConfidenceThreshold)
	}
	if _, err := market.ParseTimeframe(c.Timeframe); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
