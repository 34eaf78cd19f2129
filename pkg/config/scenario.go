package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes one backtest: the contract, the bar source, and the
// strategy instances to run against it.
type Scenario struct {
	ContractID string         `yaml:"contract_id"`
	Timeframe  string         `yaml:"timeframe"`
	Source     BarSource      `yaml:"source"`
	Strategies []StrategySpec `yaml:"strategies"`
}

// BarSource points at the bar input: a CSV file, the bar store, both (CSV is
// imported into the store first), or a generated synthetic series.
type BarSource struct {
	CSV       string           `yaml:"csv"`
	UseStore  bool             `yaml:"use_store"`
	Synthetic *SyntheticSource `yaml:"synthetic"`
}

// SyntheticSource generates a seeded random-walk series, for demos and
// smoke runs without a data file.
type SyntheticSource struct {
	Count      int     `yaml:"count"`
	StartPrice float64 `yaml:"start_price"`
	Step       float64 `yaml:"step"`
	Seed       int64   `yaml:"seed"`
}

// StrategySpec is one strategy instance in the scenario file. Params are
// validated by the strategy's own config constructor.
type StrategySpec struct {
	Name                string  `yaml:"name"`
	PositionSize        float64 `yaml:"position_size"`
	StopLossPct         float64 `yaml:"stop_loss_pct"`
	TakeProfitPct       float64 `yaml:"take_profit_pct"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ExitOnOpposite      bool    `yaml:"exit_on_opposite"`
}

// LoadScenario parses and sanity-checks a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.ContractID == "" {
		return nil, fmt.Errorf("scenario: contract_id required")
	}
	if sc.Timeframe == "" {
		return nil, fmt.Errorf("scenario: timeframe required")
	}
	if len(sc.Strategies) == 0 {
		return nil, fmt.Errorf("scenario: at least one strategy required")
	}
	if sc.Source.CSV == "" && !sc.Source.UseStore && sc.Source.Synthetic == nil {
		return nil, fmt.Errorf("scenario: a bar source (csv, use_store or synthetic) is required")
	}
	if syn := sc.Source.Synthetic; syn != nil && syn.Count <= 0 {
		return nil, fmt.Errorf("scenario: synthetic source needs a positive bar count")
	}
	return &sc, nil
}
