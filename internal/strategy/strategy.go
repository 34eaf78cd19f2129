package strategy

import (
	"context"

	"backtest-core/internal/book"
	"backtest-core/internal/market"
	"backtest-core/internal/signal"
)

// Strategy is the contract every strategy implementation satisfies. Shared
// behavior lives in the lifecycle state machine and the order desk helper,
// composed into implementations rather than inherited.
type Strategy interface {
	ID() string
	Name() string

	// Lifecycle. Invalid transitions are warnings, never errors.
	Initialize()
	Start()
	Stop()
	Dispose()
	Ready() bool
	LifecycleState() State

	// ProcessBar runs one bar through the strategy's pipeline: book fills,
	// signal lookup, then entry/exit decisions. It must fully resolve before
	// the next bar is fed.
	ProcessBar(ctx context.Context, bar market.Bar, barIndex int)

	// OnOrderFilled is the fill hook; fills for trades the strategy does not
	// own are ignored.
	OnOrderFilled(o book.Order)

	Config() Config
	StateSnapshot() Snapshot
	PerformanceMetrics() PerformanceMetrics
	TrendSignals() []signal.TrendSignal
}

// Snapshot is a read-only view of a strategy instance for presentation.
type Snapshot struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	State         string              `json:"state"`
	ContractID    string              `json:"contract_id"`
	BarsProcessed int                 `json:"bars_processed"`
	OpenTrade     *SimulatedTrade     `json:"open_trade,omitempty"`
	ClosedTrades  []SimulatedTrade    `json:"closed_trades,omitempty"`
	LastSignal    *signal.TrendSignal `json:"last_signal,omitempty"`
}
