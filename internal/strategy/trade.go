package strategy

import (
	"time"

	"backtest-core/internal/book"
)

// TradeStatus is the lifecycle of a conceptual trade: pending -> open -> closed.
type TradeStatus string

const (
	TradePending TradeStatus = "PENDING"
	TradeOpen    TradeStatus = "OPEN"
	TradeClosed  TradeStatus = "CLOSED"
)

// SimulatedTrade is the strategy's own view of one round trip. ProfitOrLoss
// and Commission are read back from the order book's completed-trade ledger
// when the trade closes; they are a display cache, never recomputed here.
type SimulatedTrade struct {
	ID         string      `json:"id"`
	Side       book.Side   `json:"side"`
	Size       float64     `json:"size"`
	Status     TradeStatus `json:"status"`
	EntryPrice float64     `json:"entry_price,omitempty"`
	EntryTime  time.Time   `json:"entry_time,omitzero"`
	ExitPrice  float64     `json:"exit_price,omitempty"`
	ExitTime   time.Time   `json:"exit_time,omitzero"`

	EntryOrderID      string `json:"entry_order_id,omitempty"`
	StopLossOrderID   string `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string `json:"take_profit_order_id,omitempty"`

	ProfitOrLoss float64 `json:"profit_or_loss"`
	Commission   float64 `json:"commission"`

	// Protective price plan, fixed when the entry is created.
	plannedStop   float64
	plannedTarget float64
}
