package book

import "time"

// Position is the net open exposure for one contract. Size never goes
// negative: a side flip requires closing to zero first.
type Position struct {
	ContractID    string  `json:"contract_id"`
	Side          Side    `json:"side"`
	Size          float64 `json:"size"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// CompletedTrade is one closed round trip in the book's ledger, keyed by the
// trade id the entry order carried. The ledger is the single source of truth
// for realized P&L; strategies only cache these values for display.
type CompletedTrade struct {
	ID           string    `json:"id"`
	ContractID   string    `json:"contract_id"`
	Side         Side      `json:"side"`
	Size         float64   `json:"size"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
	EntryOrderID string    `json:"entry_order_id"`
	ExitOrderID  string    `json:"exit_order_id"`
	GrossPnL     float64   `json:"gross_pnl"`
	Commission   float64   `json:"commission"`
	NetPnL       float64   `json:"net_pnl"`
}

// PnL is a realized profit-and-loss breakdown.
type PnL struct {
	Gross      float64 `json:"gross"`
	Commission float64 `json:"commission"`
	Net        float64 `json:"net"`
}

// tradeLeg tracks the open half of a round trip until the exit fill arrives.
type tradeLeg struct {
	side         Side
	size         float64
	entryPrice   float64
	entryTime    time.Time
	entryOrderID string
	commission   float64
}
