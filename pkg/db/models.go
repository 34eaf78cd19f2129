package db

import "time"

// BarRow is one stored bar.
type BarRow struct {
	ContractID string
	Timeframe  string
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// RunRecord summarizes one finished backtest.
type RunRecord struct {
	ID         string
	ContractID string
	Timeframe  string
	Bars       int
	TotalPnL   float64
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunTrade is one closed round trip attached to a run.
type RunTrade struct {
	RunID      string
	TradeID    string
	ContractID string
	Side       string
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	GrossPnL   float64
	Commission float64
	NetPnL     float64
}
