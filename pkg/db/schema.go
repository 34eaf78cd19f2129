package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS bars (
    contract_id TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    bar_time DATETIME NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL DEFAULT 0,
    PRIMARY KEY (contract_id, timeframe, bar_time)
);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id TEXT PRIMARY KEY,
    contract_id TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    bars INTEGER NOT NULL,
    total_pnl REAL NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS run_trades (
    run_id TEXT NOT NULL,
    trade_id TEXT NOT NULL,
    contract_id TEXT NOT NULL,
    side TEXT NOT NULL,
    size REAL NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    entry_time DATETIME NOT NULL,
    exit_time DATETIME NOT NULL,
    gross_pnl REAL NOT NULL,
    commission REAL NOT NULL,
    net_pnl REAL NOT NULL,
    PRIMARY KEY (run_id, trade_id)
);

CREATE INDEX IF NOT EXISTS idx_bars_lookup ON bars(contract_id, timeframe, bar_time);
CREATE INDEX IF NOT EXISTS idx_run_trades_run ON run_trades(run_id);
`

// Migrate applies the schema. Safe to call on every startup.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
