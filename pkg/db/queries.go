package db

import (
	"context"
	"fmt"
)

// InsertBars stores bars, replacing duplicates on the (contract, timeframe,
// time) key, inside one transaction.
func (d *Database) InsertBars(ctx context.Context, bars []BarRow) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (contract_id, timeframe, bar_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.ContractID, b.Timeframe, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("insert bar at %s: %w", b.Time, err)
		}
	}
	return tx.Commit()
}

// LoadBars returns stored bars for a contract and timeframe in time order.
func (d *Database) LoadBars(ctx context.Context, contractID, timeframe string) ([]BarRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT contract_id, timeframe, bar_time, open, high, low, close, volume
		FROM bars
		WHERE contract_id = ? AND timeframe = ?
		ORDER BY bar_time ASC
	`, contractID, timeframe)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var out []BarRow
	for rows.Next() {
		var b BarRow
		if err := rows.Scan(&b.ContractID, &b.Timeframe, &b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveRun persists a run summary and its closed trades atomically.
func (d *Database) SaveRun(ctx context.Context, run RunRecord, trades []RunTrade) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, contract_id, timeframe, bars, total_pnl, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.ContractID, run.Timeframe, run.Bars, run.TotalPnL, run.StartedAt, run.FinishedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, t := range trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_trades (run_id, trade_id, contract_id, side, size, entry_price, exit_price, entry_time, exit_time, gross_pnl, commission, net_pnl)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.RunID, t.TradeID, t.ContractID, t.Side, t.Size, t.EntryPrice, t.ExitPrice, t.EntryTime, t.ExitTime, t.GrossPnL, t.Commission, t.NetPnL); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.TradeID, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns stored run summaries, newest first.
func (d *Database) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, contract_id, timeframe, bars, total_pnl, started_at, finished_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.ContractID, &r.Timeframe, &r.Bars, &r.TotalPnL, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
