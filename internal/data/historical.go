package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"backtest-core/internal/market"
	"backtest-core/pkg/db"
)

// HistoricalDataService loads bar series for a backtest from CSV files
// and/or the bar store.
type HistoricalDataService struct {
	store *db.Database // optional
}

// NewHistoricalDataService creates a service. store may be nil when only
// CSV input is used.
func NewHistoricalDataService(store *db.Database) *HistoricalDataService {
	return &HistoricalDataService{store: store}
}

// LoadCSV reads bars from a CSV file with header
// time,open,high,low,close[,volume]. time is RFC3339 or a unix epoch in
// seconds or milliseconds.
func (s *HistoricalDataService) LoadCSV(path string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) < 5 {
		return nil, fmt.Errorf("csv needs at least time,open,high,low,close columns")
	}

	var bars []market.Bar
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		t, err := parseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		vals := make([]float64, 0, 5)
		for col := 1; col < len(rec) && col <= 5; col++ {
			v, err := strconv.ParseFloat(rec[col], 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d col %d: %w", line, col+1, err)
			}
			vals = append(vals, v)
		}
		bar := market.Bar{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]}
		if len(vals) > 4 {
			bar.Volume = vals[4]
		}
		bars = append(bars, bar)
	}

	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("csv bars: %w", err)
	}
	return bars, nil
}

// LoadStore reads bars for a contract/timeframe from the bar store.
func (s *HistoricalDataService) LoadStore(ctx context.Context, contractID, timeframe string) ([]market.Bar, error) {
	if s.store == nil {
		return nil, fmt.Errorf("bar store not configured")
	}
	rows, err := s.store.LoadBars(ctx, contractID, timeframe)
	if err != nil {
		return nil, err
	}

	bars := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, market.Bar{
			Time: r.Time, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
		})
	}
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("stored bars: %w", err)
	}
	return bars, nil
}

// ImportCSV loads a CSV file and writes its bars into the store under the
// given contract and timeframe.
func (s *HistoricalDataService) ImportCSV(ctx context.Context, path, contractID, timeframe string) (int, error) {
	if s.store == nil {
		return 0, fmt.Errorf("bar store not configured")
	}
	bars, err := s.LoadCSV(path)
	if err != nil {
		return 0, err
	}

	rows := make([]db.BarRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, db.BarRow{
			ContractID: contractID, Timeframe: timeframe,
			Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		})
	}
	if err := s.store.InsertBars(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		if epoch > 1e12 { // milliseconds
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
