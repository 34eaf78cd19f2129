package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"backtest-core/internal/book"
	"backtest-core/internal/events"
	"backtest-core/internal/market"
	"backtest-core/internal/monitor"
	"backtest-core/internal/signal"
	"backtest-core/internal/strategy"
)

// Runner drives one backtest: bars are fed strictly sequentially, and bar
// N+1 is never started before bar N's fills, signal lookups and order
// submissions have all resolved.
type Runner struct {
	bus      *events.Bus
	book     *book.OrderBook
	detector *signal.Detector
	manager  *strategy.Manager
	stats    *monitor.RunStats
}

// Report is the aggregated outcome of a run.
type Report struct {
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Bars       int                   `json:"bars"`
	Strategies []StrategyResult      `json:"strategies"`
	Trades     []book.CompletedTrade `json:"trades"`
	Detector   signal.DetectorStats  `json:"detector"`
}

// StrategyResult is one strategy's slice of the report.
type StrategyResult struct {
	ID      string                      `json:"id"`
	Name    string                      `json:"name"`
	Metrics strategy.PerformanceMetrics `json:"metrics"`
	Signals []signal.TrendSignal        `json:"signals"`
}

// NewRunner assembles a runner from explicitly constructed components.
func NewRunner(bus *events.Bus, ob *book.OrderBook, det *signal.Detector, mgr *strategy.Manager, stats *monitor.RunStats) *Runner {
	return &Runner{bus: bus, book: ob, detector: det, manager: mgr, stats: stats}
}

// Run initializes and starts every registered strategy, replays the bars,
// stops the set, and aggregates results from the book's ledger.
func (r *Runner) Run(ctx context.Context, bars []market.Bar) (*Report, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("runner: no bars to replay")
	}
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	report := &Report{StartedAt: time.Now()}

	r.manager.InitializeAll()
	r.manager.StartAll()
	defer r.manager.StopAll()

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("runner: aborted at bar %d: %w", i, err)
		}

		if r.bus != nil {
			r.bus.Publish(events.TopicBarReceived, bar)
		}
		for _, s := range r.manager.List() {
			if s.Ready() {
				s.ProcessBar(ctx, bar, i)
			}
		}
		if r.stats != nil {
			r.stats.BarProcessed()
		}
		report.Bars++
	}

	report.FinishedAt = time.Now()
	report.Trades = r.book.CompletedTrades("")
	if r.detector != nil {
		report.Detector = r.detector.Stats()
	}
	for _, s := range r.manager.List() {
		report.Strategies = append(report.Strategies, StrategyResult{
			ID:      s.ID(),
			Name:    s.Name(),
			Metrics: s.PerformanceMetrics(),
			Signals: s.TrendSignals(),
		})
	}

	log.Printf("runner: replayed %d bars, %d completed trades", report.Bars, len(report.Trades))
	return report, nil
}
