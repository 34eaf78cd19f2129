package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"backtest-core/internal/api"
	"backtest-core/internal/book"
	"backtest-core/internal/data"
	"backtest-core/internal/engine"
	"backtest-core/internal/events"
	"backtest-core/internal/market"
	"backtest-core/internal/monitor"
	"backtest-core/internal/signal"
	"backtest-core/internal/strategy"
	"backtest-core/pkg/config"
	"backtest-core/pkg/db"
)

const version = "2.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	scenario, err := config.LoadScenario(cfg.ScenarioPath)
	if err != nil {
		log.Fatalf("load scenario: %v", err)
	}
	if _, err := market.ParseTimeframe(scenario.Timeframe); err != nil {
		log.Fatalf("scenario: %v", err)
	}

	ctx, cancel := osignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Bar store is optional; a CSV-only scenario runs without it.
	var store *db.Database
	if cfg.DBPath != "" {
		store, err = db.New(cfg.DBPath)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer store.Close()
		if err := db.Migrate(store.DB); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
	}

	bars, err := loadBars(ctx, scenario, store)
	if err != nil {
		log.Fatalf("load bars: %v", err)
	}
	log.Printf("loaded %d bars for %s %s", len(bars), scenario.ContractID, scenario.Timeframe)

	stats := monitor.NewRunStats()
	bus := events.NewBus()
	ob := book.New(book.Config{
		TickSize:       cfg.TickSize,
		CommissionRate: cfg.CommissionRate,
		FlatCommission: cfg.FlatCommission,
	})
	detector := buildDetector(cfg, stats)

	mgr := strategy.NewManager(bus)
	for i, spec := range scenario.Strategies {
		sc, err := strategy.NewConfig(strategy.Config{
			ContractID:          scenario.ContractID,
			Timeframe:           scenario.Timeframe,
			PositionSize:        spec.PositionSize,
			CommissionRate:      cfg.CommissionRate,
			FlatCommission:      cfg.FlatCommission,
			StopLossPct:         spec.StopLossPct,
			TakeProfitPct:       spec.TakeProfitPct,
			ConfidenceThreshold: spec.ConfidenceThreshold,
			ExitOnOpposite:      spec.ExitOnOpposite,
		})
		if err != nil {
			log.Fatalf("strategy %d (%s): %v", i, spec.Name, err)
		}
		s := strategy.NewTrendStrategy(spec.Name, sc, ob, detector, bus)
		if err := mgr.Register(s); err != nil {
			log.Fatalf("register strategy %s: %v", spec.Name, err)
		}
	}

	// Health counters ride on the bus. Fills are counted on the bus-wide
	// publish only; the manager's scoped relays would double-count them.
	bus.Subscribe(events.TopicOrderFilled, func(m events.Message) {
		if m.StrategyID == "" {
			stats.OrderFilled()
		}
	})
	bus.Subscribe(events.TopicSignalGenerated, func(m events.Message) {
		stats.SignalGenerated()
	})

	runner := engine.NewRunner(bus, ob, detector, mgr, stats)
	report, err := runner.Run(ctx, bars)
	if err != nil {
		mgr.Close()
		log.Fatalf("run: %v", err)
	}

	printReport(report, stats)

	if store != nil {
		if err := saveRun(ctx, store, scenario, report); err != nil {
			log.Printf("save run: %v", err)
		}
	}

	if cfg.EnableAPI {
		server := api.NewServer(bus, ob, detector, mgr, stats, store, api.SystemMeta{
			ContractID: scenario.ContractID,
			Timeframe:  scenario.Timeframe,
			Version:    version,
		})
		log.Printf("api listening on :%s", cfg.Port)
		go func() {
			if err := server.Start(":" + cfg.Port); err != nil {
				log.Printf("api server: %v", err)
				cancel()
			}
		}()
		<-ctx.Done()
	}

	mgr.Close()
}

func loadBars(ctx context.Context, sc *config.Scenario, store *db.Database) ([]market.Bar, error) {
	svc := data.NewHistoricalDataService(store)

	if syn := sc.Source.Synthetic; syn != nil {
		tf, err := market.ParseTimeframe(sc.Timeframe)
		if err != nil {
			return nil, err
		}
		return market.SyntheticSeries(market.SyntheticConfig{
			Count:      syn.Count,
			StartPrice: syn.StartPrice,
			Step:       syn.Step,
			Seed:       syn.Seed,
			Interval:   tf.Duration(),
		}), nil
	}
	if sc.Source.CSV != "" {
		if sc.Source.UseStore && store != nil {
			n, err := svc.ImportCSV(ctx, sc.Source.CSV, sc.ContractID, sc.Timeframe)
			if err != nil {
				return nil, err
			}
			log.Printf("imported %d bars from %s into the store", n, sc.Source.CSV)
			return svc.LoadStore(ctx, sc.ContractID, sc.Timeframe)
		}
		return svc.LoadCSV(sc.Source.CSV)
	}
	if store == nil {
		return nil, fmt.Errorf("scenario wants the bar store but DB_PATH is empty")
	}
	return svc.LoadStore(ctx, sc.ContractID, sc.Timeframe)
}

func buildDetector(cfg *config.Config, stats *monitor.RunStats) *signal.Detector {
	var client signal.Inferencer
	if cfg.InferenceURL != "" {
		client = signal.WithLatency(
			signal.NewClient(cfg.InferenceURL, time.Duration(cfg.InferenceTimeoutMs)*time.Millisecond, cfg.InferenceRetries),
			stats.InferenceLatency,
		)
		log.Printf("remote inference at %s (timeout %dms, retries %d)", cfg.InferenceURL, cfg.InferenceTimeoutMs, cfg.InferenceRetries)
	} else {
		log.Printf("no INFERENCE_URL set, running on the local heuristic only")
	}

	return signal.NewDetector(client, signal.DetectorConfig{
		ThrottleEvery: rate.Limit(cfg.ThrottlePerSec),
		Debug:         cfg.InferenceDebug,
	})
}

func printReport(report *engine.Report, stats *monitor.RunStats) {
	var total float64
	for _, t := range report.Trades {
		total += t.NetPnL
	}
	log.Printf("run complete: %d bars, %d trades, net pnl %.2f, detector remote=%d heuristic=%d",
		report.Bars, len(report.Trades), total,
		report.Detector.RemoteCalls, report.Detector.HeuristicFallbacks)

	for _, sr := range report.Strategies {
		m := sr.Metrics
		log.Printf("  %s: trades=%d winrate=%.1f%% pf=%.2f maxdd=%.2f net=%.2f",
			sr.Name, m.TotalTrades, m.WinRate*100, m.ProfitFactor, m.MaxDrawdown, m.TotalPnL)
	}

	if raw, err := json.MarshalIndent(report, "", "  "); err == nil {
		if err := os.WriteFile("report.json", raw, 0o644); err != nil {
			log.Printf("write report.json: %v", err)
		}
	}
	snap := stats.GetSnapshot()
	log.Printf("health: bars=%d fills=%d signals=%d errors=%d uptime=%s",
		snap.BarsProcessed, snap.OrdersFilled, snap.SignalsGenerated, snap.Errors, snap.Uptime)
}

func saveRun(ctx context.Context, store *db.Database, sc *config.Scenario, report *engine.Report) error {
	var total float64
	trades := make([]db.RunTrade, 0, len(report.Trades))
	runID := uuid.NewString()
	for _, t := range report.Trades {
		total += t.NetPnL
		trades = append(trades, db.RunTrade{
			RunID:      runID,
			TradeID:    t.ID,
			ContractID: t.ContractID,
			Side:       string(t.Side),
			Size:       t.Size,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			GrossPnL:   t.GrossPnL,
			Commission: t.Commission,
			NetPnL:     t.NetPnL,
		})
	}
	return store.SaveRun(ctx, db.RunRecord{
		ID:         runID,
		ContractID: sc.ContractID,
		Timeframe:  sc.Timeframe,
		Bars:       report.Bars,
		TotalPnL:   total,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}, trades)
}
