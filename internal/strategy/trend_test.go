package strategy

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"backtest-core/internal/book"
	"backtest-core/internal/market"
	"backtest-core/internal/signal"
)

// scriptedInferencer emits its fixed signals whenever the requested range
// covers their bar index.
type scriptedInferencer struct {
	signals []signal.TrendSignal
}

func (s *scriptedInferencer) Detect(_ context.Context, req signal.InferenceRequest) ([]signal.TrendSignal, error) {
	var out []signal.TrendSignal
	for _, sg := range s.signals {
		if sg.BarIndex >= req.BarIndexRange[0] && sg.BarIndex <= req.BarIndexRange[1] {
			out = append(out, sg)
		}
	}
	return out, nil
}

func testBar(i int, open, high, low, close float64) market.Bar {
	return market.Bar{
		Time:   time.Unix(int64(1700000000+i*300), 0),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 100,
	}
}

func newTestStrategy(t *testing.T, inf signal.Inferencer, override func(*Config)) (*TrendStrategy, *book.OrderBook) {
	t.Helper()
	cfg, err := NewConfig(Config{
		ContractID:          "MNQ",
		Timeframe:           "5m",
		PositionSize:        1,
		StopLossPct:         1.5,
		ConfidenceThreshold: 0.6,
	})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if override != nil {
		if cfg, err = cfg.With(override); err != nil {
			t.Fatalf("With: %v", err)
		}
	}

	ob := book.New(book.DefaultConfig())
	det := signal.NewDetector(inf, signal.DetectorConfig{ThrottleEvery: rate.Inf})
	s := NewTrendStrategy("test", cfg, ob, det, nil)
	s.Initialize()
	s.Start()
	return s, ob
}

func runBars(s *TrendStrategy, bars ...market.Bar) {
	ctx := context.Background()
	for i, b := range bars {
		s.ProcessBar(ctx, b, i)
	}
}

func TestEntryOnConfirmedUptrend(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeUptrendStart, BarIndex: 0, Price: 100.5, Confidence: 0.8, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, nil)

	runBars(s,
		testBar(0, 100, 101, 99.5, 100.5),    // signal bar, entry submitted
		testBar(1, 101, 101.5, 100.6, 101.2), // entry fills at open
	)

	snap := s.StateSnapshot()
	if snap.OpenTrade == nil {
		t.Fatal("expected an open trade after the entry fill")
	}
	if snap.OpenTrade.Status != TradeOpen {
		t.Fatalf("trade status = %s, want %s", snap.OpenTrade.Status, TradeOpen)
	}
	if snap.OpenTrade.EntryPrice != 101 {
		t.Fatalf("entry price = %v, want fill at next bar open 101", snap.OpenTrade.EntryPrice)
	}

	var stop, target *book.Order
	for _, o := range ob.PendingOrders("MNQ") {
		o := o
		switch {
		case o.IsStopLoss:
			stop = &o
		case o.IsTakeProfit:
			target = &o
		}
	}
	if stop == nil || target == nil {
		t.Fatal("expected a pending stop-loss and take-profit pair")
	}
	// Signal bar low (99.5) is above the 1.5% floor, so it wins.
	if stop.StopPrice != 99.5 {
		t.Fatalf("stop price = %v, want signal bar low 99.5", stop.StopPrice)
	}
	// No earlier opposite signal: 2% above the signal bar high.
	if want := 101 * (1 + 2.0/100); target.LimitPrice != want {
		t.Fatalf("target price = %v, want %v", target.LimitPrice, want)
	}
}

func TestLowConfidenceSignalIsRecordedButNotTraded(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeUptrendStart, BarIndex: 0, Price: 100.5, Confidence: 0.5, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, nil)

	runBars(s,
		testBar(0, 100, 101, 99.5, 100.5),
		testBar(1, 101, 101.5, 100.6, 101.2),
	)

	if got := len(s.TrendSignals()); got != 1 {
		t.Fatalf("observed signals = %d, want 1", got)
	}
	if snap := s.StateSnapshot(); snap.OpenTrade != nil {
		t.Fatal("no trade should open below the confidence threshold")
	}
	if got := len(ob.PendingOrders("MNQ")); got != 0 {
		t.Fatalf("pending orders = %d, want 0", got)
	}
}

func TestTargetComesFromPriorOppositeSignal(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeDowntrendStart, BarIndex: 0, Price: 104, Confidence: 0.8, Rule: "model"},
		{Type: signal.TypeUptrendStart, BarIndex: 1, Price: 103.5, Confidence: 0.8, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, nil)

	runBars(s,
		testBar(0, 105, 105.5, 103.8, 104),   // downtrend marker, no position to exit
		testBar(1, 104, 104.2, 103.2, 103.5), // uptrend, entry submitted
		testBar(2, 103.6, 104, 103.4, 103.8), // entry fills
	)

	var target *book.Order
	for _, o := range ob.PendingOrders("MNQ") {
		o := o
		if o.IsTakeProfit {
			target = &o
		}
	}
	if target == nil {
		t.Fatal("expected a pending take-profit order")
	}
	if target.LimitPrice != 105 {
		t.Fatalf("target price = %v, want prior opposite signal bar open 105", target.LimitPrice)
	}
}

func TestProtectiveOrdersPlacedOnce(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeUptrendStart, BarIndex: 0, Price: 100.5, Confidence: 0.8, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, nil)

	runBars(s,
		testBar(0, 100, 101, 99.5, 100.5),
		testBar(1, 101, 101.5, 100.6, 101.2),
	)

	snap := s.StateSnapshot()
	if snap.OpenTrade == nil {
		t.Fatal("expected an open trade")
	}
	entry, ok := ob.Order(snap.OpenTrade.EntryOrderID)
	if !ok {
		t.Fatal("entry order not found")
	}

	// Replay the entry fill; the desk must not place a second pair.
	s.OnOrderFilled(entry)

	var stops, targets int
	for _, o := range ob.PendingOrders("MNQ") {
		if o.IsStopLoss {
			stops++
		}
		if o.IsTakeProfit {
			targets++
		}
	}
	if stops != 1 || targets != 1 {
		t.Fatalf("protective orders = %d stop / %d target, want exactly 1 each", stops, targets)
	}
}

func TestExitOnOppositeSignal(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeUptrendStart, BarIndex: 0, Price: 100.5, Confidence: 0.8, Rule: "model"},
		{Type: signal.TypeDowntrendStart, BarIndex: 2, Price: 100.9, Confidence: 0.9, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, func(c *Config) { c.ExitOnOpposite = true })

	runBars(s,
		testBar(0, 100, 101, 99.5, 100.5),      // uptrend, entry submitted
		testBar(1, 101, 101.5, 100.6, 101.2),   // entry fills at 101
		testBar(2, 101.1, 101.4, 100.7, 100.9), // downtrend, exit submitted
		testBar(3, 100.8, 101, 100.2, 100.5),   // exit fills at 100.8
	)

	snap := s.StateSnapshot()
	if snap.OpenTrade != nil {
		t.Fatal("trade should be closed after the opposite-signal exit")
	}
	if len(snap.ClosedTrades) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(snap.ClosedTrades))
	}
	closed := snap.ClosedTrades[0]
	if closed.ExitPrice != 100.8 {
		t.Fatalf("exit price = %v, want 100.8", closed.ExitPrice)
	}

	ledger, ok := ob.CompletedTrade(closed.ID)
	if !ok {
		t.Fatal("closed trade missing from the book ledger")
	}
	if closed.ProfitOrLoss != ledger.NetPnL {
		t.Fatalf("trade pnl %v diverges from ledger %v", closed.ProfitOrLoss, ledger.NetPnL)
	}
	if want := (100.8 - 101.0) * 1; ledger.NetPnL != want {
		t.Fatalf("net pnl = %v, want %v", ledger.NetPnL, want)
	}

	// The surviving protective pair must not stay pending.
	if got := len(ob.PendingOrders("MNQ")); got != 0 {
		t.Fatalf("pending orders after close = %d, want 0", got)
	}
}

func TestTakeProfitFillCancelsStop(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeUptrendStart, BarIndex: 0, Price: 100.5, Confidence: 0.8, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, nil)

	runBars(s,
		testBar(0, 100, 101, 99.5, 100.5),
		testBar(1, 101, 101.5, 100.6, 101.2), // entry fills, target 103.02
		testBar(2, 102, 103.5, 101.8, 103.1), // target trades through
	)

	snap := s.StateSnapshot()
	if len(snap.ClosedTrades) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(snap.ClosedTrades))
	}
	if want := 101 * (1 + 2.0/100); snap.ClosedTrades[0].ExitPrice != want {
		t.Fatalf("exit price = %v, want limit fill at %v", snap.ClosedTrades[0].ExitPrice, want)
	}
	if got := len(ob.PendingOrders("MNQ")); got != 0 {
		t.Fatalf("stop-loss should be cancelled, %d orders still pending", got)
	}
	if got := len(ob.CancelledOrders("MNQ")); got != 1 {
		t.Fatalf("cancelled orders = %d, want the sibling stop only", got)
	}

	m := s.PerformanceMetrics()
	if m.TotalTrades != 1 || m.WinningTrades != 1 {
		t.Fatalf("metrics = %d trades / %d wins, want 1 / 1", m.TotalTrades, m.WinningTrades)
	}
}

func TestStopCancelsOwnPendingOrders(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeUptrendStart, BarIndex: 0, Price: 100.5, Confidence: 0.8, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, nil)

	runBars(s,
		testBar(0, 100, 101, 99.5, 100.5),
		testBar(1, 101, 101.5, 100.6, 101.2),
	)
	if got := len(ob.PendingOrders("MNQ")); got != 2 {
		t.Fatalf("pending protective orders = %d, want 2", got)
	}

	s.Stop()

	if got := len(ob.PendingOrders("MNQ")); got != 0 {
		t.Fatalf("pending orders after stop = %d, want 0", got)
	}
	if s.Ready() {
		t.Fatal("stopped strategy must not report ready")
	}
}

func TestForeignFillsAreIgnored(t *testing.T) {
	inf := &scriptedInferencer{}
	s, _ := newTestStrategy(t, inf, nil)

	s.OnOrderFilled(book.Order{ID: "x", TradeID: "someone-elses-trade", Status: book.StatusFilled})

	snap := s.StateSnapshot()
	if snap.OpenTrade != nil || len(snap.ClosedTrades) != 0 {
		t.Fatal("a fill for an unknown trade id must not change state")
	}
}

func TestWideBarClosesTradeExactlyOnce(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeUptrendStart, BarIndex: 0, Price: 100.5, Confidence: 0.8, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, nil)

	runBars(s,
		testBar(0, 100, 101, 99.5, 100.5),    // signal, entry submitted
		testBar(1, 101, 101.5, 100.6, 101.2), // entry fills, stop 99.5 / target 103.02
		testBar(2, 101.5, 103.5, 99, 100),    // range spans both protective prices
	)

	snap := s.StateSnapshot()
	if snap.OpenTrade != nil {
		t.Fatal("trade should be closed after the protective exit")
	}
	if len(snap.ClosedTrades) != 1 {
		t.Fatalf("closed trades = %d, want exactly 1", len(snap.ClosedTrades))
	}
	// The stop is submitted before the target, so it wins the bar.
	if snap.ClosedTrades[0].ExitPrice != 99.5 {
		t.Fatalf("exit price = %v, want stop fill at 99.5", snap.ClosedTrades[0].ExitPrice)
	}
	if got := len(ob.CompletedTrades("MNQ")); got != 1 {
		t.Fatalf("ledger trades = %d, want 1", got)
	}
	if got := len(ob.PendingOrders("MNQ")); got != 0 {
		t.Fatalf("pending orders after close = %d, want 0", got)
	}
}

func TestStopLossPctCapsDistanceToStop(t *testing.T) {
	inf := &scriptedInferencer{signals: []signal.TrendSignal{
		{Type: signal.TypeUptrendStart, BarIndex: 0, Price: 100.5, Confidence: 0.8, Rule: "model"},
	}}
	s, ob := newTestStrategy(t, inf, func(c *Config) { c.StopLossPct = 0.5 })

	runBars(s,
		testBar(0, 100, 101, 99.5, 100.5),
		testBar(1, 101, 101.5, 100.6, 101.2),
	)

	if snap := s.StateSnapshot(); snap.OpenTrade == nil {
		t.Fatal("expected an open trade")
	}
	var stop *book.Order
	for _, o := range ob.PendingOrders("MNQ") {
		o := o
		if o.IsStopLoss {
			stop = &o
		}
	}
	if stop == nil {
		t.Fatal("expected a pending stop-loss")
	}
	// The signal bar low (99.5) sits beyond the 0.5% risk budget, so the
	// percentage floor takes over.
	if want := 100.5 * (1 - 0.5/100); stop.StopPrice != want {
		t.Fatalf("stop price = %v, want floored at %v", stop.StopPrice, want)
	}
}
