package strategy

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"backtest-core/internal/book"
	"backtest-core/internal/events"
	"backtest-core/internal/market"
	"backtest-core/internal/signal"
)

// TrendStrategy trades confirmed trend-start signals: it enters long on an
// uptrend-start above the confidence threshold, protects the position with a
// stop-loss / take-profit pair, and (when ExitOnOpposite is set) flattens on
// a confirmed downtrend-start.
type TrendStrategy struct {
	mu   sync.Mutex
	id   string
	name string
	cfg  Config
	lc   lifecycle
	desk orderDesk

	book     *book.OrderBook
	detector *signal.Detector
	bus      *events.Bus
	unsubs   []func()

	bars          []market.Bar
	barsProcessed int
	active        *SimulatedTrade            // pending or open conceptual trade
	closed        []SimulatedTrade
	trades        map[string]*SimulatedTrade // every trade this instance owns
	acted         map[string]bool            // signal keys already evaluated
	signals       []signal.TrendSignal
}

// NewTrendStrategy creates an uninitialized instance. cfg must come from
// NewConfig.
func NewTrendStrategy(name string, cfg Config, ob *book.OrderBook, det *signal.Detector, bus *events.Bus) *TrendStrategy {
	id := uuid.NewString()
	t := &TrendStrategy{
		id:       id,
		name:     name,
		cfg:      cfg,
		lc:       lifecycle{name: name},
		book:     ob,
		detector: det,
		bus:      bus,
		trades:   make(map[string]*SimulatedTrade),
		acted:    make(map[string]bool),
	}
	t.desk = orderDesk{book: ob, bus: bus, strategyID: id, contractID: cfg.ContractID}
	return t
}

func (t *TrendStrategy) ID() string   { return t.id }
func (t *TrendStrategy) Name() string { return t.name }

func (t *TrendStrategy) Config() Config { return t.cfg }

func (t *TrendStrategy) LifecycleState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lc.state
}

func (t *TrendStrategy) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lc.ready()
}

// Initialize moves the instance from uninitialized to initialized.
func (t *TrendStrategy) Initialize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lc.initialize()
}

// Start subscribes the instance to its own fill topic and begins processing.
func (t *TrendStrategy) Start() {
	t.mu.Lock()
	ok := t.lc.start()
	t.mu.Unlock()
	if !ok {
		return
	}

	if t.bus != nil {
		unsub := t.bus.SubscribeScoped(events.TopicOrderFilled, t.id, func(m events.Message) {
			if o, isOrder := m.Payload.(book.Order); isOrder {
				t.OnOrderFilled(o)
			}
		})
		t.unsubs = append(t.unsubs, unsub)
		t.bus.PublishScoped(events.TopicStrategyStarted, t.id, t.name)
	}
}

// Stop halts processing, cancels the instance's own pending orders (scoped
// by trade id, never another strategy's) and tears down its subscriptions.
func (t *TrendStrategy) Stop() {
	t.mu.Lock()
	ok := t.lc.stop()
	t.mu.Unlock()
	if !ok {
		return
	}
	t.teardown()
	if t.bus != nil {
		t.bus.PublishScoped(events.TopicStrategyStopped, t.id, t.name)
	}
}

// Dispose force-stops first; a second Dispose is a warning no-op.
func (t *TrendStrategy) Dispose() {
	t.mu.Lock()
	running := t.lc.state == StateStarted
	t.mu.Unlock()
	if running {
		t.Stop()
	}

	t.mu.Lock()
	ok := t.lc.dispose()
	t.mu.Unlock()
	if !ok {
		return
	}
	if t.bus != nil {
		t.bus.PublishScoped(events.TopicStrategyDisposed, t.id, t.name)
	}
}

func (t *TrendStrategy) teardown() {
	t.mu.Lock()
	active := t.active
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()

	if active != nil {
		if n := t.book.CancelForTrade(active.ID); n > 0 {
			log.Printf("strategy %s: cancelled %d pending orders on stop", t.name, n)
		}
	}
	for _, unsub := range unsubs {
		unsub()
	}
	if t.bus != nil {
		t.bus.DropScope(t.id)
	}
}

// ProcessBar runs one bar through the full pipeline: book fills first, then
// signal lookup, then entry/exit evaluation. The bar is complete only when
// all three have resolved.
func (t *TrendStrategy) ProcessBar(ctx context.Context, bar market.Bar, barIndex int) {
	if !t.Ready() {
		return
	}

	t.mu.Lock()
	if barIndex >= len(t.bars) {
		t.bars = append(t.bars, bar)
	}
	bars := t.bars
	t.barsProcessed++
	t.mu.Unlock()

	// Fills are published bus-wide; the orchestrator re-publishes them onto
	// per-strategy scopes, which is how OnOrderFilled gets invoked.
	for _, f := range t.book.ProcessBar(bar, barIndex) {
		if t.bus != nil {
			t.bus.Publish(events.TopicOrderFilled, *f)
		} else {
			t.OnOrderFilled(*f)
		}
	}

	sigs := t.detector.SignalsForRange(ctx, bars, barIndex, t.cfg.ContractID, t.cfg.Timeframe)
	t.evaluateSignals(sigs)
}

// evaluateSignals walks signals not yet seen, deduplicated by (bar index,
// type) within the call, and applies the entry/exit rules.
func (t *TrendStrategy) evaluateSignals(sigs []signal.TrendSignal) {
	type action struct {
		enter *SimulatedTrade
		exit  *SimulatedTrade
		sig   signal.TrendSignal
	}
	var actions []action

	t.mu.Lock()
	inCall := make(map[string]bool)
	for _, sig := range sigs {
		key := fmt.Sprintf("%d|%s", sig.BarIndex, sig.Type)
		if t.acted[key] || inCall[key] {
			continue
		}
		inCall[key] = true
		t.acted[key] = true
		t.signals = append(t.signals, sig)

		a := action{sig: sig}
		if sig.Confidence >= t.cfg.ConfidenceThreshold {
			switch sig.Type {
			case signal.TypeUptrendStart:
				if t.active == nil {
					a.enter = t.planEntry(sig)
				}
			case signal.TypeDowntrendStart:
				if t.cfg.ExitOnOpposite && t.active != nil &&
					t.active.Status == TradeOpen && t.active.Side == book.SideBuy {
					a.exit = t.active
				}
			}
		}
		actions = append(actions, a)
	}
	t.mu.Unlock()

	for _, a := range actions {
		if t.bus != nil {
			t.bus.PublishScoped(events.TopicSignalGenerated, t.id, a.sig)
		}
		if a.enter != nil {
			if o := t.desk.marketEntry(a.enter.ID, a.enter.Side, a.enter.Size); o != nil {
				a.enter.EntryOrderID = o.ID
			} else {
				t.dropTrade(a.enter.ID)
			}
		}
		if a.exit != nil {
			t.desk.marketExit(a.exit.ID, a.exit.Side.Opposite(), a.exit.Size)
		}
	}
}

// planEntry registers a pending conceptual trade with its protective price
// plan fixed from the signal bar. Caller holds the lock.
func (t *TrendStrategy) planEntry(sig signal.TrendSignal) *SimulatedTrade {
	if sig.BarIndex >= len(t.bars) {
		return nil
	}
	sigBar := t.bars[sig.BarIndex]

	// Stop at the signal bar's low, bounded by the configured worst-case
	// stop-loss percentage.
	stop := sigBar.Low
	if floor := sig.Price * (1 - t.cfg.StopLossPct/100); floor > stop {
		stop = floor
	}

	// Target from the most recent prior opposite-direction signal's bar open
	// when one exists, else a fixed percentage above the signal bar's high.
	target := sigBar.High * (1 + t.cfg.TakeProfitPct/100)
	if prev := t.lastOpposite(sig); prev != nil && prev.BarIndex < len(t.bars) {
		target = t.bars[prev.BarIndex].Open
	}

	trade := &SimulatedTrade{
		ID:            uuid.NewString(),
		Side:          book.SideBuy,
		Size:          t.cfg.PositionSize,
		Status:        TradePending,
		plannedStop:   stop,
		plannedTarget: target,
	}
	t.trades[trade.ID] = trade
	t.active = trade
	return trade
}

// lastOpposite returns the most recent earlier signal of the opposite
// direction, or nil when none exists.
func (t *TrendStrategy) lastOpposite(sig signal.TrendSignal) *signal.TrendSignal {
	opposite := signal.TypeDowntrendStart
	if sig.Type == signal.TypeDowntrendStart {
		opposite = signal.TypeUptrendStart
	}
	var best *signal.TrendSignal
	for i := range t.signals {
		s := &t.signals[i]
		if s.Type != opposite || s.BarIndex >= sig.BarIndex {
			continue
		}
		if best == nil || s.BarIndex > best.BarIndex {
			best = s
		}
	}
	return best
}

func (t *TrendStrategy) dropTrade(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil && t.active.ID == id {
		t.active = nil
	}
	delete(t.trades, id)
}

// OnOrderFilled reconciles one fill against the strategy's conceptual trades.
// Fills for unknown trade ids belong to other strategies and are ignored.
func (t *TrendStrategy) OnOrderFilled(o book.Order) {
	if o.TradeID == "" {
		return
	}

	t.mu.Lock()
	trade, ok := t.trades[o.TradeID]
	if !ok {
		t.mu.Unlock()
		return
	}

	switch {
	case o.ID == trade.EntryOrderID:
		if trade.Status == TradePending {
			trade.Status = TradeOpen
			trade.EntryPrice = o.FillPrice
			if o.FilledAt != nil {
				trade.EntryTime = *o.FilledAt
			}
		}
		t.mu.Unlock()

		// Guarded inside the desk: at most one stop-loss and one take-profit
		// ever exist per trade id, even on a duplicate entry hook.
		t.desk.placeProtective(trade)
		if t.bus != nil {
			t.bus.PublishScoped(events.TopicPositionOpened, t.id, *trade)
		}

	case o.IsExit:
		if trade.Status != TradeOpen {
			t.mu.Unlock()
			log.Printf("strategy %s: exit fill %s has no open conceptual trade %s, ignoring", t.name, o.ID, o.TradeID)
			return
		}
		trade.Status = TradeClosed
		trade.ExitPrice = o.FillPrice
		if o.FilledAt != nil {
			trade.ExitTime = *o.FilledAt
		}

		// Single source of truth: final P&L comes from the book's ledger.
		if entry, found := t.book.CompletedTrade(o.TradeID); found {
			trade.ProfitOrLoss = entry.NetPnL
			trade.Commission = entry.Commission
		} else {
			log.Printf("strategy %s: no ledger entry for closed trade %s", t.name, o.TradeID)
		}

		t.closed = append(t.closed, *trade)
		if t.active != nil && t.active.ID == trade.ID {
			t.active = nil
		}
		t.mu.Unlock()

		t.desk.cancelSibling(trade, o.ID)
		if t.bus != nil {
			t.bus.PublishScoped(events.TopicPositionClosed, t.id, *trade)
		}

	default:
		t.mu.Unlock()
		log.Printf("strategy %s: fill %s not linked to trade %s entry or exit, ignoring", t.name, o.ID, o.TradeID)
	}
}

// StateSnapshot returns a read-only view for presentation.
func (t *TrendStrategy) StateSnapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		ID:            t.id,
		Name:          t.name,
		State:         t.lc.state.String(),
		ContractID:    t.cfg.ContractID,
		BarsProcessed: t.barsProcessed,
		ClosedTrades:  append([]SimulatedTrade(nil), t.closed...),
	}
	if t.active != nil {
		cp := *t.active
		snap.OpenTrade = &cp
	}
	if n := len(t.signals); n > 0 {
		cp := t.signals[n-1]
		snap.LastSignal = &cp
	}
	return snap
}

// TrendSignals returns every signal the strategy has observed, in order.
func (t *TrendStrategy) TrendSignals() []signal.TrendSignal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]signal.TrendSignal(nil), t.signals...)
}

// PerformanceMetrics aggregates results from the book's closed-trade ledger,
// restricted to the trades this instance owns.
func (t *TrendStrategy) PerformanceMetrics() PerformanceMetrics {
	t.mu.Lock()
	owned := make(map[string]bool, len(t.trades))
	for id := range t.trades {
		owned[id] = true
	}
	t.mu.Unlock()

	var mine []book.CompletedTrade
	for _, tr := range t.book.CompletedTrades(t.cfg.ContractID) {
		if owned[tr.ID] {
			mine = append(mine, tr)
		}
	}
	return ComputeMetrics(mine)
}
