package book

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"backtest-core/internal/market"
)

// Config holds the simulation parameters of the book.
type Config struct {
	TickSize       float64 // minimum price increment, default 0.25
	CommissionRate float64 // decimal per fill, e.g. 0.0004 = 4 bps; 0 disables
	FlatCommission float64 // charged once per closed round trip when rate is 0
}

// DefaultConfig returns the standard simulation parameters.
func DefaultConfig() Config {
	return Config{TickSize: 0.25}
}

// OrderBook owns every order and position in a backtest and is the only
// component allowed to mutate fill and P&L state.
type OrderBook struct {
	mu        sync.RWMutex
	cfg       Config
	orders    map[string]*Order
	seq       []string // ids in submission order, drives fill priority
	positions map[string]*Position
	openLegs  map[string]*tradeLeg
	completed []CompletedTrade
	curBar    int // index of the bar being (or last) processed, -1 before any
}

// New creates an empty order book.
func New(cfg Config) *OrderBook {
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.25
	}
	return &OrderBook{
		cfg:       cfg,
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		openLegs:  make(map[string]*tradeLeg),
		curBar:    -1,
	}
}

// TickSize returns the minimum price increment for the simulated contract.
func (b *OrderBook) TickSize() float64 {
	return b.cfg.TickSize
}

// Submit registers a new pending order, assigning an id and submission time
// from the bar clock if the caller left them unset.
func (b *OrderBook) Submit(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("submit: nil order")
	}
	if o.Qty <= 0 {
		return nil, fmt.Errorf("submit: qty must be positive, got %v", o.Qty)
	}
	if o.ContractID == "" {
		return nil, fmt.Errorf("submit: contract id required")
	}
	switch o.Kind {
	case KindMarket:
	case KindLimit:
		if o.LimitPrice <= 0 {
			return nil, fmt.Errorf("submit: limit order requires a positive limit price")
		}
	case KindStop:
		if o.StopPrice <= 0 {
			return nil, fmt.Errorf("submit: stop order requires a positive stop price")
		}
	default:
		return nil, fmt.Errorf("submit: unknown order kind %q", o.Kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, dup := b.orders[o.ID]; dup {
		return nil, fmt.Errorf("submit: duplicate order id %s", o.ID)
	}
	o.Status = StatusPending
	o.submittedBar = b.curBar
	b.orders[o.ID] = o
	b.seq = append(b.seq, o.ID)

	cp := *o
	return &cp, nil
}

// Cancel moves a pending order to cancelled. Returns false when the order is
// unknown or already terminal.
func (b *OrderBook) Cancel(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok || o.Status != StatusPending {
		return false
	}
	o.Status = StatusCancelled
	return true
}

// CancelForTrade cancels every pending order carrying the given trade id and
// returns how many were cancelled. Used to scope teardown to one strategy's
// orders when several strategies share a contract.
func (b *OrderBook) CancelForTrade(tradeID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, id := range b.seq {
		o := b.orders[id]
		if o.Status == StatusPending && o.TradeID == tradeID {
			o.Status = StatusCancelled
			n++
		}
	}
	return n
}

// ProcessBar evaluates every pending order against one bar, in submission
// order, and returns copies of the orders filled by it.
func (b *OrderBook) ProcessBar(bar market.Bar, barIndex int) []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.curBar = barIndex

	var filled []*Order
	exited := make(map[string]bool)
	for _, id := range b.seq {
		o := b.orders[id]
		if o.Status != StatusPending {
			continue
		}
		// Orders submitted while this bar was being processed become
		// eligible on the next bar only; no same-bar look-ahead fills.
		if o.submittedBar >= barIndex {
			continue
		}
		// One-cancels-other: once an exit fill closes a trade this bar,
		// its remaining exit orders cancel instead of filling. A wide bar
		// can otherwise trigger both protective prices at once.
		if o.IsExit && exited[o.TradeID] {
			o.Status = StatusCancelled
			continue
		}
		price, ok := fillPrice(o, bar)
		if !ok {
			continue
		}
		b.fill(o, price, bar)
		if o.IsExit && o.TradeID != "" {
			exited[o.TradeID] = true
		}
		cp := *o
		filled = append(filled, &cp)
	}
	return filled
}

// fillPrice applies the per-kind matching rules and returns the execution
// price when the bar can fill the order.
func fillPrice(o *Order, bar market.Bar) (float64, bool) {
	switch o.Kind {
	case KindMarket:
		return bar.Open, true
	case KindLimit:
		if o.Side == SideBuy && bar.Low <= o.LimitPrice {
			return o.LimitPrice, true
		}
		if o.Side == SideSell && bar.High >= o.LimitPrice {
			return o.LimitPrice, true
		}
	case KindStop:
		// Triggers as a market-equivalent at the stop price, no slippage.
		if o.Side == SideBuy && bar.High >= o.StopPrice {
			return o.StopPrice, true
		}
		if o.Side == SideSell && bar.Low <= o.StopPrice {
			return o.StopPrice, true
		}
	}
	return 0, false
}

// fill marks the order filled and applies it to position and ledger state.
// Caller holds the lock.
func (b *OrderBook) fill(o *Order, price float64, bar market.Bar) {
	t := bar.Time
	o.Status = StatusFilled
	o.FillPrice = price
	o.FillQty = o.Qty // no partial fills in this model
	o.FilledAt = &t
	if b.cfg.CommissionRate > 0 {
		o.Commission = price * o.Qty * b.cfg.CommissionRate
	}

	b.applyToPosition(o)
	if o.TradeID != "" {
		b.applyToLedger(o)
	}
}

func (b *OrderBook) applyToPosition(o *Order) {
	pos, ok := b.positions[o.ContractID]
	if !ok {
		b.positions[o.ContractID] = &Position{
			ContractID:    o.ContractID,
			Side:          o.Side,
			Size:          o.FillQty,
			AvgEntryPrice: o.FillPrice,
		}
		return
	}

	// A flat contract opens fresh in the fill's direction; the realized
	// P&L accumulator carries over.
	if pos.Size == 0 {
		pos.Side = o.Side
		pos.Size = o.FillQty
		pos.AvgEntryPrice = o.FillPrice
		return
	}

	if o.Side == pos.Side {
		total := pos.Size*pos.AvgEntryPrice + o.FillQty*o.FillPrice
		pos.Size += o.FillQty
		pos.AvgEntryPrice = total / pos.Size
		return
	}

	// Opposite side reduces toward zero; flips are not allowed in one fill.
	if o.FillQty > pos.Size {
		log.Printf("book: fill %s qty %.4f exceeds open size %.4f on %s, clamping",
			o.ID, o.FillQty, pos.Size, o.ContractID)
		pos.Size = 0
	} else {
		pos.Size -= o.FillQty
	}
	if pos.Size == 0 {
		pos.AvgEntryPrice = 0
	}
}

// applyToLedger opens or closes the round-trip leg for the order's trade id.
// Closing writes the ledger entry: the only place realized P&L is computed.
func (b *OrderBook) applyToLedger(o *Order) {
	leg, open := b.openLegs[o.TradeID]
	if !open {
		b.openLegs[o.TradeID] = &tradeLeg{
			side:         o.Side,
			size:         o.FillQty,
			entryPrice:   o.FillPrice,
			entryTime:    *o.FilledAt,
			entryOrderID: o.ID,
			commission:   o.Commission,
		}
		return
	}

	if o.Side == leg.side {
		// Scale-in: average the leg, keep a single open position per trade id.
		total := leg.size*leg.entryPrice + o.FillQty*o.FillPrice
		leg.size += o.FillQty
		leg.entryPrice = total / leg.size
		leg.commission += o.Commission
		return
	}

	commission := leg.commission + o.Commission
	if b.cfg.CommissionRate == 0 {
		commission += b.cfg.FlatCommission
	}
	pnl := b.closedPnL(leg.entryPrice, o.FillPrice, leg.size, leg.side, commission)

	b.completed = append(b.completed, CompletedTrade{
		ID:           o.TradeID,
		ContractID:   o.ContractID,
		Side:         leg.side,
		Size:         leg.size,
		EntryPrice:   leg.entryPrice,
		ExitPrice:    o.FillPrice,
		EntryTime:    leg.entryTime,
		ExitTime:     *o.FilledAt,
		EntryOrderID: leg.entryOrderID,
		ExitOrderID:  o.ID,
		GrossPnL:     pnl.Gross,
		Commission:   pnl.Commission,
		NetPnL:       pnl.Net,
	})
	if pos, ok := b.positions[o.ContractID]; ok {
		pos.RealizedPnL += pnl.Net
	}
	delete(b.openLegs, o.TradeID)
}

func (b *OrderBook) closedPnL(entry, exit, size float64, side Side, commission float64) PnL {
	gross := (exit - entry) * size * side.Sign()
	return PnL{Gross: gross, Commission: commission, Net: gross - commission}
}

// ClosedPositionPnL computes the realized P&L breakdown for a closed round
// trip. Exposed so callers can price hypothetical exits with the book's
// formula instead of reimplementing it.
func (b *OrderBook) ClosedPositionPnL(entry, exit, size float64, side Side, commission float64) PnL {
	return b.closedPnL(entry, exit, size, side, commission)
}

// OpenPositionPnL returns the unrealized P&L of the contract's open position
// marked to the given price.
func (b *OrderBook) OpenPositionPnL(contractID string, markPrice float64) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[contractID]
	if !ok || pos.Size == 0 {
		return 0
	}
	return (markPrice - pos.AvgEntryPrice) * pos.Size * pos.Side.Sign()
}

// PositionTotalPnL returns realized plus unrealized P&L for a contract.
func (b *OrderBook) PositionTotalPnL(contractID string, markPrice float64) float64 {
	b.mu.RLock()
	pos, ok := b.positions[contractID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return pos.RealizedPnL + b.OpenPositionPnL(contractID, markPrice)
}

// OpenPosition returns the open position for a contract, if any.
func (b *OrderBook) OpenPosition(contractID string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[contractID]
	if !ok || pos.Size == 0 {
		return Position{}, false
	}
	return *pos, true
}

// OpenPositions returns every contract position with non-zero size.
func (b *OrderBook) OpenPositions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Size > 0 {
			out = append(out, *p)
		}
	}
	return out
}

// PendingOrders returns pending orders, optionally filtered by contract.
func (b *OrderBook) PendingOrders(contractID string) []Order {
	return b.ordersByStatus(StatusPending, contractID)
}

// FilledOrders returns filled orders, optionally filtered by contract.
func (b *OrderBook) FilledOrders(contractID string) []Order {
	return b.ordersByStatus(StatusFilled, contractID)
}

// CancelledOrders returns cancelled orders, optionally filtered by contract.
func (b *OrderBook) CancelledOrders(contractID string) []Order {
	return b.ordersByStatus(StatusCancelled, contractID)
}

func (b *OrderBook) ordersByStatus(st Status, contractID string) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Order
	for _, id := range b.seq {
		o := b.orders[id]
		if o.Status != st {
			continue
		}
		if contractID != "" && o.ContractID != contractID {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// Order returns a copy of one order by id.
func (b *OrderBook) Order(orderID string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, ok := b.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// CompletedTrades returns the closed-trade ledger, optionally filtered by
// contract, in close order.
func (b *OrderBook) CompletedTrades(contractID string) []CompletedTrade {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]CompletedTrade, 0, len(b.completed))
	for _, t := range b.completed {
		if contractID != "" && t.ContractID != contractID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// CompletedTrade looks up one ledger entry by trade id.
func (b *OrderBook) CompletedTrade(tradeID string) (CompletedTrade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, t := range b.completed {
		if t.ID == tradeID {
			return t, true
		}
	}
	return CompletedTrade{}, false
}

// ResetState clears all orders, positions and the ledger for a fresh run.
func (b *OrderBook) ResetState() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders = make(map[string]*Order)
	b.seq = nil
	b.positions = make(map[string]*Position)
	b.openLegs = make(map[string]*tradeLeg)
	b.completed = nil
	b.curBar = -1
}
