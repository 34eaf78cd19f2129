package book

import (
	"testing"
	"time"

	"backtest-core/internal/market"
)

func bar(o, h, l, c float64, idx int) market.Bar {
	return market.Bar{
		Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(idx) * time.Minute),
		Open: o, High: h, Low: l, Close: c,
	}
}

func TestLimitFillRules(t *testing.T) {
	tests := []struct {
		name      string
		side      Side
		limit     float64
		bar       market.Bar
		wantFill  bool
		wantPrice float64
	}{
		{"buy fills when low touches limit", SideBuy, 100, bar(102, 103, 100, 101, 0), true, 100},
		{"buy fills when low trades through", SideBuy, 100, bar(102, 103, 99, 101, 0), true, 100},
		{"buy stays pending above limit", SideBuy, 100, bar(102, 103, 100.5, 101, 0), false, 0},
		{"sell fills when high touches limit", SideSell, 105, bar(102, 105, 100, 101, 0), true, 105},
		{"sell stays pending below limit", SideSell, 105, bar(102, 104.75, 100, 101, 0), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(DefaultConfig())
			o, err := b.Submit(&Order{ContractID: "CON.F.US.MES", Side: tt.side, Kind: KindLimit, Qty: 1, LimitPrice: tt.limit})
			if err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}

			filled := b.ProcessBar(tt.bar, 0)
			if tt.wantFill {
				if len(filled) != 1 {
					t.Fatalf("expected 1 fill, got %d", len(filled))
				}
				if filled[0].FillPrice != tt.wantPrice {
					t.Fatalf("fill price = %v, expected limit %v", filled[0].FillPrice, tt.wantPrice)
				}
				if filled[0].FillQty != 1 {
					t.Fatalf("fill qty = %v, expected full qty", filled[0].FillQty)
				}
			} else {
				if len(filled) != 0 {
					t.Fatalf("expected no fill, got %d", len(filled))
				}
				got, _ := b.Order(o.ID)
				if got.Status != StatusPending {
					t.Fatalf("order status = %s, expected PENDING", got.Status)
				}
			}
		})
	}
}

func TestMarketFillsAtOpen(t *testing.T) {
	b := New(DefaultConfig())
	if _, err := b.Submit(&Order{ContractID: "MES", Side: SideBuy, Kind: KindMarket, Qty: 2}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	filled := b.ProcessBar(bar(100.25, 105, 99, 104, 0), 0)
	if len(filled) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(filled))
	}
	if filled[0].FillPrice != 100.25 {
		t.Fatalf("market fill price = %v, expected bar open 100.25", filled[0].FillPrice)
	}
}

func TestStopTriggersOnRangeCross(t *testing.T) {
	tests := []struct {
		name     string
		side     Side
		stop     float64
		bar      market.Bar
		wantFill bool
	}{
		{"sell stop triggers when low crosses", SideSell, 99, bar(100, 101, 98.5, 99.5, 0), true},
		{"sell stop holds above", SideSell, 99, bar(100, 101, 99.25, 100, 0), false},
		{"buy stop triggers when high crosses", SideBuy, 101, bar(100, 101.5, 99.5, 101, 0), true},
		{"buy stop holds below", SideBuy, 101, bar(100, 100.75, 99.5, 100, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(DefaultConfig())
			if _, err := b.Submit(&Order{ContractID: "MES", Side: tt.side, Kind: KindStop, Qty: 1, StopPrice: tt.stop}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			filled := b.ProcessBar(tt.bar, 0)
			if tt.wantFill {
				if len(filled) != 1 {
					t.Fatalf("expected stop to fill")
				}
				if filled[0].FillPrice != tt.stop {
					t.Fatalf("stop fill price = %v, expected stop price %v", filled[0].FillPrice, tt.stop)
				}
			} else if len(filled) != 0 {
				t.Fatalf("stop should not have triggered")
			}
		})
	}
}

func TestCancelIsTerminal(t *testing.T) {
	b := New(DefaultConfig())
	o, err := b.Submit(&Order{ContractID: "MES", Side: SideBuy, Kind: KindLimit, Qty: 1, LimitPrice: 100})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !b.Cancel(o.ID) {
		t.Fatalf("Cancel returned false for pending order")
	}
	if b.Cancel(o.ID) {
		t.Fatalf("Cancel succeeded twice")
	}
	if filled := b.ProcessBar(bar(100, 101, 99, 100, 0), 0); len(filled) != 0 {
		t.Fatalf("cancelled order filled")
	}
	if got := b.CancelledOrders("MES"); len(got) != 1 {
		t.Fatalf("expected 1 cancelled order, got %d", len(got))
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	b := New(Config{TickSize: 0.25, CommissionRate: 0.001})

	if _, err := b.Submit(&Order{ContractID: "MES", TradeID: "trade-1", Side: SideBuy, Kind: KindMarket, Qty: 2, IsEntry: true}); err != nil {
		t.Fatalf("Submit entry: %v", err)
	}
	b.ProcessBar(bar(100, 101, 99, 100.5, 0), 0)

	if _, err := b.Submit(&Order{ContractID: "MES", TradeID: "trade-1", Side: SideSell, Kind: KindMarket, Qty: 2, IsExit: true}); err != nil {
		t.Fatalf("Submit exit: %v", err)
	}
	b.ProcessBar(bar(110, 111, 109, 110.5, 1), 1)

	trades := b.CompletedTrades("MES")
	if len(trades) != 1 {
		t.Fatalf("expected 1 completed trade, got %d", len(trades))
	}
	tr := trades[0]

	wantGross := (110.0 - 100.0) * 2
	wantCommission := 100*2*0.001 + 110*2*0.001
	if tr.GrossPnL != wantGross {
		t.Fatalf("GrossPnL = %v, expected %v", tr.GrossPnL, wantGross)
	}
	if tr.Commission != wantCommission {
		t.Fatalf("Commission = %v, expected %v", tr.Commission, wantCommission)
	}
	if tr.NetPnL != wantGross-wantCommission {
		t.Fatalf("NetPnL = %v, expected %v", tr.NetPnL, wantGross-wantCommission)
	}

	// Ledger and the formula helper must agree.
	pnl := b.ClosedPositionPnL(tr.EntryPrice, tr.ExitPrice, tr.Size, tr.Side, tr.Commission)
	if pnl.Net != tr.NetPnL {
		t.Fatalf("ClosedPositionPnL net = %v, ledger = %v", pnl.Net, tr.NetPnL)
	}

	if _, open := b.OpenPosition("MES"); open {
		t.Fatalf("position should be flat after round trip")
	}
}

func TestFlatCommissionChargedOnClose(t *testing.T) {
	b := New(Config{TickSize: 0.25, FlatCommission: 4.5})

	if _, err := b.Submit(&Order{ContractID: "MES", TradeID: "t", Side: SideBuy, Kind: KindMarket, Qty: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	b.ProcessBar(bar(100, 101, 99, 100, 0), 0)
	if _, err := b.Submit(&Order{ContractID: "MES", TradeID: "t", Side: SideSell, Kind: KindMarket, Qty: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	b.ProcessBar(bar(105, 106, 104, 105, 1), 1)

	trades := b.CompletedTrades("")
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Commission != 4.5 {
		t.Fatalf("Commission = %v, expected flat 4.5", trades[0].Commission)
	}
	if trades[0].NetPnL != 5-4.5 {
		t.Fatalf("NetPnL = %v, expected 0.5", trades[0].NetPnL)
	}
}

func TestOpenPositionPnL(t *testing.T) {
	b := New(DefaultConfig())
	if _, err := b.Submit(&Order{ContractID: "MES", Side: SideBuy, Kind: KindMarket, Qty: 3}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	b.ProcessBar(bar(100, 101, 99, 100, 0), 0)

	if got := b.OpenPositionPnL("MES", 104); got != 12 {
		t.Fatalf("OpenPositionPnL = %v, expected 12", got)
	}
	if got := b.OpenPositionPnL("MES", 98); got != -6 {
		t.Fatalf("OpenPositionPnL = %v, expected -6", got)
	}
	if got := b.OpenPositionPnL("NQ", 100); got != 0 {
		t.Fatalf("OpenPositionPnL for unknown contract = %v, expected 0", got)
	}
}

func TestPositionAveraging(t *testing.T) {
	b := New(DefaultConfig())
	for i, px := range []float64{100, 110} {
		if _, err := b.Submit(&Order{ContractID: "MES", Side: SideBuy, Kind: KindMarket, Qty: 1}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		b.ProcessBar(bar(px, px+1, px-1, px, i), i)
	}
	pos, ok := b.OpenPosition("MES")
	if !ok {
		t.Fatalf("expected open position")
	}
	if pos.Size != 2 || pos.AvgEntryPrice != 105 {
		t.Fatalf("position = %+v, expected size 2 avg 105", pos)
	}
}

func TestCancelForTradeScoping(t *testing.T) {
	b := New(DefaultConfig())
	mk := func(trade string) {
		if _, err := b.Submit(&Order{ContractID: "MES", TradeID: trade, Side: SideSell, Kind: KindStop, Qty: 1, StopPrice: 50}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	mk("a")
	mk("a")
	mk("b")

	if n := b.CancelForTrade("a"); n != 2 {
		t.Fatalf("CancelForTrade cancelled %d, expected 2", n)
	}
	if pending := b.PendingOrders(""); len(pending) != 1 || pending[0].TradeID != "b" {
		t.Fatalf("other strategy's order affected: %+v", pending)
	}
}

func TestResetState(t *testing.T) {
	b := New(DefaultConfig())
	if _, err := b.Submit(&Order{ContractID: "MES", Side: SideBuy, Kind: KindMarket, Qty: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	b.ProcessBar(bar(100, 101, 99, 100, 0), 0)
	b.ResetState()

	if len(b.FilledOrders("")) != 0 || len(b.OpenPositions()) != 0 || len(b.CompletedTrades("")) != 0 {
		t.Fatalf("ResetState left residual state")
	}
}

func TestNoSameBarLookAheadFill(t *testing.T) {
	b := New(DefaultConfig())
	b.ProcessBar(bar(100, 101, 99, 100, 0), 0)

	// Submitted while bar 0 was current: must not fill on a re-process of
	// bar 0, only from bar 1 on.
	if _, err := b.Submit(&Order{ContractID: "MES", Side: SideBuy, Kind: KindMarket, Qty: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if filled := b.ProcessBar(bar(100, 101, 99, 100, 0), 0); len(filled) != 0 {
		t.Fatalf("order filled on its own submission bar")
	}
	filled := b.ProcessBar(bar(102, 103, 101, 102, 1), 1)
	if len(filled) != 1 || filled[0].FillPrice != 102 {
		t.Fatalf("expected fill at next bar open 102, got %+v", filled)
	}
}

func TestSubmitValidation(t *testing.T) {
	b := New(DefaultConfig())
	cases := []*Order{
		{ContractID: "MES", Side: SideBuy, Kind: KindMarket, Qty: 0},
		{Side: SideBuy, Kind: KindMarket, Qty: 1},
		{ContractID: "MES", Side: SideBuy, Kind: KindLimit, Qty: 1},
		{ContractID: "MES", Side: SideBuy, Kind: Kind("ICEBERG"), Qty: 1},
	}
	for i, o := range cases {
		if _, err := b.Submit(o); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestWideBarFillsOnlyOneExit(t *testing.T) {
	b := New(DefaultConfig())
	if _, err := b.Submit(&Order{ContractID: "MES", TradeID: "trade-1", Side: SideBuy, Kind: KindMarket, Qty: 1, IsEntry: true}); err != nil {
		t.Fatalf("Submit entry: %v", err)
	}
	b.ProcessBar(bar(101, 101.5, 100.5, 101, 0), 0)

	if _, err := b.Submit(&Order{ContractID: "MES", TradeID: "trade-1", Side: SideSell, Kind: KindStop, Qty: 1, StopPrice: 99.5, IsExit: true, IsStopLoss: true}); err != nil {
		t.Fatalf("Submit stop: %v", err)
	}
	tp, err := b.Submit(&Order{ContractID: "MES", TradeID: "trade-1", Side: SideSell, Kind: KindLimit, Qty: 1, LimitPrice: 103.02, IsExit: true, IsTakeProfit: true})
	if err != nil {
		t.Fatalf("Submit take-profit: %v", err)
	}

	// One bar spans both protective prices; only the first exit in
	// submission order may execute.
	filled := b.ProcessBar(bar(101.5, 103.5, 99, 100, 1), 1)

	var exits int
	var exitQty float64
	for _, f := range filled {
		if f.IsExit {
			exits++
			exitQty += f.FillQty
		}
	}
	if exits != 1 || exitQty != 1 {
		t.Fatalf("exit fills = %d qty %v, expected exactly 1 fill of the 1-lot position", exits, exitQty)
	}
	if filled[0].ID == tp.ID {
		t.Fatalf("take-profit executed before the earlier-submitted stop")
	}

	got, _ := b.Order(tp.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("surviving exit status = %s, expected CANCELLED", got.Status)
	}
	if trades := b.CompletedTrades("MES"); len(trades) != 1 {
		t.Fatalf("completed trades = %d, expected exactly 1", len(trades))
	}
	if _, open := b.OpenPosition("MES"); open {
		t.Fatalf("position should be flat after the single exit")
	}

	// A later wide bar must not produce further fills for the trade.
	if again := b.ProcessBar(bar(101.5, 103.5, 99, 100, 2), 2); len(again) != 0 {
		t.Fatalf("closed trade filled again: %d fills", len(again))
	}
}

func TestMarketExitSupersedesProtectives(t *testing.T) {
	b := New(DefaultConfig())
	if _, err := b.Submit(&Order{ContractID: "MES", TradeID: "trade-1", Side: SideBuy, Kind: KindMarket, Qty: 1, IsEntry: true}); err != nil {
		t.Fatalf("Submit entry: %v", err)
	}
	b.ProcessBar(bar(101, 101.5, 100.5, 101, 0), 0)

	stop, err := b.Submit(&Order{ContractID: "MES", TradeID: "trade-1", Side: SideSell, Kind: KindStop, Qty: 1, StopPrice: 99.5, IsExit: true, IsStopLoss: true})
	if err != nil {
		t.Fatalf("Submit stop: %v", err)
	}
	if _, err := b.Submit(&Order{ContractID: "MES", TradeID: "trade-1", Side: SideSell, Kind: KindMarket, Qty: 1, IsExit: true}); err != nil {
		t.Fatalf("Submit market exit: %v", err)
	}

	// The bar triggers the stop too, but the stop is first in submission
	// order, so the market exit cancels.
	filled := b.ProcessBar(bar(101.2, 101.3, 99, 100, 1), 1)

	var exits int
	for _, f := range filled {
		if f.IsExit {
			exits++
		}
	}
	if exits != 1 {
		t.Fatalf("exit fills = %d, expected 1", exits)
	}
	if filled[0].ID != stop.ID {
		t.Fatalf("filled exit = %s, expected the stop %s", filled[0].ID, stop.ID)
	}
	if trades := b.CompletedTrades("MES"); len(trades) != 1 {
		t.Fatalf("completed trades = %d, expected exactly 1", len(trades))
	}
}

func TestFlatPositionReopensOnNewFill(t *testing.T) {
	b := New(DefaultConfig())
	if _, err := b.Submit(&Order{ContractID: "MES", Side: SideBuy, Kind: KindMarket, Qty: 1}); err != nil {
		t.Fatalf("Submit long: %v", err)
	}
	b.ProcessBar(bar(100, 101, 99, 100, 0), 0)
	if _, err := b.Submit(&Order{ContractID: "MES", Side: SideSell, Kind: KindMarket, Qty: 1}); err != nil {
		t.Fatalf("Submit close: %v", err)
	}
	b.ProcessBar(bar(101, 102, 100, 101, 1), 1)
	if _, open := b.OpenPosition("MES"); open {
		t.Fatalf("position should be flat before the re-entry")
	}

	// After flat, an opposite-side entry must open a fresh position.
	if _, err := b.Submit(&Order{ContractID: "MES", Side: SideSell, Kind: KindMarket, Qty: 1}); err != nil {
		t.Fatalf("Submit short: %v", err)
	}
	b.ProcessBar(bar(102, 103, 101, 102, 2), 2)

	pos, open := b.OpenPosition("MES")
	if !open {
		t.Fatalf("expected an open position after re-entry from flat")
	}
	if pos.Side != SideSell || pos.Size != 1 || pos.AvgEntryPrice != 102 {
		t.Fatalf("position = %+v, expected 1-lot SELL at 102", pos)
	}
}
