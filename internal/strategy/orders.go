package strategy

import (
	"log"

	"backtest-core/internal/book"
	"backtest-core/internal/events"
)

// orderDesk bundles order creation for one strategy instance: entry orders,
// protective stop/limit pairs, and market exits. Composed into strategies so
// the placement rules live in exactly one place.
type orderDesk struct {
	book       *book.OrderBook
	bus        *events.Bus
	strategyID string
	contractID string
}

func (d *orderDesk) submit(o *book.Order) *book.Order {
	placed, err := d.book.Submit(o)
	if err != nil {
		log.Printf("strategy %s: order rejected: %v", d.strategyID, err)
		return nil
	}
	if d.bus != nil {
		d.bus.PublishScoped(events.TopicOrderSubmitted, d.strategyID, *placed)
	}
	return placed
}

// marketEntry submits the opening market order for a conceptual trade.
func (d *orderDesk) marketEntry(tradeID string, side book.Side, qty float64) *book.Order {
	return d.submit(&book.Order{
		ContractID: d.contractID,
		TradeID:    tradeID,
		Side:       side,
		Kind:       book.KindMarket,
		Qty:        qty,
		IsEntry:    true,
	})
}

// marketExit submits a closing market order sized to the open position.
func (d *orderDesk) marketExit(tradeID string, side book.Side, qty float64) *book.Order {
	return d.submit(&book.Order{
		ContractID: d.contractID,
		TradeID:    tradeID,
		Side:       side,
		Kind:       book.KindMarket,
		Qty:        qty,
		IsExit:     true,
	})
}

// placeProtective attaches the stop-loss / take-profit pair to an open trade.
// Idempotent per trade: an order slot already linked on the trade is never
// placed again, even if the entry-fill hook fires twice.
func (d *orderDesk) placeProtective(trade *SimulatedTrade) {
	exitSide := trade.Side.Opposite()

	if trade.StopLossOrderID == "" && trade.plannedStop > 0 {
		if o := d.submit(&book.Order{
			ContractID: d.contractID,
			TradeID:    trade.ID,
			Side:       exitSide,
			Kind:       book.KindStop,
			Qty:        trade.Size,
			StopPrice:  trade.plannedStop,
			IsExit:     true,
			IsStopLoss: true,
		}); o != nil {
			trade.StopLossOrderID = o.ID
		}
	}

	if trade.TakeProfitOrderID == "" && trade.plannedTarget > 0 {
		if o := d.submit(&book.Order{
			ContractID:   d.contractID,
			TradeID:      trade.ID,
			Side:         exitSide,
			Kind:         book.KindLimit,
			Qty:          trade.Size,
			LimitPrice:   trade.plannedTarget,
			IsExit:       true,
			IsTakeProfit: true,
		}); o != nil {
			trade.TakeProfitOrderID = o.ID
		}
	}
}

// cancelSibling cancels the surviving protective order once its counterpart
// filled, so a closed trade leaves nothing pending.
func (d *orderDesk) cancelSibling(trade *SimulatedTrade, filledOrderID string) {
	for _, id := range []string{trade.StopLossOrderID, trade.TakeProfitOrderID} {
		if id == "" || id == filledOrderID {
			continue
		}
		if d.book.Cancel(id) && d.bus != nil {
			if o, ok := d.book.Order(id); ok {
				d.bus.PublishScoped(events.TopicOrderCancelled, d.strategyID, o)
			}
		}
	}
}
