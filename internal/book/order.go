package book

import "time"

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buy, -1 for sell.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Opposite returns the inverse side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Kind is the order type.
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
	KindStop   Kind = "STOP"
)

// Status is the order lifecycle state. Transitions are one-way:
// pending -> filled or pending -> cancelled, both terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// Order is a simulated order owned by the book. Once filled or cancelled
// it is immutable; query methods hand out copies.
type Order struct {
	ID         string  `json:"id"`
	ContractID string  `json:"contract_id"`
	TradeID    string  `json:"trade_id,omitempty"`
	Side       Side    `json:"side"`
	Kind       Kind    `json:"kind"`
	Qty        float64 `json:"qty"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	StopPrice  float64 `json:"stop_price,omitempty"`

	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
	FillPrice   float64    `json:"fill_price,omitempty"`
	FillQty     float64    `json:"fill_qty,omitempty"`
	Commission  float64    `json:"commission,omitempty"`

	IsEntry      bool `json:"is_entry,omitempty"`
	IsExit       bool `json:"is_exit,omitempty"`
	IsStopLoss   bool `json:"is_stop_loss,omitempty"`
	IsTakeProfit bool `json:"is_take_profit,omitempty"`

	// Bar index current when the order was submitted; fills start next bar.
	submittedBar int
}

// Terminal reports whether the order can no longer change state.
func (o *Order) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}
