package signal

import "fmt"

// Type is the direction of a confirmed trend-change signal.
type Type string

const (
	TypeUptrendStart   Type = "uptrend_start"
	TypeDowntrendStart Type = "downtrend_start"
)

// TrendSignal marks a detected reversal in price direction at one bar.
type TrendSignal struct {
	Type       Type    `json:"signalType"`
	BarIndex   int     `json:"barIndex"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	Rule       string  `json:"ruleType"`
}

// Key uniquely identifies a signal; the detector cache guarantees no two
// reported signals share a key.
func (s TrendSignal) Key() string {
	return fmt.Sprintf("%d|%s|%s", s.BarIndex, s.Type, s.Rule)
}
