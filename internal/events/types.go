package events

// Topic enumerates message kinds inside the backtest core.
type Topic string

const (
	TopicBarReceived      Topic = "bar.received"
	TopicOrderSubmitted   Topic = "order.submitted"
	TopicOrderFilled      Topic = "order.filled"
	TopicOrderCancelled   Topic = "order.cancelled"
	TopicSignalGenerated  Topic = "signal.generated"
	TopicPositionOpened   Topic = "position.opened"
	TopicPositionClosed   Topic = "position.closed"
	TopicStrategyStarted  Topic = "strategy.started"
	TopicStrategyStopped  Topic = "strategy.stopped"
	TopicStrategyDisposed Topic = "strategy.disposed"
)

// Message is one delivered event. StrategyID is empty for bus-wide messages
// and set when the message is scoped to a single strategy instance.
type Message struct {
	Topic      Topic  `json:"topic"`
	StrategyID string `json:"strategy_id,omitempty"`
	Payload    any    `json:"payload"`
}
