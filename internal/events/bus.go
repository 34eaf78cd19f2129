package events

import "sync"

// Handler receives one message. Handlers run on the publisher's goroutine:
// delivery is synchronous, in publish order, with no message loss.
type Handler func(Message)

// Bus is a typed pub/sub broker. Subscriptions are explicit handles with a
// returned unsubscribe closure; a subscription may additionally be scoped to
// one strategy id so instances never see each other's traffic.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic][]*subscription
}

type subscription struct {
	id         int
	strategyID string // empty = receive everything on the topic
	fn         Handler
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]*subscription)}
}

// Subscribe registers a handler for all messages on a topic and returns an
// unsubscribe function.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	return b.subscribe(topic, "", fn)
}

// SubscribeScoped registers a handler that only receives messages tagged
// with the given strategy id.
func (b *Bus) SubscribeScoped(topic Topic, strategyID string, fn Handler) func() {
	return b.subscribe(topic, strategyID, fn)
}

func (b *Bus) subscribe(topic Topic, strategyID string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, strategyID: strategyID, fn: fn}
	b.subs[topic] = append(b.subs[topic], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == sub.id {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers a bus-wide message to every unscoped subscriber of the
// topic, synchronously and in subscription order.
func (b *Bus) Publish(topic Topic, payload any) {
	b.deliver(Message{Topic: topic, Payload: payload})
}

// PublishScoped delivers a message onto one strategy's scope. Unscoped
// subscribers of the topic also see it.
func (b *Bus) PublishScoped(topic Topic, strategyID string, payload any) {
	b.deliver(Message{Topic: topic, StrategyID: strategyID, Payload: payload})
}

func (b *Bus) deliver(msg Message) {
	b.mu.RLock()
	subs := b.subs[msg.Topic]
	matched := make([]Handler, 0, len(subs))
	for _, s := range subs {
		if s.strategyID == "" || s.strategyID == msg.StrategyID {
			matched = append(matched, s.fn)
		}
	}
	b.mu.RUnlock()

	// Invoke outside the lock so handlers may publish or unsubscribe.
	for _, fn := range matched {
		fn(msg)
	}
}

// DropScope removes every subscription scoped to the strategy id, across all
// topics. Called on strategy stop/dispose to guarantee teardown.
func (b *Bus) DropScope(strategyID string) {
	if strategyID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.strategyID != strategyID {
				kept = append(kept, s)
			}
		}
		b.subs[topic] = kept
	}
}

// SubscriberCount returns how many subscriptions a topic has.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
