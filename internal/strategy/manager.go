package strategy

import (
	"fmt"
	"sync"

	"backtest-core/internal/events"
)

// Manager tracks every active strategy instance, enforces id uniqueness, and
// proxies lifecycle operations across the set. It also re-publishes bus-wide
// events onto per-strategy scopes so instances stay isolated from each other.
type Manager struct {
	mu         sync.Mutex
	bus        *events.Bus
	strategies map[string]Strategy
	order      []string
	unsubs     []func()
}

// NewManager creates a manager bound to a bus. The relay subscription stays
// alive for the manager's lifetime.
func NewManager(bus *events.Bus) *Manager {
	m := &Manager{
		bus:        bus,
		strategies: make(map[string]Strategy),
	}
	if bus != nil {
		for _, topic := range []events.Topic{events.TopicOrderFilled, events.TopicBarReceived} {
			m.unsubs = append(m.unsubs, bus.Subscribe(topic, m.relay))
		}
	}
	return m
}

// relay fans a bus-wide message out onto each registered strategy's scope.
// Already-scoped messages pass through untouched to avoid relay loops.
func (m *Manager) relay(msg events.Message) {
	if msg.StrategyID != "" {
		return
	}
	m.mu.Lock()
	ids := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, id := range ids {
		m.bus.PublishScoped(msg.Topic, id, msg.Payload)
	}
}

// Register adds a strategy instance. Ids must be unique across the set.
func (m *Manager) Register(s Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.strategies[s.ID()]; dup {
		return fmt.Errorf("manager: duplicate strategy id %s", s.ID())
	}
	m.strategies[s.ID()] = s
	m.order = append(m.order, s.ID())
	return nil
}

// Get returns a registered strategy by id.
func (m *Manager) Get(id string) (Strategy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	return s, ok
}

// List returns all registered strategies in registration order.
func (m *Manager) List() []Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Strategy, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.strategies[id])
	}
	return out
}

// InitializeAll / StartAll / StopAll / DisposeAll proxy the lifecycle across
// every registered instance, in registration order.

func (m *Manager) InitializeAll() {
	for _, s := range m.List() {
		s.Initialize()
	}
}

func (m *Manager) StartAll() {
	for _, s := range m.List() {
		s.Start()
	}
}

func (m *Manager) StopAll() {
	for _, s := range m.List() {
		s.Stop()
	}
}

func (m *Manager) DisposeAll() {
	for _, s := range m.List() {
		s.Dispose()
	}
	if m.bus != nil {
		for _, s := range m.List() {
			m.bus.DropScope(s.ID())
		}
	}
}

// Stop stops a single strategy by id; its own pending orders are cancelled by
// the strategy, scoped to its trade ids.
func (m *Manager) Stop(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown strategy id %s", id)
	}
	s.Stop()
	if m.bus != nil {
		m.bus.DropScope(id)
	}
	return nil
}

// Dispose disposes a single strategy and forgets it.
func (m *Manager) Dispose(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown strategy id %s", id)
	}
	s.Dispose()
	if m.bus != nil {
		m.bus.DropScope(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strategies, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close drops the manager's own relay subscriptions.
func (m *Manager) Close() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

// Snapshots returns presentation views of every strategy.
func (m *Manager) Snapshots() []Snapshot {
	strategies := m.List()
	out := make([]Snapshot, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, s.StateSnapshot())
	}
	return out
}
