package strategy

import "log"

// State is the lifecycle state of a strategy instance.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// lifecycle implements the shared state machine:
// uninitialized -> initialized -> started <-> stopped -> disposed.
// Invalid transitions log a warning and leave the state unchanged.
type lifecycle struct {
	name  string
	state State
}

func (l *lifecycle) initialize() bool {
	if l.state != StateUninitialized {
		log.Printf("strategy %s: initialize ignored in state %s", l.name, l.state)
		return false
	}
	l.state = StateInitialized
	return true
}

func (l *lifecycle) start() bool {
	if l.state != StateInitialized && l.state != StateStopped {
		log.Printf("strategy %s: start ignored in state %s", l.name, l.state)
		return false
	}
	l.state = StateStarted
	return true
}

func (l *lifecycle) stop() bool {
	if l.state != StateStarted {
		log.Printf("strategy %s: stop ignored in state %s", l.name, l.state)
		return false
	}
	l.state = StateStopped
	return true
}

// dispose force-stops a running strategy first; double-dispose is a no-op.
func (l *lifecycle) dispose() bool {
	if l.state == StateDisposed {
		log.Printf("strategy %s: dispose ignored, already disposed", l.name)
		return false
	}
	if l.state == StateStarted {
		l.state = StateStopped
	}
	l.state = StateDisposed
	return true
}

func (l *lifecycle) ready() bool {
	return l.state == StateStarted
}
