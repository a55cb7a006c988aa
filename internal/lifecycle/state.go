package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type State int

const (
	Validating State = iota
	Invoking
	Supervising
	Parsing
	Materializing
	Serving
	Cleaned
	Failed
)

func (s State) String() string {
	switch s {
	case Validating:
		return "Validating"
	case Invoking:
		return "Invoking"
	case Supervising:
		return "Supervising"
	case Parsing:
		return "Parsing"
	case Materializing:
		return "Materializing"
	case Serving:
		return "Serving"
	case Cleaned:
		return "Cleaned"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == Cleaned || s == Failed
}

func isAllowedTransition(from, to State) bool {
	if to == Failed {
		return !from.IsTerminal()
	}
	switch from {
	case Validating:
		return to == Invoking
	case Invoking:
		return to == Supervising
	case Supervising:
		return to == Parsing
	case Parsing:
		// read-only operations end here
		return to == Materializing || to == Cleaned
	case Materializing:
		return to == Serving
	case Serving:
		return to == Cleaned
	default:
		return false
	}
}

// TransitionFunc observes every state change of a request.
type TransitionFunc func(id string, from, to State)

// machine tracks the state of one request.
type machine struct {
	mx    sync.Mutex
	id    string
	state State
	hook  TransitionFunc
}

func newMachine(id string, hook TransitionFunc) *machine {
	return &machine{id: id, state: Validating, hook: hook}
}

func (m *machine) State() State {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.state
}

// to performs a validated transition.
func (m *machine) to(ctx context.Context, next State) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	from := m.state
	if !isAllowedTransition(from, next) {
		return fmt.Errorf("disallowed transition for %s: %s -> %s", m.id, from, next)
	}
	m.state = next
	slog.DebugContext(ctx, "state", "from", from.String(), "to", next.String())
	if m.hook != nil {
		m.hook(m.id, from, next)
	}
	return nil
}

// fail enters Failed unless the request already reached a terminal state.
// It reports whether the transition happened.
func (m *machine) fail(ctx context.Context) bool {
	return m.to(ctx, Failed) == nil
}
