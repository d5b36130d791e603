// Package fsm implements the pushdown state stack shared by the client and server roles.
//
// Only the top state is live. A state becomes live through Initialize when pushed, or
// through the optional Resume hook when the state covering it is popped; it stops
// being live through Teardown. Hooks run on the caller's goroutine and may re-enter
// the machine, for example a state swapping itself out from inside Update.
package fsm

import (
	"fmt"
	"sync/atomic"

	"hamsterball/coordinator/internal/logging"
)

// Kind is the nominal identity of a state variant.
type Kind string

// Empty is reported by CurrentState when the stack holds no states.
const Empty Kind = ""

// State is one unit of behaviour on a Machine.
type State interface {
	Kind() Kind
	Initialize()
	Update()
	Teardown()
}

// Resumer is implemented by states that need a hook when they are revealed by a pop.
type Resumer interface {
	Resume()
}

// TransitionFunc observes the top kind changing from one variant to another.
type TransitionFunc func(from, to Kind)

// Option configures optional Machine behaviour.
type Option func(*Machine)

// WithLogger attaches a logger used to report recovered hook panics.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTransitionObserver registers a callback fired after every change of the top kind.
func WithTransitionObserver(fn TransitionFunc) Option {
	return func(m *Machine) {
		if fn != nil {
			m.observers = append(m.observers, fn)
		}
	}
}

// Machine is a pushdown stack of states. It is not safe for concurrent mutation; the
// tick loop owns it. CurrentState may be read from any goroutine.
type Machine struct {
	name      string
	stack     []State
	logger    *logging.Logger
	observers []TransitionFunc
	current   atomic.Value
}

// NewMachine constructs an empty machine labelled with name for diagnostics.
func NewMachine(name string, opts ...Option) *Machine {
	m := &Machine{name: name, logger: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = m.logger.With(logging.String("machine", name))
	m.current.Store(Empty)
	return m
}

// Name reports the diagnostic label.
func (m *Machine) Name() string {
	if m == nil {
		return ""
	}
	return m.name
}

// PushState covers the current top with state and activates it.
func (m *Machine) PushState(state State) {
	if m == nil || state == nil {
		return
	}
	from := m.top()
	if from != nil {
		m.guard("teardown", from, from.Teardown)
	}
	m.stack = append(m.stack, state)
	m.guard("initialize", state, state.Initialize)
	m.publish()
}

// SwapState replaces the current top with state. No tick can observe the stack between
// the two halves because the tick loop is the only caller.
func (m *Machine) SwapState(state State) {
	if m == nil || state == nil {
		return
	}
	from := m.top()
	if from != nil {
		m.guard("teardown", from, from.Teardown)
		m.stack = m.stack[:len(m.stack)-1]
	}
	m.stack = append(m.stack, state)
	m.guard("initialize", state, state.Initialize)
	m.publish()
}

// PopState removes the top state. The revealed state is not initialized again; it
// receives Resume when it implements Resumer. Popping an empty stack does nothing.
func (m *Machine) PopState() {
	if m == nil {
		return
	}
	from := m.top()
	if from == nil {
		return
	}
	m.guard("teardown", from, from.Teardown)
	m.stack[len(m.stack)-1] = nil
	m.stack = m.stack[:len(m.stack)-1]
	if revealed, ok := m.top().(Resumer); ok {
		m.guard("resume", m.top(), revealed.Resume)
	}
	m.publish()
}

// Update delivers one tick to the top state only.
func (m *Machine) Update() {
	if m == nil {
		return
	}
	top := m.top()
	if top == nil {
		return
	}
	m.guard("update", top, top.Update)
}

// CurrentState returns the kind of the top state, or Empty.
func (m *Machine) CurrentState() Kind {
	if m == nil {
		return Empty
	}
	kind, _ := m.current.Load().(Kind)
	return kind
}

// Is reports whether the top state is of the given kind.
func (m *Machine) Is(kind Kind) bool {
	return m.CurrentState() == kind
}

// Depth reports how many states are stacked.
func (m *Machine) Depth() int {
	if m == nil {
		return 0
	}
	return len(m.stack)
}

func (m *Machine) top() State {
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1]
}

// publish reports the change from the last published kind. A hook that re-entered the
// machine has already published, so the outer call finds nothing new.
func (m *Machine) publish() {
	from := m.CurrentState()
	to := kindOf(m.top())
	m.current.Store(to)
	if from == to {
		return
	}
	for _, observer := range m.observers {
		observer(from, to)
	}
}

// guard runs a hook and contains any panic so the rest of the tick continues.
func (m *Machine) guard(hook string, state State, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state hook panicked",
				logging.String("hook", hook),
				logging.String("state", string(kindOf(state))),
				logging.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn()
}

func kindOf(state State) Kind {
	if state == nil {
		return Empty
	}
	return state.Kind()
}
