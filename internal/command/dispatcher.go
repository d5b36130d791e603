package command

import (
	"fmt"

	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/player"
)

// Role is the side of the session a dispatcher runs on.
type Role int

const (
	// RoleServer may apply commands to authoritative entities.
	RoleServer Role = iota
	// RoleClient must never apply commands.
	RoleClient
)

// Registry resolves connections and players for the dispatcher.
type Registry interface {
	Owner(connID string) (playerID string, ok bool)
	Authority(playerID string) (*player.Authority, bool)
}

// Result is the outcome of dispatching one command.
type Result struct {
	Applied bool
	Err     error
}

// DispatcherOption customises dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithGate orders and rate limits commands per connection.
func WithGate(gate *input.Gate) DispatcherOption {
	return func(d *Dispatcher) { d.gate = gate }
}

// WithValidator checks vectors before they reach an entity.
func WithValidator(validator *input.Validator) DispatcherOption {
	return func(d *Dispatcher) { d.validator = validator }
}

// WithDispatchObserver is called after every dispatch, applied or not.
func WithDispatchObserver(fn func(Inbound, Result)) DispatcherOption {
	return func(d *Dispatcher) { d.observer = fn }
}

// WithDispatcherLogger overrides the logger.
func WithDispatcherLogger(logger *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher routes inbound commands to the targeted authoritative entity.
type Dispatcher struct {
	role      Role
	registry  Registry
	gate      *input.Gate
	validator *input.Validator
	observer  func(Inbound, Result)
	logger    *logging.Logger
}

// NewDispatcher constructs a dispatcher bound to role.
func NewDispatcher(role Role, registry Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{role: role, registry: registry, logger: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch applies one command. Failures are returned in the Result and never panic.
func (d *Dispatcher) Dispatch(in Inbound) Result {
	result := d.dispatch(in)
	if result.Err != nil {
		d.logger.Debug("command not applied",
			logging.String("conn_id", in.ConnID),
			logging.String("kind", string(in.Command.Kind)),
			logging.Error(result.Err),
		)
	}
	if d.observer != nil {
		d.observer(in, result)
	}
	return result
}

func (d *Dispatcher) dispatch(in Inbound) Result {
	cmd := in.Command
	//1.- Only the authoritative role may touch entity state.
	if d.role != RoleServer {
		return Result{Err: ErrNotAuthoritative}
	}
	if !cmd.Kind.Valid() {
		return Result{Err: fmt.Errorf("%w: %q", ErrUnknownKind, cmd.Kind)}
	}
	//2.- A connection may only drive the player it joined as.
	owned, ok := d.registry.Owner(in.ConnID)
	if !ok || owned != cmd.PlayerID {
		return Result{Err: fmt.Errorf("%w: %s -> %s", ErrNotOwner, in.ConnID, cmd.PlayerID)}
	}
	entity, ok := d.registry.Authority(cmd.PlayerID)
	if !ok {
		return Result{Err: fmt.Errorf("%w: %s", ErrUnknownPlayer, cmd.PlayerID)}
	}
	//3.- Drop duplicates and floods before any validation cost.
	if decision := d.gate.Evaluate(input.Frame{ClientID: in.ConnID, SequenceID: cmd.Sequence}); !decision.Accepted {
		return Result{Err: fmt.Errorf("%w: %s", ErrDropped, decision.Reason)}
	}
	//4.- Vector commands are discarded whole when any component is bad.
	if cmd.Kind.CarriesVector() {
		if decision := d.validator.Validate(cmd.PlayerID, cmd.Vector); !decision.Accepted {
			return Result{Err: fmt.Errorf("%w: %s", input.ErrRejected, decision.Reason)}
		}
	}
	switch cmd.Kind {
	case KindAddForce:
		if !entity.AddForce(cmd.Vector) {
			return Result{Err: fmt.Errorf("%w: force refused", input.ErrRejected)}
		}
	case KindAddPosition:
		if !entity.AddPosition(cmd.Vector) {
			return Result{Err: fmt.Errorf("%w: position delta requires spectator", input.ErrRejected)}
		}
	case KindResetPosition:
		entity.ResetPosition()
	case KindZeroMomentum:
		entity.ZeroMomentum()
	case KindSetSpectator:
		entity.MakeIntoSpectator(cmd.Flag)
	}
	return Result{Applied: true}
}
