// Package movement turns local input into commands for the server and predicts their
// effect on the local player until the next authoritative sync overwrites it.
package movement

import (
	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/player"
)

const (
	// TimeScale converts raw input into a per-frame quantity at the reference 60 Hz.
	TimeScale = 1.0 / 60.0
	// ElapsedEpsilon is the smallest frame time that is divided by; shorter frames yield zero.
	ElapsedEpsilon = 0.01
	// PositionDelta scales spectator flight speed.
	PositionDelta = 0.15
	// ProtocolVersionThreshold is the first peer version using the Y-up input mapping.
	ProtocolVersionThreshold = 1.20190212
)

// VersionQuery reports the negotiated protocol version of a peer.
type VersionQuery interface {
	GetPeerProtocolVersion(playerID string) float64
}

// VersionFunc adapts a function into a VersionQuery.
type VersionFunc func(playerID string) float64

// GetPeerProtocolVersion implements VersionQuery.
func (f VersionFunc) GetPeerProtocolVersion(playerID string) float64 { return f(playerID) }

// MapAxes lifts 2D input into world axes. Current peers map input onto the ground
// plane (x, 0, y); legacy peers keep the old z-up mapping (x, y, 0).
func MapAxes(in mgl64.Vec2, version float64) mgl64.Vec3 {
	if version >= ProtocolVersionThreshold {
		return mgl64.Vec3{in.X(), 0, in.Y()}
	}
	return mgl64.Vec3{in.X(), in.Y(), 0}
}

// FrameScale returns the multiplier that makes per-tick input frame rate independent,
// or zero when elapsed is too small to divide by.
func FrameScale(elapsed float64) float64 {
	if elapsed <= ElapsedEpsilon {
		return 0
	}
	return TimeScale / elapsed
}

// Outcome describes what one reconciler tick did.
type Outcome struct {
	Sent      []command.Command
	Predicted bool
	Rejected  input.ValidationReason
	Skipped   bool
}

// Option customises reconciler construction.
type Option func(*Reconciler)

// WithVersions sets the protocol version source; without it the local version is used.
func WithVersions(versions VersionQuery) Option {
	return func(r *Reconciler) { r.versions = versions }
}

// WithStartPosition sets the position predicted for reset actions.
func WithStartPosition(position mgl64.Vec3) Option {
	return func(r *Reconciler) { r.start = position }
}

// WithLogger overrides the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reconciler drives the locally controlled player.
type Reconciler struct {
	mirror    *player.Mirror
	source    input.Source
	sender    command.Sender
	versions  VersionQuery
	validator *input.Validator
	start     mgl64.Vec3
	sequence  uint64
	logger    *logging.Logger
}

// New constructs a reconciler for the player behind mirror.
func New(mirror *player.Mirror, source input.Source, sender command.Sender, opts ...Option) *Reconciler {
	r := &Reconciler{
		mirror: mirror,
		source: source,
		sender: sender,
		logger: logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = r.logger.With(logging.String("player_id", mirror.ID()))
	r.validator = input.NewValidator(input.ClientConstraints, r.logger)
	return r
}

// Mirror returns the predicted local player.
func (r *Reconciler) Mirror() *player.Mirror { return r.mirror }

// Validator exposes the client side rejection counters.
func (r *Reconciler) Validator() *input.Validator { return r.validator }

// Tick reads input once and emits at most one movement command plus any actions.
// elapsed is the real time since the previous tick in seconds.
func (r *Reconciler) Tick(elapsed float64) Outcome {
	var out Outcome
	if r == nil || r.mirror == nil || r.source == nil {
		return Outcome{Skipped: true}
	}
	id := r.mirror.ID()

	//1.- Buttons first: the spectator toggle stays available while dying.
	var actions input.Actions
	if poller, ok := r.source.(input.ActionSource); ok {
		actions = poller.PollActions()
	}
	if actions.ToggleSpectator {
		next := !r.mirror.IsSpectator()
		r.send(&out, command.SetSpectator(id, next))
		r.mirror.PredictSpectator(next)
	}
	if r.mirror.IsProcessingDeath() {
		out.Skipped = true
		return out
	}
	if r.mirror.IsSpectator() {
		r.spectatorActions(&out, actions)
	}

	//2.- Scale the raw vector so the result is independent of the frame rate.
	raw := r.source.GetInputVector()
	scaled := raw.Mul(FrameScale(elapsed))

	//3.- Map into world axes through the explicit protocol version branch.
	vector := MapAxes(scaled, r.version(id))
	kind := command.KindAddForce
	if r.mirror.IsSpectator() {
		vector = r.spectatorDelta(raw, elapsed)
		kind = command.KindAddPosition
	}

	//4.- Discard the whole vector when it is noise, non-finite or oversized.
	if decision := r.validator.Validate(id, vector); !decision.Accepted {
		out.Rejected = decision.Reason
		return out
	}

	//5.- Tell the server and move locally at once; the next sync has the final word.
	if kind == command.KindAddPosition {
		r.send(&out, command.AddPosition(id, vector))
		out.Predicted = r.mirror.PredictPosition(vector)
	} else {
		r.send(&out, command.AddForce(id, vector))
		out.Predicted = r.mirror.PredictForce(vector)
	}
	return out
}

// Reconcile overwrites the local prediction with the authoritative entry for this player.
func (r *Reconciler) Reconcile(sync command.PlayerStateSync) bool {
	if r == nil || r.mirror == nil || sync.ID != r.mirror.ID() {
		return false
	}
	r.mirror.ApplySync(sync.Tick, sync.State)
	return true
}

func (r *Reconciler) spectatorActions(out *Outcome, actions input.Actions) {
	id := r.mirror.ID()
	switch {
	case actions.ResetPosition:
		r.send(out, command.ResetPosition(id))
		r.mirror.PredictReset(r.start)
		r.send(out, command.ZeroMomentum(id))
		r.mirror.PredictZeroMomentum()
	case actions.ZeroMomentum:
		r.send(out, command.ZeroMomentum(id))
		r.mirror.PredictZeroMomentum()
	}
}

// spectatorDelta converts input into a camera relative flight step on the ground plane,
// plus an optional vertical component.
func (r *Reconciler) spectatorDelta(raw mgl64.Vec2, elapsed float64) mgl64.Vec3 {
	if elapsed <= ElapsedEpsilon {
		return mgl64.Vec3{}
	}
	speed := TimeScale * PositionDelta / elapsed
	forward, right := mgl64.Vec3{0, 0, 1}, mgl64.Vec3{1, 0, 0}
	if rig, ok := r.source.(input.CameraRig); ok {
		forward, right = rig.CameraAxes()
	}
	delta := flatten(forward).Mul(raw.Y() * speed).Add(flatten(right).Mul(raw.X() * speed))
	if elevator, ok := r.source.(input.Elevator); ok {
		delta[1] = elevator.Elevation() * speed
	}
	return delta
}

func (r *Reconciler) version(playerID string) float64 {
	if r.versions == nil {
		return ProtocolVersionThreshold
	}
	return r.versions.GetPeerProtocolVersion(playerID)
}

func (r *Reconciler) send(out *Outcome, cmd command.Command) {
	r.sequence++
	cmd.Sequence = r.sequence
	if r.sender == nil {
		return
	}
	if err := r.sender.Send(cmd); err != nil {
		r.logger.Debug("command not sent", logging.String("kind", string(cmd.Kind)), logging.Error(err))
		return
	}
	out.Sent = append(out.Sent, cmd)
}

// flatten projects axis onto the ground plane and normalizes it.
func flatten(axis mgl64.Vec3) mgl64.Vec3 {
	axis[1] = 0
	if axis.LenSqr() == 0 {
		return mgl64.Vec3{}
	}
	return axis.Normalize()
}
