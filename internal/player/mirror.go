package player

import (
	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/physics"
)

// Mirror is a client's copy of a player. Only the locally controlled player carries a
// predicted overlay; every other mirror changes solely through ApplySync.
type Mirror struct {
	state    State
	local    bool
	sim      physics.Simulator
	lastTick uint64
}

// NewMirror creates a read-only mirror for a remote player.
func NewMirror(state State) *Mirror {
	return &Mirror{state: state}
}

// NewLocalMirror creates the mirror for the locally controlled player, predicting
// against sim.
func NewLocalMirror(state State, sim physics.Simulator) *Mirror {
	m := &Mirror{state: state, local: sim != nil, sim: sim}
	if m.local {
		m.sim.AddBody(state.ID, state.Position)
		m.sim.SetBodyFlags(state.ID, SpectatorFlags(state.IsSpectator, state.IsProcessingDeath))
	}
	return m
}

// ID returns the player identifier.
func (m *Mirror) ID() string { return m.state.ID }

// Local reports whether this mirror predicts input.
func (m *Mirror) Local() bool { return m.local }

// State returns the mirrored data, with the predicted position for the local player.
func (m *Mirror) State() State {
	out := m.state
	if m.local {
		out.Position = m.sim.Position(m.state.ID)
		out.Velocity = m.sim.Velocity(m.state.ID)
	}
	return out
}

// IsSpectator reports the mirrored or predicted spectator flag.
func (m *Mirror) IsSpectator() bool { return m.state.IsSpectator }

// IsProcessingDeath reports the mirrored death flag.
func (m *Mirror) IsProcessingDeath() bool { return m.state.IsProcessingDeath }

// LastTick is the server tick of the most recent sync applied.
func (m *Mirror) LastTick() uint64 { return m.lastTick }

// ApplySync overwrites the mirror with authoritative data. The last message applied
// wins; prediction is discarded without resimulation.
func (m *Mirror) ApplySync(tick uint64, authoritative State) {
	m.lastTick = tick
	m.state = authoritative
	if !m.local {
		return
	}
	m.sim.Teleport(authoritative.ID, authoritative.Position)
	m.sim.SetVelocity(authoritative.ID, authoritative.Velocity)
	m.sim.SetBodyFlags(authoritative.ID, SpectatorFlags(authoritative.IsSpectator, authoritative.IsProcessingDeath))
}

// PredictForce applies the player's own force locally ahead of confirmation.
func (m *Mirror) PredictForce(force mgl64.Vec3) bool {
	if !m.local || !physics.IsFinite(force) {
		return false
	}
	m.sim.ApplyForce(m.state.ID, force)
	return true
}

// PredictPosition moves a spectating local player ahead of confirmation.
func (m *Mirror) PredictPosition(delta mgl64.Vec3) bool {
	if !m.local || !m.state.IsSpectator || !physics.IsFinite(delta) {
		return false
	}
	m.sim.Translate(m.state.ID, delta)
	return true
}

// PredictReset teleports the local player to start.
func (m *Mirror) PredictReset(start mgl64.Vec3) {
	if m.local {
		m.sim.Teleport(m.state.ID, start)
	}
}

// PredictZeroMomentum clears the local player's velocity.
func (m *Mirror) PredictZeroMomentum() {
	if m.local {
		m.sim.ZeroMomentum(m.state.ID)
	}
}

// PredictSpectator applies a spectator toggle locally before the server confirms it.
func (m *Mirror) PredictSpectator(spectator bool) {
	if !m.local {
		return
	}
	m.state.IsSpectator = spectator
	m.sim.SetBodyFlags(m.state.ID, SpectatorFlags(spectator, m.state.IsProcessingDeath))
}

// Flags exposes the predicted body switches of the local player.
func (m *Mirror) Flags() physics.BodyFlags {
	if !m.local {
		return SpectatorFlags(m.state.IsSpectator, m.state.IsProcessingDeath)
	}
	return m.sim.Flags(m.state.ID)
}

// Release removes the predicted body.
func (m *Mirror) Release() {
	if m.local {
		m.sim.RemoveBody(m.state.ID)
	}
}
