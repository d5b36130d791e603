// Package player models one participant as two role-typed views: Authority, owned by
// the server, and Mirror, held by clients and overwritten by every authoritative sync.
package player

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/physics"
)

const (
	// InitialHitPoints is the health every player spawns and respawns with.
	InitialHitPoints = 3
	// KillPlaneHeight is the world Y below which a player has fallen off the level.
	KillPlaneHeight = -10.0
	// MaxVelocity bounds a single force or position delta.
	MaxVelocity = 20.0
	// MaxVelocitySquared is compared against squared magnitudes to avoid a square root.
	MaxVelocitySquared = MaxVelocity * MaxVelocity
	// DefaultRespawnTime is the delay between a full death and the respawn.
	DefaultRespawnTime = time.Second
)

// EffectKind names a fire-and-forget visual effect.
type EffectKind string

// EffectDeath marks where a player died.
const EffectDeath EffectKind = "death"

// EffectSpawner renders one-shot effects; it never feeds state back.
type EffectSpawner interface {
	SpawnEffect(kind EffectKind, position mgl64.Vec3)
}

// FinishRecorder receives goal completions for match bookkeeping.
type FinishRecorder interface {
	RecordFinishTime(playerID string, at time.Duration)
}

// FallPolicy selects what crossing the kill plane does.
type FallPolicy int

const (
	// FallSoftReset teleports the player back to the start at no cost.
	FallSoftReset FallPolicy = iota
	// FallHardDeath runs the full death sequence.
	FallHardDeath
)

// Lifecycle is the informal per-player phase derived from the state flags.
type Lifecycle string

const (
	LifecycleActive          Lifecycle = "active"
	LifecycleProcessingDeath Lifecycle = "processing_death"
	LifecycleSpectating      Lifecycle = "spectating"
	LifecycleReachedGoal     Lifecycle = "reached_goal"
)

// State is the replicated data of one player.
type State struct {
	ID                string     `json:"id" msgpack:"id"`
	Slot              int        `json:"slot" msgpack:"slot"`
	Position          mgl64.Vec3 `json:"position" msgpack:"position"`
	Velocity          mgl64.Vec3 `json:"velocity" msgpack:"velocity"`
	HitPoints         int        `json:"hit_points" msgpack:"hit_points"`
	IsSpectator       bool       `json:"is_spectator" msgpack:"is_spectator"`
	IsProcessingDeath bool       `json:"is_processing_death" msgpack:"is_processing_death"`
	ReachedGoal       bool       `json:"reached_goal" msgpack:"reached_goal"`
	Visible           bool       `json:"visible" msgpack:"visible"`
}

// Lifecycle classifies the state; death dominates spectating, which dominates the goal.
func (s State) Lifecycle() Lifecycle {
	switch {
	case s.IsProcessingDeath:
		return LifecycleProcessingDeath
	case s.IsSpectator:
		return LifecycleSpectating
	case s.ReachedGoal:
		return LifecycleReachedGoal
	default:
		return LifecycleActive
	}
}

// SpectatorFlags returns the body switches for a spectator toggle. A body that is
// processing death stays kinematic regardless of the toggle.
func SpectatorFlags(spectator, processingDeath bool) physics.BodyFlags {
	return physics.BodyFlags{
		Kinematic:        spectator || processingDeath,
		DetectCollisions: !spectator,
		UseGravity:       !spectator,
	}
}

func newState(id string, slot int, start mgl64.Vec3) State {
	return State{
		ID:        id,
		Slot:      slot,
		Position:  start,
		HitPoints: InitialHitPoints,
		Visible:   true,
	}
}
