package player

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/physics"
	"hamsterball/coordinator/internal/scheduler"
)

// AuthorityOption configures optional Authority behaviour.
type AuthorityOption func(*Authority)

// WithEffects attaches the visual effect collaborator.
func WithEffects(effects EffectSpawner) AuthorityOption {
	return func(a *Authority) { a.effects = effects }
}

// WithFinishRecorder attaches the match bookkeeping hook.
func WithFinishRecorder(recorder FinishRecorder) AuthorityOption {
	return func(a *Authority) { a.finish = recorder }
}

// WithRespawnTime overrides the delay before a dead player respawns.
func WithRespawnTime(delay time.Duration) AuthorityOption {
	return func(a *Authority) {
		if delay > 0 {
			a.respawnTime = delay
		}
	}
}

// WithStartPosition sets where the player spawns and resets to.
func WithStartPosition(position mgl64.Vec3) AuthorityOption {
	return func(a *Authority) { a.start = position }
}

// WithDeathObserver registers a callback fired when the death sequence starts.
func WithDeathObserver(fn func(State)) AuthorityOption {
	return func(a *Authority) { a.onDeath = fn }
}

// WithRespawnObserver registers a callback fired after a respawn completes.
func WithRespawnObserver(fn func(State)) AuthorityOption {
	return func(a *Authority) { a.onRespawn = fn }
}

// WithAuthorityLogger overrides the logger.
func WithAuthorityLogger(logger *logging.Logger) AuthorityOption {
	return func(a *Authority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Authority is the server's view of a player and the only writer of its state.
type Authority struct {
	state       State
	sim         physics.Simulator
	sched       *scheduler.Scheduler
	effects     EffectSpawner
	finish      FinishRecorder
	onDeath     func(State)
	onRespawn   func(State)
	start       mgl64.Vec3
	respawnTime time.Duration
	destroyed   bool
	logger      *logging.Logger
}

// NewAuthority spawns the player's body at the start position.
func NewAuthority(id string, slot int, sim physics.Simulator, sched *scheduler.Scheduler, opts ...AuthorityOption) *Authority {
	a := &Authority{
		sim:         sim,
		sched:       sched,
		respawnTime: DefaultRespawnTime,
		logger:      logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = a.logger.With(logging.String("player_id", id))
	a.state = newState(id, slot, a.start)
	a.sim.AddBody(id, a.start)
	a.sim.SetBodyFlags(id, physics.DynamicFlags)
	return a
}

// ID returns the connection identifier.
func (a *Authority) ID() string { return a.state.ID }

// Snapshot refreshes the physical fields and returns a copy of the state.
func (a *Authority) Snapshot() State {
	a.refresh()
	return a.state
}

// Destroyed reports whether the entity has been torn down.
func (a *Authority) Destroyed() bool { return a.destroyed }

// Hit applies damage and starts the death sequence the first time hit points reach zero.
func (a *Authority) Hit(amount int) {
	if a.destroyed || amount <= 0 {
		return
	}
	if a.state.HitPoints <= 0 || a.state.IsProcessingDeath {
		return
	}
	a.state.HitPoints -= amount
	if a.state.HitPoints <= 0 {
		a.EndGame()
	}
}

// EndGame freezes the body, hides it, spawns the death effect and schedules a respawn.
func (a *Authority) EndGame() {
	if a.destroyed || a.state.IsProcessingDeath {
		return
	}
	a.refresh()
	//1.- Leave the body where it died so observers see the effect before the respawn.
	if a.effects != nil {
		a.effects.SpawnEffect(EffectDeath, a.state.Position)
	}
	a.state.IsProcessingDeath = true
	a.state.Visible = false
	a.sim.SetKinematic(a.state.ID, true)
	//2.- Queue the respawn; the timer outlives the entity and checks it when it fires.
	a.sched.After(a.respawnTime, a.respawn)
	a.logger.Info("player died", logging.Int("hit_points", a.state.HitPoints))
	if a.onDeath != nil {
		a.onDeath(a.state)
	}
}

// ResetIfFallen is the soft fall path: below the kill plane the player is teleported to
// the start at no hit point cost. It reports whether a reset happened.
func (a *Authority) ResetIfFallen() bool {
	if a.destroyed || a.state.IsProcessingDeath {
		return false
	}
	a.refresh()
	if a.state.Position.Y() >= KillPlaneHeight {
		return false
	}
	a.ResetPosition()
	return true
}

// CheckHeightDeath is the hard fall path: below the kill plane the full death sequence
// runs. It overlaps with ResetIfFallen on purpose; callers choose the severity.
func (a *Authority) CheckHeightDeath() bool {
	if a.destroyed || a.state.IsProcessingDeath {
		return false
	}
	a.refresh()
	if a.state.Position.Y() >= KillPlaneHeight {
		return false
	}
	a.EndGame()
	return true
}

// MakeIntoSpectator switches every physics switch for the spectator role in one step.
// Applying the same flag twice leaves the entity unchanged.
func (a *Authority) MakeIntoSpectator(spectator bool) {
	if a.destroyed {
		return
	}
	a.state.IsSpectator = spectator
	a.sim.SetBodyFlags(a.state.ID, SpectatorFlags(spectator, a.state.IsProcessingDeath))
}

// HandleGoalCollision marks the goal as reached, resets to the start and notifies
// bookkeeping. Later contacts in the same match are ignored.
func (a *Authority) HandleGoalCollision() {
	if a.destroyed || a.state.ReachedGoal {
		return
	}
	a.state.ReachedGoal = true
	a.ResetPosition()
	a.logger.Info("player reached goal")
	if a.finish != nil {
		a.finish.RecordFinishTime(a.state.ID, a.sched.Now())
	}
}

// AddForce feeds a force into the body for the next physics step.
func (a *Authority) AddForce(force mgl64.Vec3) bool {
	if a.destroyed || !physics.IsFinite(force) {
		return false
	}
	a.sim.ApplyForce(a.state.ID, force)
	return true
}

// AddPosition moves a spectator directly. Non-spectators are refused.
func (a *Authority) AddPosition(delta mgl64.Vec3) bool {
	if a.destroyed || !a.state.IsSpectator || !physics.IsFinite(delta) {
		return false
	}
	a.sim.Translate(a.state.ID, delta)
	a.refresh()
	return true
}

// ResetPosition teleports the player to the start position.
func (a *Authority) ResetPosition() {
	if a.destroyed {
		return
	}
	a.sim.Teleport(a.state.ID, a.start)
	a.refresh()
}

// ZeroMomentum clears the body's velocity.
func (a *Authority) ZeroMomentum() {
	if a.destroyed {
		return
	}
	a.sim.ZeroMomentum(a.state.ID)
	a.refresh()
}

// Tick runs the per-tick kill plane check with the given policy.
func (a *Authority) Tick(policy FallPolicy) {
	if a.destroyed || a.state.IsProcessingDeath {
		return
	}
	switch policy {
	case FallHardDeath:
		a.CheckHeightDeath()
	default:
		a.ResetIfFallen()
	}
}

// ResetForMatch clears goal progress and restores health for a fresh match.
func (a *Authority) ResetForMatch() {
	if a.destroyed {
		return
	}
	a.state.ReachedGoal = false
	a.state.HitPoints = InitialHitPoints
	a.ResetPosition()
	a.ZeroMomentum()
}

// Destroy removes the body. Pending respawns become no-ops.
func (a *Authority) Destroy() {
	if a.destroyed {
		return
	}
	a.destroyed = true
	a.sim.RemoveBody(a.state.ID)
}

func (a *Authority) respawn() {
	if a.destroyed || !a.sim.HasBody(a.state.ID) {
		return
	}
	a.sim.Teleport(a.state.ID, a.start)
	a.sim.ZeroMomentum(a.state.ID)
	a.state.HitPoints = InitialHitPoints
	a.state.IsProcessingDeath = false
	a.state.Visible = true
	a.sim.SetBodyFlags(a.state.ID, SpectatorFlags(a.state.IsSpectator, false))
	a.refresh()
	a.logger.Info("player respawned")
	if a.onRespawn != nil {
		a.onRespawn(a.state)
	}
}

func (a *Authority) refresh() {
	if a.destroyed {
		return
	}
	a.state.Position = a.sim.Position(a.state.ID)
	a.state.Velocity = a.sim.Velocity(a.state.ID)
}
