package physics

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// DefaultMaxVelocity caps body speed in metres per second.
	DefaultMaxVelocity = 20.0
	// BodyRadius is the collision radius of a player ball.
	BodyRadius = 0.5
)

// DefaultGravity pulls bodies down the world Y axis.
var DefaultGravity = mgl64.Vec3{0, -9.81, 0}

// Volume is an axis aligned box in world space.
type Volume struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// Contains reports whether point lies inside the box, boundaries included.
func (v Volume) Contains(point mgl64.Vec3) bool {
	for axis := 0; axis < 3; axis++ {
		if point[axis] < v.Min[axis] || point[axis] > v.Max[axis] {
			return false
		}
	}
	return true
}

type body struct {
	position mgl64.Vec3
	velocity mgl64.Vec3
	force    mgl64.Vec3
	flags    BodyFlags
}

// WorldOption configures optional World behaviour.
type WorldOption func(*World)

// WithGravity overrides the gravity vector.
func WithGravity(gravity mgl64.Vec3) WorldOption {
	return func(w *World) { w.gravity = gravity }
}

// WithMaxVelocity overrides the body speed cap.
func WithMaxVelocity(limit float64) WorldOption {
	return func(w *World) {
		if limit > 0 {
			w.maxVelocity = limit
		}
	}
}

// WithPlatforms registers static floors that stop falling bodies.
func WithPlatforms(platforms ...Volume) WorldOption {
	return func(w *World) { w.platforms = append(w.platforms, platforms...) }
}

// WithGoals registers goal volumes reported through GoalContacts.
func WithGoals(goals ...Volume) WorldOption {
	return func(w *World) { w.goals = append(w.goals, goals...) }
}

// World is a small Euler-integrated rigid body simulator for ball players.
type World struct {
	bodies      map[string]*body
	gravity     mgl64.Vec3
	maxVelocity float64
	platforms   []Volume
	goals       []Volume
	contacts    []string
}

var _ Simulator = (*World)(nil)

// NewWorld constructs an empty world.
func NewWorld(opts ...WorldOption) *World {
	w := &World{
		bodies:      make(map[string]*body),
		gravity:     DefaultGravity,
		maxVelocity: DefaultMaxVelocity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// AddBody spawns a dynamic body at position, replacing any existing body with that id.
func (w *World) AddBody(id string, position mgl64.Vec3) {
	w.bodies[id] = &body{position: position, flags: DynamicFlags}
}

// RemoveBody deletes a body.
func (w *World) RemoveBody(id string) { delete(w.bodies, id) }

// HasBody reports whether id names a live body.
func (w *World) HasBody(id string) bool {
	_, ok := w.bodies[id]
	return ok
}

// ApplyForce adds force to the body's accumulator for the next step.
func (w *World) ApplyForce(id string, force mgl64.Vec3) {
	if b, ok := w.bodies[id]; ok {
		b.force = b.force.Add(force)
	}
}

// Translate moves the body directly, bypassing integration.
func (w *World) Translate(id string, delta mgl64.Vec3) {
	if b, ok := w.bodies[id]; ok {
		b.position = b.position.Add(delta)
	}
}

// SetKinematic toggles whether the body ignores forces and gravity.
func (w *World) SetKinematic(id string, kinematic bool) {
	if b, ok := w.bodies[id]; ok {
		b.flags.Kinematic = kinematic
	}
}

// SetBodyFlags replaces every physics switch in one call.
func (w *World) SetBodyFlags(id string, flags BodyFlags) {
	if b, ok := w.bodies[id]; ok {
		b.flags = flags
	}
}

// Flags returns the body's current switches.
func (w *World) Flags(id string) BodyFlags {
	if b, ok := w.bodies[id]; ok {
		return b.flags
	}
	return BodyFlags{}
}

// Teleport places the body at position without touching its velocity.
func (w *World) Teleport(id string, position mgl64.Vec3) {
	if b, ok := w.bodies[id]; ok {
		b.position = position
	}
}

// ZeroMomentum clears velocity and pending force.
func (w *World) ZeroMomentum(id string) {
	if b, ok := w.bodies[id]; ok {
		b.velocity = mgl64.Vec3{}
		b.force = mgl64.Vec3{}
	}
}

// SetVelocity overwrites the body's velocity.
func (w *World) SetVelocity(id string, velocity mgl64.Vec3) {
	if b, ok := w.bodies[id]; ok {
		b.velocity = velocity
	}
}

// Position returns the body's position or the origin for unknown ids.
func (w *World) Position(id string) mgl64.Vec3 {
	if b, ok := w.bodies[id]; ok {
		return b.position
	}
	return mgl64.Vec3{}
}

// Velocity returns the body's velocity or zero for unknown ids.
func (w *World) Velocity(id string) mgl64.Vec3 {
	if b, ok := w.bodies[id]; ok {
		return b.velocity
	}
	return mgl64.Vec3{}
}

// Step integrates every body by dt seconds and refreshes goal contacts.
func (w *World) Step(dt float64) {
	w.contacts = w.contacts[:0]
	if dt <= 0 {
		return
	}
	ids := make([]string, 0, len(w.bodies))
	for id := range w.bodies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b := w.bodies[id]
		previous := b.position
		integrateBody(b, w.gravity, w.maxVelocity, dt)
		if !b.flags.DetectCollisions {
			continue
		}
		w.landOnPlatforms(b, previous)
		for _, goal := range w.goals {
			if goal.Contains(b.position) {
				w.contacts = append(w.contacts, id)
				break
			}
		}
	}
}

// GoalContacts lists bodies that touched a goal volume during the last step.
func (w *World) GoalContacts() []string {
	if len(w.contacts) == 0 {
		return nil
	}
	out := make([]string, len(w.contacts))
	copy(out, w.contacts)
	return out
}

func (w *World) landOnPlatforms(b *body, previous mgl64.Vec3) {
	for _, platform := range w.platforms {
		top := platform.Max.Y()
		//1.- A body resting up to one radius into the top still counts as standing on it.
		if previous.Y()-BodyRadius < top-BodyRadius || b.position.Y()-BodyRadius >= top {
			continue
		}
		x, z := b.position.X(), b.position.Z()
		if x < platform.Min.X() || x > platform.Max.X() || z < platform.Min.Z() || z > platform.Max.Z() {
			continue
		}
		b.position[1] = top + BodyRadius
		if b.velocity.Y() < 0 {
			b.velocity[1] = 0
		}
		return
	}
}
