// Package physics holds the rigid body collaborator the authoritative role drives.
package physics

import "github.com/go-gl/mathgl/mgl64"

// BodyFlags captures the physics switches toggled together when a player changes role.
type BodyFlags struct {
	Kinematic        bool
	DetectCollisions bool
	UseGravity       bool
}

// DynamicFlags is the default flag set of a freshly spawned player body.
var DynamicFlags = BodyFlags{DetectCollisions: true, UseGravity: true}

// Simulator is the opaque rigid body engine. Calls naming an unknown body are ignored.
type Simulator interface {
	AddBody(id string, position mgl64.Vec3)
	RemoveBody(id string)
	HasBody(id string) bool
	ApplyForce(id string, force mgl64.Vec3)
	Translate(id string, delta mgl64.Vec3)
	SetKinematic(id string, kinematic bool)
	SetBodyFlags(id string, flags BodyFlags)
	Flags(id string) BodyFlags
	Teleport(id string, position mgl64.Vec3)
	ZeroMomentum(id string)
	SetVelocity(id string, velocity mgl64.Vec3)
	Position(id string) mgl64.Vec3
	Velocity(id string) mgl64.Vec3
	Step(dt float64)
	GoalContacts() []string
}
