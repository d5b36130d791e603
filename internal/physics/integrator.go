package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ClampMagnitude scales vector down so its length does not exceed limit.
func ClampMagnitude(vector mgl64.Vec3, limit float64) mgl64.Vec3 {
	//1.- Skip clamping when the limit disables the guard.
	if !(limit > 0) {
		return vector
	}
	magnitudeSq := vector.LenSqr()
	if magnitudeSq == 0 || magnitudeSq <= limit*limit {
		return vector
	}
	//2.- Scale each axis uniformly so the resulting magnitude matches the limit.
	return vector.Mul(limit / math.Sqrt(magnitudeSq))
}

// IsFinite reports whether every component is a real number.
func IsFinite(vector mgl64.Vec3) bool {
	for _, component := range vector {
		if math.IsNaN(component) || math.IsInf(component, 0) {
			return false
		}
	}
	return true
}

// integrateBody advances a unit mass body with semi-implicit Euler.
func integrateBody(b *body, gravity mgl64.Vec3, maxVelocity, step float64) {
	//1.- Skip integration when the step is invalid or the body is driven directly.
	if b == nil || step <= 0 {
		return
	}
	if b.flags.Kinematic {
		b.force = mgl64.Vec3{}
		return
	}
	//2.- Accumulate this tick's forces and gravity into the velocity.
	acceleration := b.force
	if b.flags.UseGravity {
		acceleration = acceleration.Add(gravity)
	}
	b.velocity = ClampMagnitude(b.velocity.Add(acceleration.Mul(step)), maxVelocity)
	//3.- Advance the position and clear the force accumulator for the next tick.
	b.position = b.position.Add(b.velocity.Mul(step))
	b.force = mgl64.Vec3{}
}
