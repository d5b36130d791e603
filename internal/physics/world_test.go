package physics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestStepIntegratesForceAndClearsAccumulator(t *testing.T) {
	w := NewWorld(WithGravity(mgl64.Vec3{}))
	w.AddBody("p1", mgl64.Vec3{})

	w.ApplyForce("p1", mgl64.Vec3{2, 0, 0})
	w.Step(0.5)
	if v := w.Velocity("p1"); math.Abs(v.X()-1) > 1e-9 {
		t.Fatalf("unexpected velocity %v", v)
	}
	if p := w.Position("p1"); math.Abs(p.X()-0.5) > 1e-9 {
		t.Fatalf("unexpected position %v", p)
	}

	w.Step(0.5)
	if v := w.Velocity("p1"); math.Abs(v.X()-1) > 1e-9 {
		t.Fatalf("force should not persist across steps, velocity %v", v)
	}
}

func TestVelocityIsClampedToMaximum(t *testing.T) {
	w := NewWorld(WithGravity(mgl64.Vec3{}))
	w.AddBody("p1", mgl64.Vec3{})
	w.ApplyForce("p1", mgl64.Vec3{0, 0, 1000})
	w.Step(1)
	if speed := w.Velocity("p1").Len(); math.Abs(speed-DefaultMaxVelocity) > 1e-9 {
		t.Fatalf("expected clamped speed %.1f, got %.3f", DefaultMaxVelocity, speed)
	}
}

func TestKinematicBodyIgnoresForcesAndGravity(t *testing.T) {
	w := NewWorld()
	w.AddBody("spec", mgl64.Vec3{0, 5, 0})
	w.SetBodyFlags("spec", BodyFlags{Kinematic: true})
	w.ApplyForce("spec", mgl64.Vec3{10, 0, 0})
	w.Step(1)
	if p := w.Position("spec"); p != (mgl64.Vec3{0, 5, 0}) {
		t.Fatalf("kinematic body moved to %v", p)
	}
	w.Translate("spec", mgl64.Vec3{1, 1, 1})
	if p := w.Position("spec"); p != (mgl64.Vec3{1, 6, 1}) {
		t.Fatalf("translate should move kinematic body, got %v", p)
	}
}

func TestPlatformStopsFallingBody(t *testing.T) {
	floor := Volume{Min: mgl64.Vec3{-10, -1, -10}, Max: mgl64.Vec3{10, 0, 10}}
	w := NewWorld(WithPlatforms(floor))
	w.AddBody("p1", mgl64.Vec3{0, 1, 0})
	for i := 0; i < 120; i++ {
		w.Step(1.0 / 60)
	}
	if y := w.Position("p1").Y(); math.Abs(y-BodyRadius) > 1e-9 {
		t.Fatalf("expected body resting on floor at %.2f, got %.4f", BodyRadius, y)
	}
}

func TestBodyStartingOnTheFloorStaysOnIt(t *testing.T) {
	floor := Volume{Min: mgl64.Vec3{-20, -1, -20}, Max: mgl64.Vec3{20, 0, 60}}
	for name, start := range map[string]mgl64.Vec3{
		"resting":  {0, BodyRadius, 0},
		"embedded": {0, 0, 0},
	} {
		w := NewWorld(WithPlatforms(floor))
		w.AddBody("p1", start)
		for i := 0; i < 120; i++ {
			w.Step(1.0 / 60)
		}
		if y := w.Position("p1").Y(); math.Abs(y-BodyRadius) > 1e-9 {
			t.Fatalf("%s: expected body on the floor at %.2f, got %.4f", name, BodyRadius, y)
		}
	}
}

func TestBodyBelowThePlatformKeepsFalling(t *testing.T) {
	floor := Volume{Min: mgl64.Vec3{-10, -1, -10}, Max: mgl64.Vec3{10, 0, 10}}
	w := NewWorld(WithPlatforms(floor))
	w.AddBody("p1", mgl64.Vec3{0, -2, 0})
	for i := 0; i < 60; i++ {
		w.Step(1.0 / 60)
	}
	if y := w.Position("p1").Y(); y >= -2 {
		t.Fatalf("a body under the floor must not be lifted onto it, got %.4f", y)
	}
}

func TestGoalContactsRequireCollisionDetection(t *testing.T) {
	goal := Volume{Min: mgl64.Vec3{-1, -1, -1}, Max: mgl64.Vec3{1, 1, 1}}
	w := NewWorld(WithGravity(mgl64.Vec3{}), WithGoals(goal))
	w.AddBody("runner", mgl64.Vec3{})
	w.AddBody("ghost", mgl64.Vec3{})
	w.SetBodyFlags("ghost", BodyFlags{Kinematic: true})

	w.Step(1.0 / 60)
	contacts := w.GoalContacts()
	if len(contacts) != 1 || contacts[0] != "runner" {
		t.Fatalf("expected only runner in contacts, got %v", contacts)
	}
}

func TestUnknownBodiesAreIgnored(t *testing.T) {
	w := NewWorld()
	w.ApplyForce("missing", mgl64.Vec3{1, 1, 1})
	w.Teleport("missing", mgl64.Vec3{1, 1, 1})
	if w.HasBody("missing") || w.Position("missing") != (mgl64.Vec3{}) {
		t.Fatalf("unknown body should not materialise")
	}
}

func TestIsFiniteRejectsNaNAndInf(t *testing.T) {
	if IsFinite(mgl64.Vec3{0, math.NaN(), 0}) || IsFinite(mgl64.Vec3{math.Inf(-1), 0, 0}) {
		t.Fatalf("expected non-finite vectors to be rejected")
	}
	if !IsFinite(mgl64.Vec3{1, 2, 3}) {
		t.Fatalf("expected finite vector to pass")
	}
}
