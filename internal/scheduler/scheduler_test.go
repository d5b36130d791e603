package scheduler

import (
	"reflect"
	"testing"
	"time"
)

func TestActionFiresOnlyAfterDelay(t *testing.T) {
	s := New()
	fired := 0
	s.After(time.Second, func() { fired++ })

	for i := 0; i < 59; i++ {
		s.Advance(time.Second / 60)
	}
	if fired != 0 {
		t.Fatalf("fired early at %v", s.Now())
	}
	s.Advance(time.Second / 60)
	s.Advance(time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected exactly one firing, got %d", fired)
	}
	if s.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", s.Pending())
	}
}

func TestActionsFireInDueThenRegistrationOrder(t *testing.T) {
	s := New()
	var order []string
	s.After(2*time.Second, func() { order = append(order, "late") })
	s.After(time.Second, func() { order = append(order, "first") })
	s.After(time.Second, func() { order = append(order, "second") })

	if n := s.Advance(3 * time.Second); n != 3 {
		t.Fatalf("expected three firings, got %d", n)
	}
	if want := []string{"first", "second", "late"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestActionsRegisteredWhileFiringWaitForNextAdvance(t *testing.T) {
	s := New()
	fired := 0
	s.After(0, func() {
		s.After(0, func() { fired++ })
	})
	s.Advance(0)
	if fired != 0 {
		t.Fatalf("nested action should wait, fired=%d", fired)
	}
	s.Advance(0)
	if fired != 1 {
		t.Fatalf("nested action should fire on next advance, fired=%d", fired)
	}
}

func TestNilSchedulerIsInert(t *testing.T) {
	var s *Scheduler
	s.After(time.Second, func() { t.Fatalf("must not run") })
	if s.Advance(time.Hour) != 0 || s.Pending() != 0 {
		t.Fatalf("nil scheduler should be inert")
	}
}
