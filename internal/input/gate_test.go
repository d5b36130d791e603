package input

import (
	"sync"
	"testing"
	"time"

	"hamsterball/coordinator/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// 1.- Now returns the configured timestamp for deterministic gate decisions.
func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// 2.- Advance moves the internal clock forward to simulate elapsed time.
func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGateRejectsNonMonotonicSequence(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := NewGate(Config{Rate: 60, Burst: 5}, logging.NewTestLogger(), WithClock(clock))

	//1.- Accept the initial command to seed client state.
	first := gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 1})
	if !first.Accepted {
		t.Fatalf("first frame unexpectedly rejected: %+v", first)
	}

	//2.- Replay the previous sequence which should be ignored as a duplicate.
	second := gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 1})
	if second.Accepted || second.Reason != DropReasonSequence {
		t.Fatalf("expected sequence drop, got %+v", second)
	}

	metrics := gate.Metrics()
	if metrics["conn-1"].Sequence != 1 {
		t.Fatalf("sequence drops = %d, want 1", metrics["conn-1"].Sequence)
	}
}

func TestGateRejectsMissingSequence(t *testing.T) {
	gate := NewGate(Config{}, logging.NewTestLogger())
	if decision := gate.Evaluate(Frame{ClientID: "conn-1"}); decision.Accepted {
		t.Fatalf("expected unsequenced command to be dropped")
	}
}

func TestGateRateLimitsBursts(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := NewGate(Config{Rate: 10, Burst: 2}, logging.NewTestLogger(), WithClock(clock))

	//1.- Spend the burst allowance without advancing time.
	for seq := uint64(1); seq <= 2; seq++ {
		if decision := gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: seq}); !decision.Accepted {
			t.Fatalf("burst frame %d rejected: %+v", seq, decision)
		}
	}
	//2.- The next command exceeds the bucket.
	if decision := gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 3}); decision.Reason != DropReasonRateLimited {
		t.Fatalf("expected rate limit, got %+v", decision)
	}
	//3.- A refill lets the same sequence through because it was never applied.
	clock.Advance(100 * time.Millisecond)
	if decision := gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 3}); !decision.Accepted {
		t.Fatalf("expected refill to admit command, got %+v", decision)
	}
}

func TestGateForgetClearsClientState(t *testing.T) {
	gate := NewGate(Config{}, logging.NewTestLogger())
	gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 5})
	gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 4})

	gate.Forget("conn-1")

	if metrics := gate.Metrics(); metrics != nil {
		t.Fatalf("expected metrics cleared, got %+v", metrics)
	}
	if decision := gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 1}); !decision.Accepted {
		t.Fatalf("expected fresh sequencing after forget, got %+v", decision)
	}
}
