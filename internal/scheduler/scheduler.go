// Package scheduler runs delayed actions against game time advanced by the tick loop.
package scheduler

import (
	"container/heap"
	"time"
)

// Action is invoked once when its due time elapses.
type Action func()

type timer struct {
	due    time.Duration
	seq    uint64
	action Action
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due == h[j].due {
		return h[i].seq < h[j].seq
	}
	return h[i].due < h[j].due
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Scheduler queues actions until enough game time has passed. Timers cannot be
// cancelled; actions must tolerate their target having disappeared.
type Scheduler struct {
	now    time.Duration
	seq    uint64
	timers timerHeap
}

// New constructs a scheduler at game time zero.
func New() *Scheduler {
	return &Scheduler{}
}

// After registers action to run once delay of game time has elapsed.
func (s *Scheduler) After(delay time.Duration, action Action) {
	if s == nil || action == nil {
		return
	}
	if delay < 0 {
		delay = 0
	}
	s.seq++
	heap.Push(&s.timers, &timer{due: s.now + delay, seq: s.seq, action: action})
}

// Advance moves game time forward by dt and fires every action that became due, in
// due order. Actions registered while firing wait for a later Advance.
func (s *Scheduler) Advance(dt time.Duration) int {
	if s == nil {
		return 0
	}
	if dt > 0 {
		s.now += dt
	}
	//1.- Snapshot the sequence so timers added by fired actions are deferred.
	horizon := s.seq
	var deferred []*timer
	fired := 0
	for s.timers.Len() > 0 && s.timers[0].due <= s.now {
		next := heap.Pop(&s.timers).(*timer)
		if next.seq > horizon {
			deferred = append(deferred, next)
			continue
		}
		//2.- Fire in due order; ties resolve by registration order.
		next.action()
		fired++
	}
	for _, t := range deferred {
		heap.Push(&s.timers, t)
	}
	return fired
}

// Now reports the accumulated game time.
func (s *Scheduler) Now() time.Duration {
	if s == nil {
		return 0
	}
	return s.now
}

// Pending reports how many actions are still waiting.
func (s *Scheduler) Pending() int {
	if s == nil {
		return 0
	}
	return s.timers.Len()
}
