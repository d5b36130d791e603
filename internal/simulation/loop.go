// Package simulation drives the coordinator at a fixed timestep.
package simulation

import (
	"context"
	"sync"
	"time"

	"hamsterball/coordinator/internal/logging"
)

// DefaultMaxCatchUp bounds how many steps one wake-up may run after a stall.
const DefaultMaxCatchUp = 5

// Ticker is advanced once per fixed step.
type Ticker interface {
	Tick(dt time.Duration)
}

// TickerFunc adapts a function into a Ticker.
type TickerFunc func(dt time.Duration)

// Tick implements Ticker.
func (f TickerFunc) Tick(dt time.Duration) { f(dt) }

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithMonitor records how long every step took.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) { l.monitor = monitor }
}

// WithMaxCatchUp overrides DefaultMaxCatchUp.
func WithMaxCatchUp(steps int) LoopOption {
	return func(l *Loop) {
		if steps > 0 {
			l.maxCatchUp = steps
		}
	}
}

// WithLoopLogger overrides the logger.
func WithLoopLogger(logger *logging.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Loop drives a Ticker at a fixed timestep.
type Loop struct {
	step       time.Duration
	target     Ticker
	monitor    *TickMonitor
	maxCatchUp int
	logger     *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop configures a loop that targets the provided frequency.
func NewLoop(targetHz float64, target Ticker, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if target == nil {
		target = TickerFunc(func(time.Duration) {})
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	loop := &Loop{step: interval, target: target, maxCatchUp: DefaultMaxCatchUp, logger: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	return loop
}

// Start begins ticking on a new goroutine until ctx is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		l.run(ctx)
	}(l.done)
}

func (l *Loop) run(ctx context.Context) {
	ticker := time.NewTicker(l.step)
	defer ticker.Stop()
	last := time.Now()
	accumulator := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			//1.- Accumulate elapsed time and run fixed steps while catching up.
			accumulator += now.Sub(last)
			last = now
			steps := 0
			for accumulator >= l.step && steps < l.maxCatchUp {
				l.advance()
				accumulator -= l.step
				steps++
			}
			//2.- A long stall is dropped rather than replayed in a burst.
			if accumulator >= l.step {
				l.logger.Warn("simulation fell behind, dropping time",
					logging.Int64("dropped_ms", accumulator.Milliseconds()))
				accumulator = 0
			}
		}
	}
}

func (l *Loop) advance() {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("simulation step panicked", logging.Any("panic", r))
		}
		l.monitor.Observe(time.Since(started))
	}()
	l.target.Tick(l.step)
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
