// Package matchmaker tracks whether an external matchmaking service has taken over
// match opening from the player count rule.
package matchmaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"hamsterball/coordinator/internal/logging"
)

// Advertiser publishes the session to a matchmaking service.
type Advertiser interface {
	// Advertise reports the listing and returns whether the service controls the session.
	Advertise(ctx context.Context, listing Listing) (bool, error)
}

// Listing is what the session tells the matchmaker about itself.
type Listing struct {
	MatchID    string `json:"match_id"`
	Phase      string `json:"phase"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	JoinURL    string `json:"join_url,omitempty"`
	GRPCURL    string `json:"grpc_url,omitempty"`
}

// Snapshot exposes the controller state for status endpoints.
type Snapshot struct {
	Active         bool      `json:"active"`
	LastAdvertised time.Time `json:"last_advertised"`
	Failures       int       `json:"failures"`
}

// Controller answers match.Matchmaker. Without an advertiser the answer is fixed;
// with one it follows the last successful advertisement and falls back to inactive
// after an error so the player count rule takes over again.
type Controller struct {
	mu sync.Mutex

	active     bool
	last       time.Time
	failures   int
	advertiser Advertiser
	now        func() time.Time
	logger     *logging.Logger
}

// NewStatic returns a controller whose answer never changes.
func NewStatic(active bool) *Controller {
	return &Controller{active: active, now: time.Now, logger: logging.L()}
}

// NewController constructs a controller that polls advertiser.
func NewController(advertiser Advertiser, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.L()
	}
	return &Controller{advertiser: advertiser, now: time.Now, logger: logger}
}

// Active implements match.Matchmaker.
func (c *Controller) Active() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot returns the most recent advertisement outcome without mutating state.
func (c *Controller) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Active: c.active, LastAdvertised: c.last, Failures: c.failures}
}

// Reconcile advertises listing once and records the answer.
func (c *Controller) Reconcile(ctx context.Context, listing Listing) error {
	if c == nil {
		return errors.New("controller is nil")
	}
	if c.advertiser == nil {
		return nil
	}
	//1.- Ask the service whether it owns the session and capture the answer.
	active, err := c.advertiser.Advertise(ctx, listing)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		//2.- A silent matchmaker must not hold the lobby closed forever.
		c.active = false
		c.failures++
		return err
	}
	c.active = active
	c.last = c.now()
	return nil
}

// Run reconciles every interval until ctx ends. listing is sampled on each pass.
func (c *Controller) Run(ctx context.Context, interval time.Duration, listing func() Listing) {
	if c == nil || c.advertiser == nil || listing == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.Reconcile(ctx, listing()); err != nil && ctx.Err() == nil {
			c.logger.Warn("matchmaker advertisement failed", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
