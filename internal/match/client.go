package match

import (
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/fsm"
	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/movement"
	"hamsterball/coordinator/internal/physics"
	"hamsterball/coordinator/internal/player"
)

// DefaultLinkRetries bounds how many ticks the in-game state waits for a missing link.
const DefaultLinkRetries = 120

// Link is the client's connection to the server.
type Link interface {
	command.Sender
	command.SyncSource
	Connected() bool
	PeerCount() int
}

// VersionedLink is a Link that learned the server's protocol version from the welcome.
type VersionedLink interface {
	Link
	PeerProtocolVersion() float64
}

// ClientConfig holds the tunables of the client role.
type ClientConfig struct {
	StartPosition   mgl64.Vec3
	ProtocolVersion float64
	LinkRetries     int
}

// ClientOption customises client construction.
type ClientOption func(*Client)

// WithInputSource sets where the local player's input comes from.
func WithInputSource(source input.Source) ClientOption {
	return func(c *Client) { c.source = source }
}

// WithClientSimulator replaces the prediction world.
func WithClientSimulator(sim physics.Simulator) ClientOption {
	return func(c *Client) {
		if sim != nil {
			c.sim = sim
		}
	}
}

// WithLinkLocator resolves the link lazily when it goes missing mid game.
func WithLinkLocator(locate func() Link) ClientOption {
	return func(c *Client) { c.locate = locate }
}

// WithClientLogger overrides the logger.
func WithClientLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client mirrors the authoritative session and drives the local player.
type Client struct {
	mu sync.Mutex

	cfg        ClientConfig
	machine    *fsm.Machine
	link       Link
	locate     func() Link
	source     input.Source
	sim        physics.Simulator
	mirrors    map[string]*player.Mirror
	reconciler *movement.Reconciler
	localID    string
	phase      Phase
	lastTick   uint64
	retries    int
	logger     *logging.Logger
}

// NewClient constructs an idle client. It stays without a state until a link connects.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	c := &Client{
		cfg:     cfg,
		mirrors: make(map[string]*player.Mirror),
		phase:   PhasePreGame,
		logger:  logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.With(logging.String("role", "client"))
	if c.sim == nil {
		c.sim = physics.NewWorld()
	}
	if c.cfg.ProtocolVersion <= 0 {
		c.cfg.ProtocolVersion = movement.ProtocolVersionThreshold
	}
	c.retries = cfg.LinkRetries
	if c.retries <= 0 {
		c.retries = DefaultLinkRetries
	}
	c.machine = fsm.NewMachine("client", fsm.WithLogger(c.logger))
	return c
}

// OnClientConnect binds link and enters the connected state. A reconnect after the
// session ended starts over.
func (c *Client) OnClientConnect(link Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = link
	switch c.machine.CurrentState() {
	case fsm.Empty:
		c.machine.PushState(newClientConnected(c))
	case KindClientEndSession:
		c.machine.SwapState(newClientConnected(c))
	}
}

// AssignLocal records which player this client controls, as told by the server.
func (c *Client) AssignLocal(playerID string) {
	c.mu.Lock()
	c.localID = playerID
	c.mu.Unlock()
}

// LocalID returns the controlled player, empty before assignment.
func (c *Client) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// Phase is the server phase carried by the latest sync.
func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State reports the current client state variant.
func (c *Client) State() fsm.Kind { return c.machine.CurrentState() }

// Players returns every mirrored player ordered by slot, with the local prediction.
func (c *Client) Players() []player.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]player.State, 0, len(c.mirrors))
	for _, m := range c.mirrors {
		out = append(out, m.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Reconciler returns the local player's reconciler once the first sync created it.
func (c *Client) Reconciler() *movement.Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconciler
}

// Tick applies pending syncs, samples input, steps prediction and updates the state.
func (c *Client) Tick(dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	//1.- Authoritative data first so prediction builds on the newest server state.
	c.stage("syncs", func() {
		if c.link == nil {
			return
		}
		for _, batch := range c.link.DrainSyncs() {
			c.apply(batch)
		}
	})
	//2.- Input only flows while in game.
	c.stage("input", func() {
		if c.reconciler != nil && c.machine.Is(KindClientInGame) {
			c.reconciler.Tick(dt.Seconds())
		}
	})
	c.stage("physics", func() { c.sim.Step(dt.Seconds()) })
	c.stage("state", c.machine.Update)
}

func (c *Client) apply(batch command.SyncBatch) {
	if batch.Tick < c.lastTick {
		return
	}
	c.lastTick = batch.Tick
	c.phase = Phase(batch.Phase)
	seen := make(map[string]struct{}, len(batch.Players))
	for _, entry := range batch.Players {
		seen[entry.ID] = struct{}{}
		mirror, ok := c.mirrors[entry.ID]
		if !ok {
			mirror = c.adopt(entry.State)
		}
		if mirror.Local() && c.reconciler != nil {
			c.reconciler.Reconcile(entry)
			continue
		}
		mirror.ApplySync(entry.Tick, entry.State)
	}
	//1.- Players missing from the batch have left the session.
	for id, mirror := range c.mirrors {
		if _, ok := seen[id]; ok {
			continue
		}
		mirror.Release()
		delete(c.mirrors, id)
		if c.reconciler != nil && c.reconciler.Mirror() == mirror {
			c.reconciler = nil
		}
	}
}

func (c *Client) adopt(state player.State) *player.Mirror {
	if state.ID != c.localID || c.localID == "" {
		mirror := player.NewMirror(state)
		c.mirrors[state.ID] = mirror
		return mirror
	}
	mirror := player.NewLocalMirror(state, c.sim)
	c.mirrors[state.ID] = mirror
	c.reconciler = movement.New(mirror, c.source, c.link,
		movement.WithVersions(movement.VersionFunc(c.peerVersion)),
		movement.WithStartPosition(c.cfg.StartPosition),
		movement.WithLogger(c.logger),
	)
	return mirror
}

// peerVersion is the server's announced version for the local player, falling back to
// the local build when the link never reported one. Called with c.mu held.
func (c *Client) peerVersion(string) float64 {
	if versioned, ok := c.link.(VersionedLink); ok {
		if version := versioned.PeerProtocolVersion(); version > 0 {
			return version
		}
	}
	return c.cfg.ProtocolVersion
}

func (c *Client) resolveLink() Link {
	if c.link == nil && c.locate != nil {
		c.link = c.locate()
	}
	return c.link
}

// linkLost reports a link that is closed or has nobody on the other end.
func (c *Client) linkLost() bool {
	if c.link == nil {
		return false
	}
	return !c.link.Connected() || c.link.PeerCount() <= 0
}

func (c *Client) release() {
	for id, mirror := range c.mirrors {
		mirror.Release()
		delete(c.mirrors, id)
	}
	c.reconciler = nil
	c.localID = ""
	if closer, ok := c.link.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (c *Client) stage(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("tick stage panicked", logging.String("stage", name), logging.Any("panic", r))
		}
	}()
	fn()
}
