// Package match runs the session lifecycle: the server role that owns every player
// entity, the client role that mirrors it, and the host coordinator ticking both.
package match

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/fsm"
	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/movement"
	"hamsterball/coordinator/internal/physics"
	"hamsterball/coordinator/internal/player"
	"hamsterball/coordinator/internal/scheduler"
)

var (
	// ErrNotListening is returned when a join arrives before the transport is up.
	ErrNotListening = errors.New("server is not accepting players yet")
	// ErrNotInLobby is returned when a match start is requested outside the lobby.
	ErrNotInLobby = errors.New("match can only start from the lobby")
	// ErrUnknownPlayer is returned for operations on players that are not seated.
	ErrUnknownPlayer = errors.New("unknown player")
)

// ServerConfig holds the tunables of the authoritative side.
type ServerConfig struct {
	Capacity        Capacity
	RespawnTime     time.Duration
	FallPolicy      player.FallPolicy
	StartPosition   mgl64.Vec3
	BroadcastEvery  int
	StartupRetries  int
	Gate            input.Config
	InboxCapacity   int
	ProtocolVersion float64
}

// ServerOption customises server construction.
type ServerOption func(*Server)

// WithListener sets the transport the startup state waits for.
func WithListener(listener Listener) ServerOption {
	return func(s *Server) {
		if listener != nil {
			s.locate = func() Listener { return listener }
		}
	}
}

// WithListenerLocator resolves the transport lazily; the startup state calls it every
// tick until it returns a listener.
func WithListenerLocator(locate func() Listener) ServerOption {
	return func(s *Server) { s.locate = locate }
}

// WithMatchmaker attaches an external matchmaker.
func WithMatchmaker(matchmaker Matchmaker) ServerOption {
	return func(s *Server) { s.matchmaker = matchmaker }
}

// WithSimulator replaces the default physics world.
func WithSimulator(sim physics.Simulator) ServerOption {
	return func(s *Server) {
		if sim != nil {
			s.sim = sim
		}
	}
}

// WithServerEffects routes death effects to spawner.
func WithServerEffects(spawner player.EffectSpawner) ServerOption {
	return func(s *Server) { s.effects = spawner }
}

// WithServerMetrics attaches metric collectors.
func WithServerMetrics(metrics Metrics) ServerOption {
	return func(s *Server) { s.metrics = metrics }
}

// WithEventSink records events and broadcasts for replay.
func WithEventSink(sink EventSink) ServerOption {
	return func(s *Server) { s.events = sink }
}

// WithRosterOptions forwards options to the roster.
func WithRosterOptions(opts ...RosterOption) ServerOption {
	return func(s *Server) { s.rosterOpts = append(s.rosterOpts, opts...) }
}

// WithServerLogger overrides the logger.
func WithServerLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// PlayerView is the externally visible state of one seated player.
type PlayerView struct {
	player.State
	ConnID          string  `json:"conn_id"`
	ProtocolVersion float64 `json:"protocol_version"`
}

// ServerSnapshot is a consistent view of the session for status endpoints.
type ServerSnapshot struct {
	Phase   Phase        `json:"phase"`
	State   fsm.Kind     `json:"state"`
	Tick    uint64       `json:"tick"`
	Roster  Snapshot     `json:"roster"`
	Players []PlayerView `json:"players"`
}

// Server is the authoritative session. Tick and the roster mutators share one lock so
// transports can call Join and Leave from their own goroutines.
type Server struct {
	mu sync.Mutex

	cfg        ServerConfig
	roster     *Roster
	rosterOpts []RosterOption
	machine    *fsm.Machine
	sim        physics.Simulator
	sched      *scheduler.Scheduler
	entities   map[string]*player.Authority
	inbox      *command.Inbox
	fanout     *command.Fanout
	gate       *input.Gate
	validator  *input.Validator
	dispatcher *command.Dispatcher

	locate     func() Listener
	listener   Listener
	matchmaker Matchmaker
	effects    player.EffectSpawner
	metrics    Metrics
	events     EventSink

	startupRetries int
	tick           uint64
	matchStart     time.Duration
	logger         *logging.Logger
}

// NewServer builds the server and enters the startup state.
func NewServer(cfg ServerConfig, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		entities: make(map[string]*player.Authority),
		fanout:   command.NewFanout(),
		sched:    scheduler.New(),
		logger:   logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	roster, err := NewRoster(cfg.Capacity, s.rosterOpts...)
	if err != nil {
		return nil, err
	}
	s.roster = roster
	s.logger = s.logger.With(logging.String("role", "server"))
	if s.sim == nil {
		s.sim = physics.NewWorld()
	}
	if s.cfg.BroadcastEvery <= 0 {
		s.cfg.BroadcastEvery = 1
	}
	if s.cfg.ProtocolVersion <= 0 {
		s.cfg.ProtocolVersion = movement.ProtocolVersionThreshold
	}
	s.startupRetries = cfg.StartupRetries
	if s.startupRetries <= 0 {
		s.startupRetries = DefaultStartupRetries
	}
	s.inbox = command.NewInbox(cfg.InboxCapacity)
	s.gate = input.NewGate(cfg.Gate, s.logger)
	s.validator = input.NewValidator(input.ServerConstraints, s.logger)
	s.dispatcher = command.NewDispatcher(command.RoleServer, serverRegistry{s},
		command.WithGate(s.gate),
		command.WithValidator(s.validator),
		command.WithDispatchObserver(s.observeCommand),
		command.WithDispatcherLogger(s.logger),
	)
	s.machine = fsm.NewMachine("server",
		fsm.WithLogger(s.logger),
		fsm.WithTransitionObserver(s.observeTransition),
	)
	s.machine.PushState(newServerStartup(s))
	return s, nil
}

// Inbox is where transports queue inbound commands.
func (s *Server) Inbox() *command.Inbox { return s.inbox }

// ProtocolVersion is the version this server announces in every welcome.
func (s *Server) ProtocolVersion() float64 { return s.cfg.ProtocolVersion }

// Roster exposes the seat table.
func (s *Server) Roster() *Roster { return s.roster }

// Gate exposes per connection drop counters.
func (s *Server) Gate() *input.Gate { return s.gate }

// Validator exposes per player rejection counters.
func (s *Server) Validator() *input.Validator { return s.validator }

// Phase reports the current phase. Safe from any goroutine.
func (s *Server) Phase() Phase { return PhaseOf(s.machine.CurrentState()) }

// State reports the current server state variant. Safe from any goroutine.
func (s *Server) State() fsm.Kind { return s.machine.CurrentState() }

// Join seats a connection and spawns its player. sink receives every broadcast.
func (s *Server) Join(connID string, version float64, sink command.SyncSink) (Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Is(KindServerStartup) || s.machine.CurrentState() == fsm.Empty {
		return Seat{}, ErrNotListening
	}
	seat, err := s.roster.Join(connID, uuid.NewString(), version)
	if err != nil {
		return Seat{}, err
	}
	if _, exists := s.entities[seat.PlayerID]; !exists {
		s.entities[seat.PlayerID] = s.spawn(seat)
	}
	if sink != nil {
		s.fanout.Attach(connID, sink)
	}
	s.logger.Info("player joined",
		logging.String("conn_id", connID),
		logging.String("player_id", seat.PlayerID),
		logging.Int("slot", seat.Slot),
		logging.Float64("protocol_version", version))
	s.event("join", seat)
	s.observeRoster()
	return seat, nil
}

// Leave frees the connection's seat and destroys its player.
func (s *Server) Leave(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, err := s.roster.LeaveConn(connID)
	if err != nil {
		return err
	}
	if entity, ok := s.entities[seat.PlayerID]; ok {
		entity.Destroy()
		delete(s.entities, seat.PlayerID)
	}
	s.fanout.Detach(connID)
	s.gate.Forget(connID)
	s.validator.Forget(seat.PlayerID)
	s.logger.Info("player left", logging.String("conn_id", connID), logging.String("player_id", seat.PlayerID))
	s.event("leave", seat)
	s.observeRoster()
	return nil
}

// StartMatch opens the match on behalf of an external matchmaker.
func (s *Server) StartMatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.machine.Is(KindServerPreOpenMatch) || s.roster.Size() == 0 {
		return fmt.Errorf("%w: state %s", ErrNotInLobby, s.machine.CurrentState())
	}
	s.machine.SwapState(newServerOpenMatch(s))
	return nil
}

// Hit damages a player. Non-positive amounts are ignored.
func (s *Server) Hit(playerID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[playerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	entity.Hit(amount)
	return nil
}

// Snapshot returns a consistent view of the session.
func (s *Server) Snapshot() ServerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.roster.Snapshot()
	out := ServerSnapshot{
		Phase:  s.Phase(),
		State:  s.machine.CurrentState(),
		Tick:   s.tick,
		Roster: roster,
	}
	for _, seat := range roster.Seats {
		entity, ok := s.entities[seat.PlayerID]
		if !ok {
			continue
		}
		out.Players = append(out.Players, PlayerView{
			State:           entity.Snapshot(),
			ConnID:          seat.ConnID,
			ProtocolVersion: seat.ProtocolVersion,
		})
	}
	return out
}

// Tick advances the server by dt. Every stage is contained so one failure cannot stop
// the session for the other players.
func (s *Server) Tick(dt time.Duration) {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++

	//1.- Apply everything the transports queued since the previous tick.
	s.stage("commands", func() {
		for _, in := range s.inbox.Drain() {
			s.dispatcher.Dispatch(in)
		}
	})
	//2.- Fire due timers such as respawns before the physics step.
	s.stage("scheduler", func() { s.sched.Advance(dt) })
	s.stage("physics", func() { s.sim.Step(dt.Seconds()) })
	//3.- Goals only count while a match is running.
	s.stage("goals", func() {
		if !s.machine.Is(KindServerOpenMatch) {
			return
		}
		for _, id := range s.sim.GoalContacts() {
			if entity, ok := s.entities[id]; ok {
				s.contain("goal", id, entity.HandleGoalCollision)
			}
		}
	})
	s.stage("entities", func() {
		for id, entity := range s.entities {
			s.contain("fall", id, func() { entity.Tick(s.cfg.FallPolicy) })
		}
	})
	s.stage("state", s.machine.Update)
	//4.- Broadcast on the configured cadence.
	if s.tick%uint64(s.cfg.BroadcastEvery) == 0 {
		s.stage("broadcast", s.broadcast)
	}
	if s.metrics != nil {
		s.metrics.ObserveTick(time.Since(started))
	}
}

func (s *Server) broadcast() {
	batch := command.SyncBatch{Tick: s.tick, Phase: string(s.Phase())}
	for _, seat := range s.roster.Snapshot().Seats {
		entity, ok := s.entities[seat.PlayerID]
		if !ok {
			continue
		}
		batch.Players = append(batch.Players, command.PlayerStateSync{Tick: s.tick, State: entity.Snapshot()})
	}
	if s.events != nil {
		s.events.RecordFrame(batch)
	}
	if s.metrics != nil {
		s.metrics.ObserveBroadcast(len(batch.Players))
	}
	s.fanout.Broadcast(batch)
}

func (s *Server) spawn(seat Seat) *player.Authority {
	return player.NewAuthority(seat.PlayerID, seat.Slot, s.sim, s.sched,
		player.WithStartPosition(s.cfg.StartPosition),
		player.WithRespawnTime(s.cfg.RespawnTime),
		player.WithEffects(s.effects),
		player.WithFinishRecorder(finishBook{s}),
		player.WithDeathObserver(func(state player.State) {
			if s.metrics != nil {
				s.metrics.ObserveDeath()
			}
			s.event("death", state)
		}),
		player.WithRespawnObserver(func(state player.State) { s.event("respawn", state) }),
		player.WithAuthorityLogger(s.logger),
	)
}

// beginMatch runs when the match opens: finish times and player progress start over.
func (s *Server) beginMatch() {
	s.matchStart = s.sched.Now()
	s.roster.ResetFinishTimes()
	for _, entity := range s.entities {
		entity.ResetForMatch()
	}
	s.logger.Info("match started",
		logging.String("match_id", s.roster.MatchID()),
		logging.Int("players", s.roster.Size()))
	s.event("match_started", s.roster.MatchID())
}

// everyoneFinished reports whether at least one player races and all racers finished.
func (s *Server) everyoneFinished() bool {
	racers := 0
	for _, entity := range s.entities {
		state := entity.Snapshot()
		if state.IsSpectator {
			continue
		}
		racers++
		if !state.ReachedGoal {
			return false
		}
	}
	return racers > 0
}

func (s *Server) matchmakerActive() bool {
	return s.matchmaker != nil && s.matchmaker.Active()
}

func (s *Server) resolveListener() Listener {
	if s.listener == nil && s.locate != nil {
		s.listener = s.locate()
	}
	return s.listener
}

func (s *Server) stage(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick stage panicked",
				logging.String("stage", name),
				logging.Uint64("tick", s.tick),
				logging.Any("panic", r))
		}
	}()
	fn()
}

func (s *Server) contain(stage, playerID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("player update panicked",
				logging.String("stage", stage),
				logging.String("player_id", playerID),
				logging.Any("panic", r))
		}
	}()
	fn()
}

func (s *Server) event(kind string, payload any) {
	if s.events != nil {
		s.events.RecordEvent(kind, payload)
	}
}

func (s *Server) observeRoster() {
	if s.metrics != nil {
		s.metrics.ObserveRoster(s.roster.Size())
	}
}

func (s *Server) observeCommand(in command.Inbound, result command.Result) {
	if s.metrics != nil {
		s.metrics.ObserveCommand(string(in.Command.Kind), result.Applied)
	}
	if result.Applied {
		s.event("command", in.Command)
	}
}

func (s *Server) observeTransition(from, to fsm.Kind) {
	s.logger.Info("server state changed", logging.String("from", string(from)), logging.String("to", string(to)))
	if PhaseOf(from) == PhaseOf(to) {
		return
	}
	if s.metrics != nil {
		s.metrics.ObservePhase(string(PhaseOf(to)))
	}
	s.event("phase", PhaseOf(to))
}

// serverRegistry resolves owners and entities for the dispatcher. It runs inside Tick
// with the server lock held.
type serverRegistry struct{ s *Server }

func (r serverRegistry) Owner(connID string) (string, bool) { return r.s.roster.Owner(connID) }

func (r serverRegistry) Authority(playerID string) (*player.Authority, bool) {
	entity, ok := r.s.entities[playerID]
	return entity, ok
}

// finishBook converts goal times into seconds since the match opened.
type finishBook struct{ s *Server }

func (f finishBook) RecordFinishTime(playerID string, at time.Duration) {
	seconds := (at - f.s.matchStart).Seconds()
	if f.s.roster.RecordFinish(playerID, seconds) {
		f.s.logger.Info("player finished", logging.String("player_id", playerID), logging.Float64("seconds", seconds))
		f.s.event("goal", map[string]any{"player_id": playerID, "seconds": seconds})
	}
}
