package match

import (
	"time"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/fsm"
)

// Phase is the coarse match lifecycle reported to observers and clients.
type Phase string

const (
	PhasePreGame    Phase = "pre_game"
	PhaseLobby      Phase = "lobby"
	PhaseInProgress Phase = "in_progress"
	PhaseEndGame    Phase = "end_game"
)

// Server state variants.
const (
	KindServerStartup        fsm.Kind = "server_startup"
	KindServerListen         fsm.Kind = "server_listen_for_clients"
	KindServerPreOpenMatch   fsm.Kind = "server_pre_open_match"
	KindServerOpenMatch      fsm.Kind = "server_open_match"
	KindServerMatchComplete  fsm.Kind = "server_match_complete"
	KindServerEndPreGameplay fsm.Kind = "server_end_pre_gameplay"
)

// Client state variants.
const (
	KindClientConnected  fsm.Kind = "client_connected"
	KindClientInGame     fsm.Kind = "client_in_game"
	KindClientEndSession fsm.Kind = "client_end_session"
)

var serverPhases = map[fsm.Kind]Phase{
	fsm.Empty:                PhasePreGame,
	KindServerStartup:        PhasePreGame,
	KindServerListen:         PhaseLobby,
	KindServerPreOpenMatch:   PhaseLobby,
	KindServerOpenMatch:      PhaseInProgress,
	KindServerMatchComplete:  PhaseEndGame,
	KindServerEndPreGameplay: PhaseEndGame,
}

// PhaseOf maps a server state variant onto its phase.
func PhaseOf(kind fsm.Kind) Phase {
	if phase, ok := serverPhases[kind]; ok {
		return phase
	}
	return PhasePreGame
}

// DefaultStartupRetries bounds how many ticks the startup state waits for a listener.
const DefaultStartupRetries = 120

// Listener reports whether the server transport accepts connections.
type Listener interface {
	Listening() bool
}

// ListenerFunc adapts a function into a Listener.
type ListenerFunc func() bool

// Listening implements Listener.
func (f ListenerFunc) Listening() bool { return f() }

// Matchmaker is an external service that decides when a match opens. While one is
// active the server never opens or reopens on player count alone.
type Matchmaker interface {
	Active() bool
}

// Metrics receives server side measurements.
type Metrics interface {
	ObservePhase(phase string)
	ObserveCommand(kind string, applied bool)
	ObserveDeath()
	ObserveRoster(players int)
	ObserveTick(elapsed time.Duration)
	ObserveBroadcast(players int)
}

// EventSink records the session for later replay.
type EventSink interface {
	RecordEvent(kind string, payload any)
	RecordFrame(batch command.SyncBatch)
}
