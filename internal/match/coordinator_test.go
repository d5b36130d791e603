package match

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/physics"
	"hamsterball/coordinator/internal/player"
)

func newHost(t *testing.T) (*Coordinator, *input.StaticSource) {
	t.Helper()
	source := input.NewStaticSource()
	client := newClient(t, source)
	server := newServer(t, Capacity{MaxPlayers: 2, StartThreshold: 1})
	return NewCoordinator(client, server, logging.NewTestLogger()), source
}

func TestHostSpectatorToggleConvergesAfterOneBroadcast(t *testing.T) {
	host, source := newHost(t)
	host.Tick(tick)
	seat, err := host.JoinLocal(1.20190212)
	if err != nil {
		t.Fatalf("join local: %v", err)
	}
	host.Tick(tick)
	if host.Server().Phase() != PhaseInProgress || host.Client().State() != KindClientInGame {
		t.Fatalf("unexpected roles: server=%s client=%s", host.Server().State(), host.Client().State())
	}

	source.Press(input.Actions{ToggleSpectator: true})
	host.Tick(tick)

	//1.- The client ticks first, so the server applied the toggle in the same tick.
	server := host.Server().Snapshot()
	if len(server.Players) != 1 || !server.Players[0].IsSpectator {
		t.Fatalf("server did not apply the toggle: %+v", server.Players)
	}
	host.Tick(tick)

	players := host.Client().Players()
	if len(players) != 1 || players[0].ID != seat.PlayerID || !players[0].IsSpectator {
		t.Fatalf("client did not converge: %+v", players)
	}
	if got := host.Client().Reconciler().Mirror().Flags(); got != player.SpectatorFlags(true, false) {
		t.Fatalf("expected spectator flags, got %+v", got)
	}
}

func TestHostForceReachesServerBody(t *testing.T) {
	host, source := newHost(t)
	host.Tick(tick)
	if _, err := host.JoinLocal(1.20190212); err != nil {
		t.Fatalf("join local: %v", err)
	}
	host.Tick(tick)
	host.Tick(tick)
	source.Set(mgl64.Vec2{1, 0}, 0)
	host.Tick(tick)
	host.Tick(tick)

	state := host.Server().Snapshot().Players[0]
	if state.Velocity.X() <= 0 {
		t.Fatalf("expected the server body to move along x, got %v", state.Velocity)
	}
	if state.Velocity.Y() != 0 {
		t.Fatalf("current peers must not push along y, got %v", state.Velocity)
	}
}

func TestLegacyServerSelectsLegacyAxesOnCurrentClient(t *testing.T) {
	source := input.NewStaticSource()
	client := newClient(t, source)
	server, err := NewServer(ServerConfig{
		Capacity:        Capacity{MaxPlayers: 2, StartThreshold: 1},
		BroadcastEvery:  1,
		ProtocolVersion: 1.0,
	},
		WithListener(alwaysListening{}),
		WithSimulator(physics.NewWorld(physics.WithGravity(mgl64.Vec3{}))),
		WithServerLogger(logging.NewTestLogger()),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	host := NewCoordinator(client, server, logging.NewTestLogger())
	host.Tick(tick)
	if _, err := host.JoinLocal(1.20190212); err != nil {
		t.Fatalf("join local: %v", err)
	}
	host.Tick(tick)
	host.Tick(tick)
	source.Set(mgl64.Vec2{0, 1}, 0)
	host.Tick(tick)
	host.Tick(tick)

	state := host.Server().Snapshot().Players[0]
	if state.Velocity.Y() <= 0 || state.Velocity.Z() != 0 {
		t.Fatalf("a legacy server expects (x, y, 0) forces, got %v", state.Velocity)
	}
}

func TestLeaveLocalEndsBothSides(t *testing.T) {
	host, _ := newHost(t)
	host.Tick(tick)
	if _, err := host.JoinLocal(1.20190212); err != nil {
		t.Fatalf("join local: %v", err)
	}
	host.Tick(tick)
	if err := host.LeaveLocal(); err != nil {
		t.Fatalf("leave local: %v", err)
	}
	host.Tick(tick)
	if host.Server().Phase() != PhaseEndGame {
		t.Fatalf("empty host must end the session, got %s", host.Server().Phase())
	}
	if host.Client().State() != KindClientEndSession {
		t.Fatalf("client must notice the closed link, got %s", host.Client().State())
	}
}
