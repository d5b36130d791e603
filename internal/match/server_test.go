package match

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/physics"
	"hamsterball/coordinator/internal/player"
)

const tick = time.Second / 60

type alwaysListening struct{}

func (alwaysListening) Listening() bool { return true }

type flagMatchmaker struct{ active bool }

func (m *flagMatchmaker) Active() bool { return m.active }

type recordingSink struct {
	events []string
	frames []command.SyncBatch
}

func (r *recordingSink) RecordEvent(kind string, payload any) { r.events = append(r.events, kind) }

func (r *recordingSink) RecordFrame(batch command.SyncBatch) { r.frames = append(r.frames, batch) }

func (r *recordingSink) count(kind string) int {
	n := 0
	for _, event := range r.events {
		if event == kind {
			n++
		}
	}
	return n
}

type panickingSink struct{}

func (panickingSink) Broadcast(command.SyncBatch) { panic("sink exploded") }

func newServer(t *testing.T, capacity Capacity, opts ...ServerOption) *Server {
	t.Helper()
	base := []ServerOption{
		WithListener(alwaysListening{}),
		WithSimulator(physics.NewWorld(physics.WithGravity(mgl64.Vec3{}))),
		WithServerLogger(logging.NewTestLogger()),
	}
	server, err := NewServer(ServerConfig{Capacity: capacity, BroadcastEvery: 1}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server
}

func joinN(t *testing.T, s *Server, n int) []Seat {
	t.Helper()
	seats := make([]Seat, 0, n)
	for i := 0; i < n; i++ {
		seat, err := s.Join(string(rune('a'+i)), 1.20190212, nil)
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
		seats = append(seats, seat)
	}
	return seats
}

func TestServerStartsInPreGameAndRefusesEarlyJoins(t *testing.T) {
	server := newServer(t, Capacity{MaxPlayers: 4, StartThreshold: 4}, WithListener(nil), WithListenerLocator(func() Listener { return nil }))
	if server.Phase() != PhasePreGame {
		t.Fatalf("expected pre game, got %s", server.Phase())
	}
	if _, err := server.Join("a", 1, nil); !errors.Is(err, ErrNotListening) {
		t.Fatalf("expected not listening, got %v", err)
	}
}

func TestStartupGoesInertAfterRetries(t *testing.T) {
	lookups := 0
	server, err := NewServer(ServerConfig{Capacity: Capacity{MaxPlayers: 2, StartThreshold: 1}, StartupRetries: 3},
		WithListenerLocator(func() Listener { lookups++; return nil }),
		WithServerLogger(logging.NewTestLogger()),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	for i := 0; i < 10; i++ {
		server.Tick(tick)
	}
	if lookups != 3 {
		t.Fatalf("expected lookups to stop after the retry budget, got %d", lookups)
	}
	if server.Phase() != PhasePreGame {
		t.Fatalf("degraded server must stay in pre game, got %s", server.Phase())
	}
}

func TestThresholdOpensMatchOnTheSameTick(t *testing.T) {
	server := newServer(t, Capacity{MaxPlayers: 4, StartThreshold: 4})
	server.Tick(tick)
	if server.Phase() != PhaseLobby {
		t.Fatalf("expected lobby once listening, got %s", server.Phase())
	}
	joinN(t, server, 3)
	server.Tick(tick)
	if server.State() != KindServerPreOpenMatch {
		t.Fatalf("three players must wait in the lobby, got %s", server.State())
	}
	if _, err := server.Join("d", 1.2, nil); err != nil {
		t.Fatalf("join: %v", err)
	}
	server.Tick(tick)
	if server.Phase() != PhaseInProgress {
		t.Fatalf("expected in progress on the tick the threshold was reached, got %s", server.Phase())
	}
}

func TestFullRosterFromListenOpensImmediately(t *testing.T) {
	server := newServer(t, Capacity{MaxPlayers: 2, StartThreshold: 2})
	server.Tick(tick)
	joinN(t, server, 2)
	server.Tick(tick)
	if server.Phase() != PhaseInProgress {
		t.Fatalf("expected in progress, got %s", server.Phase())
	}
	if _, err := server.Join("z", 1, nil); !errors.Is(err, ErrMatchFull) {
		t.Fatalf("expected full roster, got %v", err)
	}
}

func TestEmptyRosterEndsSessionFromAnyPhase(t *testing.T) {
	for _, threshold := range []int{1, 2} {
		server := newServer(t, Capacity{MaxPlayers: 2, StartThreshold: threshold})
		server.Tick(tick)
		joinN(t, server, 1)
		server.Tick(tick)
		if err := server.Leave("a"); err != nil {
			t.Fatalf("leave: %v", err)
		}
		server.Tick(tick)
		if server.Phase() != PhaseEndGame {
			t.Fatalf("threshold %d: expected end game, got %s", threshold, server.Phase())
		}
	}
}

func TestDroppingBelowThresholdReopensLobby(t *testing.T) {
	server := newServer(t, Capacity{MaxPlayers: 3, StartThreshold: 2})
	server.Tick(tick)
	joinN(t, server, 2)
	server.Tick(tick)
	if server.Phase() != PhaseInProgress {
		t.Fatalf("expected in progress, got %s", server.Phase())
	}
	server.Leave("b")
	server.Tick(tick)
	if server.Phase() != PhaseLobby {
		t.Fatalf("expected lobby after dropping below threshold, got %s", server.Phase())
	}
}

func TestMatchmakerSuppressesAutoStart(t *testing.T) {
	matchmaker := &flagMatchmaker{active: true}
	server := newServer(t, Capacity{MaxPlayers: 2, StartThreshold: 1}, WithMatchmaker(matchmaker))
	server.Tick(tick)
	joinN(t, server, 2)
	for i := 0; i < 5; i++ {
		server.Tick(tick)
	}
	if server.Phase() != PhaseLobby {
		t.Fatalf("matchmaker must suppress population start, got %s", server.Phase())
	}
	if err := server.StartMatch(); err != nil {
		t.Fatalf("start match: %v", err)
	}
	if server.Phase() != PhaseInProgress {
		t.Fatalf("expected external start to open the match, got %s", server.Phase())
	}
	if err := server.StartMatch(); !errors.Is(err, ErrNotInLobby) {
		t.Fatalf("second start must fail, got %v", err)
	}
}

func TestEveryoneFinishingCompletesMatch(t *testing.T) {
	goal := physics.Volume{Min: mgl64.Vec3{-1, -1, -1}, Max: mgl64.Vec3{1, 1, 1}}
	sink := &recordingSink{}
	server := newServer(t, Capacity{MaxPlayers: 2, StartThreshold: 2},
		WithSimulator(physics.NewWorld(physics.WithGravity(mgl64.Vec3{}), physics.WithGoals(goal))),
		WithEventSink(sink),
	)
	server.Tick(tick)
	joinN(t, server, 2)
	server.Tick(tick)
	server.Tick(tick)
	server.Tick(tick)
	if server.Phase() != PhaseEndGame || server.State() != KindServerMatchComplete {
		t.Fatalf("expected match complete, got %s", server.State())
	}
	snapshot := server.Snapshot()
	for slot := 0; slot < 2; slot++ {
		if snapshot.Roster.FinishTimes[slot] == NotFinished {
			t.Fatalf("slot %d has no finish time: %+v", slot, snapshot.Roster.FinishTimes)
		}
	}
	if snapshot.Roster.FinishTimes[2] != NotFinished {
		t.Fatalf("unused slots keep the sentinel")
	}
	if sink.count("goal") != 2 || sink.count("match_complete") != 1 {
		t.Fatalf("unexpected events %v", sink.events)
	}
}

func TestHitThroughServerRunsDeathOnce(t *testing.T) {
	sink := &recordingSink{}
	server := newServer(t, Capacity{MaxPlayers: 1, StartThreshold: 1}, WithEventSink(sink))
	server.Tick(tick)
	seat := joinN(t, server, 1)[0]
	server.Tick(tick)
	for i := 0; i < 5; i++ {
		if err := server.Hit(seat.PlayerID, 1); err != nil {
			t.Fatalf("hit: %v", err)
		}
	}
	if sink.count("death") != 1 {
		t.Fatalf("expected exactly one death, got %v", sink.events)
	}
	if err := server.Hit("ghost", 1); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("expected unknown player, got %v", err)
	}
	for i := 0; i < 61; i++ {
		server.Tick(tick)
	}
	if sink.count("respawn") != 1 {
		t.Fatalf("expected respawn after the delay, got %v", sink.events)
	}
	state := server.Snapshot().Players[0]
	if state.HitPoints != player.InitialHitPoints || !state.Visible {
		t.Fatalf("respawn must restore the player: %+v", state)
	}
}

func TestBroadcastCarriesEveryPlayerAndSurvivesBadSink(t *testing.T) {
	sink := &recordingSink{}
	server := newServer(t, Capacity{MaxPlayers: 3, StartThreshold: 3}, WithEventSink(sink))
	server.Tick(tick)
	if _, err := server.Join("bad", 1.2, panickingSink{}); err != nil {
		t.Fatalf("join: %v", err)
	}
	link := command.NewLoopback("good", server.Inbox())
	if _, err := server.Join("good", 1.2, link); err != nil {
		t.Fatalf("join: %v", err)
	}
	server.Tick(tick)
	server.Tick(tick)
	if server.Snapshot().Tick != 3 {
		t.Fatalf("ticks must continue after a panicking sink")
	}
	if len(sink.frames) == 0 || len(sink.frames[len(sink.frames)-1].Players) != 2 {
		t.Fatalf("expected frames with both players, got %+v", sink.frames)
	}
}

func TestServerRejectsCommandsForOtherPlayers(t *testing.T) {
	server := newServer(t, Capacity{MaxPlayers: 2, StartThreshold: 2})
	server.Tick(tick)
	seats := joinN(t, server, 2)
	server.Tick(tick)
	cmd := command.SetSpectator(seats[1].PlayerID, true)
	cmd.Sequence = 1
	server.Inbox().Push(command.Inbound{ConnID: seats[0].ConnID, Command: cmd})
	server.Tick(tick)
	for _, view := range server.Snapshot().Players {
		if view.IsSpectator {
			t.Fatalf("foreign command must not apply: %+v", view)
		}
	}
}
