package match

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/physics"
	"hamsterball/coordinator/internal/player"
)

func newClient(t *testing.T, source input.Source) *Client {
	t.Helper()
	return NewClient(ClientConfig{},
		WithInputSource(source),
		WithClientSimulator(physics.NewWorld(physics.WithGravity(mgl64.Vec3{}))),
		WithClientLogger(logging.NewTestLogger()),
	)
}

func syncOf(tick uint64, states ...player.State) command.SyncBatch {
	batch := command.SyncBatch{Tick: tick, Phase: string(PhaseInProgress)}
	for _, state := range states {
		batch.Players = append(batch.Players, command.PlayerStateSync{Tick: tick, State: state})
	}
	return batch
}

func TestClientWaitsForAssignmentBeforeEnteringGame(t *testing.T) {
	client := newClient(t, nil)
	if client.State() != "" {
		t.Fatalf("client must start without a state")
	}
	link := command.NewLoopback("c1", command.NewInbox(0))
	client.OnClientConnect(link)
	client.Tick(tick)
	if client.State() != KindClientConnected {
		t.Fatalf("expected connected until assigned, got %s", client.State())
	}
	client.AssignLocal("p1")
	client.Tick(tick)
	if client.State() != KindClientInGame {
		t.Fatalf("expected in game, got %s", client.State())
	}
}

func TestClientMirrorsRosterAndDropsLeavers(t *testing.T) {
	client := newClient(t, nil)
	link := command.NewLoopback("c1", command.NewInbox(0))
	client.OnClientConnect(link)
	client.AssignLocal("p1")

	link.Broadcast(syncOf(1,
		player.State{ID: "p1", Slot: 0, HitPoints: 3, Visible: true},
		player.State{ID: "p2", Slot: 1, HitPoints: 3, Visible: true, Position: mgl64.Vec3{4, 0, 0}},
	))
	client.Tick(tick)
	players := client.Players()
	if len(players) != 2 || players[1].Position != (mgl64.Vec3{4, 0, 0}) {
		t.Fatalf("unexpected mirrors %+v", players)
	}
	if client.Reconciler() == nil {
		t.Fatalf("expected a reconciler for the local player")
	}
	if client.Phase() != PhaseInProgress {
		t.Fatalf("expected phase from sync, got %s", client.Phase())
	}

	link.Broadcast(syncOf(2, player.State{ID: "p1", HitPoints: 2, Visible: true}))
	link.Broadcast(syncOf(1, player.State{ID: "p1", HitPoints: 3}, player.State{ID: "p2"}))
	client.Tick(tick)
	players = client.Players()
	if len(players) != 1 || players[0].HitPoints != 2 {
		t.Fatalf("leavers must go and stale batches must not apply: %+v", players)
	}
}

func TestClientEndsSessionWhenLinkCloses(t *testing.T) {
	client := newClient(t, nil)
	link := command.NewLoopback("c1", command.NewInbox(0))
	client.OnClientConnect(link)
	client.AssignLocal("p1")
	link.Broadcast(syncOf(1, player.State{ID: "p1", HitPoints: 3}))
	client.Tick(tick)

	link.Close()
	client.Tick(tick)
	if client.State() != KindClientEndSession {
		t.Fatalf("expected end session, got %s", client.State())
	}
	if len(client.Players()) != 0 || client.Reconciler() != nil || client.LocalID() != "" {
		t.Fatalf("session resources must be released")
	}

	client.OnClientConnect(command.NewLoopback("c2", command.NewInbox(0)))
	if client.State() != KindClientConnected {
		t.Fatalf("reconnect must start over, got %s", client.State())
	}
}

func TestClientStageFailureDoesNotStopTick(t *testing.T) {
	client := newClient(t, nil)
	client.OnClientConnect(explodingLink{})
	client.AssignLocal("p1")
	client.Tick(tick)
	if client.State() != KindClientInGame {
		t.Fatalf("state stage must still run after the sync stage failed, got %s", client.State())
	}
}

type explodingLink struct{}

func (explodingLink) Send(command.Command) error { return nil }

func (explodingLink) DrainSyncs() []command.SyncBatch { panic("decoder bug") }

func (explodingLink) Connected() bool { return true }

func (explodingLink) PeerCount() int { return 1 }
