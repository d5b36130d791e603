package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/match"
	"hamsterball/coordinator/internal/physics"
)

const tick = time.Second / 60

func newMatchServer(t *testing.T, capacity match.Capacity) *match.Server {
	t.Helper()
	server, err := match.NewServer(
		match.ServerConfig{Capacity: capacity, BroadcastEvery: 1},
		match.WithListener(match.ListenerFunc(func() bool { return true })),
		match.WithSimulator(physics.NewWorld(physics.WithGravity(mgl64.Vec3{}))),
		match.WithServerLogger(logging.NewTestLogger()),
	)
	if err != nil {
		t.Fatalf("new match server: %v", err)
	}
	server.Tick(tick)
	return server
}

func startBufconn(t *testing.T, host SessionHost, secret string) *grpc.ClientConn {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(ServerOptions(secret, logging.NewTestLogger())...)
	NewService(host, WithLogger(logging.NewTestLogger())).Register(server)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func eventually(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlayStreamsWelcomeCommandsAndBatches(t *testing.T) {
	server := newMatchServer(t, match.Capacity{MaxPlayers: 2, StartThreshold: 1})
	conn := startBufconn(t, server, "")

	link, err := Open(context.Background(), conn, 1.20190212, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer link.Close()
	welcome := link.Welcome()
	if welcome.PlayerID == "" || welcome.Slot != 0 {
		t.Fatalf("unexpected welcome %+v", welcome)
	}
	if got := server.Roster().GetPeerProtocolVersion(welcome.PlayerID); got != 1.20190212 {
		t.Fatalf("expected negotiated version, got %v", got)
	}
	if link.PeerProtocolVersion() != server.ProtocolVersion() {
		t.Fatalf("welcome must announce the server version, got %v", link.PeerProtocolVersion())
	}

	if err := link.Send(command.Command{Kind: command.KindSetSpectator, PlayerID: welcome.PlayerID, Flag: true, Sequence: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "spectator applied", func() bool {
		server.Tick(tick)
		snapshot := server.Snapshot()
		return len(snapshot.Players) == 1 && snapshot.Players[0].IsSpectator
	})

	var batch command.SyncBatch
	eventually(t, "sync batch", func() bool {
		server.Tick(tick)
		for _, candidate := range link.DrainSyncs() {
			if len(candidate.Players) == 1 && candidate.Players[0].IsSpectator {
				batch = candidate
				return true
			}
		}
		return false
	})
	if batch.Players[0].ID != welcome.PlayerID || batch.Tick == 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestPlayLeavesWhenClientCloses(t *testing.T) {
	server := newMatchServer(t, match.Capacity{MaxPlayers: 2, StartThreshold: 2})
	conn := startBufconn(t, server, "")

	link, err := Open(context.Background(), conn, 1.2, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if server.Roster().Size() != 1 {
		t.Fatalf("expected one seat, got %d", server.Roster().Size())
	}
	link.Close()
	if link.Connected() {
		t.Fatalf("closed link must report disconnected")
	}
	eventually(t, "seat released", func() bool { return server.Roster().Size() == 0 })
}

func TestPlayRejectsWhenFull(t *testing.T) {
	server := newMatchServer(t, match.Capacity{MaxPlayers: 1, StartThreshold: 1})
	conn := startBufconn(t, server, "")

	first, err := Open(context.Background(), conn, 1.2, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer first.Close()
	_, err = Open(context.Background(), conn, 1.2, logging.NewTestLogger())
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
}

func TestSharedSecretGuardsTheStream(t *testing.T) {
	server := newMatchServer(t, match.Capacity{MaxPlayers: 2, StartThreshold: 2})
	conn := startBufconn(t, server, "hunter2")

	_, err := Open(context.Background(), conn, 1.2, logging.NewTestLogger())
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	link, err := Open(WithSharedSecret(context.Background(), "hunter2"), conn, 1.2, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("open with secret: %v", err)
	}
	link.Close()
}

func TestBatchEncodingRoundTrip(t *testing.T) {
	batch := command.SyncBatch{Tick: 42}
	for _, name := range []string{"snappy", "zstd"} {
		compressor, err := NewCompressor(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		frame, err := EncodeBatch(compressor, batch)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		raw, err := Codec{}.Marshal(frame)
		if err != nil {
			t.Fatalf("%s marshal: %v", name, err)
		}
		var decoded ServerFrame
		if err := (Codec{}).Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("%s unmarshal: %v", name, err)
		}
		if decoded.Encoding != name || decoded.Tick != 42 {
			t.Fatalf("%s: unexpected frame %+v", name, decoded)
		}
		out, err := DecodeBatch(&decoded)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if out.Tick != 42 {
			t.Fatalf("%s: unexpected batch %+v", name, out)
		}
	}
}

func TestClientFrameCarriesNegativeZeroAndSequence(t *testing.T) {
	frame := FrameFromCommand(command.AddForce("p1", mgl64.Vec3{-1.5, 0, 2}))
	frame.Sequence = 9
	raw, err := Codec{}.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ClientFrame
	if err := (Codec{}).Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cmd := decoded.Command()
	if cmd.Kind != command.KindAddForce || cmd.PlayerID != "p1" || cmd.Sequence != 9 {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Vector != (mgl64.Vec3{-1.5, 0, 2}) {
		t.Fatalf("unexpected vector %v", cmd.Vector)
	}
	if _, err := (Codec{}).Marshal("nope"); err == nil {
		t.Fatalf("expected error for foreign type")
	}
}
