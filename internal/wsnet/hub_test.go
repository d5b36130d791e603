package wsnet

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/auth"
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

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
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

func TestHubSeatsPlayerAndRelaysTraffic(t *testing.T) {
	session := newMatchServer(t, match.Capacity{MaxPlayers: 2, StartThreshold: 1})
	httpServer := httptest.NewServer(NewHub(session, WithHubLogger(logging.NewTestLogger())))
	defer httpServer.Close()

	link, err := Dial(context.Background(), wsURL(httpServer), "", 1.20190212, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer link.Close()
	if link.PlayerID() == "" || link.Slot() != 0 {
		t.Fatalf("unexpected welcome: %q slot %d", link.PlayerID(), link.Slot())
	}
	if link.PeerProtocolVersion() != session.ProtocolVersion() {
		t.Fatalf("welcome must announce the server version, got %v", link.PeerProtocolVersion())
	}

	toggle := command.SetSpectator(link.PlayerID(), true)
	toggle.Sequence = 1
	if err := link.Send(toggle); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "spectator sync", func() bool {
		session.Tick(tick)
		for _, batch := range link.DrainSyncs() {
			if len(batch.Players) == 1 && batch.Players[0].IsSpectator {
				return true
			}
		}
		return false
	})
}

func TestHubReleasesSeatOnClose(t *testing.T) {
	session := newMatchServer(t, match.Capacity{MaxPlayers: 2, StartThreshold: 2})
	httpServer := httptest.NewServer(NewHub(session, WithHubLogger(logging.NewTestLogger())))
	defer httpServer.Close()

	link, err := Dial(context.Background(), wsURL(httpServer), "", 1.2, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	eventually(t, "seat taken", func() bool { return session.Roster().Size() == 1 })
	link.Close()
	eventually(t, "seat released", func() bool { return session.Roster().Size() == 0 })
	if err := link.Send(command.ZeroMomentum(link.PlayerID())); err == nil {
		t.Fatalf("send on a closed link must fail")
	}
}

func TestHubRejectsFullRoster(t *testing.T) {
	session := newMatchServer(t, match.Capacity{MaxPlayers: 1, StartThreshold: 1})
	httpServer := httptest.NewServer(NewHub(session, WithHubLogger(logging.NewTestLogger())))
	defer httpServer.Close()

	first, err := Dial(context.Background(), wsURL(httpServer), "", 1.2, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	if _, err := Dial(context.Background(), wsURL(httpServer), "", 1.2, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected the second dial to be refused")
	}
}

func TestHubRequiresTokenWhenConfigured(t *testing.T) {
	tokens, err := auth.NewTokens("secret", time.Second)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	session := newMatchServer(t, match.Capacity{MaxPlayers: 2, StartThreshold: 2})
	httpServer := httptest.NewServer(NewHub(session, WithTokens(tokens), WithHubLogger(logging.NewTestLogger())))
	defer httpServer.Close()

	if _, err := Dial(context.Background(), wsURL(httpServer), "", 1.2, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected unauthenticated dial to fail")
	}
	token, err := tokens.Issue("player-1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	link, err := Dial(context.Background(), wsURL(httpServer), token, 1.2, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	link.Close()
}

func TestAllowedOriginsFilter(t *testing.T) {
	hub := NewHub(nil, WithAllowedOrigins([]string{"https://play.example"}))
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	if hub.upgrader.CheckOrigin(req) {
		t.Fatalf("foreign origin must be refused")
	}
	req.Header.Set("Origin", "https://PLAY.example")
	if !hub.upgrader.CheckOrigin(req) {
		t.Fatalf("listed origin must be accepted")
	}
	open := NewHub(nil, WithAllowedOrigins([]string{"*"}))
	req.Header.Set("Origin", "https://evil.example")
	if !open.upgrader.CheckOrigin(req) {
		t.Fatalf("wildcard must accept any origin")
	}
}
