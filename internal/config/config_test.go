package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"COORD_MODE", "COORD_ADDR", "COORD_GRPC_ADDR", "COORD_SERVER_URL", "COORD_ALLOWED_ORIGINS",
		"COORD_MAX_PLAYERS", "COORD_START_THRESHOLD", "COORD_TICK_HZ", "COORD_BROADCAST_HZ",
		"COORD_RESPAWN_TIME", "COORD_FALL_POLICY", "COORD_MATCHMAKER", "COORD_PROTOCOL_VERSION",
		"COORD_START_POSITION", "COORD_COMMAND_RATE", "COORD_COMMAND_BURST", "COORD_REPLAY_DIR",
		"COORD_LOG_LEVEL", "COORD_LOG_PATH", "COORD_LOG_MAX_SIZE_MB", "COORD_LOG_MAX_BACKUPS",
		"COORD_LOG_MAX_AGE_DAYS", "COORD_LOG_COMPRESS", "COORD_GRPC_COMPRESSION", "COORD_WS_AUTH_SECRET",
		"COORD_GRPC_SHARED_SECRET", "COORD_ADMIN_TOKEN", "COORD_MATCHMAKER_URL", "COORD_MATCHMAKER_INTERVAL",
		"COORD_REPLAY_MAX_BUNDLES", "COORD_REPLAY_MAX_AGE", "COORD_REPLAY_INPUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Mode != ModeHost {
		t.Fatalf("expected host mode, got %q", cfg.Mode)
	}
	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.MaxPlayers != 4 || cfg.StartThreshold != 4 {
		t.Fatalf("unexpected roster defaults: max=%d threshold=%d", cfg.MaxPlayers, cfg.StartThreshold)
	}
	if cfg.RespawnTime != time.Second {
		t.Fatalf("expected 1s respawn, got %v", cfg.RespawnTime)
	}
	if cfg.FallPolicy != FallSoftReset {
		t.Fatalf("expected soft fall policy, got %q", cfg.FallPolicy)
	}
	if cfg.ProtocolVersion != DefaultProtocolVersion {
		t.Fatalf("unexpected protocol version %v", cfg.ProtocolVersion)
	}
	if cfg.BroadcastEvery() != 3 {
		t.Fatalf("expected broadcast every 3 ticks, got %d", cfg.BroadcastEvery())
	}
	if cfg.StartPosition != DefaultStartPosition || cfg.ReplayInput.Enabled() {
		t.Fatalf("unexpected spawn defaults: %v %+v", cfg.StartPosition, cfg.ReplayInput)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORD_MODE", "server")
	t.Setenv("COORD_MAX_PLAYERS", "2")
	t.Setenv("COORD_START_THRESHOLD", "2")
	t.Setenv("COORD_FALL_POLICY", "hard")
	t.Setenv("COORD_RESPAWN_TIME", "2500ms")
	t.Setenv("COORD_MATCHMAKER", "true")
	t.Setenv("COORD_START_POSITION", "1, 2.5, -3")
	t.Setenv("COORD_ALLOWED_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("COORD_MATCHMAKER_URL", "http://matchmaker.test/sessions")
	t.Setenv("COORD_REPLAY_MAX_BUNDLES", "3")
	t.Setenv("COORD_REPLAY_MAX_AGE", "48h")
	t.Setenv("COORD_REPLAY_INPUT", "replays/match-1:player-7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Mode != ModeServer || cfg.MaxPlayers != 2 || cfg.StartThreshold != 2 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.FallPolicy != FallHardDeath || cfg.RespawnTime != 2500*time.Millisecond || !cfg.Matchmaker {
		t.Fatalf("unexpected lifecycle overrides: %+v", cfg)
	}
	if cfg.StartPosition != [3]float64{1, 2.5, -3} {
		t.Fatalf("unexpected start position %v", cfg.StartPosition)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
	if cfg.MatchmakerURL != "http://matchmaker.test/sessions" || cfg.MatchmakerEvery != DefaultMatchmakerInterval {
		t.Fatalf("unexpected matchmaker settings: %q %v", cfg.MatchmakerURL, cfg.MatchmakerEvery)
	}
	if cfg.ReplayMaxBundles != 3 || cfg.ReplayMaxAge != 48*time.Hour {
		t.Fatalf("unexpected retention: %d %v", cfg.ReplayMaxBundles, cfg.ReplayMaxAge)
	}
	if cfg.ReplayInput != (ReplayInput{Bundle: "replays/match-1", PlayerID: "player-7"}) || !cfg.ReplayInput.Enabled() {
		t.Fatalf("unexpected replay input %+v", cfg.ReplayInput)
	}
}

func TestLoadCollectsEveryProblem(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORD_MAX_PLAYERS", "5")
	t.Setenv("COORD_TICK_HZ", "zero")
	t.Setenv("COORD_FALL_POLICY", "bouncy")
	t.Setenv("COORD_GRPC_COMPRESSION", "lz4")
	t.Setenv("COORD_REPLAY_INPUT", "no-player:")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"COORD_MAX_PLAYERS", "COORD_TICK_HZ", "COORD_FALL_POLICY", "COORD_GRPC_COMPRESSION", "COORD_REPLAY_INPUT"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestLoadRejectsThresholdAboveRoster(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORD_MAX_PLAYERS", "2")
	t.Setenv("COORD_START_THRESHOLD", "3")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "COORD_START_THRESHOLD") {
		t.Fatalf("expected threshold error, got %v", err)
	}
}
