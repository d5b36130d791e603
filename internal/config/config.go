package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address for HTTP and websocket traffic.
	DefaultAddr = ":7777"
	// DefaultServerURL is where client mode dials when no override is supplied.
	DefaultServerURL = "ws://127.0.0.1:7777/ws"
	// DefaultGRPCCompression names the payload codec used on gRPC streams.
	DefaultGRPCCompression = "snappy"
	// DefaultPingInterval controls the keepalive cadence for websocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound websocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16

	// MaxRosterSlots is the hard ceiling on players per session.
	MaxRosterSlots = 4
	// DefaultMaxPlayers is the configured roster size when no override is present.
	DefaultMaxPlayers = MaxRosterSlots
	// DefaultStartThreshold is the population that starts a match.
	DefaultStartThreshold = 4
	// DefaultTickHz is the simulation tick rate.
	DefaultTickHz = 60
	// DefaultBroadcastHz is how often authoritative state is broadcast.
	DefaultBroadcastHz = 20
	// DefaultRespawnTime is the delay between a full death and the respawn.
	DefaultRespawnTime = time.Second
	// DefaultProtocolVersion is the protocol version advertised by this build.
	DefaultProtocolVersion = 1.20190212
	// DefaultCommandRate is the steady per-connection command allowance per second.
	DefaultCommandRate = 120
	// DefaultCommandBurst is the per-connection command burst allowance.
	DefaultCommandBurst = 30

	// DefaultReplayFlushWindow bounds how often replay flushes may be requested.
	DefaultReplayFlushWindow = time.Minute
	// DefaultReplayFlushBurst sets how many replay flush requests fit in one window.
	DefaultReplayFlushBurst = 1
	// DefaultReplayMaxBundles caps how many replay bundles stay on disk.
	DefaultReplayMaxBundles = 20
	// DefaultReplayMaxAge removes replay bundles older than this.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultMatchmakerInterval is how often the session is advertised.
	DefaultMatchmakerInterval = 5 * time.Second

	// DefaultLogLevel controls verbosity for coordinator logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "coordinator.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles compression for rotated log files.
	DefaultLogCompress = true
)

// DefaultStartPosition rests a player ball on the default course floor.
var DefaultStartPosition = [3]float64{0, 0.5, 0}

// Mode selects which roles the process runs.
type Mode string

const (
	// ModeServer runs only the authoritative role.
	ModeServer Mode = "server"
	// ModeHost runs the authoritative role plus a local player.
	ModeHost Mode = "host"
	// ModeClient runs only the predicting client role.
	ModeClient Mode = "client"
)

// FallPolicy selects which death path a kill-plane crossing takes.
type FallPolicy string

const (
	// FallSoftReset teleports the player back to the start without damage.
	FallSoftReset FallPolicy = "soft"
	// FallHardDeath runs the full death sequence with effect and respawn delay.
	FallHardDeath FallPolicy = "hard"
)

// Config captures all runtime tunables for the coordinator.
type Config struct {
	Mode              Mode
	Address           string
	GRPCAddress       string
	GRPCSharedSecret  string
	GRPCCompression   string
	WSAuthSecret      string
	ServerURL         string
	AllowedOrigins    []string
	PingInterval      time.Duration
	MaxPayloadBytes   int64
	MaxPlayers        int
	StartThreshold    int
	TickHz            int
	BroadcastHz       int
	RespawnTime       time.Duration
	FallPolicy        FallPolicy
	StartPosition     [3]float64
	ReplayInput       ReplayInput
	Matchmaker        bool
	MatchmakerURL     string
	MatchmakerEvery   time.Duration
	ProtocolVersion   float64
	CommandRate       float64
	CommandBurst      int
	ReplayDir         string
	ReplayFlushWindow time.Duration
	ReplayFlushBurst  int
	ReplayMaxBundles  int
	ReplayMaxAge      time.Duration
	AdminToken        string
	Logging           LoggingConfig
}

// ReplayInput names a recorded player whose input drives the local client.
type ReplayInput struct {
	Bundle   string
	PlayerID string
}

// Enabled reports whether a recorded track replaces live input.
func (r ReplayInput) Enabled() bool { return r.Bundle != "" }

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the coordinator configuration from environment variables, applying defaults
// and returning one descriptive error covering every invalid override.
func Load() (*Config, error) {
	cfg := &Config{
		Mode:              Mode(strings.ToLower(getString("COORD_MODE", string(ModeHost)))),
		Address:           getString("COORD_ADDR", DefaultAddr),
		GRPCAddress:       strings.TrimSpace(os.Getenv("COORD_GRPC_ADDR")),
		GRPCSharedSecret:  strings.TrimSpace(os.Getenv("COORD_GRPC_SHARED_SECRET")),
		GRPCCompression:   strings.ToLower(getString("COORD_GRPC_COMPRESSION", DefaultGRPCCompression)),
		WSAuthSecret:      strings.TrimSpace(os.Getenv("COORD_WS_AUTH_SECRET")),
		ServerURL:         getString("COORD_SERVER_URL", DefaultServerURL),
		AllowedOrigins:    parseList(os.Getenv("COORD_ALLOWED_ORIGINS")),
		PingInterval:      DefaultPingInterval,
		MaxPayloadBytes:   DefaultMaxPayloadBytes,
		MaxPlayers:        DefaultMaxPlayers,
		StartThreshold:    DefaultStartThreshold,
		TickHz:            DefaultTickHz,
		BroadcastHz:       DefaultBroadcastHz,
		RespawnTime:       DefaultRespawnTime,
		FallPolicy:        FallPolicy(strings.ToLower(getString("COORD_FALL_POLICY", string(FallSoftReset)))),
		StartPosition:     DefaultStartPosition,
		ProtocolVersion:   DefaultProtocolVersion,
		CommandRate:       DefaultCommandRate,
		CommandBurst:      DefaultCommandBurst,
		ReplayDir:         strings.TrimSpace(os.Getenv("COORD_REPLAY_DIR")),
		ReplayFlushWindow: DefaultReplayFlushWindow,
		ReplayFlushBurst:  DefaultReplayFlushBurst,
		ReplayMaxBundles:  DefaultReplayMaxBundles,
		ReplayMaxAge:      DefaultReplayMaxAge,
		MatchmakerURL:     strings.TrimSpace(os.Getenv("COORD_MATCHMAKER_URL")),
		MatchmakerEvery:   DefaultMatchmakerInterval,
		AdminToken:        strings.TrimSpace(os.Getenv("COORD_ADMIN_TOKEN")),
		Logging: LoggingConfig{
			Level:      getString("COORD_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("COORD_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	switch cfg.Mode {
	case ModeServer, ModeHost, ModeClient:
	default:
		problems = append(problems, fmt.Sprintf("COORD_MODE must be server, host or client, got %q", cfg.Mode))
	}

	switch cfg.GRPCCompression {
	case "snappy", "zstd":
	default:
		problems = append(problems, fmt.Sprintf("COORD_GRPC_COMPRESSION must be snappy or zstd, got %q", cfg.GRPCCompression))
	}

	switch cfg.FallPolicy {
	case FallSoftReset, FallHardDeath:
	default:
		problems = append(problems, fmt.Sprintf("COORD_FALL_POLICY must be soft or hard, got %q", cfg.FallPolicy))
	}

	positiveInt(&problems, "COORD_MAX_PLAYERS", &cfg.MaxPlayers)
	if cfg.MaxPlayers > MaxRosterSlots {
		problems = append(problems, fmt.Sprintf("COORD_MAX_PLAYERS must not exceed %d, got %d", MaxRosterSlots, cfg.MaxPlayers))
	}
	positiveInt(&problems, "COORD_START_THRESHOLD", &cfg.StartThreshold)
	if cfg.StartThreshold > cfg.MaxPlayers {
		problems = append(problems, fmt.Sprintf("COORD_START_THRESHOLD must not exceed COORD_MAX_PLAYERS (%d), got %d", cfg.MaxPlayers, cfg.StartThreshold))
	}
	positiveInt(&problems, "COORD_TICK_HZ", &cfg.TickHz)
	positiveInt(&problems, "COORD_BROADCAST_HZ", &cfg.BroadcastHz)
	positiveInt(&problems, "COORD_COMMAND_BURST", &cfg.CommandBurst)
	positiveInt(&problems, "COORD_REPLAY_FLUSH_BURST", &cfg.ReplayFlushBurst)
	positiveDuration(&problems, "COORD_RESPAWN_TIME", &cfg.RespawnTime)
	positiveDuration(&problems, "COORD_PING_INTERVAL", &cfg.PingInterval)
	positiveDuration(&problems, "COORD_REPLAY_FLUSH_WINDOW", &cfg.ReplayFlushWindow)
	positiveInt(&problems, "COORD_REPLAY_MAX_BUNDLES", &cfg.ReplayMaxBundles)
	positiveDuration(&problems, "COORD_REPLAY_MAX_AGE", &cfg.ReplayMaxAge)
	positiveDuration(&problems, "COORD_MATCHMAKER_INTERVAL", &cfg.MatchmakerEvery)

	if raw := strings.TrimSpace(os.Getenv("COORD_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("COORD_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORD_PROTOCOL_VERSION")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("COORD_PROTOCOL_VERSION must be a positive number, got %q", raw))
		} else {
			cfg.ProtocolVersion = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORD_COMMAND_RATE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("COORD_COMMAND_RATE must be a positive number, got %q", raw))
		} else {
			cfg.CommandRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORD_START_POSITION")); raw != "" {
		position, err := parseVector(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("COORD_START_POSITION must be three comma separated numbers, got %q", raw))
		} else {
			cfg.StartPosition = position
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORD_REPLAY_INPUT")); raw != "" {
		cut := strings.LastIndex(raw, ":")
		if cut <= 0 || cut == len(raw)-1 {
			problems = append(problems, fmt.Sprintf("COORD_REPLAY_INPUT must be <bundle dir>:<player id>, got %q", raw))
		} else {
			cfg.ReplayInput = ReplayInput{Bundle: raw[:cut], PlayerID: raw[cut+1:]}
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORD_MATCHMAKER")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("COORD_MATCHMAKER must be a boolean value, got %q", raw))
		} else {
			cfg.Matchmaker = value
		}
	}

	positiveInt(&problems, "COORD_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)

	if raw := strings.TrimSpace(os.Getenv("COORD_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("COORD_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORD_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("COORD_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORD_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("COORD_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

// TickInterval converts the tick rate into a step duration.
func (c *Config) TickInterval() time.Duration {
	if c == nil || c.TickHz <= 0 {
		return time.Second / DefaultTickHz
	}
	return time.Second / time.Duration(c.TickHz)
}

// BroadcastEvery reports how many ticks pass between two authoritative broadcasts.
func (c *Config) BroadcastEvery() int {
	if c == nil || c.BroadcastHz <= 0 || c.TickHz <= 0 {
		return DefaultTickHz / DefaultBroadcastHz
	}
	every := c.TickHz / c.BroadcastHz
	if every < 1 {
		return 1
	}
	return every
}

func positiveInt(problems *[]string, key string, target *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
		return
	}
	*target = value
}

func positiveDuration(problems *[]string, key string, target *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*target = duration
}

func parseVector(raw string) ([3]float64, error) {
	var out [3]float64
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected 3 components, got %d", len(parts))
	}
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return out, err
		}
		out[i] = value
	}
	return out, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
