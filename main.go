package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"hamsterball/coordinator/internal/auth"
	"hamsterball/coordinator/internal/config"
	grpcapi "hamsterball/coordinator/internal/grpc"
	httpapi "hamsterball/coordinator/internal/http"
	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/match"
	"hamsterball/coordinator/internal/matchmaker"
	"hamsterball/coordinator/internal/metrics"
	"hamsterball/coordinator/internal/physics"
	"hamsterball/coordinator/internal/player"
	"hamsterball/coordinator/internal/replay"
	"hamsterball/coordinator/internal/simulation"
	"hamsterball/coordinator/internal/wsnet"
)

const (
	clientTokenTTL   = 12 * time.Hour
	retentionSweep   = time.Minute
	shutdownDeadline = 5 * time.Second
	grpcScheme       = "grpc://"
)

func main() {
	//1.- A .env file is optional; real environment variables always win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := newApp(ctx, cfg, logger, registry)
	if err != nil {
		logger.Fatal("coordinator setup failed", logging.Error(err))
	}
	if err := app.run(ctx); err != nil {
		logger.Error("coordinator stopped with error", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("coordinator stopped")
}

// app owns every long lived component of one coordinator process.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry

	server      *match.Server
	client      *match.Client
	coordinator *match.Coordinator
	recorder    *replay.Recorder
	cleaner     *replay.Cleaner
	matchmaker  *matchmaker.Controller
	monitor     *simulation.TickMonitor
	loop        *simulation.Loop

	listening atomic.Bool
	http      *http.Server
	grpc      *grpc.Server
	endpoints endpoints
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, registry *prometheus.Registry) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: registry, monitor: simulation.NewTickMonitor(cfg.TickInterval())}

	if cfg.Mode != config.ModeClient {
		if err := a.buildServer(); err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.Mode != config.ModeServer {
		if err := a.buildClient(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	a.coordinator = match.NewCoordinator(a.client, a.server, logger)
	if cfg.Mode == config.ModeHost {
		seat, err := a.coordinator.JoinLocal(cfg.ProtocolVersion)
		if err != nil {
			//2.- The local join waits for the listener; retry once the loop has ticked.
			logger.Debug("local join deferred", logging.Error(err))
		} else {
			logger.Info("local player seated", logging.String("player_id", seat.PlayerID), logging.Int("slot", seat.Slot))
		}
	}
	a.loop = simulation.NewLoop(float64(cfg.TickHz), simulation.TickerFunc(a.tick),
		simulation.WithMonitor(a.monitor),
		simulation.WithLoopLogger(logger),
	)
	return a, nil
}

func (a *app) buildServer() error {
	collector, err := metrics.New(a.registry,
		string(match.PhasePreGame), string(match.PhaseLobby), string(match.PhaseInProgress), string(match.PhaseEndGame))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if a.cfg.MatchmakerURL != "" {
		advertiser, err := matchmaker.NewHTTPAdvertiser(a.cfg.MatchmakerURL, &http.Client{Timeout: 2 * time.Second})
		if err != nil {
			return fmt.Errorf("matchmaker: %w", err)
		}
		a.matchmaker = matchmaker.NewController(advertiser, a.logger)
	} else {
		a.matchmaker = matchmaker.NewStatic(a.cfg.Matchmaker)
	}

	effects := &effectLog{logger: a.logger}
	opts := []match.ServerOption{
		match.WithListener(match.ListenerFunc(a.listening.Load)),
		match.WithMatchmaker(a.matchmaker),
		match.WithSimulator(physics.NewWorld(courseOptions()...)),
		match.WithServerEffects(effects),
		match.WithServerMetrics(collector),
		match.WithServerLogger(a.logger),
	}

	var server *match.Server
	if a.cfg.ReplayDir != "" {
		recorder, err := replay.NewRecorder(a.cfg.ReplayDir,
			replay.WithTickInterval(a.cfg.TickInterval()),
			replay.WithMatchIDSource(func() string {
				if server == nil {
					return "startup"
				}
				return server.Roster().MatchID()
			}),
			replay.WithHeaderTemplate(replay.Header{
				ProtocolVersion: a.cfg.ProtocolVersion,
				MaxPlayers:      a.cfg.MaxPlayers,
				StartThreshold:  a.cfg.StartThreshold,
				TickHz:          float64(a.cfg.TickHz),
			}),
			replay.WithRecorderLogger(a.logger),
		)
		if err != nil {
			return fmt.Errorf("replay recorder: %w", err)
		}
		a.recorder = recorder
		effects.recorder = recorder
		a.cleaner = replay.NewCleaner(a.cfg.ReplayDir, replay.RetentionPolicy{
			MaxBundles: a.cfg.ReplayMaxBundles,
			MaxAge:     a.cfg.ReplayMaxAge,
		}, recorder.Active, a.logger)
		opts = append(opts, match.WithEventSink(recorder))
		a.closers = append(a.closers, func() {
			if err := recorder.Close(); err != nil {
				a.logger.Warn("replay close failed", logging.Error(err))
			}
		})
	}

	server, err = match.NewServer(match.ServerConfig{
		Capacity:       match.Capacity{MaxPlayers: a.cfg.MaxPlayers, StartThreshold: a.cfg.StartThreshold},
		RespawnTime:    a.cfg.RespawnTime,
		FallPolicy:     fallPolicy(a.cfg.FallPolicy),
		StartPosition:  mgl64.Vec3(a.cfg.StartPosition),
		BroadcastEvery: a.cfg.BroadcastEvery(),
		Gate:           input.Config{Rate: a.cfg.CommandRate, Burst: a.cfg.CommandBurst},
		ProtocolVersion: a.cfg.ProtocolVersion,
	}, opts...)
	if err != nil {
		return fmt.Errorf("match server: %w", err)
	}
	a.server = server
	return nil
}

func (a *app) buildClient(ctx context.Context) error {
	source, err := inputSource(a.cfg.ReplayInput, a.logger)
	if err != nil {
		return err
	}
	a.client = match.NewClient(match.ClientConfig{
		StartPosition:   mgl64.Vec3(a.cfg.StartPosition),
		ProtocolVersion: a.cfg.ProtocolVersion,
	},
		match.WithInputSource(source),
		match.WithClientSimulator(physics.NewWorld(courseOptions()...)),
		match.WithClientLogger(a.logger),
	)
	if a.cfg.Mode != config.ModeClient {
		return nil
	}
	link, playerID, err := dialServer(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.client.OnClientConnect(link)
	a.client.AssignLocal(playerID)
	a.closers = append(a.closers, link.Close)
	a.logger.Info("connected to server", logging.String("server_url", a.cfg.ServerURL), logging.String("player_id", playerID))
	return nil
}

// inputSource plays a recorded player's track when one is configured; otherwise the
// local player idles on a static source.
func inputSource(recorded config.ReplayInput, logger *logging.Logger) (input.Source, error) {
	if !recorded.Enabled() {
		return input.NewStaticSource(), nil
	}
	bundle, err := replay.Open(recorded.Bundle)
	if err != nil {
		return nil, fmt.Errorf("replay input: %w", err)
	}
	samples := bundle.InputTrack(recorded.PlayerID)
	if len(samples) == 0 {
		return nil, fmt.Errorf("replay input: no commands recorded for player %q in %s", recorded.PlayerID, recorded.Bundle)
	}
	logger.Info("driving local input from replay",
		logging.String("bundle", recorded.Bundle),
		logging.String("player_id", recorded.PlayerID),
		logging.Int("samples", len(samples)))
	return input.NewReplaySource(samples), nil
}

type closableLink interface {
	match.Link
	Close()
}

// dialServer connects a pure client. ws and wss URLs use the websocket transport;
// anything else is treated as a gRPC target.
func dialServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (closableLink, string, error) {
	target, websocket := clientTransport(cfg.ServerURL)
	if websocket {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		token := ""
		if cfg.WSAuthSecret != "" {
			tokens, err := auth.NewTokens(cfg.WSAuthSecret, 0)
			if err != nil {
				return nil, "", err
			}
			if token, err = tokens.Issue("client", clientTokenTTL); err != nil {
				return nil, "", err
			}
		}
		link, err := wsnet.Dial(dialCtx, target, token, cfg.ProtocolVersion, logger)
		if err != nil {
			return nil, "", fmt.Errorf("websocket dial: %w", err)
		}
		return link, link.PlayerID(), nil
	}
	//1.- The stream lives as long as ctx, so the process context is passed through.
	link, err := grpcapi.Dial(ctx, target, cfg.GRPCSharedSecret, cfg.ProtocolVersion, logger)
	if err != nil {
		return nil, "", fmt.Errorf("grpc dial: %w", err)
	}
	return link, link.Welcome().PlayerID, nil
}

func clientTransport(serverURL string) (string, bool) {
	trimmed := strings.TrimSpace(serverURL)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		return trimmed, true
	case strings.HasPrefix(lower, grpcScheme):
		return trimmed[len(grpcScheme):], false
	default:
		return trimmed, false
	}
}

func (a *app) tick(dt time.Duration) {
	if a.cfg.Mode == config.ModeHost && a.coordinator.Client().LocalID() == "" && a.server.Phase() != match.PhasePreGame {
		if _, err := a.coordinator.JoinLocal(a.cfg.ProtocolVersion); err != nil {
			a.logger.Debug("local join pending", logging.Error(err))
		}
	}
	a.coordinator.Tick(dt)
}

func (a *app) run(ctx context.Context) error {
	errs := make(chan error, 2)
	var wg sync.WaitGroup

	if a.server != nil {
		if err := a.serveHTTP(errs); err != nil {
			a.shutdown()
			return err
		}
		if err := a.serveGRPC(errs); err != nil {
			a.shutdown()
			return err
		}
		a.listening.Store(true)
	}
	if a.cleaner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.cleaner.Run(ctx, retentionSweep)
		}()
	}
	if a.server != nil && a.cfg.MatchmakerURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.matchmaker.Run(ctx, a.cfg.MatchmakerEvery, a.listing)
		}()
	}
	a.loop.Start(ctx)
	a.logger.Info("coordinator running",
		logging.String("mode", string(a.cfg.Mode)),
		logging.Int("tick_hz", a.cfg.TickHz),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	a.shutdown()
	wg.Wait()
	return runErr
}

func (a *app) serveHTTP(errs chan<- error) error {
	hubOpts := []wsnet.HubOption{
		wsnet.WithAllowedOrigins(a.cfg.AllowedOrigins),
		wsnet.WithPingInterval(a.cfg.PingInterval),
		wsnet.WithMaxPayload(a.cfg.MaxPayloadBytes),
		wsnet.WithHubLogger(a.logger),
	}
	if a.cfg.WSAuthSecret != "" {
		tokens, err := auth.NewTokens(a.cfg.WSAuthSecret, 30*time.Second)
		if err != nil {
			return fmt.Errorf("websocket tokens: %w", err)
		}
		hubOpts = append(hubOpts, wsnet.WithTokens(tokens))
	} else {
		a.logger.Warn("websocket authentication disabled; set COORD_WS_AUTH_SECRET to require tokens")
	}

	opts := httpapi.Options{
		Logger:         a.logger,
		Session:        a.server,
		Gatherer:       a.registry,
		WebSocket:      wsnet.NewHub(a.server, hubOpts...),
		Ticks:          a.monitor.Snapshot,
		AdminToken:     a.cfg.AdminToken,
		RateLimiter:    httpapi.NewSlidingWindowLimiter(a.cfg.ReplayFlushWindow, a.cfg.ReplayFlushBurst, nil),
		AllowedOrigins: a.cfg.AllowedOrigins,
	}
	if a.recorder != nil {
		opts.Replay = a.recorder
		opts.ReplayStats = a.recorder.Stats
		opts.Storage = a.cleaner.Stats
	}

	listener, err := net.Listen("tcp", a.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Address, err)
	}
	a.http = &http.Server{
		Handler:           httpapi.NewHandlerSet(opts).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.endpoints = announce(listener.Addr().String(), "")
	a.logger.Info("http listening",
		logging.String("url", a.endpoints.Status),
		logging.String("join_url", a.endpoints.WebSocket))
	go func() {
		if err := a.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http serve: %w", err)
		}
	}()
	return nil
}

func (a *app) serveGRPC(errs chan<- error) error {
	if a.cfg.GRPCAddress == "" {
		return nil
	}
	compressor, err := grpcapi.NewCompressor(a.cfg.GRPCCompression)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", a.cfg.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.GRPCAddress, err)
	}
	a.grpc = grpc.NewServer(grpcapi.ServerOptions(a.cfg.GRPCSharedSecret, a.logger)...)
	grpcapi.NewService(a.server, grpcapi.WithCompressor(compressor), grpcapi.WithLogger(a.logger)).Register(a.grpc)
	a.endpoints.GRPC = announce("", listener.Addr().String()).GRPC
	a.logger.Info("grpc listening", logging.String("join_url", a.endpoints.GRPC))
	go func() {
		if err := a.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errs <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	return nil
}

func (a *app) listing() matchmaker.Listing {
	snapshot := a.server.Snapshot()
	return matchmaker.Listing{
		MatchID:    snapshot.Roster.MatchID,
		Phase:      string(snapshot.Phase),
		Players:    len(snapshot.Players),
		MaxPlayers: a.cfg.MaxPlayers,
		JoinURL:    a.endpoints.WebSocket,
		GRPCURL:    a.endpoints.GRPC,
	}
}

func (a *app) shutdown() {
	//1.- Stop ticking before the transports so no broadcast races a closing sink.
	a.loop.Stop()
	a.listening.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if a.http != nil {
		if err := a.http.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown failed", logging.Error(err))
		}
	}
	if a.grpc != nil {
		stopped := make(chan struct{})
		go func() {
			a.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			a.grpc.Stop()
		}
	}
	if a.cfg.Mode == config.ModeHost {
		if err := a.coordinator.LeaveLocal(); err != nil {
			a.logger.Debug("local leave failed", logging.Error(err))
		}
	}
	a.close()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func fallPolicy(policy config.FallPolicy) player.FallPolicy {
	if policy == config.FallHardDeath {
		return player.FallHardDeath
	}
	return player.FallSoftReset
}

// courseOptions lays out the default level: one floor slab with the goal at its far end.
func courseOptions() []physics.WorldOption {
	return []physics.WorldOption{
		physics.WithPlatforms(physics.Volume{Min: mgl64.Vec3{-20, -1, -20}, Max: mgl64.Vec3{20, 0, 60}}),
		physics.WithGoals(physics.Volume{Min: mgl64.Vec3{-3, 0, 55}, Max: mgl64.Vec3{3, 4, 60}}),
	}
}

// effectLog stands in for a renderer on headless processes.
type effectLog struct {
	logger   *logging.Logger
	recorder *replay.Recorder
}

func (e *effectLog) SpawnEffect(kind player.EffectKind, position mgl64.Vec3) {
	e.logger.Debug("effect spawned", logging.String("kind", string(kind)), logging.Any("position", position))
	if e.recorder != nil {
		e.recorder.RecordEvent("effect", map[string]any{"kind": kind, "position": position})
	}
}
