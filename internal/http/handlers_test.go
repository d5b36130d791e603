package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hamsterball/coordinator/internal/fsm"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/match"
	"hamsterball/coordinator/internal/replay"
)

type stubSession struct {
	phase    match.Phase
	started  int
	startErr error
	hits     map[string]int
}

func (s *stubSession) Phase() match.Phase { return s.phase }

func (s *stubSession) State() fsm.Kind { return match.KindServerPreOpenMatch }

func (s *stubSession) Snapshot() match.ServerSnapshot {
	return match.ServerSnapshot{Phase: s.phase, Tick: 42, Roster: match.Snapshot{MatchID: "m-1"}}
}

func (s *stubSession) StartMatch() error {
	s.started++
	return s.startErr
}

func (s *stubSession) Hit(playerID string, amount int) error {
	if playerID != "p1" {
		return match.ErrUnknownPlayer
	}
	if s.hits == nil {
		s.hits = map[string]int{}
	}
	s.hits[playerID] += amount
	return nil
}

type stubLimiter struct{ remaining int }

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubFlusher struct {
	location string
	err      error
	calls    int
}

func (s *stubFlusher) Flush() (string, error) {
	s.calls++
	return s.location, s.err
}

func serve(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	router := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }}).Router()
	rr := serve(router, http.MethodGet, "/livez", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "alive" || body["timestamp"] != "2024-01-02T15:04:05Z" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadinessFailsInPreGame(t *testing.T) {
	session := &stubSession{phase: match.PhasePreGame}
	router := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Session: session}).Router()
	if rr := serve(router, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 in pre game, got %d", rr.Code)
	}
	session.phase = match.PhaseLobby
	rr := serve(router, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"phase":"lobby"`) {
		t.Fatalf("expected ready lobby, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSessionHandlerIncludesReplayStats(t *testing.T) {
	router := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Session:     &stubSession{phase: match.PhaseInProgress},
		ReplayStats: func() replay.Stats { return replay.Stats{Frames: 7} },
	}).Router()
	rr := serve(router, http.MethodGet, "/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Phase  string `json:"phase"`
		Tick   uint64 `json:"tick"`
		Roster struct {
			MatchID string `json:"match_id"`
		} `json:"roster"`
		Replay struct {
			Frames int64 `json:"frames"`
		} `json:"replay"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Phase != "in_progress" || body.Tick != 42 || body.Replay.Frames != 7 {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	clientOnly := NewHandlerSet(Options{Logger: logging.NewTestLogger()}).Router()
	if rr := serve(clientOnly, http.MethodGet, "/session", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a session, got %d", rr.Code)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "coordinator_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Add(3)
	router := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Gatherer: registry}).Router()
	rr := serve(router, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "coordinator_test_total 3") {
		t.Fatalf("unexpected metrics output %d %s", rr.Code, rr.Body.String())
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	session := &stubSession{phase: match.PhaseLobby}
	disabled := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Session: session}).Router()
	if rr := serve(disabled, http.MethodPost, "/match/start", "secret"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin token configured, got %d", rr.Code)
	}

	router := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Session: session, AdminToken: "secret"}).Router()
	if rr := serve(router, http.MethodPost, "/match/start", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodPost, "/match/start", "secret"); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	session.startErr = match.ErrNotInLobby
	if rr := serve(router, http.MethodPost, "/match/start", "secret"); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 outside the lobby, got %d", rr.Code)
	}
	if session.started != 2 {
		t.Fatalf("expected two start attempts, got %d", session.started)
	}
	if rr := serve(router, http.MethodGet, "/match/start", "secret"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rr.Code)
	}
}

func TestHitHandler(t *testing.T) {
	session := &stubSession{phase: match.PhaseInProgress}
	router := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Session: session, AdminToken: "secret"}).Router()

	req := httptest.NewRequest(http.MethodPost, "/players/p1/hit", strings.NewReader(`{"amount":2}`))
	req.Header.Set("X-Admin-Token", "secret")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted || session.hits["p1"] != 2 {
		t.Fatalf("expected hit of 2, got %d %v", rr.Code, session.hits)
	}
	if rr := serve(router, http.MethodPost, "/players/p1/hit", "secret"); rr.Code != http.StatusAccepted || session.hits["p1"] != 3 {
		t.Fatalf("empty body defaults to one, got %d %v", rr.Code, session.hits)
	}
	if rr := serve(router, http.MethodPost, "/players/ghost/hit", "secret"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown player, got %d", rr.Code)
	}
}

func TestReplayFlushHandler(t *testing.T) {
	flusher := &stubFlusher{location: "/tmp/replays/m-1"}
	limiter := &stubLimiter{remaining: 1}
	router := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Replay:      flusher,
		AdminToken:  "secret",
		RateLimiter: limiter,
	}).Router()

	rr := serve(router, http.MethodPost, "/replay/flush", "secret")
	if rr.Code != http.StatusAccepted || !strings.Contains(rr.Body.String(), flusher.location) {
		t.Fatalf("expected accepted flush, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := serve(router, http.MethodPost, "/replay/flush", "secret"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", rr.Code)
	}

	failing := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Replay:     &stubFlusher{err: errors.New("disk full")},
		AdminToken: "secret",
	}).Router()
	if rr := serve(failing, http.MethodPost, "/replay/flush", "secret"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	disabled := NewHandlerSet(Options{Logger: logging.NewTestLogger(), AdminToken: "secret"}).Router()
	if rr := serve(disabled, http.MethodPost, "/replay/flush", "secret"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when recording is disabled, got %d", rr.Code)
	}
}

func TestWebSocketRouteIsMounted(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	router := NewHandlerSet(Options{Logger: logging.NewTestLogger(), WebSocket: ws}).Router()
	serve(router, http.MethodGet, "/ws", "")
	if !called {
		t.Fatalf("expected /ws to reach the websocket handler")
	}
}

func TestReplayFlushAdvertisesRetryAfter(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	router := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Replay:      &stubFlusher{location: "x"},
		AdminToken:  "secret",
		RateLimiter: NewSlidingWindowLimiter(time.Minute, 1, func() time.Time { return now }),
	}).Router()
	serve(router, http.MethodPost, "/replay/flush", "secret")
	rr := serve(router, http.MethodPost, "/replay/flush", "secret")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
	}
}
