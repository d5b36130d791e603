// Package httpapi serves the coordinator's operational HTTP surface: health probes,
// the session view, Prometheus metrics, the websocket upgrade and a few admin actions.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hamsterball/coordinator/internal/fsm"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/match"
	"hamsterball/coordinator/internal/replay"
	"hamsterball/coordinator/internal/simulation"
)

// Session is the authoritative server as seen from HTTP.
type Session interface {
	Phase() match.Phase
	State() fsm.Kind
	Snapshot() match.ServerSnapshot
	StartMatch() error
	Hit(playerID string, amount int) error
}

// ReplayFlusher makes the active recording readable and reports where it lives.
type ReplayFlusher interface {
	Flush() (string, error)
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

type retryAfter interface {
	RetryAfter() time.Duration
}

// Options configures the HandlerSet. Every collaborator is optional.
type Options struct {
	Logger         *logging.Logger
	Session        Session
	Gatherer       prometheus.Gatherer
	WebSocket      http.Handler
	Replay         ReplayFlusher
	ReplayStats    func() replay.Stats
	Storage        func() replay.StorageStats
	Ticks          func() simulation.TickMetricsSnapshot
	AdminToken     string
	RateLimiter    RateLimiter
	AllowedOrigins []string
	TimeSource     func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	session     Session
	gatherer    prometheus.Gatherer
	websocket   http.Handler
	replay      ReplayFlusher
	replayStats func() replay.Stats
	storage     func() replay.StorageStats
	ticks       func() simulation.TickMetricsSnapshot
	adminToken  string
	rateLimiter RateLimiter
	origins     []string
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		session:     opts.Session,
		gatherer:    opts.Gatherer,
		websocket:   opts.WebSocket,
		replay:      opts.Replay,
		replayStats: opts.ReplayStats,
		storage:     opts.Storage,
		ticks:       opts.Ticks,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		origins:     opts.AllowedOrigins,
		now:         now,
		started:     now(),
	}
}

// Router builds the chi router with every route mounted.
func (h *HandlerSet) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	origins := h.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Admin-Token", "X-Auth-Token"},
		MaxAge:         300,
	}))

	r.Get("/livez", h.LivenessHandler())
	r.Get("/readyz", h.ReadinessHandler())
	r.Get("/session", h.SessionHandler())
	r.Handle("/metrics", h.MetricsHandler())
	if h.websocket != nil {
		r.Handle("/ws", h.websocket)
	}
	r.Group(func(admin chi.Router) {
		admin.Use(h.requireAdmin)
		admin.Post("/match/start", h.StartMatchHandler())
		admin.Post("/players/{playerID}/hit", h.HitHandler())
		admin.Post("/replay/flush", h.ReplayFlushHandler())
	})
	return r
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler fails while the server is still in pre game, which includes a
// server whose startup gave up waiting for its listener.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		Phase         string  `json:"phase,omitempty"`
		State         string  `json:"state,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", UptimeSeconds: h.now().Sub(h.started).Seconds()}
		if h.session != nil {
			resp.Phase = string(h.session.Phase())
			resp.State = string(h.session.State())
			if h.session.Phase() == match.PhasePreGame {
				status = http.StatusServiceUnavailable
				resp.Status = "starting"
				resp.Message = "server is not listening for clients"
			}
		}
		writeJSON(w, status, resp)
	}
}

// SessionHandler returns the roster, phase, finish times and player states.
func (h *HandlerSet) SessionHandler() http.HandlerFunc {
	type response struct {
		match.ServerSnapshot
		Ticks   *simulation.TickMetricsSnapshot `json:"ticks,omitempty"`
		Replay  *replay.Stats                   `json:"replay,omitempty"`
		Storage *replay.StorageStats            `json:"storage,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.session == nil {
			http.Error(w, "no authoritative session on this peer", http.StatusNotFound)
			return
		}
		resp := response{ServerSnapshot: h.session.Snapshot()}
		if h.ticks != nil {
			ticks := h.ticks()
			resp.Ticks = &ticks
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			resp.Replay = &stats
		}
		if h.storage != nil {
			storage := h.storage()
			resp.Storage = &storage
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler exposes the Prometheus registry.
func (h *HandlerSet) MetricsHandler() http.Handler {
	gatherer := h.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StartMatchHandler opens the match from the lobby, for matchmaker driven sessions.
func (h *HandlerSet) StartMatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.session == nil {
			http.Error(w, "no authoritative session on this peer", http.StatusNotFound)
			return
		}
		if err := h.session.StartMatch(); err != nil {
			if errors.Is(err, match.ErrNotInLobby) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.logger.Info("match started over http", logging.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// HitHandler applies damage to one player.
func (h *HandlerSet) HitHandler() http.HandlerFunc {
	type request struct {
		Amount int `json:"amount"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.session == nil {
			http.Error(w, "no authoritative session on this peer", http.StatusNotFound)
			return
		}
		body := request{Amount: 1}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
		}
		playerID := chi.URLParam(r, "playerID")
		if err := h.session.Hit(playerID, body.Amount); err != nil {
			if errors.Is(err, match.ErrUnknownPlayer) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "player_id": playerID, "amount": body.Amount})
	}
}

// ReplayFlushHandler flushes the active recording.
func (h *HandlerSet) ReplayFlushHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_flush"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("replay flush denied: rate limit exceeded")
			if limiter, ok := h.rateLimiter.(retryAfter); ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limiter.RetryAfter().Seconds()))))
			}
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.replay == nil {
			reqLogger.Warn("replay flush denied: recording disabled")
			http.Error(w, "replay recording is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.Flush()
		if err != nil {
			reqLogger.Error("replay flush failed", logging.Error(err))
			http.Error(w, "failed to flush replay", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay flushed", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			h.logger.Warn("admin request denied: admin auth disabled", logging.String("path", r.URL.Path))
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			h.logger.Warn("admin request denied: unauthorized", logging.String("path", r.URL.Path))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
