package wsnet

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hamsterball/coordinator/internal/auth"
	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/match"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultMaxPayload   = 1 << 20
	defaultQueueDepth   = 8
	writeWait           = 10 * time.Second
	helloWait           = 10 * time.Second
)

// SessionHost is the authoritative side the hub feeds.
type SessionHost interface {
	Join(connID string, version float64, sink command.SyncSink) (match.Seat, error)
	Leave(connID string) error
	Inbox() *command.Inbox
	ProtocolVersion() float64
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithTokens requires every upgrade to carry a valid session token.
func WithTokens(tokens *auth.Tokens) HubOption {
	return func(h *Hub) { h.tokens = tokens }
}

// WithAllowedOrigins restricts the Origin header. Empty or "*" allows any origin.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				allowed = nil
				break
			}
			if origin != "" {
				allowed[strings.ToLower(origin)] = struct{}{}
			}
		}
		if len(allowed) == 0 {
			h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		}
	}
}

// WithPingInterval sets how often idle sockets are pinged.
func WithPingInterval(interval time.Duration) HubOption {
	return func(h *Hub) {
		if interval > 0 {
			h.pingInterval = interval
		}
	}
}

// WithMaxPayload bounds inbound message size.
func WithMaxPayload(limit int64) HubOption {
	return func(h *Hub) {
		if limit > 0 {
			h.maxPayload = limit
		}
	}
}

// WithHubLogger overrides the logger.
func WithHubLogger(logger *logging.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Hub upgrades HTTP requests into session connections.
type Hub struct {
	host         SessionHost
	tokens       *auth.Tokens
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	maxPayload   int64
	logger       *logging.Logger
}

// NewHub wires websocket sessions to host.
func NewHub(host SessionHost, opts ...HubOption) *Hub {
	hub := &Hub{
		host: host,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: defaultPingInterval,
		maxPayload:   defaultMaxPayload,
		logger:       logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(hub)
		}
	}
	return hub
}

// ServeHTTP implements http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject := ""
	if h.tokens != nil {
		var err error
		subject, err = h.tokens.Authenticate(r)
		if err != nil {
			h.logger.Warn("websocket auth rejected", logging.String("remote_addr", r.RemoteAddr), logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.String("remote_addr", r.RemoteAddr), logging.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.maxPayload)

	connID := "ws-" + uuid.NewString()
	logger := h.logger.With(logging.String("conn_id", connID), logging.String("remote_addr", r.RemoteAddr))
	if subject != "" {
		logger = logger.With(logging.String("subject", subject))
	}

	//1.- Hello negotiates the protocol version before the player is seated.
	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	var hello Envelope
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != TypeHello {
		logger.Warn("websocket hello missing", logging.Error(err))
		closeWith(conn, websocket.ClosePolicyViolation, "hello expected")
		return
	}
	mailbox := command.NewMailbox(defaultQueueDepth)
	seat, err := h.host.Join(connID, hello.ProtocolVersion, mailbox)
	if err != nil {
		logger.Warn("websocket join refused", logging.Error(err))
		closeWith(conn, closeCodeFor(err), err.Error())
		return
	}
	defer func() {
		if err := h.host.Leave(connID); err != nil {
			logger.Warn("leave after socket close failed", logging.Error(err))
		}
	}()
	logger = logger.With(logging.String("player_id", seat.PlayerID))
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Envelope{Type: TypeWelcome, PlayerID: seat.PlayerID, Slot: seat.Slot, ProtocolVersion: h.host.ProtocolVersion()}); err != nil {
		logger.Warn("websocket welcome failed", logging.Error(err))
		return
	}
	logger.Info("websocket session opened")

	//2.- Reader: pongs extend the deadline and commands go to the inbox.
	pongWait := 2 * h.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var envelope Envelope
			if err := conn.ReadJSON(&envelope); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn("websocket read failed", logging.Error(err))
				}
				return
			}
			if envelope.Type != TypeCommand || envelope.Command == nil {
				logger.Debug("ignoring envelope", logging.String("type", envelope.Type))
				continue
			}
			if !h.host.Inbox().Push(command.Inbound{ConnID: connID, Command: *envelope.Command}) {
				logger.Debug("inbox full, command dropped")
			}
		}
	}()

	//3.- Writer: batches and pings share this goroutine.
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			logger.Info("websocket session closed")
			return
		case batch := <-mailbox.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Envelope{Type: TypeSync, Sync: &batch}); err != nil {
				logger.Warn("websocket write failed", logging.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Warn("websocket ping failed", logging.Error(err))
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func closeCodeFor(err error) int {
	switch {
	case errors.Is(err, match.ErrMatchFull), errors.Is(err, match.ErrNotListening):
		return websocket.CloseTryAgainLater
	default:
		return websocket.ClosePolicyViolation
	}
}
