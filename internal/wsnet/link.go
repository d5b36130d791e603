package wsnet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/logging"
)

// Link is the remote client side of a websocket session.
type Link struct {
	conn        *websocket.Conn
	playerID    string
	slot        int
	peerVersion float64
	logger      *logging.Logger

	writeMu sync.Mutex

	mu    sync.Mutex
	syncs []command.SyncBatch
	open  bool
}

// Dial connects to url, sends the hello and waits for the welcome. A non empty token
// is sent in the X-Auth-Token header.
func Dial(ctx context.Context, url, token string, version float64, logger *logging.Logger) (*Link, error) {
	if logger == nil {
		logger = logging.L()
	}
	header := http.Header{}
	if token != "" {
		header.Set("X-Auth-Token", token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if err := conn.WriteJSON(Envelope{Type: TypeHello, ProtocolVersion: version}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	var welcome Envelope
	if err := conn.ReadJSON(&welcome); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await welcome: %w", err)
	}
	if welcome.Type != TypeWelcome || welcome.PlayerID == "" {
		_ = conn.Close()
		return nil, errors.New("server did not welcome the connection")
	}
	_ = conn.SetReadDeadline(time.Time{})
	link := &Link{
		conn:        conn,
		playerID:    welcome.PlayerID,
		slot:        welcome.Slot,
		peerVersion: welcome.ProtocolVersion,
		logger:      logger.With(logging.String("player_id", welcome.PlayerID)),
		open:        true,
	}
	go link.readLoop()
	return link, nil
}

// PlayerID returns the player the server assigned.
func (l *Link) PlayerID() string { return l.playerID }

// Slot returns the assigned slot.
func (l *Link) Slot() int { return l.slot }

// PeerProtocolVersion is the version the server announced in its welcome.
func (l *Link) PeerProtocolVersion() float64 { return l.peerVersion }

func (l *Link) readLoop() {
	defer l.markClosed()
	for {
		var envelope Envelope
		if err := l.conn.ReadJSON(&envelope); err != nil {
			l.logger.Info("websocket link ended", logging.Error(err))
			return
		}
		if envelope.Type != TypeSync || envelope.Sync == nil {
			continue
		}
		l.mu.Lock()
		if l.open {
			l.syncs = append(l.syncs, *envelope.Sync)
		}
		l.mu.Unlock()
	}
}

// Send implements command.Sender.
func (l *Link) Send(cmd command.Command) error {
	if !l.Connected() {
		return command.ErrClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteJSON(Envelope{Type: TypeCommand, Command: &cmd}); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// DrainSyncs implements command.SyncSource.
func (l *Link) DrainSyncs() []command.SyncBatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.syncs
	l.syncs = nil
	return out
}

// Connected reports whether the socket is open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// PeerCount is one while the server is reachable.
func (l *Link) PeerCount() int {
	if l.Connected() {
		return 1
	}
	return 0
}

// Close says goodbye and drops the socket.
func (l *Link) Close() {
	l.writeMu.Lock()
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	l.writeMu.Unlock()
	_ = l.conn.Close()
	l.markClosed()
}

func (l *Link) markClosed() {
	l.mu.Lock()
	l.open = false
	l.syncs = nil
	l.mu.Unlock()
}
