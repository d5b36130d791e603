package command

import "sync"

// Loopback links a client and a server running in the same process. Both directions
// copy values so neither role can reach into the other's memory.
type Loopback struct {
	connID string
	inbox  *Inbox

	mu          sync.Mutex
	syncs       []SyncBatch
	open        bool
	peerVersion float64
}

// NewLoopback opens a link that delivers commands into inbox under connID.
func NewLoopback(connID string, inbox *Inbox) *Loopback {
	return &Loopback{connID: connID, inbox: inbox, open: true}
}

// ConnID returns the connection identifier the server sees.
func (l *Loopback) ConnID() string { return l.connID }

// Welcome records the protocol version the in-process server announced.
func (l *Loopback) Welcome(version float64) {
	l.mu.Lock()
	l.peerVersion = version
	l.mu.Unlock()
}

// PeerProtocolVersion is the server's version, zero before Welcome.
func (l *Loopback) PeerProtocolVersion() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peerVersion
}

// Send implements Sender.
func (l *Loopback) Send(cmd Command) error {
	l.mu.Lock()
	open := l.open
	l.mu.Unlock()
	if !open {
		return ErrClosed
	}
	if !l.inbox.Push(Inbound{ConnID: l.connID, Command: cmd}) {
		return ErrDropped
	}
	return nil
}

// Broadcast implements SyncSink for the server side of the link.
func (l *Loopback) Broadcast(batch SyncBatch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return
	}
	l.syncs = append(l.syncs, CloneBatch(batch))
}

// DrainSyncs implements SyncSource.
func (l *Loopback) DrainSyncs() []SyncBatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.syncs
	l.syncs = nil
	return out
}

// Connected reports whether the link is open.
func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// PeerCount is one while the in-process server is reachable.
func (l *Loopback) PeerCount() int {
	if l.Connected() {
		return 1
	}
	return 0
}

// Close shuts the link; later sends fail and broadcasts are discarded.
func (l *Loopback) Close() {
	l.mu.Lock()
	l.open = false
	l.syncs = nil
	l.mu.Unlock()
}

// CloneBatch deep copies a batch.
func CloneBatch(batch SyncBatch) SyncBatch {
	out := batch
	if batch.Players != nil {
		out.Players = make([]PlayerStateSync, len(batch.Players))
		copy(out.Players, batch.Players)
	}
	return out
}
