// Package command defines the messages exchanged between the client and server roles
// and the channels that carry them. Roles never share memory; even on a host the
// local client talks to the server through a Loopback.
package command

import (
	"errors"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/player"
)

// Kind enumerates the client to server commands.
type Kind string

const (
	KindAddForce      Kind = "add_force"
	KindAddPosition   Kind = "add_position"
	KindResetPosition Kind = "reset_position"
	KindZeroMomentum  Kind = "zero_momentum"
	KindSetSpectator  Kind = "set_spectator"
)

// Valid reports whether k names a known command.
func (k Kind) Valid() bool {
	switch k {
	case KindAddForce, KindAddPosition, KindResetPosition, KindZeroMomentum, KindSetSpectator:
		return true
	}
	return false
}

// CarriesVector reports whether the command's Vector is meaningful.
func (k Kind) CarriesVector() bool { return k == KindAddForce || k == KindAddPosition }

var (
	// ErrNotAuthoritative is returned when a command reaches a role that may not apply it.
	ErrNotAuthoritative = errors.New("command requires the authoritative role")
	// ErrNotOwner is returned when a connection targets a player it does not control.
	ErrNotOwner = errors.New("connection does not own player")
	// ErrUnknownPlayer is returned when the target player is not on the roster.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrUnknownKind is returned for unrecognised command kinds.
	ErrUnknownKind = errors.New("unknown command kind")
	// ErrDropped is returned when the gate discards a duplicate or flooding command.
	ErrDropped = errors.New("command dropped")
	// ErrClosed is returned when sending on a closed channel.
	ErrClosed = errors.New("channel closed")
)

// Command is one client request. Every command is safe to ignore.
type Command struct {
	Kind     Kind       `json:"kind" msgpack:"kind"`
	PlayerID string     `json:"player_id" msgpack:"player_id"`
	Vector   mgl64.Vec3 `json:"vector,omitempty" msgpack:"vector,omitempty"`
	Flag     bool       `json:"flag,omitempty" msgpack:"flag,omitempty"`
	Sequence uint64     `json:"sequence" msgpack:"sequence"`
}

// AddForce builds a force command.
func AddForce(playerID string, force mgl64.Vec3) Command {
	return Command{Kind: KindAddForce, PlayerID: playerID, Vector: force}
}

// AddPosition builds a spectator translation command.
func AddPosition(playerID string, delta mgl64.Vec3) Command {
	return Command{Kind: KindAddPosition, PlayerID: playerID, Vector: delta}
}

// ResetPosition builds a teleport-to-start command.
func ResetPosition(playerID string) Command {
	return Command{Kind: KindResetPosition, PlayerID: playerID}
}

// ZeroMomentum builds a velocity reset command.
func ZeroMomentum(playerID string) Command {
	return Command{Kind: KindZeroMomentum, PlayerID: playerID}
}

// SetSpectator builds a spectator toggle command.
func SetSpectator(playerID string, spectator bool) Command {
	return Command{Kind: KindSetSpectator, PlayerID: playerID, Flag: spectator}
}

// PlayerStateSync is the authoritative state of one player at a server tick.
type PlayerStateSync struct {
	Tick uint64 `json:"tick" msgpack:"tick"`
	player.State
}

// SyncBatch is one broadcast: every rostered player at the same tick.
type SyncBatch struct {
	Tick    uint64            `json:"tick" msgpack:"tick"`
	Phase   string            `json:"phase" msgpack:"phase"`
	Players []PlayerStateSync `json:"players" msgpack:"players"`
}

// Inbound is a command tagged with the connection it arrived on.
type Inbound struct {
	ConnID  string
	Command Command
}

// Sender carries commands from a client to the server.
type Sender interface {
	Send(cmd Command) error
}

// SyncSink receives authoritative broadcasts on the server side of a link.
type SyncSink interface {
	Broadcast(batch SyncBatch)
}

// SyncSource is drained by a client once per tick.
type SyncSource interface {
	DrainSyncs() []SyncBatch
}

// Inbox is the server's thread-safe command queue shared by every transport.
type Inbox struct {
	mu       sync.Mutex
	pending  []Inbound
	capacity int
	dropped  uint64
}

// NewInbox constructs an inbox bounded at capacity entries; zero means unbounded.
func NewInbox(capacity int) *Inbox {
	return &Inbox{capacity: capacity}
}

// Push enqueues a command. It never blocks; when full the command is dropped.
func (i *Inbox) Push(in Inbound) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.capacity > 0 && len(i.pending) >= i.capacity {
		i.dropped++
		return false
	}
	i.pending = append(i.pending, in)
	return true
}

// Drain removes and returns every queued command in arrival order.
func (i *Inbox) Drain() []Inbound {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.pending
	i.pending = nil
	return out
}

// Dropped reports how many commands overflowed the inbox.
func (i *Inbox) Dropped() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dropped
}

// Fanout broadcasts to a changing set of sinks.
type Fanout struct {
	mu    sync.RWMutex
	sinks map[string]SyncSink
}

// NewFanout constructs an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{sinks: make(map[string]SyncSink)}
}

// Attach registers sink under connID, replacing any previous sink.
func (f *Fanout) Attach(connID string, sink SyncSink) {
	f.mu.Lock()
	f.sinks[connID] = sink
	f.mu.Unlock()
}

// Detach removes the sink for connID.
func (f *Fanout) Detach(connID string) {
	f.mu.Lock()
	delete(f.sinks, connID)
	f.mu.Unlock()
}

// Len reports how many sinks are attached.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Broadcast implements SyncSink.
func (f *Fanout) Broadcast(batch SyncBatch) {
	f.mu.RLock()
	sinks := make([]SyncSink, 0, len(f.sinks))
	for _, sink := range f.sinks {
		sinks = append(sinks, sink)
	}
	f.mu.RUnlock()
	for _, sink := range sinks {
		deliver(sink, batch)
	}
}

// deliver isolates one sink so a failing connection cannot starve the others.
func deliver(sink SyncSink, batch SyncBatch) {
	defer func() { _ = recover() }()
	sink.Broadcast(batch)
}

// Mailbox is a bounded SyncSink for connections drained by their own writer goroutine.
// When the writer falls behind the oldest batch is discarded; the newest state wins.
type Mailbox struct {
	ch      chan SyncBatch
	mu      sync.Mutex
	dropped uint64
}

// NewMailbox constructs a mailbox holding up to depth batches.
func NewMailbox(depth int) *Mailbox {
	if depth <= 0 {
		depth = 1
	}
	return &Mailbox{ch: make(chan SyncBatch, depth)}
}

// Broadcast implements SyncSink without blocking the tick loop.
func (m *Mailbox) Broadcast(batch SyncBatch) {
	batch = CloneBatch(batch)
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		select {
		case m.ch <- batch:
			return
		default:
		}
		select {
		case <-m.ch:
			m.dropped++
		default:
		}
	}
}

// C is the channel a writer goroutine reads from.
func (m *Mailbox) C() <-chan SyncBatch { return m.ch }

// Dropped reports how many batches were discarded for a slow reader.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
