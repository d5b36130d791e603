package match

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxSlots is the fixed size of the finish time table.
const MaxSlots = 4

// NotFinished marks a slot that has not reached the goal in the current match.
const NotFinished = -1.0

var (
	// ErrInvalidPlayerID is returned when a join request omits the participant identifier.
	ErrInvalidPlayerID = errors.New("player id must not be empty")
	// ErrMatchFull indicates that every roster slot is taken.
	ErrMatchFull = errors.New("match capacity reached")
	// ErrInvalidCapacity is returned when capacity values violate basic invariants.
	ErrInvalidCapacity = errors.New("invalid match capacity configuration")
	// ErrUnknownConnection is returned when a connection has no seat.
	ErrUnknownConnection = errors.New("connection has no seat")
)

// Capacity expresses the participant limits for a roster.
type Capacity struct {
	MaxPlayers     int `json:"max_players"`
	StartThreshold int `json:"start_threshold"`
}

// Validate checks the capacity against the slot table.
func (c Capacity) Validate() error {
	if c.MaxPlayers <= 0 || c.MaxPlayers > MaxSlots {
		return fmt.Errorf("%w: max players must be within 1..%d", ErrInvalidCapacity, MaxSlots)
	}
	if c.StartThreshold <= 0 || c.StartThreshold > c.MaxPlayers {
		return fmt.Errorf("%w: start threshold %d outside 1..%d", ErrInvalidCapacity, c.StartThreshold, c.MaxPlayers)
	}
	return nil
}

// Seat binds a connection to the player it controls.
type Seat struct {
	PlayerID        string    `json:"player_id"`
	ConnID          string    `json:"conn_id"`
	Slot            int       `json:"slot"`
	JoinedAt        time.Time `json:"joined_at"`
	ProtocolVersion float64   `json:"protocol_version"`
}

// Snapshot captures a stable view of the roster for observers.
type Snapshot struct {
	MatchID     string            `json:"match_id"`
	Capacity    Capacity          `json:"capacity"`
	Seats       []Seat            `json:"seats"`
	FinishTimes [MaxSlots]float64 `json:"finish_times"`
}

// RosterOption configures optional Roster behaviour at construction time.
type RosterOption func(*Roster)

// WithRosterClock overrides the wall clock used for join timestamps.
func WithRosterClock(clock func() time.Time) RosterOption {
	return func(r *Roster) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithRosterMatchID pins the match identifier instead of generating one.
func WithRosterMatchID(id string) RosterOption {
	return func(r *Roster) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			r.id = trimmed
		}
	}
}

// Roster tracks who is in the session, which slot each player holds and when each
// slot finished. It is safe for concurrent use so transports can query it directly.
type Roster struct {
	mu sync.RWMutex

	id       string
	capacity Capacity
	slots    [MaxSlots]*Seat
	byConn   map[string]*Seat
	byPlayer map[string]*Seat
	finish   [MaxSlots]float64
	now      func() time.Time
}

// NewRoster constructs an empty roster.
func NewRoster(capacity Capacity, opts ...RosterOption) (*Roster, error) {
	if err := capacity.Validate(); err != nil {
		return nil, err
	}
	r := &Roster{
		capacity: capacity,
		byConn:   make(map[string]*Seat),
		byPlayer: make(map[string]*Seat),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.resetFinishLocked()
	return r, nil
}

// MatchID identifies the current session.
func (r *Roster) MatchID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

// Capacity returns the configured limits.
func (r *Roster) Capacity() Capacity { return r.capacity }

// Join seats connID under playerID in the lowest free slot. Joining again on the same
// connection returns the existing seat.
func (r *Roster) Join(connID, playerID string, version float64) (Seat, error) {
	connID = strings.TrimSpace(connID)
	playerID = strings.TrimSpace(playerID)
	if connID == "" || playerID == "" {
		return Seat{}, ErrInvalidPlayerID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if seat, ok := r.byConn[connID]; ok {
		return *seat, nil
	}
	if _, taken := r.byPlayer[playerID]; taken {
		return Seat{}, fmt.Errorf("%w: %s already seated", ErrInvalidPlayerID, playerID)
	}
	//1.- Only the first MaxPlayers slots are ever handed out.
	slot := -1
	for i := 0; i < r.capacity.MaxPlayers; i++ {
		if r.slots[i] == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return Seat{}, ErrMatchFull
	}
	seat := &Seat{
		PlayerID:        playerID,
		ConnID:          connID,
		Slot:            slot,
		JoinedAt:        r.now(),
		ProtocolVersion: version,
	}
	r.slots[slot] = seat
	r.byConn[connID] = seat
	r.byPlayer[playerID] = seat
	return *seat, nil
}

// LeaveConn frees the seat held by connID and returns it.
func (r *Roster) LeaveConn(connID string) (Seat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat, ok := r.byConn[connID]
	if !ok {
		return Seat{}, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	r.slots[seat.Slot] = nil
	//1.- A freed slot forgets its finish so the next occupant starts clean.
	r.finish[seat.Slot] = NotFinished
	delete(r.byConn, connID)
	delete(r.byPlayer, seat.PlayerID)
	return *seat, nil
}

// Owner resolves the player controlled by connID.
func (r *Roster) Owner(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seat, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	return seat.PlayerID, true
}

// SeatOf returns the seat held by playerID.
func (r *Roster) SeatOf(playerID string) (Seat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seat, ok := r.byPlayer[playerID]
	if !ok {
		return Seat{}, false
	}
	return *seat, true
}

// Size reports how many players are seated.
func (r *Roster) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// GetPeerProtocolVersion reports the version a player negotiated on join, or zero
// when the player is unknown.
func (r *Roster) GetPeerProtocolVersion(playerID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if seat, ok := r.byPlayer[playerID]; ok {
		return seat.ProtocolVersion
	}
	return 0
}

// RecordFinish stores the finish time of playerID in seconds. Only the first finish
// per match counts.
func (r *Roster) RecordFinish(playerID string, seconds float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat, ok := r.byPlayer[playerID]
	if !ok || r.finish[seat.Slot] != NotFinished {
		return false
	}
	r.finish[seat.Slot] = seconds
	return true
}

// Renew starts a new session: a fresh match id and an empty finish table.
func (r *Roster) Renew() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = uuid.NewString()
	r.resetFinishLocked()
	return r.id
}

// ResetFinishTimes clears the finish table without changing the match id.
func (r *Roster) ResetFinishTimes() {
	r.mu.Lock()
	r.resetFinishLocked()
	r.mu.Unlock()
}

// Snapshot returns a read-only view ordered by slot.
func (r *Roster) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := Snapshot{MatchID: r.id, Capacity: r.capacity, FinishTimes: r.finish}
	for _, seat := range r.byConn {
		snapshot.Seats = append(snapshot.Seats, *seat)
	}
	sort.Slice(snapshot.Seats, func(i, j int) bool { return snapshot.Seats[i].Slot < snapshot.Seats[j].Slot })
	return snapshot
}

func (r *Roster) resetFinishLocked() {
	for i := range r.finish {
		r.finish[i] = NotFinished
	}
}
