package input

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Source yields the normalized 2D movement input, polled once per tick.
type Source interface {
	GetInputVector() mgl64.Vec2
}

// Actions are the one-shot buttons read alongside the movement vector.
type Actions struct {
	ResetPosition   bool `json:"reset_position,omitempty" msgpack:"reset_position,omitempty"`
	ZeroMomentum    bool `json:"zero_momentum,omitempty" msgpack:"zero_momentum,omitempty"`
	ToggleSpectator bool `json:"toggle_spectator,omitempty" msgpack:"toggle_spectator,omitempty"`
}

// Any reports whether at least one action fired.
func (a Actions) Any() bool { return a.ResetPosition || a.ZeroMomentum || a.ToggleSpectator }

// ActionSource is implemented by sources that also expose buttons.
type ActionSource interface {
	PollActions() Actions
}

// Elevator is implemented by sources with a vertical axis for spectator flight.
// It returns -1, 0 or 1.
type Elevator interface {
	Elevation() float64
}

// CameraRig supplies the camera basis that spectator movement is relative to.
type CameraRig interface {
	CameraAxes() (forward, right mgl64.Vec3)
}

// Sample is one tick of recorded or scripted input.
type Sample struct {
	Vector    mgl64.Vec2 `json:"vector" msgpack:"vector"`
	Elevation float64    `json:"elevation,omitempty" msgpack:"elevation,omitempty"`
	Actions   Actions    `json:"actions,omitempty" msgpack:"actions,omitempty"`
}

// StaticSource holds input pushed by a device or transport until the next poll. Actions
// are latched and cleared on read; the vector and elevation persist.
type StaticSource struct {
	mu        sync.Mutex
	vector    mgl64.Vec2
	elevation float64
	actions   Actions
	forward   mgl64.Vec3
	right     mgl64.Vec3
}

// NewStaticSource constructs a source at rest with the default camera basis.
func NewStaticSource() *StaticSource {
	return &StaticSource{forward: mgl64.Vec3{0, 0, 1}, right: mgl64.Vec3{1, 0, 0}}
}

// Set replaces the movement vector and elevation.
func (s *StaticSource) Set(vector mgl64.Vec2, elevation float64) {
	s.mu.Lock()
	s.vector = vector
	s.elevation = elevation
	s.mu.Unlock()
}

// Press latches actions until the next PollActions.
func (s *StaticSource) Press(actions Actions) {
	s.mu.Lock()
	s.actions.ResetPosition = s.actions.ResetPosition || actions.ResetPosition
	s.actions.ZeroMomentum = s.actions.ZeroMomentum || actions.ZeroMomentum
	s.actions.ToggleSpectator = s.actions.ToggleSpectator || actions.ToggleSpectator
	s.mu.Unlock()
}

// SetCamera replaces the camera basis.
func (s *StaticSource) SetCamera(forward, right mgl64.Vec3) {
	s.mu.Lock()
	s.forward, s.right = forward, right
	s.mu.Unlock()
}

// GetInputVector implements Source.
func (s *StaticSource) GetInputVector() mgl64.Vec2 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vector
}

// Elevation implements Elevator.
func (s *StaticSource) Elevation() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elevation
}

// PollActions implements ActionSource.
func (s *StaticSource) PollActions() Actions {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.actions
	s.actions = Actions{}
	return out
}

// CameraAxes implements CameraRig.
func (s *StaticSource) CameraAxes() (mgl64.Vec3, mgl64.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forward, s.right
}

// ReplaySource plays a recorded input track one sample per tick. A tick reads the
// actions and the vector of the same sample in either order; reading a part twice moves
// on to the next sample. Once exhausted it reports rest.
type ReplaySource struct {
	mu          sync.Mutex
	samples     []Sample
	cursor      int
	current     Sample
	loaded      bool
	vectorRead  bool
	actionsRead bool
}

// NewReplaySource wraps samples for playback.
func NewReplaySource(samples []Sample) *ReplaySource {
	return &ReplaySource{samples: samples}
}

// GetInputVector returns the vector of the current sample.
func (r *ReplaySource) GetInputVector() mgl64.Vec2 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded || r.vectorRead {
		r.advance()
	}
	r.vectorRead = true
	return r.current.Vector
}

// Elevation returns the elevation of the current sample.
func (r *ReplaySource) Elevation() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Elevation
}

// PollActions returns the actions of the current sample.
func (r *ReplaySource) PollActions() Actions {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded || r.actionsRead {
		r.advance()
	}
	r.actionsRead = true
	return r.current.Actions
}

func (r *ReplaySource) advance() {
	r.loaded = true
	r.vectorRead, r.actionsRead = false, false
	if r.cursor >= len(r.samples) {
		r.current = Sample{}
		return
	}
	r.current = r.samples[r.cursor]
	r.cursor++
}

// Done reports whether every sample was consumed.
func (r *ReplaySource) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor >= len(r.samples)
}
