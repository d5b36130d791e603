package input

import (
	"errors"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"hamsterball/coordinator/internal/logging"
)

// ErrRejected is wrapped by callers that surface a validation failure as an error.
var ErrRejected = errors.New("input rejected")

// ValidationReason identifies why a vector was discarded.
type ValidationReason string

const (
	ValidationReasonNone       ValidationReason = ""
	ValidationReasonNonFinite  ValidationReason = "non_finite"
	ValidationReasonBelowNoise ValidationReason = "below_noise"
	ValidationReasonOverLimit  ValidationReason = "over_limit"
)

const (
	// NoiseMagnitude is the largest magnitude still treated as stick noise.
	NoiseMagnitude = 0.05
	// MaxMagnitudeSquared bounds a single force or delta; it equals the squared speed cap.
	MaxMagnitudeSquared = 400.0
)

// Constraints configures the bounds a vector must satisfy.
type Constraints struct {
	// NoiseMagnitude discards vectors at or below it. Zero disables the check.
	NoiseMagnitude float64
	// MaxMagnitudeSquared discards vectors above it. Zero disables the check.
	MaxMagnitudeSquared float64
}

// ClientConstraints filter local input before anything is sent or predicted.
var ClientConstraints = Constraints{NoiseMagnitude: NoiseMagnitude, MaxMagnitudeSquared: MaxMagnitudeSquared}

// ServerConstraints guard the authoritative side. Small commands are legal there.
var ServerConstraints = Constraints{MaxMagnitudeSquared: MaxMagnitudeSquared}

// ValidationDecision summarises the result of a Validate call.
type ValidationDecision struct {
	Accepted bool
	Reason   ValidationReason
}

// ValidationCounters aggregates per-client rejection statistics.
type ValidationCounters struct {
	Accepted   uint64                      `json:"accepted"`
	Violations map[ValidationReason]uint64 `json:"violations,omitempty"`
}

// ValidatorOption customises validator construction.
type ValidatorOption func(*Validator)

// WithRejectHook registers a callback invoked for every rejection.
func WithRejectHook(fn func(clientID string, reason ValidationReason)) ValidatorOption {
	return func(v *Validator) { v.onReject = fn }
}

// Validator discards non-finite, negligible and oversized vectors as a whole.
type Validator struct {
	mu       sync.Mutex
	cfg      Constraints
	logger   *logging.Logger
	metrics  map[string]ValidationCounters
	onReject func(clientID string, reason ValidationReason)
}

// NewValidator builds a validator with the supplied constraints and logger.
func NewValidator(cfg Constraints, logger *logging.Logger, opts ...ValidatorOption) *Validator {
	if cfg.NoiseMagnitude < 0 {
		cfg.NoiseMagnitude = 0
	}
	if cfg.MaxMagnitudeSquared < 0 {
		cfg.MaxMagnitudeSquared = 0
	}
	if logger == nil {
		logger = logging.L()
	}
	validator := &Validator{
		cfg:     cfg,
		logger:  logger,
		metrics: make(map[string]ValidationCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// Classify evaluates vector against the constraints without recording anything.
func (c Constraints) Classify(vector mgl64.Vec3) ValidationReason {
	//1.- Any non-finite component poisons the whole vector.
	for _, component := range vector {
		if math.IsNaN(component) || math.IsInf(component, 0) {
			return ValidationReasonNonFinite
		}
	}
	magnitudeSq := vector.LenSqr()
	//2.- Tiny vectors are noise; the comparison is inclusive.
	if c.NoiseMagnitude > 0 && magnitudeSq <= c.NoiseMagnitude*c.NoiseMagnitude {
		return ValidationReasonBelowNoise
	}
	//3.- Oversized vectors are corrupt or forged.
	if c.MaxMagnitudeSquared > 0 && magnitudeSq > c.MaxMagnitudeSquared {
		return ValidationReasonOverLimit
	}
	return ValidationReasonNone
}

// Validate checks vector, records the outcome for clientID and logs real violations.
func (v *Validator) Validate(clientID string, vector mgl64.Vec3) ValidationDecision {
	if v == nil {
		return ValidationDecision{Accepted: true}
	}
	reason := v.cfg.Classify(vector)

	v.mu.Lock()
	counters := v.metrics[clientID]
	if reason == ValidationReasonNone {
		counters.Accepted++
	} else {
		if counters.Violations == nil {
			counters.Violations = make(map[ValidationReason]uint64)
		}
		counters.Violations[reason]++
	}
	v.metrics[clientID] = counters
	v.mu.Unlock()

	if reason == ValidationReasonNone {
		return ValidationDecision{Accepted: true}
	}
	if reason != ValidationReasonBelowNoise {
		v.logger.Warn("input vector discarded",
			logging.String("client_id", clientID),
			logging.String("reason", string(reason)),
		)
	}
	if v.onReject != nil {
		v.onReject(clientID, reason)
	}
	return ValidationDecision{Accepted: false, Reason: reason}
}

// Forget clears all state for the specified client.
func (v *Validator) Forget(clientID string) {
	if v == nil || clientID == "" {
		return
	}
	v.mu.Lock()
	delete(v.metrics, clientID)
	v.mu.Unlock()
}

// Metrics returns a snapshot of per-client counters for diagnostics.
func (v *Validator) Metrics() map[string]ValidationCounters {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.metrics) == 0 {
		return nil
	}
	snapshot := make(map[string]ValidationCounters, len(v.metrics))
	for key, counters := range v.metrics {
		clone := ValidationCounters{Accepted: counters.Accepted}
		if len(counters.Violations) > 0 {
			clone.Violations = make(map[ValidationReason]uint64, len(counters.Violations))
			for reason, count := range counters.Violations {
				clone.Violations[reason] = count
			}
		}
		snapshot[key] = clone
	}
	return snapshot
}
