package replay

import (
	"fmt"
	"os"
	"sync"
	"time"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/logging"
)

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Bundles      int       `json:"bundles"`
	Events       int64     `json:"events"`
	Frames       int64     `json:"frames"`
	Errors       int64     `json:"errors"`
	Directory    string    `json:"directory,omitempty"`
	LastFlushURI string    `json:"last_flush_uri,omitempty"`
	LastFlush    time.Time `json:"last_flush,omitempty"`
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderClock overrides the wall clock.
func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithTickInterval converts ticks into simulated milliseconds.
func WithTickInterval(interval time.Duration) RecorderOption {
	return func(r *Recorder) {
		if interval > 0 {
			r.tickInterval = interval
		}
	}
}

// WithMatchIDSource names the session every record belongs to. A change of id closes
// the current bundle and opens a new one.
func WithMatchIDSource(matchID func() string) RecorderOption {
	return func(r *Recorder) {
		if matchID != nil {
			r.matchID = matchID
		}
	}
}

// WithHeaderTemplate seeds every bundle header.
func WithHeaderTemplate(header Header) RecorderOption {
	return func(r *Recorder) { r.template = header }
}

// WithRecorderLogger overrides the logger.
func WithRecorderLogger(logger *logging.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Recorder persists session events and broadcast frames into one bundle per match.
// It satisfies the match event sink; write failures are logged and counted, never
// returned into the tick.
type Recorder struct {
	mu           sync.Mutex
	root         string
	now          func() time.Time
	tickInterval time.Duration
	matchID      func() string
	template     Header
	logger       *logging.Logger

	writer   *Writer
	current  string
	lastTick uint64
	stats    Stats
}

// NewRecorder prepares root and returns a recorder that opens bundles lazily.
func NewRecorder(root string, opts ...RecorderOption) (*Recorder, error) {
	if root == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	recorder := &Recorder{
		root:         root,
		now:          time.Now,
		tickInterval: time.Second / 60,
		matchID:      func() string { return "match" },
		logger:       logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}
	return recorder, nil
}

// RecordEvent appends an event stamped with the latest broadcast tick.
func (r *Recorder) RecordEvent(kind string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writer := r.writerLocked()
	if writer == nil {
		return
	}
	if err := writer.AppendEvent(r.lastTick, r.simulatedMs(r.lastTick), kind, payload); err != nil {
		r.failLocked("append event", err)
		return
	}
	r.stats.Events++
}

// RecordFrame appends one broadcast batch.
func (r *Recorder) RecordFrame(batch command.SyncBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writer := r.writerLocked()
	if writer == nil {
		return
	}
	if batch.Tick > r.lastTick {
		r.lastTick = batch.Tick
	}
	if err := writer.AppendFrame(r.simulatedMs(batch.Tick), batch); err != nil {
		r.failLocked("append frame", err)
		return
	}
	r.stats.Frames++
}

// Flush makes the active bundle readable on disk and returns its directory.
func (r *Recorder) Flush() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return "", fmt.Errorf("no bundle recorded yet")
	}
	if err := r.writer.Flush(); err != nil {
		r.stats.Errors++
		return "", err
	}
	r.stats.LastFlush = r.now().UTC()
	r.stats.LastFlushURI = r.writer.Directory()
	return r.writer.Directory(), nil
}

// Active returns the directory currently being written, if any.
func (r *Recorder) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Directory()
}

// Stats returns a copy of the recorder counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.Directory = r.writer.Directory()
	return stats
}

// Close finalises the active bundle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	r.current = ""
	return err
}

// writerLocked returns the bundle for the current match, rolling over when the match
// changed. Callers must hold the mutex.
func (r *Recorder) writerLocked() *Writer {
	id := r.matchID()
	if r.writer != nil && id == r.current {
		return r.writer
	}
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			r.failLocked("close bundle", err)
		}
		r.logger.Info("replay bundle closed", logging.String("directory", r.writer.Directory()))
		r.writer = nil
	}
	header := r.template
	header.MatchID = id
	writer, _, err := NewWriter(r.root, header, r.now)
	if err != nil {
		r.failLocked("open bundle", err)
		return nil
	}
	r.writer = writer
	r.current = id
	r.lastTick = 0
	r.stats.Bundles++
	r.logger.Info("replay bundle opened", logging.String("directory", writer.Directory()), logging.String("match_id", id))
	return writer
}

func (r *Recorder) failLocked(op string, err error) {
	r.stats.Errors++
	r.logger.Warn("replay "+op+" failed", logging.Error(err))
}

func (r *Recorder) simulatedMs(tick uint64) int64 {
	return int64(time.Duration(tick) * r.tickInterval / time.Millisecond)
}
