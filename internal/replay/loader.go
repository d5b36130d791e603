package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/movement"
)

// Event is one decoded line of the event log.
type Event struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Type        string
	Payload     json.RawMessage
}

// Frame is one decoded sync batch.
type Frame struct {
	SimulatedMs int64
	CapturedAt  time.Time
	Batch       command.SyncBatch
}

// TimelineEntry merges events and frames for ordered playback. Exactly one of Event
// and Frame is set.
type TimelineEntry struct {
	Tick        uint64
	SimulatedMs int64
	Event       *Event
	Frame       *Frame
}

// Bundle is a recorded session loaded into memory.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   Header
	events   []Event
	frames   []Frame
}

// Open loads the bundle stored in dir. A bundle still being written is readable up to
// its last flush.
func Open(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("bundle path must be provided")
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{Dir: dir}
	if err := json.Unmarshal(data, &bundle.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if bundle.Header, err = ReadHeader(filepath.Join(dir, headerFile)); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if bundle.events, err = readEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if bundle.frames, err = readFrames(filepath.Join(dir, bundle.Manifest.FramesPath)); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return bundle, nil
}

func readEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record eventRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse captured_at: %w", err)
		}
		events = append(events, Event{
			Tick:        record.Tick,
			SimulatedMs: record.SimulatedMs,
			CapturedAt:  captured,
			Type:        record.Type,
			Payload:     append(json.RawMessage(nil), record.Payload...),
		})
	}
	return events, scanner.Err()
}

func readFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var frames []Frame
	header := make([]byte, frameHeaderSize)
	for {
		//1.- A truncated tail is what an unflushed writer leaves behind; stop there.
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return frames, nil
			}
			return nil, err
		}
		payload := make([]byte, binary.LittleEndian.Uint32(header[24:28]))
		if _, err := io.ReadFull(decoder, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, err
		}
		var batch command.SyncBatch
		if err := msgpack.Unmarshal(payload, &batch); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		frames = append(frames, Frame{
			SimulatedMs: int64(binary.LittleEndian.Uint64(header[8:16])),
			CapturedAt:  time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))).UTC(),
			Batch:       batch,
		})
	}
}

// Events returns a copy of the event log.
func (b *Bundle) Events() []Event {
	return append([]Event(nil), b.events...)
}

// Frames returns a copy of the recorded sync batches.
func (b *Bundle) Frames() []Frame {
	return append([]Frame(nil), b.frames...)
}

// Replay walks events and frames in simulated time order. On equal times events come
// before the frame they led to.
func (b *Bundle) Replay(apply func(TimelineEntry) error) error {
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	entries := make([]TimelineEntry, 0, len(b.events)+len(b.frames))
	for i := range b.events {
		event := &b.events[i]
		entries = append(entries, TimelineEntry{Tick: event.Tick, SimulatedMs: event.SimulatedMs, Event: event})
	}
	for i := range b.frames {
		frame := &b.frames[i]
		entries = append(entries, TimelineEntry{Tick: frame.Batch.Tick, SimulatedMs: frame.SimulatedMs, Frame: frame})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].SimulatedMs != entries[j].SimulatedMs {
			return entries[i].SimulatedMs < entries[j].SimulatedMs
		}
		return entries[i].Event != nil && entries[j].Event == nil
	})
	for _, entry := range entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// InputTrack rebuilds the input a player produced from the commands the server
// applied for them, one sample per tick from the first command on. Forces are mapped
// back through the axes negotiated at join time.
func (b *Bundle) InputTrack(playerID string) []input.Sample {
	version := movement.ProtocolVersionThreshold
	byTick := make(map[uint64]*input.Sample)
	var first, last uint64
	for _, event := range b.events {
		switch event.Type {
		case "join":
			var seat struct {
				PlayerID        string  `json:"player_id"`
				ProtocolVersion float64 `json:"protocol_version"`
			}
			if json.Unmarshal(event.Payload, &seat) == nil && seat.PlayerID == playerID && seat.ProtocolVersion > 0 {
				version = seat.ProtocolVersion
			}
		case "command":
			var cmd command.Command
			if json.Unmarshal(event.Payload, &cmd) != nil || cmd.PlayerID != playerID {
				continue
			}
			sample := byTick[event.Tick]
			if sample == nil {
				sample = &input.Sample{}
				byTick[event.Tick] = sample
			}
			applyCommand(sample, cmd, version)
			if first == 0 || event.Tick < first {
				first = event.Tick
			}
			if event.Tick > last {
				last = event.Tick
			}
		}
	}
	if len(byTick) == 0 {
		return nil
	}
	track := make([]input.Sample, 0, last-first+1)
	for tick := first; tick <= last; tick++ {
		if sample, ok := byTick[tick]; ok {
			track = append(track, *sample)
			continue
		}
		track = append(track, input.Sample{})
	}
	return track
}

func applyCommand(sample *input.Sample, cmd command.Command, version float64) {
	switch cmd.Kind {
	case command.KindAddForce:
		sample.Vector = unmapAxes(cmd.Vector, version)
	case command.KindAddPosition:
		//1.- Flight deltas are camera relative and speed scaled; keep the direction only.
		planar := unmapAxes(cmd.Vector, movement.ProtocolVersionThreshold)
		sample.Vector = mgl64.Vec2{sign(planar.X()), sign(planar.Y())}
		sample.Elevation = sign(cmd.Vector.Y())
	case command.KindResetPosition:
		sample.Actions.ResetPosition = true
	case command.KindZeroMomentum:
		sample.Actions.ZeroMomentum = true
	case command.KindSetSpectator:
		sample.Actions.ToggleSpectator = true
	}
}

func unmapAxes(v mgl64.Vec3, version float64) mgl64.Vec2 {
	if version >= movement.ProtocolVersionThreshold {
		return mgl64.Vec2{v.X(), v.Z()}
	}
	return mgl64.Vec2{v.X(), v.Y()}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// ListBundles returns the bundle directories under root, newest first.
func ListBundles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		path    string
		modTime time.Time
	}
	var found []candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		info, err := os.Stat(filepath.Join(path, manifestFile))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, candidate{path: path, modTime: info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].modTime.After(found[j].modTime) })
	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.path
	}
	return out, nil
}
