// Package replayplayer flattens a recorded bundle into a printable timeline.
package replayplayer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"hamsterball/coordinator/internal/input"
	"hamsterball/coordinator/internal/replay"
)

// Step is one line of the timeline: an event or a broadcast frame.
type Step struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	Kind        string          `json:"kind"`
	Type        string          `json:"type,omitempty"`
	Phase       string          `json:"phase,omitempty"`
	Players     int             `json:"players,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Report is everything the player prints for one bundle.
type Report struct {
	Dir      string          `json:"dir"`
	Manifest replay.Manifest `json:"manifest"`
	Header   replay.Header   `json:"header"`
	Timeline []Step          `json:"timeline"`
	PlayerID string          `json:"player_id,omitempty"`
	Input    []input.Sample  `json:"input,omitempty"`
}

// Load reads the bundle at path, a bundle directory or its manifest.json, and builds
// the report. A non empty playerID also reconstructs that player's input track.
func Load(path, playerID string) (Report, error) {
	if path == "" {
		return Report{}, fmt.Errorf("path is required")
	}
	//1.- Accept the manifest itself so shell completion on the file works.
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	bundle, err := replay.Open(dir)
	if err != nil {
		return Report{}, err
	}

	report := Report{Dir: bundle.Dir, Manifest: bundle.Manifest, Header: bundle.Header, PlayerID: playerID}
	//2.- Walk the merged timeline in playback order.
	err = bundle.Replay(func(entry replay.TimelineEntry) error {
		step := Step{Tick: entry.Tick, SimulatedMs: entry.SimulatedMs}
		switch {
		case entry.Event != nil:
			step.Kind = "event"
			step.Type = entry.Event.Type
			step.Payload = entry.Event.Payload
		case entry.Frame != nil:
			step.Kind = "frame"
			step.Phase = entry.Frame.Batch.Phase
			step.Players = len(entry.Frame.Batch.Players)
		}
		report.Timeline = append(report.Timeline, step)
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	if playerID != "" {
		report.Input = bundle.InputTrack(playerID)
	}
	return report, nil
}
