// Package replaycatalog indexes recorded session bundles and summarises how each
// session played out.
package replaycatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hamsterball/coordinator/internal/replay"
)

const manifestFile = "manifest.json"

// Finish is one player reaching the goal.
type Finish struct {
	PlayerID string  `json:"player_id"`
	Seconds  float64 `json:"seconds"`
}

// Summary is what happened in a recorded session.
type Summary struct {
	Players     int      `json:"players"`
	Deaths      int      `json:"deaths"`
	Commands    int      `json:"commands"`
	Finishers   []Finish `json:"finishers,omitempty"`
	LastPhase   string   `json:"last_phase,omitempty"`
	Completed   bool     `json:"completed"`
	LastTick    uint64   `json:"last_tick"`
	SimulatedMs int64    `json:"simulated_ms"`
}

// Entry is one bundle in the catalog.
type Entry struct {
	Dir     string        `json:"dir"`
	Header  replay.Header `json:"header"`
	Summary Summary       `json:"summary"`
}

// List loads every bundle under root, ordered by match then directory.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFile {
			return nil
		}
		bundle, err := replay.Open(filepath.Dir(path))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, Entry{Dir: bundle.Dir, Header: bundle.Header, Summary: Summarize(bundle)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.MatchID == entries[j].Header.MatchID {
			return entries[i].Dir < entries[j].Dir
		}
		return entries[i].Header.MatchID < entries[j].Header.MatchID
	})
	return entries, nil
}

// Summarize walks the bundle's event log and last frame.
func Summarize(bundle *replay.Bundle) Summary {
	var summary Summary
	joined := make(map[string]struct{})
	for _, event := range bundle.Events() {
		if event.Tick > summary.LastTick {
			summary.LastTick = event.Tick
		}
		if event.SimulatedMs > summary.SimulatedMs {
			summary.SimulatedMs = event.SimulatedMs
		}
		switch event.Type {
		case "join":
			var seat struct {
				PlayerID string `json:"player_id"`
			}
			if json.Unmarshal(event.Payload, &seat) == nil && seat.PlayerID != "" {
				joined[seat.PlayerID] = struct{}{}
			}
		case "death":
			summary.Deaths++
		case "command":
			summary.Commands++
		case "goal":
			var finish Finish
			if json.Unmarshal(event.Payload, &finish) == nil && finish.PlayerID != "" {
				summary.Finishers = append(summary.Finishers, finish)
			}
		case "phase":
			var phase string
			if json.Unmarshal(event.Payload, &phase) == nil {
				summary.LastPhase = phase
			}
		case "match_complete":
			summary.Completed = true
		}
	}
	if frames := bundle.Frames(); len(frames) > 0 {
		last := frames[len(frames)-1]
		if last.Batch.Tick > summary.LastTick {
			summary.LastTick = last.Batch.Tick
		}
		if last.SimulatedMs > summary.SimulatedMs {
			summary.SimulatedMs = last.SimulatedMs
		}
	}
	summary.Players = len(joined)
	sort.SliceStable(summary.Finishers, func(i, j int) bool {
		return summary.Finishers[i].Seconds < summary.Finishers[j].Seconds
	})
	return summary
}

// Completed keeps only sessions that ran to the end of a match.
func Completed(entries []Entry) []Entry {
	out := entries[:0:0]
	for _, entry := range entries {
		if entry.Summary.Completed {
			out = append(out, entry)
		}
	}
	return out
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
