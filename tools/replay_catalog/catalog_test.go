package replaycatalog

import (
	"path/filepath"
	"testing"
	"time"

	"hamsterball/coordinator/internal/replay"
)

type recorded struct {
	tick    uint64
	kind    string
	payload any
}

func writeBundle(t *testing.T, root, matchID string, events []recorded) {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, 7, 10, 15, 0, 0, 0, time.UTC) }
	writer, _, err := replay.NewWriter(root, replay.Header{MatchID: matchID, MaxPlayers: 4, StartThreshold: 2}, clock)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for _, event := range events {
		if err := writer.AppendEvent(event.tick, int64(event.tick)*16, event.kind, event.payload); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

func TestListSummarisesSessions(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "match-b", []recorded{
		{1, "join", map[string]string{"player_id": "p1"}},
	})
	writeBundle(t, dir, "match-a", []recorded{
		{1, "join", map[string]string{"player_id": "p1"}},
		{1, "join", map[string]string{"player_id": "p2"}},
		{2, "phase", "in_progress"},
		{3, "command", map[string]string{"kind": "add_force", "player_id": "p1"}},
		{5, "death", map[string]string{"id": "p2"}},
		{9, "goal", map[string]any{"player_id": "p2", "seconds": 4.5}},
		{10, "goal", map[string]any{"player_id": "p1", "seconds": 3.25}},
		{10, "phase", "end_game"},
		{10, "match_complete", map[string]string{"match_id": "match-a"}},
	})

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Header.MatchID != "match-a" || entries[1].Header.MatchID != "match-b" {
		t.Fatalf("expected entries ordered by match, got %+v", entries)
	}
	summary := entries[0].Summary
	if summary.Players != 2 || summary.Deaths != 1 || summary.Commands != 1 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if !summary.Completed || summary.LastPhase != "end_game" || summary.LastTick != 10 || summary.SimulatedMs != 160 {
		t.Fatalf("unexpected outcome %+v", summary)
	}
	if len(summary.Finishers) != 2 || summary.Finishers[0].PlayerID != "p1" || summary.Finishers[1].Seconds != 4.5 {
		t.Fatalf("finishers must be ordered by time, got %+v", summary.Finishers)
	}
	if entries[1].Summary.Completed || entries[1].Summary.Players != 1 {
		t.Fatalf("unfinished session summarised wrongly: %+v", entries[1].Summary)
	}
	if filepath.Dir(entries[0].Dir) != dir {
		t.Fatalf("bundle dir should sit under the root, got %q", entries[0].Dir)
	}

	completed := Completed(entries)
	if len(completed) != 1 || completed[0].Header.MatchID != "match-a" {
		t.Fatalf("expected only the finished match, got %+v", completed)
	}
	if len(entries) != 2 {
		t.Fatalf("filtering must not modify the input")
	}
	payload, err := MarshalEntries(entries)
	if err != nil || len(payload) == 0 {
		t.Fatalf("MarshalEntries: %v", err)
	}
}

func TestListRejectsMissingRoot(t *testing.T) {
	if _, err := List(" "); err == nil {
		t.Fatal("expected error for empty root")
	}
	if _, err := List(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing root")
	}
}
