package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"hamsterball/coordinator/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	completed := flag.Bool("completed", false, "only list sessions that reached the end of a match")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *completed {
		entries = replaycatalog.Completed(entries)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		header, summary := entry.Header, entry.Summary
		status := "unfinished"
		if summary.Completed {
			status = "completed"
		}
		fmt.Printf("%s %s (last phase %q)\n", header.MatchID, status, summary.LastPhase)
		fmt.Printf("  players: %d of %d seats, %d deaths, %d commands\n", summary.Players, header.MaxPlayers, summary.Deaths, summary.Commands)
		fmt.Printf("  length: %d ticks, %s simulated\n", summary.LastTick, time.Duration(summary.SimulatedMs)*time.Millisecond)
		for i, finish := range summary.Finishers {
			fmt.Printf("  %d. %s in %.2fs\n", i+1, finish.PlayerID, finish.Seconds)
		}
		fmt.Printf("  bundle: %s\n", entry.Dir)
	}
}
