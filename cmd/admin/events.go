package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "avatarium/internal/persistence/log"
	"avatarium/internal/protocol"
)

var errEnough = errors.New("enough")

// eventsCmd scans the rotated timeline JSONL logs, no server or index needed.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sceneID := fs.String("scene", "scene_1", "scene id")
	kind := fs.String("kind", "", "event kind filter (optional)")
	since := fs.Uint64("since", 0, "only events at or after this tick")
	limit := fs.Int("limit", 0, "stop after N events (0 = all)")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "scenes", *sceneID, "timeline")
	files, err := persistlog.ListFiles(dir, "timeline")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no timeline logs found in", dir)
		os.Exit(1)
	}

	wantKind := strings.TrimSpace(*kind)
	printed := 0
	for _, path := range files {
		err := persistlog.ScanFile(path, func(line []byte) error {
			var ev protocol.TimelineEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if ev.Tick < *since {
				return nil
			}
			if wantKind != "" && ev.Kind != wantKind {
				return nil
			}
			printJSON(ev)
			printed++
			if *limit > 0 && printed >= *limit {
				return errEnough
			}
			return nil
		})
		if errors.Is(err, errEnough) {
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
	}
}
