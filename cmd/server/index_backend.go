package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"avatarium/internal/persistence/indexdb"
	"avatarium/internal/sim/catalogs"
	"avatarium/internal/sim/scene"
	"avatarium/internal/sim/tuning"
)

// runtimeIndex is the optional read-model behind the admin endpoints. The
// JSONL logs stay the source of truth; losing the index loses nothing.
type runtimeIndex interface {
	scene.TimelineLogger
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	QueryTimeline(kind string, since uint64, limit int) ([]indexdb.TimelineRow, error)
	QueryInteractions(limit int) ([]indexdb.InteractionRow, error)
	Stats() indexdb.Stats
}

func openRuntimeIndex(sceneDir string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("AV_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(sceneDir, "index", "scene.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported AV_INDEX_BACKEND: %s", backend)
	}
}
