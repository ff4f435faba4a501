package main

import (
	"path/filepath"

	"charmcity.ai/internal/persistence/indexdb"
	"charmcity.ai/internal/persistence/snapshot"
	"charmcity.ai/internal/sim/catalogs"
	"charmcity.ai/internal/sim/tuning"
	"charmcity.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.AuditLogger
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

func openRuntimeIndex(cityDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	dbPath := filepath.Join(cityDir, "index", "city.sqlite")
	return indexdb.OpenSQLite(dbPath)
}
