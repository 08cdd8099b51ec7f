// Package store persists run records behind a small repository interface with
// interchangeable bbolt and flat-file backends.
package store

import (
	"errors"
	"fmt"

	"forge/internal/types"
)

type Backend string

const (
	BackendBolt Backend = "bbolt"
	BackendFile Backend = "file"
)

var ErrNotFound = errors.New("store: record not found")

// RunStore is the persistence surface the engine writes through.
type RunStore interface {
	SaveRun(record types.RunRecord) error
	GetRun(id string) (types.RunRecord, bool, error)
	DeleteRun(id string) error
	ListRuns() ([]types.RunRecord, error)
}

// Repository bundles the stores of one backend with its lifecycle.
type Repository interface {
	Runs() RunStore
	Backend() Backend
	Close() error
}

// Open constructs the repository for the configured backend. dbPath is the
// bbolt database file; runsDir is the flat-file directory.
func Open(backend Backend, dbPath, runsDir string) (Repository, error) {
	switch backend {
	case BackendBolt, "":
		return openBoltRepository(dbPath)
	case BackendFile:
		return openFileRepository(runsDir)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
