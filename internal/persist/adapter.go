// Package persist defines the storage contract for layout snapshots and presets and
// ships the append-only log implementation. The relational implementation lives in
// internal/db.
package persist

import (
	"context"
	"errors"

	"github.com/g960059/layoutsync/internal/model"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")

	// ErrInvalidRecord and ErrUnsupportedSchema mark persisted records that readers skip.
	ErrInvalidRecord     = errors.New("invalid record")
	ErrUnsupportedSchema = errors.New("unsupported schema version")
)

const (
	NameLog        = "log"
	NameRelational = "relational"
)

// Adapter is implemented by both storage backends. Implementations return errors
// instead of panicking; the gateway decides what to surface.
type Adapter interface {
	Name() string
	Init(ctx context.Context) error
	ReadLatestSnapshot(ctx context.Context) (*model.Snapshot, error)
	// ReadRecentSnapshots returns at most limit snapshots ordered oldest to newest.
	ReadRecentSnapshots(ctx context.Context, limit int) ([]model.Snapshot, error)
	AppendSnapshot(ctx context.Context, snapshot model.Snapshot) error
	// ResetHistory discards all prior snapshots and leaves snapshot as the only one.
	ResetHistory(ctx context.Context, snapshot model.Snapshot) error
	ListPresets(ctx context.Context) ([]model.Preset, error)
	InsertPreset(ctx context.Context, preset model.Preset) error
	// RenamePreset writes preset.Name and preset.UpdatedUTC for preset.ID.
	RenamePreset(ctx context.Context, preset model.Preset) error
	DeletePreset(ctx context.Context, id string) error
	Close() error
}
