package persist

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/g960059/layoutsync/internal/logging"
	"github.com/g960059/layoutsync/internal/model"
)

const (
	SnapshotFileName = "ui-layout.ndjson"
	PresetFileName   = "ui-layout-presets.json"
)

// LogAdapter stores snapshots as one JSON object per line and presets as a single
// JSON document next to it.
type LogAdapter struct {
	dir    string
	logger *zap.SugaredLogger

	mu sync.Mutex
}

var _ Adapter = (*LogAdapter)(nil)

func NewLogAdapter(dir string, logger *zap.SugaredLogger) *LogAdapter {
	return &LogAdapter{
		dir:    dir,
		logger: logging.Named(logger, logging.ComponentPersist).With("adapter", NameLog),
	}
}

func (a *LogAdapter) Name() string { return NameLog }

func (a *LogAdapter) SnapshotPath() string { return filepath.Join(a.dir, SnapshotFileName) }

func (a *LogAdapter) PresetPath() string { return filepath.Join(a.dir, PresetFileName) }

func (a *LogAdapter) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

func (a *LogAdapter) ReadLatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	snaps, err := a.ReadRecentSnapshots(ctx, 1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

func (a *LogAdapter) ReadRecentSnapshots(ctx context.Context, limit int) ([]model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	lines, err := a.readLines()
	if err != nil {
		return nil, err
	}
	out := make([]model.Snapshot, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
		snap, err := DecodeSnapshot(lines[i])
		if err != nil {
			a.logger.Warnw("skipping snapshot line", "line", i+1, "error", err)
			continue
		}
		out = append(out, snap)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (a *LogAdapter) AppendSnapshot(ctx context.Context, snapshot model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.SnapshotPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append snapshot: %w", err)
	}
	return f.Close()
}

func (a *LogAdapter) ResetHistory(ctx context.Context, snapshot model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return WriteFileAtomic(a.SnapshotPath(), append(line, '\n'))
}

func (a *LogAdapter) ListPresets(ctx context.Context) ([]model.Preset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	presets, err := a.readPresets()
	if err != nil {
		return nil, err
	}
	return model.SortPresets(presets), nil
}

func (a *LogAdapter) InsertPreset(ctx context.Context, preset model.Preset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	presets, err := a.readPresets()
	if err != nil {
		return err
	}
	key := model.PresetNameKey(preset.Name)
	for _, p := range presets {
		if p.ID == preset.ID || model.PresetNameKey(p.Name) == key {
			return ErrDuplicate
		}
	}
	return a.writePresets(append(presets, preset.Clone()))
}

func (a *LogAdapter) RenamePreset(ctx context.Context, preset model.Preset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	presets, err := a.readPresets()
	if err != nil {
		return err
	}
	idx := -1
	key := model.PresetNameKey(preset.Name)
	for i, p := range presets {
		if p.ID == preset.ID {
			idx = i
			continue
		}
		if model.PresetNameKey(p.Name) == key {
			return ErrDuplicate
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	presets[idx].Name = preset.Name
	presets[idx].UpdatedUTC = preset.UpdatedUTC
	return a.writePresets(presets)
}

func (a *LogAdapter) DeletePreset(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	presets, err := a.readPresets()
	if err != nil {
		return err
	}
	kept := presets[:0]
	for _, p := range presets {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(presets) {
		return ErrNotFound
	}
	return a.writePresets(kept)
}

func (a *LogAdapter) Close() error { return nil }

func (a *LogAdapter) readLines() ([][]byte, error) {
	data, err := os.ReadFile(a.SnapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot log: %w", err)
	}
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshot log: %w", err)
	}
	return lines, nil
}

// readPresets treats a missing or unreadable document as empty. Individual bad
// entries are dropped.
func (a *LogAdapter) readPresets() ([]model.Preset, error) {
	data, err := os.ReadFile(a.PresetPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc presetDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		a.logger.Warnw("preset document unreadable, treating as empty", "path", a.PresetPath(), "error", err)
		return nil, nil
	}
	if doc.SchemaVersion != model.SchemaVersion {
		a.logger.Warnw("preset document has unsupported schema version", "schema_version", doc.SchemaVersion)
		return nil, nil
	}
	presets := make([]model.Preset, 0, len(doc.Presets))
	for i, raw := range doc.Presets {
		p, err := decodePresetRecord(raw)
		if err != nil {
			a.logger.Warnw("skipping preset entry", "index", i, "error", err)
			continue
		}
		presets = append(presets, p)
	}
	return presets, nil
}

func (a *LogAdapter) writePresets(presets []model.Preset) error {
	data, err := encodePresetDocument(model.SortPresets(presets))
	if err != nil {
		return err
	}
	return WriteFileAtomic(a.PresetPath(), append(data, '\n'))
}

// WriteFileAtomic replaces path through a temp file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimPrefix(filepath.Base(path), ".")+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
