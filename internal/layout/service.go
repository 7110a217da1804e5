// Package layout owns the process-wide working layout and the preset catalogue.
// All mutation goes through Service; persistence is best effort except for presets.
package layout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/g960059/layoutsync/internal/gateway"
	"github.com/g960059/layoutsync/internal/logging"
	"github.com/g960059/layoutsync/internal/model"
)

// RapidUpdateWindow is the minimum gap between writes below which a warning is logged.
const RapidUpdateWindow = 1000 * time.Millisecond

// Gateway is the persistence surface the service needs.
type Gateway interface {
	LatestSnapshot(ctx context.Context) *model.Snapshot
	RecentSnapshots(ctx context.Context, limit int) []model.Snapshot
	AppendSnapshot(ctx context.Context, snapshot model.Snapshot) bool
	ResetHistory(ctx context.Context, snapshot model.Snapshot) bool
	ListPresets(ctx context.Context) ([]model.Preset, bool)
	InsertPreset(ctx context.Context, preset model.Preset) gateway.Outcome
	RenamePreset(ctx context.Context, preset model.Preset) gateway.Outcome
	DeletePreset(ctx context.Context, id string) gateway.Outcome
}

type Reason string

const (
	ReasonDuplicate     Reason = "duplicate"
	ReasonNotFound      Reason = "not_found"
	ReasonPersistFailed Reason = "persist_failed"
)

// PresetResult is the discriminated result of a preset write. Preset is set when OK.
type PresetResult struct {
	OK     bool
	Preset *model.Preset
	Reason Reason
}

func presetOK(p model.Preset) PresetResult {
	return PresetResult{OK: true, Preset: &p}
}

func presetFailed(reason Reason) PresetResult {
	return PresetResult{Reason: reason}
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

type Service struct {
	gw     Gateway
	logger *zap.SugaredLogger
	now    func() time.Time
	newID  func() string

	mu          sync.Mutex
	current     model.LayoutState
	lastWriteAt time.Time
}

func NewService(gw Gateway, logger *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		gw:      gw,
		logger:  logging.Named(logger, logging.ComponentLayout),
		now:     time.Now,
		newID:   uuid.NewString,
		current: model.EmptyLayout(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the latest durable snapshot into the working copy. It reports
// whether a snapshot was found.
func (s *Service) Restore(ctx context.Context) bool {
	snap := s.gw.LatestSnapshot(ctx)
	if snap == nil {
		s.logger.Infow("no stored layout, starting empty")
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap.Layout.Clone()
	s.logger.Infow("restored layout", "panels", len(s.current.Panels), "snapshot_ts", snap.TsUTC)
	return true
}

func (s *Service) Snapshot() model.LayoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Replace swaps the whole panel map.
func (s *Service) Replace(ctx context.Context, panels map[string]model.PanelLayout) model.LayoutState {
	return s.write(ctx, "replace", func(current map[string]model.PanelLayout) map[string]model.PanelLayout {
		next := make(map[string]model.PanelLayout, len(panels))
		for id, p := range panels {
			next[id] = p
		}
		return next
	})
}

// Upsert adds or replaces the given panels and leaves the others untouched.
func (s *Service) Upsert(ctx context.Context, panels map[string]model.PanelLayout) model.LayoutState {
	return s.write(ctx, "upsert", func(current map[string]model.PanelLayout) map[string]model.PanelLayout {
		next := make(map[string]model.PanelLayout, len(current)+len(panels))
		for id, p := range current {
			next[id] = p
		}
		for id, p := range panels {
			next[id] = p
		}
		return next
	})
}

func (s *Service) write(ctx context.Context, op string, apply func(map[string]model.PanelLayout) map[string]model.PanelLayout) model.LayoutState {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.stamp()
	if !s.lastWriteAt.IsZero() {
		if delta := now.Sub(s.lastWriteAt); delta < RapidUpdateWindow {
			s.logger.Warnw("rapid layout update, last write wins", "operation", op, "delta_ms", delta.Milliseconds())
		}
	}
	s.lastWriteAt = now
	s.current = model.LayoutState{Panels: apply(s.current.Panels), LastUpdatedUTC: &now}

	// The caller hanging up must not leave memory ahead of storage.
	if !s.gw.AppendSnapshot(context.WithoutCancel(ctx), model.NewSnapshot(s.current, now)) {
		s.logger.Warnw("layout updated in memory but not persisted", "operation", op)
	}
	return s.current.Clone()
}

// History returns up to limit stored layouts, oldest first.
func (s *Service) History(ctx context.Context, limit int) []model.LayoutState {
	snaps := s.gw.RecentSnapshots(ctx, limit)
	out := make([]model.LayoutState, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap.Layout.Clone())
	}
	return out
}

// ClearHistory keeps the current layout as the only stored snapshot. The bool is
// false when the reset could not be persisted.
func (s *Service) ClearHistory(ctx context.Context) (model.LayoutState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	baseline := s.current.Clone()
	if !s.gw.ResetHistory(context.WithoutCancel(ctx), model.NewSnapshot(baseline, s.stamp())) {
		s.logger.Warnw("history reset not persisted")
		return baseline, false
	}
	return baseline, true
}

// ListPresets returns an empty catalogue when storage cannot be read.
func (s *Service) ListPresets(ctx context.Context) []model.Preset {
	presets, _ := s.gw.ListPresets(ctx)
	out := make([]model.Preset, 0, len(presets))
	for _, p := range model.SortPresets(presets) {
		out = append(out, p.Clone())
	}
	return out
}

func (s *Service) CreatePreset(ctx context.Context, name string, snapshot model.LayoutState) PresetResult {
	name = model.NormalizePresetName(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, ok := s.gw.ListPresets(ctx)
	if !ok {
		return presetFailed(ReasonPersistFailed)
	}
	if findByName(presets, name, "") != nil {
		return presetFailed(ReasonDuplicate)
	}
	now := s.stamp()
	preset := model.Preset{
		ID:         s.newID(),
		Name:       name,
		Snapshot:   snapshot.Clone(),
		CreatedUTC: now,
		UpdatedUTC: now,
	}
	switch s.gw.InsertPreset(ctx, preset) {
	case gateway.OutcomeOK:
		s.logger.Infow("preset created", "preset_id", preset.ID, "name", preset.Name)
		return presetOK(preset)
	case gateway.OutcomeDuplicate:
		return presetFailed(ReasonDuplicate)
	default:
		return presetFailed(ReasonPersistFailed)
	}
}

func (s *Service) RenamePreset(ctx context.Context, id, name string) PresetResult {
	name = model.NormalizePresetName(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, ok := s.gw.ListPresets(ctx)
	if !ok {
		return presetFailed(ReasonPersistFailed)
	}
	existing := findByID(presets, id)
	if existing == nil {
		return presetFailed(ReasonNotFound)
	}
	if findByName(presets, name, id) != nil {
		return presetFailed(ReasonDuplicate)
	}
	renamed := existing.Clone()
	renamed.Name = name
	renamed.UpdatedUTC = s.stamp()
	switch s.gw.RenamePreset(ctx, renamed) {
	case gateway.OutcomeOK:
		return presetOK(renamed)
	case gateway.OutcomeDuplicate:
		return presetFailed(ReasonDuplicate)
	case gateway.OutcomeNotFound:
		return presetFailed(ReasonNotFound)
	default:
		return presetFailed(ReasonPersistFailed)
	}
}

// DeletePreset returns the removed preset on success.
func (s *Service) DeletePreset(ctx context.Context, id string) PresetResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, ok := s.gw.ListPresets(ctx)
	if !ok {
		return presetFailed(ReasonPersistFailed)
	}
	existing := findByID(presets, id)
	if existing == nil {
		return presetFailed(ReasonNotFound)
	}
	switch s.gw.DeletePreset(ctx, id) {
	case gateway.OutcomeOK:
		return presetOK(existing.Clone())
	case gateway.OutcomeNotFound:
		return presetFailed(ReasonNotFound)
	default:
		return presetFailed(ReasonPersistFailed)
	}
}

// stamp returns the current time at the millisecond precision used on the wire.
func (s *Service) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func findByID(presets []model.Preset, id string) *model.Preset {
	for i := range presets {
		if presets[i].ID == id {
			return &presets[i]
		}
	}
	return nil
}

// findByName matches case-insensitively, ignoring the preset with id exceptID.
func findByName(presets []model.Preset, name, exceptID string) *model.Preset {
	key := model.PresetNameKey(name)
	for i := range presets {
		if presets[i].ID != exceptID && model.PresetNameKey(presets[i].Name) == key {
			return &presets[i]
		}
	}
	return nil
}
