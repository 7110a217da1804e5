package store

import (
	"go.uber.org/zap"

	"github.com/g960059/layoutsync/internal/logging"
	"github.com/g960059/layoutsync/internal/model"
)

// LayoutSlice is the layout section of a Store plus its local cache.
type LayoutSlice struct {
	store    *Store
	cache    Cache
	defaults map[string]model.PanelLayout
	logger   *zap.SugaredLogger
}

type SliceOption func(*LayoutSlice)

// WithDefaults overrides the default panel set.
func WithDefaults(panels map[string]model.PanelLayout) SliceOption {
	return func(s *LayoutSlice) { s.defaults = copyPanels(panels) }
}

func WithCache(cache Cache) SliceOption {
	return func(s *LayoutSlice) { s.cache = cache }
}

// NewLayoutSlice registers the layout section on st and hydrates it from the cache,
// if one is configured and holds a layout.
func NewLayoutSlice(st *Store, logger *zap.SugaredLogger, opts ...SliceOption) (*LayoutSlice, error) {
	s := &LayoutSlice{
		store:    st,
		defaults: DefaultPanels(),
		logger:   logging.Named(logger, logging.ComponentStore),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := st.RegisterSlice(LayoutSliceName, InitialLayoutState(s.defaults), layoutReducer(s.defaults)); err != nil {
		return nil, err
	}
	if s.cache != nil {
		cached, ok, err := s.cache.Load()
		switch {
		case err != nil:
			s.logger.Warnw("ignoring unreadable layout cache", "error", err)
		case ok:
			s.dispatchHydrate(cached, SourceCache)
		}
	}
	return s, nil
}

func (s *LayoutSlice) State() LayoutSliceState {
	raw, _ := s.store.State(LayoutSliceName)
	state, ok := raw.(LayoutSliceState)
	if !ok {
		return InitialLayoutState(s.defaults)
	}
	return state
}

func (s *LayoutSlice) Snapshot() model.LayoutState {
	return s.State().Snapshot()
}

// HydrateFromServer adopts a server snapshot and mirrors the result to the cache.
func (s *LayoutSlice) HydrateFromServer(snapshot model.LayoutState) {
	s.dispatchHydrate(snapshot, SourceServer)
	s.writeCache()
}

func (s *LayoutSlice) SetPanelLayout(id string, layout model.PanelLayout, persist bool) {
	s.store.Dispatch(Action{Type: ActionUpdatePanel, Payload: updatePanelPayload{id: id, layout: layout}})
	if persist {
		s.writeCache()
	}
}

func (s *LayoutSlice) ApplyHistorySnapshot(snapshot model.LayoutState, past, future []model.LayoutState, source HydrationSource, persist bool) {
	s.store.Dispatch(Action{Type: ActionApplyWithHistory, Payload: historyPayload{
		snapshot: snapshot,
		past:     past,
		future:   future,
		source:   source,
	}})
	if persist {
		s.writeCache()
	}
}

// ApplyRecorded adopts snapshot with stacks computed by the history manager.
func (s *LayoutSlice) ApplyRecorded(snapshot model.LayoutState, past, future []model.LayoutState) {
	s.store.Dispatch(Action{Type: ActionApplyRecorded, Payload: historyPayload{
		snapshot: snapshot,
		past:     past,
		future:   future,
	}})
	s.writeCache()
}

// ClearHistory empties both stacks and keeps the current layout.
func (s *LayoutSlice) ClearHistory(persist bool) {
	s.ApplyHistorySnapshot(s.Snapshot(), nil, nil, s.State().HydrationSource, persist)
}

// PanelLayout returns the layout for id, falling back to the default set and then
// to the health panel geometry.
func (s *LayoutSlice) PanelLayout(id string) model.PanelLayout {
	if p, ok := s.State().Panels[id]; ok {
		return p
	}
	if p, ok := s.defaults[id]; ok {
		return p
	}
	return DefaultPanels()["health"]
}

// MergeDefaults fills in default panels missing from snapshot.
func (s *LayoutSlice) MergeDefaults(snapshot model.LayoutState) model.LayoutState {
	return MergeDefaults(s.defaults, snapshot)
}

func (s *LayoutSlice) HistoryState() (past, future []model.LayoutState) {
	state := s.State()
	return cloneStack(state.HistoryPast), cloneStack(state.HistoryFuture)
}

func (s *LayoutSlice) Subscribe(fn func(LayoutSliceState)) func() {
	return s.store.Subscribe(func(Action) { fn(s.State()) })
}

func (s *LayoutSlice) dispatchHydrate(snapshot model.LayoutState, source HydrationSource) {
	s.store.Dispatch(Action{Type: ActionHydrate, Payload: hydratePayload{
		defaults: s.defaults,
		snapshot: snapshot,
		source:   source,
	}})
}

func (s *LayoutSlice) writeCache() {
	if s.cache == nil {
		return
	}
	if err := s.cache.Store(s.Snapshot()); err != nil {
		s.logger.Debugw("layout cache write failed", "error", err)
	}
}
