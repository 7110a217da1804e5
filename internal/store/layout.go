package store

import (
	"time"

	"github.com/g960059/layoutsync/internal/model"
)

const LayoutSliceName = "uiLayout"

type HydrationSource string

const (
	SourceNone    HydrationSource = ""
	SourceCache   HydrationSource = "cache"
	SourceServer  HydrationSource = "server"
	SourceHistory HydrationSource = "history"
)

const (
	ActionHydrate          = "uiLayout/hydrate"
	ActionUpdatePanel      = "uiLayout/updatePanel"
	ActionApplyWithHistory = "uiLayout/applyWithHistory"
	ActionApplyRecorded    = "uiLayout/applyRecorded"
)

type LayoutSliceState struct {
	Panels          map[string]model.PanelLayout
	LastUpdatedUTC  *time.Time
	Hydrated        bool
	HydrationSource HydrationSource
	HistoryPast     []model.LayoutState
	HistoryFuture   []model.LayoutState
}

// DefaultPanels is the panel set every hydrated layout is merged over.
func DefaultPanels() map[string]model.PanelLayout {
	return map[string]model.PanelLayout{
		"health": {Visible: true, Collapsed: false, X: 0, Y: 0, W: 3, H: 8},
	}
}

func InitialLayoutState(defaults map[string]model.PanelLayout) LayoutSliceState {
	return LayoutSliceState{Panels: copyPanels(defaults)}
}

// Snapshot returns the {panels, lastUpdatedUtc} view of the slice, sharing nothing.
func (s LayoutSliceState) Snapshot() model.LayoutState {
	return model.LayoutState{Panels: s.Panels, LastUpdatedUTC: s.LastUpdatedUTC}.Clone()
}

type hydratePayload struct {
	defaults map[string]model.PanelLayout
	snapshot model.LayoutState
	source   HydrationSource
}

type updatePanelPayload struct {
	id     string
	layout model.PanelLayout
}

type historyPayload struct {
	snapshot model.LayoutState
	past     []model.LayoutState
	future   []model.LayoutState
	source   HydrationSource
}

// MergeDefaults overlays snapshot's panels on defaults so every known panel id has
// a layout.
func MergeDefaults(defaults map[string]model.PanelLayout, snapshot model.LayoutState) model.LayoutState {
	merged := copyPanels(defaults)
	for id, p := range snapshot.Panels {
		merged[id] = p
	}
	return model.LayoutState{Panels: merged, LastUpdatedUTC: cloneTime(snapshot.LastUpdatedUTC)}
}

// Hydrate merges snapshot over defaults. When the merged result equals the current
// layout only the hydrated flag is set; history stacks are never touched.
func Hydrate(state LayoutSliceState, defaults map[string]model.PanelLayout, snapshot model.LayoutState, source HydrationSource) LayoutSliceState {
	merged := MergeDefaults(defaults, snapshot).Panels
	if model.PanelsEqual(merged, state.Panels) && model.TimestampsEqual(snapshot.LastUpdatedUTC, state.LastUpdatedUTC) {
		if state.Hydrated {
			return state
		}
		state.Hydrated = true
		state.HydrationSource = source
		return state
	}
	state.Panels = merged
	state.LastUpdatedUTC = cloneTime(snapshot.LastUpdatedUTC)
	state.Hydrated = true
	state.HydrationSource = source
	return state
}

// UpdatePanel replaces one panel locally. The timestamp and history are unchanged.
func UpdatePanel(state LayoutSliceState, id string, layout model.PanelLayout) LayoutSliceState {
	if id == "" {
		return state
	}
	panels := copyPanels(state.Panels)
	panels[id] = layout
	state.Panels = panels
	return state
}

// ApplyWithHistory sets the layout and overwrites both history stacks.
func ApplyWithHistory(state LayoutSliceState, snapshot model.LayoutState, past, future []model.LayoutState, source HydrationSource) LayoutSliceState {
	state.Panels = copyPanels(snapshot.Panels)
	state.LastUpdatedUTC = cloneTime(snapshot.LastUpdatedUTC)
	state.Hydrated = true
	state.HydrationSource = source
	state.HistoryPast = cloneStack(past)
	state.HistoryFuture = cloneStack(future)
	return state
}

// ApplyRecorded adopts snapshot with the stacks computed by history recording,
// keeping the current hydration source.
func ApplyRecorded(state LayoutSliceState, snapshot model.LayoutState, past, future []model.LayoutState) LayoutSliceState {
	source := state.HydrationSource
	if source == SourceNone {
		source = SourceServer
	}
	return ApplyWithHistory(state, snapshot, past, future, source)
}

func layoutReducer(defaults map[string]model.PanelLayout) Reducer {
	return func(raw any, action Action) (any, bool) {
		state, _ := raw.(LayoutSliceState)
		var next LayoutSliceState
		switch action.Type {
		case ActionHydrate:
			p, ok := action.Payload.(hydratePayload)
			if !ok {
				return raw, false
			}
			next = Hydrate(state, p.defaults, p.snapshot, p.source)
		case ActionUpdatePanel:
			p, ok := action.Payload.(updatePanelPayload)
			if !ok {
				return raw, false
			}
			next = UpdatePanel(state, p.id, p.layout)
		case ActionApplyWithHistory:
			p, ok := action.Payload.(historyPayload)
			if !ok {
				return raw, false
			}
			next = ApplyWithHistory(state, MergeDefaults(defaults, p.snapshot), p.past, p.future, p.source)
		case ActionApplyRecorded:
			p, ok := action.Payload.(historyPayload)
			if !ok {
				return raw, false
			}
			next = ApplyRecorded(state, MergeDefaults(defaults, p.snapshot), p.past, p.future)
		default:
			return raw, false
		}
		return next, !sameState(state, next)
	}
}

func sameState(a, b LayoutSliceState) bool {
	return a.Hydrated == b.Hydrated &&
		a.HydrationSource == b.HydrationSource &&
		model.PanelsEqual(a.Panels, b.Panels) &&
		model.TimestampsEqual(a.LastUpdatedUTC, b.LastUpdatedUTC) &&
		stacksEqual(a.HistoryPast, b.HistoryPast) &&
		stacksEqual(a.HistoryFuture, b.HistoryFuture)
}

func stacksEqual(a, b []model.LayoutState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !model.PanelsEqual(a[i].Panels, b[i].Panels) || !model.TimestampsEqual(a[i].LastUpdatedUTC, b[i].LastUpdatedUTC) {
			return false
		}
	}
	return true
}

func copyPanels(in map[string]model.PanelLayout) map[string]model.PanelLayout {
	out := make(map[string]model.PanelLayout, len(in))
	for id, p := range in {
		out[id] = p
	}
	return out
}

func cloneStack(in []model.LayoutState) []model.LayoutState {
	out := make([]model.LayoutState, 0, len(in))
	for _, s := range in {
		out = append(out, s.Clone())
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
