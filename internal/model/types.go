package model

import (
	"sort"
	"strings"
	"time"

	"github.com/tiendc/go-deepcopy"
)

// SchemaVersion is the only snapshot/preset schema version readers accept.
const SchemaVersion = 1

// HistoryLimit bounds the client past/future stacks.
const HistoryLimit = 20

const (
	DefaultHistoryFetchLimit = 20
	MaxHistoryFetchLimit     = 100
	PresetNameMaxLen         = 64
)

// PanelLayout is the full layout of a single panel. Writes replace it wholesale.
type PanelLayout struct {
	Visible   bool    `json:"visible"`
	Collapsed bool    `json:"collapsed"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	W         float64 `json:"w"`
	H         float64 `json:"h"`
}

// LayoutState is the authoritative current layout. A missing panel id means the
// layout of that panel is unknown, not hidden.
type LayoutState struct {
	Panels         map[string]PanelLayout `json:"panels"`
	LastUpdatedUTC *time.Time             `json:"lastUpdatedUtc"`
}

// Snapshot is one immutable, versioned copy of the layout.
type Snapshot struct {
	TsUTC         time.Time   `json:"tsUtc"`
	SchemaVersion int         `json:"schemaVersion"`
	Layout        LayoutState `json:"layout"`
}

// Preset is a named, user-saved layout.
type Preset struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Snapshot   LayoutState `json:"snapshot"`
	CreatedUTC time.Time   `json:"createdUtc"`
	UpdatedUTC time.Time   `json:"updatedUtc"`
}

func EmptyLayout() LayoutState {
	return LayoutState{Panels: map[string]PanelLayout{}}
}

// Clone returns a deep copy that shares nothing with s.
func (s LayoutState) Clone() LayoutState {
	out := LayoutState{Panels: make(map[string]PanelLayout, len(s.Panels))}
	if len(s.Panels) > 0 {
		if err := deepcopy.Copy(&out.Panels, s.Panels); err != nil {
			out.Panels = make(map[string]PanelLayout, len(s.Panels))
			for id, p := range s.Panels {
				out.Panels[id] = p
			}
		}
	}
	if out.Panels == nil {
		out.Panels = map[string]PanelLayout{}
	}
	// time.Time carries unexported fields; copy it by value.
	if s.LastUpdatedUTC != nil {
		ts := *s.LastUpdatedUTC
		out.LastUpdatedUTC = &ts
	}
	return out
}

func (p Preset) Clone() Preset {
	p.Snapshot = p.Snapshot.Clone()
	return p
}

// PanelsEqual compares two panel maps over the union of their ids.
func PanelsEqual(a, b map[string]PanelLayout) bool {
	if len(a) != len(b) {
		return false
	}
	for id, pa := range a {
		pb, ok := b[id]
		if !ok || pa != pb {
			return false
		}
	}
	return true
}

// TimestampsEqual treats two nil timestamps as equal.
func TimestampsEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// IsOlder reports whether next is strictly older than current. Unknown timestamps
// never count as stale.
func IsOlder(next, current *time.Time) bool {
	if next == nil || current == nil {
		return false
	}
	return next.Before(*current)
}

func NewSnapshot(layout LayoutState, now time.Time) Snapshot {
	return Snapshot{
		TsUTC:         now.UTC(),
		SchemaVersion: SchemaVersion,
		Layout:        layout.Clone(),
	}
}

func NormalizePresetName(name string) string {
	return strings.TrimSpace(name)
}

// PresetNameKey is the case-insensitive identity of a preset name.
func PresetNameKey(name string) string {
	return strings.ToLower(NormalizePresetName(name))
}

// SortPresets orders by updatedUtc descending, then name ascending.
func SortPresets(presets []Preset) []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedUTC.Equal(out[j].UpdatedUTC) {
			return out[i].UpdatedUTC.After(out[j].UpdatedUTC)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func NormalizeHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryFetchLimit
	}
	if limit > MaxHistoryFetchLimit {
		return MaxHistoryFetchLimit
	}
	return limit
}

func Ptr[T any](v T) *T {
	return &v
}
