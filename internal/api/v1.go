package api

import (
	"fmt"
	"time"

	"github.com/g960059/layoutsync/internal/model"
)

const SchemaVersion = "v1"

// TimestampLayout matches ISO-8601 with millisecond precision, as browsers emit it.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	ErrPayloadInvalid   = "E_PAYLOAD_INVALID"
	ErrPresetDuplicate  = "E_PRESET_DUPLICATE"
	ErrPresetNotFound   = "E_PRESET_NOT_FOUND"
	ErrPersistFailed    = "E_PERSIST_FAILED"
	ErrMethodNotAllowed = "E_METHOD_NOT_ALLOWED"
	ErrRouteNotFound    = "E_ROUTE_NOT_FOUND"
)

// Error reasons carried next to the code.
const (
	ReasonInvalid       = "invalid"
	ReasonTooLarge      = "too_large"
	ReasonDuplicate     = "duplicate"
	ReasonNotFound      = "not_found"
	ReasonPersistFailed = "persist_failed"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type LayoutState struct {
	Panels         map[string]model.PanelLayout `json:"panels"`
	LastUpdatedUTC *string                      `json:"lastUpdatedUtc"`
}

type LayoutPayload struct {
	Panels map[string]model.PanelLayout `json:"panels"`
}

type HistoryResponse struct {
	Snapshots []LayoutState `json:"snapshots"`
}

type HistoryClearResponse struct {
	Snapshot LayoutState `json:"snapshot"`
}

type Preset struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Snapshot   LayoutState `json:"snapshot"`
	CreatedUTC string      `json:"createdUtc"`
	UpdatedUTC string      `json:"updatedUtc"`
}

type PresetsResponse struct {
	Layouts []Preset `json:"layouts"`
}

type PresetCreateRequest struct {
	Name     string      `json:"name"`
	Snapshot LayoutState `json:"snapshot"`
}

type PresetRenameRequest struct {
	Name string `json:"name"`
}

type PresetResponse struct {
	Preset Preset `json:"preset"`
}

type PresetDeleteResponse struct {
	Removed Preset `json:"removed"`
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func FromLayout(l model.LayoutState) LayoutState {
	out := LayoutState{Panels: make(map[string]model.PanelLayout, len(l.Panels))}
	for id, p := range l.Panels {
		out.Panels[id] = p
	}
	if l.LastUpdatedUTC != nil {
		ts := FormatTimestamp(*l.LastUpdatedUTC)
		out.LastUpdatedUTC = &ts
	}
	return out
}

func FromLayouts(ls []model.LayoutState) []LayoutState {
	out := make([]LayoutState, 0, len(ls))
	for _, l := range ls {
		out = append(out, FromLayout(l))
	}
	return out
}

func (l LayoutState) ToModel() (model.LayoutState, error) {
	out := model.LayoutState{Panels: make(map[string]model.PanelLayout, len(l.Panels))}
	for id, p := range l.Panels {
		out.Panels[id] = p
	}
	if l.LastUpdatedUTC != nil {
		ts, err := ParseTimestamp(*l.LastUpdatedUTC)
		if err != nil {
			return model.LayoutState{}, err
		}
		out.LastUpdatedUTC = &ts
	}
	return out, nil
}

func FromPreset(p model.Preset) Preset {
	return Preset{
		ID:         p.ID,
		Name:       p.Name,
		Snapshot:   FromLayout(p.Snapshot),
		CreatedUTC: FormatTimestamp(p.CreatedUTC),
		UpdatedUTC: FormatTimestamp(p.UpdatedUTC),
	}
}

func FromPresets(ps []model.Preset) []Preset {
	out := make([]Preset, 0, len(ps))
	for _, p := range ps {
		out = append(out, FromPreset(p))
	}
	return out
}

func (p Preset) ToModel() (model.Preset, error) {
	snapshot, err := p.Snapshot.ToModel()
	if err != nil {
		return model.Preset{}, err
	}
	created, err := ParseTimestamp(p.CreatedUTC)
	if err != nil {
		return model.Preset{}, err
	}
	updated, err := ParseTimestamp(p.UpdatedUTC)
	if err != nil {
		return model.Preset{}, err
	}
	return model.Preset{ID: p.ID, Name: p.Name, Snapshot: snapshot, CreatedUTC: created, UpdatedUTC: updated}, nil
}
