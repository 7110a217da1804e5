package persist

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/g960059/layoutsync/internal/model"
)

// TimestampLayout is fixed width so that stored timestamps sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTS(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

type snapshotRecord struct {
	TsUTC         *string         `json:"tsUtc"`
	SchemaVersion *int            `json:"schemaVersion"`
	Layout        json.RawMessage `json:"layout"`
}

type payloadRecord struct {
	SchemaVersion *int            `json:"schemaVersion"`
	Layout        json.RawMessage `json:"layout"`
}

type presetRecord struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	SchemaVersion int             `json:"schemaVersion"`
	Layout        json.RawMessage `json:"layout"`
	CreatedUTC    string          `json:"createdUtc"`
	UpdatedUTC    string          `json:"updatedUtc"`
}

type presetDocument struct {
	SchemaVersion int               `json:"schemaVersion"`
	Presets       []json.RawMessage `json:"presets"`
}

// EncodeSnapshot renders one log line without the trailing newline.
func EncodeSnapshot(snapshot model.Snapshot) ([]byte, error) {
	layout, err := json.Marshal(normalizedLayout(snapshot.Layout))
	if err != nil {
		return nil, fmt.Errorf("marshal layout: %w", err)
	}
	ts := FormatTS(snapshot.TsUTC)
	version := snapshot.SchemaVersion
	return json.Marshal(snapshotRecord{TsUTC: &ts, SchemaVersion: &version, Layout: layout})
}

// DecodeSnapshot parses a log line. Unsupported schema versions yield
// ErrUnsupportedSchema, everything else malformed yields ErrInvalidRecord.
func DecodeSnapshot(raw []byte) (model.Snapshot, error) {
	var rec snapshotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.TsUTC == nil || rec.SchemaVersion == nil {
		return model.Snapshot{}, fmt.Errorf("%w: missing tsUtc or schemaVersion", ErrInvalidRecord)
	}
	ts, err := ParseTS(*rec.TsUTC)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: tsUtc: %v", ErrInvalidRecord, err)
	}
	layout, err := decodeVersionedLayout(*rec.SchemaVersion, rec.Layout)
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{TsUTC: ts, SchemaVersion: *rec.SchemaVersion, Layout: layout}, nil
}

// EncodePayload renders the relational payload column: {schemaVersion, layout}.
func EncodePayload(layout model.LayoutState) ([]byte, error) {
	raw, err := json.Marshal(normalizedLayout(layout))
	if err != nil {
		return nil, fmt.Errorf("marshal layout: %w", err)
	}
	version := model.SchemaVersion
	return json.Marshal(payloadRecord{SchemaVersion: &version, Layout: raw})
}

func DecodePayload(raw []byte) (model.LayoutState, error) {
	var rec payloadRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.LayoutState{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.SchemaVersion == nil {
		return model.LayoutState{}, fmt.Errorf("%w: missing schemaVersion", ErrInvalidRecord)
	}
	return decodeVersionedLayout(*rec.SchemaVersion, rec.Layout)
}

func encodePresetDocument(presets []model.Preset) ([]byte, error) {
	doc := presetDocument{SchemaVersion: model.SchemaVersion, Presets: make([]json.RawMessage, 0, len(presets))}
	for _, p := range presets {
		layout, err := json.Marshal(normalizedLayout(p.Snapshot))
		if err != nil {
			return nil, fmt.Errorf("marshal preset %s: %w", p.ID, err)
		}
		rec, err := json.Marshal(presetRecord{
			ID:            p.ID,
			Name:          p.Name,
			SchemaVersion: model.SchemaVersion,
			Layout:        layout,
			CreatedUTC:    FormatTS(p.CreatedUTC),
			UpdatedUTC:    FormatTS(p.UpdatedUTC),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal preset %s: %w", p.ID, err)
		}
		doc.Presets = append(doc.Presets, rec)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func decodePresetRecord(raw []byte) (model.Preset, error) {
	var rec presetRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Preset{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.ID == "" || rec.Name == "" || rec.CreatedUTC == "" || rec.UpdatedUTC == "" {
		return model.Preset{}, fmt.Errorf("%w: missing preset fields", ErrInvalidRecord)
	}
	layout, err := decodeVersionedLayout(rec.SchemaVersion, rec.Layout)
	if err != nil {
		return model.Preset{}, err
	}
	created, err := ParseTS(rec.CreatedUTC)
	if err != nil {
		return model.Preset{}, fmt.Errorf("%w: createdUtc: %v", ErrInvalidRecord, err)
	}
	updated, err := ParseTS(rec.UpdatedUTC)
	if err != nil {
		return model.Preset{}, fmt.Errorf("%w: updatedUtc: %v", ErrInvalidRecord, err)
	}
	return model.Preset{ID: rec.ID, Name: rec.Name, Snapshot: layout, CreatedUTC: created, UpdatedUTC: updated}, nil
}

func decodeVersionedLayout(version int, raw json.RawMessage) (model.LayoutState, error) {
	if version != model.SchemaVersion {
		return model.LayoutState{}, fmt.Errorf("%w: %d", ErrUnsupportedSchema, version)
	}
	if len(raw) == 0 {
		return model.LayoutState{}, fmt.Errorf("%w: missing layout", ErrInvalidRecord)
	}
	layout, err := model.ParseLayoutState(raw)
	if err != nil {
		return model.LayoutState{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return layout, nil
}

func normalizedLayout(layout model.LayoutState) model.LayoutState {
	if layout.Panels == nil {
		layout.Panels = map[string]model.PanelLayout{}
	}
	return layout
}
