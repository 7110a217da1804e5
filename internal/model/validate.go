package model

import (
	"bytes"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// ValidationError is returned by the Parse* functions. Nothing has been mutated when
// one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// LayoutPayload is the body of a replace or merge request.
type LayoutPayload struct {
	Panels map[string]PanelLayout `json:"panels"`
}

type PresetCreatePayload struct {
	Name     string      `json:"name"`
	Snapshot LayoutState `json:"snapshot"`
}

type PresetRenamePayload struct {
	Name string `json:"name"`
}

var panelFields = [...]string{"visible", "collapsed", "x", "y", "w", "h"}

func ParseLayoutPayload(raw []byte) (LayoutPayload, error) {
	obj, err := decodeObject(raw, "body")
	if err != nil {
		return LayoutPayload{}, err
	}
	panels, err := parsePanels(obj, "panels")
	if err != nil {
		return LayoutPayload{}, err
	}
	return LayoutPayload{Panels: panels}, nil
}

func ParsePresetCreate(raw []byte) (PresetCreatePayload, error) {
	obj, err := decodeObject(raw, "body")
	if err != nil {
		return PresetCreatePayload{}, err
	}
	name, err := parsePresetName(obj)
	if err != nil {
		return PresetCreatePayload{}, err
	}
	snapRaw, ok := obj["snapshot"]
	if !ok {
		return PresetCreatePayload{}, invalid("snapshot", "is required")
	}
	snapshot, err := ParseLayoutState(snapRaw)
	if err != nil {
		return PresetCreatePayload{}, err
	}
	return PresetCreatePayload{Name: name, Snapshot: snapshot}, nil
}

func ParsePresetRename(raw []byte) (PresetRenamePayload, error) {
	obj, err := decodeObject(raw, "body")
	if err != nil {
		return PresetRenamePayload{}, err
	}
	name, err := parsePresetName(obj)
	if err != nil {
		return PresetRenamePayload{}, err
	}
	return PresetRenamePayload{Name: name}, nil
}

// ParseLayoutState validates a full {panels, lastUpdatedUtc} object.
func ParseLayoutState(raw []byte) (LayoutState, error) {
	obj, err := decodeObject(raw, "snapshot")
	if err != nil {
		return LayoutState{}, err
	}
	panels, err := parsePanels(obj, "snapshot.panels")
	if err != nil {
		return LayoutState{}, err
	}
	state := LayoutState{Panels: panels}
	tsRaw, ok := obj["lastUpdatedUtc"]
	if !ok {
		return LayoutState{}, invalid("snapshot.lastUpdatedUtc", "is required")
	}
	if !isNull(tsRaw) {
		var text string
		if err := json.Unmarshal(tsRaw, &text); err != nil {
			return LayoutState{}, invalid("snapshot.lastUpdatedUtc", "must be a string or null")
		}
		ts, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return LayoutState{}, invalid("snapshot.lastUpdatedUtc", "must be an RFC3339 timestamp")
		}
		ts = ts.UTC()
		state.LastUpdatedUTC = &ts
	}
	return state, nil
}

func ValidatePresetName(name string) (string, error) {
	trimmed := NormalizePresetName(name)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 {
		return "", invalid("name", "must not be empty")
	}
	if n > PresetNameMaxLen {
		return "", invalid("name", "must be at most %d characters", PresetNameMaxLen)
	}
	return trimmed, nil
}

func parsePresetName(obj map[string]json.RawMessage) (string, error) {
	raw, ok := obj["name"]
	if !ok {
		return "", invalid("name", "is required")
	}
	var name string
	if isNull(raw) || json.Unmarshal(raw, &name) != nil {
		return "", invalid("name", "must be a string")
	}
	return ValidatePresetName(name)
}

func parsePanels(obj map[string]json.RawMessage, field string) (map[string]PanelLayout, error) {
	raw, ok := obj["panels"]
	if !ok {
		return nil, invalid(field, "is required")
	}
	entries, err := decodeObject(raw, field)
	if err != nil {
		return nil, err
	}
	panels := make(map[string]PanelLayout, len(entries))
	for id, entry := range entries {
		if id == "" {
			return nil, invalid(field, "panel id must not be empty")
		}
		panel, err := parsePanel(entry, field+"."+id)
		if err != nil {
			return nil, err
		}
		panels[id] = panel
	}
	return panels, nil
}

func parsePanel(raw json.RawMessage, field string) (PanelLayout, error) {
	fields, err := decodeObject(raw, field)
	if err != nil {
		return PanelLayout{}, err
	}
	for _, name := range panelFields {
		v, ok := fields[name]
		if !ok || isNull(v) {
			return PanelLayout{}, invalid(field+"."+name, "is required")
		}
	}
	var p PanelLayout
	if err := json.Unmarshal(fields["visible"], &p.Visible); err != nil {
		return PanelLayout{}, invalid(field+".visible", "must be a boolean")
	}
	if err := json.Unmarshal(fields["collapsed"], &p.Collapsed); err != nil {
		return PanelLayout{}, invalid(field+".collapsed", "must be a boolean")
	}
	nums := []struct {
		name string
		dst  *float64
	}{{"x", &p.X}, {"y", &p.Y}, {"w", &p.W}, {"h", &p.H}}
	for _, n := range nums {
		if err := json.Unmarshal(fields[n.name], n.dst); err != nil || math.IsNaN(*n.dst) || math.IsInf(*n.dst, 0) {
			return PanelLayout{}, invalid(field+"."+n.name, "must be a number")
		}
	}
	return p, nil
}

func decodeObject(raw []byte, field string) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, invalid(field, "must be a JSON object")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, invalid(field, "must be a JSON object")
	}
	return obj, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
