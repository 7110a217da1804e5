package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneDoesNotShareState(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := LayoutState{
		Panels:         map[string]PanelLayout{"health": {Visible: true, W: 3, H: 8}},
		LastUpdatedUTC: &ts,
	}
	clone := orig.Clone()
	clone.Panels["health"] = PanelLayout{Visible: false}
	clone.Panels["extra"] = PanelLayout{}
	*clone.LastUpdatedUTC = ts.Add(time.Hour)

	assert.True(t, orig.Panels["health"].Visible)
	assert.NotContains(t, orig.Panels, "extra")
	assert.True(t, orig.LastUpdatedUTC.Equal(ts))
}

func TestCloneOfZeroValueHasPanels(t *testing.T) {
	clone := LayoutState{}.Clone()
	require.NotNil(t, clone.Panels)
	assert.Nil(t, clone.LastUpdatedUTC)
}

func TestPanelsEqualIsSymmetricOverUnion(t *testing.T) {
	a := map[string]PanelLayout{"a": {X: 1}}
	b := map[string]PanelLayout{"a": {X: 1}, "b": {}}
	assert.False(t, PanelsEqual(a, b))
	assert.False(t, PanelsEqual(b, a))
	assert.True(t, PanelsEqual(a, map[string]PanelLayout{"a": {X: 1}}))
	assert.False(t, PanelsEqual(a, map[string]PanelLayout{"a": {X: 1, Collapsed: true}}))
	assert.True(t, PanelsEqual(nil, map[string]PanelLayout{}))
}

func TestIsOlder(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	assert.True(t, IsOlder(&t1, &t2))
	assert.False(t, IsOlder(&t2, &t1))
	assert.False(t, IsOlder(&t1, &t1))
	assert.False(t, IsOlder(nil, &t1))
	assert.False(t, IsOlder(&t1, nil))
}

func TestSortPresetsByUpdatedDescThenName(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sorted := SortPresets([]Preset{
		{ID: "1", Name: "b", UpdatedUTC: base},
		{ID: "2", Name: "a", UpdatedUTC: base},
		{ID: "3", Name: "z", UpdatedUTC: base.Add(time.Minute)},
	})
	ids := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID}
	assert.Equal(t, []string{"3", "2", "1"}, ids)
}

func TestNormalizeHistoryLimit(t *testing.T) {
	assert.Equal(t, 20, NormalizeHistoryLimit(0))
	assert.Equal(t, 20, NormalizeHistoryLimit(-3))
	assert.Equal(t, 7, NormalizeHistoryLimit(7))
	assert.Equal(t, 100, NormalizeHistoryLimit(500))
}

func TestParseLayoutPayloadAcceptsFullPanels(t *testing.T) {
	payload, err := ParseLayoutPayload([]byte(`{"panels":{"health":{"visible":true,"collapsed":false,"x":0,"y":0,"w":3,"h":8}}}`))
	require.NoError(t, err)
	assert.Equal(t, PanelLayout{Visible: true, W: 3, H: 8}, payload.Panels["health"])
}

func TestParseLayoutPayloadRejectsMalformedBodies(t *testing.T) {
	bodies := []string{
		``,
		`[]`,
		`null`,
		`{}`,
		`{"panels":null}`,
		`{"panels":[]}`,
		`{"panels":{"health":{"visible":true,"collapsed":false,"x":0,"y":0,"w":3}}}`,
		`{"panels":{"health":{"visible":"yes","collapsed":false,"x":0,"y":0,"w":3,"h":8}}}`,
		`{"panels":{"health":{"visible":true,"collapsed":false,"x":"0","y":0,"w":3,"h":8}}}`,
		`{"panels":{"health":{"visible":null,"collapsed":false,"x":0,"y":0,"w":3,"h":8}}}`,
		`{"panels":{"":{"visible":true,"collapsed":false,"x":0,"y":0,"w":3,"h":8}}}`,
	}
	for _, body := range bodies {
		_, err := ParseLayoutPayload([]byte(body))
		var verr *ValidationError
		require.Truef(t, errors.As(err, &verr), "expected validation error for %q, got %v", body, err)
	}
}

func TestParsePresetCreateTrimsName(t *testing.T) {
	payload, err := ParsePresetCreate([]byte(`{"name":"  Foo  ","snapshot":{"panels":{},"lastUpdatedUtc":"2026-01-01T00:00:00.000Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Foo", payload.Name)
	require.NotNil(t, payload.Snapshot.LastUpdatedUTC)
	assert.Equal(t, 2026, payload.Snapshot.LastUpdatedUTC.Year())

	payload, err = ParsePresetCreate([]byte(`{"name":"Bar","snapshot":{"panels":{},"lastUpdatedUtc":null}}`))
	require.NoError(t, err)
	assert.Nil(t, payload.Snapshot.LastUpdatedUTC)
}

func TestParsePresetNameLength(t *testing.T) {
	_, err := ParsePresetRename([]byte(`{"name":"   "}`))
	require.Error(t, err)

	_, err = ParsePresetRename([]byte(`{"name":"` + strings.Repeat("x", 65) + `"}`))
	require.Error(t, err)

	payload, err := ParsePresetRename([]byte(`{"name":"` + strings.Repeat("é", 64) + `"}`))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 64), payload.Name)
}

func TestParsePresetCreateRequiresSnapshot(t *testing.T) {
	_, err := ParsePresetCreate([]byte(`{"name":"Foo"}`))
	require.Error(t, err)
	_, err = ParsePresetCreate([]byte(`{"name":"Foo","snapshot":{"panels":{}}}`))
	require.Error(t, err)
	_, err = ParsePresetCreate([]byte(`{"name":"Foo","snapshot":{"panels":{},"lastUpdatedUtc":"yesterday"}}`))
	require.Error(t, err)
}

func TestPresetNameKeyIsCaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, PresetNameKey("Foo"), PresetNameKey("foo "))
}
