package layout

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/g960059/layoutsync/internal/gateway"
	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/persist"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func newService(t *testing.T, clock *fakeClock) (*Service, *gateway.Gateway) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	gw := gateway.New(persist.NewLogAdapter(t.TempDir(), logger), logger)
	t.Cleanup(func() { _ = gw.Close() })
	n := 0
	svc := NewService(gw, logger, WithClock(clock.Now), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("preset-%d", n)
	}))
	return svc, gw
}

var health = model.PanelLayout{Visible: true, X: 0, Y: 0, W: 3, H: 8}

func TestReplaceRoundTripsThroughStorage(t *testing.T) {
	clock := newClock()
	svc, gw := newService(t, clock)
	ctx := context.Background()

	state := svc.Replace(ctx, map[string]model.PanelLayout{"health": health})
	require.NotNil(t, state.LastUpdatedUTC)
	assert.True(t, state.LastUpdatedUTC.Equal(clock.Now()))
	assert.True(t, model.PanelsEqual(state.Panels, svc.Snapshot().Panels))

	latest := gw.LatestSnapshot(ctx)
	require.NotNil(t, latest)
	assert.True(t, model.PanelsEqual(state.Panels, latest.Layout.Panels))
}

func TestUpsertMergesPanels(t *testing.T) {
	clock := newClock()
	svc, _ := newService(t, clock)
	ctx := context.Background()

	svc.Replace(ctx, map[string]model.PanelLayout{"health": health})
	clock.Advance(2 * time.Second)
	secondary := model.PanelLayout{Visible: true, X: 3, W: 3, H: 8}
	state := svc.Upsert(ctx, map[string]model.PanelLayout{"secondary": secondary})

	assert.Equal(t, health, state.Panels["health"])
	assert.Equal(t, secondary, state.Panels["secondary"])

	clock.Advance(2 * time.Second)
	state = svc.Replace(ctx, map[string]model.PanelLayout{"secondary": secondary})
	assert.NotContains(t, state.Panels, "health")
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	svc, _ := newService(t, newClock())
	svc.Replace(context.Background(), map[string]model.PanelLayout{"health": health})

	snap := svc.Snapshot()
	snap.Panels["health"] = model.PanelLayout{}
	assert.Equal(t, health, svc.Snapshot().Panels["health"])
}

func TestRapidUpdateLogsWarningOnly(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	clock := newClock()
	gw := gateway.New(persist.NewLogAdapter(t.TempDir(), nil), nil)
	svc := NewService(gw, zap.New(core).Sugar(), WithClock(clock.Now))
	ctx := context.Background()

	svc.Replace(ctx, map[string]model.PanelLayout{"health": health})
	clock.Advance(200 * time.Millisecond)
	state := svc.Upsert(ctx, map[string]model.PanelLayout{"secondary": health})

	assert.Contains(t, state.Panels, "secondary")
	assert.Equal(t, 1, logs.FilterMessage("rapid layout update, last write wins").Len())

	clock.Advance(time.Second)
	svc.Upsert(ctx, map[string]model.PanelLayout{"third": health})
	assert.Equal(t, 1, logs.FilterMessage("rapid layout update, last write wins").Len())
}

type failingGateway struct {
	Gateway
}

func (failingGateway) AppendSnapshot(context.Context, model.Snapshot) bool { return false }

func (failingGateway) ResetHistory(context.Context, model.Snapshot) bool { return false }

func (failingGateway) ListPresets(context.Context) ([]model.Preset, bool) { return nil, false }

func (failingGateway) InsertPreset(context.Context, model.Preset) gateway.Outcome {
	return gateway.OutcomeFailed
}

func TestPersistenceFailureStillUpdatesState(t *testing.T) {
	svc := NewService(failingGateway{}, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	state := svc.Replace(ctx, map[string]model.PanelLayout{"health": health})
	assert.Equal(t, health, state.Panels["health"])
	assert.Equal(t, health, svc.Snapshot().Panels["health"])

	_, ok := svc.ClearHistory(ctx)
	assert.False(t, ok)

	res := svc.CreatePreset(ctx, "Focus", state)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonPersistFailed, res.Reason)
}

func TestClearHistoryKeepsCurrentAsOnlySnapshot(t *testing.T) {
	clock := newClock()
	svc, _ := newService(t, clock)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		clock.Advance(2 * time.Second)
		svc.Replace(ctx, map[string]model.PanelLayout{"health": {Visible: true, X: float64(i), W: 3, H: 8}})
	}

	baseline, ok := svc.ClearHistory(ctx)
	require.True(t, ok)
	history := svc.History(ctx, 20)
	require.Len(t, history, 1)
	assert.True(t, model.PanelsEqual(baseline.Panels, history[0].Panels))
	assert.True(t, model.PanelsEqual(svc.Snapshot().Panels, history[0].Panels))
}

func TestHistoryOldestFirst(t *testing.T) {
	clock := newClock()
	svc, _ := newService(t, clock)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		clock.Advance(2 * time.Second)
		svc.Replace(ctx, map[string]model.PanelLayout{"health": {Visible: true, X: float64(i), W: 3, H: 8}})
	}
	history := svc.History(ctx, 3)
	require.Len(t, history, 3)
	assert.Equal(t, float64(2), history[0].Panels["health"].X)
	assert.Equal(t, float64(4), history[2].Panels["health"].X)
}

func TestRestoreLoadsLatestSnapshot(t *testing.T) {
	clock := newClock()
	logger := zaptest.NewLogger(t).Sugar()
	dir := t.TempDir()
	ctx := context.Background()

	first := NewService(gateway.New(persist.NewLogAdapter(dir, logger), logger), logger, WithClock(clock.Now))
	assert.False(t, first.Restore(ctx))
	first.Replace(ctx, map[string]model.PanelLayout{"health": health})

	second := NewService(gateway.New(persist.NewLogAdapter(dir, logger), logger), logger, WithClock(clock.Now))
	require.True(t, second.Restore(ctx))
	restored := second.Snapshot()
	assert.Equal(t, health, restored.Panels["health"])
	require.NotNil(t, restored.LastUpdatedUTC)
}

func TestPresetDuplicateIsCaseAndWhitespaceInsensitive(t *testing.T) {
	svc, _ := newService(t, newClock())
	ctx := context.Background()
	snap := model.LayoutState{Panels: map[string]model.PanelLayout{"health": health}}

	first := svc.CreatePreset(ctx, "Foo", snap)
	require.True(t, first.OK)
	assert.Equal(t, "preset-1", first.Preset.ID)

	second := svc.CreatePreset(ctx, "foo ", snap)
	assert.False(t, second.OK)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.Len(t, svc.ListPresets(ctx), 1)
}

func TestRenamePreset(t *testing.T) {
	clock := newClock()
	svc, _ := newService(t, clock)
	ctx := context.Background()
	snap := model.EmptyLayout()

	a := svc.CreatePreset(ctx, "Alpha", snap)
	b := svc.CreatePreset(ctx, "Beta", snap)
	require.True(t, a.OK)
	require.True(t, b.OK)

	res := svc.RenamePreset(ctx, "missing", "Gamma")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonNotFound, res.Reason)

	res = svc.RenamePreset(ctx, b.Preset.ID, " alpha ")
	assert.Equal(t, ReasonDuplicate, res.Reason)

	clock.Advance(time.Minute)
	res = svc.RenamePreset(ctx, a.Preset.ID, "ALPHA")
	require.True(t, res.OK)
	assert.Equal(t, "ALPHA", res.Preset.Name)
	assert.True(t, res.Preset.UpdatedUTC.After(res.Preset.CreatedUTC))

	presets := svc.ListPresets(ctx)
	require.Len(t, presets, 2)
	assert.Equal(t, "ALPHA", presets[0].Name)
}

func TestDeletePresetReturnsRemoved(t *testing.T) {
	svc, _ := newService(t, newClock())
	ctx := context.Background()
	created := svc.CreatePreset(ctx, "Alpha", model.EmptyLayout())
	require.True(t, created.OK)

	res := svc.DeletePreset(ctx, "missing")
	assert.Equal(t, ReasonNotFound, res.Reason)

	res = svc.DeletePreset(ctx, created.Preset.ID)
	require.True(t, res.OK)
	assert.Equal(t, "Alpha", res.Preset.Name)
	assert.Empty(t, svc.ListPresets(ctx))
}

func TestPresetReadFailureIsNotReportedAsNotFound(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	adapter := persist.NewLogAdapter(t.TempDir(), logger)
	svc := NewService(gateway.New(adapter, logger), logger, WithClock(newClock().Now))
	ctx := context.Background()

	created := svc.CreatePreset(ctx, "Foo", model.EmptyLayout())
	require.True(t, created.OK)

	require.NoError(t, os.Remove(adapter.PresetPath()))
	require.NoError(t, os.Mkdir(adapter.PresetPath(), 0o700))

	assert.Equal(t, ReasonPersistFailed, svc.RenamePreset(ctx, created.Preset.ID, "Bar").Reason)
	assert.Equal(t, ReasonPersistFailed, svc.DeletePreset(ctx, created.Preset.ID).Reason)
	assert.Equal(t, ReasonPersistFailed, svc.CreatePreset(ctx, "Baz", model.EmptyLayout()).Reason)
	assert.Empty(t, svc.ListPresets(ctx))
}

func TestWritesPersistAfterCallerCancels(t *testing.T) {
	clock := newClock()
	svc, gw := newService(t, clock)
	svc.Replace(context.Background(), map[string]model.PanelLayout{"health": health})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clock.Advance(2 * time.Second)
	moved := model.PanelLayout{Visible: true, X: 9, W: 3, H: 8}
	state := svc.Replace(ctx, map[string]model.PanelLayout{"health": moved})
	assert.Equal(t, moved, state.Panels["health"])

	latest := gw.LatestSnapshot(context.Background())
	require.NotNil(t, latest)
	assert.Equal(t, moved, latest.Layout.Panels["health"])

	_, ok := svc.ClearHistory(ctx)
	assert.True(t, ok)
	assert.Len(t, svc.History(context.Background(), 20), 1)
}
