package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/store"
)

func layoutWithWidth(w float64) model.LayoutState {
	ts := time.Date(2026, 7, 1, 9, 0, int(w), 0, time.UTC)
	return model.LayoutState{
		Panels:         map[string]model.PanelLayout{"health": {Visible: true, W: w, H: 8}},
		LastUpdatedUTC: &ts,
	}
}

func newSlice(t *testing.T) *store.LayoutSlice {
	t.Helper()
	slice, err := store.NewLayoutSlice(store.New(), nil)
	require.NoError(t, err)
	return slice
}

func TestPushEvictsOldestBeyondLimit(t *testing.T) {
	var stack []model.LayoutState
	for i := 1; i <= 25; i++ {
		stack = Push(stack, layoutWithWidth(float64(i)), Limit)
	}
	require.Len(t, stack, 20)
	assert.Equal(t, float64(6), stack[0].Panels["health"].W)
	assert.Equal(t, float64(25), stack[19].Panels["health"].W)
}

func TestPushDoesNotAliasInput(t *testing.T) {
	base := make([]model.LayoutState, 1, 4)
	base[0] = layoutWithWidth(1)
	a := Push(base, layoutWithWidth(2), Limit)
	b := Push(base, layoutWithWidth(3), Limit)
	assert.Equal(t, float64(2), a[1].Panels["health"].W)
	assert.Equal(t, float64(3), b[1].Panels["health"].W)
}

func TestRecordSuppressesNoOpEdits(t *testing.T) {
	slice := newSlice(t)
	s := layoutWithWidth(4)

	assert.False(t, Record(slice, s, s))
	past, future := slice.HistoryState()
	assert.Empty(t, past)
	assert.Empty(t, future)

	// Only the timestamp differs: still not a history entry.
	later := s.Clone()
	later.LastUpdatedUTC = model.Ptr(s.LastUpdatedUTC.Add(time.Minute))
	assert.False(t, Record(slice, s, later))
	past, _ = slice.HistoryState()
	assert.Empty(t, past)
	assert.True(t, model.TimestampsEqual(later.LastUpdatedUTC, slice.Snapshot().LastUpdatedUTC))
}

func TestRecordPushesPreviousAndClearsFuture(t *testing.T) {
	slice := newSlice(t)
	slice.ApplyHistorySnapshot(layoutWithWidth(2), []model.LayoutState{layoutWithWidth(1)}, []model.LayoutState{layoutWithWidth(9)}, store.SourceServer, false)

	assert.True(t, Record(slice, layoutWithWidth(2), layoutWithWidth(3)))
	past, future := slice.HistoryState()
	require.Len(t, past, 2)
	assert.Equal(t, float64(2), past[1].Panels["health"].W)
	assert.Empty(t, future)
	assert.Equal(t, float64(3), slice.Snapshot().Panels["health"].W)
}

func TestRecordIsBounded(t *testing.T) {
	slice := newSlice(t)
	prev := layoutWithWidth(0)
	for i := 1; i <= 25; i++ {
		next := layoutWithWidth(float64(i))
		Record(slice, prev, next)
		prev = next
	}
	past, _ := slice.HistoryState()
	require.Len(t, past, 20)
	assert.Equal(t, float64(5), past[0].Panels["health"].W)
	assert.Equal(t, float64(24), past[19].Panels["health"].W)
}

func TestNavigateEmptyStacks(t *testing.T) {
	state := store.InitialLayoutState(store.DefaultPanels())
	assert.Nil(t, Navigate(state, Back))
	assert.Nil(t, Navigate(state, Forward))
	assert.Nil(t, Navigate(state, Direction("sideways")))
}

func TestNavigateBackThenForwardRestoresState(t *testing.T) {
	slice := newSlice(t)
	slice.ApplyHistorySnapshot(layoutWithWidth(3), []model.LayoutState{layoutWithWidth(1), layoutWithWidth(2)}, nil, store.SourceServer, false)
	before := slice.State()

	back := Navigate(before, Back)
	require.NotNil(t, back)
	assert.Equal(t, float64(2), back.Target.Panels["health"].W)
	require.Len(t, back.Past, 1)
	require.Len(t, back.Future, 1)
	assert.Equal(t, float64(3), back.Future[0].Panels["health"].W)

	slice.ApplyHistorySnapshot(back.Target, back.Past, back.Future, store.SourceHistory, false)
	fwd := Navigate(slice.State(), Forward)
	require.NotNil(t, fwd)
	slice.ApplyHistorySnapshot(fwd.Target, fwd.Past, fwd.Future, store.SourceHistory, false)

	after := slice.State()
	assert.True(t, model.PanelsEqual(before.Panels, after.Panels))
	assert.True(t, model.TimestampsEqual(before.LastUpdatedUTC, after.LastUpdatedUTC))
	require.Len(t, after.HistoryPast, 2)
	for i := range before.HistoryPast {
		assert.True(t, model.PanelsEqual(before.HistoryPast[i].Panels, after.HistoryPast[i].Panels))
	}
	assert.Empty(t, after.HistoryFuture)
}

func TestNavigateForwardThenBackRestoresState(t *testing.T) {
	slice := newSlice(t)
	slice.ApplyHistorySnapshot(layoutWithWidth(1), nil, []model.LayoutState{layoutWithWidth(2), layoutWithWidth(3)}, store.SourceServer, false)
	before := slice.State()

	fwd := Navigate(before, Forward)
	require.NotNil(t, fwd)
	assert.Equal(t, float64(2), fwd.Target.Panels["health"].W)
	slice.ApplyHistorySnapshot(fwd.Target, fwd.Past, fwd.Future, store.SourceHistory, false)

	back := Navigate(slice.State(), Back)
	require.NotNil(t, back)
	slice.ApplyHistorySnapshot(back.Target, back.Past, back.Future, store.SourceHistory, false)

	after := slice.State()
	assert.True(t, model.PanelsEqual(before.Panels, after.Panels))
	assert.Empty(t, after.HistoryPast)
	require.Len(t, after.HistoryFuture, 2)
	assert.Equal(t, float64(2), after.HistoryFuture[0].Panels["health"].W)
	assert.Equal(t, float64(3), after.HistoryFuture[1].Panels["health"].W)
}

func TestNavigateDoesNotMutateInput(t *testing.T) {
	state := store.InitialLayoutState(store.DefaultPanels())
	state.HistoryPast = []model.LayoutState{layoutWithWidth(1), layoutWithWidth(2)}
	nav := Navigate(state, Back)
	require.NotNil(t, nav)
	nav.Past = append(nav.Past, layoutWithWidth(7))
	assert.Len(t, state.HistoryPast, 2)
	assert.Equal(t, float64(2), state.HistoryPast[1].Panels["health"].W)
}

func TestFromSnapshots(t *testing.T) {
	_, _, ok := FromSnapshots(nil)
	assert.False(t, ok)

	var snaps []model.LayoutState
	for i := 1; i <= 21; i++ {
		snaps = append(snaps, layoutWithWidth(float64(i)))
	}
	current, past, ok := FromSnapshots(snaps)
	require.True(t, ok)
	assert.Equal(t, float64(21), current.Panels["health"].W)
	require.Len(t, past, 20)
	assert.Equal(t, float64(1), past[0].Panels["health"].W)

	current, past, ok = FromSnapshots(append(snaps, layoutWithWidth(22)))
	require.True(t, ok)
	assert.Equal(t, float64(22), current.Panels["health"].W)
	require.Len(t, past, 20)
	assert.Equal(t, float64(2), past[0].Panels["health"].W)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" Undo ")
	require.NoError(t, err)
	assert.Equal(t, Back, d)
	d, err = ParseDirection("forward")
	require.NoError(t, err)
	assert.Equal(t, Forward, d)
	_, err = ParseDirection("up")
	assert.Error(t, err)
}
