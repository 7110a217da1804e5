// Package history keeps the client's undo and redo stacks of layout snapshots.
//
// The past stack is ordered oldest first, so its top is the last element. The future
// stack is ordered next-redo first.
package history

import (
	"fmt"
	"strings"

	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/store"
)

const Limit = model.HistoryLimit

type Direction string

const (
	Back    Direction = "back"
	Forward Direction = "forward"
)

func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case Back, "undo":
		return Back, nil
	case Forward, "redo":
		return Forward, nil
	default:
		return "", fmt.Errorf("unknown history direction %q", raw)
	}
}

// Navigation is the planned result of moving through history: the snapshot to show
// and the stacks that go with it.
type Navigation struct {
	Target model.LayoutState
	Past   []model.LayoutState
	Future []model.LayoutState
}

// Push appends entry and evicts from the front until at most limit remain. The input
// slice is not modified.
func Push(stack []model.LayoutState, entry model.LayoutState, limit int) []model.LayoutState {
	if limit <= 0 {
		limit = Limit
	}
	out := make([]model.LayoutState, 0, len(stack)+1)
	out = append(out, stack...)
	out = append(out, entry.Clone())
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// pushFront prepends entry and drops from the back beyond limit.
func pushFront(stack []model.LayoutState, entry model.LayoutState, limit int) []model.LayoutState {
	out := make([]model.LayoutState, 0, len(stack)+1)
	out = append(out, entry.Clone())
	out = append(out, stack...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Plan computes the stacks after moving from previous to next. An edit that leaves
// every panel unchanged keeps the stacks as they are.
func Plan(past, future []model.LayoutState, previous, next model.LayoutState) (newPast, newFuture []model.LayoutState, recorded bool) {
	if model.PanelsEqual(previous.Panels, next.Panels) {
		return past, future, false
	}
	return Push(past, previous, Limit), nil, true
}

// Record adopts next in the slice and pushes previous onto the past stack unless the
// two layouts are identical once default panels are filled in. It reports whether
// history grew.
func Record(slice *store.LayoutSlice, previous, next model.LayoutState) bool {
	previous, next = slice.MergeDefaults(previous), slice.MergeDefaults(next)
	past, future := slice.HistoryState()
	newPast, newFuture, recorded := Plan(past, future, previous, next)
	slice.ApplyRecorded(next, newPast, newFuture)
	return recorded
}

// Navigate plans a move through history from state. It returns nil when the stack
// in the requested direction is empty.
func Navigate(state store.LayoutSliceState, dir Direction) *Navigation {
	current := state.Snapshot()
	switch dir {
	case Back:
		n := len(state.HistoryPast)
		if n == 0 {
			return nil
		}
		return &Navigation{
			Target: state.HistoryPast[n-1].Clone(),
			Past:   clone(state.HistoryPast[:n-1]),
			Future: pushFront(state.HistoryFuture, current, Limit),
		}
	case Forward:
		if len(state.HistoryFuture) == 0 {
			return nil
		}
		return &Navigation{
			Target: state.HistoryFuture[0].Clone(),
			Past:   Push(state.HistoryPast, current, Limit),
			Future: clone(state.HistoryFuture[1:]),
		}
	default:
		return nil
	}
}

// FromSnapshots rebuilds the current layout and past stack from durable snapshots
// ordered oldest first. No future stack survives a reload.
func FromSnapshots(snapshots []model.LayoutState) (current model.LayoutState, past []model.LayoutState, ok bool) {
	if len(snapshots) == 0 {
		return model.LayoutState{}, nil, false
	}
	current = snapshots[len(snapshots)-1].Clone()
	rest := snapshots[:len(snapshots)-1]
	if len(rest) > Limit {
		rest = rest[len(rest)-Limit:]
	}
	return current, clone(rest), true
}

func clone(in []model.LayoutState) []model.LayoutState {
	out := make([]model.LayoutState, 0, len(in))
	for _, s := range in {
		out = append(out, s.Clone())
	}
	return out
}
