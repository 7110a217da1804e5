package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/store"
)

type MutationKind string

const (
	KindPatch        MutationKind = "patch"
	KindReplace      MutationKind = "replace"
	KindNavigate     MutationKind = "navigate"
	KindClearHistory MutationKind = "clear_history"
)

// Mutation states.
const (
	StateIdle       = "idle"
	StateOptimistic = "optimistic-applied"
	StateReconciled = "reconciled"
	StateRolledBack = "rolled-back"
)

const (
	EventApply     = "apply"
	EventReconcile = "reconcile"
	EventRollback  = "rollback"
)

var mutationEvents = fsm.Events{
	{Name: EventApply, Src: []string{StateIdle}, Dst: StateOptimistic},
	{Name: EventReconcile, Src: []string{StateOptimistic}, Dst: StateReconciled},
	{Name: EventRollback, Src: []string{StateOptimistic}, Dst: StateRolledBack},
}

var errNothingToDo = errors.New("nothing to do")

// MutationContext is the compensation record of one mutation: what the store held
// before the optimistic change, and how the mutation settled.
type MutationContext struct {
	Kind MutationKind

	PreviousSnapshot model.LayoutState
	PreviousPast     []model.LayoutState
	PreviousFuture   []model.LayoutState
	PreviousSource   store.HydrationSource

	// NextPast and NextFuture are the stacks a navigation planned.
	NextPast   []model.LayoutState
	NextFuture []model.LayoutState

	// Server is the response, set once the call succeeded.
	Server *model.LayoutState
	// Stale is set when Server was older than the store and was discarded.
	Stale bool
	// Recorded is set when the edit was pushed onto the past stack.
	Recorded bool
	Err      error

	machine *fsm.FSM
}

func (m *MutationContext) State() string {
	if m == nil || m.machine == nil {
		return StateIdle
	}
	return m.machine.Current()
}

type mutationPlan struct {
	// prepare may veto the mutation before anything changes.
	prepare     func(m *MutationContext) bool
	optimistic  func(m *MutationContext)
	call        func(ctx context.Context) (model.LayoutState, error)
	adopt       func(m *MutationContext, server model.LayoutState)
	ignoreStale bool
}

func (c *Coordinator) capture(kind MutationKind) *MutationContext {
	state := c.slice.State()
	past, future := c.slice.HistoryState()
	return &MutationContext{
		Kind:             kind,
		PreviousSnapshot: state.Snapshot(),
		PreviousPast:     past,
		PreviousFuture:   future,
		PreviousSource:   state.HydrationSource,
	}
}

// mutate drives one mutation through its state machine. The store effects run in
// the enter callbacks so every transition has exactly one place that touches state.
func (c *Coordinator) mutate(ctx context.Context, kind MutationKind, plan mutationPlan) (*MutationContext, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrInteractionLocked
	}
	defer c.busy.Store(false)

	m := c.capture(kind)
	if plan.prepare != nil && !plan.prepare(m) {
		return nil, errNothingToDo
	}
	logger := c.logger.With("kind", string(kind))
	m.machine = fsm.NewFSM(StateIdle, mutationEvents, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			logger.Debugw("mutation transition", "from", e.Src, "to", e.Dst)
		},
		"enter_" + StateOptimistic: func(context.Context, *fsm.Event) {
			plan.optimistic(m)
		},
		"enter_" + StateRolledBack: func(context.Context, *fsm.Event) {
			c.rollback(m)
		},
		"enter_" + StateReconciled: func(context.Context, *fsm.Event) {
			server := *m.Server
			if !plan.ignoreStale && c.isStale(server) {
				m.Stale = true
				logger.Debugw("discarding stale server layout", "server_ts", server.LastUpdatedUTC)
				return
			}
			plan.adopt(m, server)
		},
	})

	// Transitions must complete even when the caller's context is already done.
	fsmCtx := context.WithoutCancel(ctx)
	if err := m.machine.Event(fsmCtx, EventApply); err != nil {
		return m, fmt.Errorf("%s: %w", kind, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	server, err := plan.call(callCtx)
	cancel()
	if err != nil {
		m.Err = err
		logger.Warnw("layout mutation failed, rolling back", "error", err)
		if ferr := m.machine.Event(fsmCtx, EventRollback); ferr != nil {
			return m, errors.Join(fmt.Errorf("%s: %w", kind, err), ferr)
		}
		return m, fmt.Errorf("%s: %w", kind, err)
	}
	m.Server = &server
	if err := m.machine.Event(fsmCtx, EventReconcile); err != nil {
		return m, fmt.Errorf("%s: %w", kind, err)
	}
	return m, nil
}

// rollback puts the store and the query cache back to exactly what they held before
// the optimistic change.
func (c *Coordinator) rollback(m *MutationContext) {
	source := m.PreviousSource
	if source == store.SourceNone {
		source = store.SourceServer
	}
	c.slice.ApplyHistorySnapshot(m.PreviousSnapshot, m.PreviousPast, m.PreviousFuture, source, true)
	c.queries.SetLayout(m.PreviousSnapshot)
}
