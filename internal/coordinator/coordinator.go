// Package coordinator applies layout edits to the client store before the server
// confirms them, and reconciles or rolls back once the server answers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/layoutsync/internal/history"
	"github.com/g960059/layoutsync/internal/logging"
	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/store"
)

var (
	ErrInteractionLocked = errors.New("another layout change is still in flight")
	ErrPresetNotFound    = errors.New("preset not found")
)

// Transport is the subset of the layout API the coordinator needs.
type Transport interface {
	GetLayout(ctx context.Context) (model.LayoutState, error)
	ReplaceLayout(ctx context.Context, panels map[string]model.PanelLayout) (model.LayoutState, error)
	PatchLayout(ctx context.Context, panels map[string]model.PanelLayout) (model.LayoutState, error)
	History(ctx context.Context, limit int) ([]model.LayoutState, error)
	ClearHistory(ctx context.Context) (model.LayoutState, error)
	ListPresets(ctx context.Context) ([]model.Preset, error)
	CreatePreset(ctx context.Context, name string, snapshot model.LayoutState) (model.Preset, error)
	RenamePreset(ctx context.Context, id, name string) (model.Preset, error)
	DeletePreset(ctx context.Context, id string) (model.Preset, error)
}

const (
	DefaultTimeout  = 8 * time.Second
	DefaultCacheTTL = 5 * time.Minute

	// PreloadHistoryLimit is one current snapshot plus a full past stack.
	PreloadHistoryLimit = history.Limit + 1
)

type Option func(*Coordinator)

func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithQueryCache(q *QueryCache) Option {
	return func(c *Coordinator) {
		if q != nil {
			c.queries = q
		}
	}
}

type Coordinator struct {
	transport Transport
	slice     *store.LayoutSlice
	queries   *QueryCache
	logger    *zap.SugaredLogger
	timeout   time.Duration
	busy      atomic.Bool
}

func New(transport Transport, slice *store.LayoutSlice, logger *zap.SugaredLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport: transport,
		slice:     slice,
		logger:    logging.Named(logger, logging.ComponentCoordinator),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queries == nil {
		c.queries = NewQueryCache(DefaultCacheTTL)
	}
	return c
}

func (c *Coordinator) Queries() *QueryCache { return c.queries }

// Locked reports whether a mutation is outstanding.
func (c *Coordinator) Locked() bool { return c.busy.Load() }

// Preload fetches the current layout and recent history together. Nothing is applied
// unless both requests finished and ctx is still live; a failed history read still
// lets the layout through.
func (c *Coordinator) Preload(ctx context.Context) error {
	var (
		layout     model.LayoutState
		snapshots  []model.LayoutState
		historyErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, c.timeout)
		defer cancel()
		var err error
		layout, err = c.transport.GetLayout(callCtx)
		if err != nil {
			return fmt.Errorf("preload layout: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, c.timeout)
		defer cancel()
		snapshots, historyErr = c.transport.History(callCtx, PreloadHistoryLimit)
		return nil
	})
	err := g.Wait()
	if ctx.Err() != nil {
		c.logger.Debugw("preload aborted, discarding results")
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	if c.isStale(layout) {
		c.logger.Debugw("discarding stale layout from preload", "server_ts", layout.LastUpdatedUTC)
	} else {
		c.slice.HydrateFromServer(layout)
		c.queries.SetLayout(layout)
	}

	if historyErr != nil {
		return fmt.Errorf("preload history: %w", historyErr)
	}
	current, past, ok := history.FromSnapshots(snapshots)
	if !ok {
		return nil
	}
	c.queries.SetHistory(snapshots)
	if c.isStale(current) {
		return nil
	}
	c.slice.ApplyHistorySnapshot(current, past, nil, store.SourceServer, true)
	c.queries.SetLayout(current)
	return nil
}

// PatchPanels upserts panels locally, then on the server.
func (c *Coordinator) PatchPanels(ctx context.Context, panels map[string]model.PanelLayout) (*MutationContext, error) {
	return c.mutate(ctx, KindPatch, mutationPlan{
		optimistic: func(*MutationContext) {
			for id, p := range panels {
				c.slice.SetPanelLayout(id, p, false)
			}
		},
		call: func(ctx context.Context) (model.LayoutState, error) {
			return c.transport.PatchLayout(ctx, panels)
		},
		adopt: c.adoptRecorded,
	})
}

// ReplaceLayout swaps the whole panel set locally, then on the server.
func (c *Coordinator) ReplaceLayout(ctx context.Context, panels map[string]model.PanelLayout) (*MutationContext, error) {
	return c.mutate(ctx, KindReplace, mutationPlan{
		optimistic: func(m *MutationContext) {
			next := model.LayoutState{Panels: panels, LastUpdatedUTC: m.PreviousSnapshot.LastUpdatedUTC}
			c.slice.ApplyHistorySnapshot(next, m.PreviousPast, m.PreviousFuture, m.PreviousSource, false)
		},
		call: func(ctx context.Context) (model.LayoutState, error) {
			return c.transport.ReplaceLayout(ctx, panels)
		},
		adopt: c.adoptRecorded,
	})
}

// Navigate moves one step through history and writes the target to the server. It
// returns nil without error when there is nothing in that direction.
func (c *Coordinator) Navigate(ctx context.Context, dir history.Direction) (*MutationContext, error) {
	var nav *history.Navigation
	m, err := c.mutate(ctx, KindNavigate, mutationPlan{
		prepare: func(m *MutationContext) bool {
			nav = history.Navigate(c.slice.State(), dir)
			if nav == nil {
				return false
			}
			m.NextPast, m.NextFuture = nav.Past, nav.Future
			return true
		},
		optimistic: func(*MutationContext) {
			c.slice.ApplyHistorySnapshot(nav.Target, nav.Past, nav.Future, store.SourceHistory, true)
			c.queries.SetLayout(nav.Target)
		},
		call: func(ctx context.Context) (model.LayoutState, error) {
			return c.transport.ReplaceLayout(ctx, nav.Target.Panels)
		},
		adopt: func(m *MutationContext, server model.LayoutState) {
			c.slice.ApplyHistorySnapshot(server, m.NextPast, m.NextFuture, store.SourceServer, true)
			c.queries.SetLayout(server)
		},
	})
	if errors.Is(err, errNothingToDo) {
		return nil, nil
	}
	return m, err
}

// ClearHistory empties both stacks locally and asks the server to keep only the
// current layout.
func (c *Coordinator) ClearHistory(ctx context.Context) (*MutationContext, error) {
	return c.mutate(ctx, KindClearHistory, mutationPlan{
		optimistic: func(*MutationContext) {
			c.slice.ClearHistory(true)
		},
		call:        c.transport.ClearHistory,
		ignoreStale: true,
		adopt: func(_ *MutationContext, baseline model.LayoutState) {
			c.slice.ApplyHistorySnapshot(baseline, nil, nil, store.SourceServer, true)
			c.queries.SetLayout(baseline)
			c.queries.SetHistory([]model.LayoutState{baseline})
		},
	})
}

// ApplyPreset replaces the layout with a saved preset's panels.
func (c *Coordinator) ApplyPreset(ctx context.Context, id string) (*MutationContext, error) {
	preset, err := c.findPreset(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.ReplaceLayout(ctx, preset.Snapshot.Panels)
}

func (c *Coordinator) ListPresets(ctx context.Context) ([]model.Preset, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	presets, err := c.transport.ListPresets(callCtx)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	c.queries.SetPresets(presets)
	return model.SortPresets(presets), nil
}

// CreatePreset saves the current store layout under name.
func (c *Coordinator) CreatePreset(ctx context.Context, name string) (model.Preset, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	preset, err := c.transport.CreatePreset(callCtx, name, c.slice.Snapshot())
	if err != nil {
		return model.Preset{}, fmt.Errorf("create preset: %w", err)
	}
	c.queries.UpdatePresets(func(ps []model.Preset) []model.Preset {
		return append([]model.Preset{preset}, ps...)
	})
	return preset, nil
}

func (c *Coordinator) RenamePreset(ctx context.Context, id, name string) (model.Preset, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	preset, err := c.transport.RenamePreset(callCtx, id, name)
	if err != nil {
		return model.Preset{}, fmt.Errorf("rename preset: %w", err)
	}
	c.queries.UpdatePresets(func(ps []model.Preset) []model.Preset {
		for i := range ps {
			if ps[i].ID == preset.ID {
				ps[i] = preset
			}
		}
		return ps
	})
	return preset, nil
}

func (c *Coordinator) DeletePreset(ctx context.Context, id string) (model.Preset, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	removed, err := c.transport.DeletePreset(callCtx, id)
	if err != nil {
		return model.Preset{}, fmt.Errorf("delete preset: %w", err)
	}
	c.queries.UpdatePresets(func(ps []model.Preset) []model.Preset {
		out := ps[:0]
		for _, p := range ps {
			if p.ID != removed.ID {
				out = append(out, p)
			}
		}
		return out
	})
	return removed, nil
}

func (c *Coordinator) findPreset(ctx context.Context, id string) (model.Preset, error) {
	if cached, ok := c.queries.Presets(); ok {
		for _, p := range cached {
			if p.ID == id {
				return p, nil
			}
		}
	}
	presets, err := c.ListPresets(ctx)
	if err != nil {
		return model.Preset{}, err
	}
	for _, p := range presets {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, id)
}

// adoptRecorded takes the server snapshot and records the edit in history.
func (c *Coordinator) adoptRecorded(m *MutationContext, server model.LayoutState) {
	c.queries.SetLayout(server)
	m.Recorded = history.Record(c.slice, m.PreviousSnapshot, server)
}

// isStale reports whether server is older than what the store holds. A layout that
// came from the local cache never wins against a server read.
func (c *Coordinator) isStale(server model.LayoutState) bool {
	state := c.slice.State()
	if !state.Hydrated || state.HydrationSource == store.SourceCache {
		return false
	}
	return model.IsOlder(server.LastUpdatedUTC, state.LastUpdatedUTC)
}
