// Package gateway fronts the configured persistence adapter. It initializes the
// adapter lazily, converts every failure into a logged, counted soft result and
// never returns adapter errors to its callers.
package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/g960059/layoutsync/internal/logging"
	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/persist"
)

var errClosed = errors.New("gateway closed")

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeDuplicate
	OutcomeNotFound
	OutcomeFailed
)

func (o Outcome) OK() bool { return o == OutcomeOK }

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

type Option func(*Gateway)

// WithTimeout bounds each adapter call. Zero leaves the caller's context as is.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

type Gateway struct {
	adapter persist.Adapter
	logger  *zap.SugaredLogger
	timeout time.Duration

	initGroup singleflight.Group
	ready     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func New(adapter persist.Adapter, logger *zap.SugaredLogger, opts ...Option) *Gateway {
	g := &Gateway{
		adapter: adapter,
		logger:  logging.Named(logger, logging.ComponentGateway).With("adapter", adapter.Name()),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) AdapterName() string { return g.adapter.Name() }

// ensureInit runs adapter.Init once. Concurrent first callers share one attempt; a
// failed attempt is retried by the next caller.
func (g *Gateway) ensureInit(ctx context.Context) error {
	if g.closed.Load() {
		return errClosed
	}
	if g.ready.Load() {
		return nil
	}
	_, err, _ := g.initGroup.Do("init", func() (any, error) {
		if g.ready.Load() {
			return nil, nil
		}
		start := time.Now()
		err := g.adapter.Init(ctx)
		g.observe(opInit, start, resultOf(err))
		if err != nil {
			g.logger.Errorw("persistence init failed", "error", err)
			return nil, err
		}
		g.ready.Store(true)
		g.logger.Infow("persistence ready")
		return nil, nil
	})
	return err
}

func (g *Gateway) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return ctx, func() {}
}

func (g *Gateway) observe(op string, start time.Time, result string) {
	adapter := g.adapter.Name()
	operationsTotal.WithLabelValues(adapter, op, result).Inc()
	operationDuration.WithLabelValues(adapter, op).Observe(time.Since(start).Seconds())
}

func resultOf(err error) string {
	if err == nil {
		return OutcomeOK.String()
	}
	return classify(err).String()
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, persist.ErrDuplicate):
		return OutcomeDuplicate
	case errors.Is(err, persist.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeFailed
	}
}

// run initializes the adapter if needed and executes fn, recording the result.
func (g *Gateway) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	if err := g.ensureInit(ctx); err != nil {
		g.observe(op, start, OutcomeFailed.String())
		return err
	}
	opCtx, cancel := g.opContext(ctx)
	defer cancel()
	err := fn(opCtx)
	g.observe(op, start, resultOf(err))
	return err
}

// LatestSnapshot returns nil when nothing is stored or the read failed.
func (g *Gateway) LatestSnapshot(ctx context.Context) *model.Snapshot {
	var snap *model.Snapshot
	err := g.run(ctx, opLatest, func(ctx context.Context) error {
		var err error
		snap, err = g.adapter.ReadLatestSnapshot(ctx)
		return err
	})
	if err != nil {
		g.logger.Errorw("read latest snapshot failed", "error", err)
		return nil
	}
	return snap
}

// RecentSnapshots returns up to limit snapshots oldest to newest. The limit is
// normalized to the accepted range first.
func (g *Gateway) RecentSnapshots(ctx context.Context, limit int) []model.Snapshot {
	limit = model.NormalizeHistoryLimit(limit)
	var snaps []model.Snapshot
	err := g.run(ctx, opRecent, func(ctx context.Context) error {
		var err error
		snaps, err = g.adapter.ReadRecentSnapshots(ctx, limit)
		return err
	})
	if err != nil {
		g.logger.Errorw("read recent snapshots failed", "limit", limit, "error", err)
		return nil
	}
	return snaps
}

func (g *Gateway) AppendSnapshot(ctx context.Context, snapshot model.Snapshot) bool {
	err := g.run(ctx, opAppend, func(ctx context.Context) error {
		return g.adapter.AppendSnapshot(ctx, snapshot)
	})
	if err != nil {
		g.logger.Errorw("append snapshot failed", "error", err)
		return false
	}
	return true
}

func (g *Gateway) ResetHistory(ctx context.Context, snapshot model.Snapshot) bool {
	err := g.run(ctx, opReset, func(ctx context.Context) error {
		return g.adapter.ResetHistory(ctx, snapshot)
	})
	if err != nil {
		g.logger.Errorw("reset history failed", "error", err)
		return false
	}
	return true
}

// ListPresets reports false when the catalogue could not be read, so callers can
// tell an outage from an empty catalogue.
func (g *Gateway) ListPresets(ctx context.Context) ([]model.Preset, bool) {
	var presets []model.Preset
	err := g.run(ctx, opListPresets, func(ctx context.Context) error {
		var err error
		presets, err = g.adapter.ListPresets(ctx)
		return err
	})
	if err != nil {
		g.logger.Errorw("list presets failed", "error", err)
		return nil, false
	}
	return presets, true
}

func (g *Gateway) InsertPreset(ctx context.Context, preset model.Preset) Outcome {
	return g.presetWrite(ctx, opInsertPreset, preset.ID, func(ctx context.Context) error {
		return g.adapter.InsertPreset(ctx, preset)
	})
}

func (g *Gateway) RenamePreset(ctx context.Context, preset model.Preset) Outcome {
	return g.presetWrite(ctx, opRenamePreset, preset.ID, func(ctx context.Context) error {
		return g.adapter.RenamePreset(ctx, preset)
	})
}

func (g *Gateway) DeletePreset(ctx context.Context, id string) Outcome {
	return g.presetWrite(ctx, opDeletePreset, id, func(ctx context.Context) error {
		return g.adapter.DeletePreset(ctx, id)
	})
}

func (g *Gateway) presetWrite(ctx context.Context, op, id string, fn func(context.Context) error) Outcome {
	err := g.run(ctx, op, fn)
	outcome := classify(err)
	switch outcome {
	case OutcomeOK:
	case OutcomeFailed:
		g.logger.Errorw("preset write failed", "operation", op, "preset_id", id, "error", err)
	default:
		g.logger.Debugw("preset write rejected", "operation", op, "preset_id", id, "outcome", outcome.String())
	}
	return outcome
}

// Close releases the adapter. Later operations report failure.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		g.closeErr = g.adapter.Close()
		if g.closeErr != nil {
			g.logger.Warnw("closing persistence adapter failed", "error", g.closeErr)
		}
	})
	return g.closeErr
}
