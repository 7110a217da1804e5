package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/g960059/layoutsync/internal/config"
	"github.com/g960059/layoutsync/internal/db"
	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/persist"
)

type fakeAdapter struct {
	persist.Adapter

	name      string
	initCalls atomic.Int32
	initErr   error
	initDelay time.Duration
	writeErr  error
	listErr   error
	// block makes writes wait for their context.
	block  bool
	closed atomic.Int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Init(context.Context) error {
	f.initCalls.Add(1)
	if f.initDelay > 0 {
		time.Sleep(f.initDelay)
	}
	return f.initErr
}

func (f *fakeAdapter) ReadLatestSnapshot(context.Context) (*model.Snapshot, error) {
	return nil, errors.New("read exploded")
}

func (f *fakeAdapter) ReadRecentSnapshots(_ context.Context, limit int) ([]model.Snapshot, error) {
	out := make([]model.Snapshot, limit)
	return out, nil
}

func (f *fakeAdapter) AppendSnapshot(ctx context.Context, _ model.Snapshot) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.writeErr
}

func (f *fakeAdapter) ListPresets(context.Context) ([]model.Preset, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []model.Preset{{ID: "p"}}, nil
}

func (f *fakeAdapter) InsertPreset(context.Context, model.Preset) error { return f.writeErr }

func (f *fakeAdapter) DeletePreset(context.Context, string) error { return f.writeErr }

func (f *fakeAdapter) Close() error {
	f.closed.Add(1)
	return nil
}

func TestGatewayInitializesOnceUnderConcurrency(t *testing.T) {
	adapter := &fakeAdapter{name: "fake-once", initDelay: 20 * time.Millisecond}
	gw := New(adapter, zaptest.NewLogger(t).Sugar())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gw.AppendSnapshot(context.Background(), model.Snapshot{})
		}()
	}
	wg.Wait()
	gw.AppendSnapshot(context.Background(), model.Snapshot{})
	assert.Equal(t, int32(1), adapter.initCalls.Load())
}

func TestGatewayRetriesFailedInit(t *testing.T) {
	adapter := &fakeAdapter{name: "fake-retry", initErr: errors.New("db down")}
	gw := New(adapter, zaptest.NewLogger(t).Sugar())

	assert.False(t, gw.AppendSnapshot(context.Background(), model.Snapshot{}))
	adapter.initErr = nil
	assert.True(t, gw.AppendSnapshot(context.Background(), model.Snapshot{}))
	assert.Equal(t, int32(2), adapter.initCalls.Load())
}

func TestGatewaySoftensErrors(t *testing.T) {
	adapter := &fakeAdapter{name: "fake-soft"}
	gw := New(adapter, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	assert.Nil(t, gw.LatestSnapshot(ctx))
	assert.Equal(t, 1.0, promtest.ToFloat64(operationsTotal.WithLabelValues("fake-soft", opLatest, "failed")))

	adapter.writeErr = persist.ErrDuplicate
	assert.Equal(t, OutcomeDuplicate, gw.InsertPreset(ctx, model.Preset{ID: "p"}))
	adapter.writeErr = persist.ErrNotFound
	assert.Equal(t, OutcomeNotFound, gw.DeletePreset(ctx, "p"))
	adapter.writeErr = errors.New("disk")
	assert.Equal(t, OutcomeFailed, gw.DeletePreset(ctx, "p"))
	assert.False(t, OutcomeFailed.OK())
	adapter.writeErr = nil
	assert.True(t, gw.InsertPreset(ctx, model.Preset{ID: "p"}).OK())
}

func TestGatewayListPresetsReportsReadFailure(t *testing.T) {
	adapter := &fakeAdapter{name: "fake-list"}
	gw := New(adapter, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	presets, ok := gw.ListPresets(ctx)
	assert.True(t, ok)
	assert.Len(t, presets, 1)

	adapter.listErr = errors.New("is a directory")
	presets, ok = gw.ListPresets(ctx)
	assert.False(t, ok)
	assert.Nil(t, presets)
	assert.Equal(t, 1.0, promtest.ToFloat64(operationsTotal.WithLabelValues("fake-list", opListPresets, "failed")))
}

func TestGatewayTimeoutBoundsAdapterCalls(t *testing.T) {
	adapter := &fakeAdapter{name: "fake-timeout", block: true}
	gw := New(adapter, zaptest.NewLogger(t).Sugar(), WithTimeout(20*time.Millisecond))

	start := time.Now()
	assert.False(t, gw.AppendSnapshot(context.Background(), model.Snapshot{}))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGatewayNormalizesHistoryLimit(t *testing.T) {
	gw := New(&fakeAdapter{name: "fake-limit"}, zaptest.NewLogger(t).Sugar())
	assert.Len(t, gw.RecentSnapshots(context.Background(), 0), model.DefaultHistoryFetchLimit)
	assert.Len(t, gw.RecentSnapshots(context.Background(), 1000), model.MaxHistoryFetchLimit)
}

func TestGatewayCloseIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{name: "fake-close"}
	gw := New(adapter, zaptest.NewLogger(t).Sugar())
	require.NoError(t, gw.Close())
	require.NoError(t, gw.Close())
	assert.Equal(t, int32(1), adapter.closed.Load())
	assert.False(t, gw.AppendSnapshot(context.Background(), model.Snapshot{}))
	assert.Equal(t, int32(0), adapter.initCalls.Load())
}

func TestOpenAdapterSelectsVariant(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	dir := t.TempDir()

	a, err := OpenAdapter(config.PersistConfig{Adapter: "ndjson", DataDir: dir}, logger)
	require.NoError(t, err)
	_, ok := a.(*persist.LogAdapter)
	assert.True(t, ok)

	a, err = OpenAdapter(config.PersistConfig{Adapter: "mysql", Driver: "sqlite", SQLitePath: filepath.Join(dir, "l.db")}, logger)
	require.NoError(t, err)
	store, ok := a.(*db.Store)
	require.True(t, ok)
	assert.Equal(t, db.DialectSQLite, store.Dialect())

	_, err = OpenAdapter(config.PersistConfig{Adapter: "redis"}, logger)
	assert.Error(t, err)
}

func TestGatewayOverLogAdapterRoundTrip(t *testing.T) {
	gw := New(persist.NewLogAdapter(t.TempDir(), zaptest.NewLogger(t).Sugar()), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, gw.AppendSnapshot(ctx, model.NewSnapshot(model.LayoutState{Panels: map[string]model.PanelLayout{"health": {Visible: true}}, LastUpdatedUTC: &now}, now)))
	latest := gw.LatestSnapshot(ctx)
	require.NotNil(t, latest)
	assert.True(t, latest.Layout.Panels["health"].Visible)
}
