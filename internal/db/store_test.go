package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/persist"
)

func openTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, Options{Dialect: DialectSQLite, SQLitePath: filepath.Join(t.TempDir(), "layout.db")}, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, ctx
}

func snapshotAt(ts time.Time, x float64) model.Snapshot {
	return model.NewSnapshot(model.LayoutState{
		Panels:         map[string]model.PanelLayout{"health": {Visible: true, X: x, W: 3, H: 8}},
		LastUpdatedUTC: &ts,
	}, ts)
}

func TestStoreAppendAndReadRecent(t *testing.T) {
	store, ctx := openTestStore(t)
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	latest, err := store.ReadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("read latest on empty store: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no snapshot, got %+v", latest)
	}

	for i := 0; i < 4; i++ {
		if err := store.AppendSnapshot(ctx, snapshotAt(base.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			t.Fatalf("append snapshot %d: %v", i, err)
		}
	}

	latest, err = store.ReadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if latest == nil || latest.Layout.Panels["health"].X != 3 {
		t.Fatalf("expected latest x=3, got %+v", latest)
	}
	if !latest.TsUTC.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("unexpected latest ts: %s", latest.TsUTC)
	}

	recent, err := store.ReadRecentSnapshots(ctx, 2)
	if err != nil {
		t.Fatalf("read recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Layout.Panels["health"].X != 2 || recent[1].Layout.Panels["health"].X != 3 {
		t.Fatalf("expected oldest-to-newest [2 3], got %+v", recent)
	}
}

func TestStoreSkipsUndecodableRows(t *testing.T) {
	store, ctx := openTestStore(t)
	ts0 := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	if err := store.AppendSnapshot(ctx, snapshotAt(ts0, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	rows := []string{
		`not-json`,
		`{"schemaVersion":2,"layout":{"panels":{},"lastUpdatedUtc":null}}`,
	}
	for _, payload := range rows {
		if _, err := store.DB().ExecContext(ctx, `INSERT INTO ui_layout_snapshots(tsUtc, payload) VALUES (?, ?)`, ts(ts0.Add(time.Minute)), payload); err != nil {
			t.Fatalf("insert raw row: %v", err)
		}
	}

	latest, err := store.ReadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("latest row is undecodable, expected nil from LIMIT 1 read, got %+v", latest)
	}
	recent, err := store.ReadRecentSnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("read recent: %v", err)
	}
	if len(recent) != 1 || !recent[0].TsUTC.Equal(ts0) {
		t.Fatalf("expected only the valid row, got %+v", recent)
	}
}

func TestStoreResetHistoryLeavesBaseline(t *testing.T) {
	store, ctx := openTestStore(t)
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.AppendSnapshot(ctx, snapshotAt(base.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.ResetHistory(ctx, snapshotAt(base.Add(time.Hour), 9)); err != nil {
		t.Fatalf("reset: %v", err)
	}
	n, err := store.CountSnapshots(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 snapshot after reset, got %d", n)
	}
	latest, err := store.ReadLatestSnapshot(ctx)
	if err != nil || latest == nil || latest.Layout.Panels["health"].X != 9 {
		t.Fatalf("expected baseline x=9, got %+v (%v)", latest, err)
	}
}

func TestStoreResetHistoryRollsBackOnFailure(t *testing.T) {
	store, ctx := openTestStore(t)
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.AppendSnapshot(ctx, snapshotAt(base.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	store.beforeResetCommit = func(*sql.Tx) error { return errors.New("disk full") }

	if err := store.ResetHistory(ctx, snapshotAt(base.Add(time.Hour), 9)); err == nil {
		t.Fatalf("expected reset failure")
	}
	n, err := store.CountSnapshots(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected original 3 snapshots after rollback, got %d", n)
	}
}

func TestStorePresetLifecycle(t *testing.T) {
	store, ctx := openTestStore(t)
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	focus := model.Preset{ID: "p1", Name: "Focus", Snapshot: snapshotAt(now, 1).Layout, CreatedUTC: now, UpdatedUTC: now}
	if err := store.InsertPreset(ctx, focus); err != nil {
		t.Fatalf("insert preset: %v", err)
	}
	dup := focus
	dup.ID = "p2"
	dup.Name = "focus"
	if err := store.InsertPreset(ctx, dup); !errors.Is(err, persist.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	wide := focus
	wide.ID = "p3"
	wide.Name = "Wide"
	if err := store.InsertPreset(ctx, wide); err != nil {
		t.Fatalf("insert second preset: %v", err)
	}

	if err := store.RenamePreset(ctx, model.Preset{ID: "p3", Name: "FOCUS", UpdatedUTC: now}); !errors.Is(err, persist.ErrDuplicate) {
		t.Fatalf("expected rename collision ErrDuplicate, got %v", err)
	}
	if err := store.RenamePreset(ctx, model.Preset{ID: "nope", Name: "Other", UpdatedUTC: now}); !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on rename, got %v", err)
	}
	if err := store.RenamePreset(ctx, model.Preset{ID: "p3", Name: "Wide Mode", UpdatedUTC: now.Add(time.Minute)}); err != nil {
		t.Fatalf("rename: %v", err)
	}

	presets, err := store.ListPresets(ctx)
	if err != nil {
		t.Fatalf("list presets: %v", err)
	}
	if len(presets) != 2 || presets[0].Name != "Wide Mode" || presets[1].Name != "Focus" {
		t.Fatalf("unexpected preset order: %+v", presets)
	}
	if presets[1].Snapshot.Panels["health"].W != 3 {
		t.Fatalf("expected preset layout to round-trip, got %+v", presets[1].Snapshot)
	}

	if err := store.DeletePreset(ctx, "nope"); !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
	if err := store.DeletePreset(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	presets, err = store.ListPresets(ctx)
	if err != nil {
		t.Fatalf("list presets: %v", err)
	}
	if len(presets) != 1 || presets[0].ID != "p3" {
		t.Fatalf("unexpected presets after delete: %+v", presets)
	}
}

func TestStoreCloseIsIdempotentAndInitReopens(t *testing.T) {
	store, ctx := openTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := store.ReadLatestSnapshot(ctx); err == nil {
		t.Fatalf("expected error reading from closed store")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := store.AppendSnapshot(ctx, snapshotAt(time.Now().UTC(), 1)); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
}
