// Package db is the relational persistence backend for layout snapshots and presets.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/g960059/layoutsync/internal/logging"
	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/persist"
	"github.com/g960059/layoutsync/internal/security"
)

type Store struct {
	opts   Options
	logger *zap.SugaredLogger

	mu sync.Mutex
	db *sql.DB

	// beforeResetCommit lets tests fail a reset after its statements ran.
	beforeResetCommit func(tx *sql.Tx) error
}

var _ persist.Adapter = (*Store)(nil)

// New returns an unopened store; the pool is created by Init.
func New(opts Options, logger *zap.SugaredLogger) *Store {
	if opts.Dialect == "" {
		opts.Dialect = DialectSQLite
	}
	return &Store{
		opts:   opts,
		logger: logging.Named(logger, logging.ComponentPersist).With("adapter", persist.NameRelational, "dialect", string(opts.Dialect)),
	}
}

// Open creates and initializes a store in one step.
func Open(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*Store, error) {
	s := New(opts, logger)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Name() string { return persist.NameRelational }

func (s *Store) Dialect() Dialect { return s.opts.Dialect }

// Init opens the pool and applies migrations. It is a no-op when already open.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	dsn, err := s.opts.dsn()
	if err != nil {
		return err
	}
	if s.opts.Dialect == DialectSQLite {
		if err := os.MkdirAll(filepath.Dir(s.opts.SQLitePath), 0o700); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open(s.opts.Dialect.driverName(), dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.opts.Dialect, security.RedactError(err))
	}
	if s.opts.Dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return fmt.Errorf("ping %s: %w", s.opts.Dialect, security.RedactError(err))
	}
	if err := ApplyMigrations(ctx, db, s.opts.Dialect); err != nil {
		db.Close() //nolint:errcheck
		return err
	}
	s.db = db
	s.logger.Debugw("relational store ready")
	return nil
}

// Close releases the pool. Calling it twice is safe and a later Init reopens.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB exposes the pool for tests and maintenance commands.
func (s *Store) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func (s *Store) q(query string) string {
	return s.opts.Dialect.rebind(query)
}

func (s *Store) ReadLatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	snaps, err := s.ReadRecentSnapshots(ctx, 1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

// ReadRecentSnapshots skips rows whose payload cannot be decoded, so fewer than
// limit rows may come back even when more exist.
func (s *Store) ReadRecentSnapshots(ctx context.Context, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, s.q(`SELECT id, tsUtc, payload FROM ui_layout_snapshots ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]model.Snapshot, 0, limit)
	for rows.Next() {
		var (
			id      int64
			tsRaw   string
			payload []byte
		)
		if err := rows.Scan(&id, &tsRaw, &payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		tsUTC, err := persist.ParseTS(tsRaw)
		if err != nil {
			s.logger.Warnw("skipping snapshot row", "id", id, "error", err)
			continue
		}
		layout, err := persist.DecodePayload(payload)
		if err != nil {
			s.logger.Warnw("skipping snapshot row", "id", id, "error", err)
			continue
		}
		out = append(out, model.Snapshot{TsUTC: tsUTC, SchemaVersion: model.SchemaVersion, Layout: layout})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snapshot model.Snapshot) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	payload, err := persist.EncodePayload(snapshot.Layout)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, s.q(`INSERT INTO ui_layout_snapshots(tsUtc, payload) VALUES (?, ?)`), ts(snapshot.TsUTC), string(payload)); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *Store) ResetHistory(ctx context.Context, snapshot model.Snapshot) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	payload, err := persist.EncodePayload(snapshot.Layout)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ui_layout_snapshots`); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete snapshots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO ui_layout_snapshots(tsUtc, payload) VALUES (?, ?)`), ts(snapshot.TsUTC), string(payload)); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert baseline snapshot: %w", err)
	}
	if s.beforeResetCommit != nil {
		if err := s.beforeResetCommit(tx); err != nil {
			tx.Rollback() //nolint:errcheck
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

func (s *Store) ListPresets(ctx context.Context) ([]model.Preset, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, name, payload, createdUtc, updatedUtc FROM ui_layout_presets ORDER BY updatedUtc DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query presets: %w", err)
	}
	defer rows.Close()

	var out []model.Preset
	for rows.Next() {
		var (
			p                  model.Preset
			payload            []byte
			createdRaw, updRaw string
		)
		if err := rows.Scan(&p.ID, &p.Name, &payload, &createdRaw, &updRaw); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		layout, err := persist.DecodePayload(payload)
		if err != nil {
			s.logger.Warnw("skipping preset row", "id", p.ID, "error", err)
			continue
		}
		if p.CreatedUTC, err = persist.ParseTS(createdRaw); err != nil {
			s.logger.Warnw("skipping preset row", "id", p.ID, "error", err)
			continue
		}
		if p.UpdatedUTC, err = persist.ParseTS(updRaw); err != nil {
			s.logger.Warnw("skipping preset row", "id", p.ID, "error", err)
			continue
		}
		p.Snapshot = layout
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presets: %w", err)
	}
	return model.SortPresets(out), nil
}

func (s *Store) InsertPreset(ctx context.Context, preset model.Preset) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	payload, err := persist.EncodePayload(preset.Snapshot)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.q(`
INSERT INTO ui_layout_presets(id, name, payload, createdUtc, updatedUtc)
VALUES (?, ?, ?, ?, ?)
`), preset.ID, preset.Name, string(payload), ts(preset.CreatedUTC), ts(preset.UpdatedUTC))
	if err != nil {
		if isUniqueErr(err) {
			return persist.ErrDuplicate
		}
		return fmt.Errorf("insert preset: %w", err)
	}
	return nil
}

func (s *Store) RenamePreset(ctx context.Context, preset model.Preset) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, s.q(`UPDATE ui_layout_presets SET name = ?, updatedUtc = ? WHERE id = ?`), preset.Name, ts(preset.UpdatedUTC), preset.ID)
	if err != nil {
		if isUniqueErr(err) {
			return persist.ErrDuplicate
		}
		return fmt.Errorf("rename preset: %w", err)
	}
	return expectAffected(res)
}

func (s *Store) DeletePreset(ctx context.Context, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, s.q(`DELETE FROM ui_layout_presets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	return expectAffected(res)
}

// CountSnapshots reports the stored snapshot rows, including undecodable ones.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ui_layout_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return persist.ErrNotFound
	}
	return nil
}

func ts(t time.Time) string {
	return persist.FormatTS(t)
}
