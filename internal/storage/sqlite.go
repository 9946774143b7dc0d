//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "ttiwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendResult(ctx context.Context, e ResultEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.DetectedAt.IsZero() {
		e.DetectedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results(navigation_id, page, tti_ms, lower_bound, dcl_end, long_tasks, resets, source, detected_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.NavigationID, nullStr(e.Page), e.TTIMillis, e.LowerBound, e.DCLEnd,
		e.LongTasks, e.Resets, nullStr(e.Source), e.DetectedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListRecent(ctx context.Context, limit int) ([]ResultEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT navigation_id, page, tti_ms, lower_bound, dcl_end, long_tasks, resets, source, detected_at
		 FROM results ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultEntry
	for rows.Next() {
		var e ResultEntry
		var page, source sql.NullString
		var at string
		if err := rows.Scan(&e.NavigationID, &page, &e.TTIMillis, &e.LowerBound, &e.DCLEnd,
			&e.LongTasks, &e.Resets, &source, &at); err != nil {
			return nil, err
		}
		e.Page = page.String
		e.Source = source.String
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			e.DetectedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM results WHERE detected_at < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
