package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "taskd/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	retain     int
	inserts    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: writes are serialized and pragmas stick.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	pruneEvery := uint64(cfg.Retain / 10)
	if pruneEvery < 1 {
		pruneEvery = 1
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, retain: cfg.Retain, pruneEvery: pruneEvery}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, task, started, finished, duration_ms, err, forced, run_count, state, discarded)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		nullStr(r.RunID), r.Task, r.Started.UnixMicro(), r.Finished.UnixMicro(), r.DurationMS,
		nullStr(r.Error), boolInt(r.Forced), r.RunCount, r.State, boolInt(r.Discarded),
	)
	if err != nil {
		return err
	}
	if s.inserts.Add(1)%s.pruneEvery == 0 {
		if err := s.prune(ctx); err != nil {
			s.log.Debug("sqlite prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) RecentRuns(ctx context.Context, q Query) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	const cols = `run_id, task, started, finished, duration_ms, err, forced, run_count, state, discarded`
	var (
		rows *sql.Rows
		err  error
	)
	if q.Task != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM runs WHERE task = ? ORDER BY id DESC LIMIT ?`, q.Task, q.limit())
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM runs ORDER BY id DESC LIMIT ?`, q.limit())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			runID, errStr     sql.NullString
			started, finished int64
			forced, discarded int
		)
		if err := rows.Scan(&runID, &r.Task, &started, &finished, &r.DurationMS, &errStr,
			&forced, &r.RunCount, &r.State, &discarded); err != nil {
			return nil, err
		}
		r.RunID = runID.String
		r.Error = errStr.String
		r.Started = time.UnixMicro(started)
		r.Finished = time.UnixMicro(finished)
		r.Forced = forced != 0
		r.Discarded = discarded != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune keeps only the newest retain rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err := s.db.ExecContext(pctx,
		`DELETE FROM runs WHERE id <= (SELECT id FROM runs ORDER BY id DESC LIMIT 1 OFFSET ?)`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
