// Package sqlite is an embedded remote store on modernc.org/sqlite. SQLite
// has no change feed, so every write publishes a store.Change to a Feed:
// the in-process Hub, or an AMQP exchange shared by several processes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

type Store struct {
	db     *sql.DB
	feed   store.Feed
	logger *log.Logger
}

var _ store.Backend = (*Store)(nil)

// Open creates the database file if needed, migrates it and returns a
// store publishing to feed. A nil feed uses an in-process Hub.
func Open(ctx context.Context, dbPath string, feed store.Feed, logger *log.Logger) (*Store, error) {
	logger = log.OrNop(logger).WithComponent(log.ComponentStore)
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; readers share the same connection pool.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if feed == nil {
		feed = store.NewHub(logger)
	}
	logger.Info("SQLite store opened", "path", dbPath)
	return &Store{db: db, feed: feed, logger: logger}, nil
}

func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	query, args, err := store.BuildSelect(q, store.SQLiteDialect)
	if err != nil {
		return nil, core.NewQueryError(core.KindSchemaMismatch, log.OpSelect, string(q.Table), err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(log.OpSelect, q.Table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, classify(log.OpSelect, q.Table, err)
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, table store.Table, filters []store.Filter, onSignal func(store.Signal)) (store.Handle, error) {
	return s.feed.Subscribe(ctx, table, filters, onSignal)
}

func (s *Store) Unsubscribe(h store.Handle) error {
	return s.feed.Unsubscribe(h)
}

func (s *Store) Insert(ctx context.Context, table store.Table, row store.Row) error {
	query, args, err := store.BuildInsert(table, row, store.SQLiteDialect)
	if err != nil {
		return core.NewQueryError(core.KindSchemaMismatch, "insert", string(table), err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify("insert", table, err)
	}
	inserted, err := s.byID(ctx, table, row.ID())
	if err != nil {
		return err
	}
	return s.publish(ctx, store.Change{Table: table, Op: store.ChangeInsert, New: inserted})
}

func (s *Store) Update(ctx context.Context, table store.Table, id string, row store.Row) error {
	old, err := s.byID(ctx, table, id)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("update %s %q: %w", table, id, core.ErrNotFound)
	}
	query, args, err := store.BuildUpdate(table, id, row, store.SQLiteDialect)
	if err != nil {
		return core.NewQueryError(core.KindSchemaMismatch, "update", string(table), err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify("update", table, err)
	}
	updated, err := s.byID(ctx, table, id)
	if err != nil {
		return err
	}
	return s.publish(ctx, store.Change{Table: table, Op: store.ChangeUpdate, Old: old, New: updated})
}

func (s *Store) Delete(ctx context.Context, table store.Table, id string) error {
	old, err := s.byID(ctx, table, id)
	if err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", store.QuoteIdent(string(table)), store.BuildWhereByID(store.SQLiteDialect, 1))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return classify("delete", table, err)
	}
	return s.publish(ctx, store.Change{Table: table, Op: store.ChangeDelete, Old: old})
}

// Close closes the database and the feed.
func (s *Store) Close() error {
	var errs []error
	if s.feed != nil {
		errs = append(errs, s.feed.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// DB exposes the handle for the migrate command and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) byID(ctx context.Context, table store.Table, id string) (store.Row, error) {
	rows, err := s.Select(ctx, store.Query{Table: table, Filters: []store.Filter{store.Eq("id", id)}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// publish never fails the write: the row is committed, and subscribers
// re-fetch on their next signal anyway.
func (s *Store) publish(ctx context.Context, c store.Change) error {
	if err := s.feed.Publish(ctx, c); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish change",
			log.FieldTable, c.Table, log.FieldOperation, log.OpPublish, log.FieldError, err)
	}
	return nil
}

func scanRows(rows *sql.Rows) ([]store.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []store.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func classify(op string, table store.Table, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.NewQueryError(core.KindTransient, op, string(table), err)
	}
	var serr *msqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return core.NewQueryError(core.KindTransient, op, string(table), err)
		case sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_READONLY:
			return core.NewQueryError(core.KindPermissionDenied, op, string(table), err)
		case sqlite3.SQLITE_MISMATCH:
			return core.NewQueryError(core.KindSchemaMismatch, op, string(table), err)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") {
		return core.NewQueryError(core.KindSchemaMismatch, op, string(table), err)
	}
	return core.NewQueryError(core.KindUnknown, op, string(table), err)
}
