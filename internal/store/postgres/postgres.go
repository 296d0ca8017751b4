// Package postgres is a server-backed remote store. Selects and writes go
// through a pgx pool; change signals come from row triggers that NOTIFY on
// a channel consumed with a lib/pq listener.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// Dialect renders queries for PostgreSQL. Non-boolean columns are read back
// as text so amounts keep their exact decimal representation.
var Dialect = store.Dialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Contains: func(column, ph string) string {
		return column + " ? " + ph
	},
	SelectExpr: func(_ store.Table, column string) string {
		q := store.QuoteIdent(column)
		if isBoolColumn(column) {
			return q
		}
		return q + "::text AS " + q
	},
}

func isBoolColumn(column string) bool {
	return column == "active" || column == "is_achieved"
}

// Config holds the PostgreSQL store configuration.
type Config struct {
	DSN         string
	MaxPoolSize int
}

type Store struct {
	pool     *pgxpool.Pool
	hub      *store.Hub
	listener *Listener
	logger   *log.Logger
}

var _ store.Backend = (*Store)(nil)

// Open connects the pool, applies migrations and starts the change
// listener.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	logger = log.OrNop(logger).WithComponent(log.ComponentStore)
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := RunMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	hub := store.NewHub(logger)
	listener := NewListener(cfg.DSN, hub, logger)
	if err := listener.Start(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Connected to PostgreSQL", "max_conns", cfg.MaxPoolSize)
	return &Store{pool: pool, hub: hub, listener: listener, logger: logger}, nil
}

func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	sql, args, err := store.BuildSelect(q, Dialect)
	if err != nil {
		return nil, core.NewQueryError(core.KindSchemaMismatch, log.OpSelect, string(q.Table), err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(log.OpSelect, q.Table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, classify(log.OpSelect, q.Table, err)
	}
	out := make([]store.Row, len(maps))
	for i, m := range maps {
		out[i] = store.Row(m)
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, table store.Table, filters []store.Filter, onSignal func(store.Signal)) (store.Handle, error) {
	return s.hub.Subscribe(ctx, table, filters, onSignal)
}

func (s *Store) Unsubscribe(h store.Handle) error {
	return s.hub.Unsubscribe(h)
}

// Insert writes a row. The change signal is raised by the table trigger.
func (s *Store) Insert(ctx context.Context, table store.Table, row store.Row) error {
	sql, args, err := store.BuildInsert(table, row, Dialect)
	if err != nil {
		return core.NewQueryError(core.KindSchemaMismatch, "insert", string(table), err)
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return classify("insert", table, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table store.Table, id string, row store.Row) error {
	sql, args, err := store.BuildUpdate(table, id, row, Dialect)
	if err != nil {
		return core.NewQueryError(core.KindSchemaMismatch, "update", string(table), err)
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return classify("update", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %q: %w", table, id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table store.Table, id string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", store.QuoteIdent(string(table)), store.BuildWhereByID(Dialect, 1))
	if _, err := s.pool.Exec(ctx, sql, id); err != nil {
		return classify("delete", table, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.listener != nil {
		s.listener.Stop()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return s.hub.Close()
}

func classify(op string, table store.Table, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501": // insufficient_privilege
			return core.NewQueryError(core.KindPermissionDenied, op, string(table), err)
		case "42703", "42P01", "42804", "22P02": // undefined column/table, datatype mismatch, invalid text representation
			return core.NewQueryError(core.KindSchemaMismatch, op, string(table), err)
		case "40001", "40P01", "57P01", "53300": // serialization, deadlock, admin shutdown, too many connections
			return core.NewQueryError(core.KindTransient, op, string(table), err)
		}
		return core.NewQueryError(core.KindUnknown, op, string(table), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.NewQueryError(core.KindTransient, op, string(table), err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return core.NewQueryError(core.KindTransient, op, string(table), err)
	}
	return core.NewQueryError(core.KindUnknown, op, string(table), err)
}
