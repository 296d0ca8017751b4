// Package memory is an in-process remote store. Writes are pushed to
// subscribers through a store.Hub.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"fintrack/internal/log"
	"fintrack/internal/store"
)

type Store struct {
	*store.Hub

	mu       sync.RWMutex
	tables   map[store.Table][]store.Row
	failures map[store.Table]error
}

var _ store.Backend = (*Store)(nil)

func New(logger *log.Logger) *Store {
	return &Store{
		Hub:      store.NewHub(logger),
		tables:   make(map[store.Table][]store.Row),
		failures: make(map[store.Table]error),
	}
}

// NewFromFiles seeds each table from <base>/seed_<table>.json, a JSON array
// of objects. Missing files leave the table empty.
func NewFromFiles(base string, logger *log.Logger) (*Store, error) {
	s := New(logger)
	for _, t := range store.AllTables {
		path := filepath.Join(base, "seed_"+string(t)+".json")
		rows, err := readSeed(path)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			s.put(t, r)
		}
	}
	return s, nil
}

func readSeed(path string) ([]store.Row, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var rows []store.Row
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return rows, nil
}

func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[q.Table]; err != nil {
		return nil, err
	}
	var out []store.Row
	for _, r := range s.tables[q.Table] {
		if store.MatchAll(q.Filters, r) {
			out = append(out, cloneRow(r))
		}
	}
	return store.SortRows(out, q.Order, q.Limit), nil
}

func (s *Store) Insert(ctx context.Context, table store.Table, row store.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row = cloneRow(row)
	if row.ID() == "" {
		row["id"] = uuid.NewString()
	}
	s.mu.Lock()
	for _, r := range s.tables[table] {
		if r.ID() == row.ID() {
			s.mu.Unlock()
			return fmt.Errorf("insert %s: duplicate id %q", table, row.ID())
		}
	}
	s.put(table, row)
	s.mu.Unlock()
	_ = s.Hub.Publish(ctx, store.Change{Table: table, Op: store.ChangeInsert, New: cloneRow(row)})
	return nil
}

// Update merges row into the stored record with the given id.
func (s *Store) Update(ctx context.Context, table store.Table, id string, row store.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	idx := s.indexOf(table, id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("update %s %q: not found", table, id)
	}
	old := s.tables[table][idx]
	merged := cloneRow(old)
	for k, v := range row {
		merged[k] = v
	}
	merged["id"] = id
	s.tables[table][idx] = merged
	s.mu.Unlock()
	_ = s.Hub.Publish(ctx, store.Change{Table: table, Op: store.ChangeUpdate, Old: cloneRow(old), New: cloneRow(merged)})
	return nil
}

func (s *Store) Delete(ctx context.Context, table store.Table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	idx := s.indexOf(table, id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	old := s.tables[table][idx]
	rows := s.tables[table]
	s.tables[table] = append(rows[:idx:idx], rows[idx+1:]...)
	s.mu.Unlock()
	_ = s.Hub.Publish(ctx, store.Change{Table: table, Op: store.ChangeDelete, Old: cloneRow(old)})
	return nil
}

// FailSelects makes every select on table return err until cleared with a
// nil error.
func (s *Store) FailSelects(table store.Table, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, table)
		return
	}
	s.failures[table] = err
}

func (s *Store) Close() error {
	return s.Hub.Close()
}

func (s *Store) put(table store.Table, row store.Row) {
	s.tables[table] = append(s.tables[table], row)
}

func (s *Store) indexOf(table store.Table, id string) int {
	for i, r := range s.tables[table] {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

func cloneRow(r store.Row) store.Row {
	out := make(store.Row, len(r))
	for k, v := range r {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}
