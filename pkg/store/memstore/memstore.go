// Package memstore はプロセス内メモリで動作するEvent Storeを提供する。
// テストや開発時の driver: memory で使用する。
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brgyportal/announce/pkg/store"
)

// Store はメモリ上のEvent Store。並行利用に安全。
type Store struct {
	mu     sync.RWMutex
	tables map[string][]store.Record
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option はStoreの設定を変更する。
type Option func(*Store)

// WithClock はcreated_atの補完に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New は空のStoreを生成する。
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string][]store.Record),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert は1行を追加する。
func (s *Store) Insert(ctx context.Context, table string, rec store.Record) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	row, err := t.PrepareInsert(rec, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tables[table] {
		if existing[store.ColumnID] == row[store.ColumnID] {
			return nil, fmt.Errorf("%w: %s.id=%v", store.ErrConflict, table, row[store.ColumnID])
		}
	}
	s.tables[table] = append(s.tables[table], cloneRecord(row))
	return row, nil
}

// Update は条件に一致する行を1回のロック区間で更新する。
func (s *Store) Update(ctx context.Context, table string, filter store.Filter, patch store.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := store.Lookup(table)
	if err != nil {
		return 0, err
	}
	nf, err := filter.Normalize(t)
	if err != nil {
		return 0, err
	}
	np, err := t.Normalize(patch)
	if err != nil {
		return 0, err
	}
	if nf.MatchesNothing() || len(np) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.tables[table] {
		if !nf.Match(row) {
			continue
		}
		for k, v := range np {
			row[k] = cloneValue(v)
		}
		n++
	}
	return n, nil
}

// Select は条件に一致する行のコピーを返す。
func (s *Store) Select(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	nf, err := q.Filter.Normalize(t)
	if err != nil {
		return nil, err
	}
	order, err := store.NormalizeOrder(t, q.Order)
	if err != nil {
		return nil, err
	}
	if nf.MatchesNothing() {
		return []store.Record{}, nil
	}

	s.mu.RLock()
	out := make([]store.Record, 0)
	for _, row := range s.tables[table] {
		if nf.Match(row) {
			out = append(out, cloneRecord(row))
		}
	}
	s.mu.RUnlock()

	store.SortRecords(out, order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete は条件に一致する行を削除する。
func (s *Store) Delete(ctx context.Context, table string, filter store.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := store.Lookup(table)
	if err != nil {
		return 0, err
	}
	nf, err := filter.Normalize(t)
	if err != nil {
		return 0, err
	}
	if nf.MatchesNothing() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	kept := rows[:0]
	var n int64
	for _, row := range rows {
		if nf.Match(row) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return n, nil
}

func cloneRecord(r store.Record) store.Record {
	out := make(store.Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i := range x {
			s[i] = cloneValue(x[i])
		}
		return s
	default:
		return v
	}
}
