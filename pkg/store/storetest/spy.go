package storetest

import (
	"context"
	"sync"

	"github.com/brgyportal/announce/pkg/store"
)

// Spy はstore.Storeの呼び出し回数を記録し、任意のエラーを注入できるテスト用ラッパー。
type Spy struct {
	// Inner は実際に処理を行うStore。
	Inner store.Store

	mu     sync.Mutex
	calls  map[string]int
	errors map[string]error
}

var _ store.Store = (*Spy)(nil)

// NewSpy はinnerを包むSpyを返す。
func NewSpy(inner store.Store) *Spy {
	return &Spy{Inner: inner, calls: map[string]int{}, errors: map[string]error{}}
}

// FailOn は指定した操作（"insert"、"update"、"select"、"delete"）がerrを返すようにする。
func (s *Spy) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[op] = err
}

// Calls は指定した操作の呼び出し回数を返す。
func (s *Spy) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Total は全操作の呼び出し回数を返す。
func (s *Spy) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Spy) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.errors[op]
}

func (s *Spy) Insert(ctx context.Context, table string, rec store.Record) (store.Record, error) {
	if err := s.record("insert"); err != nil {
		return nil, err
	}
	return s.Inner.Insert(ctx, table, rec)
}

func (s *Spy) Update(ctx context.Context, table string, filter store.Filter, patch store.Record) (int64, error) {
	if err := s.record("update"); err != nil {
		return 0, err
	}
	return s.Inner.Update(ctx, table, filter, patch)
}

func (s *Spy) Select(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	if err := s.record("select"); err != nil {
		return nil, err
	}
	return s.Inner.Select(ctx, table, q)
}

func (s *Spy) Delete(ctx context.Context, table string, filter store.Filter) (int64, error) {
	if err := s.record("delete"); err != nil {
		return 0, err
	}
	return s.Inner.Delete(ctx, table, filter)
}
