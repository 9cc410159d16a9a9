package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Op は比較演算子。
type Op string

const (
	OpEq     Op = "eq"
	OpIn     Op = "in"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpIsNull Op = "is_null"
)

// Condition は1カラムに対する条件。
type Condition struct {
	Column string `json:"column"`
	Op     Op     `json:"op"`
	// Value は比較値。OpInの場合はスライス、OpIsNullの場合は無視される。
	Value any `json:"value,omitempty"`
}

// Filter はAND結合された条件の列。空の場合は全行に一致する。
type Filter []Condition

func Eq(column string, v any) Condition  { return Condition{Column: column, Op: OpEq, Value: v} }
func Lt(column string, v any) Condition  { return Condition{Column: column, Op: OpLt, Value: v} }
func Lte(column string, v any) Condition { return Condition{Column: column, Op: OpLte, Value: v} }
func Gt(column string, v any) Condition  { return Condition{Column: column, Op: OpGt, Value: v} }
func Gte(column string, v any) Condition { return Condition{Column: column, Op: OpGte, Value: v} }
func IsNull(column string) Condition     { return Condition{Column: column, Op: OpIsNull} }

// In はカラムの値がvaluesのいずれかに一致する条件を返す。
func In[T any](column string, values []T) Condition {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Condition{Column: column, Op: OpIn, Value: vs}
}

// Normalize はフィルタをテーブル定義に照らして検証し、比較値を正規化したものを返す。
func (f Filter) Normalize(t Table) (Filter, error) {
	out := make(Filter, 0, len(f))
	for _, c := range f {
		col, ok := t.Column(c.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, c.Column)
		}
		switch c.Op {
		case OpIsNull:
			out = append(out, Condition{Column: c.Column, Op: OpIsNull})
		case OpIn:
			rv := reflect.ValueOf(c.Value)
			if c.Value == nil || rv.Kind() != reflect.Slice {
				return nil, fmt.Errorf("%w: %s の in 条件にはスライスが必要です", ErrInvalidFilter, c.Column)
			}
			vs := make([]any, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				nv, err := col.Normalize(rv.Index(i).Interface())
				if err != nil {
					return nil, err
				}
				vs = append(vs, nv)
			}
			out = append(out, Condition{Column: c.Column, Op: OpIn, Value: vs})
		case OpEq, OpLt, OpLte, OpGt, OpGte:
			if col.Kind == KindJSON {
				return nil, fmt.Errorf("%w: JSONカラム %s は比較できません", ErrInvalidFilter, c.Column)
			}
			if c.Value == nil {
				return nil, fmt.Errorf("%w: %s の比較値がnullです（is_nullを使用してください）", ErrInvalidFilter, c.Column)
			}
			nv, err := col.Normalize(c.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, Condition{Column: c.Column, Op: c.Op, Value: nv})
		default:
			return nil, fmt.Errorf("%w: 不明な演算子 %q", ErrInvalidFilter, c.Op)
		}
	}
	return out, nil
}

// Match は正規化済みのフィルタが行に一致するかを判定する。
func (f Filter) Match(rec Record) bool {
	for _, c := range f {
		v := rec[c.Column]
		switch c.Op {
		case OpIsNull:
			if v != nil {
				return false
			}
		case OpIn:
			found := false
			for _, want := range c.Value.([]any) {
				if v != nil && Compare(v, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if v == nil {
				return false
			}
			cmp := Compare(v, c.Value)
			switch c.Op {
			case OpEq:
				if cmp != 0 {
					return false
				}
			case OpLt:
				if cmp >= 0 {
					return false
				}
			case OpLte:
				if cmp > 0 {
					return false
				}
			case OpGt:
				if cmp <= 0 {
					return false
				}
			case OpGte:
				if cmp < 0 {
					return false
				}
			}
		}
	}
	return true
}

// Compare は正規化済みの2値を比較する。nilは最小として扱う。
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// NormalizeOrder は並び順を検証し、末尾にidの昇順を追加したものを返す。
func NormalizeOrder(t Table, order []Order) ([]Order, error) {
	out := make([]Order, 0, len(order)+1)
	hasID := false
	for _, o := range order {
		col, ok := t.Column(o.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, o.Column)
		}
		if col.Kind == KindJSON {
			return nil, fmt.Errorf("%w: JSONカラム %s では並べ替えできません", ErrInvalidFilter, o.Column)
		}
		if o.Column == ColumnID {
			hasID = true
		}
		out = append(out, o)
	}
	if !hasID {
		out = append(out, Asc(ColumnID))
	}
	return out, nil
}

// SortRecords は正規化済みの並び順で行を安定ソートする。
func SortRecords(recs []Record, order []Order) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, o := range order {
			cmp := Compare(recs[i][o.Column], recs[j][o.Column])
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// MatchesNothing は値が空のin条件を含み、どの行にも一致しないフィルタかを判定する。
func (f Filter) MatchesNothing() bool {
	for _, c := range f {
		if c.Op != OpIn {
			continue
		}
		if vs, ok := c.Value.([]any); ok && len(vs) == 0 {
			return true
		}
	}
	return false
}
