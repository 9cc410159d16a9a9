package store

import (
	"context"
	"errors"
)

var (
	// ErrUnknownTable はカタログに存在しないテーブルを指定したことを表す。
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn はテーブルに存在しないカラムを指定したことを表す。
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidFilter は不正な検索条件を表す。
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrInvalidValue はカラムの型に合わない値を表す。
	ErrInvalidValue = errors.New("invalid value")
	// ErrConflict は主キーの重複を表す。
	ErrConflict = errors.New("record already exists")
)

// Record は1行分のデータ。キーはカラム名。
type Record map[string]any

// Query はSelectの検索条件。
type Query struct {
	// Filter は行の絞り込み条件（AND結合）。
	Filter Filter `json:"filter,omitempty"`
	// Order は並び順。同順位はidの昇順で並べる。
	Order []Order `json:"order,omitempty"`
	// Limit は取得件数の上限。0以下は無制限。
	Limit int `json:"limit,omitempty"`
}

// Order は並び順の指定。
type Order struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Asc は昇順の並び順を返す。
func Asc(column string) Order { return Order{Column: column} }

// Desc は降順の並び順を返す。
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Store はEvent Storeの4操作を表す。
type Store interface {
	// Insert は1行を追加し、保存された行（idやcreated_atの補完後）を返す。
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	// Update は条件に一致する行にpatchを適用し、更新件数を返す。
	// 1回の条件付き更新として実行される。
	Update(ctx context.Context, table string, filter Filter, patch Record) (int64, error)
	// Select は条件に一致する行を返す。
	Select(ctx context.Context, table string, q Query) ([]Record, error)
	// Delete は条件に一致する行を削除し、削除件数を返す。
	Delete(ctx context.Context, table string, filter Filter) (int64, error)
}
