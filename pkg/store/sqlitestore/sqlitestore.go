// Package sqlitestore はSQLiteをバックエンドとするEvent Storeを提供する。
//
// CGO不要のmodernc.org/sqliteを使用する。時刻は固定長のRFC3339形式（UTC）の
// 文字列で保存するため、文字列比較で範囲検索と並べ替えができる。
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/migration"
	"github.com/brgyportal/announce/pkg/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout はUTC時刻の保存形式。桁数を固定して文字列順と時刻順を一致させる。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store はSQLiteのEvent Store。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
// dsnに ":memory:" を指定した場合は接続を1本に制限する。
func Open(ctx context.Context, dsn string, log logx.Logger) (*Store, error) {
	source := dsn
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		// WAL + busy timeout で "database is locked" を避ける
		source = dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", source)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := migration.Run(ctx, db, migrations, "migrations", log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert は1行を追加する。
func (s *Store) Insert(ctx context.Context, table string, rec store.Record) (store.Record, error) {
	t, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	row, err := t.PrepareInsert(rec, s.now())
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(t.Columns))
	marks := make([]string, 0, len(t.Columns))
	args := make([]any, 0, len(t.Columns))
	for _, c := range t.Columns {
		v, err := encode(c, row[c.Name])
		if err != nil {
			return nil, err
		}
		cols = append(cols, c.Name)
		marks = append(marks, "?")
		args = append(args, v)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isConstraintViolation(err) {
			return nil, fmt.Errorf("%w: %s.id=%v", store.ErrConflict, t.Name, row[store.ColumnID])
		}
		return nil, fmt.Errorf("%sへの挿入に失敗: %w", t.Name, err)
	}
	return row, nil
}

// Update は条件に一致する行を1つのUPDATE文で更新する。
func (s *Store) Update(ctx context.Context, table string, filter store.Filter, patch store.Record) (int64, error) {
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

	sets := make([]string, 0, len(np))
	args := make([]any, 0, len(np)+len(nf))
	// カラム定義順に並べてSQL文を安定させる
	for _, c := range t.Columns {
		v, ok := np[c.Name]
		if !ok {
			continue
		}
		ev, err := encode(c, v)
		if err != nil {
			return 0, err
		}
		sets = append(sets, c.Name+" = ?")
		args = append(args, ev)
	}

	where, wargs, err := buildWhere(t, nf)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s%s", t.Name, strings.Join(sets, ", "), where)
	res, err := s.db.ExecContext(ctx, query, append(args, wargs...)...)
	if err != nil {
		return 0, fmt.Errorf("%sの更新に失敗: %w", t.Name, err)
	}
	return res.RowsAffected()
}

// Select は条件に一致する行を返す。
func (s *Store) Select(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
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

	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, c.Name)
	}
	where, args, err := buildWhere(t, nf)
	if err != nil {
		return nil, err
	}
	orderBy := make([]string, 0, len(order))
	for _, o := range order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		orderBy = append(orderBy, o.Column+" "+dir)
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", strings.Join(cols, ", "), t.Name, where, strings.Join(orderBy, ", "))
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sの検索に失敗: %w", t.Name, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]store.Record, 0)
	for rows.Next() {
		raw := make([]any, len(t.Columns))
		ptrs := make([]any, len(t.Columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%sの読み取りに失敗: %w", t.Name, err)
		}
		rec := make(store.Record, len(t.Columns))
		for i, c := range t.Columns {
			v, err := decode(c, raw[i])
			if err != nil {
				return nil, err
			}
			rec[c.Name] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sの読み取りに失敗: %w", t.Name, err)
	}
	return out, nil
}

// Delete は条件に一致する行を削除する。
func (s *Store) Delete(ctx context.Context, table string, filter store.Filter) (int64, error) {
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
	where, args, err := buildWhere(t, nf)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+t.Name+where, args...)
	if err != nil {
		return 0, fmt.Errorf("%sの削除に失敗: %w", t.Name, err)
	}
	return res.RowsAffected()
}

var sqlOps = map[store.Op]string{
	store.OpEq:  "=",
	store.OpLt:  "<",
	store.OpLte: "<=",
	store.OpGt:  ">",
	store.OpGte: ">=",
}

// buildWhere は正規化済みのフィルタからWHERE句を組み立てる。
// カラム名はカタログで検証済みのものだけが渡される。
func buildWhere(t store.Table, f store.Filter) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(f))
	var args []any
	for _, c := range f {
		col, _ := t.Column(c.Column)
		switch c.Op {
		case store.OpIsNull:
			parts = append(parts, c.Column+" IS NULL")
		case store.OpIn:
			vs := c.Value.([]any)
			marks := make([]string, len(vs))
			for i, v := range vs {
				ev, err := encode(col, v)
				if err != nil {
					return "", nil, err
				}
				marks[i] = "?"
				args = append(args, ev)
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.Column, strings.Join(marks, ", ")))
		default:
			ev, err := encode(col, c.Value)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, fmt.Sprintf("%s %s ?", c.Column, sqlOps[c.Op]))
			args = append(args, ev)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// encode は正規化済みの値をSQLiteに渡す値に変換する。
func encode(c store.Column, v any) (any, error) {
	if v == nil {
		if c.Kind == store.KindJSON {
			return "null", nil
		}
		return nil, nil
	}
	switch c.Kind {
	case store.KindBool:
		if v.(bool) {
			return int64(1), nil
		}
		return int64(0), nil
	case store.KindTime:
		return v.(time.Time).UTC().Format(timeLayout), nil
	case store.KindJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s をJSONに変換できません: %v", store.ErrInvalidValue, c.Name, err)
		}
		return string(b), nil
	default:
		return v, nil
	}
}

// decode はSQLiteから読み取った値をカラムの型に変換する。
func decode(c store.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch c.Kind {
	case store.KindText:
		return fmt.Sprint(v), nil
	case store.KindBool:
		switch x := v.(type) {
		case int64:
			return x != 0, nil
		case bool:
			return x, nil
		}
	case store.KindTime:
		switch x := v.(type) {
		case string:
			t, err := time.Parse(timeLayout, x)
			if err != nil {
				return nil, fmt.Errorf("%s の時刻の読み取りに失敗: %w", c.Name, err)
			}
			return t.UTC(), nil
		case time.Time:
			return x.UTC(), nil
		}
	case store.KindJSON:
		s, ok := v.(string)
		if !ok {
			break
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("%s のJSONの読み取りに失敗: %w", c.Name, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s の値の型が想定外です（%T）", store.ErrInvalidValue, c.Name, v)
}

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
