// Package pgstore はPostgreSQL（Supabaseを含む）をバックエンドとするEvent Storeを提供する。
// gormとpgxドライバを使用する。
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/brgyportal/announce/pkg/store"
)

// Store はPostgreSQLのEvent Store。
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open はPostgreSQLに接続し、疎通を確認する。
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// New は既存のgorm接続からStoreを生成する。
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close は接続を閉じる。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate はカタログの全テーブルを作成する（既存のテーブルはそのまま）。
func (s *Store) Migrate(ctx context.Context) error {
	for _, t := range store.Tables() {
		for _, stmt := range createTableSQL(t) {
			if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
	}
	return nil
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
	values, err := encodeRecord(t, row)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Table(t.Name).Create(values).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s.id=%v", store.ErrConflict, t.Name, row[store.ColumnID])
		}
		return nil, fmt.Errorf("insert %s: %w", t.Name, err)
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
	values, err := encodeRecord(t, np)
	if err != nil {
		return 0, err
	}

	tx := s.db.WithContext(ctx).Table(t.Name)
	if len(nf) == 0 {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	} else {
		where, args, err := buildWhere(t, nf)
		if err != nil {
			return 0, err
		}
		tx = tx.Where(where, args...)
	}
	res := tx.Updates(values)
	if res.Error != nil {
		return 0, fmt.Errorf("update %s: %w", t.Name, res.Error)
	}
	return res.RowsAffected, nil
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
	tx := s.db.WithContext(ctx).Table(t.Name).Select(cols)
	if len(nf) > 0 {
		where, args, err := buildWhere(t, nf)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(where, args...)
	}
	for _, o := range order {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: o.Desc})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select %s: %w", t.Name, err)
	}

	out := make([]store.Record, 0, len(rows))
	for _, raw := range rows {
		rec := make(store.Record, len(t.Columns))
		for _, c := range t.Columns {
			v, err := decode(c, raw[c.Name])
			if err != nil {
				return nil, err
			}
			rec[c.Name] = v
		}
		out = append(out, rec)
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

	stmt := "DELETE FROM " + t.Name
	var args []any
	if len(nf) > 0 {
		where, wargs, err := buildWhere(t, nf)
		if err != nil {
			return 0, err
		}
		stmt += " WHERE " + where
		args = wargs
	}
	res := s.db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return 0, fmt.Errorf("delete %s: %w", t.Name, res.Error)
	}
	return res.RowsAffected, nil
}

var sqlOps = map[store.Op]string{
	store.OpEq:  "=",
	store.OpLt:  "<",
	store.OpLte: "<=",
	store.OpGt:  ">",
	store.OpGte: ">=",
}

// buildWhere はgormのプレースホルダ（?）を使ったWHERE条件を組み立てる。
// in条件にはスライスを1つ渡し、gormが (?, ?, ...) に展開する。
func buildWhere(t store.Table, f store.Filter) (string, []any, error) {
	parts := make([]string, 0, len(f))
	args := make([]any, 0, len(f))
	for _, c := range f {
		col, _ := t.Column(c.Column)
		switch c.Op {
		case store.OpIsNull:
			parts = append(parts, c.Column+" IS NULL")
		case store.OpIn:
			vs := c.Value.([]any)
			encoded := make([]any, len(vs))
			for i, v := range vs {
				ev, err := encode(col, v)
				if err != nil {
					return "", nil, err
				}
				encoded[i] = ev
			}
			parts = append(parts, c.Column+" IN ?")
			args = append(args, encoded)
		default:
			ev, err := encode(col, c.Value)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, fmt.Sprintf("%s %s ?", c.Column, sqlOps[c.Op]))
			args = append(args, ev)
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

// createTableSQL はテーブル定義からCREATE文を生成する。
func createTableSQL(t store.Table) []string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def := c.Name + " " + columnType(c)
		switch {
		case c.Name == store.ColumnID:
			def += " PRIMARY KEY"
		case c.Name == store.ColumnCreatedAt:
			def += " NOT NULL DEFAULT now()"
		case c.Kind == store.KindBool:
			def += " NOT NULL DEFAULT false"
		case c.Kind == store.KindJSON:
			def += " NOT NULL DEFAULT '{}'::jsonb"
		case !c.Nullable:
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(defs, ", ")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)", t.Name, t.Name),
	}
}

func columnType(c store.Column) string {
	switch c.Kind {
	case store.KindBool:
		return "BOOLEAN"
	case store.KindTime:
		return "TIMESTAMPTZ"
	case store.KindJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func encodeRecord(t store.Table, rec store.Record) (map[string]any, error) {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		c, ok := t.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", store.ErrUnknownColumn, t.Name, k)
		}
		ev, err := encode(c, v)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

// encode は正規化済みの値をドライバに渡す値に変換する。JSONは文字列で渡す。
func encode(c store.Column, v any) (any, error) {
	if c.Kind == store.KindJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s をJSONに変換できません: %v", store.ErrInvalidValue, c.Name, err)
		}
		return string(b), nil
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC(), nil
	}
	return v, nil
}

// decode はドライバから読み取った値をカラムの型に変換する。
func decode(c store.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Kind {
	case store.KindText:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case store.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case store.KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	case store.KindJSON:
		var raw []byte
		switch x := v.(type) {
		case string:
			raw = []byte(x)
		case []byte:
			raw = x
		default:
			return v, nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.Name, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s の値の型が想定外です（%T）", store.ErrInvalidValue, c.Name, v)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
