package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// テーブル名。
const (
	TableNotifications     = "notifications"
	TableBulletinPosts     = "bulletin_posts"
	TableNewsPosts         = "news_posts"
	TableSystemMaintenance = "system_maintenance"
	TablePatchNotes        = "patch_notes"
)

// 全テーブル共通のカラム名。
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
)

// Kind はカラムの型。
type Kind int

const (
	// KindText は文字列。
	KindText Kind = iota
	// KindBool は真偽値。
	KindBool
	// KindTime はUTCの時刻。
	KindTime
	// KindJSON は任意のJSON値。
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindJSON:
		return "json"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column はカラム定義。
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool
}

// Table はテーブル定義。
type Table struct {
	Name    string
	Columns []Column
}

var baseColumns = []Column{
	{Name: ColumnID, Kind: KindText},
	{Name: ColumnCreatedAt, Kind: KindTime},
}

func define(name string, cols ...Column) Table {
	return Table{Name: name, Columns: append(append([]Column(nil), baseColumns...), cols...)}
}

var catalog = map[string]Table{
	TableNotifications: define(TableNotifications,
		Column{Name: "form_type", Kind: KindText},
		Column{Name: "data", Kind: KindJSON},
		Column{Name: "is_read", Kind: KindBool},
		Column{Name: "read_at", Kind: KindTime, Nullable: true},
	),
	TableBulletinPosts: define(TableBulletinPosts,
		Column{Name: "title", Kind: KindText},
		Column{Name: "content", Kind: KindText, Nullable: true},
		Column{Name: "category", Kind: KindText, Nullable: true},
		Column{Name: "image_url", Kind: KindText, Nullable: true},
	),
	TableNewsPosts: define(TableNewsPosts,
		Column{Name: "title", Kind: KindText},
		Column{Name: "content", Kind: KindText, Nullable: true},
		Column{Name: "image_url", Kind: KindText, Nullable: true},
	),
	TableSystemMaintenance: define(TableSystemMaintenance,
		Column{Name: "message", Kind: KindText},
		Column{Name: "start_time", Kind: KindTime},
		Column{Name: "end_time", Kind: KindTime},
	),
	TablePatchNotes: define(TablePatchNotes,
		Column{Name: "version", Kind: KindText},
		Column{Name: "title", Kind: KindText},
		Column{Name: "body", Kind: KindText, Nullable: true},
		Column{Name: "date", Kind: KindTime},
	),
}

// Lookup はテーブル定義を返す。
func Lookup(name string) (Table, error) {
	t, ok := catalog[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Tables はカタログ内の全テーブル定義をテーブル名順で返す。
func Tables() []Table {
	names := []string{TableBulletinPosts, TableNewsPosts, TableNotifications, TablePatchNotes, TableSystemMaintenance}
	out := make([]Table, 0, len(names))
	for _, n := range names {
		out = append(out, catalog[n])
	}
	return out
}

// Column はカラム定義を返す。
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrepareInsert は挿入する行を正規化し、idとcreated_atが無い場合は補完する。
// 必須カラムが欠けている場合はエラーを返す。
func (t Table) PrepareInsert(rec Record, now time.Time) (Record, error) {
	out, err := t.Normalize(rec)
	if err != nil {
		return nil, err
	}
	if v, ok := out[ColumnID]; !ok || v == "" {
		out[ColumnID] = uuid.New().String()
	}
	if v, ok := out[ColumnCreatedAt]; !ok || v == nil {
		out[ColumnCreatedAt] = now.UTC()
	}
	for _, c := range t.Columns {
		v, ok := out[c.Name]
		if ok && v != nil {
			continue
		}
		if c.Nullable {
			out[c.Name] = nil
			continue
		}
		switch c.Kind {
		case KindBool:
			out[c.Name] = false
		case KindJSON:
			out[c.Name] = map[string]any{}
		default:
			return nil, fmt.Errorf("%w: %s.%s は必須です", ErrInvalidValue, t.Name, c.Name)
		}
	}
	return out, nil
}

// Normalize は行の各値をカラムの型に合わせて正規化する。
func (t Table) Normalize(rec Record) (Record, error) {
	out := make(Record, len(rec))
	for k, v := range rec {
		c, ok := t.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, k)
		}
		nv, err := c.Normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

// Normalize は値をカラムの型に合わせて正規化する。
// 時刻はtime.Time（UTC）、真偽値はbool、文字列はstringに揃える。
func (c Column) Normalize(v any) (any, error) {
	if v == nil {
		if c.Nullable || c.Kind == KindJSON {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s にnullは指定できません", ErrInvalidValue, c.Name)
	}
	switch c.Kind {
	case KindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s は文字列である必要があります（%T）", ErrInvalidValue, c.Name, v)
		}
		return s, nil
	case KindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case int:
			return b != 0, nil
		}
		return nil, fmt.Errorf("%w: %s は真偽値である必要があります（%T）", ErrInvalidValue, c.Name, v)
	case KindTime:
		switch tv := v.(type) {
		case time.Time:
			return tv.UTC(), nil
		case *time.Time:
			if tv == nil {
				return c.Normalize(nil)
			}
			return tv.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, tv)
			if err != nil {
				return nil, fmt.Errorf("%w: %s の時刻形式が不正です: %v", ErrInvalidValue, c.Name, err)
			}
			return parsed.UTC(), nil
		}
		return nil, fmt.Errorf("%w: %s は時刻である必要があります（%T）", ErrInvalidValue, c.Name, v)
	case KindJSON:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s の型が不明です", ErrInvalidValue, c.Name)
}
