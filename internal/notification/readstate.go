package notification

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/brgyportal/announce/pkg/event"
	"github.com/brgyportal/announce/pkg/store"
)

const (
	// DefaultListLimit は未読一覧の既定の取得件数。
	DefaultListLimit = 10
	// MaxListLimit は未読一覧の取得件数の上限。
	MaxListLimit = 100
)

// Tracker は通知の既読状態を管理する。
// 既読への遷移は常に is_read = false を条件にした1回の更新で行うため、
// 同じ通知を繰り返し既読にしてもread_atは最初の値のまま変わらない。
type Tracker struct {
	store store.Store
	now   func() time.Time
}

// TrackerOption はTrackerの設定を変更する。
type TrackerOption func(*Tracker)

// WithClock は既読日時に使う時計を差し替える。
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker は新しいTrackerを生成する。
func NewTracker(st store.Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: st, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkRead は指定された未読通知を既読にし、更新件数を返す。
// idが1つも無い場合はストアを呼ばずに0を返す。
func (t *Tracker) MarkRead(ctx context.Context, ids []string) (int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	filter := store.Filter{
		store.In(store.ColumnID, ids),
		store.Eq("is_read", false),
	}
	n, err := t.store.Update(ctx, store.TableNotifications, filter, t.readPatch())
	if err != nil {
		return 0, fmt.Errorf("既読への更新に失敗しました: %w", err)
	}
	return n, nil
}

// MarkAllUnreadRead は未読通知をすべて既読にする。formTypeが空でなければその種類に限る。
func (t *Tracker) MarkAllUnreadRead(ctx context.Context, formType string) (int64, error) {
	n, err := t.store.Update(ctx, store.TableNotifications, unreadFilter(formType), t.readPatch())
	if err != nil {
		return 0, fmt.Errorf("既読への一括更新に失敗しました: %w", err)
	}
	return n, nil
}

// CountUnread は未読通知の件数を返す。
func (t *Tracker) CountUnread(ctx context.Context, formType string) (int, error) {
	count, _, err := t.Summary(ctx, formType)
	return count, err
}

// UnreadFormTypes は未読通知が存在するフォーム種別を重複なしの昇順で返す。
func (t *Tracker) UnreadFormTypes(ctx context.Context) ([]string, error) {
	_, types, err := t.Summary(ctx, "")
	return types, err
}

// Summary は未読件数と未読のフォーム種別を1回の検索で返す。
// 両者は同じ結果から求めるため、件数が0なら種別も空になる。
func (t *Tracker) Summary(ctx context.Context, formType string) (int, []string, error) {
	recs, err := t.store.Select(ctx, store.TableNotifications, store.Query{Filter: unreadFilter(formType)})
	if err != nil {
		return 0, nil, fmt.Errorf("未読通知の取得に失敗しました: %w", err)
	}
	seen := make(map[string]struct{})
	types := []string{}
	for _, rec := range recs {
		ft, _ := rec["form_type"].(string)
		if _, ok := seen[ft]; ok {
			continue
		}
		seen[ft] = struct{}{}
		types = append(types, ft)
	}
	sort.Strings(types)
	return len(recs), types, nil
}

// ListUnread は未読通知を新しい順に返す。limitが0以下なら既定値、上限を超える場合は上限に丸める。
func (t *Tracker) ListUnread(ctx context.Context, formType string, limit int) ([]event.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	recs, err := t.store.Select(ctx, store.TableNotifications, store.Query{
		Filter: unreadFilter(formType),
		Order:  []store.Order{store.Desc(store.ColumnCreatedAt)},
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("未読通知の取得に失敗しました: %w", err)
	}
	out := make([]event.Notification, 0, len(recs))
	for _, rec := range recs {
		n, err := event.NotificationFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (t *Tracker) readPatch() store.Record {
	return store.Record{"is_read": true, "read_at": t.now().UTC()}
}

func unreadFilter(formType string) store.Filter {
	f := store.Filter{store.Eq("is_read", false)}
	if formType != "" {
		f = append(f, store.Eq("form_type", formType))
	}
	return f
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
