package notification

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/brgyportal/announce/pkg/store"
	"github.com/brgyportal/announce/pkg/store/memstore"
	"github.com/brgyportal/announce/pkg/store/storetest"
)

// seedNotification はテスト用の通知を1件保存してidを返す。
func seedNotification(t *testing.T, st store.Store, formType string, createdAt time.Time, read bool) string {
	t.Helper()
	rec := store.Record{
		"form_type":           formType,
		"data":                map[string]any{"k": "v"},
		"is_read":             read,
		store.ColumnCreatedAt: createdAt,
	}
	saved, err := st.Insert(context.Background(), store.TableNotifications, rec)
	if err != nil {
		t.Fatalf("テスト用通知の作成に失敗: %v", err)
	}
	return saved[store.ColumnID].(string)
}

func newTestTracker(t *testing.T, now time.Time) (*Tracker, *storetest.Spy) {
	t.Helper()
	spy := storetest.NewSpy(memstore.New())
	return NewTracker(spy, WithClock(func() time.Time { return now })), spy
}

// TestTrackerMarkRead は既読化の振る舞いを検証する。
func TestTrackerMarkRead(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("未読の通知だけが更新され件数が返る", func(t *testing.T) {
		t.Parallel()

		tr, spy := newTestTracker(t, base.Add(time.Hour))
		a := seedNotification(t, spy, "x", base, false)
		b := seedNotification(t, spy, "x", base, true)

		n, err := tr.MarkRead(context.Background(), []string{a, b, "missing"})
		if err != nil {
			t.Fatalf("MarkRead()でエラー: %v", err)
		}
		if n != 1 {
			t.Errorf("更新件数 = %d, want 1", n)
		}
		if spy.Calls("update") != 1 {
			t.Errorf("update回数 = %d, want 1", spy.Calls("update"))
		}
	})

	t.Run("2回目は0件でread_atは変わらない", func(t *testing.T) {
		t.Parallel()

		first := base.Add(time.Hour)
		spy := storetest.NewSpy(memstore.New())
		id := seedNotification(t, spy, "x", base, false)

		if n, err := NewTracker(spy, WithClock(func() time.Time { return first })).MarkRead(context.Background(), []string{id}); err != nil || n != 1 {
			t.Fatalf("1回目 = %d, %v", n, err)
		}
		second := NewTracker(spy, WithClock(func() time.Time { return first.Add(time.Hour) }))
		if n, err := second.MarkRead(context.Background(), []string{id}); err != nil || n != 0 {
			t.Fatalf("2回目 = %d, %v", n, err)
		}

		recs, err := spy.Inner.Select(context.Background(), store.TableNotifications, store.Query{})
		if err != nil {
			t.Fatalf("Select()でエラー: %v", err)
		}
		readAt, _ := recs[0]["read_at"].(time.Time)
		if !readAt.Equal(first) || recs[0]["is_read"] != true {
			t.Errorf("行 = %v, want read_at %v", recs[0], first)
		}
	})

	t.Run("idが空ならストアを呼ばずに0件", func(t *testing.T) {
		t.Parallel()

		tr, spy := newTestTracker(t, base)
		for _, ids := range [][]string{nil, {}, {"", ""}} {
			n, err := tr.MarkRead(context.Background(), ids)
			if err != nil || n != 0 {
				t.Errorf("MarkRead(%v) = %d, %v", ids, n, err)
			}
		}
		if spy.Total() != 0 {
			t.Errorf("store呼び出し = %d, want 0", spy.Total())
		}
	})

	t.Run("ストアのエラーはラップして返す", func(t *testing.T) {
		t.Parallel()

		tr, spy := newTestTracker(t, base)
		boom := errors.New("boom")
		spy.FailOn("update", boom)
		if _, err := tr.MarkRead(context.Background(), []string{"a"}); !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
	})

	t.Run("一括既読はフォーム種別で絞り込める", func(t *testing.T) {
		t.Parallel()

		tr, spy := newTestTracker(t, base)
		seedNotification(t, spy, "a", base, false)
		seedNotification(t, spy, "a", base, false)
		seedNotification(t, spy, "b", base, false)

		n, err := tr.MarkAllUnreadRead(context.Background(), "a")
		if err != nil || n != 2 {
			t.Fatalf("MarkAllUnreadRead(a) = %d, %v", n, err)
		}
		n, err = tr.MarkAllUnreadRead(context.Background(), "")
		if err != nil || n != 1 {
			t.Fatalf("MarkAllUnreadRead() = %d, %v", n, err)
		}
		if c, _ := tr.CountUnread(context.Background(), ""); c != 0 {
			t.Errorf("CountUnread() = %d, want 0", c)
		}
	})
}

// TestTrackerQueries は未読件数・種別・一覧の整合性を検証する。
func TestTrackerQueries(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tr, spy := newTestTracker(t, base)
	ctx := context.Background()

	seedNotification(t, spy, "report_concern", base, false)
	newest := seedNotification(t, spy, "business_permit_request", base.Add(2*time.Hour), false)
	seedNotification(t, spy, "report_concern", base.Add(time.Hour), false)
	seedNotification(t, spy, "brgy_certificate_request", base, true)

	t.Run("未読件数と未読種別が一致する", func(t *testing.T) {
		count, err := tr.CountUnread(ctx, "")
		if err != nil || count != 3 {
			t.Fatalf("CountUnread() = %d, %v", count, err)
		}
		types, err := tr.UnreadFormTypes(ctx)
		if err != nil {
			t.Fatalf("UnreadFormTypes()でエラー: %v", err)
		}
		want := []string{"business_permit_request", "report_concern"}
		if !slices.Equal(types, want) {
			t.Errorf("UnreadFormTypes() = %v, want %v", types, want)
		}
	})

	t.Run("フォーム種別で件数を絞り込める", func(t *testing.T) {
		count, types, err := tr.Summary(ctx, "report_concern")
		if err != nil || count != 2 || !slices.Equal(types, []string{"report_concern"}) {
			t.Errorf("Summary() = %d, %v, %v", count, types, err)
		}
	})

	t.Run("未読一覧は新しい順でlimitが効く", func(t *testing.T) {
		list, err := tr.ListUnread(ctx, "", 2)
		if err != nil {
			t.Fatalf("ListUnread()でエラー: %v", err)
		}
		if len(list) != 2 || list[0].ID != newest {
			t.Fatalf("ListUnread() = %+v", list)
		}
		if list[0].CreatedAt.Before(list[1].CreatedAt) {
			t.Error("新しい順になっていない")
		}
		for _, n := range list {
			if n.IsRead {
				t.Errorf("既読の通知が含まれている: %s", n.ID)
			}
		}
	})

	t.Run("全件既読にすると種別も空になる", func(t *testing.T) {
		tr2, spy2 := newTestTracker(t, base)
		seedNotification(t, spy2, "x", base, false)
		if _, err := tr2.MarkAllUnreadRead(ctx, ""); err != nil {
			t.Fatalf("MarkAllUnreadRead()でエラー: %v", err)
		}
		count, types, err := tr2.Summary(ctx, "")
		if err != nil || count != 0 || len(types) != 0 {
			t.Errorf("Summary() = %d, %v, %v", count, types, err)
		}
	})
}
