// Package storetest はstore.Storeの実装が満たすべき振る舞いを検証する共通テストを提供する。
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brgyportal/announce/pkg/store"
)

// Run はstore.Storeの共通テストを実行する。newStoreはサブテストごとに空のStoreを返すこと。
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("Insertでidとcreated_atが補完されること", func(t *testing.T) {
		s := newStore(t)
		before := time.Now().UTC().Add(-time.Second)

		rec, err := s.Insert(context.Background(), store.TableNotifications, store.Record{
			"form_type": "report_concern",
			"data":      map[string]any{"details": "streetlight"},
			"is_read":   false,
		})
		if err != nil {
			t.Fatalf("Insert()でエラー: %v", err)
		}
		if id, _ := rec[store.ColumnID].(string); id == "" {
			t.Error("idが空")
		}
		createdAt, ok := rec[store.ColumnCreatedAt].(time.Time)
		if !ok {
			t.Fatalf("created_atがtime.Timeでない: %T", rec[store.ColumnCreatedAt])
		}
		if createdAt.Before(before) || createdAt.Location() != time.UTC {
			t.Errorf("created_at = %v", createdAt)
		}
	})

	t.Run("Selectで保存した値が往復すること", func(t *testing.T) {
		s := newStore(t)
		ts := time.Date(2024, 2, 20, 3, 4, 5, 6000, time.FixedZone("PHT", 8*3600))

		if _, err := s.Insert(context.Background(), store.TableNotifications, store.Record{
			"id":         "n-1",
			"created_at": ts,
			"form_type":  "business_permit_request",
			"data":       map[string]any{"business_name": "Sari-sari"},
			"is_read":    false,
		}); err != nil {
			t.Fatalf("Insert()でエラー: %v", err)
		}

		rows, err := s.Select(context.Background(), store.TableNotifications, store.Query{
			Filter: store.Filter{store.Eq("id", "n-1")},
		})
		if err != nil {
			t.Fatalf("Select()でエラー: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("len(rows) = %d, want 1", len(rows))
		}
		row := rows[0]
		got, _ := row["created_at"].(time.Time)
		if !got.Equal(ts) || got.Location() != time.UTC {
			t.Errorf("created_at = %v, want %v (UTC)", got, ts.UTC())
		}
		if row["is_read"] != false {
			t.Errorf("is_read = %v", row["is_read"])
		}
		if row["read_at"] != nil {
			t.Errorf("read_at = %v, want nil", row["read_at"])
		}
		data, _ := row["data"].(map[string]any)
		if data["business_name"] != "Sari-sari" {
			t.Errorf("data = %v", row["data"])
		}
	})

	t.Run("id重複はErrConflictになること", func(t *testing.T) {
		s := newStore(t)
		rec := store.Record{"id": "dup", "title": "t"}
		if _, err := s.Insert(context.Background(), store.TableNewsPosts, rec); err != nil {
			t.Fatalf("Insert()でエラー: %v", err)
		}
		if _, err := s.Insert(context.Background(), store.TableNewsPosts, rec); !errors.Is(err, store.ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("未知のテーブルはErrUnknownTableになること", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Select(context.Background(), "users", store.Query{}); !errors.Is(err, store.ErrUnknownTable) {
			t.Errorf("err = %v, want ErrUnknownTable", err)
		}
	})

	t.Run("条件付きUpdateが一致した行だけを更新すること", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			if _, err := s.Insert(context.Background(), store.TableNotifications, store.Record{
				"id": id, "form_type": "report_concern", "is_read": id == "c",
			}); err != nil {
				t.Fatalf("Insert()でエラー: %v", err)
			}
		}
		readAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		patch := store.Record{"is_read": true, "read_at": readAt}
		filter := store.Filter{store.In("id", []string{"a", "c"}), store.Eq("is_read", false)}

		n, err := s.Update(context.Background(), store.TableNotifications, filter, patch)
		if err != nil {
			t.Fatalf("Update()でエラー: %v", err)
		}
		if n != 1 {
			t.Errorf("更新件数 = %d, want 1", n)
		}

		n, err = s.Update(context.Background(), store.TableNotifications, filter, patch)
		if err != nil {
			t.Fatalf("2回目のUpdate()でエラー: %v", err)
		}
		if n != 0 {
			t.Errorf("2回目の更新件数 = %d, want 0", n)
		}

		rows, err := s.Select(context.Background(), store.TableNotifications, store.Query{
			Filter: store.Filter{store.Eq("is_read", false)},
		})
		if err != nil {
			t.Fatalf("Select()でエラー: %v", err)
		}
		if len(rows) != 1 || rows[0]["id"] != "b" {
			t.Errorf("未読 = %v, want [b]", rows)
		}
	})

	t.Run("空のinは何も更新しないこと", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Insert(context.Background(), store.TableNotifications, store.Record{"form_type": "x"}); err != nil {
			t.Fatalf("Insert()でエラー: %v", err)
		}
		n, err := s.Update(context.Background(), store.TableNotifications,
			store.Filter{store.In("id", []string{})}, store.Record{"is_read": true})
		if err != nil {
			t.Fatalf("Update()でエラー: %v", err)
		}
		if n != 0 {
			t.Errorf("更新件数 = %d, want 0", n)
		}
	})

	t.Run("範囲条件と並び順と件数制限が効くこと", func(t *testing.T) {
		s := newStore(t)
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"p1", "p2", "p3", "p4"} {
			if _, err := s.Insert(context.Background(), store.TableBulletinPosts, store.Record{
				"id": id, "title": id, "created_at": base.AddDate(0, 0, i),
			}); err != nil {
				t.Fatalf("Insert()でエラー: %v", err)
			}
		}

		rows, err := s.Select(context.Background(), store.TableBulletinPosts, store.Query{
			Filter: store.Filter{
				store.Gte("created_at", base.AddDate(0, 0, 1)),
				store.Lt("created_at", base.AddDate(0, 0, 3)),
			},
			Order: []store.Order{store.Desc("created_at")},
			Limit: 2,
		})
		if err != nil {
			t.Fatalf("Select()でエラー: %v", err)
		}
		if len(rows) != 2 || rows[0]["id"] != "p3" || rows[1]["id"] != "p2" {
			t.Errorf("rows = %v, want [p3 p2]", ids(rows))
		}
	})

	t.Run("Deleteが一致した行を削除すること", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"d1", "d2"} {
			if _, err := s.Insert(context.Background(), store.TableNewsPosts, store.Record{"id": id, "title": id}); err != nil {
				t.Fatalf("Insert()でエラー: %v", err)
			}
		}
		n, err := s.Delete(context.Background(), store.TableNewsPosts, store.Filter{store.Eq("id", "d1")})
		if err != nil {
			t.Fatalf("Delete()でエラー: %v", err)
		}
		if n != 1 {
			t.Errorf("削除件数 = %d, want 1", n)
		}
		rows, err := s.Select(context.Background(), store.TableNewsPosts, store.Query{})
		if err != nil {
			t.Fatalf("Select()でエラー: %v", err)
		}
		if len(rows) != 1 || rows[0]["id"] != "d2" {
			t.Errorf("rows = %v, want [d2]", ids(rows))
		}
	})
}

func ids(rows []store.Record) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["id"])
	}
	return out
}
