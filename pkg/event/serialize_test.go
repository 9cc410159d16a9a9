package event

import (
	"errors"
	"testing"
	"time"

	"github.com/brgyportal/announce/pkg/store"
)

// TestFromRecord は行からイベントへの変換を検証する。
func TestFromRecord(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 5, 8, 0, 0, 0, time.FixedZone("PHT", 8*3600))
	e := FromRecord(CategoryBulletin, store.Record{
		"id":         "b-1",
		"created_at": created,
		"title":      "Clean-up drive",
	})

	if e.ID != "b-1" || e.Category != CategoryBulletin {
		t.Errorf("e = %+v", e)
	}
	if !e.CreatedAt.Equal(created) || e.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want %v in UTC", e.CreatedAt, created)
	}
	if e.Payload["title"] != "Clean-up drive" {
		t.Errorf("Payload = %v", e.Payload)
	}
	if _, ok := e.Payload["id"]; ok {
		t.Error("Payloadにidが含まれている")
	}
}

// TestCreatedTimes はcreated_atの取り出しを検証する。
func TestCreatedTimes(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	got := CreatedTimes([]Event{
		FromRecord(CategoryNews, store.Record{"id": "a", "created_at": ts}),
		FromRecord(CategoryNews, store.Record{"id": "b", "created_at": "not-a-time"}),
		FromRecord(CategoryNews, store.Record{"id": "c"}),
	})
	if len(got) != 1 || !got[0].Equal(ts) {
		t.Errorf("CreatedTimes() = %v", got)
	}
}

// TestNotificationFromRecord は行から通知への変換を検証する。
func TestNotificationFromRecord(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("未読の通知を変換できること", func(t *testing.T) {
		t.Parallel()

		n, err := NotificationFromRecord(store.Record{
			"id":         "n-1",
			"created_at": created,
			"form_type":  "report_concern",
			"data":       map[string]any{"details": "flood"},
			"is_read":    false,
			"read_at":    nil,
		})
		if err != nil {
			t.Fatalf("NotificationFromRecord()でエラー: %v", err)
		}
		if n.ID != "n-1" || n.FormType != "report_concern" || n.IsRead || n.ReadAt != nil {
			t.Errorf("n = %+v", n)
		}
		if n.Data["details"] != "flood" {
			t.Errorf("Data = %v", n.Data)
		}
	})

	t.Run("既読の通知はReadAtを持つこと", func(t *testing.T) {
		t.Parallel()

		readAt := created.Add(time.Hour)
		n, err := NotificationFromRecord(store.Record{
			"id": "n-2", "created_at": created, "form_type": "x", "is_read": true, "read_at": readAt,
		})
		if err != nil {
			t.Fatalf("NotificationFromRecord()でエラー: %v", err)
		}
		if !n.IsRead || n.ReadAt == nil || !n.ReadAt.Equal(readAt) {
			t.Errorf("n = %+v", n)
		}
		if n.Data == nil {
			t.Error("dataが無い場合も空のマップになるべき")
		}
	})

	t.Run("不正な行はエラーになること", func(t *testing.T) {
		t.Parallel()

		for _, rec := range []store.Record{
			{"created_at": created},
			{"id": "n-3"},
			{"id": "n-4", "created_at": created, "data": "text"},
		} {
			if _, err := NotificationFromRecord(rec); err == nil {
				t.Errorf("NotificationFromRecord(%v)がエラーを返さない", rec)
			}
		}
	})
}

// TestDecodeForm はフォーム種別ごとの型付けを検証する。
func TestDecodeForm(t *testing.T) {
	t.Parallel()

	t.Run("既知の種別は型付きのフォームになること", func(t *testing.T) {
		t.Parallel()

		f, err := DecodeForm(FormBusinessPermit, map[string]any{
			"business_name": "Sari-sari",
			"owner_name":    "Maria",
			"extra":         "ignored",
		})
		if err != nil {
			t.Fatalf("DecodeForm()でエラー: %v", err)
		}
		bp, ok := f.(BusinessPermitForm)
		if !ok {
			t.Fatalf("フォームの型 = %T, want BusinessPermitForm", f)
		}
		if bp.BusinessName != "Sari-sari" || bp.OwnerName != "Maria" {
			t.Errorf("bp = %+v", bp)
		}
	})

	t.Run("必須項目が無い場合ErrMissingFieldになること", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeForm(FormCertificateRequest, map[string]any{"full_name": "Juan"})
		if !errors.Is(err, ErrMissingField) {
			t.Errorf("err = %v, want ErrMissingField", err)
		}
	})

	t.Run("型が合わない項目はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := DecodeForm(FormConcernReport, map[string]any{"category": 3, "details": "x"}); err == nil {
			t.Error("DecodeForm()がエラーを返さない")
		}
	})

	t.Run("未知の種別はそのまま保持されること", func(t *testing.T) {
		t.Parallel()

		data := map[string]any{"q1": "yes"}
		f, err := DecodeForm("community_survey", data)
		if err != nil {
			t.Fatalf("DecodeForm()でエラー: %v", err)
		}
		g, ok := f.(GenericForm)
		if !ok || g.Type() != "community_survey" || g.Fields["q1"] != "yes" {
			t.Errorf("f = %#v", f)
		}
	})
}

// TestDecodeData は任意の型へのデコードを検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	got, err := DecodeData[ConcernReportForm](map[string]any{"category": "noise", "details": "karaoke"})
	if err != nil {
		t.Fatalf("DecodeData()でエラー: %v", err)
	}
	if got.Category != "noise" || got.Details != "karaoke" {
		t.Errorf("got = %+v", got)
	}
}
