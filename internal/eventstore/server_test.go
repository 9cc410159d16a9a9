package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/store"
	"github.com/brgyportal/announce/pkg/store/memstore"
)

// setupTestServer はテスト用のサーバーをインメモリストアで構築するヘルパー関数。
func setupTestServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	st := memstore.New()
	s, err := NewServer(st, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("NewServer()でエラー: %v", err)
	}
	return s, st
}

// doJSON はJSONボディ付きのリクエストを送信するヘルパー関数。
func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("リクエストボディのJSON変換に失敗: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// TestNewServer はストア未指定時にエラーになることを検証する。
func TestNewServer(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(nil, logx.Nop(), nil); err == nil {
		t.Fatal("NewServer(nil)がエラーを返すべきだが、nilが返った")
	}
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s, _ := setupTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
	}
	if resp["status"] != "ok" || resp["service"] != "eventstore" {
		t.Errorf("resp = %v", resp)
	}
}

// TestHandleInsert は挿入ハンドラの各パターンを検証する。
func TestHandleInsert(t *testing.T) {
	t.Parallel()

	t.Run("正常に行を挿入できる", func(t *testing.T) {
		t.Parallel()

		s, st := setupTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/v1/tables/bulletin_posts", map[string]any{
			"title":    "Clean-up drive",
			"category": "event",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d; 期待値 = %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		id, _ := resp["id"].(string)
		if id == "" {
			t.Fatal("idが補完されていない")
		}
		if _, ok := resp["created_at"].(string); !ok {
			t.Errorf("created_at = %v", resp["created_at"])
		}

		rows, err := st.Select(context.Background(), store.TableBulletinPosts, store.Query{})
		if err != nil || len(rows) != 1 || rows[0]["id"] != id {
			t.Errorf("rows = %v, err = %v", rows, err)
		}
	})

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{name: "未知のテーブルで404が返る", path: "/api/v1/tables/users", body: map[string]any{"x": 1}, want: http.StatusNotFound},
		{name: "未知のカラムで400が返る", path: "/api/v1/tables/news_posts", body: map[string]any{"title": "t", "nope": 1}, want: http.StatusBadRequest},
		{name: "必須カラムの欠落で400が返る", path: "/api/v1/tables/news_posts", body: map[string]any{"content": "c"}, want: http.StatusBadRequest},
		{name: "JSONでないボディで400が返る", path: "/api/v1/tables/news_posts", body: "not-an-object", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := setupTestServer(t)
			w := doJSON(t, s, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("ステータスコード = %d; 期待値 = %d, body=%s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	t.Run("id重複で409が返る", func(t *testing.T) {
		t.Parallel()

		s, _ := setupTestServer(t)
		body := map[string]any{"id": "dup", "title": "t"}
		if w := doJSON(t, s, http.MethodPost, "/api/v1/tables/news_posts", body); w.Code != http.StatusCreated {
			t.Fatalf("1回目のステータスコード = %d", w.Code)
		}
		if w := doJSON(t, s, http.MethodPost, "/api/v1/tables/news_posts", body); w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusConflict)
		}
	})
}

// TestHandleUpdateAndSelect は条件付き更新と検索を検証する。
func TestHandleUpdateAndSelect(t *testing.T) {
	t.Parallel()

	s, _ := setupTestServer(t)
	for i, ft := range []string{"report_concern", "report_concern", "business_permit_request"} {
		w := doJSON(t, s, http.MethodPost, "/api/v1/tables/notifications", map[string]any{
			"id":        fmt.Sprintf("n-%d", i),
			"form_type": ft,
			"data":      map[string]any{"i": i},
			"is_read":   false,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("挿入に失敗: %d %s", w.Code, w.Body.String())
		}
	}

	w := doJSON(t, s, http.MethodPatch, "/api/v1/tables/notifications", map[string]any{
		"filter": []map[string]any{
			{"column": "form_type", "op": "eq", "value": "report_concern"},
			{"column": "is_read", "op": "eq", "value": false},
		},
		"patch": map[string]any{"is_read": true, "read_at": "2024-05-01T00:00:00Z"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d; 期待値 = %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	var upd struct {
		Affected int64 `json:"affected"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &upd); err != nil {
		t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
	}
	if upd.Affected != 2 {
		t.Errorf("affected = %d; 期待値 = 2", upd.Affected)
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/tables/notifications/query", map[string]any{
		"filter": []map[string]any{{"column": "is_read", "op": "eq", "value": true}},
		"order":  []map[string]any{{"column": "id", "desc": true}},
		"limit":  1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
	}
	var sel struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sel); err != nil {
		t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
	}
	if len(sel.Records) != 1 || sel.Records[0]["id"] != "n-1" {
		t.Errorf("records = %v", sel.Records)
	}

	t.Run("不正な演算子で400が返る", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/v1/tables/notifications/query", map[string]any{
			"filter": []map[string]any{{"column": "id", "op": "like", "value": "n-%"}},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleDelete は削除ハンドラを検証する。
func TestHandleDelete(t *testing.T) {
	t.Parallel()

	s, st := setupTestServer(t)
	for _, id := range []string{"a", "b"} {
		if _, err := st.Insert(context.Background(), store.TablePatchNotes, store.Record{
			"id": id, "version": "1.0." + id, "title": "t", "date": "2024-01-01T00:00:00Z",
		}); err != nil {
			t.Fatalf("Insert()でエラー: %v", err)
		}
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/tables/patch_notes/delete", map[string]any{
		"filter": []map[string]any{{"column": "id", "op": "in", "value": []string{"a"}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d; 期待値 = %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	rows, _ := st.Select(context.Background(), store.TablePatchNotes, store.Query{})
	if len(rows) != 1 || rows[0]["id"] != "b" {
		t.Errorf("rows = %v", rows)
	}
}

// TestStatusFor はエラーとHTTPステータスの対応を検証する。
func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", store.ErrUnknownTable), http.StatusNotFound},
		{store.ErrUnknownColumn, http.StatusBadRequest},
		{store.ErrInvalidFilter, http.StatusBadRequest},
		{store.ErrInvalidValue, http.StatusBadRequest},
		{store.ErrConflict, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d; 期待値 = %d", tt.err, got, tt.want)
		}
	}
}
