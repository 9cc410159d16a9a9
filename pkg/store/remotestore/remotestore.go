// Package remotestore はEvent StoreサービスのHTTP APIを呼び出すstore.Storeの実装を提供する。
package remotestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brgyportal/announce/pkg/httpclient"
	"github.com/brgyportal/announce/pkg/store"
)

// Store はEvent StoreサービスへのHTTPクライアント。
type Store struct {
	client *httpclient.Client
}

var _ store.Store = (*Store)(nil)

// New はbaseURL（例: "http://eventstore:8084"）のEvent Storeサービスに接続するStoreを生成する。
func New(baseURL string, timeout time.Duration) *Store {
	return &Store{client: httpclient.New(baseURL, httpclient.WithTimeout(timeout))}
}

// NewWithClient は既存のクライアントからStoreを生成する。
func NewWithClient(c *httpclient.Client) *Store {
	return &Store{client: c}
}

type affectedResponse struct {
	Affected int64 `json:"affected"`
}

type selectResponse struct {
	Records []store.Record `json:"records"`
}

type updateRequest struct {
	Filter store.Filter `json:"filter"`
	Patch  store.Record `json:"patch"`
}

type deleteRequest struct {
	Filter store.Filter `json:"filter"`
}

// Insert は1行を追加する。
func (s *Store) Insert(ctx context.Context, table string, rec store.Record) (store.Record, error) {
	t, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	var created store.Record
	if err := s.client.PostJSON(ctx, tablePath(t.Name), rec, &created); err != nil {
		return nil, translate(err)
	}
	return t.Normalize(created)
}

// Update は条件に一致する行を更新する。
func (s *Store) Update(ctx context.Context, table string, filter store.Filter, patch store.Record) (int64, error) {
	t, err := store.Lookup(table)
	if err != nil {
		return 0, err
	}
	if filter == nil {
		filter = store.Filter{}
	}
	var res affectedResponse
	if err := s.client.PatchJSON(ctx, tablePath(t.Name), updateRequest{Filter: filter, Patch: patch}, &res); err != nil {
		return 0, translate(err)
	}
	return res.Affected, nil
}

// Select は条件に一致する行を返す。時刻は文字列からtime.Time（UTC）に戻す。
func (s *Store) Select(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	t, err := store.Lookup(table)
	if err != nil {
		return nil, err
	}
	var res selectResponse
	if err := s.client.PostJSON(ctx, tablePath(t.Name)+"/query", q, &res); err != nil {
		return nil, translate(err)
	}

	out := make([]store.Record, 0, len(res.Records))
	for _, raw := range res.Records {
		rec, err := t.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s record: %w", t.Name, err)
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
	if filter == nil {
		filter = store.Filter{}
	}
	var res affectedResponse
	if err := s.client.PostJSON(ctx, tablePath(t.Name)+"/delete", deleteRequest{Filter: filter}, &res); err != nil {
		return 0, translate(err)
	}
	return res.Affected, nil
}

func tablePath(table string) string {
	return "/api/v1/tables/" + url.PathEscape(table)
}

// translate はHTTPステータスをストアのエラーに戻す。
func translate(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", store.ErrUnknownTable, se.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", store.ErrConflict, se.Message)
	case http.StatusBadRequest:
		for _, sentinel := range []error{store.ErrUnknownColumn, store.ErrInvalidFilter, store.ErrInvalidValue} {
			if strings.HasPrefix(se.Message, sentinel.Error()) {
				return fmt.Errorf("%w: %s", sentinel, strings.TrimPrefix(se.Message, sentinel.Error()+": "))
			}
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidValue, se.Message)
	default:
		return err
	}
}
