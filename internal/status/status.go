package status

import (
	"context"
	"fmt"
	"time"

	"github.com/brgyportal/announce/pkg/store"
)

// Maintenance はシステムメンテナンスの告知。
type Maintenance struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

// Active はatが期間内（両端を含む）かどうかを返す。
func (m Maintenance) Active(at time.Time) bool {
	return !m.StartTime.After(at) && !m.EndTime.Before(at)
}

// PatchNote はリリースごとの変更点。
type PatchNote struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	Title     string    `json:"title"`
	Body      *string   `json:"body"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// Service はメンテナンス告知とパッチノートを検索する。
type Service struct {
	store store.Store
	now   func() time.Time
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithClock は現在時刻の取得方法を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService は新しいServiceを生成する。
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListMaintenance はメンテナンス告知を開始時刻の新しい順に返す。
func (s *Service) ListMaintenance(ctx context.Context) ([]Maintenance, error) {
	recs, err := s.store.Select(ctx, store.TableSystemMaintenance, store.Query{
		Order: []store.Order{store.Desc("start_time")},
	})
	if err != nil {
		return nil, fmt.Errorf("メンテナンス告知の取得に失敗しました: %w", err)
	}
	out := make([]Maintenance, 0, len(recs))
	for _, rec := range recs {
		out = append(out, maintenanceFromRecord(rec))
	}
	return out, nil
}

// LatestMaintenance は現在有効なメンテナンス告知を返す。有効なものが無ければ
// 次に始まるものを返し、どちらも無ければnilを返す。
func (s *Service) LatestMaintenance(ctx context.Context) (*Maintenance, error) {
	now := s.now().UTC()

	active, err := s.store.Select(ctx, store.TableSystemMaintenance, store.Query{
		Filter: store.Filter{store.Lte("start_time", now), store.Gte("end_time", now)},
		Order:  []store.Order{store.Desc("start_time"), store.Desc(store.ColumnCreatedAt)},
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("有効なメンテナンス告知の取得に失敗しました: %w", err)
	}
	if len(active) > 0 {
		m := maintenanceFromRecord(active[0])
		return &m, nil
	}

	upcoming, err := s.store.Select(ctx, store.TableSystemMaintenance, store.Query{
		Filter: store.Filter{store.Gt("start_time", now)},
		Order:  []store.Order{store.Asc("start_time"), store.Desc(store.ColumnCreatedAt)},
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("予定されたメンテナンス告知の取得に失敗しました: %w", err)
	}
	if len(upcoming) == 0 {
		return nil, nil
	}
	m := maintenanceFromRecord(upcoming[0])
	return &m, nil
}

// ListPatchNotes はパッチノートを日付の新しい順に返す。
func (s *Service) ListPatchNotes(ctx context.Context) ([]PatchNote, error) {
	return s.patchNotes(ctx, 0)
}

// LatestPatchNote は最新のパッチノートを返す。1件も無ければnilを返す。
func (s *Service) LatestPatchNote(ctx context.Context) (*PatchNote, error) {
	notes, err := s.patchNotes(ctx, 1)
	if err != nil || len(notes) == 0 {
		return nil, err
	}
	return &notes[0], nil
}

func (s *Service) patchNotes(ctx context.Context, limit int) ([]PatchNote, error) {
	recs, err := s.store.Select(ctx, store.TablePatchNotes, store.Query{
		Order: []store.Order{store.Desc("date"), store.Desc(store.ColumnCreatedAt)},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("パッチノートの取得に失敗しました: %w", err)
	}
	out := make([]PatchNote, 0, len(recs))
	for _, rec := range recs {
		out = append(out, patchNoteFromRecord(rec))
	}
	return out, nil
}

func maintenanceFromRecord(rec store.Record) Maintenance {
	var m Maintenance
	m.ID, _ = rec[store.ColumnID].(string)
	m.Message, _ = rec["message"].(string)
	m.StartTime = utc(rec["start_time"])
	m.EndTime = utc(rec["end_time"])
	m.CreatedAt = utc(rec[store.ColumnCreatedAt])
	return m
}

func patchNoteFromRecord(rec store.Record) PatchNote {
	var p PatchNote
	p.ID, _ = rec[store.ColumnID].(string)
	p.Version, _ = rec["version"].(string)
	p.Title, _ = rec["title"].(string)
	if body, ok := rec["body"].(string); ok {
		p.Body = &body
	}
	p.Date = utc(rec["date"])
	p.CreatedAt = utc(rec[store.ColumnCreatedAt])
	return p
}

func utc(v any) time.Time {
	t, _ := v.(time.Time)
	return t.UTC()
}
