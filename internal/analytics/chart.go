package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brgyportal/announce/pkg/event"
	"github.com/brgyportal/announce/pkg/store"
	"github.com/brgyportal/announce/pkg/timebucket"
)

// ErrInvalidQueryParameter は不正なtypeまたはperiodを表す。
var ErrInvalidQueryParameter = errors.New("invalid query parameter")

// chartCategories はグラフに出せる投稿の種類と系列名。
var chartCategories = map[string]struct {
	category event.Category
	label    string
}{
	"bulletin": {category: event.CategoryBulletin, label: "Bulletin posts"},
	"news":     {category: event.CategoryNews, label: "News posts"},
}

// Chart はグラフ描画用のレスポンス。
type Chart struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset はグラフの1系列。
type Dataset struct {
	Label string `json:"label"`
	Data  []int  `json:"data"`
}

// ChartRequest は検証済みのグラフ要求。
type ChartRequest struct {
	Type     string
	Category event.Category
	Table    string
	Label    string
	Period   timebucket.Granularity
}

// ParseChartRequest はtypeとperiodを検証する。不正な値はErrInvalidQueryParameterを返す。
func ParseChartRequest(typ, period string) (ChartRequest, error) {
	typ = strings.ToLower(strings.TrimSpace(typ))
	c, ok := chartCategories[typ]
	if !ok {
		return ChartRequest{}, fmt.Errorf("%w: type=%q", ErrInvalidQueryParameter, typ)
	}
	table, ok := c.category.Table()
	if !ok {
		return ChartRequest{}, fmt.Errorf("%w: type=%q", ErrInvalidQueryParameter, typ)
	}
	g, err := timebucket.ParseGranularity(period)
	if err != nil {
		return ChartRequest{}, fmt.Errorf("%w: period=%q", ErrInvalidQueryParameter, period)
	}
	return ChartRequest{Type: typ, Category: c.category, Table: table, Label: c.label, Period: g}, nil
}

// Charter は投稿の作成日時を集計してグラフを作る。
type Charter struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

// NewCharter は新しいCharterを生成する。locがnilの場合はUTCで集計する。
func NewCharter(st store.Store, loc *time.Location, now func() time.Time) *Charter {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Charter{store: st, loc: loc, now: now}
}

// Chart は要求された投稿の件数を期間ごとに集計する。
// 幅が固定の期間はストアへの問い合わせを集計範囲に絞る。
func (c *Charter) Chart(ctx context.Context, req ChartRequest) (Chart, error) {
	ref := c.now()

	var q store.Query
	if from, to, ok := timebucket.Window(req.Period, ref, c.loc); ok {
		q.Filter = store.Filter{
			store.Gte(store.ColumnCreatedAt, from),
			store.Lt(store.ColumnCreatedAt, to),
		}
	}
	recs, err := c.store.Select(ctx, req.Table, q)
	if err != nil {
		return Chart{}, fmt.Errorf("%sの取得に失敗しました: %w", req.Table, err)
	}

	events := make([]event.Event, 0, len(recs))
	for _, rec := range recs {
		events = append(events, event.FromRecord(req.Category, rec))
	}
	h, err := timebucket.Aggregate(event.CreatedTimes(events), req.Period, ref, c.loc)
	if err != nil {
		return Chart{}, err
	}
	return Chart{
		Labels:   h.Labels(),
		Datasets: []Dataset{{Label: req.Label, Data: h.Counts()}},
	}, nil
}
