package timebucket

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Granularity はバケットの粒度。
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
	All     Granularity = "all"
)

// ErrInvalidGranularity は未知の粒度を表す。
var ErrInvalidGranularity = errors.New("invalid granularity")

// ParseGranularity は文字列を粒度に変換する。大文字小文字と前後の空白は無視する。
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case Daily, Weekly, Monthly, Yearly, All:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
}

// Fixed は基準時刻だけで範囲が決まる粒度かどうかを返す。
func (g Granularity) Fixed() bool {
	return g == Daily || g == Weekly
}

// Bucket はヒストグラムの1区間 [Start, End)。
type Bucket struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
}

// Histogram は時系列昇順に並んだ隙間のないバケット列。
type Histogram []Bucket

// Labels はバケットのラベルを順に返す。
func (h Histogram) Labels() []string {
	out := make([]string, len(h))
	for i, b := range h {
		out[i] = b.Label
	}
	return out
}

// Counts はバケットの件数を順に返す。
func (h Histogram) Counts() []int {
	out := make([]int, len(h))
	for i, b := range h {
		out[i] = b.Count
	}
	return out
}

// Total は全バケットの件数の合計を返す。
func (h Histogram) Total() int {
	n := 0
	for _, b := range h {
		n += b.Count
	}
	return n
}

const (
	defaultDays     = 30
	defaultWeeks    = 12
	defaultMonthCap = 12
)

type options struct {
	days     int
	weeks    int
	monthCap int
}

// Option は集計の範囲を変更する。
type Option func(*options)

// WithDays はdailyのバケット数を変更する。
func WithDays(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.days = n
		}
	}
}

// WithWeeks はweeklyのバケット数を変更する。
func WithWeeks(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.weeks = n
		}
	}
}

// WithMonthCap はmonthlyで残す末尾の月数を変更する。0以下で上限なし。
func WithMonthCap(n int) Option {
	return func(o *options) { o.monthCap = n }
}

func buildOptions(opts []Option) options {
	o := options{days: defaultDays, weeks: defaultWeeks, monthCap: defaultMonthCap}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Aggregate はtimesを粒度gのヒストグラムに集計する。
// バケットはlocのローカル時刻で区切り、範囲外の時刻は数えない。
// locがnilの場合はUTCを使う。
func Aggregate(times []time.Time, g Granularity, ref time.Time, loc *time.Location, opts ...Option) (Histogram, error) {
	if loc == nil {
		loc = time.UTC
	}
	o := buildOptions(opts)

	var h Histogram
	switch g {
	case Daily:
		h = dailySpan(ref.In(loc), o.days)
	case Weekly:
		h = weeklySpan(ref.In(loc), o.weeks)
	case Monthly, All:
		limit := o.monthCap
		if g == All {
			limit = 0
		}
		h = monthlySpan(times, loc, limit)
	case Yearly:
		h = yearlySpan(times, loc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, string(g))
	}

	for _, t := range times {
		h.add(t.In(loc))
	}
	return h, nil
}

// Window はdaily/weeklyの集計範囲 [from, to) をUTCで返す。
// データから範囲が決まる粒度ではokがfalseになる。
func Window(g Granularity, ref time.Time, loc *time.Location, opts ...Option) (from, to time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	o := buildOptions(opts)

	var h Histogram
	switch g {
	case Daily:
		h = dailySpan(ref.In(loc), o.days)
	case Weekly:
		h = weeklySpan(ref.In(loc), o.weeks)
	default:
		return time.Time{}, time.Time{}, false
	}
	return h[0].Start.UTC(), h[len(h)-1].End.UTC(), true
}

// add はtを含むバケットの件数を1増やす。
func (h Histogram) add(t time.Time) {
	i := sort.Search(len(h), func(i int) bool { return h[i].End.After(t) })
	if i < len(h) && !t.Before(h[i].Start) {
		h[i].Count++
	}
}

func dailySpan(ref time.Time, days int) Histogram {
	y, m, d := ref.Date()
	loc := ref.Location()
	h := make(Histogram, days)
	for i := range days {
		start := time.Date(y, m, d-(days-1)+i, 0, 0, 0, 0, loc)
		end := time.Date(y, m, d-(days-1)+i+1, 0, 0, 0, 0, loc)
		h[i] = Bucket{Label: start.Format("Jan 02"), Start: start, End: end}
	}
	return h
}

func weeklySpan(ref time.Time, weeks int) Histogram {
	y, m, d := ref.Date()
	loc := ref.Location()
	// 月曜日を週の始まりとする
	monday := d - (int(ref.Weekday())+6)%7
	h := make(Histogram, weeks)
	for i := range weeks {
		offset := monday - 7*(weeks-1-i)
		start := time.Date(y, m, offset, 0, 0, 0, 0, loc)
		end := time.Date(y, m, offset+7, 0, 0, 0, 0, loc)
		isoYear, isoWeek := start.ISOWeek()
		h[i] = Bucket{Label: fmt.Sprintf("%04d-W%02d", isoYear, isoWeek), Start: start, End: end}
	}
	return h
}

func monthlySpan(times []time.Time, loc *time.Location, limit int) Histogram {
	first, last, ok := bounds(times, loc)
	if !ok {
		return Histogram{}
	}
	fy, fm, _ := first.Date()
	ly, lm, _ := last.Date()
	n := (ly-fy)*12 + int(lm-fm) + 1
	skip := 0
	if limit > 0 && n > limit {
		skip = n - limit
		n = limit
	}
	h := make(Histogram, n)
	for i := range n {
		start := time.Date(fy, fm+time.Month(skip+i), 1, 0, 0, 0, 0, loc)
		end := time.Date(fy, fm+time.Month(skip+i+1), 1, 0, 0, 0, 0, loc)
		h[i] = Bucket{Label: start.Format("Jan 2006"), Start: start, End: end}
	}
	return h
}

func yearlySpan(times []time.Time, loc *time.Location) Histogram {
	first, last, ok := bounds(times, loc)
	if !ok {
		return Histogram{}
	}
	fy, ly := first.Year(), last.Year()
	h := make(Histogram, ly-fy+1)
	for i := range h {
		start := time.Date(fy+i, time.January, 1, 0, 0, 0, 0, loc)
		end := time.Date(fy+i+1, time.January, 1, 0, 0, 0, 0, loc)
		h[i] = Bucket{Label: start.Format("2006"), Start: start, End: end}
	}
	return h
}

// bounds はtimesの最古と最新をlocのローカル時刻で返す。
func bounds(times []time.Time, loc *time.Location) (first, last time.Time, ok bool) {
	for i, t := range times {
		lt := t.In(loc)
		if i == 0 || lt.Before(first) {
			first = lt
		}
		if i == 0 || lt.After(last) {
			last = lt
		}
	}
	return first, last, len(times) > 0
}
