// Package metrics はPrometheus形式のメトリクスを提供する。
//
// サービスごとに独立したレジストリを持ち、/metrics エンドポイントで公開する。
// すべてのメソッドはnilレシーバでも安全に呼び出せる。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "announce"

// Metrics はサービスが公開するメトリクス群。
type Metrics struct {
	// Registry はメトリクスの登録先。
	Registry *prometheus.Registry

	ingestTotal          *prometheus.CounterVec
	broadcastDropped     prometheus.Counter
	broadcastSubscribers prometheus.Gauge
	chartRequests        *prometheus.CounterVec
	httpRequests         *prometheus.CounterVec
}

// New はサービス名をconst labelに持つメトリクス群を生成する。
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		Registry: reg,
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ingest_total",
			Help:        "Webhook ingestion attempts by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "broadcast_dropped_total",
			Help:        "Real-time pushes dropped because a queue was full.",
			ConstLabels: constLabels,
		}),
		broadcastSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "broadcast_subscribers",
			Help:        "Currently connected real-time subscribers.",
			ConstLabels: constLabels,
		}),
		chartRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "chart_requests_total",
			Help:        "Chart histogram computations by content type and period.",
			ConstLabels: constLabels,
		}, []string{"type", "period"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, route and status.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.ingestTotal,
		m.broadcastDropped,
		m.broadcastSubscribers,
		m.chartRequests,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler はレジストリの内容を返すHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// IncIngest は取り込み結果のカウンタを1増やす。
func (m *Metrics) IncIngest(result string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(result).Inc()
}

// IncBroadcastDropped は破棄されたプッシュのカウンタを1増やす。
func (m *Metrics) IncBroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDropped.Inc()
}

// SetBroadcastSubscribers は接続中の購読者数を設定する。
func (m *Metrics) SetBroadcastSubscribers(n int) {
	if m == nil {
		return
	}
	m.broadcastSubscribers.Set(float64(n))
}

// IncChart はチャート計算のカウンタを1増やす。
func (m *Metrics) IncChart(contentType, period string) {
	if m == nil {
		return
	}
	m.chartRequests.WithLabelValues(contentType, period).Inc()
}

// ObserveHTTP はHTTPリクエストを記録する。
func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
