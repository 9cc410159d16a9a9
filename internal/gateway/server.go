package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/brgyportal/announce/pkg/httpclient"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
	"github.com/brgyportal/announce/pkg/middleware"
)

// Config はGatewayの設定。
type Config struct {
	// NotificationURL は通知サービスのベースURL。
	NotificationURL string
	// AnalyticsURL はAnalyticsサービスのベースURL。
	AnalyticsURL string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
}

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// notification は通知サービスへのプロキシ。
	notification *httputil.ReverseProxy
	// analytics はAnalyticsサービスへのプロキシ。
	analytics *httputil.ReverseProxy
	// log はサーバーのロガー。
	log logx.Logger
	// metrics は/metricsで公開するメトリクス。
	metrics *metrics.Metrics
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config, log logx.Logger, m *metrics.Metrics) (*Server, error) {
	notificationURL, err := parseUpstream("notification", cfg.NotificationURL)
	if err != nil {
		return nil, err
	}
	analyticsURL, err := parseUpstream("analytics", cfg.AnalyticsURL)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log, m))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:  router,
		log:     log,
		metrics: m,
	}
	s.notification = s.newProxy("notification", notificationURL)
	s.analytics = s.newProxy("analytics", analyticsURL)
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。認証は転送先のサービスが行う。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		// Webhook（通知サービス）
		api.POST("/webhooks/*path", s.proxy(s.notification))
		// 通知（SSEを含む）
		api.Any("/notifications/*path", s.proxy(s.notification))

		// グラフ・ダッシュボード（Analyticsサービス）
		api.GET("/charts", s.proxy(s.analytics))
		api.GET("/dashboard", s.proxy(s.analytics))
		// メンテナンス告知・パッチノート
		api.GET("/system-maintenance", s.proxy(s.analytics))
		api.GET("/system-maintenance/latest", s.proxy(s.analytics))
		api.GET("/patch-notes", s.proxy(s.analytics))
		api.GET("/patch-notes/latest", s.proxy(s.analytics))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// proxy はリクエストをそのままのパスで転送するハンドラを返す。
func (s *Server) proxy(p *httputil.ReverseProxy) gin.HandlerFunc {
	return func(c *gin.Context) {
		p.ServeHTTP(c.Writer, c.Request)
	}
}

// newProxy は転送先ごとのリバースプロキシを生成する。
// FlushIntervalを負にしてSSEを即時に中継する。
func (s *Server) newProxy(name string, target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
			if id, ok := httpclient.RequestIDFrom(r.In.Context()); ok {
				r.Out.Header.Set(httpclient.HeaderRequestID, id)
			}
		},
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			for key := range resp.Header {
				if strings.HasPrefix(key, "Access-Control-") {
					resp.Header.Del(key)
				}
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(r.Context().Err(), context.Canceled) {
				return
			}
			s.log.Error("proxy request failed",
				logx.String("upstream", name),
				logx.String("path", r.URL.Path),
				logx.Err(err),
			)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"内部サービスとの通信に失敗しました"}`))
		},
	}
}

func parseUpstream(name, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%s の転送先URLが設定されていません", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s の転送先URLが不正です: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s の転送先URLが不正です: %q", name, raw)
	}
	return u, nil
}
