package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/brgyportal/announce/internal/status"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
	"github.com/brgyportal/announce/pkg/middleware"
	"github.com/brgyportal/announce/pkg/store"
)

// Config はAnalyticsサーバーの設定。
type Config struct {
	// Location は集計と表示に使うタイムゾーン。nilの場合はUTC。
	Location *time.Location
	// StoreTimeout はリクエストごとのストア操作のタイムアウト。0以下で無制限。
	StoreTimeout time.Duration
	// JWTSecret は管理者APIのJWT署名鍵。空の場合は認証しない。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// Now は現在時刻の取得方法。nilの場合はtime.Now。
	Now func() time.Time
}

// Server はAnalyticsサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバーの設定。
	cfg Config
	// store は集計対象の投稿を読むストア。
	store store.Store
	// charter はグラフの集計を行う。
	charter *Charter
	// log はサーバーのロガー。
	log logx.Logger
	// metrics は/metricsで公開するメトリクス。
	metrics *metrics.Metrics
}

// NewServer は新しいAnalyticsサーバーを生成する。
func NewServer(cfg Config, st store.Store, log logx.Logger, m *metrics.Metrics) (*Server, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log, m))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:  router,
		cfg:     cfg,
		store:   st,
		charter: NewCharter(st, cfg.Location, cfg.Now),
		log:     log,
		metrics: m,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.AdminAuth(s.cfg.JWTSecret))
	{
		// 投稿数のグラフ
		api.GET("/charts", s.handleChart())
		// 管理画面のダッシュボード件数
		api.GET("/dashboard", s.handleDashboard())

		svc := status.NewService(s.store, status.WithClock(s.cfg.Now))
		status.NewHandler(svc, s.log).Register(api)
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "analytics"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// withTimeout はストア操作用のコンテキストを返す。
func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// handleChart は投稿数のグラフデータを返すハンドラ。
// パラメータが不正な場合はストアを参照せずに400を返す。
func (s *Server) handleChart() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := ParseChartRequest(c.Query("type"), c.DefaultQuery("period", "daily"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := s.withTimeout(c.Request.Context())
		defer cancel()

		chart, err := s.charter.Chart(ctx, req)
		if err != nil {
			s.log.Error("chart aggregation failed",
				logx.String("type", req.Type),
				logx.String("period", string(req.Period)),
				logx.Err(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "グラフデータの取得に失敗しました"})
			return
		}
		s.metrics.IncChart(req.Type, string(req.Period))
		c.JSON(http.StatusOK, chart)
	}
}

// dashboardResponse はダッシュボード件数のJSON構造。
type dashboardResponse struct {
	// BulletinCount は掲示板の投稿数。
	BulletinCount int `json:"bulletin_count"`
	// NewsCount はニュースの投稿数。
	NewsCount int `json:"news_count"`
	// UnreadNotifications は未読通知の件数。
	UnreadNotifications int `json:"unread_notifications"`
}

// handleDashboard は投稿数と未読通知数を返すハンドラ。3件の検索は並行して行う。
func (s *Server) handleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := s.withTimeout(c.Request.Context())
		defer cancel()

		var resp dashboardResponse
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			resp.BulletinCount, err = s.count(gctx, store.TableBulletinPosts, nil)
			return err
		})
		g.Go(func() (err error) {
			resp.NewsCount, err = s.count(gctx, store.TableNewsPosts, nil)
			return err
		})
		g.Go(func() (err error) {
			resp.UnreadNotifications, err = s.count(gctx, store.TableNotifications, store.Filter{store.Eq("is_read", false)})
			return err
		})
		if err := g.Wait(); err != nil {
			s.log.Error("dashboard counts failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ダッシュボードの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) count(ctx context.Context, table string, filter store.Filter) (int, error) {
	recs, err := s.store.Select(ctx, table, store.Query{Filter: filter})
	if err != nil {
		return 0, fmt.Errorf("%sの件数取得に失敗しました: %w", table, err)
	}
	return len(recs), nil
}
