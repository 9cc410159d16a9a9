package notification

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brgyportal/announce/pkg/event"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
	"github.com/brgyportal/announce/pkg/middleware"
	"github.com/brgyportal/announce/pkg/store"
)

// maxWebhookBody はWebhookのリクエストボディの上限（バイト）。
const maxWebhookBody = 1 << 20

// streamTokenParam はSSE接続で管理者トークンを渡すクエリパラメータ名。
const streamTokenParam = "access_token"

// defaultKeepAlive はSSEのキープアライブ間隔の既定値。
const defaultKeepAlive = 15 * time.Second

// Config は通知サーバーの設定。
type Config struct {
	// Secret はWebhookの共有シークレット。
	Secret string
	// StoreTimeout はストア操作1回あたりのタイムアウト。
	StoreTimeout time.Duration
	// KeepAlive はSSEのキープアライブ間隔。
	KeepAlive time.Duration
	// RatePerSec はWebhookの1秒あたりの許容リクエスト数。0以下で無制限。
	RatePerSec float64
	// Burst はWebhookのバースト許容数。
	Burst int
	// JWTSecret は管理者APIのJWT署名鍵。空の場合は認証しない。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバーの設定。
	cfg Config
	// ingestor はWebhookの取り込みを行う。
	ingestor *Ingestor
	// tracker は既読状態を管理する。
	tracker *Tracker
	// hub はリアルタイム配信のハブ。
	hub *Hub
	// log はサーバーのロガー。
	log logx.Logger
	// metrics は/metricsで公開するメトリクス。
	metrics *metrics.Metrics
}

// NewServer は新しい通知サーバーを生成する。hubの起動と停止は呼び出し側が行う。
func NewServer(cfg Config, st store.Store, hub *Hub, log logx.Logger, m *metrics.Metrics) (*Server, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if hub == nil {
		return nil, errors.New("hub is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log, m))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router: router,
		cfg:    cfg,
		ingestor: NewIngestor(IngestorConfig{
			Secret:       cfg.Secret,
			StoreTimeout: cfg.StoreTimeout,
		}, st, hub, log, m),
		tracker: NewTracker(st),
		hub:     hub,
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
	{
		// フォーム送信の取り込み（共有シークレットで認証）
		api.POST("/webhooks/form-responses",
			middleware.RateLimit(s.cfg.RatePerSec, s.cfg.Burst),
			s.handleWebhook(),
		)

		// リアルタイム配信（EventSourceはヘッダーを送れないためクエリのトークンも受け付ける）
		api.GET("/notifications/stream",
			middleware.AdminAuth(s.cfg.JWTSecret, middleware.WithQueryToken(streamTokenParam)),
			s.handleStream(),
		)

		notifications := api.Group("/notifications")
		notifications.Use(middleware.AdminAuth(s.cfg.JWTSecret))
		{
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 未読件数取得
			notifications.GET("/unread/count", s.handleUnreadCount())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkRead())
			// 複数または全未読通知を既読にする
			notifications.POST("/mark-read", s.handleMarkMany())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// FormType は送信元フォームの種類。
	FormType string `json:"form_type"`
	// Data はフォームの回答内容。
	Data map[string]any `json:"data"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// ReadAt は既読日時（RFC3339形式）。未読の場合は省略する。
	ReadAt string `json:"read_at,omitempty"`
}

// toNotificationResponse は通知をJSONレスポンスに変換する。
func toNotificationResponse(n event.Notification) notificationResponse {
	resp := notificationResponse{
		ID:        n.ID,
		FormType:  n.FormType,
		Data:      n.Data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Data == nil {
		resp.Data = map[string]any{}
	}
	if n.ReadAt != nil {
		resp.ReadAt = n.ReadAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// handleWebhook はフォーム送信のWebhookを処理するハンドラ。
func (s *Server) handleWebhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"error": fmt.Sprintf("リクエストボディは%dバイト以下にしてください", maxWebhookBody),
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディを読み取れません"})
			return
		}

		presented := presentedSecret(raw, c.GetHeader("Authorization"))
		id, err := s.ingestor.Ingest(c.Request.Context(), raw, presented)
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, gin.H{"id": id})
		case errors.Is(err, ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": "シークレットキーが一致しません"})
		case errors.Is(err, ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の保存に失敗しました"})
		}
	}
}

// handleListUnread は未読通知一覧を新しい順に返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := DefaultListLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > MaxListLimit {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("limitは1から%dの整数で指定してください", MaxListLimit),
				})
				return
			}
			limit = n
		}

		list, err := s.tracker.ListUnread(c.Request.Context(), c.Query("form_type"), limit)
		if err != nil {
			s.log.Error("unread list failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			return
		}

		resp := make([]notificationResponse, 0, len(list))
		for _, n := range list {
			resp = append(resp, toNotificationResponse(n))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleUnreadCount は未読件数と未読のフォーム種別を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, types, err := s.tracker.Summary(c.Request.Context(), c.Query("form_type"))
		if err != nil {
			s.log.Error("unread count failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読件数の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count, "form_types": types})
	}
}

// handleMarkRead は指定された通知を既読にするハンドラ。
// 既読済みや存在しない通知でも成功とし、更新件数を返す。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := s.tracker.MarkRead(c.Request.Context(), []string{c.Param("id")})
		if err != nil {
			s.log.Error("mark read failed", logx.String("id", c.Param("id")), logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			return
		}
		s.log.Info("notification marked read",
			logx.String("admin", middleware.GetSubject(c)),
			logx.String("id", c.Param("id")),
			logx.Int64("updated", updated),
		)
		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// markReadRequest は一括既読リクエストのJSON構造。
type markReadRequest struct {
	// IDs は既読にする通知のID。省略時は未読通知すべてが対象。
	IDs []string `json:"ids"`
	// FormType はIDs省略時の対象を絞り込むフォーム種別。
	FormType string `json:"form_type"`
}

// handleMarkMany は複数の通知、または未読通知すべてを既読にするハンドラ。
func (s *Server) handleMarkMany() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markReadRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
				return
			}
		}

		var (
			updated int64
			err     error
		)
		if req.IDs == nil {
			updated, err = s.tracker.MarkAllUnreadRead(c.Request.Context(), req.FormType)
		} else {
			updated, err = s.tracker.MarkRead(c.Request.Context(), req.IDs)
		}
		if err != nil {
			s.log.Error("mark many read failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			return
		}
		s.log.Info("notifications marked read",
			logx.String("admin", middleware.GetSubject(c)),
			logx.Bool("all_unread", req.IDs == nil),
			logx.String("form_type", req.FormType),
			logx.Int64("updated", updated),
		)
		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// handleStream は新着通知をServer-Sent Eventsで配信するハンドラ。
// 接続中に保存された通知のみを配信し、切断中の通知は再送しない。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, unsubscribe := s.hub.Subscribe()
		defer unsubscribe()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		_, _ = c.Writer.WriteString(": connected\n\n")
		c.Writer.Flush()

		ticker := time.NewTicker(s.cfg.KeepAlive)
		defer ticker.Stop()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case n, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent("new_notification", toNotificationResponse(n))
				return true
			case <-ticker.C:
				_, err := io.WriteString(w, ": keep-alive\n\n")
				return err == nil
			}
		})
	}
}
