package eventstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
	"github.com/brgyportal/announce/pkg/middleware"
	"github.com/brgyportal/announce/pkg/store"
)

// Server はEvent StoreサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store は公開するバックエンド。
	store store.Store
	// log はサーバーのロガー。
	log logx.Logger
	// metrics は/metricsで公開するメトリクス。
	metrics *metrics.Metrics
}

// NewServer は新しいEvent Storeサーバーを生成する。
func NewServer(st store.Store, log logx.Logger, m *metrics.Metrics) (*Server, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log, m))

	s := &Server{
		router:  router,
		store:   st,
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
		tables := api.Group("/tables/:table")
		{
			// 行の挿入
			tables.POST("", s.handleInsert())
			// 条件付き更新
			tables.PATCH("", s.handleUpdate())
			// 検索
			tables.POST("/query", s.handleSelect())
			// 削除
			tables.POST("/delete", s.handleDelete())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventstore"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// updateRequest は条件付き更新リクエストのJSON構造。
type updateRequest struct {
	// Filter は更新対象の条件。
	Filter store.Filter `json:"filter"`
	// Patch は更新するカラムと値。
	Patch store.Record `json:"patch" binding:"required"`
}

// deleteRequest は削除リクエストのJSON構造。
type deleteRequest struct {
	// Filter は削除対象の条件。
	Filter store.Filter `json:"filter"`
}

// handleInsert は行の挿入を処理するハンドラを返す。
func (s *Server) handleInsert() gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec store.Record
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		created, err := s.store.Insert(c.Request.Context(), c.Param("table"), rec)
		if err != nil {
			s.respondError(c, "insert", err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

// handleUpdate は条件付き更新を処理するハンドラを返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		affected, err := s.store.Update(c.Request.Context(), c.Param("table"), req.Filter, req.Patch)
		if err != nil {
			s.respondError(c, "update", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"affected": affected})
	}
}

// handleSelect は検索を処理するハンドラを返す。
func (s *Server) handleSelect() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q store.Query
		if err := c.ShouldBindJSON(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		records, err := s.store.Select(c.Request.Context(), c.Param("table"), q)
		if err != nil {
			s.respondError(c, "select", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// handleDelete は削除を処理するハンドラを返す。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req deleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		affected, err := s.store.Delete(c.Request.Context(), c.Param("table"), req.Filter)
		if err != nil {
			s.respondError(c, "delete", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"affected": affected})
	}
}

// respondError はストアのエラーをHTTPステータスに変換して返す。
func (s *Server) respondError(c *gin.Context, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("store operation failed",
			logx.String("op", op),
			logx.String("table", c.Param("table")),
			logx.Err(err),
		)
		c.JSON(status, gin.H{"error": "ストア操作に失敗しました"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusFor はストアのエラーに対応するHTTPステータスを返す。
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnknownColumn),
		errors.Is(err, store.ErrInvalidFilter),
		errors.Is(err, store.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
