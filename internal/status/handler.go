package status

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brgyportal/announce/pkg/logx"
)

// Handler はメンテナンス告知とパッチノートのHTTPハンドラ。
type Handler struct {
	svc *Service
	log logx.Logger
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(svc *Service, log logx.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register はルーターグループにエンドポイントを登録する。
func (h *Handler) Register(rg *gin.RouterGroup) {
	// メンテナンス告知
	rg.GET("/system-maintenance", h.handleListMaintenance())
	rg.GET("/system-maintenance/latest", h.handleLatestMaintenance())
	// パッチノート
	rg.GET("/patch-notes", h.handleListPatchNotes())
	rg.GET("/patch-notes/latest", h.handleLatestPatchNote())
}

func (h *Handler) handleListMaintenance() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.svc.ListMaintenance(c.Request.Context())
		if err != nil {
			h.log.Error("maintenance list failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンテナンス告知の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleLatestMaintenance は該当が無い場合にnullを返す。
func (h *Handler) handleLatestMaintenance() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := h.svc.LatestMaintenance(c.Request.Context())
		if err != nil {
			h.log.Error("latest maintenance failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンテナンス告知の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

func (h *Handler) handleListPatchNotes() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.svc.ListPatchNotes(c.Request.Context())
		if err != nil {
			h.log.Error("patch note list failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パッチノートの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func (h *Handler) handleLatestPatchNote() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.svc.LatestPatchNote(c.Request.Context())
		if err != nil {
			h.log.Error("latest patch note failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パッチノートの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
