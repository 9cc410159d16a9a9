package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestRateLimit はレート制限ミドルウェアを検証する。
func TestRateLimit(t *testing.T) {
	t.Parallel()

	newRouter := func(perSec float64, burst int) *gin.Engine {
		router := gin.New()
		router.Use(RateLimit(perSec, burst))
		router.GET("/test", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return router
	}
	hit := func(router *gin.Engine) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		return w
	}

	t.Run("バースト超過で429とRetry-Afterが返ること", func(t *testing.T) {
		t.Parallel()

		router := newRouter(0.01, 2)
		for i := 0; i < 2; i++ {
			if w := hit(router); w.Code != http.StatusNoContent {
				t.Fatalf("%d回目のステータスコード = %d, want %d", i+1, w.Code, http.StatusNoContent)
			}
		}
		w := hit(router)
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if got := w.Header().Get("Retry-After"); got != "100" {
			t.Errorf("Retry-After = %q, want %q", got, "100")
		}
	})

	t.Run("perSecが0以下なら制限しないこと", func(t *testing.T) {
		t.Parallel()

		router := newRouter(0, 0)
		for i := 0; i < 50; i++ {
			if w := hit(router); w.Code != http.StatusNoContent {
				t.Fatalf("%d回目のステータスコード = %d, want %d", i+1, w.Code, http.StatusNoContent)
			}
		}
	})
}
