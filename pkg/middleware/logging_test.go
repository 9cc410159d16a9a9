package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/brgyportal/announce/pkg/httpclient"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
)

// TestRequestLogger はRequestLoggerミドルウェアを検証する。
func TestRequestLogger(t *testing.T) {
	t.Parallel()

	t.Run("リクエストIDが採番されコンテキストに伝播されること", func(t *testing.T) {
		t.Parallel()

		var fromCtx string
		router := gin.New()
		router.Use(RequestLogger(logx.Nop(), nil))
		router.GET("/items/:id", func(c *gin.Context) {
			fromCtx, _ = httpclient.RequestIDFrom(c.Request.Context())
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/1", nil))

		got := w.Header().Get(httpclient.HeaderRequestID)
		if got == "" {
			t.Fatal("X-Request-IDが設定されていない")
		}
		if fromCtx != got {
			t.Errorf("コンテキストのリクエストID = %q, want %q", fromCtx, got)
		}
	})

	t.Run("受信したリクエストIDを引き継ぐこと", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequestLogger(logx.Nop(), nil))
		router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set(httpclient.HeaderRequestID, "upstream-id")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get(httpclient.HeaderRequestID); got != "upstream-id" {
			t.Errorf("X-Request-ID = %q, want %q", got, "upstream-id")
		}
	})

	t.Run("ルートテンプレートとステータスがログとメトリクスに記録されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		m := metrics.New("test")
		router := gin.New()
		router.Use(RequestLogger(logx.NewWithWriter(logx.Config{Level: "debug"}, &buf), m))
		router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))

		out := buf.String()
		for _, want := range []string{`"route":"/items/:id"`, `"status":404`, `"level":"warn"`} {
			if !strings.Contains(out, want) {
				t.Errorf("ログに %s が含まれない: %s", want, out)
			}
		}
		mw := httptest.NewRecorder()
		m.Handler().ServeHTTP(mw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		want := `announce_http_requests_total{method="GET",route="/items/:id",service="test",status="404"} 1`
		if !strings.Contains(mw.Body.String(), want) {
			t.Errorf("メトリクスに %s が含まれない", want)
		}
	})
}

// TestRateLimitBehavior はRateLimitミドルウェアを検証する。
func TestRateLimitBehavior(t *testing.T) {
	t.Parallel()

	t.Run("バーストを超えると429が返ること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RateLimit(0.001, 2))
		router.POST("/hook", func(c *gin.Context) { c.Status(http.StatusCreated) })

		codes := make([]int, 0, 3)
		for range 3 {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))
			codes = append(codes, w.Code)
		}
		want := []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}
		for i := range want {
			if codes[i] != want[i] {
				t.Errorf("codes[%d] = %d, want %d", i, codes[i], want[i])
			}
		}
	})

	t.Run("429にRetry-Afterヘッダーが付くこと", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RateLimit(0.5, 1))
		router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if got := w.Header().Get("Retry-After"); got != "2" {
			t.Errorf("Retry-After = %q, want %q", got, "2")
		}
	})

	t.Run("レートが0以下の場合は制限しないこと", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RateLimit(0, 0))
		router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

		for i := range 50 {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			if w.Code != http.StatusOK {
				t.Fatalf("%d回目のステータスコード = %d, want %d", i, w.Code, http.StatusOK)
			}
		}
	})
}
