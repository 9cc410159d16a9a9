package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newGuardedRouter はAdminAuthを適用したテスト用ルーターを返す。
func newGuardedRouter(secret string, captured *string) *gin.Engine {
	router := gin.New()
	router.Use(AdminAuth(secret))
	router.GET("/admin", func(c *gin.Context) {
		if captured != nil {
			*captured = GetSubject(c)
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("正常にJWTトークンを生成できること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		tokenStr, err := GenerateJWT(testSecret, "admin-1", "admin", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		})
		if err != nil || !token.Valid {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if claims.Subject != "admin-1" {
			t.Errorf("Subject = %q, want %q", claims.Subject, "admin-1")
		}
		if claims.Role != "admin" {
			t.Errorf("Role = %q, want %q", claims.Role, "admin")
		}
		if claims.Issuer != tokenIssuer {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, tokenIssuer)
		}
		if token.Method.Alg() != "HS256" {
			t.Errorf("署名アルゴリズム = %q, want %q", token.Method.Alg(), "HS256")
		}
		expected := before.Add(time.Hour)
		if d := claims.ExpiresAt.Time.Sub(expected); d < -time.Minute || d > time.Minute {
			t.Errorf("ExpiresAt = %v, want about %v", claims.ExpiresAt.Time, expected)
		}
	})

	t.Run("シークレットが空の場合エラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := GenerateJWT("", "admin-1", "admin", time.Hour); err == nil {
			t.Fatal("GenerateJWT()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestAdminAuth はAdminAuthミドルウェアを検証する。
func TestAdminAuth(t *testing.T) {
	t.Parallel()

	valid, err := GenerateJWT(testSecret, "admin-ok", "admin", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	expired, err := GenerateJWT(testSecret, "admin-old", "admin", -time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	otherSecret, err := GenerateJWT("another-secret", "admin-x", "admin", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-foreign",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignIssuer, err := foreign.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "有効なトークンでリクエストが成功すること", header: "Bearer " + valid, want: http.StatusOK},
		{name: "Authorizationヘッダーが無い場合401が返ること", header: "", want: http.StatusUnauthorized},
		{name: "Bearer接頭辞が無い場合401が返ること", header: valid, want: http.StatusUnauthorized},
		{name: "不正な形式のトークンで401が返ること", header: "Bearer not-a-token", want: http.StatusUnauthorized},
		{name: "期限切れトークンで401が返ること", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "異なるシークレットのトークンで401が返ること", header: "Bearer " + otherSecret, want: http.StatusUnauthorized},
		{name: "発行者が異なるトークンで401が返ること", header: "Bearer " + foreignIssuer, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newGuardedRouter(testSecret, nil).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.want)
			}
		})
	}

	t.Run("検証に成功した場合subjectが取得できること", func(t *testing.T) {
		t.Parallel()

		var subject string
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		w := httptest.NewRecorder()
		newGuardedRouter(testSecret, &subject).ServeHTTP(w, req)

		if subject != "admin-ok" {
			t.Errorf("subject = %q, want %q", subject, "admin-ok")
		}
	})

	t.Run("シークレットが空の場合はガードが無効になること", func(t *testing.T) {
		t.Parallel()

		var subject string
		w := httptest.NewRecorder()
		newGuardedRouter("", &subject).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if subject != "" {
			t.Errorf("subject = %q, want empty", subject)
		}
	})
}

// TestAdminAuthQueryToken はクエリパラメータでのトークン受け渡しを検証する。
func TestAdminAuthQueryToken(t *testing.T) {
	t.Parallel()

	token, err := GenerateJWT(testSecret, "admin-7", "admin", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}

	newRouter := func(opts ...AdminAuthOption) (*gin.Engine, *string) {
		var subject string
		router := gin.New()
		router.GET("/stream", AdminAuth(testSecret, opts...), func(c *gin.Context) {
			subject = GetSubject(c)
			c.Status(http.StatusOK)
		})
		return router, &subject
	}

	t.Run("オプション有りならクエリのトークンで認証できること", func(t *testing.T) {
		t.Parallel()

		router, subject := newRouter(WithQueryToken("access_token"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream?access_token="+token, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if *subject != "admin-7" {
			t.Errorf("subject = %q, want %q", *subject, "admin-7")
		}
	})

	t.Run("オプション無しならクエリのトークンは無視されること", func(t *testing.T) {
		t.Parallel()

		router, _ := newRouter()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream?access_token="+token, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("ヘッダーがあればクエリより優先されること", func(t *testing.T) {
		t.Parallel()

		router, _ := newRouter(WithQueryToken("access_token"))
		req := httptest.NewRequest(http.MethodGet, "/stream?access_token="+token, nil)
		req.Header.Set("Authorization", "Bearer invalid")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("クエリのトークンが不正なら401", func(t *testing.T) {
		t.Parallel()

		router, _ := newRouter(WithQueryToken("access_token"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream?access_token=garbage", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}
