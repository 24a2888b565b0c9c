package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newAuth(t *testing.T) *service.AuthService {
	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour, BcryptCost: 4}
	return service.NewAuthService(nil, cfg, newRedis(t), zerolog.Nop())
}

func token(t *testing.T, auth *service.AuthService, id int, role model.Role) string {
	t.Helper()
	tok, _, err := auth.GenerateToken(context.Background(), &model.User{ID: id, Role: role})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func protected(auth *service.AuthService, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	chain := append([]gin.HandlerFunc{RequireAuth(auth), CheckActiveSession(auth)}, extra...)
	chain = append(chain, func(c *gin.Context) {
		c.String(http.StatusOK, "%d", GetClaims(c).UserID)
	})
	r.GET("/x", chain...)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	auth := newAuth(t)
	r := protected(auth)
	tok := token(t, auth, 7, model.RoleStudent)

	tests := []struct {
		name   string
		mutate func(req *http.Request)
		want   int
		code   string
	}{
		{"header", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+tok) }, http.StatusOK, ""},
		{"query", func(req *http.Request) { req.URL.RawQuery = "token=" + tok }, http.StatusOK, ""},
		{"missing", func(req *http.Request) {}, http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"garbage", func(req *http.Request) { req.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, "TOKEN_INVALID"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			tc.mutate(req)
			w := do(r, req)
			if w.Code != tc.want || !strings.Contains(w.Body.String(), tc.code) {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
}

func TestReplacedSessionIsRejected(t *testing.T) {
	auth := newAuth(t)
	r := protected(auth)
	old := token(t, auth, 7, model.RoleStudent)
	_ = token(t, auth, 7, model.RoleStudent)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+old)
	w := do(r, req)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), "SESSION_INVALIDATED") {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRoleGuards(t *testing.T) {
	auth := newAuth(t)
	staff := protected(auth, RequireStaff())
	admins := protected(auth, RequireRole(model.RoleAdmin))

	tests := []struct {
		name string
		r    *gin.Engine
		id   int
		role model.Role
		want int
	}{
		{"student on staff route", staff, 1, model.RoleStudent, http.StatusForbidden},
		{"teacher on staff route", staff, 2, model.RoleTeacher, http.StatusOK},
		{"admin on staff route", staff, 3, model.RoleAdmin, http.StatusOK},
		{"teacher on admin route", admins, 4, model.RoleTeacher, http.StatusForbidden},
		{"admin on admin route", admins, 5, model.RoleAdmin, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Authorization", "Bearer "+token(t, auth, tc.id, tc.role))
			if w := do(tc.r, req); w.Code != tc.want {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(newRedis(t), "login", 2, time.Minute)
	r := gin.New()
	r.POST("/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":1234"
		return do(r, req).Code
	}

	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1"); code != http.StatusNoContent {
			t.Fatalf("request %d: %d", i+1, code)
		}
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("third request: %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusNoContent {
		t.Fatalf("other client: %d", code)
	}
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/x", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := do(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q", got)
	}
}

func TestBrotli(t *testing.T) {
	large := strings.Repeat("question ", 500)
	r := gin.New()
	r.Use(Brotli())
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=1.0")
	w := do(r, req)
	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("large body not compressed: %v", w.Header())
	}
	body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil || string(body) != large {
		t.Fatalf("decoded %d bytes, err=%v", len(body), err)
	}

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = do(r, req)
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
		t.Fatalf("small body: enc=%q body=%q", w.Header().Get("Content-Encoding"), w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/large", nil)
	w = do(r, req)
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != large {
		t.Fatal("compressed for a client without br")
	}
}
