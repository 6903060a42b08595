package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/middlewares"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/redis/go-redis/v9"
)

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCorrelationIdIsReusedOrMinted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen, _ = utils.GetCorrelationIdFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(middlewares.CorrelationHeader, "abc-123")
	w := serve(r, req)
	if seen != "abc-123" || w.Header().Get(middlewares.CorrelationHeader) != "abc-123" {
		t.Fatalf("seen %q header %q", seen, w.Header().Get(middlewares.CorrelationHeader))
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if seen == "" || seen == "abc-123" || w.Header().Get(middlewares.CorrelationHeader) != seen {
		t.Fatalf("minted %q header %q", seen, w.Header().Get(middlewares.CorrelationHeader))
	}
}

func TestReadinessGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ready := false
	r := gin.New()
	r.Use(middlewares.ReadinessMiddleware(func() bool { return ready }))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/api/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil)); w.Code != http.StatusNoContent {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/x", nil)); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready: %d", w.Code)
	}
	ready = true
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/x", nil)); w.Code != http.StatusOK {
		t.Fatalf("ready: %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := []byte("s3cret")
	r := gin.New()
	r.Use(middlewares.AuthMiddleware(secret))
	r.GET("/open", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/private", middlewares.RequireActor(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": middlewares.ActorId(c)})
	})

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/open", nil)); w.Code != http.StatusOK {
		t.Fatalf("open: %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/private", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("private without token: %d", w.Code)
	}

	other, _ := utils.JwtGenerate([]byte("other"), 7, "auditor", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	if w := serve(r, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("foreign signature: %d", w.Code)
	}

	expired, _ := utils.JwtGenerate(secret, 7, "auditor", -time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	if w := serve(r, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expired: %d", w.Code)
	}

	good, _ := utils.JwtGenerate(secret, 7, "auditor", time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+good)
	w := serve(r, req)
	if w.Code != http.StatusOK || w.Body.String() != `{"actor":7}` {
		t.Fatalf("good token: %d %s", w.Code, w.Body.String())
	}
}

func TestRateLimiterPassesWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := middlewares.NewRateLimiter(func() *redis.Client { return nil }, 1, time.Minute)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		if w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
}
