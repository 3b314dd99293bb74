package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{[]string{"*"}, "https://x.example", true},
		{[]string{"https://a.example"}, "https://A.example", true},
		{[]string{"https://a.example"}, "https://b.example", false},
		{nil, "", true},
		{nil, "https://a.example", false},
	}
	for _, tt := range tests {
		if got := OriginAllowed(tt.allowed, tt.origin); got != tt.want {
			t.Errorf("OriginAllowed(%v, %q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(CORS([]string{"https://a.example"}))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://a.example")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://a.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestRateLimit_PerIPAndPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(rate.Every(time.Hour), 2, time.Minute)
	engine := gin.New()
	engine.Use(rl.Middleware())
	engine.GET("/a", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/b", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(path, remote string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}
	for i := 0; i < 2; i++ {
		if code := hit("/a", "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, code)
		}
	}
	if code := hit("/a", "10.0.0.1:5678"); code != http.StatusTooManyRequests {
		t.Errorf("third request: got %d, want 429", code)
	}
	if code := hit("/b", "10.0.0.1:1234"); code != http.StatusOK {
		t.Errorf("other path: got %d, want 200", code)
	}
	if code := hit("/a", "10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("other ip: got %d, want 200", code)
	}
}

func TestRateLimit_Sweep(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1, time.Minute)
	rl.get("k")
	rl.sweep(time.Now().Add(2 * time.Minute))
	if len(rl.m) != 0 {
		t.Errorf("sweep left %d keys", len(rl.m))
	}
}
