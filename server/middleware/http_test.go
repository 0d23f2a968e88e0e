package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/server/middleware"
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine(log *logger.Logger) *gin.Engine {
	e := gin.New()
	e.Use(middleware.Recovery(log), middleware.RequestLogger(log))
	e.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	e.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	e.GET("/panic", func(*gin.Context) { panic("test panic") })
	return e
}

func TestRecovery_NoPanic(t *testing.T) {
	rr := httptest.NewRecorder()
	newEngine(logger.NewNop()).ServeHTTP(rr, httptest.NewRequest("GET", "/ok", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRecovery_Panic(t *testing.T) {
	rr := httptest.NewRecorder()
	newEngine(logger.NewNop()).ServeHTTP(rr, httptest.NewRequest("GET", "/panic", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body["error"] != "Internal server error" {
		t.Fatalf("unexpected error message: %s", body["error"])
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: "info", Format: logger.FormatJSON, Writer: &buf}, "test")
	e := newEngine(log)

	for _, path := range []string{"/health", "/ok", "/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, http.NoBody))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected health probe below info level, got %d lines: %v", len(lines), lines)
	}
	var first, second map[string]interface{}
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["path"] != "/ok" || first["level"] != "info" {
		t.Errorf("unexpected record %v", first)
	}
	if second["path"] != "/missing" || second["level"] != "warn" {
		t.Errorf("unexpected record %v", second)
	}
}
