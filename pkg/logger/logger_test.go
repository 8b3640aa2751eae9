package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/v1/softphone", func(c *gin.Context) {
		if From(c.Request.Context()) == nil {
			t.Fatalf("expected logger in request context")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/softphone", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected request id header")
	}
	out := buf.String()
	if !strings.Contains(out, `"path":"/v1/softphone"`) || !strings.Contains(out, `"status":204`) {
		t.Fatalf("unexpected log line %s", out)
	}
}

func TestFromFallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}

func TestDebugOnlyInDevelopment(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "production").Debug("hidden")
	NewWithWriter(&buf, "dev").Debug("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected levels %s", buf.String())
	}
}
