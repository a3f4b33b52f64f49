package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("repository.upsert_verification", "req-1", base)

	if got := err.Error(); got != "repository.upsert_verification (request_id=req-1): boom" {
		t.Fatalf("unexpected message: %s", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestGinMiddlewareAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/ping", func(c *gin.Context) {
		if RequestID(c) == "" {
			t.Error("expected request id in context")
		}
		if RequestIDFromContext(c.Request.Context()) != RequestID(c) {
			t.Error("expected request id on request context")
		}
		c.Status(http.StatusNoContent)
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if resp.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one log entry, got %d", logs.Len())
	}
	if logs.All()[0].Message != "request served" {
		t.Fatalf("unexpected log message %q", logs.All()[0].Message)
	}
}

func TestGinMiddlewareKeepsIncomingRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(GinMiddleware(zap.NewNop()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if got := resp.Header().Get(RequestIDHeader); got != "abc" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestErrorFieldsLiftsOperation(t *testing.T) {
	err := NewOperationError("cache.del.status", "req-9", errors.New("down"))

	fields := ErrorFields(err)
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if fields[1].String != "cache.del.status" {
		t.Fatalf("unexpected operation field %q", fields[1].String)
	}
	if len(ErrorFields(errors.New("plain"))) != 1 {
		t.Fatal("expected only the error field for plain errors")
	}
}
