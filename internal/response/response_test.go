package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFailEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) {
		Fail(c, http.StatusConflict, ErrSessionNotActive)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == nil || body.Error.Code != ErrSessionNotActive {
		t.Fatalf("error = %+v, want SESSION_NOT_ACTIVE", body.Error)
	}
	if body.Metadata.RequestID == "" || body.Metadata.RequestID == "not-a-uuid" {
		t.Errorf("request id = %q, want a generated UUID", body.Metadata.RequestID)
	}
	if got := w.Header().Get("X-Request-ID"); got != body.Metadata.RequestID {
		t.Errorf("header request id = %q, body = %q", got, body.Metadata.RequestID)
	}
}
