package router

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-cbt/internal/middleware"
)

func TestCompressionConfig(t *testing.T) {
	cfg := compressionConfig()
	if cfg.Quality != middleware.DefaultBrotliConfig.Quality {
		t.Errorf("Quality = %d, want %d", cfg.Quality, middleware.DefaultBrotliConfig.Quality)
	}
	if cfg.MinLength != middleware.DefaultBrotliConfig.MinLength {
		t.Errorf("MinLength = %d, want %d", cfg.MinLength, middleware.DefaultBrotliConfig.MinLength)
	}

	tests := []struct {
		path string
		skip bool
	}{
		{"/metrics", true},
		{"/ws/v1/sessions/abc/stream", true},
		{"/api/v1/tests", false},
		{"/health", false},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", tt.path, nil)
		if got := cfg.Skipper(c); got != tt.skip {
			t.Errorf("Skipper(%s) = %v, want %v", tt.path, got, tt.skip)
		}
	}
}
