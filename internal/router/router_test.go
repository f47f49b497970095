package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"sudooom.im.message/internal/config"
	"sudooom.im.message/internal/handler"
	"sudooom.im.message/internal/middleware"
)

func TestSetupRouter_RequiresIdentity(t *testing.T) {
	tests := []struct {
		name string
		mode string
	}{
		{"jwt", "jwt"},
		{"header", "header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.HTTP.Mode = "test"
			cfg.Auth.Mode = tt.mode
			cfg.Auth.JWTSecret = "secret"

			r := SetupRouter(cfg, handler.NewConversationHandler(nil, nil))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unread", nil))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestSetupRouter_UnknownRoute(t *testing.T) {
	cfg := &config.Config{}
	cfg.HTTP.Mode = "test"
	cfg.Auth.Mode = "header"
	r := SetupRouter(cfg, handler.NewConversationHandler(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	req.Header.Set(middleware.HeaderUserID, "1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
