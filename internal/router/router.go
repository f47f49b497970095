package router

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.message/internal/config"
	"sudooom.im.message/internal/handler"
	"sudooom.im.message/internal/middleware"
	"sudooom.im.message/pkg/jwt"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, conversationHandler *handler.ConversationHandler) *gin.Engine {
	gin.SetMode(cfg.HTTP.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	v1 := r.Group("/api/v1")
	if cfg.Auth.Mode == "header" {
		v1.Use(middleware.HeaderAuth())
	} else {
		v1.Use(middleware.JWTAuth(jwt.NewVerifier(cfg.Auth.JWTSecret)))
	}
	{
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", conversationHandler.ListConversations)
			conversations.GET("/:id/messages", conversationHandler.GetHistory)
			conversations.POST("/:id/read", conversationHandler.ClearUnread)
			conversations.PUT("/:id/preference", conversationHandler.UpdatePreference)
		}
		v1.GET("/unread", conversationHandler.GetUnreadCounts)
	}

	return r
}
