// Package server is the reference chat backend: a gin REST API for accounts,
// conversations and message persistence, plus a websocket hub for realtime
// fan-out and presence.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gigchat/gigchat/internal/auth"
	"github.com/gigchat/gigchat/internal/config"
	"github.com/gigchat/gigchat/internal/store"
)

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(hub *Hub, authService *auth.Service, st store.Store, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	handlers := NewAPIHandlers(authService, st, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, logger)))

	api := router.Group("/api")
	api.POST("/register", handlers.Register)
	api.POST("/login", handlers.Login)

	authed := api.Group("")
	authed.Use(AuthMiddleware(authService, logger))
	authed.GET("/contacts", handlers.Contacts)
	authed.GET("/conversations", handlers.Conversations)
	authed.GET("/conversations/:id/messages", handlers.ConversationMessages)
	authed.POST("/messages", handlers.SendMessage)

	return router
}

// NewServer builds the HTTP server around the router.
func NewServer(hub *Hub, authService *auth.Service, st store.Store, cfg config.Server, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, authService, st, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
