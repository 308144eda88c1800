package server

import (
	"github.com/gin-gonic/gin"
)

// apiPrefixes are the mount points of the book API.
var apiPrefixes = []string{"/api", "/request/api"}

// NewRouter builds the gin engine. hub may be nil to disable the websocket feed.
func NewRouter(backend Backend, hub *Hub, corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logging())
	r.Use(CORS(corsOrigins))

	setupRoutes(r, NewBookHandler(backend), hub, NewHealthHandler())
	return r
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, books *BookHandler, hub *Hub, health *HealthHandler) {
	r.GET("/health", health.HealthCheck)

	for _, prefix := range apiPrefixes {
		apiGroup := r.Group(prefix)
		{
			apiGroup.GET("/search", books.Search)
			apiGroup.GET("/info", books.Info)
			apiGroup.GET("/download", books.Download)
			apiGroup.POST("/download", books.Download)
			apiGroup.GET("/status", books.Status)
			apiGroup.GET("/localdownload", books.LocalDownload)

			if hub != nil {
				apiGroup.GET("/ws/status", NewStatusFeedHandler(hub).Connect)
			}
		}
	}
}
