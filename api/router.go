package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP surface shared by the browser extension, the mobile app and the web UI.
func NewRouter(authToken string, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/api/health", h.Health)

	v := r.Group("/api")
	v.Use(Auth(authToken))
	{
		v.POST("/queue", h.Submit)
		v.GET("/queue", h.ListQueue)
		v.DELETE("/queue/item", h.DeleteQueueItem)
		v.DELETE("/queue", h.ClearQueue)

		v.GET("/ids", h.IDs)
		v.GET("/ids/count", h.IDCount)
		v.GET("/urls", h.URLs)
		v.GET("/urls/count", h.URLCount)
		v.GET("/export", h.Export)
		v.POST("/import", h.Import)

		v.GET("/logs", h.Logs)
		v.GET("/events", h.Events)
	}
	return r
}
