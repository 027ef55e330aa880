package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abelbrown/waitwiki/internal/otel"
)

// SetupRouter builds the gin engine.
func SetupRouter(h *Handler, events *otel.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestTiming(events), corsMiddleware())

	r.GET("/healthz", h.Liveness)

	api := r.Group("/api/v1")
	{
		api.GET("/card", h.Card)
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.PutSettings)
		api.GET("/stats", h.Stats)
	}
	return r
}

// RequestTiming emits one api.request event per request.
func RequestTiming(events *otel.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := otel.Event{
			Level: otel.LevelDebug,
			Kind:  otel.KindRequest,
			Comp:  "api",
			Msg:   c.Request.Method + " " + c.FullPath(),
			Dur:   time.Since(start),
			Extra: map[string]any{"status": status},
		}
		if status >= 400 {
			ev.Level = otel.LevelWarn
			if len(c.Errors) > 0 {
				ev.Err = c.Errors.String()
			}
		}
		events.Emit(ev)
	}
}

// corsMiddleware lets a browser extension page call the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
