package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/httpapi/handlers"
	"github.com/suPer8Hu/worldline/internal/httpapi/middleware"
	"github.com/suPer8Hu/worldline/internal/simulation"
)

func NewRouter(sim *simulation.Service, corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(corsConfig(corsOrigins))

	r.NoRoute(func(c *gin.Context) {
		apperr.Respond(c, nil, apperr.NotFound("route not found"))
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 1, "message": "method not allowed", "data": nil})
	})

	h := handlers.NewHandler(sim)

	r.GET("/ping", func(c *gin.Context) { apperr.Respond(c, gin.H{"status": "ok"}, nil) })

	api := r.Group("/api")

	api.POST("/session/create", h.CreateSession)
	api.GET("/session/:id", h.GetSessionOrHistory)
	api.POST("/session/:id/start", h.StartSession)
	api.POST("/session/:id/pause", h.PauseSession)
	api.POST("/session/:id/resume", h.ResumeSession)
	api.PATCH("/session/:id/settings", h.UpdateSessionSettings)

	api.POST("/provider/:id/set", h.SetProvider)
	api.GET("/provider/:id/models", h.ListProviderModels)
	api.POST("/provider/:id/select-model", h.SelectProviderModel)
	api.GET("/provider/:id/current", h.GetProviderCurrent)

	api.GET("/branch/:id", h.GetBranches)
	api.POST("/branch/:id/fork", h.ForkBranch)
	api.POST("/branch/:id/switch", h.SwitchBranch)

	api.GET("/timeline/:id", h.GetTimeline)
	api.DELETE("/message/:id/last", h.DeleteLastMessage)
	api.PATCH("/message/:id/:message_id", h.EditMessage)
	api.POST("/intervention/:id", h.CreateIntervention)

	api.GET("/debug/settings", h.GetDebugSettings)
	api.PATCH("/debug/settings", h.PatchDebugSettings)

	return r
}

func corsConfig(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Content-Type", "Authorization", "Idempotency-Key"}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
