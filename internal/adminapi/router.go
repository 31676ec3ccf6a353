package adminapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterConfig assembles the admin surface's route groups. Nil-able
// handler/middleware fields, so a process can mount only the pieces it
// wants traced or guarded.
type RouterConfig struct {
	Handlers *Handlers
	Auth     *AuthMiddleware

	// Metrics, when set, is mounted at GET /metrics (Prometheus text
	// exposition).
	Metrics http.Handler

	// ServiceName labels the otelgin middleware's spans.
	ServiceName string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	if cfg.Handlers == nil {
		return r
	}

	api := r.Group("/")
	{
		api.GET("/workflows", cfg.Handlers.ListWorkflows)
		api.GET("/workflows/:workflowID/jobs/:jobID", cfg.Handlers.GetJob)
	}

	protected := api.Group("/")
	if cfg.Auth != nil {
		protected.Use(cfg.Auth.RequireAuth())
	}
	{
		protected.POST("/workflows/:workflowID/pause", cfg.Handlers.PauseWorker)
		protected.POST("/workflows/:workflowID/stop", cfg.Handlers.StopWorker)
	}

	return r
}
