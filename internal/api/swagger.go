package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"kepler-vision-go/docs"
)

func (s *Server) setupSwagger() {
	docs.SwaggerInfo.Version = s.config.Version
	if s.config.SwaggerHost != "" {
		docs.SwaggerInfo.Host = s.config.SwaggerHost
	}

	s.router.GET("/api/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"title":       docs.SwaggerInfo.Title,
			"version":     s.config.Version,
			"description": docs.SwaggerInfo.Description,
			"swagger_ui":  "/docs/index.html",
			"endpoints": gin.H{
				"health":  "/api/v1/health",
				"jobs":    "/api/v1/jobs",
				"metrics": "/api/v1/metrics/jobs",
				"prom":    "/metrics",
				"system":  "/system/stats",
			},
			"worker_id": s.config.WorkerID,
			"port":      s.config.Port,
		})
	})

	s.router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
