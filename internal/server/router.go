package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/selimacar/facetrack-backend/internal/handlers"
)

type RouterConfig struct {
	SubjectHandler  *handlers.SubjectHandler
	PipelineHandler *handlers.PipelineHandler
	JobsHandler     *handlers.JobsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/subjects", cfg.SubjectHandler.CreateSubject)
		api.POST("/subjects/:id/images", cfg.SubjectHandler.UploadImages)

		api.POST("/pipeline/batches/:number/process", cfg.PipelineHandler.ProcessBatch)
		api.GET("/pipeline/status", cfg.PipelineHandler.GetStatus)

		api.GET("/jobs", cfg.JobsHandler.ListJobs)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
	}

	return router
}
