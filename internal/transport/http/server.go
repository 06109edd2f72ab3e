package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "docpipe/internal/app"
	"docpipe/internal/bootstrap"
	"docpipe/internal/repository"
	"docpipe/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = 8 << 20

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	docRepo := repository.NewDocumentRepository(app.MySQL)
	chunkRepo := repository.NewChunkRepository(app.MySQL)
	ingestService := appsvc.NewIngestService(docRepo, app.Queue, appsvc.IngestConfig{
		UploadDir:         app.Config.Pipeline.UploadDir,
		MaxFileSize:       app.Config.MaxFileSizeBytes(),
		ProcessingQueue:   app.Config.Pipeline.ProcessingQueue,
		ProcessingTimeout: time.Duration(app.Config.Pipeline.ProcessingTimeoutMinutes) * time.Minute,
		JobRetention:      time.Duration(app.Config.Pipeline.RetentionHours) * time.Hour,
	})
	queryService := appsvc.NewQueryService(docRepo, chunkRepo, app.Vector, app.Embedder, app.Queue)
	docHandler := handler.NewDocumentHandler(ingestService, queryService)

	v1 := router.Group("/api/v1")
	v1.POST("/ingest", docHandler.Ingest)
	v1.POST("/query", docHandler.Query)
	v1.GET("/documents", docHandler.List)
	v1.GET("/documents/:id", docHandler.Get)
	v1.GET("/jobs/:id", docHandler.JobStatus)
	v1.GET("/queues/:name/stats", docHandler.QueueStats)

	return router
}
