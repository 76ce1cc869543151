package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/events"
	"github.com/example/barsight/internal/repository"
	"github.com/example/barsight/internal/usecase"
)

// MaxUploadSize is the default upload limit for POST /scan.
const MaxUploadSize = 10 << 20

// ScanService is the interactive scan flow.
type ScanService interface {
	ScanImage(ctx context.Context, userID, filename string, imageBytes []byte) (*usecase.ScanResult, error)
	GetResult(ctx context.Context, requestID string) (*usecase.ScanResult, error)
	GetDuplicateReport(ctx context.Context, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// PipelineService starts batch runs and reports on the ones this process owns.
type PipelineService interface {
	Start(ctx context.Context, trigger string) (string, error)
	Lookup(runID string) (*repository.PipelineRun, bool)
}

// RunStore reads persisted pipeline history.
type RunStore interface {
	FindRun(ctx context.Context, runID string) (*repository.PipelineRun, error)
	LatestReports(ctx context.Context, limit int) ([]repository.EvaluationReport, error)
}

// EventSource feeds the websocket stream.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
}

// Dependencies bundles what the routes need.
type Dependencies struct {
	Scans    ScanService
	Pipeline PipelineService
	Runs     RunStore
	Events   EventSource
	// Auth guards the /api group.
	Auth gin.HandlerFunc
	// RunContext outlives requests; background runs are started with it.
	RunContext     context.Context
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type server struct {
	deps   Dependencies
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = MaxUploadSize
	}
	if deps.RunContext == nil {
		deps.RunContext = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &server{deps: deps, logger: deps.Logger.Named("http")}

	router.SetHTMLTemplate(pages)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/", s.uploadForm)
	router.POST("/scan", s.scanUpload)
	router.GET("/scan/:id", s.scanResult)
	router.GET("/scan/:id/csv", s.scanCSV)

	api := router.Group("/api")
	if deps.Auth != nil {
		api.Use(deps.Auth)
	}
	api.POST("/pipeline/runs", s.startRun)
	api.GET("/pipeline/runs/:id", s.getRun)
	api.GET("/metrics", s.metrics)
	api.GET("/reports", s.reports)
	api.GET("/scans/:id/duplicates", s.duplicates)

	if deps.Events != nil {
		router.GET("/ws/events", s.eventStream)
	}
}
