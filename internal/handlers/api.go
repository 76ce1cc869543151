package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/auth"
	"github.com/example/barsight/internal/pipeline"
	"github.com/example/barsight/internal/repository"
)

const (
	defaultReportLimit = 10
	maxReportLimit     = 100
)

func (s *server) startRun(c *gin.Context) {
	trigger := "api"
	if operator, ok := auth.GetOperator(c.Request.Context()); ok {
		trigger = "api:" + operator
	}

	runID, err := s.deps.Pipeline.Start(s.deps.RunContext, trigger)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "a pipeline run is already in progress"})
			return
		}
		s.logger.Error("failed to start pipeline", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start pipeline"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": pipeline.StatusRunning})
}

func (s *server) getRun(c *gin.Context) {
	runID := c.Param("id")
	if run, ok := s.deps.Pipeline.Lookup(runID); ok {
		c.JSON(http.StatusOK, run)
		return
	}

	run, err := s.deps.Runs.FindRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		s.logger.Error("failed to load run", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *server) metrics(c *gin.Context) {
	summary, err := s.deps.Scans.GetMetricsSummary(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *server) reports(c *gin.Context) {
	limit := defaultReportLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxReportLimit)
	}

	reports, err := s.deps.Runs.LatestReports(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *server) duplicates(c *gin.Context) {
	requestID := c.Param("id")
	report, err := s.deps.Scans.GetDuplicateReport(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
			return
		}
		s.logger.Error("failed to build duplicate report", zap.String("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build duplicate report"})
		return
	}

	ids := make([]string, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		ids = append(ids, d.RequestID)
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id":      report.Request.RequestID,
		"sha1_hash":       report.Request.SHA1Hash,
		"duplicate_count": len(ids),
		"duplicates":      ids,
	})
}
