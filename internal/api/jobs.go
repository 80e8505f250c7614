package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const embedJobTimeout = 30 * time.Minute

func (s *Server) handleEmbedGrants(c echo.Context) error {
	if s.indexer == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "embedding backend is not configured")
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "A background job is already running",
			"job_id": job.ID,
		})
	}

	limit := 500
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 5000 {
			limit = parsed
		}
	}
	force, _ := strconv.ParseBool(c.QueryParam("force"))

	// The job outlives the HTTP request but keeps its values.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), embedJobTimeout,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Kind:      "embed-grants",
		Status:    "running",
		StartedAt: s.now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	logger := s.logger.With(zap.String("job_id", jobID))
	go func() {
		defer jobCancel()
		report, err := s.indexer.Run(jobCtx, force, limit)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = s.now()
		job.Result = report
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			logger.Error("embedding job failed", zap.Error(err))
			return
		}
		job.Status = "completed"
		logger.Info("embedding job completed", zap.Int("embedded", report.Embedded), zap.Int("failed", report.Failed))
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Embedding job started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return errorJSON(c, http.StatusNotFound, "job not found")
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"kind":       job.Kind,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}
