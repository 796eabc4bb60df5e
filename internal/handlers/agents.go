package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prepos/internal/agents"
	"prepos/internal/analysis"
	"prepos/internal/middleware"
)

type analyzeRequest struct {
	AttemptID string `json:"attemptId" binding:"required"`
}

type analyzeResponse struct {
	JobID   string          `json:"jobId"`
	Status  analysis.Status `json:"status"`
	Message string          `json:"message"`
}

// Analyze starts the agent pipeline for one of the caller's attempts. The
// attempt id doubles as the job id.
func (h *Handler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", "attemptId is required")
		return
	}

	attempt, userID, ok := h.loadOwnedAttempt(c, req.AttemptID)
	if !ok {
		return
	}

	job, err := h.analysis.Start(c.Request.Context(), attempt.ID, attempt, userID)
	if err != nil {
		h.logger.Error("failed to start analysis", zap.String("attempt_id", attempt.ID), zap.Error(err))
		abort(c, http.StatusInternalServerError, "ANALYSIS_START_FAILED", "Failed to start analysis")
		return
	}

	c.JSON(http.StatusAccepted, analyzeResponse{
		JobID:   job.JobID,
		Status:  job.Status,
		Message: "Analysis started",
	})
}

// JobStatus returns the live or persisted state of a job
func (h *Handler) JobStatus(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) loadOwnedJob(c *gin.Context) (*analysis.Job, bool) {
	userID, _ := middleware.GetUserID(c)
	jobID := c.Param("jobId")

	job, err := h.analysis.Status(c.Request.Context(), jobID)
	if errors.Is(err, analysis.ErrJobNotFound) {
		abort(c, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load job", zap.String("job_id", jobID), zap.Error(err))
		abort(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job")
		return nil, false
	}
	if job.UserID != "" && job.UserID != userID {
		abort(c, http.StatusForbidden, "FORBIDDEN", "Not your analysis")
		return nil, false
	}
	return job, true
}

type tutorChatRequest struct {
	AttemptID     string `json:"attemptId" binding:"required"`
	QuestionIndex *int   `json:"questionIndex" binding:"required"`
	UserMessage   string `json:"userMessage"`
}

type tutorChatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Topic    string `json:"topic"`
}

// TutorChat explains one response of an attempt on demand
func (h *Handler) TutorChat(c *gin.Context) {
	var req tutorChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", "attemptId and questionIndex are required")
		return
	}

	attempt, _, ok := h.loadOwnedAttempt(c, req.AttemptID)
	if !ok {
		return
	}

	idx := *req.QuestionIndex
	if idx < 0 || idx >= len(attempt.Responses) {
		abort(c, http.StatusBadRequest, "INVALID_QUESTION_INDEX", "Invalid question index")
		return
	}

	reply := h.tutor.ExplainQuestion(c.Request.Context(), attempt.Responses[idx], req.UserMessage)
	c.JSON(http.StatusOK, tutorChatResponse{
		Success:  reply.Status == agents.ResultSuccess,
		Response: reply.Explanation,
		Topic:    reply.Topic,
	})
}
