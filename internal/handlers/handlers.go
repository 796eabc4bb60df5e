// Package handlers exposes the analysis pipeline over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prepos/internal/agents"
	"prepos/internal/analysis"
	"prepos/internal/logging"
	"prepos/internal/middleware"
	"prepos/pkg/models"
)

// AttemptReader loads submitted attempts
type AttemptReader interface {
	GetAttempt(ctx context.Context, attemptID string) (*models.Attempt, error)
}

// AnalysisService starts and reports pipeline jobs
type AnalysisService interface {
	Start(ctx context.Context, jobID string, attempt *models.Attempt, userID string) (*analysis.Job, error)
	Status(ctx context.Context, jobID string) (*analysis.Job, error)
}

// Tutor answers questions about a single response
type Tutor interface {
	ExplainQuestion(ctx context.Context, resp models.Response, userMessage string) agents.ChatReply
}

// HealthCheck reports one dependency's health
type HealthCheck func(ctx context.Context) error

// Handler contains the dependencies for the agent routes
type Handler struct {
	attempts     AttemptReader
	analysis     AnalysisService
	tutor        Tutor
	checks       map[string]HealthCheck
	logger       *zap.Logger
	pollInterval time.Duration
	allowOrigin  func(r *http.Request) bool
}

// Option customises a Handler
type Option func(*Handler)

// WithHealthCheck adds a named dependency to /api/health
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// WithLogger sets the handler logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithPollInterval sets how often the stream checks for job changes
func WithPollInterval(d time.Duration) Option {
	return func(h *Handler) { h.pollInterval = d }
}

// WithAllowedOrigins restricts WebSocket upgrades to the given origins
func WithAllowedOrigins(origins ...string) Option {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(h *Handler) {
		h.allowOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
}

// NewHandler creates a new handler instance
func NewHandler(attempts AttemptReader, svc AnalysisService, tutor Tutor, opts ...Option) *Handler {
	h := &Handler{
		attempts:     attempts,
		analysis:     svc,
		tutor:        tutor,
		checks:       make(map[string]HealthCheck),
		pollInterval: 500 * time.Millisecond,
		allowOrigin:  func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.Named(h.logger, "handlers")
	return h
}

// RegisterRoutes mounts the health route and the agent routes behind auth
func (h *Handler) RegisterRoutes(api *gin.RouterGroup, auth gin.HandlerFunc) {
	api.GET("/health", h.Health)

	group := api.Group("/agents", auth)
	group.POST("/analyze", h.Analyze)
	group.GET("/status/:jobId", h.JobStatus)
	group.GET("/stream/:jobId", h.Stream)
	group.POST("/tutor/chat", h.TutorChat)
}

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: message, Code: code})
}

// loadOwnedAttempt fetches the attempt and checks it belongs to the caller
func (h *Handler) loadOwnedAttempt(c *gin.Context, attemptID string) (*models.Attempt, string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "NOT_AUTHENTICATED", "Not authenticated")
		return nil, "", false
	}

	attempt, err := h.attempts.GetAttempt(c.Request.Context(), attemptID)
	if errors.Is(err, models.ErrNotFound) {
		abort(c, http.StatusNotFound, "ATTEMPT_NOT_FOUND", "Attempt not found")
		return nil, "", false
	}
	if err != nil {
		h.logger.Error("failed to load attempt", zap.String("attempt_id", attemptID), zap.Error(err))
		abort(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load attempt")
		return nil, "", false
	}
	if attempt.UserID != userID {
		abort(c, http.StatusForbidden, "FORBIDDEN", "Not your attempt")
		return nil, "", false
	}
	return attempt, userID, true
}

// Health reports process liveness and each registered dependency
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
