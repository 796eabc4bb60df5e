package ai

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"prepos/internal/logging"
	"prepos/internal/metrics"
)

// Client wraps a Generator with rate limiting, a per-call timeout, retries
// with exponential backoff and structured output parsing.
type Client struct {
	gen     Generator
	limiter Limiter
	timeout time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// ClientOption customises a Client
type ClientOption func(*Client)

// WithCallTimeout overrides the per-call deadline
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoffSleeper replaces the sleep used between retries
func WithBackoffSleeper(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client. The limiter is shared with every other client
// that talks to the same provider account.
func NewClient(gen Generator, limiter Limiter, opts ...ClientOption) *Client {
	c := &Client{
		gen:     gen,
		limiter: limiter,
		timeout: DefaultCallTimeout,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Named(c.logger, "ai")
	return c
}

// Backoff returns the wait after the given 0-indexed failed attempt:
// 2^attempt + 0.5*attempt seconds.
func Backoff(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt)) + 0.5*float64(attempt)
	return time.Duration(secs * float64(time.Second))
}

// GenerateWithRetry performs req with up to req.MaxRetries attempts.
// Retryable failures back off and try again, non-retryable failures return
// immediately. Invalid JSON in JSON mode is not an error: the raw text comes
// back with ParseError set.
func (c *Client) GenerateWithRetry(ctx context.Context, req Request) (*Result, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	format := req.Format
	if format == "" {
		format = FormatJSON
	}

	var lastErr *Error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, &Error{Code: CodeCanceled, Message: "waiting for rate limit token", Err: err}
		}

		result, err := c.call(ctx, req, format)
		if err == nil {
			result.Attempts = attempt + 1
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, &Error{Code: CodeCanceled, Message: "request canceled", Err: ctx.Err()}
		}

		aiErr := Classify(err)
		if !aiErr.Retryable {
			c.logger.Error("non-retryable model error",
				zap.String("model", req.Model),
				zap.String("code", string(aiErr.Code)),
				zap.Error(aiErr))
			return nil, aiErr
		}

		lastErr = aiErr
		metrics.Get().RecordAIRetry(req.Model, string(aiErr.Code))
		c.logger.Warn("model call failed",
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.String("code", string(aiErr.Code)),
			zap.Error(aiErr))

		if attempt < maxRetries-1 {
			wait := Backoff(attempt)
			c.logger.Info("retrying model call", zap.Duration("wait", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, &Error{Code: CodeCanceled, Message: "backoff interrupted", Err: err}
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{Code: CodeRetriesExhausted, Message: "unknown error after retries"}
}

// call performs one attempt under the per-call timeout
func (c *Client) call(ctx context.Context, req Request, format Format) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	m := metrics.Get()
	m.AIRequestsInFlight.Inc()
	defer m.AIRequestsInFlight.Dec()

	c.logger.Info("calling model", zap.String("model", req.Model), zap.Int("prompt_chars", len(req.Prompt)))
	start := time.Now()

	resp, err := c.gen.Generate(callCtx, &GenerateRequest{
		Model:             req.Model,
		Prompt:            req.Prompt,
		SystemInstruction: req.SystemInstruction,
		Temperature:       req.Temperature,
		JSONMode:          format == FormatJSON,
	})
	duration := time.Since(start)

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = &Error{Code: CodeTimeout, Retryable: true,
				Message: "request timeout (" + c.timeout.String() + ")", Err: err}
		}
		m.RecordAIRequest(req.Model, string(Classify(err).Code), duration, 0, 0)
		return nil, err
	}

	var inTokens, outTokens int
	if resp.Usage != nil {
		inTokens, outTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}

	text := resp.Text
	if strings.TrimSpace(text) == "" {
		m.RecordAIRequest(req.Model, string(CodeEmptyResponse), duration, inTokens, outTokens)
		return nil, &Error{Code: CodeEmptyResponse, Retryable: true, Message: "empty response from Gemini"}
	}

	m.RecordAIRequest(req.Model, "success", duration, inTokens, outTokens)
	c.logger.Info("model response received",
		zap.String("model", req.Model),
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(text)))

	result := &Result{Text: text, Model: req.Model}
	if format != FormatJSON {
		return result, nil
	}

	var doc json.RawMessage
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		c.logger.Warn("model returned invalid JSON, passing raw text through",
			zap.String("model", req.Model),
			zap.Error(err),
			zap.String("preview", truncate(text, 300)))
		result.ParseError = err.Error()
		return result, nil
	}
	result.Data = doc
	return result, nil
}
