package agents

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"prepos/internal/ai"
	"prepos/internal/logging"
	"prepos/internal/metrics"
)

// Invoker is the retrying model client the agents call through
type Invoker interface {
	GenerateWithRetry(ctx context.Context, req ai.Request) (*ai.Result, error)
}

// Models selects the model used by each agent
type Models struct {
	Architect  string
	Detective  string
	Tutor      string
	Strategist string
	Chat       string
}

// ExamCalendar pins the yearly exam date and the day after which the
// roadmap targets next year's sitting instead.
type ExamCalendar struct {
	ExamMonth   time.Month
	ExamDay     int
	CutoffMonth time.Month
	CutoffDay   int
}

// DefaultExamCalendar approximates the CAT sitting in late November
var DefaultExamCalendar = ExamCalendar{
	ExamMonth:   time.November,
	ExamDay:     24,
	CutoffMonth: time.November,
	CutoffDay:   20,
}

// HistoryWindow controls how much of the previous roadmap the strategist sees
type HistoryWindow struct {
	Milestones int
	Weeks      int
}

// Config tunes a Runner
type Config struct {
	Models     Models
	MaxRetries int
	Exam       ExamCalendar
	History    HistoryWindow
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Models: Models{
			Architect:  "gemini-2.5-pro",
			Detective:  "gemini-2.5-flash",
			Tutor:      "gemini-2.5-pro",
			Strategist: "gemini-2.5-flash",
			Chat:       "gemini-2.5-flash",
		},
		MaxRetries: ai.DefaultMaxRetries,
		Exam:       DefaultExamCalendar,
		History:    HistoryWindow{Milestones: 3, Weeks: 1},
	}
}

// Runner executes agent tasks against the model client. Every task returns
// a well-formed result; model failures become the role's fallback.
type Runner struct {
	invoker Invoker
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
}

// Option customises a Runner
type Option func(*Runner)

// WithClock replaces time.Now, used for exam date arithmetic
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the runner logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner
func NewRunner(invoker Invoker, cfg Config, opts ...Option) *Runner {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = ai.DefaultMaxRetries
	}
	if cfg.Exam.ExamMonth == 0 || cfg.Exam.ExamDay == 0 {
		cfg.Exam = DefaultExamCalendar
	}
	r := &Runner{invoker: invoker, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Named(r.logger, "agents")
	return r
}

// generate calls the model in JSON mode and decodes the document into dst.
// Output that is not valid JSON, or does not fit dst, is reported on the
// returned Outcome instead of failing the task. dst may be partly filled
// then, so callers decode fragile parts as raw items themselves.
func (r *Runner) generate(ctx context.Context, role AgentRole, req ai.Request, dst any) (Outcome, error) {
	req.MaxRetries = r.cfg.MaxRetries
	req.Format = ai.FormatJSON

	res, err := r.invoker.GenerateWithRetry(ctx, req)
	if err != nil {
		r.logger.Error("agent model call failed", zap.String("agent", string(role)), zap.Error(err))
		return Outcome{}, err
	}

	out := Outcome{Status: ResultSuccess}
	if !res.Parsed() {
		out.RawResponse = res.Text
		out.ParseError = res.ParseError
		return out, nil
	}
	if err := json.Unmarshal(res.Data, dst); err != nil {
		r.logger.Warn("model JSON did not match result shape",
			zap.String("agent", string(role)), zap.Error(err))
		out.RawResponse = res.Text
		out.ParseError = err.Error()
	}
	return out, nil
}

// record emits the per-agent run metric
func (r *Runner) record(res Result) {
	meta := res.Meta()
	metrics.Get().RecordAgentRun(string(res.Role()), string(meta.Status), meta.Status == ResultError)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
