package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prepos/internal/agents"
	"prepos/internal/logging"
	"prepos/internal/metrics"
	"prepos/pkg/models"
)

// Archiver exports a finished analysis somewhere outside the database
type Archiver interface {
	Archive(ctx context.Context, attemptID string, a *agents.Analysis) error
}

// DefaultStaleAfter is how long a processing job may go without a heartbeat
// before it is treated as abandoned by a process that died mid-run.
const DefaultStaleAfter = 2 * time.Minute

// interruptedMessage is recorded on abandoned jobs
const interruptedMessage = "analysis interrupted before completion, start it again"

// Pipeline sequences the agents for one attempt:
// architect and detective in parallel, then tutor, then strategist.
type Pipeline struct {
	runner   *agents.Runner
	store    Store
	jobs     JobStore
	archiver Archiver
	now      func() time.Time
	logger   *zap.Logger

	// staleAfter bounds the gap between heartbeats of a live run
	staleAfter time.Duration

	startMu sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// PipelineOption customises a Pipeline
type PipelineOption func(*Pipeline)

// WithArchiver exports each completed analysis
func WithArchiver(a Archiver) PipelineOption {
	return func(p *Pipeline) { p.archiver = a }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the pipeline logger
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithStaleAfter sets how long a processing job may go without a heartbeat
func WithStaleAfter(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.staleAfter = d }
}

// NewPipeline creates a pipeline
func NewPipeline(runner *agents.Runner, store Store, jobs JobStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		runner:     runner,
		store:      store,
		jobs:       jobs,
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
		running:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.Named(p.logger, "pipeline")
	return p
}

// Start registers the job and runs the pipeline in the background. The run
// is detached from ctx cancellation; callers observe it through Status.
// Starting a job that this process is still running, or that another
// process is still heartbeating, returns the live job instead of launching a
// second run. A stale processing job is replaced.
func (p *Pipeline) Start(ctx context.Context, jobID string, attempt *models.Attempt, userID string) (*Job, error) {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if p.running[jobID] {
		existing, err := p.jobs.Get(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("load job: %w", err)
		}
		return existing, nil
	}
	existing, err := p.jobs.Get(ctx, jobID)
	if err == nil && existing.Status == StatusProcessing {
		if !existing.Stale(p.now(), p.staleAfter) {
			return existing, nil
		}
		p.logger.Warn("replacing abandoned job",
			zap.String("job_id", jobID),
			zap.Time("last_heartbeat", existing.UpdatedAt))
	}

	job := NewJob(jobID, attempt.ID, userID, p.now())
	if err := p.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	p.running[jobID] = true
	runCtx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(jobID)
		_ = p.Run(runCtx, jobID, attempt, userID)
	}()

	return job.Clone(), nil
}

func (p *Pipeline) release(jobID string) {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	delete(p.running, jobID)
}

func (p *Pipeline) owns(jobID string) bool {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	return p.running[jobID]
}

// Wait blocks until every background run finished or ctx is done
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the live job, or a completed job rebuilt from the attempt's
// persisted analysis when the job is no longer tracked. A processing job
// whose run stopped heartbeating is resolved from the persisted analysis, or
// else recorded as interrupted so watchers see a terminal status.
func (p *Pipeline) Status(ctx context.Context, jobID string) (*Job, error) {
	job, err := p.jobs.Get(ctx, jobID)
	if err == nil {
		if !job.Stale(p.now(), p.staleAfter) || p.owns(jobID) {
			return job, nil
		}
		return p.resolveStale(ctx, job)
	}
	if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}
	return p.persisted(ctx, jobID)
}

func (p *Pipeline) persisted(ctx context.Context, jobID string) (*Job, error) {
	attempt, err := p.store.GetAttempt(ctx, jobID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	a, err := p.store.GetAnalysis(ctx, jobID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobFromAnalysis(jobID, attempt.UserID, a), nil
}

func (p *Pipeline) resolveStale(ctx context.Context, stale *Job) (*Job, error) {
	done, err := p.persisted(ctx, stale.JobID)
	if err == nil {
		return done, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}

	p.logger.Warn("job stopped heartbeating, marking interrupted",
		zap.String("job_id", stale.JobID),
		zap.Time("last_heartbeat", stale.UpdatedAt))
	return p.update(ctx, stale.JobID, func(j *Job) {
		if j.Stale(p.now(), p.staleAfter) {
			j.markFailed(interruptedMessage, p.now())
		}
	})
}

// Run executes the pipeline synchronously. Model failures never surface
// here, agents absorb them into fallback results; any other failure marks
// the job as error and stops the remaining steps.
func (p *Pipeline) Run(ctx context.Context, jobID string, attempt *models.Attempt, userID string) (err error) {
	m := metrics.Get()
	m.PipelineJobsInFlight.Inc()
	defer m.PipelineJobsInFlight.Dec()

	start := p.now()
	log := p.logger.With(zap.String("job_id", jobID), zap.String("user_id", userID))
	log.Info("analysis pipeline started")

	stopHeartbeat := p.heartbeat(ctx, jobID, log)
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis pipeline panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			p.fail(ctx, jobID, err, log)
			m.RecordPipelineRun(string(StatusError), time.Since(start))
			return
		}
		m.RecordPipelineRun(string(StatusCompleted), time.Since(start))
	}()

	a, err := p.run(ctx, jobID, attempt, userID, log)
	if err != nil {
		return err
	}

	if _, err := p.update(ctx, jobID, func(j *Job) {
		j.Status = j.Aggregate()
		done := p.now()
		j.CompletedAt = &done
	}); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	log.Info("analysis pipeline completed", zap.Duration("duration", p.now().Sub(start)))

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, attempt.ID, a); err != nil {
			log.Warn("failed to archive analysis", zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, jobID string, attempt *models.Attempt, userID string, log *zap.Logger) (*agents.Analysis, error) {
	perf, err := p.store.GetUserPerformance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load performance: %w", err)
	}

	// Step 1: architect and detective share no inputs
	if err := p.mark(ctx, jobID, StatusProcessing, agents.RoleArchitect, agents.RoleDetective); err != nil {
		return nil, err
	}

	var (
		questions *agents.QuestionSet
		report    *agents.MistakeReport
	)
	g, gctx := errgroup.WithContext(ctx)
	goSafe(g, func() error {
		questions = p.runner.GenerateQuestions(gctx, attempt, perf)
		return nil
	})
	goSafe(g, func() error {
		report = p.runner.ClassifyMistakes(gctx, attempt)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Step 2: persist both and publish
	if len(questions.Questions) > 0 {
		testID, err := p.store.MaterializeQuestions(ctx, userID, attempt.ID, questions.Questions)
		if err != nil {
			log.Warn("failed to create practice test from generated questions", zap.Error(err))
		} else {
			questions.GeneratedTestID = testID
			log.Info("created recommended practice test", zap.String("test_id", testID))
		}
	}
	if err := p.store.SaveQuestionSet(ctx, userID, attempt.ID, questions); err != nil {
		return nil, fmt.Errorf("save question set: %w", err)
	}
	if err := p.store.SaveMistakeReport(ctx, userID, attempt.ID, report); err != nil {
		return nil, fmt.Errorf("save mistake report: %w", err)
	}
	if err := p.complete(ctx, jobID, questions, report); err != nil {
		return nil, err
	}

	// Step 3: tutor needs the detective's insights
	if err := p.mark(ctx, jobID, StatusProcessing, agents.RoleTutor); err != nil {
		return nil, err
	}
	lessons := p.runner.ExplainMistakes(ctx, attempt, report)
	if err := p.store.SaveExplanationSet(ctx, userID, attempt.ID, lessons); err != nil {
		return nil, fmt.Errorf("save explanations: %w", err)
	}
	if err := p.complete(ctx, jobID, lessons); err != nil {
		return nil, err
	}

	// Step 4: strategist builds on everything so far
	if err := p.mark(ctx, jobID, StatusProcessing, agents.RoleStrategist); err != nil {
		return nil, err
	}
	previous, err := p.store.LatestRoadmap(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("load previous roadmap: %w", err)
	}
	roadmap := p.runner.PlanRoadmap(ctx, agents.RoadmapInput{
		Performance: perf,
		Mistakes:    report,
		Questions:   questions,
		Previous:    previous,
	})
	if err := p.store.SaveRoadmap(ctx, userID, attempt.ID, roadmap); err != nil {
		return nil, fmt.Errorf("save roadmap: %w", err)
	}
	if err := p.complete(ctx, jobID, roadmap); err != nil {
		return nil, err
	}

	// Step 5: combined analysis and weak topic refresh
	a := &agents.Analysis{
		Architect:   questions,
		Detective:   report,
		Tutor:       lessons,
		Strategist:  roadmap,
		CompletedAt: p.now(),
	}
	if err := p.store.SaveAnalysis(ctx, attempt.ID, a); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}
	if len(report.WeakTopics) > 0 {
		if err := p.store.UpdateWeakTopics(ctx, userID, report.WeakTopics); err != nil {
			return nil, fmt.Errorf("update weak topics: %w", err)
		}
	}
	return a, nil
}

// update applies fn and stamps the job as alive
func (p *Pipeline) update(ctx context.Context, jobID string, fn func(*Job)) (*Job, error) {
	return p.jobs.Update(ctx, jobID, func(j *Job) {
		fn(j)
		j.UpdatedAt = p.now()
	})
}

// heartbeat keeps UpdatedAt fresh while model calls are in flight. The
// returned func stops it and waits for the last beat.
func (p *Pipeline) heartbeat(ctx context.Context, jobID string, log *zap.Logger) func() {
	interval := p.staleAfter / 4
	if interval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := p.update(ctx, jobID, func(*Job) {}); err != nil {
					log.Warn("job heartbeat failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func (p *Pipeline) mark(ctx context.Context, jobID string, status Status, roles ...agents.AgentRole) error {
	_, err := p.update(ctx, jobID, func(j *Job) {
		for _, role := range roles {
			j.setTask(role, status, nil)
		}
	})
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (p *Pipeline) complete(ctx context.Context, jobID string, results ...agents.Result) error {
	_, err := p.update(ctx, jobID, func(j *Job) {
		for _, res := range results {
			j.setTask(res.Role(), StatusCompleted, res)
		}
	})
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// fail records err on the job; tasks still in flight become error too
func (p *Pipeline) fail(ctx context.Context, jobID string, err error, log *zap.Logger) {
	log.Error("analysis pipeline failed", zap.Error(err))
	_, uerr := p.update(ctx, jobID, func(j *Job) {
		j.markFailed(err.Error(), p.now())
	})
	if uerr != nil {
		log.Error("failed to record pipeline failure", zap.Error(uerr))
	}
}

// goSafe runs fn in the group and turns a panic into the group's error
func goSafe(g *errgroup.Group, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("agent panic: %v", r)
			}
		}()
		return fn()
	})
}
