package analysis

import (
	"context"
	"sync"

	"prepos/internal/agents"
	"prepos/pkg/models"
)

// Store is the durable side of the pipeline. Lookups report a missing
// record with an error wrapping models.ErrNotFound.
type Store interface {
	GetAttempt(ctx context.Context, attemptID string) (*models.Attempt, error)
	GetUserPerformance(ctx context.Context, userID string) (models.Performance, error)
	UpdateWeakTopics(ctx context.Context, userID string, topics []string) error

	MaterializeQuestions(ctx context.Context, userID, attemptID string, questions []agents.GeneratedQuestion) (string, error)
	SaveQuestionSet(ctx context.Context, userID, attemptID string, qs *agents.QuestionSet) error
	SaveMistakeReport(ctx context.Context, userID, attemptID string, r *agents.MistakeReport) error
	SaveExplanationSet(ctx context.Context, userID, attemptID string, e *agents.ExplanationSet) error
	SaveRoadmap(ctx context.Context, userID, attemptID string, r *agents.Roadmap) error
	LatestRoadmap(ctx context.Context, userID string) (*agents.Roadmap, error)

	SaveAnalysis(ctx context.Context, attemptID string, a *agents.Analysis) error
	GetAnalysis(ctx context.Context, attemptID string) (*agents.Analysis, error)
}

// JobStore holds live job state. Get returns snapshots; Update applies fn
// atomically with respect to other Update calls on the same store.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	Update(ctx context.Context, jobID string, fn func(*Job)) (*Job, error)
}

// MemoryJobStore keeps jobs in process memory. Jobs are lost on restart;
// Pipeline.Status falls back to the persisted analysis in that case.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates an empty store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

// Create stores job, replacing any previous job with the same id
func (s *MemoryJobStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job.Clone()
	return nil
}

// Get returns a snapshot of the job
func (s *MemoryJobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update mutates the stored job and returns a snapshot of the result
func (s *MemoryJobStore) Update(ctx context.Context, jobID string, fn func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	fn(job)
	return job.Clone(), nil
}
