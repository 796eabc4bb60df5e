package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prepos/internal/agents"
	"prepos/internal/ai"
	"prepos/pkg/models"
)

var testModels = agents.Models{
	Architect:  "architect-model",
	Detective:  "detective-model",
	Tutor:      "tutor-model",
	Strategist: "strategist-model",
	Chat:       "chat-model",
}

// modelInvoker answers by model name so each agent gets its own document
type modelInvoker struct {
	mu        sync.Mutex
	responses map[string]string
	err       error
	calls     []string
}

func (m *modelInvoker) GenerateWithRetry(ctx context.Context, req ai.Request) (*ai.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req.Model)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	doc, ok := m.responses[req.Model]
	if !ok {
		return nil, &ai.Error{Code: ai.CodeModelNotFound, StatusCode: 404, Message: "no such model " + req.Model}
	}
	return &ai.Result{Data: json.RawMessage(doc), Text: doc, Model: req.Model, Attempts: 1}, nil
}

func (m *modelInvoker) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func reachableInvoker() *modelInvoker {
	return &modelInvoker{responses: map[string]string{
		"architect-model": `{"targetTopics":["Percentages"],"questions":[
			{"section":"QA","topic":"Percentages","difficulty":"medium","type":"MCQ","question":"What is 20% of 50?",
			 "options":[{"key":"A","text":"10"},{"key":"B","text":"5"}],"correctAnswer":"A","explanation":"0.2*50"}]}`,
		"detective-model": `{"patterns":{"conceptual":1,"calculation":1},"weakTopics":["Percentages","Syllogisms"],
			"overallTimeManagement":"needs_improvement",
			"insights":[{"questionNumber":1,"section":"QA","topic":"Percentages","mistakeType":"conceptual","severity":"high","reason":"r","fix":"f"},
			            {"questionNumber":2,"section":"VARC","topic":"Syllogisms","mistakeType":"calculation","severity":"low","reason":"r","fix":"f"}],
			"topPriorityFixes":["Revise percentages"]}`,
		"tutor-model": `{"explanations":[{"questionNumber":1,"topic":"Percentages","guidingQuestions":["What is a percent?"]}],
			"studyRecommendations":["Practice 20 percentage problems"]}`,
		"strategist-model": `{"focusAreas":["Percentages"],"weeklyHoursRecommended":25,
			"weeklyPlan":[{"week":1,"theme":"Arithmetic"}],"milestones":[{"id":"m1","title":"70% accuracy"}]}`,
	}}
}

// gatedInvoker parks the call for one model until release is closed
type gatedInvoker struct {
	*modelInvoker
	model   string
	entered chan struct{}
	release chan struct{}
}

func newGatedInvoker(model string) *gatedInvoker {
	return &gatedInvoker{
		modelInvoker: reachableInvoker(),
		model:        model,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedInvoker) GenerateWithRetry(ctx context.Context, req ai.Request) (*ai.Result, error) {
	if req.Model == g.model {
		close(g.entered)
		<-g.release
	}
	return g.modelInvoker.GenerateWithRetry(ctx, req)
}

// overlapInvoker only answers architect and detective once both calls are
// in flight at the same time
type overlapInvoker struct {
	*modelInvoker
	inFlight sync.WaitGroup
}

func newOverlapInvoker() *overlapInvoker {
	o := &overlapInvoker{modelInvoker: reachableInvoker()}
	o.inFlight.Add(2)
	return o
}

func (o *overlapInvoker) GenerateWithRetry(ctx context.Context, req ai.Request) (*ai.Result, error) {
	if req.Model == "architect-model" || req.Model == "detective-model" {
		o.inFlight.Done()
		both := make(chan struct{})
		go func() {
			o.inFlight.Wait()
			close(both)
		}()
		select {
		case <-both:
		case <-time.After(2 * time.Second):
			return nil, errors.New(req.Model + " ran alone")
		}
	}
	return o.modelInvoker.GenerateWithRetry(ctx, req)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore keeps everything in maps and records the order of writes
type fakeStore struct {
	mu        sync.Mutex
	attempts  map[string]*models.Attempt
	perf      map[string]models.Performance
	analyses  map[string]*agents.Analysis
	roadmaps  map[string]*agents.Roadmap
	weak      map[string][]string
	writes    []string
	failOn    string
	testCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attempts: make(map[string]*models.Attempt),
		perf:     make(map[string]models.Performance),
		analyses: make(map[string]*agents.Analysis),
		roadmaps: make(map[string]*agents.Roadmap),
		weak:     make(map[string][]string),
	}
}

func (s *fakeStore) write(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == op {
		return errors.New("disk full")
	}
	s.writes = append(s.writes, op)
	return nil
}

func (s *fakeStore) ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *fakeStore) GetAttempt(ctx context.Context, attemptID string) (*models.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, models.ErrNotFound)
	}
	return a, nil
}

func (s *fakeStore) GetUserPerformance(ctx context.Context, userID string) (models.Performance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perf[userID], nil
}

func (s *fakeStore) UpdateWeakTopics(ctx context.Context, userID string, topics []string) error {
	if err := s.write("weak_topics"); err != nil {
		return err
	}
	s.mu.Lock()
	s.weak[userID] = topics
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) MaterializeQuestions(ctx context.Context, userID, attemptID string, questions []agents.GeneratedQuestion) (string, error) {
	if err := s.write("materialize"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testCount++
	return fmt.Sprintf("test-%d", s.testCount), nil
}

func (s *fakeStore) SaveQuestionSet(ctx context.Context, userID, attemptID string, qs *agents.QuestionSet) error {
	return s.write("questions")
}

func (s *fakeStore) SaveMistakeReport(ctx context.Context, userID, attemptID string, r *agents.MistakeReport) error {
	return s.write("mistakes")
}

func (s *fakeStore) SaveExplanationSet(ctx context.Context, userID, attemptID string, e *agents.ExplanationSet) error {
	return s.write("explanations")
}

func (s *fakeStore) SaveRoadmap(ctx context.Context, userID, attemptID string, r *agents.Roadmap) error {
	if err := s.write("roadmap"); err != nil {
		return err
	}
	s.mu.Lock()
	s.roadmaps[userID] = r
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) LatestRoadmap(ctx context.Context, userID string) (*agents.Roadmap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roadmaps[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) SaveAnalysis(ctx context.Context, attemptID string, a *agents.Analysis) error {
	if err := s.write("analysis"); err != nil {
		return err
	}
	s.mu.Lock()
	s.analyses[attemptID] = a
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) GetAnalysis(ctx context.Context, attemptID string) (*agents.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[attemptID]
	if !ok {
		return nil, fmt.Errorf("analysis %s: %w", attemptID, models.ErrNotFound)
	}
	return a, nil
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (f *fakeArchiver) Archive(ctx context.Context, attemptID string, a *agents.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, attemptID)
	return f.err
}

var fixedNow = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

func testAttempt() *models.Attempt {
	a := &models.Attempt{
		UserID: "user-1",
		TestID: "mock-1",
		Score:  models.Score{Obtained: 3, Total: 12, Percentage: 25, Correct: 1, Incorrect: 2, Unattempted: 1},
		Responses: []models.Response{
			{QuestionID: "q1", Section: "QA", Topic: "Percentages", Difficulty: "medium", Answer: "B", CorrectAnswer: "A", TimeSpent: 120},
			{QuestionID: "q2", Section: "VARC", Topic: "Syllogisms", Difficulty: "easy", Answer: "C", CorrectAnswer: "D", TimeSpent: 40},
			{QuestionID: "q3", Section: "DILR", Topic: "Arrangements", Difficulty: "hard", Answer: "A", CorrectAnswer: "A", TimeSpent: 150},
			{QuestionID: "q4", Section: "QA", Topic: "Algebra", Difficulty: "hard", CorrectAnswer: "B"},
		},
	}
	a.ID = "attempt-1"
	return a
}

func newTestPipeline(inv agents.Invoker, store Store, jobs JobStore, opts ...PipelineOption) *Pipeline {
	cfg := agents.DefaultConfig()
	cfg.Models = testModels
	runner := agents.NewRunner(inv, cfg,
		agents.WithLogger(zap.NewNop()),
		agents.WithClock(func() time.Time { return fixedNow }))
	opts = append([]PipelineOption{
		WithLogger(zap.NewNop()),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return NewPipeline(runner, store, jobs, opts...)
}

func waitForJob(t *testing.T, p *Pipeline, jobID string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, err := p.Status(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}
