package agents

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepos/internal/ai"
	"prepos/pkg/models"
)

func TestExplainMistakesNothingToExplain(t *testing.T) {
	inv := &fakeInvoker{data: `{}`}
	r := newTestRunner(inv)

	res := r.ExplainMistakes(context.Background(), &models.Attempt{}, &MistakeReport{Insights: []MistakeInsight{}})
	assert.Equal(t, 0, inv.callCount())
	assert.Equal(t, ResultSuccess, res.Status)
	assert.Equal(t, 0, res.LessonsReady)
	assert.Len(t, res.StudyRecommendations, 2)

	res = r.ExplainMistakes(context.Background(), &models.Attempt{}, nil)
	assert.Equal(t, 0, inv.callCount())
	assert.Equal(t, "No mistakes to learn from!", res.OverallTheme)
}

func TestExplainMistakesAfterFailedMistakeAnalysis(t *testing.T) {
	inv := &fakeInvoker{data: `{}`}
	r := newTestRunner(inv)

	report := Fallback(RoleDetective, "AI service temporarily unavailable").(*MistakeReport)
	res := r.ExplainMistakes(context.Background(), &models.Attempt{}, report)

	assert.Equal(t, 0, inv.callCount())
	assert.Equal(t, ResultSuccess, res.Status)
	assert.Equal(t, "Mistake analysis unavailable", res.OverallTheme)
	assert.NotContains(t, res.Message, "Amazing work")
	assert.Empty(t, res.Explanations)
	assert.Len(t, res.StudyRecommendations, 2)
}

func TestExplainMistakesSelectsFirstFiveAndBackfillsTheme(t *testing.T) {
	inv := &fakeInvoker{data: `{"explanations": [{"questionNumber": 1}, {"questionNumber": 2}]}`}
	r := newTestRunner(inv)

	report := &MistakeReport{Patterns: MistakePatterns{Conceptual: 1, TimeManagement: 4}}
	for i := 1; i <= 7; i++ {
		report.Insights = append(report.Insights, MistakeInsight{QuestionNumber: 100 + i, Topic: fmt.Sprintf("topic-%d", i)})
	}

	res := r.ExplainMistakes(context.Background(), &models.Attempt{}, report)

	require.Equal(t, 1, inv.callCount())
	prompt := inv.calls[0].Prompt
	assert.Contains(t, prompt, "topic-5")
	assert.NotContains(t, prompt, "topic-6")
	assert.Contains(t, prompt, "Primary Issue: timeManagement")
	assert.InDelta(t, 0.6, inv.calls[0].Temperature, 1e-6)

	assert.Equal(t, ResultSuccess, res.Status)
	assert.Equal(t, 2, res.LessonsReady)
	assert.Equal(t, "Focus on timeManagement improvement", res.OverallTheme)
	assert.NotNil(t, res.StudyRecommendations)
	assert.Equal(t, "Prepared 2 personalized lessons to help you improve!", res.Message)
}

func TestExplainMistakesFallsBack(t *testing.T) {
	r := newTestRunner(&fakeInvoker{err: errUnauthorized})
	res := r.ExplainMistakes(context.Background(), &models.Attempt{}, &MistakeReport{Insights: []MistakeInsight{{}}})
	assert.Equal(t, ResultError, res.Status)
	assert.Empty(t, res.Explanations)
}

func TestExplainQuestion(t *testing.T) {
	inv := &fakeInvoker{text: "Let's think about ratios first."}
	r := newTestRunner(inv)

	reply := r.ExplainQuestion(context.Background(), models.Response{
		Topic:         "Ratios",
		QuestionText:  "What is 2:3 of 50?",
		Answer:        "A",
		CorrectAnswer: "B",
	}, "why is A wrong?")

	assert.Equal(t, ResultSuccess, reply.Status)
	assert.Equal(t, "Let's think about ratios first.", reply.Explanation)
	assert.Equal(t, "Ratios", reply.Topic)

	require.Equal(t, 1, inv.callCount())
	call := inv.calls[0]
	assert.Equal(t, ai.FormatText, call.Format)
	assert.Contains(t, call.Prompt, "why is A wrong?")
	assert.Contains(t, call.Prompt, "TITA - No options")
}

func TestExplainQuestionFailure(t *testing.T) {
	r := newTestRunner(&fakeInvoker{err: errUnauthorized})
	reply := r.ExplainQuestion(context.Background(), models.Response{Topic: "Ratios"}, "")

	assert.Equal(t, ResultError, reply.Status)
	assert.NotEmpty(t, reply.Error)
	assert.Contains(t, reply.Explanation, "trouble")
}
