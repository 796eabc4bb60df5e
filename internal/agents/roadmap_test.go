package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepos/pkg/models"
)

func TestDaysUntilExam(t *testing.T) {
	cal := DefaultExamCalendar

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"early in the year", time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), 327},
		{"day before cutoff", time.Date(2025, time.November, 19, 12, 0, 0, 0, time.UTC), 4},
		{"on cutoff rolls to next year", time.Date(2025, time.November, 20, 0, 0, 0, 0, time.UTC), 369},
		{"just after cutoff", time.Date(2025, time.November, 21, 9, 0, 0, 0, time.UTC), 367},
		{"after the exam", time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), 328},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DaysUntilExam(tc.now, cal)
			assert.Equal(t, tc.want, got)
			assert.GreaterOrEqual(t, got, 1)
		})
	}
}

func TestDaysUntilExamNeverBelowOne(t *testing.T) {
	// cutoff after the exam date leaves a window where the exam has passed
	cal := ExamCalendar{ExamMonth: time.November, ExamDay: 24, CutoffMonth: time.November, CutoffDay: 28}
	now := time.Date(2025, time.November, 26, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysUntilExam(now, cal))

	sameDay := time.Date(2025, time.November, 23, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysUntilExam(sameDay, cal))
}

func TestPreparationPhaseAndHours(t *testing.T) {
	assert.Equal(t, PhaseFoundation, PreparationPhase(181))
	assert.Equal(t, PhaseBuilding, PreparationPhase(180))
	assert.Equal(t, PhaseBuilding, PreparationPhase(91))
	assert.Equal(t, PhaseIntensive, PreparationPhase(90))
	assert.Equal(t, PhaseIntensive, PreparationPhase(31))
	assert.Equal(t, PhaseFinalSprint, PreparationPhase(30))
	assert.Equal(t, PhaseFinalSprint, PreparationPhase(1))

	assert.Equal(t, 15, WeeklyHours(PhaseFoundation))
	assert.Equal(t, 20, WeeklyHours(PhaseBuilding))
	assert.Equal(t, 25, WeeklyHours(PhaseIntensive))
	assert.Equal(t, 30, WeeklyHours(PhaseFinalSprint))
	assert.Equal(t, 20, WeeklyHours("unknown"))
}

func TestSkillLevelAndExtremes(t *testing.T) {
	assert.Equal(t, "beginner", SkillLevel(nil))
	assert.Equal(t, "intermediate", SkillLevel(map[string]float64{"QA": 40, "VARC": 60}))
	assert.Equal(t, "advanced", SkillLevel(map[string]float64{"QA": 70, "VARC": 90}))

	name, score := extremeSection(nil, false)
	assert.Equal(t, "Unknown", name)
	assert.Zero(t, score)

	sections := map[string]float64{"QA": 40, "VARC": 80, "DILR": 40}
	name, score = extremeSection(sections, false)
	assert.Equal(t, "DILR", name)
	assert.Equal(t, 40.0, score)
	name, _ = extremeSection(sections, true)
	assert.Equal(t, "VARC", name)
}

func TestPlanRoadmapBackfillsComputedFields(t *testing.T) {
	inv := &fakeInvoker{data: `{"weeklyPlan": [{"week": 1, "theme": "Basics"}]}`}
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRunner(inv, WithClock(func() time.Time { return now }))

	res := r.PlanRoadmap(context.Background(), RoadmapInput{
		Performance: models.Performance{SectionWise: map[string]float64{"QA": 35, "VARC": 55}},
		Mistakes:    &MistakeReport{WeakTopics: []string{"Geometry", "Algebra"}, Patterns: MistakePatterns{Silly: 3}},
		Questions:   &QuestionSet{GeneratedQuestions: 5, TargetTopics: []string{"Geometry"}},
	})

	assert.Equal(t, ResultSuccess, res.Status)
	assert.Equal(t, 176, res.DaysUntilExam)
	assert.Equal(t, PhaseBuilding, res.PreparationPhase)
	assert.Equal(t, 20, res.WeeklyHoursRecommended)
	assert.Equal(t, now, res.GeneratedAt)
	assert.Equal(t, []string{"Geometry", "Algebra"}, res.FocusAreas)
	require.NotNil(t, res.StudentProfile)
	assert.Equal(t, StudentProfile{
		CurrentLevel:     "beginner",
		BiggestStrength:  "VARC",
		BiggestWeakness:  "QA",
		RecommendedFocus: "Geometry",
	}, *res.StudentProfile)
	assert.Len(t, res.WeeklyPlan, 1)
	assert.NotNil(t, res.Milestones)
	assert.Equal(t, "Your personalized 176-day roadmap to CAT is ready! Focus on Geometry.", res.Message)

	prompt := inv.calls[0].Prompt
	assert.Contains(t, prompt, "Days Until CAT: 176")
	assert.Contains(t, prompt, "silly mistake prevention")
	assert.Contains(t, prompt, "5 new questions")
	assert.NotContains(t, prompt, "Previous Roadmap")
}

func TestPlanRoadmapComputedFieldsOverrideModel(t *testing.T) {
	inv := &fakeInvoker{data: `{"daysUntilExam": 999, "preparationPhase": "whenever", "focusAreas": ["RC"], "weeklyHoursRecommended": 12}`}
	now := time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRunner(inv, WithClock(func() time.Time { return now }))

	res := r.PlanRoadmap(context.Background(), RoadmapInput{})
	assert.Equal(t, 23, res.DaysUntilExam)
	assert.Equal(t, PhaseFinalSprint, res.PreparationPhase)
	assert.Equal(t, []string{"RC"}, res.FocusAreas)
	assert.Equal(t, 12, res.WeeklyHoursRecommended)
	assert.Equal(t, "Unknown", res.StudentProfile.BiggestWeakness)
}

func TestPlanRoadmapIncludesTrimmedPreviousRoadmap(t *testing.T) {
	inv := &fakeInvoker{data: `{}`}
	r := newTestRunner(inv)

	prev := &Roadmap{
		PreparationPhase: PhaseIntensive,
		WeeklyPlan:       []WeekPlan{{Week: 1, Theme: "week-one"}, {Week: 2, Theme: "week-two"}},
		Milestones: []Milestone{
			{ID: "M1"}, {ID: "M2"}, {ID: "M3"}, {ID: "M4"},
		},
	}
	r.PlanRoadmap(context.Background(), RoadmapInput{Previous: prev})

	prompt := inv.calls[0].Prompt
	assert.Contains(t, prompt, "Previous Roadmap")
	assert.Contains(t, prompt, "week-one")
	assert.NotContains(t, prompt, "week-two")
	assert.NotContains(t, prompt, `"M1"`)
	assert.Contains(t, prompt, `"M4"`)
}

func TestSummarizeRoadmapWindow(t *testing.T) {
	prev := &Roadmap{
		WeeklyPlan: []WeekPlan{{Week: 1}, {Week: 2}, {Week: 3}},
		Milestones: []Milestone{{ID: "M1"}, {ID: "M2"}},
	}
	s := summarizeRoadmap(prev, HistoryWindow{Milestones: 5, Weeks: 2})
	assert.Len(t, s.RecentMilestones, 2)
	assert.Len(t, s.CurrentWeeks, 2)

	s = summarizeRoadmap(prev, HistoryWindow{})
	assert.Empty(t, s.RecentMilestones)
	assert.Empty(t, s.CurrentWeeks)

	assert.Nil(t, summarizeRoadmap(nil, HistoryWindow{Milestones: 3, Weeks: 1}))
}

func TestPlanRoadmapFallsBack(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRunner(&fakeInvoker{err: errUnauthorized}, WithClock(func() time.Time { return now }))

	res := r.PlanRoadmap(context.Background(), RoadmapInput{})
	assert.Equal(t, ResultError, res.Status)
	assert.Empty(t, res.WeeklyPlan)
	assert.Equal(t, now, res.GeneratedAt)
}
