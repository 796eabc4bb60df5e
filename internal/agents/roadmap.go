package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"prepos/internal/ai"
	"prepos/pkg/models"
)

const roadmapTemperature = 0.5

// Preparation phases, ordered from furthest to closest to the exam
const (
	PhaseFoundation  = "foundation"
	PhaseBuilding    = "building"
	PhaseIntensive   = "intensive"
	PhaseFinalSprint = "final_sprint"
)

var weeklyHoursByPhase = map[string]int{
	PhaseFoundation:  15,
	PhaseBuilding:    20,
	PhaseIntensive:   25,
	PhaseFinalSprint: 30,
}

type roadmapPayload struct {
	StudentProfile         *StudentProfile `json:"studentProfile"`
	FocusAreas             []string        `json:"focusAreas"`
	WeeklyHoursRecommended *int            `json:"weeklyHoursRecommended"`
	WeeklyPlan             []WeekPlan      `json:"weeklyPlan"`
	Milestones             []Milestone     `json:"milestones"`
	WeeklyReviewQuestions  []string        `json:"weeklyReviewQuestions"`
	Message                *string         `json:"message"`
}

// RoadmapInput gathers everything the strategist plans from
type RoadmapInput struct {
	Performance models.Performance
	Mistakes    *MistakeReport
	Questions   *QuestionSet
	Previous    *Roadmap
}

// PlanRoadmap asks the strategist for a personalised study roadmap. Dates,
// phase and hour targets are computed locally and override the model.
func (r *Runner) PlanRoadmap(ctx context.Context, in RoadmapInput) *Roadmap {
	now := r.now()
	days := DaysUntilExam(now, r.cfg.Exam)
	phase := PreparationPhase(days)
	hours := WeeklyHours(phase)

	sections := in.Performance.SectionWise
	weakest, weakestScore := extremeSection(sections, false)
	strongest, strongestScore := extremeSection(sections, true)
	level := SkillLevel(sections)

	mistakes := in.Mistakes
	if mistakes == nil {
		mistakes = &MistakeReport{}
	}

	pc := strategistContext{
		now:            now,
		days:           days,
		phase:          phase,
		hours:          hours,
		level:          level,
		sections:       sections,
		weakest:        weakest,
		weakestScore:   weakestScore,
		strongest:      strongest,
		strongestScore: strongestScore,
		mistakes:       mistakes,
		questions:      in.Questions,
		previous:       summarizeRoadmap(in.Previous, r.cfg.History),
	}

	req := ai.Request{
		Model:             r.cfg.Models.Strategist,
		Prompt:            buildStrategistPrompt(pc),
		SystemInstruction: strategistSystemPrompt,
		Temperature:       roadmapTemperature,
	}

	var payload roadmapPayload
	out, err := r.generate(ctx, RoleStrategist, req, &payload)
	if err != nil {
		res := Fallback(RoleStrategist, err.Error()).(*Roadmap)
		res.GeneratedAt = now
		r.record(res)
		return res
	}

	res := normalizeRoadmap(out, payload, pc)
	r.logger.Info("strategist planned roadmap",
		zap.Int("weeks", len(res.WeeklyPlan)),
		zap.Int("milestones", len(res.Milestones)),
		zap.Int("days_until_exam", days))
	r.record(res)
	return res
}

type strategistContext struct {
	now            time.Time
	days           int
	phase          string
	hours          int
	level          string
	sections       map[string]float64
	weakest        string
	weakestScore   float64
	strongest      string
	strongestScore float64
	mistakes       *MistakeReport
	questions      *QuestionSet
	previous       *roadmapSummary
}

func normalizeRoadmap(out Outcome, p roadmapPayload, pc strategistContext) *Roadmap {
	weakTopics := pc.mistakes.WeakTopics

	res := &Roadmap{
		Outcome:               out,
		StudentProfile:        p.StudentProfile,
		FocusAreas:            p.FocusAreas,
		DaysUntilExam:         pc.days,
		PreparationPhase:      pc.phase,
		WeeklyPlan:            orEmpty(p.WeeklyPlan),
		Milestones:            orEmpty(p.Milestones),
		WeeklyReviewQuestions: p.WeeklyReviewQuestions,
		GeneratedAt:           pc.now,
	}

	if res.StudentProfile == nil {
		focus := pc.weakest
		if len(weakTopics) > 0 {
			focus = weakTopics[0]
		}
		res.StudentProfile = &StudentProfile{
			CurrentLevel:     pc.level,
			BiggestStrength:  pc.strongest,
			BiggestWeakness:  pc.weakest,
			RecommendedFocus: focus,
		}
	}
	if res.FocusAreas == nil {
		if len(weakTopics) > 0 {
			res.FocusAreas = weakTopics
		} else {
			res.FocusAreas = []string{pc.weakest}
		}
	}
	if p.WeeklyHoursRecommended != nil {
		res.WeeklyHoursRecommended = *p.WeeklyHoursRecommended
	} else {
		res.WeeklyHoursRecommended = pc.hours
	}
	if p.Message != nil {
		res.Message = *p.Message
	} else {
		focus := "balanced preparation"
		if len(weakTopics) > 0 {
			focus = weakTopics[0]
		}
		res.Message = fmt.Sprintf("Your personalized %d-day roadmap to CAT is ready! Focus on %s.", pc.days, focus)
	}
	res.Status = ResultSuccess
	return res
}

// DaysUntilExam counts whole days from now to the next exam date. Once the
// cutoff day of the current year is reached the target moves to next year.
// The result is never below 1.
func DaysUntilExam(now time.Time, cal ExamCalendar) int {
	year := now.Year()
	cutoff := time.Date(year, cal.CutoffMonth, cal.CutoffDay, 0, 0, 0, 0, now.Location())
	if !now.Before(cutoff) {
		year++
	}
	exam := time.Date(year, cal.ExamMonth, cal.ExamDay, 0, 0, 0, 0, now.Location())

	days := int(math.Floor(exam.Sub(now).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// PreparationPhase buckets the days left into one of four phases
func PreparationPhase(days int) string {
	switch {
	case days > 180:
		return PhaseFoundation
	case days > 90:
		return PhaseBuilding
	case days > 30:
		return PhaseIntensive
	default:
		return PhaseFinalSprint
	}
}

// WeeklyHours is the recommended study load for a phase
func WeeklyHours(phase string) int {
	if h, ok := weeklyHoursByPhase[phase]; ok {
		return h
	}
	return 20
}

// SkillLevel grades the average section accuracy
func SkillLevel(sections map[string]float64) string {
	var avg float64
	if len(sections) > 0 {
		var sum float64
		for _, v := range sections {
			sum += v
		}
		avg = sum / float64(len(sections))
	}
	switch {
	case avg >= 70:
		return "advanced"
	case avg >= 50:
		return "intermediate"
	default:
		return "beginner"
	}
}

// extremeSection returns the lowest (or highest) scoring section, ties by
// name, or "Unknown" with zero when there is no data.
func extremeSection(sections map[string]float64, highest bool) (string, float64) {
	name, score, found := "Unknown", 0.0, false
	for k, v := range sections {
		better := !found ||
			(highest && (v > score || (v == score && k < name))) ||
			(!highest && (v < score || (v == score && k < name)))
		if better {
			name, score, found = k, v, true
		}
	}
	return name, score
}

// roadmapSummary is the trimmed view of the previous roadmap
type roadmapSummary struct {
	GeneratedAt      time.Time   `json:"generatedAt"`
	PreparationPhase string      `json:"preparationPhase"`
	FocusAreas       []string    `json:"focusAreas"`
	RecentMilestones []Milestone `json:"recentMilestones"`
	CurrentWeeks     []WeekPlan  `json:"currentWeeks"`
}

// summarizeRoadmap keeps the last w.Milestones milestones and the first
// w.Weeks weeks of prev.
func summarizeRoadmap(prev *Roadmap, w HistoryWindow) *roadmapSummary {
	if prev == nil {
		return nil
	}
	s := &roadmapSummary{
		GeneratedAt:      prev.GeneratedAt,
		PreparationPhase: prev.PreparationPhase,
		FocusAreas:       orEmpty(prev.FocusAreas),
		RecentMilestones: []Milestone{},
		CurrentWeeks:     []WeekPlan{},
	}
	if n := w.Milestones; n > 0 {
		ms := prev.Milestones
		if len(ms) > n {
			ms = ms[len(ms)-n:]
		}
		s.RecentMilestones = append(s.RecentMilestones, ms...)
	}
	if n := w.Weeks; n > 0 {
		weeks := prev.WeeklyPlan
		if len(weeks) > n {
			weeks = weeks[:n]
		}
		s.CurrentWeeks = append(s.CurrentWeeks, weeks...)
	}
	return s
}

func buildStrategistPrompt(pc strategistContext) string {
	m := pc.mistakes
	var b strings.Builder

	b.WriteString("## STUDENT PROFILE\n\n### Performance Data\n")
	fmt.Fprintf(&b, "- Current Level: %s\n", pc.level)
	b.WriteString("- Section Performance: ")
	if len(pc.sections) > 0 {
		b.WriteString(prettyJSON(pc.sections))
	} else {
		b.WriteString("No data yet")
	}
	fmt.Fprintf(&b, "\n- Biggest Weakness: %s (%.0f%% accuracy)\n", pc.weakest, pc.weakestScore)
	fmt.Fprintf(&b, "- Biggest Strength: %s (%.0f%% accuracy)\n\n", pc.strongest, pc.strongestScore)

	b.WriteString("### Mistake Analysis\n")
	fmt.Fprintf(&b, "- Weak Topics: %s\n", joinOr(m.WeakTopics, "Not yet identified"))
	fmt.Fprintf(&b, "- Mistake Patterns: conceptual %d, silly %d, time management %d, guessing %d, strategic %d\n",
		m.Patterns.Conceptual, m.Patterns.Silly, m.Patterns.TimeManagement, m.Patterns.Guessing, m.Patterns.Strategic)
	fmt.Fprintf(&b, "- Top Priority Fixes: %s\n", joinOr(m.TopPriorityFixes, "General improvement needed"))
	if pc.questions != nil && pc.questions.GeneratedQuestions > 0 {
		fmt.Fprintf(&b, "- Practice Set Ready: %d new questions on %s\n",
			pc.questions.GeneratedQuestions, joinOr(pc.questions.TargetTopics, "general topics"))
	}

	b.WriteString("\n### Time Context\n")
	fmt.Fprintf(&b, "- Today's Date: %s (%s)\n", pc.now.Format("2006-01-02"), pc.now.Weekday())
	fmt.Fprintf(&b, "- Days Until CAT: %d\n", pc.days)
	fmt.Fprintf(&b, "- Preparation Phase: %s\n", pc.phase)
	fmt.Fprintf(&b, "- Recommended Weekly Hours: %d\n", pc.hours)

	if pc.previous != nil {
		b.WriteString("\n### Previous Roadmap (update this rather than replacing it)\n```json\n")
		b.WriteString(prettyJSON(pc.previous))
		b.WriteString("\n```\n")
	}

	b.WriteString("\n---\n\n## YOUR TASK\n\n")
	b.WriteString("Create a 2-week personalized roadmap with 5-6 tasks per week, mixing concept_review, ")
	b.WriteString("practice, speed_drill, mock_test, analysis and revision tasks, plus 2-3 measurable milestones.\n")
	switch pc.level {
	case "beginner":
		b.WriteString("- Focus heavily on weak areas and include confidence-building easy wins\n")
	case "intermediate":
		b.WriteString("- Balance weak and strong areas\n")
	default:
		b.WriteString("- Refine and optimize strategies\n")
	}
	if m.Patterns.Silly > 2 {
		b.WriteString("- Include silly mistake prevention drills\n")
	}
	if m.Patterns.TimeManagement > 2 {
		b.WriteString("- Add time management exercises\n")
	}
	return b.String()
}

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}
