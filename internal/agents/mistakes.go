package agents

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"prepos/internal/ai"
	"prepos/pkg/models"
)

const mistakeTemperature = 0.3

// expected seconds per question by difficulty, shown to the model
var expectedTimeByDifficulty = map[string]int{"easy": 60, "medium": 90, "hard": 150}

type mistakePayload struct {
	TotalMistakes         *int             `json:"totalMistakes"`
	Classified            *int             `json:"classified"`
	Patterns              *MistakePatterns `json:"patterns"`
	WeakTopics            []string         `json:"weakTopics"`
	OverallTimeManagement string           `json:"overallTimeManagement"`
	Insights              []MistakeInsight `json:"insights"`
	TopPriorityFixes      []string         `json:"topPriorityFixes"`
	Message               *string          `json:"message"`
}

// ClassifyMistakes asks the detective to classify every wrong answer. A
// perfect score short-circuits without calling the model.
func (r *Runner) ClassifyMistakes(ctx context.Context, attempt *models.Attempt) *MistakeReport {
	incorrect := attempt.Score.Incorrect
	if incorrect == 0 {
		res := perfectScoreReport()
		r.record(res)
		return res
	}

	timing := AnalyzeTimePatterns(attempt.Responses)

	req := ai.Request{
		Model:             r.cfg.Models.Detective,
		Prompt:            buildDetectivePrompt(attempt, timing),
		SystemInstruction: detectiveSystemPrompt,
		Temperature:       mistakeTemperature,
	}

	var payload mistakePayload
	out, err := r.generate(ctx, RoleDetective, req, &payload)
	if err != nil {
		res := Fallback(RoleDetective, err.Error()).(*MistakeReport)
		r.record(res)
		return res
	}

	res := normalizeMistakes(out, payload, incorrect, timing)
	r.logger.Info("detective classified mistakes",
		zap.Int("mistakes", res.TotalMistakes),
		zap.Int("weak_topics", len(res.WeakTopics)))
	r.record(res)
	return res
}

func normalizeMistakes(out Outcome, p mistakePayload, incorrect int, timing TimeAnalysis) *MistakeReport {
	res := &MistakeReport{
		Outcome:               out,
		WeakTopics:            orEmpty(p.WeakTopics),
		OverallTimeManagement: p.OverallTimeManagement,
		Insights:              orEmpty(p.Insights),
		TopPriorityFixes:      orEmpty(p.TopPriorityFixes),
		TimeAnalysis:          &timing,
	}
	if p.TotalMistakes != nil {
		res.TotalMistakes = *p.TotalMistakes
	} else {
		res.TotalMistakes = incorrect
	}
	if p.Classified != nil {
		res.Classified = *p.Classified
	} else {
		res.Classified = len(res.Insights)
	}
	if p.Patterns != nil {
		res.Patterns = *p.Patterns
	}
	if p.Message != nil {
		res.Message = *p.Message
	} else {
		res.Message = fmt.Sprintf("Analyzed %d mistakes.", res.TotalMistakes)
	}
	res.Status = ResultSuccess
	return res
}

func perfectScoreReport() *MistakeReport {
	return &MistakeReport{
		Outcome: Outcome{
			Status:  ResultSuccess,
			Message: "Perfect score! No mistakes to analyze. Keep up the excellent work!",
		},
		WeakTopics:            []string{},
		OverallTimeManagement: "good",
		Insights:              []MistakeInsight{},
		TopPriorityFixes:      []string{},
	}
}

// AnalyzeTimePatterns computes the average time over responses with a
// recorded time and flags outliers slower than twice or faster than a
// quarter of that average.
func AnalyzeTimePatterns(responses []models.Response) TimeAnalysis {
	ta := TimeAnalysis{Outliers: []TimeOutlier{}}
	if len(responses) == 0 {
		return ta
	}

	var total float64
	var timed int
	for _, r := range responses {
		if r.TimeSpent > 0 {
			total += r.TimeSpent
			timed++
		}
	}
	if timed == 0 {
		ta.TotalAttempted = len(responses)
		return ta
	}

	avg := total / float64(timed)
	for i, r := range responses {
		t := r.TimeSpent
		if t <= 0 {
			continue
		}
		switch {
		case t > avg*2:
			ta.Outliers = append(ta.Outliers, TimeOutlier{QNo: i + 1, Time: t, Type: "slow", Ratio: round(t/avg, 2)})
		case t < avg*0.25:
			ta.Outliers = append(ta.Outliers, TimeOutlier{QNo: i + 1, Time: t, Type: "fast", Ratio: round(t/avg, 2)})
		}
	}

	ta.AvgTime = round(avg, 1)
	ta.TotalTime = total
	for _, r := range responses {
		if r.Answered() {
			ta.TotalAttempted++
		}
	}
	return ta
}

type responseSummary struct {
	QNo                  int           `json:"qno"`
	Section              string        `json:"section"`
	Topic                string        `json:"topic"`
	Difficulty           string        `json:"difficulty"`
	Answered             models.Answer `json:"answered"`
	Correct              models.Answer `json:"correct"`
	WasCorrect           bool          `json:"wasCorrect"`
	TimeSpent            float64       `json:"timeSpent"`
	AvgTimeForDifficulty int           `json:"avgTimeForDifficulty"`
}

func buildDetectivePrompt(attempt *models.Attempt, timing TimeAnalysis) string {
	summaries := make([]responseSummary, 0, len(attempt.Responses))
	for i, resp := range attempt.Responses {
		difficulty := orDefault(resp.Difficulty, "medium")
		expected, ok := expectedTimeByDifficulty[difficulty]
		if !ok {
			expected = 90
		}
		summaries = append(summaries, responseSummary{
			QNo:                  i + 1,
			Section:              orDefault(resp.Section, "Unknown"),
			Topic:                orDefault(resp.Topic, "Unknown"),
			Difficulty:           difficulty,
			Answered:             resp.Answer,
			Correct:              resp.CorrectAnswer,
			WasCorrect:           resp.Answered() && resp.Answer == resp.CorrectAnswer,
			TimeSpent:            resp.TimeSpent,
			AvgTimeForDifficulty: expected,
		})
	}

	var b strings.Builder
	b.WriteString("## TEST PERFORMANCE DATA\n\n")
	writeScore(&b, attempt.Score)

	b.WriteString("\n### Time Analysis (pre-computed)\n")
	fmt.Fprintf(&b, "- Average Time per Question: %gs\n", timing.AvgTime)
	fmt.Fprintf(&b, "- Total Attempted: %d\n", timing.TotalAttempted)
	b.WriteString("- Time Outliers:\n")
	if len(timing.Outliers) > 0 {
		b.WriteString(prettyJSON(timing.Outliers))
	} else {
		b.WriteString("No significant outliers")
	}

	b.WriteString("\n\n### Detailed Response Data\n```json\n")
	b.WriteString(prettyJSON(summaries))
	b.WriteString("\n```\n\n---\n\n## YOUR TASK\n\n")
	b.WriteString("Classify each incorrect answer, identify recurring patterns across topics and time, ")
	b.WriteString("and list the top 3 priority fixes.\n")
	fmt.Fprintf(&b, "Focus on the %d incorrect answers. Be specific and actionable.\n", attempt.Score.Incorrect)
	return b.String()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
