package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"prepos/internal/ai"
	"prepos/pkg/models"
)

const (
	explanationTemperature = 0.6
	chatTemperature        = 0.7
	maxExplainedMistakes   = 5
)

type explanationPayload struct {
	LessonsReady         *int          `json:"lessonsReady"`
	OverallTheme         *string       `json:"overallTheme"`
	Explanations         []Explanation `json:"explanations"`
	StudyRecommendations []string      `json:"studyRecommendations"`
	Message              *string       `json:"message"`
}

// ExplainMistakes asks the tutor for a Socratic lesson on each of the first
// five classified mistakes.
func (r *Runner) ExplainMistakes(ctx context.Context, attempt *models.Attempt, report *MistakeReport) *ExplanationSet {
	if report != nil && report.Status == ResultError {
		res := nothingToExplainYet()
		r.record(res)
		return res
	}
	if report == nil || len(report.Insights) == 0 {
		res := nothingToExplain()
		r.record(res)
		return res
	}

	theme := report.Patterns.Dominant()
	selected := report.Insights
	if len(selected) > maxExplainedMistakes {
		selected = selected[:maxExplainedMistakes]
	}

	req := ai.Request{
		Model:             r.cfg.Models.Tutor,
		Prompt:            buildTutorPrompt(report, selected, theme),
		SystemInstruction: tutorSystemPrompt,
		Temperature:       explanationTemperature,
	}

	var payload explanationPayload
	out, err := r.generate(ctx, RoleTutor, req, &payload)
	if err != nil {
		res := Fallback(RoleTutor, err.Error()).(*ExplanationSet)
		r.record(res)
		return res
	}

	res := normalizeExplanations(out, payload, theme)
	r.logger.Info("tutor prepared lessons",
		zap.Int("lessons", res.LessonsReady),
		zap.String("attempt_id", attempt.ID))
	r.record(res)
	return res
}

func normalizeExplanations(out Outcome, p explanationPayload, theme string) *ExplanationSet {
	res := &ExplanationSet{
		Outcome:              out,
		Explanations:         orEmpty(p.Explanations),
		StudyRecommendations: orEmpty(p.StudyRecommendations),
	}
	if p.LessonsReady != nil {
		res.LessonsReady = *p.LessonsReady
	} else {
		res.LessonsReady = len(res.Explanations)
	}
	if p.OverallTheme != nil {
		res.OverallTheme = *p.OverallTheme
	} else {
		res.OverallTheme = fmt.Sprintf("Focus on %s improvement", theme)
	}
	if p.Message != nil {
		res.Message = *p.Message
	} else {
		res.Message = fmt.Sprintf("Prepared %d personalized lessons to help you improve!", res.LessonsReady)
	}
	res.Status = ResultSuccess
	return res
}

func nothingToExplain() *ExplanationSet {
	return &ExplanationSet{
		Outcome: Outcome{
			Status:  ResultSuccess,
			Message: "Amazing work! You didn't make any mistakes. Keep pushing with harder challenges!",
		},
		OverallTheme: "No mistakes to learn from!",
		Explanations: []Explanation{},
		StudyRecommendations: []string{
			"Continue with mock tests to maintain your performance",
			"Try harder question sets to challenge yourself",
		},
	}
}

// nothingToExplainYet stands in when the mistake report itself is a
// fallback; praising a perfect attempt would be wrong there.
func nothingToExplainYet() *ExplanationSet {
	return &ExplanationSet{
		Outcome: Outcome{
			Status:  ResultSuccess,
			Message: "Lessons will be ready once your mistakes have been analyzed.",
		},
		OverallTheme: "Mistake analysis unavailable",
		Explanations: []Explanation{},
		StudyRecommendations: []string{
			"Review the solutions for the questions you got wrong",
			"Run the analysis again later for personalized lessons",
		},
	}
}

type mistakeForExplanation struct {
	QuestionNumber int    `json:"questionNumber"`
	Section        string `json:"section"`
	Topic          string `json:"topic"`
	MistakeType    string `json:"mistakeType"`
	Severity       string `json:"severity"`
	Reason         string `json:"reason"`
	Fix            string `json:"fix"`
}

func buildTutorPrompt(report *MistakeReport, selected []MistakeInsight, theme string) string {
	mistakes := make([]mistakeForExplanation, 0, len(selected))
	for _, in := range selected {
		mistakes = append(mistakes, mistakeForExplanation{
			QuestionNumber: in.QuestionNumber,
			Section:        orDefault(in.Section, "Unknown"),
			Topic:          orDefault(in.Topic, "Unknown"),
			MistakeType:    in.MistakeType,
			Severity:       orDefault(in.Severity, "medium"),
			Reason:         in.Reason,
			Fix:            in.Fix,
		})
	}

	weak := "Various topics"
	if len(report.WeakTopics) > 0 {
		weak = strings.Join(report.WeakTopics, ", ")
	}

	var b strings.Builder
	b.WriteString("## STUDENT MISTAKE ANALYSIS\n\n### Mistake Pattern Summary\n")
	fmt.Fprintf(&b, "- Primary Issue: %s\n", theme)
	fmt.Fprintf(&b, "- Total Mistakes Analyzed: %d\n", len(report.Insights))
	fmt.Fprintf(&b, "- Weak Topics Identified: %s\n\n", weak)

	p := report.Patterns
	b.WriteString("### Pattern Breakdown\n")
	fmt.Fprintf(&b, "- Conceptual Errors: %d\n- Silly Mistakes: %d\n- Time Management Issues: %d\n- Guessing: %d\n- Strategic Errors: %d\n\n",
		p.Conceptual, p.Silly, p.TimeManagement, p.Guessing, p.Strategic)

	b.WriteString("### Mistakes Requiring Explanation\n```json\n")
	b.WriteString(prettyJSON(mistakes))
	b.WriteString("\n```\n\n---\n\n## YOUR TASK\n\n")
	b.WriteString("For each mistake create a Socratic lesson: hook, acknowledge what they did right, ")
	b.WriteString("2-3 guiding questions, the intuition, an analogy, the correct approach step by step ")
	b.WriteString("and a prevention tip. Also name the overall theme connecting these mistakes.\n")
	return b.String()
}

// ChatReply is the tutor's answer to a question about one response
type ChatReply struct {
	Explanation string       `json:"explanation"`
	Topic       string       `json:"topic"`
	Status      ResultStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
}

// ExplainQuestion gives an on-demand plain-text explanation of a single
// response, optionally steered by the student's own message.
func (r *Runner) ExplainQuestion(ctx context.Context, resp models.Response, userMessage string) ChatReply {
	req := ai.Request{
		Model:             r.cfg.Models.Chat,
		Prompt:            buildChatPrompt(resp, userMessage),
		SystemInstruction: chatSystemPrompt,
		Temperature:       chatTemperature,
		MaxRetries:        r.cfg.MaxRetries,
		Format:            ai.FormatText,
	}

	res, err := r.invoker.GenerateWithRetry(ctx, req)
	if err != nil {
		r.logger.Error("tutor chat failed", zap.Error(err))
		return ChatReply{
			Explanation: "I'm having trouble generating an explanation right now. Please try again in a moment.",
			Topic:       resp.Topic,
			Status:      ResultError,
			Error:       err.Error(),
		}
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		text = "I couldn't generate an explanation. Please try again."
	}
	return ChatReply{Explanation: text, Topic: resp.Topic, Status: ResultSuccess}
}

func buildChatPrompt(resp models.Response, userMessage string) string {
	var b strings.Builder
	b.WriteString("## QUESTION FOR EXPLANATION\n\n### Question Details\n")
	fmt.Fprintf(&b, "- Section: %s\n- Topic: %s\n- Difficulty: %s\n- Type: %s\n\n",
		orDefault(resp.Section, "General"), orDefault(resp.Topic, "General"),
		orDefault(resp.Difficulty, "medium"), orDefault(resp.Type, "MCQ"))

	b.WriteString("### The Question\n")
	if resp.Passage != "" {
		b.WriteString(resp.Passage + "\n\n")
	}
	fmt.Fprintf(&b, "Q: %s\n\n### Options\n", resp.QuestionText)
	if len(resp.Options) > 0 {
		b.WriteString(strings.Join(resp.Options, "\n"))
	} else {
		b.WriteString("TITA - No options")
	}

	answer := string(resp.Answer)
	if answer == "" {
		answer = "Not answered"
	}
	fmt.Fprintf(&b, "\n\n### Student's Answer: %s\n### Correct Answer: %s\n", answer, resp.CorrectAnswer)
	if msg := strings.TrimSpace(userMessage); msg != "" {
		fmt.Fprintf(&b, "\n### Student's Message\n%s\n", msg)
	}
	b.WriteString("\n---\n\nExplain this with empathy: acknowledge the attempt, ask guiding questions, ")
	b.WriteString("give the intuition, show the correct approach and end with a memorable tip.\n")
	return b.String()
}
