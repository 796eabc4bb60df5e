package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"prepos/internal/ai"
	"prepos/pkg/models"
)

const (
	questionBatchSize   = 5
	questionTemperature = 0.75
)

var defaultFocusSections = []string{"QA", "DILR"}

// questionPayload mirrors QuestionSet with every field optional
type questionPayload struct {
	GeneratedQuestions *int              `json:"generatedQuestions"`
	TargetTopics       []string          `json:"targetTopics"`
	Message            *string           `json:"message"`
	Questions          []json.RawMessage `json:"questions"`
}

// GenerateQuestions asks the architect for a batch of practice questions
// aimed at the student's weakest sections and topics.
func (r *Runner) GenerateQuestions(ctx context.Context, attempt *models.Attempt, perf models.Performance) *QuestionSet {
	focusSections := lowestKeys(perf.SectionWise, 2)
	if len(focusSections) == 0 {
		focusSections = defaultFocusSections
	}
	focusTopics := mergeUnique(perf.WeakTopics, lowestKeys(perf.TopicWise, 3))

	req := ai.Request{
		Model:             r.cfg.Models.Architect,
		Prompt:            buildArchitectPrompt(attempt.Score, perf.SectionWise, focusSections, focusTopics),
		SystemInstruction: architectSystemPrompt,
		Temperature:       questionTemperature,
	}

	var payload questionPayload
	out, err := r.generate(ctx, RoleArchitect, req, &payload)
	if err != nil {
		res := Fallback(RoleArchitect, err.Error()).(*QuestionSet)
		r.record(res)
		return res
	}

	questions, dropped := decodeQuestions(payload.Questions)
	if dropped != nil {
		r.logger.Warn("dropped malformed generated questions",
			zap.Int("kept", len(questions)), zap.Error(dropped))
		if out.ParseError == "" {
			out.ParseError = dropped.Error()
		}
	}

	res := normalizeQuestions(out, payload, questions, focusTopics)
	r.logger.Info("architect generated questions", zap.Int("count", res.GeneratedQuestions))
	r.record(res)
	return res
}

// decodeQuestions decodes each item on its own so one malformed question
// costs only itself. The returned error joins every dropped item's error.
func decodeQuestions(items []json.RawMessage) ([]GeneratedQuestion, error) {
	kept := make([]GeneratedQuestion, 0, len(items))
	var errs []error
	for i, item := range items {
		var q GeneratedQuestion
		if err := json.Unmarshal(item, &q); err != nil {
			errs = append(errs, fmt.Errorf("question %d: %w", i+1, err))
			continue
		}
		kept = append(kept, q)
	}
	return kept, errors.Join(errs...)
}

// normalizeQuestions backfills every field the model left out
func normalizeQuestions(out Outcome, p questionPayload, questions []GeneratedQuestion, focusTopics []string) *QuestionSet {
	res := &QuestionSet{Outcome: out, Questions: orEmpty(questions)}

	// a claimed count only stands when every question survived decoding
	if p.GeneratedQuestions != nil && len(questions) == len(p.Questions) {
		res.GeneratedQuestions = *p.GeneratedQuestions
	} else {
		res.GeneratedQuestions = len(res.Questions)
	}

	switch {
	case p.TargetTopics != nil:
		res.TargetTopics = p.TargetTopics
	case len(focusTopics) > 0:
		res.TargetTopics = focusTopics
	default:
		res.TargetTopics = []string{"General CAT Topics"}
	}

	if p.Message != nil {
		res.Message = *p.Message
	} else {
		res.Message = fmt.Sprintf("Generated %d questions targeting your weak areas.", res.GeneratedQuestions)
	}
	res.Status = ResultSuccess
	return res
}

func buildArchitectPrompt(score models.Score, sections map[string]float64, focusSections, focusTopics []string) string {
	var b strings.Builder
	b.WriteString("## STUDENT PERFORMANCE DATA\n\n")
	writeScore(&b, score)

	b.WriteString("\n### Section-wise Performance\n")
	if len(sections) > 0 {
		b.WriteString(prettyJSON(sections))
	} else {
		b.WriteString("No section data available")
	}

	b.WriteString("\n\n### Identified Weak Topics\n")
	if len(focusTopics) > 0 {
		b.WriteString(strings.Join(focusTopics, ", "))
	} else {
		b.WriteString("Not yet identified - generate diverse questions across sections")
	}

	fmt.Fprintf(&b, "\n\n### Focus Sections (Priority)\n%s\n\n---\n\n", strings.Join(focusSections, ", "))
	fmt.Fprintf(&b, "## YOUR TASK\n\nGenerate %d CAT practice questions for this student:\n", questionBatchSize)
	fmt.Fprintf(&b, "1. 2 questions from their weakest section (%s)\n", focusSections[0])
	b.WriteString("2. 2 questions targeting specific weak topics, or common CAT topics if none are known\n")
	b.WriteString("3. 1 question from their second weakest area for variety\n\n")
	b.WriteString("Difficulty mix: 1 easy, 3 medium, 1 hard.\n")
	b.WriteString("At least 1 question must be TITA (type in the answer).\n")
	b.WriteString("Every question needs a detailed explanation and plausible wrong options.\n")
	return b.String()
}

// lowestKeys returns up to n keys with the smallest values, ties by name
func lowestKeys(m map[string]float64, n int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] < m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// mergeUnique concatenates lists keeping first occurrence order
func mergeUnique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func writeScore(b *strings.Builder, s models.Score) {
	b.WriteString("### Overall Test Performance\n")
	fmt.Fprintf(b, "- Score: %g/%g (%.1f%%)\n", s.Obtained, s.Total, s.Percentage)
	fmt.Fprintf(b, "- Correct: %d | Incorrect: %d | Unattempted: %d\n", s.Correct, s.Incorrect, s.Unattempted)
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
