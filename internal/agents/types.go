// Package agents provides the four AI agents behind PrepOS test analysis.
// Each agent turns a submitted attempt (plus whatever upstream agents
// produced) into one validated result record.
package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"prepos/pkg/models"
)

// AgentRole identifies one of the analysis agents
type AgentRole string

const (
	RoleArchitect  AgentRole = "architect"  // Generates practice questions
	RoleDetective  AgentRole = "detective"  // Classifies mistakes
	RoleTutor      AgentRole = "tutor"      // Writes Socratic explanations
	RoleStrategist AgentRole = "strategist" // Plans the study roadmap
)

// Roles lists every agent in pipeline order
var Roles = []AgentRole{RoleArchitect, RoleDetective, RoleTutor, RoleStrategist}

// ResultStatus tells whether an agent produced a model-backed result
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Outcome is the envelope every agent result carries
type Outcome struct {
	Status      ResultStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	Message     string       `json:"message"`
	RawResponse string       `json:"rawResponse,omitempty"`
	ParseError  string       `json:"parseError,omitempty"`
}

// Meta exposes the envelope of any result
func (o *Outcome) Meta() *Outcome { return o }

// Result is the tagged union of agent outputs
type Result interface {
	Role() AgentRole
	Meta() *Outcome
}

// GeneratedQuestion is one practice question produced by the architect
type GeneratedQuestion struct {
	ID            string        `json:"id,omitempty"`
	Section       string        `json:"section"`
	Topic         string        `json:"topic"`
	Difficulty    string        `json:"difficulty"`
	Type          string        `json:"type"`
	Passage       string        `json:"passage,omitempty"`
	Question      string        `json:"question"`
	Options       OptionList    `json:"options,omitempty"`
	CorrectAnswer models.Answer `json:"correctAnswer"`
	Explanation   string        `json:"explanation"`
	ConceptTested string        `json:"conceptTested,omitempty"`
	CommonMistake string        `json:"commonMistake,omitempty"`
}

// OptionList accepts ["A. ...", ...], [{"key":"A","text":"..."}, ...] or
// {"A": "...", "B": "..."}
type OptionList []string

// UnmarshalJSON normalises keyed options into "K. text" strings
func (o *OptionList) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return o.unmarshalKeyed(trimmed)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*o = nil
		return nil
	}
	out := make(OptionList, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var kv struct {
			Key  string          `json:"key"`
			Text json.RawMessage `json:"text"`
		}
		if err := json.Unmarshal(item, &kv); err != nil {
			return fmt.Errorf("option must be a string or {key, text}: %w", err)
		}
		if kv.Key == "" {
			out = append(out, optionText(kv.Text))
		} else {
			out = append(out, kv.Key+". "+optionText(kv.Text))
		}
	}
	*o = out
	return nil
}

// unmarshalKeyed reads {"A": "...", ...}, ordered by key
func (o *OptionList) unmarshalKeyed(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(OptionList, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+". "+optionText(m[k]))
	}
	*o = out
	return nil
}

// optionText unquotes a JSON string and keeps any other literal as written
func optionText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// QuestionSet is the architect's output
type QuestionSet struct {
	Outcome
	GeneratedQuestions int                 `json:"generatedQuestions"`
	TargetTopics       []string            `json:"targetTopics"`
	Questions          []GeneratedQuestion `json:"questions"`
	GeneratedTestID    string              `json:"generatedTestId,omitempty"`
}

func (*QuestionSet) Role() AgentRole { return RoleArchitect }

// MistakePatterns counts mistakes per category
type MistakePatterns struct {
	Conceptual     int `json:"conceptual"`
	Silly          int `json:"silly"`
	TimeManagement int `json:"timeManagement"`
	Guessing       int `json:"guessing"`
	Strategic      int `json:"strategic"`
}

// Dominant returns the category with the highest count. Ties go to the
// earlier category; all zero yields "mixed".
func (p MistakePatterns) Dominant() string {
	best, bestCount := "mixed", 0
	for _, c := range []struct {
		name  string
		count int
	}{
		{"conceptual", p.Conceptual},
		{"silly", p.Silly},
		{"timeManagement", p.TimeManagement},
		{"guessing", p.Guessing},
		{"strategic", p.Strategic},
	} {
		if c.count > bestCount {
			best, bestCount = c.name, c.count
		}
	}
	return best
}

// MistakeInsight is the classification of one wrong answer
type MistakeInsight struct {
	QuestionNumber int    `json:"questionNumber"`
	Section        string `json:"section"`
	Topic          string `json:"topic"`
	MistakeType    string `json:"mistakeType"`
	Severity       string `json:"severity"`
	Reason         string `json:"reason"`
	Fix            string `json:"fix"`
}

// TimeOutlier flags a response whose time is far from the average
type TimeOutlier struct {
	QNo   int     `json:"qno"`
	Time  float64 `json:"time"`
	Type  string  `json:"type"` // slow or fast
	Ratio float64 `json:"ratio"`
}

// TimeAnalysis is computed locally before the detective calls the model
type TimeAnalysis struct {
	AvgTime        float64       `json:"avgTime"`
	TotalTime      float64       `json:"totalTime"`
	Outliers       []TimeOutlier `json:"outliers"`
	TotalAttempted int           `json:"totalAttempted"`
}

// MistakeReport is the detective's output
type MistakeReport struct {
	Outcome
	TotalMistakes         int              `json:"totalMistakes"`
	Classified            int              `json:"classified"`
	Patterns              MistakePatterns  `json:"patterns"`
	WeakTopics            []string         `json:"weakTopics"`
	OverallTimeManagement string           `json:"overallTimeManagement,omitempty"`
	Insights              []MistakeInsight `json:"insights"`
	TopPriorityFixes      []string         `json:"topPriorityFixes"`
	TimeAnalysis          *TimeAnalysis    `json:"timeAnalysis,omitempty"`
}

func (*MistakeReport) Role() AgentRole { return RoleDetective }

// Explanation is one Socratic lesson
type Explanation struct {
	QuestionNumber   int      `json:"questionNumber"`
	Topic            string   `json:"topic"`
	Section          string   `json:"section"`
	Hook             string   `json:"hook"`
	WhatYouKnew      string   `json:"whatYouKnew"`
	GuidingQuestions []string `json:"guidingQuestions"`
	Intuition        string   `json:"intuition"`
	Analogy          string   `json:"analogy"`
	CorrectApproach  []string `json:"correctApproach"`
	KeyInsight       string   `json:"keyInsight"`
	PreventionTip    string   `json:"preventionTip"`
}

// ExplanationSet is the tutor's output
type ExplanationSet struct {
	Outcome
	LessonsReady         int           `json:"lessonsReady"`
	OverallTheme         string        `json:"overallTheme"`
	Explanations         []Explanation `json:"explanations"`
	StudyRecommendations []string      `json:"studyRecommendations"`
}

func (*ExplanationSet) Role() AgentRole { return RoleTutor }

// StudentProfile summarises where the student stands
type StudentProfile struct {
	CurrentLevel     string `json:"currentLevel"`
	BiggestStrength  string `json:"biggestStrength"`
	BiggestWeakness  string `json:"biggestWeakness"`
	RecommendedFocus string `json:"recommendedFocus"`
}

// PlanTask is one scheduled study activity
type PlanTask struct {
	ID              string   `json:"id"`
	Day             string   `json:"day"`
	Title           string   `json:"title"`
	Type            string   `json:"type"`
	Topic           string   `json:"topic"`
	Section         string   `json:"section"`
	Duration        int      `json:"duration"` // minutes
	Priority        string   `json:"priority"`
	Description     string   `json:"description"`
	SuccessCriteria string   `json:"successCriteria"`
	Subtasks        []string `json:"subtasks,omitempty"`
}

// WeekPlan groups one week of tasks
type WeekPlan struct {
	Week      int        `json:"week"`
	Theme     string     `json:"theme"`
	Goal      string     `json:"goal"`
	StartDate string     `json:"startDate"`
	EndDate   string     `json:"endDate"`
	Tasks     []PlanTask `json:"tasks"`
}

// Milestone is a measurable checkpoint
type Milestone struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	TargetDate string `json:"targetDate"`
	Criteria   string `json:"criteria"`
	Reward     string `json:"reward,omitempty"`
	Status     string `json:"status"`
}

// Roadmap is the strategist's output
type Roadmap struct {
	Outcome
	StudentProfile         *StudentProfile `json:"studentProfile,omitempty"`
	FocusAreas             []string        `json:"focusAreas"`
	DaysUntilExam          int             `json:"daysUntilExam"`
	PreparationPhase       string          `json:"preparationPhase"`
	WeeklyHoursRecommended int             `json:"weeklyHoursRecommended"`
	WeeklyPlan             []WeekPlan      `json:"weeklyPlan"`
	Milestones             []Milestone     `json:"milestones"`
	WeeklyReviewQuestions  []string        `json:"weeklyReviewQuestions,omitempty"`
	GeneratedAt            time.Time       `json:"generatedAt"`
}

func (*Roadmap) Role() AgentRole { return RoleStrategist }

// Analysis is the combined output stored on an attempt
type Analysis struct {
	Architect   *QuestionSet    `json:"architect"`
	Detective   *MistakeReport  `json:"detective"`
	Tutor       *ExplanationSet `json:"tutor"`
	Strategist  *Roadmap        `json:"strategist"`
	CompletedAt time.Time       `json:"completedAt"`
}

// ByRole returns the result produced by role, or nil
func (a *Analysis) ByRole(role AgentRole) Result {
	if a == nil {
		return nil
	}
	switch role {
	case RoleArchitect:
		if a.Architect != nil {
			return a.Architect
		}
	case RoleDetective:
		if a.Detective != nil {
			return a.Detective
		}
	case RoleTutor:
		if a.Tutor != nil {
			return a.Tutor
		}
	case RoleStrategist:
		if a.Strategist != nil {
			return a.Strategist
		}
	}
	return nil
}

// DecodeResult unmarshals a stored result for the given role
func DecodeResult(role AgentRole, data []byte) (Result, error) {
	var r Result
	switch role {
	case RoleArchitect:
		r = &QuestionSet{}
	case RoleDetective:
		r = &MistakeReport{}
	case RoleTutor:
		r = &ExplanationSet{}
	case RoleStrategist:
		r = &Roadmap{}
	default:
		return nil, fmt.Errorf("unknown agent role %q", role)
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", role, err)
	}
	return r, nil
}

// ParseRole validates a role name
func ParseRole(s string) (AgentRole, error) {
	role := AgentRole(strings.ToLower(strings.TrimSpace(s)))
	for _, r := range Roles {
		if r == role {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown agent role %q", s)
}
