package agents

// Fallback returns the degraded result for role when the model could not be
// reached. It never fails; an unknown role gets a bare error envelope.
func Fallback(role AgentRole, message string) Result {
	switch role {
	case RoleArchitect:
		return &QuestionSet{
			Outcome:      fallbackOutcome("Question generation", message),
			TargetTopics: []string{},
			Questions:    []GeneratedQuestion{},
		}
	case RoleDetective:
		return &MistakeReport{
			Outcome:          fallbackOutcome("Mistake analysis", message),
			WeakTopics:       []string{},
			Insights:         []MistakeInsight{},
			TopPriorityFixes: []string{},
		}
	case RoleTutor:
		return &ExplanationSet{
			Outcome:              fallbackOutcome("AI Tutor", message),
			Explanations:         []Explanation{},
			StudyRecommendations: []string{},
		}
	case RoleStrategist:
		return &Roadmap{
			Outcome:    fallbackOutcome("Roadmap generation", message),
			FocusAreas: []string{},
			WeeklyPlan: []WeekPlan{},
			Milestones: []Milestone{},
		}
	default:
		return &unknownResult{role: role, Outcome: Outcome{Status: ResultError, Error: message}}
	}
}

func fallbackOutcome(feature, message string) Outcome {
	return Outcome{
		Status:  ResultError,
		Error:   message,
		Message: feature + " temporarily unavailable. Please try again in a few minutes.",
	}
}

type unknownResult struct {
	Outcome
	role AgentRole
}

func (u *unknownResult) Role() AgentRole { return u.role }
