package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prepos/internal/agents"
	"prepos/internal/analysis"
	"prepos/pkg/models"
)

var _ analysis.Store = (*Repository)(nil)

// Minutes allotted per question in a generated practice test
const practiceMinutesPerQuestion = 2

// Repository is the GORM-backed store for attempts, users and agent outputs
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a repository over db
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}

// GetAttempt loads an attempt by id
func (r *Repository) GetAttempt(ctx context.Context, attemptID string) (*models.Attempt, error) {
	var a models.Attempt
	if err := r.db.WithContext(ctx).First(&a, "id = ?", attemptID).Error; err != nil {
		return nil, notFound("attempt", attemptID, err)
	}
	return &a, nil
}

// GetUser loads a user by id
func (r *Repository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return nil, notFound("user", userID, err)
	}
	return &u, nil
}

// GetUserPerformance returns the user's performance snapshot
func (r *Repository) GetUserPerformance(ctx context.Context, userID string) (models.Performance, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return models.Performance{}, err
	}
	return u.Performance, nil
}

// UpdateWeakTopics replaces the user's weak topic list
func (r *Repository) UpdateWeakTopics(ctx context.Context, userID string, topics []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.First(&u, "id = ?", userID).Error; err != nil {
			return notFound("user", userID, err)
		}
		u.Performance.WeakTopics = topics
		return tx.Model(&u).Select("Performance").Updates(&u).Error
	})
}

// MaterializeQuestions stores generated questions in the bank and wraps
// them in a practice test, returning the test id.
func (r *Repository) MaterializeQuestions(ctx context.Context, userID, attemptID string, questions []agents.GeneratedQuestion) (string, error) {
	if len(questions) == 0 {
		return "", nil
	}

	var testID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := make([]models.Question, 0, len(questions))
		for _, q := range questions {
			rows = append(rows, models.Question{
				Section:       orDefault(q.Section, "General"),
				Topic:         orDefault(q.Topic, "General"),
				Difficulty:    orDefault(q.Difficulty, "medium"),
				Type:          orDefault(q.Type, "MCQ"),
				Passage:       q.Passage,
				Text:          q.Question,
				Options:       []string(q.Options),
				CorrectAnswer: string(q.CorrectAnswer),
				Explanation:   q.Explanation,
				ConceptTested: q.ConceptTested,
				CommonMistake: q.CommonMistake,
				IsAIGenerated: true,
				CreatedBy:     userID,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert questions: %w", err)
		}

		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		test := models.Test{
			Name:                  "Recommended Practice - " + r.now().Format("02 Jan 15:04"),
			Type:                  "practice",
			DurationMinutes:       len(ids) * practiceMinutesPerQuestion,
			QuestionIDs:           ids,
			IsAIGenerated:         true,
			FromAnalysisAttemptID: attemptID,
			CreatedBy:             userID,
		}
		if err := tx.Create(&test).Error; err != nil {
			return fmt.Errorf("insert test: %w", err)
		}
		testID = test.ID
		return nil
	})
	return testID, err
}

// SaveQuestionSet stores an architect output
func (r *Repository) SaveQuestionSet(ctx context.Context, userID, attemptID string, qs *agents.QuestionSet) error {
	return r.db.WithContext(ctx).Create(&QuestionSetRecord{AttemptID: attemptID, UserID: userID, Output: qs}).Error
}

// SaveMistakeReport stores a detective output
func (r *Repository) SaveMistakeReport(ctx context.Context, userID, attemptID string, rep *agents.MistakeReport) error {
	return r.db.WithContext(ctx).Create(&MistakeReportRecord{AttemptID: attemptID, UserID: userID, Output: rep}).Error
}

// SaveExplanationSet stores a tutor output
func (r *Repository) SaveExplanationSet(ctx context.Context, userID, attemptID string, e *agents.ExplanationSet) error {
	return r.db.WithContext(ctx).Create(&ExplanationRecord{AttemptID: attemptID, UserID: userID, Output: e}).Error
}

// SaveRoadmap stores a strategist output
func (r *Repository) SaveRoadmap(ctx context.Context, userID, attemptID string, rm *agents.Roadmap) error {
	generated := rm.GeneratedAt
	if generated.IsZero() {
		generated = r.now()
	}
	return r.db.WithContext(ctx).Create(&RoadmapRecord{
		AttemptID:   attemptID,
		UserID:      userID,
		GeneratedAt: generated,
		Output:      rm,
	}).Error
}

// LatestRoadmap returns the user's most recently generated roadmap
func (r *Repository) LatestRoadmap(ctx context.Context, userID string) (*agents.Roadmap, error) {
	var rec RoadmapRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("generated_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, notFound("roadmap for user", userID, err)
	}
	return rec.Output, nil
}

// SaveAnalysis upserts the combined analysis of an attempt
func (r *Repository) SaveAnalysis(ctx context.Context, attemptID string, a *agents.Analysis) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attempt_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"analysis", "updated_at"}),
		}).
		Create(&AttemptAnalysis{AttemptID: attemptID, Analysis: a}).Error
}

// GetAnalysis loads the combined analysis of an attempt
func (r *Repository) GetAnalysis(ctx context.Context, attemptID string) (*agents.Analysis, error) {
	var rec AttemptAnalysis
	if err := r.db.WithContext(ctx).First(&rec, "attempt_id = ?", attemptID).Error; err != nil {
		return nil, notFound("analysis for attempt", attemptID, err)
	}
	return rec.Analysis, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
