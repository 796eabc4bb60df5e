package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base carries the string primary key and timestamps shared by every table
type Base struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not set one
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// User represents a student on PrepOS
type User struct {
	Base
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Email string `json:"email" gorm:"uniqueIndex;not null"`
	Name  string `json:"name"`

	// Aggregate performance snapshot, rewritten by the analysis pipeline
	Performance Performance `json:"performance" gorm:"serializer:json"`
}

// Performance is a user's running accuracy per section and topic
type Performance struct {
	SectionWise  map[string]float64 `json:"sectionWise"`
	TopicWise    map[string]float64 `json:"topicWise"`
	WeakTopics   []string           `json:"weakTopics"`
	AverageScore float64            `json:"averageScore"`
	TestsTaken   int                `json:"testsTaken"`
}

// Score summarises one submitted attempt
type Score struct {
	Obtained    float64 `json:"obtained"`
	Total       float64 `json:"total"`
	Percentage  float64 `json:"percentage"`
	Correct     int     `json:"correct"`
	Incorrect   int     `json:"incorrect"`
	Unattempted int     `json:"unattempted"`
}

// Answer is a submitted or expected answer. MCQ answers are option keys,
// TITA answers may arrive as JSON numbers.
type Answer string

// UnmarshalJSON accepts strings, numbers and null
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("answer must be a string or number: %w", err)
	}
	*a = Answer(n.String())
	return nil
}

// Response is one answered (or skipped) question inside an attempt
type Response struct {
	QuestionID    string   `json:"questionId"`
	Section       string   `json:"section"`
	Topic         string   `json:"topic"`
	Difficulty    string   `json:"difficulty"`
	Type          string   `json:"type"`
	Passage       string   `json:"passage,omitempty"`
	QuestionText  string   `json:"questionText"`
	Options       []string `json:"options,omitempty"`
	Answer        Answer   `json:"answer"`
	CorrectAnswer Answer   `json:"correctAnswer"`
	TimeSpent     float64  `json:"timeSpent"` // seconds
}

// Answered reports whether the student submitted anything
func (r Response) Answered() bool { return r.Answer != "" }

// Attempt is one submitted test-taking session. It is immutable once
// submitted; the pipeline only reads it.
type Attempt struct {
	Base

	UserID      string     `json:"userId" gorm:"index;not null;size:36"`
	TestID      string     `json:"testId" gorm:"index;size:36"`
	StartedAt   time.Time  `json:"startedAt"`
	SubmittedAt *time.Time `json:"submittedAt"`

	Score     Score      `json:"score" gorm:"embedded;embeddedPrefix:score_"`
	Responses []Response `json:"responses" gorm:"serializer:json"`
}

// Question is an item in the question bank
type Question struct {
	Base

	Section       string   `json:"section" gorm:"index"`
	Topic         string   `json:"topic" gorm:"index"`
	Difficulty    string   `json:"difficulty"`
	Type          string   `json:"type"` // MCQ or TITA
	Passage       string   `json:"passage,omitempty" gorm:"type:text"`
	Text          string   `json:"question" gorm:"type:text"`
	Options       []string `json:"options" gorm:"serializer:json"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation" gorm:"type:text"`
	ConceptTested string   `json:"conceptTested,omitempty"`
	CommonMistake string   `json:"commonMistake,omitempty"`

	IsAIGenerated bool   `json:"isAIGenerated" gorm:"default:false"`
	CreatedBy     string `json:"createdBy,omitempty" gorm:"index;size:36"`
}

// Test is an ordered set of questions with a time limit
type Test struct {
	Base

	Name            string   `json:"name"`
	Type            string   `json:"type"` // mock, sectional, practice
	Section         string   `json:"section,omitempty"`
	DurationMinutes int      `json:"duration"`
	QuestionIDs     []string `json:"questionIds" gorm:"serializer:json"`

	IsAIGenerated         bool   `json:"isAIGenerated" gorm:"default:false"`
	FromAnalysisAttemptID string `json:"fromAnalysisAttemptId,omitempty" gorm:"size:36"`
	CreatedBy             string `json:"createdBy,omitempty" gorm:"index;size:36"`
}

// ErrNotFound is returned by stores when a record does not exist
var ErrNotFound = errors.New("record not found")
