package db

import (
	"time"

	"prepos/internal/agents"
	"prepos/pkg/models"
)

// QuestionSetRecord is one architect output
type QuestionSetRecord struct {
	models.Base
	AttemptID string              `gorm:"index;size:36"`
	UserID    string              `gorm:"index;size:36"`
	Output    *agents.QuestionSet `gorm:"serializer:json"`
}

// MistakeReportRecord is one detective output
type MistakeReportRecord struct {
	models.Base
	AttemptID string                `gorm:"index;size:36"`
	UserID    string                `gorm:"index;size:36"`
	Output    *agents.MistakeReport `gorm:"serializer:json"`
}

// ExplanationRecord is one tutor output
type ExplanationRecord struct {
	models.Base
	AttemptID string                 `gorm:"index;size:36"`
	UserID    string                 `gorm:"index;size:36"`
	Output    *agents.ExplanationSet `gorm:"serializer:json"`
}

// RoadmapRecord is one strategist output; the newest per user is the
// previous roadmap for the next run
type RoadmapRecord struct {
	models.Base
	AttemptID   string          `gorm:"index;size:36"`
	UserID      string          `gorm:"index:idx_roadmap_user_generated;size:36"`
	GeneratedAt time.Time       `gorm:"index:idx_roadmap_user_generated"`
	Output      *agents.Roadmap `gorm:"serializer:json"`
}

// AttemptAnalysis is the combined analysis embedded alongside an attempt
type AttemptAnalysis struct {
	AttemptID string           `gorm:"primaryKey;size:36"`
	Analysis  *agents.Analysis `gorm:"serializer:json"`
	UpdatedAt time.Time
}
