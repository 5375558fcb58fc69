package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

type VocabularyItem struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	Word           string         `json:"word" db:"word"`
	Meanings       types.JSONText `json:"meanings" db:"meanings"`
	Example        string         `json:"example" db:"example"`
	AudioURL       string         `json:"audio_url" db:"audio_url"`
	Tags           pq.StringArray `json:"tags" db:"tags"`
	IsMastered     bool           `json:"is_mastered" db:"is_mastered"`
	ReviewCount    int            `json:"review_count" db:"review_count"`
	LastReviewedAt *time.Time     `json:"last_reviewed_at,omitempty" db:"last_reviewed_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

type PracticeRecord struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Part            string    `json:"part" db:"part"`
	TotalQuestions  int       `json:"total_questions" db:"total_questions"`
	CorrectAnswers  int       `json:"correct_answers" db:"correct_answers"`
	AIQuestions     int       `json:"ai_questions" db:"ai_questions"`
	BankQuestions   int       `json:"bank_questions" db:"bank_questions"`
	Score           int       `json:"score" db:"score"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
