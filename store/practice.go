package store

import (
	"context"
	"fmt"

	"toeicprep/models"
)

const practiceColumns = `id, user_id, part, total_questions, correct_answers, ai_questions,
	bank_questions, score, duration_seconds, created_at`

func (s *Store) CreatePracticeRecord(ctx context.Context, r models.PracticeRecord) (models.PracticeRecord, error) {
	var created models.PracticeRecord
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO practice_records (user_id, part, total_questions, correct_answers,
			ai_questions, bank_questions, score, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+practiceColumns,
		r.UserID, r.Part, r.TotalQuestions, r.CorrectAnswers,
		r.AIQuestions, r.BankQuestions, r.Score, r.DurationSeconds,
	)
	if err != nil {
		return models.PracticeRecord{}, fmt.Errorf("create practice record: %w", err)
	}
	return created, nil
}

func (s *Store) ListPracticeRecords(ctx context.Context, userID, part string, limit, offset int) ([]models.PracticeRecord, error) {
	records := []models.PracticeRecord{}
	err := s.db.SelectContext(ctx, &records, `
		SELECT `+practiceColumns+`
		FROM practice_records
		WHERE user_id = $1 AND ($2 = '' OR part = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		userID, part, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list practice records: %w", err)
	}
	return records, nil
}

type PartStats struct {
	Part           string  `json:"part" db:"part"`
	Sessions       int     `json:"sessions" db:"sessions"`
	TotalQuestions int     `json:"total_questions" db:"total_questions"`
	CorrectAnswers int     `json:"correct_answers" db:"correct_answers"`
	AverageScore   float64 `json:"average_score" db:"average_score"`
}

type PracticeStats struct {
	Sessions       int         `json:"sessions" db:"sessions"`
	TotalQuestions int         `json:"total_questions" db:"total_questions"`
	CorrectAnswers int         `json:"correct_answers" db:"correct_answers"`
	AverageScore   float64     `json:"average_score" db:"average_score"`
	BestScore      int         `json:"best_score" db:"best_score"`
	TotalSeconds   int         `json:"total_seconds" db:"total_seconds"`
	Accuracy       float64     `json:"accuracy" db:"-"`
	Parts          []PartStats `json:"parts" db:"-"`
}

func (s *Store) PracticeStats(ctx context.Context, userID string) (PracticeStats, error) {
	var stats PracticeStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT COUNT(*) AS sessions,
		       COALESCE(SUM(total_questions), 0) AS total_questions,
		       COALESCE(SUM(correct_answers), 0) AS correct_answers,
		       COALESCE(AVG(score), 0)::float8 AS average_score,
		       COALESCE(MAX(score), 0) AS best_score,
		       COALESCE(SUM(duration_seconds), 0) AS total_seconds
		FROM practice_records
		WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return PracticeStats{}, fmt.Errorf("practice totals: %w", err)
	}

	stats.Parts = []PartStats{}
	if stats.Sessions == 0 {
		return stats, nil
	}
	if stats.TotalQuestions > 0 {
		stats.Accuracy = float64(stats.CorrectAnswers) / float64(stats.TotalQuestions) * 100
	}

	err = s.db.SelectContext(ctx, &stats.Parts, `
		SELECT part,
		       COUNT(*) AS sessions,
		       SUM(total_questions) AS total_questions,
		       SUM(correct_answers) AS correct_answers,
		       AVG(score)::float8 AS average_score
		FROM practice_records
		WHERE user_id = $1
		GROUP BY part
		ORDER BY part`,
		userID,
	)
	if err != nil {
		return PracticeStats{}, fmt.Errorf("practice stats by part: %w", err)
	}
	return stats, nil
}
