package store

import (
	"context"
	"fmt"
	"strings"

	"toeicprep/models"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

const vocabularyColumns = `id, user_id, word, meanings, example, audio_url, tags, is_mastered,
	review_count, last_reviewed_at, created_at, updated_at`

type VocabularyFilter struct {
	Mastered *bool
	Tag      string
	Search   string
	Limit    int
	Offset   int
}

// ListVocabulary returns one page of the user's items plus the total number
// of items matching the filter.
func (s *Store) ListVocabulary(ctx context.Context, userID string, f VocabularyFilter) ([]models.VocabularyItem, int, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	if f.Mastered != nil {
		args = append(args, *f.Mastered)
		where = append(where, fmt.Sprintf("is_mastered = $%d", len(args)))
	}
	if f.Tag != "" {
		args = append(args, f.Tag)
		where = append(where, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("word ILIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM vocabulary_items WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count vocabulary: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	items := []models.VocabularyItem{}
	err := s.db.SelectContext(ctx, &items, fmt.Sprintf(`
		SELECT %s
		FROM vocabulary_items
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, vocabularyColumns, cond, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list vocabulary: %w", err)
	}
	return items, total, nil
}

func (s *Store) GetVocabulary(ctx context.Context, userID, id string) (models.VocabularyItem, error) {
	var item models.VocabularyItem
	err := s.db.GetContext(ctx, &item, `
		SELECT `+vocabularyColumns+` FROM vocabulary_items WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return item, notFound(err)
}

func (s *Store) CreateVocabulary(ctx context.Context, item models.VocabularyItem) (models.VocabularyItem, error) {
	var created models.VocabularyItem
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO vocabulary_items (user_id, word, meanings, example, audio_url, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+vocabularyColumns,
		item.UserID, item.Word, jsonOrEmptyList(item.Meanings), item.Example, item.AudioURL, tagsOrEmpty(item.Tags),
	)
	if isUniqueViolation(err) {
		return models.VocabularyItem{}, ErrDuplicate
	}
	if err != nil {
		return models.VocabularyItem{}, fmt.Errorf("create vocabulary: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateVocabulary(ctx context.Context, item models.VocabularyItem) (models.VocabularyItem, error) {
	var updated models.VocabularyItem
	err := s.db.GetContext(ctx, &updated, `
		UPDATE vocabulary_items
		SET word = $3, meanings = $4, example = $5, audio_url = $6, tags = $7,
		    is_mastered = $8, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+vocabularyColumns,
		item.ID, item.UserID, item.Word, jsonOrEmptyList(item.Meanings), item.Example, item.AudioURL,
		tagsOrEmpty(item.Tags), item.IsMastered,
	)
	if isUniqueViolation(err) {
		return models.VocabularyItem{}, ErrDuplicate
	}
	return updated, notFound(err)
}

func (s *Store) DeleteVocabulary(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vocabulary_items WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete vocabulary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReviewVocabulary counts one review. A nil mastered leaves the flag as is.
func (s *Store) ReviewVocabulary(ctx context.Context, userID, id string, mastered *bool) (models.VocabularyItem, error) {
	var item models.VocabularyItem
	err := s.db.GetContext(ctx, &item, `
		UPDATE vocabulary_items
		SET review_count = review_count + 1,
		    last_reviewed_at = NOW(),
		    is_mastered = COALESCE($3, is_mastered),
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+vocabularyColumns,
		id, userID, mastered,
	)
	return item, notFound(err)
}

func (s *Store) SetEnrichment(ctx context.Context, userID, id string, meanings types.JSONText, example string) (models.VocabularyItem, error) {
	var item models.VocabularyItem
	err := s.db.GetContext(ctx, &item, `
		UPDATE vocabulary_items
		SET meanings = $3,
		    example = CASE WHEN $4 = '' THEN example ELSE $4 END,
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+vocabularyColumns,
		id, userID, jsonOrEmptyList(meanings), example,
	)
	return item, notFound(err)
}

// ImportVocabulary inserts items in one transaction. Words the user already
// has are skipped, not overwritten.
func (s *Store) ImportVocabulary(ctx context.Context, userID string, items []models.VocabularyItem) (inserted, skipped int, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, item := range items {
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO vocabulary_items (user_id, word, meanings, example, tags)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, word) DO NOTHING`,
			userID, item.Word, jsonOrEmptyList(item.Meanings), item.Example, tagsOrEmpty(item.Tags),
		)
		if execErr != nil {
			return 0, 0, fmt.Errorf("import %q: %w", item.Word, execErr)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			skipped++
		} else {
			inserted++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit import: %w", err)
	}
	return inserted, skipped, nil
}

func jsonOrEmptyList(j types.JSONText) types.JSONText {
	if len(j) == 0 {
		return types.JSONText("[]")
	}
	return j
}

func tagsOrEmpty(tags pq.StringArray) pq.StringArray {
	if tags == nil {
		return pq.StringArray{}
	}
	return tags
}
