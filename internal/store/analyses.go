package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/pbaille/journal/internal/domain"
)

// RecordAnalysis inserts both analysis rows and points the content at them
// in one transaction. Either all three writes commit or none do.
func (s *Store) RecordAnalysis(ctx context.Context, emotion *domain.EmotionAnalysis, category *domain.CategoryAnalysis) error {
	scoreMap, err := json.Marshal(emotion.ScoreMap)
	if err != nil {
		return fmt.Errorf("encode score map: %w", err)
	}
	categoryScores, err := json.Marshal(category.CategoryScores)
	if err != nil {
		return fmt.Errorf("encode category scores: %w", err)
	}
	subcategories := category.Subcategories
	if subcategories == nil {
		subcategories = []string{}
	}
	subs, err := json.Marshal(subcategories)
	if err != nil {
		return fmt.Errorf("encode subcategories: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer rollback(tx)

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM contents WHERE id = ?", emotion.ContentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check content: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO emotion_analyses
			(id, content_id, model_name, model_version, score_map, top_label, run_duration_ms, analyzed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		emotion.ID, emotion.ContentID, emotion.ModelName, emotion.ModelVersion, string(scoreMap),
		emotion.TopLabel, emotion.RunDuration, millis(emotion.AnalyzedAt), millis(emotion.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert emotion analysis: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO category_analyses
			(id, content_id, model_name, model_version, category_scores, primary_category, confidence,
			 subcategories, run_duration_ms, analyzed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		category.ID, category.ContentID, category.ModelName, category.ModelVersion, string(categoryScores),
		category.PrimaryCategory, category.Confidence, string(subs), category.RunDuration,
		millis(category.AnalyzedAt), millis(category.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert category analysis: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE contents SET latest_emotion_analysis_id = ?, latest_category_analysis_id = ? WHERE id = ?",
		emotion.ID, category.ID, emotion.ContentID,
	)
	if err != nil {
		return fmt.Errorf("update latest pointers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

const emotionColumns = `id, content_id, model_name, model_version, score_map, top_label, run_duration_ms, analyzed_at, created_at`

func scanEmotion(row rowScanner) (*domain.EmotionAnalysis, error) {
	var (
		a                     domain.EmotionAnalysis
		scoreMap              string
		run                   sql.NullFloat64
		analyzedAt, createdAt int64
	)
	if err := row.Scan(&a.ID, &a.ContentID, &a.ModelName, &a.ModelVersion, &scoreMap, &a.TopLabel, &run, &analyzedAt, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scoreMap), &a.ScoreMap); err != nil {
		return nil, fmt.Errorf("decode score map: %w", err)
	}
	a.RunDuration = nullFloat(run)
	a.AnalyzedAt = fromMillis(analyzedAt)
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

const categoryColumns = `id, content_id, model_name, model_version, category_scores, primary_category, confidence, subcategories, run_duration_ms, analyzed_at, created_at`

func scanCategory(row rowScanner) (*domain.CategoryAnalysis, error) {
	var (
		a                     domain.CategoryAnalysis
		scores, subs          string
		run                   sql.NullFloat64
		analyzedAt, createdAt int64
	)
	if err := row.Scan(&a.ID, &a.ContentID, &a.ModelName, &a.ModelVersion, &scores, &a.PrimaryCategory,
		&a.Confidence, &subs, &run, &analyzedAt, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scores), &a.CategoryScores); err != nil {
		return nil, fmt.Errorf("decode category scores: %w", err)
	}
	if err := json.Unmarshal([]byte(subs), &a.Subcategories); err != nil {
		return nil, fmt.Errorf("decode subcategories: %w", err)
	}
	a.RunDuration = nullFloat(run)
	a.AnalyzedAt = fromMillis(analyzedAt)
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

// GetEmotionAnalysis loads one emotion analysis, discarded or not
func (s *Store) GetEmotionAnalysis(ctx context.Context, id string) (*domain.EmotionAnalysis, error) {
	a, err := scanEmotion(s.db.QueryRowContext(ctx, "SELECT "+emotionColumns+" FROM emotion_analyses WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get emotion analysis: %w", err)
	}
	return a, nil
}

// GetCategoryAnalysis loads one category analysis, discarded or not
func (s *Store) GetCategoryAnalysis(ctx context.Context, id string) (*domain.CategoryAnalysis, error) {
	a, err := scanCategory(s.db.QueryRowContext(ctx, "SELECT "+categoryColumns+" FROM category_analyses WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get category analysis: %w", err)
	}
	return a, nil
}

// EmotionHistory lists non-discarded emotion analyses, newest first
func (s *Store) EmotionHistory(ctx context.Context, contentID string) ([]domain.EmotionAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+emotionColumns+` FROM emotion_analyses
		WHERE content_id = ? AND discarded_at IS NULL ORDER BY created_at DESC, rowid DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list emotion analyses: %w", err)
	}
	defer rows.Close()

	var out []domain.EmotionAnalysis
	for rows.Next() {
		a, err := scanEmotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emotion analysis: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CategoryHistory lists non-discarded category analyses, newest first
func (s *Store) CategoryHistory(ctx context.Context, contentID string) ([]domain.CategoryAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+categoryColumns+` FROM category_analyses
		WHERE content_id = ? AND discarded_at IS NULL ORDER BY created_at DESC, rowid DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list category analyses: %w", err)
	}
	defer rows.Close()

	var out []domain.CategoryAnalysis
	for rows.Next() {
		a, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category analysis: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DiscardAnalysis soft-deletes an analysis row of either kind.
// Latest pointers are left alone; discarding only hides history.
func (s *Store) DiscardAnalysis(ctx context.Context, contentID, analysisID string) error {
	now := millis(time.Now())
	var total int64
	for _, table := range []string{"emotion_analyses", "category_analyses"} {
		res, err := s.db.ExecContext(ctx,
			"UPDATE "+table+" SET discarded_at = ? WHERE id = ? AND content_id = ? AND discarded_at IS NULL",
			now, analysisID, contentID,
		)
		if err != nil {
			return fmt.Errorf("discard analysis: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("discard analysis: %w", err)
		}
		total += n
	}
	if total == 0 {
		return ErrNotFound
	}
	return nil
}

// Insights counts contents and the labels of their latest analyses
func (s *Store) Insights(ctx context.Context) (*domain.Insights, error) {
	in := &domain.Insights{Moods: map[string]int{}, Categories: map[string]int{}}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN latest_emotion_analysis_id IS NOT NULL AND latest_category_analysis_id IS NOT NULL THEN 1 END)
		FROM contents`).Scan(&in.Contents, &in.Analyzed)
	if err != nil {
		return nil, fmt.Errorf("count contents: %w", err)
	}

	if err := s.countInto(ctx, in.Moods, `
		SELECT e.top_label, COUNT(*) FROM contents c
		JOIN emotion_analyses e ON e.id = c.latest_emotion_analysis_id
		GROUP BY e.top_label`); err != nil {
		return nil, fmt.Errorf("count moods: %w", err)
	}
	if err := s.countInto(ctx, in.Categories, `
		SELECT a.primary_category, COUNT(*) FROM contents c
		JOIN category_analyses a ON a.id = c.latest_category_analysis_id
		GROUP BY a.primary_category`); err != nil {
		return nil, fmt.Errorf("count categories: %w", err)
	}

	return in, nil
}

func (s *Store) countInto(ctx context.Context, dst map[string]int, query string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return err
		}
		dst[label] = n
	}
	return rows.Err()
}
