package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/journal/internal/domain"
)

const contentColumns = `id, title, body, latest_emotion_analysis_id, latest_category_analysis_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*domain.Content, error) {
	var (
		c                  domain.Content
		emotion, category  sql.NullString
		createdAt, updated int64
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Body, &emotion, &category, &createdAt, &updated); err != nil {
		return nil, err
	}
	c.LatestEmotionAnalysisID = nullString(emotion)
	c.LatestCategoryAnalysisID = nullString(category)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// AddContent creates a new content and returns it
func (s *Store) AddContent(ctx context.Context, title, body string) (*domain.Content, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO contents (id, title, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		id, title, body, millis(now), millis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert content: %w", err)
	}

	return &domain.Content{
		ID:        id,
		Title:     title,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetContent retrieves a content by ID with its tags
func (s *Store) GetContent(ctx context.Context, id string) (*domain.Content, error) {
	c, err := scanContent(s.db.QueryRowContext(ctx,
		"SELECT "+contentColumns+" FROM contents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}

	tags, err := s.ContentTags(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Tags = tags

	return c, nil
}

// UpdateContent rewrites title and body. changed is false when both were already equal.
func (s *Store) UpdateContent(ctx context.Context, id, title, body string) (c *domain.Content, changed bool, err error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE contents SET title = ?, body = ?, updated_at = ? WHERE id = ? AND (title != ? OR body != ?)",
		title, body, millis(time.Now()), id, title, body,
	)
	if err != nil {
		return nil, false, fmt.Errorf("update content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("update content: %w", err)
	}

	c, err = s.GetContent(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return c, n > 0, nil
}

// DeleteContent removes a content; analyses and tag links cascade
func (s *Store) DeleteContent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM contents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListContents returns recent contents with pagination
func (s *Store) ListContents(ctx context.Context, limit, offset int) ([]domain.Content, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+contentColumns+" FROM contents ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()

	var contents []domain.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		contents = append(contents, *c)
	}

	return contents, rows.Err()
}
